package cloud

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

type AwsClientOptions struct {
	BucketName string
	Endpoint   string
	Region     string
	KeyId      string
	AppKey     string

	Logger *zap.Logger
}

type AwsClient struct {
	bucketName string
	endpoint   string
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *zap.Logger
}

// NewAwsClient connects to an S3 compatible bucket. Uploads are streamed by the s3manager
// uploader, which switches to multipart uploads for large artifacts.
func NewAwsClient(opts AwsClientOptions) (CloudClient, error) {
	if opts.BucketName == "" {
		return nil, fmt.Errorf("no bucket configured")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bucketConfig := &aws.Config{
		Credentials:      credentials.NewStaticCredentials(opts.KeyId, opts.AppKey, ""),
		Endpoint:         aws.String(opts.Endpoint),
		Region:           aws.String(opts.Region),
		S3ForcePathStyle: aws.Bool(true),
		Retryer: client.DefaultRetryer{
			NumMaxRetries: 5,
			MinRetryDelay: 2 * time.Second,
			MaxRetryDelay: 30 * time.Second,
		},
	}

	awsSession, err := session.NewSession(bucketConfig)

	if err != nil {
		return nil, err
	}

	return &AwsClient{
		bucketName: opts.BucketName,
		endpoint:   opts.Endpoint,
		uploader:   s3manager.NewUploader(awsSession),
		downloader: s3manager.NewDownloader(awsSession),
		logger:     logger.Named("s3"),
	}, nil
}

// UploadArtifact streams body to the bucket and returns the object URL.
func (a *AwsClient) UploadArtifact(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	out, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Body:        body,
		Bucket:      aws.String(a.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})

	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.logger.Info("artifact uploaded", zap.String("key", key), zap.String("location", out.Location))

	if out.Location != "" {
		return out.Location, nil
	}

	return fmt.Sprintf("https://%s.%s/%s", a.bucketName, strings.TrimPrefix(a.endpoint, "https://"), key), nil
}

// DownloadArtifact fetches an object into memory.
func (a *AwsClient) DownloadArtifact(ctx context.Context, key string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)

	_, err := a.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(key),
	})

	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}

	return buf.Bytes(), nil
}

func (a *AwsClient) Remote() bool { return true }
