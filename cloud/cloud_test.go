package cloud

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalClientRoundTrip(t *testing.T) {
	dir := t.TempDir()

	client, err := NewLocalClient(dir)
	require.NoError(t, err)
	assert.False(t, client.Remote())

	ref, err := client.UploadArtifact(context.Background(), "tutorials/1715776200000.webm", strings.NewReader("webm bytes"), "video/webm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tutorials", "1715776200000.webm"), ref)

	data, err := client.DownloadArtifact(context.Background(), "tutorials/1715776200000.webm")
	require.NoError(t, err)
	assert.Equal(t, "webm bytes", string(data))

	_, err = os.Stat(ref + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestLocalClientRejectsTraversal(t *testing.T) {
	client, err := NewLocalClient(t.TempDir())
	require.NoError(t, err)

	_, err = client.UploadArtifact(context.Background(), "../escape.webm", strings.NewReader("x"), "video/webm")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = client.DownloadArtifact(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewAwsClientRequiresBucket(t *testing.T) {
	_, err := NewAwsClient(AwsClientOptions{})
	assert.Error(t, err)

	client, err := NewAwsClient(AwsClientOptions{
		BucketName: "tutorials",
		Endpoint:   "http://127.0.0.1:9000",
		Region:     "us-east-1",
		KeyId:      "key",
		AppKey:     "secret",
	})
	require.NoError(t, err)
	assert.True(t, client.Remote())
}
