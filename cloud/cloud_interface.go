package cloud

import (
	"context"
	"io"
)

// CloudClient stores recording artifacts.
type CloudClient interface {
	// UploadArtifact stores body under key and returns a reference to the stored object.
	UploadArtifact(ctx context.Context, key string, body io.Reader, contentType string) (string, error)

	// DownloadArtifact returns the bytes stored under key.
	DownloadArtifact(ctx context.Context, key string) ([]byte, error)

	// Remote reports whether artifacts leave the machine.
	Remote() bool
}
