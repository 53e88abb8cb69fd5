package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/OmGuptaIND/screenrec/pkg"
)

var ErrInvalidKey = errors.New("invalid artifact key")

// LocalClient keeps artifacts in a directory when no bucket is configured.
type LocalClient struct {
	dir string
}

func NewLocalClient(dir string) (CloudClient, error) {
	if err := pkg.CreateDirectory(dir); err != nil {
		return nil, err
	}

	return &LocalClient{dir: dir}, nil
}

func (l *LocalClient) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)

	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(l.dir, clean), nil
}

// UploadArtifact writes body to dir/key and returns the file path.
func (l *LocalClient) UploadArtifact(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	path, err := l.path(key)
	if err != nil {
		return "", err
	}

	if err := pkg.CreateDirectory(filepath.Dir(path)); err != nil {
		return "", err
	}

	tmp := path + ".part"

	file, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}

	return path, nil
}

func (l *LocalClient) DownloadArtifact(ctx context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

func (l *LocalClient) Remote() bool { return false }
