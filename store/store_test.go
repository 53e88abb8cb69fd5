package store

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecording struct {
	duration  float64
	thumbnail image.Image
}

func (f fakeRecording) Duration() float64 { return f.duration }

func (f fakeRecording) Thumbnail() image.Image { return f.thumbnail }

func (f fakeRecording) MimeType() string { return "video/webm" }

func (f fakeRecording) Size() int { return 2048 }

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now
	c.now = c.now.Add(time.Second)

	return now
}

func newTestRegistry(t *testing.T, now func() time.Time) *Registry {
	t.Helper()

	r, err := NewRegistry(context.Background(), RegistryOptions{
		Path: filepath.Join(t.TempDir(), "tutorials.db"),
		Now:  now,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	return r
}

func TestAddTutorial(t *testing.T) {
	created := time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return created })

	tut, err := r.AddTutorial(context.Background(), "How to create a workspace", fakeRecording{
		duration:  623.7,
		thumbnail: image.NewNRGBA(image.Rect(0, 0, 1280, 720)),
	})

	require.NoError(t, err)
	assert.Equal(t, "1715776200000", tut.ID)
	assert.Equal(t, "How to create a workspace", tut.Title)
	assert.Equal(t, "2024-05-15", tut.Date)
	assert.Equal(t, "10:23", tut.Duration)
	assert.Equal(t, UploadPending, tut.UploadStatus)
	assert.True(t, tut.HasThumbnail)

	got, err := r.GetTutorial(context.Background(), tut.ID)

	require.NoError(t, err)
	assert.Equal(t, tut, got)
}

func TestIDsStayUniqueWithinAMillisecond(t *testing.T) {
	created := time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC)
	r := newTestRegistry(t, func() time.Time { return created })

	first, err := r.AddTutorial(context.Background(), "one", fakeRecording{})
	require.NoError(t, err)

	second, err := r.AddTutorial(context.Background(), "two", fakeRecording{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestListTutorialsNewestFirst(t *testing.T) {
	clk := &steppingClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}
	r := newTestRegistry(t, clk.Now)

	for _, title := range []string{"Creating products", "Removing clients", "Notion workspace"} {
		_, err := r.AddTutorial(context.Background(), title, fakeRecording{duration: 5})
		require.NoError(t, err)
	}

	list, err := r.ListTutorials(context.Background())

	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Notion workspace", list[0].Title)
	assert.Equal(t, "Creating products", list[2].Title)
}

func TestListTutorialsEmpty(t *testing.T) {
	r := newTestRegistry(t, nil)

	list, err := r.ListTutorials(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestGetTutorialNotFound(t *testing.T) {
	r := newTestRegistry(t, nil)

	_, err := r.GetTutorial(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThumbnail(t *testing.T) {
	r := newTestRegistry(t, nil)

	withThumb, err := r.AddTutorial(context.Background(), "with", fakeRecording{
		thumbnail: image.NewNRGBA(image.Rect(0, 0, 640, 360)),
	})
	require.NoError(t, err)

	withoutThumb, err := r.AddTutorial(context.Background(), "without", fakeRecording{})
	require.NoError(t, err)
	assert.False(t, withoutThumb.HasThumbnail)

	data, err := r.Thumbnail(context.Background(), withThumb.ID)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())

	_, err = r.Thumbnail(context.Background(), withoutThumb.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetUpload(t *testing.T) {
	r := newTestRegistry(t, nil)

	tut, err := r.AddTutorial(context.Background(), "upload", fakeRecording{})
	require.NoError(t, err)

	require.NoError(t, r.SetUpload(context.Background(), tut.ID, "tutorials/upload.webm", UploadUploaded))

	got, err := r.GetTutorial(context.Background(), tut.ID)
	require.NoError(t, err)

	assert.Equal(t, "tutorials/upload.webm", got.ArtifactRef)
	assert.Equal(t, UploadUploaded, got.UploadStatus)

	assert.ErrorIs(t, r.SetUpload(context.Background(), "missing", "", UploadFailed), ErrNotFound)
}
