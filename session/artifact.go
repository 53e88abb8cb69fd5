package session

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/OmGuptaIND/screenrec/pkg"
)

// Artifact is the finalized recording. It is immutable: accessors hand out copies or readers.
type Artifact struct {
	data      []byte
	mimeType  string
	extension string
	createdAt time.Time
	duration  float64
	thumbnail image.Image
}

// NewArtifact copies data into a new artifact.
func NewArtifact(data []byte, mimeType, extension string, createdAt time.Time, duration float64, thumbnail image.Image) *Artifact {
	return &Artifact{
		data:      bytes.Clone(data),
		mimeType:  mimeType,
		extension: extension,
		createdAt: createdAt,
		duration:  duration,
		thumbnail: thumbnail,
	}
}

func (a *Artifact) Size() int { return len(a.data) }

func (a *Artifact) MimeType() string { return a.mimeType }

func (a *Artifact) Extension() string { return a.extension }

func (a *Artifact) CreatedAt() time.Time { return a.createdAt }

// Duration is the recorded time in seconds, pauses excluded.
func (a *Artifact) Duration() float64 { return a.duration }

// Thumbnail is the last frame seen before the recording stopped, nil if none was drawn.
func (a *Artifact) Thumbnail() image.Image { return a.thumbnail }

// Reader returns a reader over the artifact bytes.
func (a *Artifact) Reader() io.Reader {
	return bytes.NewReader(a.data)
}

// Bytes returns a copy of the artifact bytes.
func (a *Artifact) Bytes() []byte {
	return bytes.Clone(a.data)
}

// FileName is the download name, e.g. tutorial-2024-05-15.webm.
func (a *Artifact) FileName() string {
	return fmt.Sprintf("tutorial-%s.%s", pkg.ISODate(a.createdAt), a.extension)
}
