package capture

import (
	"github.com/google/uuid"
)

type Kind string

const (
	KindScreen Kind = "screen"
	KindWebcam Kind = "webcam"
)

// Source is one acquired capture input with its optional video and audio tracks.
type Source struct {
	ID    string
	Kind  Kind
	Video *Track
	Audio *Track
}

// NewSource groups the tracks of one capture input.
func NewSource(kind Kind, video, audio *Track) *Source {
	return &Source{
		ID:    uuid.New().String(),
		Kind:  kind,
		Video: video,
		Audio: audio,
	}
}

// Tracks returns the non-nil tracks of the source.
func (s *Source) Tracks() []*Track {
	tracks := make([]*Track, 0, 2)

	if s.Video != nil {
		tracks = append(tracks, s.Video)
	}

	if s.Audio != nil {
		tracks = append(tracks, s.Audio)
	}

	return tracks
}

// Live reports whether any track of the source is still live.
func (s *Source) Live() bool {
	for _, t := range s.Tracks() {
		if t.Live() {
			return true
		}
	}

	return false
}

// Release stops every track. Tracks guard against double release themselves.
func (s *Source) Release() {
	if s == nil {
		return
	}

	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Stream returns the source as a recordable stream.
func (s *Source) Stream() *Stream {
	stream := &Stream{Video: s.Video}

	if s.Audio != nil {
		stream.Audio = append(stream.Audio, s.Audio)
	}

	return stream
}

// Stream is a recordable set of tracks: at most one video track and any number of audio
// tracks.
type Stream struct {
	Video *Track
	Audio []*Track
}

// FrameRate returns the video frame rate, falling back to def when unknown.
func (s *Stream) FrameRate(def int) int {
	if s.Video != nil && s.Video.Settings().FrameRate > 0 {
		return s.Video.Settings().FrameRate
	}

	return def
}
