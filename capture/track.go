package capture

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Settings are the properties a track reports about its media. Zero means unknown.
type Settings struct {
	Width     int `json:"width,omitempty"`
	Height    int `json:"height,omitempty"`
	FrameRate int `json:"frame_rate,omitempty"`

	SampleRate int `json:"sample_rate,omitempty"`
	Channels   int `json:"channels,omitempty"`
}

const sampleBuffer = 64

// Track is one live media handle. Video tracks expose their latest frame, audio tracks an
// ordered feed of s16le PCM blocks.
type Track struct {
	ID    string
	Kind  TrackKind
	Label string

	settings Settings

	frameMtx sync.RWMutex
	frame    image.Image

	samples chan []byte

	live     atomic.Bool
	ended    chan struct{}
	endOnce  sync.Once
	stopOnce sync.Once
	release  func()
}

// NewVideoTrack creates a live video track. release is called once when the track is stopped.
func NewVideoTrack(label string, settings Settings, release func()) *Track {
	return newTrack(TrackVideo, label, settings, release)
}

// NewAudioTrack creates a live audio track. release is called once when the track is stopped.
func NewAudioTrack(label string, settings Settings, release func()) *Track {
	t := newTrack(TrackAudio, label, settings, release)
	t.samples = make(chan []byte, sampleBuffer)

	return t
}

func newTrack(kind TrackKind, label string, settings Settings, release func()) *Track {
	t := &Track{
		ID:       uuid.New().String(),
		Kind:     kind,
		Label:    label,
		settings: settings,
		ended:    make(chan struct{}),
		release:  release,
	}
	t.live.Store(true)

	return t
}

// Settings returns the reported media settings.
func (t *Track) Settings() Settings {
	return t.settings
}

// Live reports whether the track still produces media.
func (t *Track) Live() bool {
	return t.live.Load()
}

// Ended is closed once the track stops, either through Stop or because the source went away.
func (t *Track) Ended() <-chan struct{} {
	return t.ended
}

// Publish replaces the current frame of a live video track.
func (t *Track) Publish(frame image.Image) {
	if t.Kind != TrackVideo || !t.live.Load() {
		return
	}

	t.frameMtx.Lock()
	t.frame = frame
	t.frameMtx.Unlock()
}

// Frame returns the latest published frame, nil before the first one.
func (t *Track) Frame() image.Image {
	t.frameMtx.RLock()
	defer t.frameMtx.RUnlock()

	return t.frame
}

// PushSamples queues a PCM block on a live audio track. The block is dropped when the
// consumer lags behind.
func (t *Track) PushSamples(pcm []byte) bool {
	if t.Kind != TrackAudio || !t.live.Load() {
		return false
	}

	select {
	case t.samples <- pcm:
		return true
	default:
		return false
	}
}

// Samples delivers the PCM blocks in capture order. It is never closed, select on Ended.
func (t *Track) Samples() <-chan []byte {
	return t.samples
}

// End marks the track as ended by its source, e.g. the user stopped sharing the screen.
// The backend release still runs on Stop.
func (t *Track) End() {
	t.live.Store(false)
	t.endOnce.Do(func() { close(t.ended) })
}

// Stop releases the underlying device. Safe to call more than once.
func (t *Track) Stop() {
	t.stopOnce.Do(func() {
		t.live.Store(false)

		if t.release != nil {
			t.release()
		}

		t.endOnce.Do(func() { close(t.ended) })
	})
}
