package recorder

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	out      io.Writer
	trailer  []string
	closeErr error

	frames atomic.Int32
	audio  atomic.Int32
	closes atomic.Int32
	ended  atomic.Int32
}

func (s *fakeSink) WriteVideo(frame image.Image) error {
	s.frames.Add(1)
	return nil
}

func (s *fakeSink) WriteAudio(track int, pcm []byte) error {
	s.audio.Add(1)
	return nil
}

func (s *fakeSink) EndAudio(track int) error {
	s.ended.Add(1)
	return nil
}

func (s *fakeSink) Close() error {
	s.closes.Add(1)

	for _, chunk := range s.trailer {
		if _, err := s.out.Write([]byte(chunk)); err != nil {
			return err
		}
	}

	return s.closeErr
}

type fakeEncoder struct {
	mtx      sync.Mutex
	spec     Spec
	sink     *fakeSink
	trailer  []string
	closeErr error
	openErr  error
}

func (e *fakeEncoder) Open(ctx context.Context, spec Spec, out io.Writer) (Sink, error) {
	if e.openErr != nil {
		return nil, e.openErr
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()

	if _, err := out.Write([]byte("header")); err != nil {
		return nil, err
	}

	e.spec = spec
	e.sink = &fakeSink{out: out, trailer: e.trailer, closeErr: e.closeErr}

	return e.sink, nil
}

func newTestStream(withAudio bool) (*capture.Stream, *capture.Track) {
	video := capture.NewVideoTrack("screen", capture.Settings{Width: 8, Height: 6, FrameRate: 50}, nil)
	video.Publish(image.NewNRGBA(image.Rect(0, 0, 8, 6)))

	stream := &capture.Stream{Video: video}

	var audio *capture.Track
	if withAudio {
		audio = capture.NewAudioTrack("mic", capture.Settings{SampleRate: 48000, Channels: 2}, nil)
		stream.Audio = append(stream.Audio, audio)
	}

	return stream, audio
}

func collect(t *testing.T, events <-chan Event) ([]string, []Event) {
	t.Helper()

	var data []string
	var stopped []Event

	timeout := time.After(5 * time.Second)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return data, stopped
			}

			switch ev.Kind {
			case EventData:
				require.Empty(t, stopped, "data after the stopped event")
				data = append(data, string(ev.Data))
			case EventStopped:
				stopped = append(stopped, ev)
			}
		case <-timeout:
			t.Fatal("events channel was not closed")
		}
	}
}

func TestRecorderDeliversOrderedChunks(t *testing.T) {
	stream, _ := newTestStream(false)
	enc := &fakeEncoder{trailer: []string{"a", "b", "c"}}

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc})

	require.NoError(t, rec.Start(context.Background()))
	assert.Equal(t, StateRecording, rec.State())

	assert.Eventually(t, func() bool { return enc.sink.frames.Load() > 0 }, 2*time.Second, 10*time.Millisecond)

	rec.Stop()

	data, stopped := collect(t, rec.Events())

	assert.Equal(t, []string{"header", "a", "b", "c"}, data)
	require.Len(t, stopped, 1)
	assert.NoError(t, stopped[0].Err)
	assert.Equal(t, StateInactive, rec.State())
}

func TestRecorderSpecFromStream(t *testing.T) {
	stream, _ := newTestStream(true)
	enc := &fakeEncoder{}

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc})
	require.NoError(t, rec.Start(context.Background()))

	assert.Equal(t, 8, enc.spec.Width)
	assert.Equal(t, 6, enc.spec.Height)
	assert.Equal(t, 50, enc.spec.FrameRate)
	assert.Equal(t, 1, enc.spec.AudioTracks)
	assert.Equal(t, "video/webm", enc.spec.MimeType)

	rec.Stop()
	collect(t, rec.Events())
}

func TestRecorderSpecFallsBackToDefaultSize(t *testing.T) {
	video := capture.NewVideoTrack("screen", capture.Settings{}, nil)
	enc := &fakeEncoder{}

	rec := NewRecorder(&capture.Stream{Video: video}, NewRecorderOptions{Encoder: enc})
	require.NoError(t, rec.Start(context.Background()))

	assert.Equal(t, 1920, enc.spec.Width)
	assert.Equal(t, 1080, enc.spec.Height)
	assert.Equal(t, 30, enc.spec.FrameRate)

	rec.Stop()
	collect(t, rec.Events())
}

func TestRecorderStopIsIdempotent(t *testing.T) {
	stream, _ := newTestStream(false)
	enc := &fakeEncoder{}

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc})
	require.NoError(t, rec.Start(context.Background()))

	rec.Stop()
	rec.Stop()

	_, stopped := collect(t, rec.Events())

	rec.Stop()

	assert.Len(t, stopped, 1)
	assert.Equal(t, int32(1), enc.sink.closes.Load())
}

func TestRecorderStopBeforeStartIsNoop(t *testing.T) {
	stream, _ := newTestStream(false)

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: &fakeEncoder{}})
	rec.Stop()

	select {
	case <-rec.Events():
		t.Fatal("inactive recorder emitted an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecorderStartTwice(t *testing.T) {
	stream, _ := newTestStream(false)

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: &fakeEncoder{}})
	require.NoError(t, rec.Start(context.Background()))

	assert.ErrorIs(t, rec.Start(context.Background()), ErrAlreadyStarted)

	rec.Stop()
	collect(t, rec.Events())
}

func TestRecorderOpenFailure(t *testing.T) {
	stream, _ := newTestStream(false)

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: &fakeEncoder{openErr: errors.New("no ffmpeg")}})

	assert.Error(t, rec.Start(context.Background()))
	assert.Equal(t, StateInactive, rec.State())
}

func TestRecorderPauseDropsMedia(t *testing.T) {
	stream, audio := newTestStream(true)
	enc := &fakeEncoder{}

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc})
	require.NoError(t, rec.Start(context.Background()))

	assert.True(t, rec.Pause())
	assert.False(t, rec.Pause(), "already paused")
	assert.Equal(t, StatePaused, rec.State())

	frames := enc.sink.frames.Load()

	for i := 0; i < 4; i++ {
		audio.PushSamples([]byte{1, 2, 3, 4})
	}

	time.Sleep(150 * time.Millisecond)

	assert.LessOrEqual(t, enc.sink.frames.Load(), frames+1, "at most one in-flight frame after pause")
	assert.Equal(t, int32(0), enc.sink.audio.Load())

	assert.True(t, rec.Resume())
	assert.False(t, rec.Resume(), "not paused")

	audio.PushSamples([]byte{5, 6, 7, 8})

	assert.Eventually(t, func() bool { return enc.sink.audio.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return enc.sink.frames.Load() > frames+1 }, 2*time.Second, 10*time.Millisecond)

	rec.Stop()
	collect(t, rec.Events())
}

func TestRecorderStopCarriesFinalizationError(t *testing.T) {
	stream, _ := newTestStream(false)
	closeErr := errors.New("trailer write failed")
	enc := &fakeEncoder{trailer: []string{"partial"}, closeErr: closeErr}

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc})
	require.NoError(t, rec.Start(context.Background()))

	rec.Stop()

	data, stopped := collect(t, rec.Events())

	assert.Equal(t, []string{"header", "partial"}, data)
	require.Len(t, stopped, 1)
	assert.ErrorIs(t, stopped[0].Err, closeErr)
}

func TestRecorderEndsAudioInputWhenTrackEnds(t *testing.T) {
	stream, audio := newTestStream(true)
	enc := &fakeEncoder{}

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc})
	require.NoError(t, rec.Start(context.Background()))

	audio.End()

	assert.Eventually(t, func() bool { return enc.sink.ended.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec.Stop()
	collect(t, rec.Events())
}

// stalledFFmpeg is an ffmpeg stand-in that never reads its inputs nor exits.
func stalledFFmpeg(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	return path
}

func TestRecorderStopWithStalledEncoder(t *testing.T) {
	video := capture.NewVideoTrack("screen", capture.Settings{Width: 640, Height: 480, FrameRate: 50}, nil)
	video.Publish(image.NewNRGBA(image.Rect(0, 0, 640, 480)))

	audio := capture.NewAudioTrack("mic", capture.Settings{SampleRate: 48000, Channels: 2}, nil)

	stream := &capture.Stream{Video: video, Audio: []*capture.Track{audio}}

	enc := NewFFmpegEncoder(FFmpegEncoderOptions{
		FFmpegPath:  stalledFFmpeg(t),
		StopTimeout: 200 * time.Millisecond,
	})

	rec := NewRecorder(stream, NewRecorderOptions{Encoder: enc, DrainTimeout: 100 * time.Millisecond})
	require.NoError(t, rec.Start(context.Background()))

	// Fill the pipes so both pumps block on writes.
	for i := 0; i < 8; i++ {
		audio.PushSamples(make([]byte, 64*1024))
	}

	time.Sleep(300 * time.Millisecond)

	start := time.Now()
	rec.Stop()

	_, stopped := collect(t, rec.Events())

	require.Len(t, stopped, 1)
	assert.Error(t, stopped[0].Err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestFFmpegEncoderArgs(t *testing.T) {
	enc := NewFFmpegEncoder(FFmpegEncoderOptions{})

	args := enc.Args(Spec{Width: 1280, Height: 720, FrameRate: 30, AudioTracks: 2, SampleRate: 48000, Channels: 2})

	assert.Contains(t, args, "1280x720")
	assert.Contains(t, args, "pipe:0")
	assert.Contains(t, args, "pipe:3")
	assert.Contains(t, args, "pipe:4")
	assert.Contains(t, args, "[1:a][2:a]amix=inputs=2:duration=longest:dropout_transition=0[a]")
	assert.Contains(t, args, "libopus")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	silent := enc.Args(Spec{Width: 640, Height: 480, FrameRate: 30})

	assert.NotContains(t, silent, "libopus")
	assert.NotContains(t, silent, "pipe:3")
}

func TestNormalize(t *testing.T) {
	exact := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	assert.Same(t, exact, normalize(exact, 4, 3))

	rgba := image.NewRGBA(image.Rect(0, 0, 4, 3))
	out := normalize(rgba, 4, 3)
	assert.Equal(t, 4*3*4, len(out.Pix))

	scaled := normalize(image.NewNRGBA(image.Rect(0, 0, 16, 12)), 4, 3)
	assert.Equal(t, 4, scaled.Bounds().Dx())
	assert.Equal(t, 3, scaled.Bounds().Dy())
}
