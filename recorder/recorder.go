package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/OmGuptaIND/screenrec/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StateInactive  State = "inactive"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

type EventKind int

const (
	// EventData carries one chunk of the encoded container.
	EventData EventKind = iota
	// EventStopped is the last event of a recorder. Err holds the finalization error.
	EventStopped
)

type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

var ErrAlreadyStarted = errors.New("recorder already started")

type NewRecorderOptions struct {
	Encoder  Encoder
	MimeType string

	// DrainTimeout bounds how long Stop lets in-flight writes finish before the sink is
	// closed under them.
	DrainTimeout time.Duration

	Logger *zap.Logger
}

// Recorder encodes a capture stream into a container and delivers it as ordered chunk events.
type Recorder struct {
	ID string

	stream *capture.Stream

	mtx     sync.Mutex
	state   State
	started bool
	stopped bool

	events chan Event
	sink   Sink
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	logger   *zap.Logger

	NewRecorderOptions
}

// NewRecorder binds a recorder to a stream. Nothing is captured before Start.
func NewRecorder(stream *capture.Stream, opts NewRecorderOptions) *Recorder {
	if opts.MimeType == "" {
		opts.MimeType = config.ARTIFACT_MIME_TYPE
	}

	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = config.RECORDER_DRAIN_TIMEOUT
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.New().String()

	return &Recorder{
		ID:                 id,
		stream:             stream,
		state:              StateInactive,
		events:             make(chan Event, 64),
		logger:             logger.Named("recorder").With(zap.String("recorder_id", id)),
		NewRecorderOptions: opts,
	}
}

// Events delivers the data chunks in order, then one EventStopped, then closes.
func (r *Recorder) Events() <-chan Event {
	return r.events
}

// State returns the current recorder state.
func (r *Recorder) State() State {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.state
}

// Start opens the encoder and begins pumping the stream into it.
func (r *Recorder) Start(ctx context.Context) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.started {
		return ErrAlreadyStarted
	}

	if r.stream == nil || r.stream.Video == nil {
		return errors.New("stream has no video track")
	}

	if r.Encoder == nil {
		return errors.New("no encoder configured")
	}

	settings := r.stream.Video.Settings()

	spec := Spec{
		Width:       settings.Width,
		Height:      settings.Height,
		FrameRate:   r.stream.FrameRate(config.CAPTURE_FRAME_RATE),
		AudioTracks: len(r.stream.Audio),
		SampleRate:  config.AUDIO_SAMPLE_RATE,
		Channels:    config.AUDIO_CHANNELS,
		MimeType:    r.MimeType,
	}

	if spec.Width <= 0 || spec.Height <= 0 {
		spec.Width, spec.Height = config.DEFAULT_CANVAS_WIDTH, config.DEFAULT_CANVAS_HEIGHT
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sink, err := r.Encoder.Open(pumpCtx, spec, &chunkWriter{events: r.events})

	if err != nil {
		cancel()
		return fmt.Errorf("failed to open encoder: %w", err)
	}

	r.sink = sink
	r.cancel = cancel
	r.started = true
	r.state = StateRecording

	r.wg.Add(1)
	go r.pumpVideo(pumpCtx, spec.FrameRate)

	for i, track := range r.stream.Audio {
		r.wg.Add(1)
		go r.pumpAudio(pumpCtx, i, track)
	}

	r.logger.Info("recorder started",
		zap.Int("width", spec.Width),
		zap.Int("height", spec.Height),
		zap.Int("audio_tracks", spec.AudioTracks),
	)

	return nil
}

// Pause stops feeding media to the encoder. Returns false unless recording.
func (r *Recorder) Pause() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.state != StateRecording {
		return false
	}

	r.state = StatePaused
	return true
}

// Resume continues feeding media after Pause. Returns false unless paused.
func (r *Recorder) Resume() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if r.state != StatePaused {
		return false
	}

	r.state = StateRecording
	return true
}

// Stop finalizes the recording asynchronously; watch Events for EventStopped. Calling Stop
// on an inactive or already stopped recorder does nothing.
func (r *Recorder) Stop() {
	r.mtx.Lock()

	if !r.started || r.stopped {
		r.mtx.Unlock()
		return
	}

	r.stopped = true
	r.state = StateInactive
	r.mtx.Unlock()

	r.stopOnce.Do(func() {
		go r.finalize()
	})
}

func (r *Recorder) finalize() {
	r.logger.Info("stopping recorder")

	r.cancel()

	pumped := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(pumped)
	}()

	// A pump blocked on an encoder that stopped reading only returns once the sink closes.
	select {
	case <-pumped:
	case <-time.After(r.DrainTimeout):
		r.logger.Warn("encoder inputs still blocked, closing the sink under them")
	}

	err := r.sink.Close()

	<-pumped

	if err != nil {
		r.logger.Error("encoder finalization failed", zap.Error(err))
	}

	r.events <- Event{Kind: EventStopped, Err: err}
	close(r.events)

	r.logger.Info("recorder stopped")
}

func (r *Recorder) recording() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return r.state == StateRecording
}

// pumpVideo samples the latest frame of the video track at the frame rate.
func (r *Recorder) pumpVideo(ctx context.Context, frameRate int) {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(frameRate))
	defer ticker.Stop()

	var last image.Image

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.recording() {
				continue
			}

			frame := r.stream.Video.Frame()

			if frame == nil {
				frame = last
			}

			if frame == nil {
				continue
			}

			last = frame

			if err := r.sink.WriteVideo(frame); err != nil {
				r.logger.Warn("video write failed", zap.Error(err))
				return
			}
		}
	}
}

// pumpAudio forwards the PCM blocks of one audio track, dropping them while paused.
func (r *Recorder) pumpAudio(ctx context.Context, index int, track *capture.Track) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-track.Ended():
			r.endAudio(index)
			return
		case pcm := <-track.Samples():
			if !r.recording() {
				continue
			}

			if err := r.sink.WriteAudio(index, pcm); err != nil {
				r.logger.Warn("audio write failed", zap.Int("track", index), zap.Error(err))
				return
			}
		}
	}
}

// endAudio tells a sink that supports it that an audio input has no more samples.
func (r *Recorder) endAudio(index int) {
	ender, ok := r.sink.(AudioEnder)
	if !ok {
		return
	}

	if err := ender.EndAudio(index); err != nil {
		r.logger.Debug("failed to end audio input", zap.Int("track", index), zap.Error(err))
	}
}

// chunkWriter turns encoder output into ordered data events.
type chunkWriter struct {
	events chan<- Event
}

var _ io.Writer = (*chunkWriter)(nil)

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	chunk := make([]byte, len(p))
	copy(chunk, p)

	w.events <- Event{Kind: EventData, Data: chunk}

	return len(p), nil
}
