// Package session owns the recording lifecycle: acquiring the capture sources, compositing
// them, binding the result to a recorder and turning the recorded chunks into an artifact.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/OmGuptaIND/screenrec/clock"
	"github.com/OmGuptaIND/screenrec/compositor"
	"github.com/OmGuptaIND/screenrec/config"
	"github.com/OmGuptaIND/screenrec/metrics"
	"github.com/OmGuptaIND/screenrec/pkg"
	"github.com/OmGuptaIND/screenrec/recorder"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

var (
	// ErrFinalization means the recorder did not finish cleanly. The session is stopped and
	// the partial artifact is kept.
	ErrFinalization = errors.New("failed to finalize the recording")

	ErrNotActive       = errors.New("no active recording")
	ErrStartInProgress = errors.New("a recording is already being started")
	ErrStartCancelled  = errors.New("recording start was cancelled")
)

type Options struct {
	Acquirer capture.Acquirer
	Encoder  recorder.Encoder

	Compositor compositor.Options

	Clock     clock.Clock
	MimeType  string
	Extension string

	// FinalizeTimeout bounds how long Stop waits for the recorder to flush.
	FinalizeTimeout time.Duration

	Logger *zap.Logger
}

// Status is a point in time view of the session.
type Status struct {
	ID           string  `json:"id,omitempty"`
	State        State   `json:"state"`
	Elapsed      float64 `json:"elapsed"`
	ElapsedLabel string  `json:"elapsed_label"`
	Composited   bool    `json:"composited"`
	HasArtifact  bool    `json:"has_artifact"`
	ArtifactSize int     `json:"artifact_size,omitempty"`
}

// resources is everything a session owns while recording or paused.
type resources struct {
	screen    *capture.Source
	webcam    *capture.Source
	composite *compositor.Stream // nil when recording the raw screen stream
	recorder  *recorder.Recorder
	chunks    *assembler
	unwatch   chan struct{}
}

// Session is the recording state machine. All transitions are serialized.
type Session struct {
	mtx sync.Mutex

	id    string
	state State

	// res is set only in Recording and Paused, artifact only in Stopped.
	res         *resources
	artifact    *Artifact
	finalizeErr error

	tracker *clock.Tracker

	generation    uint64
	cancelAcquire context.CancelFunc

	opts   Options
	logger *zap.Logger
}

// New creates an idle session.
func New(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.System
	}

	if opts.MimeType == "" {
		opts.MimeType = config.ARTIFACT_MIME_TYPE
	}

	if opts.Extension == "" {
		opts.Extension = config.ARTIFACT_EXTENSION
	}

	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = config.FINALIZE_TIMEOUT
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.Named("session")

	if opts.Compositor.Logger == nil {
		opts.Compositor.Logger = logger
	}

	if opts.Compositor.OnFrame == nil {
		opts.Compositor.OnFrame = metrics.CompositorFramesTotal.Inc
	}

	return &Session{
		state: StateIdle,
		tracker: clock.NewTracker(clock.TrackerOptions{
			Clock:  opts.Clock,
			OnTick: metrics.SessionElapsedSeconds.Set,
		}),
		opts:   opts,
		logger: logger,
	}
}

// Start acquires the screen and the webcam and starts recording. A permission failure returns
// the session to Idle with an error wrapping capture.ErrPermission. An active recording is
// torn down and discarded first.
func (s *Session) Start(ctx context.Context) error {
	s.mtx.Lock()

	switch s.state {
	case StateAcquiring:
		s.mtx.Unlock()
		return ErrStartInProgress
	case StateRecording, StatePaused:
		s.logger.Warn("starting over an active recording, tearing it down", zap.String("session_id", s.id))
		s.teardownLocked()
	}

	s.artifact = nil
	s.finalizeErr = nil
	s.tracker.Reset()

	s.generation++
	gen := s.generation
	s.id = uuid.New().String()

	acquireCtx, cancel := context.WithCancel(ctx)
	s.cancelAcquire = cancel

	s.setStateLocked(StateAcquiring)
	logger := s.logger.With(zap.String("session_id", s.id))
	s.mtx.Unlock()

	screen, webcam, err := capture.AcquireScreenAndWebcam(acquireCtx, s.opts.Acquirer, logger)
	cancel()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.generation != gen {
		screen.Release()
		webcam.Release()
		logger.Info("start cancelled while acquiring")
		return ErrStartCancelled
	}

	s.cancelAcquire = nil

	if err != nil {
		metrics.CaptureRequestsTotal.WithLabelValues("denied").Inc()
		s.id = ""
		s.setStateLocked(StateIdle)
		return err
	}

	metrics.CaptureRequestsTotal.WithLabelValues("granted").Inc()

	res, err := s.bind(ctx, screen, webcam, logger)

	if err != nil {
		screen.Release()
		webcam.Release()
		s.id = ""
		s.setStateLocked(StateIdle)
		return err
	}

	s.res = res
	s.tracker.Start()
	s.setStateLocked(StateRecording)

	go s.watchScreen(gen, screen.Video, res.unwatch)

	logger.Info("recording started", zap.Bool("composited", res.composite != nil))

	return nil
}

// bind composites the sources and starts a recorder on the result. The raw screen stream is
// used when compositing cannot be set up.
func (s *Session) bind(ctx context.Context, screen, webcam *capture.Source, logger *zap.Logger) (*resources, error) {
	var stream *capture.Stream

	composite, err := compositor.Compose(screen, webcam, s.opts.Compositor)

	if err != nil {
		logger.Warn("compositing unavailable, recording the raw screen stream", zap.Error(err))
		metrics.CompositorFallbacksTotal.Inc()

		composite = nil
		stream = screen.Stream()
	} else {
		stream = composite.Stream
	}

	rec := recorder.NewRecorder(stream, recorder.NewRecorderOptions{
		Encoder:  s.opts.Encoder,
		MimeType: s.opts.MimeType,
		Logger:   logger,
	})

	if err := rec.Start(ctx); err != nil {
		if composite != nil {
			composite.Close()
		}

		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}

	return &resources{
		screen:    screen,
		webcam:    webcam,
		composite: composite,
		recorder:  rec,
		chunks:    assemble(rec.Events()),
		unwatch:   make(chan struct{}),
	}, nil
}

// Pause freezes the recording and the timer. Returns false unless recording.
func (s *Session) Pause() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state != StateRecording || s.res == nil {
		return false
	}

	if !s.res.recorder.Pause() {
		return false
	}

	s.tracker.Pause()
	s.setStateLocked(StatePaused)

	return true
}

// Resume continues a paused recording. Returns false unless paused.
func (s *Session) Resume() bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.state != StatePaused || s.res == nil {
		return false
	}

	if !s.res.recorder.Resume() {
		return false
	}

	s.tracker.Resume()
	s.setStateLocked(StateRecording)

	return true
}

// Stop finalizes the recording into an artifact and releases the screen, the webcam, the
// composite stream and the timer, in that order. Calling Stop again returns the same artifact.
// A finalization failure still stops the session; the error wraps ErrFinalization and the
// partial artifact is returned with it.
func (s *Session) Stop(ctx context.Context) (*Artifact, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	switch s.state {
	case StateStopped:
		return s.artifact, s.finalizeErr
	case StateRecording, StatePaused:
	default:
		return nil, ErrNotActive
	}

	res := s.res
	s.res = nil

	return s.finalizeLocked(ctx, res)
}

// Reset returns the session to Idle from any state, discarding the artifact and releasing
// anything still held. A pending start is cancelled.
func (s *Session) Reset() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.generation++

	if s.cancelAcquire != nil {
		s.cancelAcquire()
		s.cancelAcquire = nil
	}

	s.teardownLocked()

	s.artifact = nil
	s.finalizeErr = nil
	s.tracker.Reset()
	s.id = ""

	s.setStateLocked(StateIdle)
}

// State returns the current state.
func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.state
}

// Elapsed returns the recorded seconds, pauses excluded.
func (s *Session) Elapsed() float64 {
	return s.tracker.Elapsed()
}

// Artifact returns the finalized recording, nil unless Stopped.
func (s *Session) Artifact() *Artifact {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.artifact
}

func (s *Session) Status() Status {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	elapsed := s.tracker.Elapsed()

	status := Status{
		ID:           s.id,
		State:        s.state,
		Elapsed:      elapsed,
		ElapsedLabel: pkg.FormatDuration(elapsed),
		Composited:   s.res != nil && s.res.composite != nil,
		HasArtifact:  s.artifact != nil,
	}

	if s.artifact != nil {
		status.ArtifactSize = s.artifact.Size()
	}

	return status
}

func (s *Session) finalizeLocked(ctx context.Context, res *resources) (*Artifact, error) {
	logger := s.logger.With(zap.String("session_id", s.id))

	s.tracker.Pause()
	duration := s.tracker.Elapsed()
	thumbnail := res.thumbnail()

	defer s.releaseLocked(res)

	res.recorder.Stop()

	ctx, cancel := context.WithTimeout(ctx, s.opts.FinalizeTimeout)
	defer cancel()

	var err error

	select {
	case <-res.chunks.done:
		err = res.chunks.Err()
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.artifact = NewArtifact(res.chunks.Bytes(), s.opts.MimeType, s.opts.Extension, s.opts.Clock.Now(), duration, thumbnail)
	s.finalizeErr = nil

	if err != nil {
		logger.Error("recording finalization failed", zap.Error(err))
		metrics.FinalizationErrorsTotal.Inc()
		s.finalizeErr = fmt.Errorf("%w: %w", ErrFinalization, err)
	}

	metrics.ArtifactSizeBytes.Observe(float64(s.artifact.Size()))
	s.setStateLocked(StateStopped)

	logger.Info("recording stopped",
		zap.Float64("duration", duration),
		zap.Int("size", s.artifact.Size()),
		zap.Int("chunks", res.chunks.Count()),
	)

	return s.artifact, s.finalizeErr
}

// teardownLocked discards an active recording without producing an artifact.
func (s *Session) teardownLocked() {
	if s.res == nil {
		return
	}

	res := s.res
	s.res = nil

	res.recorder.Stop()
	s.releaseLocked(res)
}

func (s *Session) releaseLocked(res *resources) {
	close(res.unwatch)

	res.screen.Release()
	res.webcam.Release()

	if res.composite != nil {
		res.composite.Close()
	}

	s.tracker.Stop()
}

// watchScreen stops the recording when the screen capture ends on its own, e.g. the shared
// display went away.
func (s *Session) watchScreen(gen uint64, screen *capture.Track, unwatch <-chan struct{}) {
	select {
	case <-unwatch:
		return
	case <-screen.Ended():
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.generation != gen || s.res == nil {
		return
	}

	if s.state != StateRecording && s.state != StatePaused {
		return
	}

	s.logger.Info("screen capture ended, stopping the recording", zap.String("session_id", s.id))

	res := s.res
	s.res = nil

	if _, err := s.finalizeLocked(context.Background(), res); err != nil {
		s.logger.Warn("automatic stop finished with an error", zap.Error(err))
	}
}

func (s *Session) setStateLocked(state State) {
	s.state = state

	metrics.SessionTransitionsTotal.WithLabelValues(string(state)).Inc()

	if state == StateRecording || state == StatePaused {
		metrics.SessionActive.Set(1)
	} else {
		metrics.SessionActive.Set(0)
	}

	s.logger.Debug("session state changed", zap.String("state", string(state)))
}

func (r *resources) thumbnail() image.Image {
	if r.composite != nil {
		return r.composite.Snapshot()
	}

	if r.screen != nil && r.screen.Video != nil {
		return r.screen.Video.Frame()
	}

	return nil
}

// assembler collects recorder chunks in order until the recorder reports it stopped.
type assembler struct {
	mtx    sync.Mutex
	buf    bytes.Buffer
	count  int
	err    error
	done   chan struct{}
	events <-chan recorder.Event
}

func assemble(events <-chan recorder.Event) *assembler {
	a := &assembler{done: make(chan struct{}), events: events}

	go a.run()

	return a
}

func (a *assembler) run() {
	defer close(a.done)

	for ev := range a.events {
		a.mtx.Lock()

		switch ev.Kind {
		case recorder.EventData:
			a.buf.Write(ev.Data)
			a.count++
			metrics.RecorderChunksTotal.Inc()
		case recorder.EventStopped:
			a.err = ev.Err
		}

		a.mtx.Unlock()
	}
}

func (a *assembler) Bytes() []byte {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return bytes.Clone(a.buf.Bytes())
}

func (a *assembler) Count() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.count
}

func (a *assembler) Err() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.err
}
