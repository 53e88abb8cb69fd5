package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OmGuptaIND/screenrec/config"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Spec describes the media a Sink receives.
type Spec struct {
	Width       int
	Height      int
	FrameRate   int
	AudioTracks int
	SampleRate  int
	Channels    int
	MimeType    string
}

// Encoder opens sinks that write an encoded container to out.
type Encoder interface {
	Open(ctx context.Context, spec Spec, out io.Writer) (Sink, error)
}

// Sink receives raw media. Close flushes every pending byte to the output before returning.
type Sink interface {
	WriteVideo(frame image.Image) error
	WriteAudio(track int, pcm []byte) error
	Close() error
}

// AudioEnder is implemented by sinks that must be told when an audio input ends, so the
// container can be finished without waiting on it.
type AudioEnder interface {
	EndAudio(track int) error
}

type FFmpegEncoderOptions struct {
	FFmpegPath     string
	ShowFfmpegLogs bool
	StopTimeout    time.Duration
	Logger         *zap.Logger
}

// FFmpegEncoder muxes raw RGBA frames (stdin) and s16le PCM (one extra pipe per audio track)
// into WebM with VP9 video and Opus audio, streamed on stdout.
type FFmpegEncoder struct {
	opts FFmpegEncoderOptions
}

func NewFFmpegEncoder(opts FFmpegEncoderOptions) *FFmpegEncoder {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}

	if opts.StopTimeout <= 0 {
		opts.StopTimeout = config.ENCODER_STOP_TIMEOUT
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &FFmpegEncoder{opts: opts}
}

// Args returns the ffmpeg arguments for a spec. Audio track i is read from pipe:(3+i).
func (e *FFmpegEncoder) Args(spec Spec) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-framerate", strconv.Itoa(spec.FrameRate),
		"-i", "pipe:0",
	}

	for i := 0; i < spec.AudioTracks; i++ {
		args = append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(spec.SampleRate),
			"-ac", strconv.Itoa(spec.Channels),
			"-i", fmt.Sprintf("pipe:%d", 3+i),
		)
	}

	switch {
	case spec.AudioTracks == 1:
		args = append(args, "-map", "0:v", "-map", "1:a")
	case spec.AudioTracks > 1:
		inputs := ""
		for i := 1; i <= spec.AudioTracks; i++ {
			inputs += fmt.Sprintf("[%d:a]", i)
		}

		args = append(args,
			"-filter_complex", fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0[a]", inputs, spec.AudioTracks),
			"-map", "0:v", "-map", "[a]",
		)
	}

	args = append(args,
		"-c:v", "libvpx-vp9",
		"-deadline", "realtime",
		"-cpu-used", "8",
		"-b:v", "2M",
		"-pix_fmt", "yuv420p",
	)

	if spec.AudioTracks > 0 {
		args = append(args, "-c:a", "libopus", "-b:a", "128k")
	}

	return append(args, "-f", "webm", "pipe:1")
}

// Open starts the ffmpeg process. Its stdout is copied to out until the process exits.
func (e *FFmpegEncoder) Open(ctx context.Context, spec Spec, out io.Writer) (Sink, error) {
	cmd := exec.Command(e.opts.FFmpegPath, e.Args(spec)...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %v", err)
	}

	audio := make([]*os.File, 0, spec.AudioTracks)
	readers := make([]*os.File, 0, spec.AudioTracks)

	closeAll := func(files []*os.File) {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for i := 0; i < spec.AudioTracks; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(readers)
			closeAll(audio)
			return nil, fmt.Errorf("failed to create audio pipe: %v", err)
		}

		readers = append(readers, r)
		audio = append(audio, w)
	}

	cmd.ExtraFiles = readers

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeAll(readers)
		closeAll(audio)
		return nil, fmt.Errorf("failed to create stdout pipe: %v", err)
	}

	if e.opts.ShowFfmpegLogs {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		closeAll(readers)
		closeAll(audio)
		return nil, fmt.Errorf("failed to start FFmpeg: %v", err)
	}

	// The child holds its own copies of the read ends.
	closeAll(readers)

	s := &ffmpegSink{
		cmd:     cmd,
		stdin:   stdin,
		audio:   audio,
		ended:   make([]atomic.Bool, len(audio)),
		spec:    spec,
		copied:  make(chan error, 1),
		timeout: e.opts.StopTimeout,
		logger:  e.opts.Logger.Named("ffmpeg"),
	}

	go func() {
		_, err := io.Copy(out, stdout)
		s.copied <- err
	}()

	return s, nil
}

type ffmpegSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	audio []*os.File
	spec  Spec

	// mtx serializes video writes; closed is read without it so Close never waits behind a
	// write blocked on a stalled process.
	mtx     sync.Mutex
	closed  atomic.Bool
	ended   []atomic.Bool
	copied  chan error
	timeout time.Duration
	logger  *zap.Logger
}

var errSinkClosed = errors.New("sink closed")

func (s *ffmpegSink) WriteVideo(frame image.Image) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.closed.Load() {
		return errSinkClosed
	}

	_, err := s.stdin.Write(normalize(frame, s.spec.Width, s.spec.Height).Pix)

	return err
}

func (s *ffmpegSink) WriteAudio(track int, pcm []byte) error {
	if track < 0 || track >= len(s.audio) {
		return fmt.Errorf("unknown audio track %d", track)
	}

	if s.closed.Load() || s.ended[track].Load() {
		return errSinkClosed
	}

	_, err := s.audio[track].Write(pcm)

	return err
}

// EndAudio closes the pipe of one audio track so ffmpeg sees its end of stream.
func (s *ffmpegSink) EndAudio(track int) error {
	if track < 0 || track >= len(s.audio) {
		return fmt.Errorf("unknown audio track %d", track)
	}

	if s.ended[track].Swap(true) {
		return nil
	}

	return s.audio[track].Close()
}

// Close ends the inputs so ffmpeg writes the container trailer, waits for stdout to drain
// and kills the process if it does not exit in time.
func (s *ffmpegSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	// Closing the pipes also fails any write still blocked on them.
	_ = s.stdin.Close()

	for i, f := range s.audio {
		if !s.ended[i].Swap(true) {
			_ = f.Close()
		}
	}

	done := make(chan error, 1)
	go func() {
		copyErr := <-s.copied
		waitErr := s.cmd.Wait()

		if copyErr != nil {
			done <- copyErr
			return
		}

		done <- waitErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg exited with error: %w", err)
		}

		s.logger.Debug("ffmpeg finished")
		return nil
	case <-time.After(s.timeout):
		s.logger.Warn("ffmpeg didn't exit in time, force killing")

		if err := s.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill FFmpeg process: %v", err)
		}

		<-done
		return errors.New("ffmpeg did not exit in time")
	}
}

// normalize returns the frame as NRGBA pixels of exactly width x height.
func normalize(frame image.Image, width, height int) *image.NRGBA {
	b := frame.Bounds()

	if nrgba, ok := frame.(*image.NRGBA); ok && b.Min.X == 0 && b.Min.Y == 0 && b.Dx() == width && b.Dy() == height && nrgba.Stride == width*4 {
		return nrgba
	}

	if b.Dx() == width && b.Dy() == height {
		return imaging.Clone(frame)
	}

	return imaging.Resize(frame, width, height, imaging.Linear)
}
