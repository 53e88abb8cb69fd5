package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/OmGuptaIND/screenrec/config"
	"go.uber.org/zap"
)

type FFmpegAcquirerOptions struct {
	FFmpegPath string

	// ScreenInput is the x11grab input, e.g. ":0.0".
	ScreenInput  string
	ScreenWidth  int
	ScreenHeight int

	// ScreenAudio is the pulse source recorded with the screen, empty disables it.
	ScreenAudio string

	WebcamDevice string
	WebcamWidth  int
	WebcamHeight int

	// MicDevice is the pulse source recorded with the webcam, empty disables it.
	MicDevice string

	FrameRate    int
	GrantTimeout time.Duration

	Logger *zap.Logger
}

// FFmpegAcquirer captures the X11 screen, a v4l2 webcam and pulse audio with one ffmpeg
// process per track. A device is considered granted once the process delivers its first
// frame or sample block.
type FFmpegAcquirer struct {
	opts   FFmpegAcquirerOptions
	logger *zap.Logger
}

// NewFFmpegAcquirer creates an acquirer with defaults filled in.
func NewFFmpegAcquirer(opts FFmpegAcquirerOptions) *FFmpegAcquirer {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}

	if opts.FrameRate <= 0 {
		opts.FrameRate = config.CAPTURE_FRAME_RATE
	}

	if opts.GrantTimeout <= 0 {
		opts.GrantTimeout = config.DEVICE_GRANT_TIMEOUT
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FFmpegAcquirer{opts: opts, logger: logger.Named("capture")}
}

// RequestScreen opens the screen grab and, when configured, the screen audio.
func (a *FFmpegAcquirer) RequestScreen(ctx context.Context) (*Source, error) {
	reported := Settings{Width: a.opts.ScreenWidth, Height: a.opts.ScreenHeight, FrameRate: a.opts.FrameRate}

	if reported.Width <= 0 || reported.Height <= 0 {
		w, h, err := a.probeScreenSize(ctx)

		if err != nil {
			a.logger.Warn("could not probe screen size, using the default canvas size", zap.Error(err))
		}

		reported.Width, reported.Height = w, h
	}

	width, height := reported.Width, reported.Height
	if width <= 0 || height <= 0 {
		width, height = config.DEFAULT_CANVAS_WIDTH, config.DEFAULT_CANVAS_HEIGHT
	}

	input := []string{
		"-f", "x11grab",
		"-framerate", strconv.Itoa(a.opts.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", a.opts.ScreenInput,
	}

	video, err := a.openVideo(ctx, "screen", input, width, height, reported)

	if err != nil {
		return nil, err
	}

	var audio *Track

	if a.opts.ScreenAudio != "" {
		audio, err = a.openAudio(ctx, "screen-audio", a.opts.ScreenAudio)

		if err != nil {
			video.Stop()
			return nil, err
		}
	}

	return NewSource(KindScreen, video, audio), nil
}

// RequestWebcam opens the webcam and, when configured, the microphone.
func (a *FFmpegAcquirer) RequestWebcam(ctx context.Context) (*Source, error) {
	width, height := a.opts.WebcamWidth, a.opts.WebcamHeight
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}

	input := []string{
		"-f", "v4l2",
		"-framerate", strconv.Itoa(a.opts.FrameRate),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", a.opts.WebcamDevice,
	}

	reported := Settings{Width: width, Height: height, FrameRate: a.opts.FrameRate}

	video, err := a.openVideo(ctx, "webcam", input, width, height, reported)

	if err != nil {
		return nil, err
	}

	var audio *Track

	if a.opts.MicDevice != "" {
		audio, err = a.openAudio(ctx, "microphone", a.opts.MicDevice)

		if err != nil {
			video.Stop()
			return nil, err
		}
	}

	return NewSource(KindWebcam, video, audio), nil
}

var sizePattern = regexp.MustCompile(`, (\d{2,5})x(\d{2,5})`)

// probeScreenSize grabs a single frame and reads the resolution ffmpeg reports for it.
func (a *FFmpegAcquirer) probeScreenSize(ctx context.Context) (int, int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, a.opts.GrantTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, a.opts.FFmpegPath,
		"-hide_banner",
		"-f", "x11grab",
		"-i", a.opts.ScreenInput,
		"-frames:v", "1",
		"-f", "null", "-",
	)

	out, err := cmd.CombinedOutput()

	if err != nil {
		return 0, 0, fmt.Errorf("probe failed: %w", err)
	}

	match := sizePattern.FindSubmatch(out)
	if match == nil {
		return 0, 0, errors.New("no resolution in ffmpeg output")
	}

	w, _ := strconv.Atoi(string(match[1]))
	h, _ := strconv.Atoi(string(match[2]))

	return w, h, nil
}

func (a *FFmpegAcquirer) openVideo(ctx context.Context, label string, input []string, width, height int, reported Settings) (*Track, error) {
	args := append([]string{"-hide_banner", "-loglevel", "error"}, input...)
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1")

	proc, stdout, err := startProcess(a.opts.FFmpegPath, args)

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPermission, label, err)
	}

	track := NewVideoTrack(label, reported, proc.stop)
	granted := make(chan struct{})

	go func() {
		defer track.End()

		frameSize := width * height * 4
		first := true

		for {
			frame := image.NewNRGBA(image.Rect(0, 0, width, height))

			if _, err := io.ReadFull(stdout, frame.Pix[:frameSize]); err != nil {
				if track.Live() {
					a.logger.Info("video capture ended", zap.String("track", label), zap.Error(err))
				}
				return
			}

			track.Publish(frame)

			if first {
				first = false
				close(granted)
			}
		}
	}()

	if err := a.awaitGrant(ctx, label, proc, granted); err != nil {
		track.Stop()
		return nil, err
	}

	return track, nil
}

func (a *FFmpegAcquirer) openAudio(ctx context.Context, label, device string) (*Track, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse",
		"-i", device,
		"-f", "s16le",
		"-ac", strconv.Itoa(config.AUDIO_CHANNELS),
		"-ar", strconv.Itoa(config.AUDIO_SAMPLE_RATE),
		"pipe:1",
	}

	proc, stdout, err := startProcess(a.opts.FFmpegPath, args)

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPermission, label, err)
	}

	settings := Settings{SampleRate: config.AUDIO_SAMPLE_RATE, Channels: config.AUDIO_CHANNELS}
	track := NewAudioTrack(label, settings, proc.stop)
	granted := make(chan struct{})

	go func() {
		defer track.End()

		first := true

		for {
			block := make([]byte, config.AUDIO_BLOCK_SIZE)

			n, err := io.ReadFull(stdout, block)

			if n > 0 {
				track.PushSamples(block[:n])

				if first {
					first = false
					close(granted)
				}
			}

			if err != nil {
				if track.Live() {
					a.logger.Info("audio capture ended", zap.String("track", label), zap.Error(err))
				}
				return
			}
		}
	}()

	if err := a.awaitGrant(ctx, label, proc, granted); err != nil {
		track.Stop()
		return nil, err
	}

	return track, nil
}

func (a *FFmpegAcquirer) awaitGrant(ctx context.Context, label string, proc *process, granted <-chan struct{}) error {
	timer := time.NewTimer(a.opts.GrantTimeout)
	defer timer.Stop()

	select {
	case <-granted:
		a.logger.Debug("capture device granted", zap.String("track", label))
		return nil
	case <-proc.done:
		a.logger.Warn("capture process exited before delivering media",
			zap.String("track", label),
			zap.String("stderr", proc.stderr.String()),
		)
		return fmt.Errorf("%w: %s: capture process exited", ErrPermission, label)
	case <-timer.C:
		return fmt.Errorf("%w: %s: no media within %s", ErrPermission, label, a.opts.GrantTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ErrPermission, label, ctx.Err())
	}
}

// process is a capture child whose stdout carries the media.
type process struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	done   chan struct{}
	once   sync.Once
}

func startProcess(path string, args []string) (*process, io.ReadCloser, error) {
	cmd := exec.Command(path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	tail := &tailBuffer{limit: 2048}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &process{cmd: cmd, stderr: tail, done: make(chan struct{})}

	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	return p, stdout, nil
}

// stop interrupts the process and kills it if it does not exit in time.
func (p *process) stop() {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		_ = p.cmd.Process.Signal(os.Interrupt)

		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(t.buf)
}
