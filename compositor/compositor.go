// Package compositor draws the screen and a picture-in-picture webcam onto one canvas and
// exposes the canvas as a recordable stream carrying the audio of both inputs.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/OmGuptaIND/screenrec/config"
	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"
	"go.uber.org/zap"
)

// ErrSetup is returned when the canvas cannot be prepared. Callers fall back to the raw
// screen stream.
var ErrSetup = errors.New("compositor setup failed")

// CanvasFactory creates the drawing surface.
type CanvasFactory func(width, height int) (*gg.Context, error)

// NewCanvas is the default factory backed by the gg software renderer.
func NewCanvas(width, height int) (*gg.Context, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}

	return gg.NewContext(width, height), nil
}

type Options struct {
	// FrameRate of the captured canvas stream, defaults to 30.
	FrameRate int

	// DrawInterval is the draw loop cadence, defaults to 60 Hz.
	DrawInterval time.Duration

	NewCanvas CanvasFactory

	// OnFrame is called after every drawn frame.
	OnFrame func()

	Logger *zap.Logger
}

// Stream is the composited output. Its Video track is the captured canvas, its Audio tracks
// belong to the input sources.
type Stream struct {
	*capture.Stream

	Width  int
	Height int

	screen *capture.Source
	webcam *capture.Source

	canvasMtx sync.Mutex
	canvas    *gg.Context

	live atomic.Bool
	done chan struct{}
	wg   sync.WaitGroup

	closeOnce sync.Once
	opts      Options
	logger    *zap.Logger
}

// Compose wires the screen and the optional webcam into a canvas render loop. The canvas
// mirrors the screen resolution, or 1920x1080 when the screen does not report one.
func Compose(screen, webcam *capture.Source, opts Options) (*Stream, error) {
	if opts.FrameRate <= 0 {
		opts.FrameRate = config.CAPTURE_FRAME_RATE
	}

	if opts.DrawInterval <= 0 {
		opts.DrawInterval = config.ANIMATION_INTERVAL
	}

	if opts.NewCanvas == nil {
		opts.NewCanvas = NewCanvas
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if screen == nil || screen.Video == nil {
		return nil, fmt.Errorf("%w: screen source has no video track", ErrSetup)
	}

	width, height := CanvasSize(screen.Video.Settings())

	canvas, err := opts.NewCanvas(width, height)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	if canvas == nil {
		return nil, fmt.Errorf("%w: no drawing context", ErrSetup)
	}

	s := &Stream{
		Width:  width,
		Height: height,
		screen: screen,
		webcam: webcam,
		canvas: canvas,
		done:   make(chan struct{}),
		opts:   opts,
		logger: logger.Named("compositor"),
	}

	video := capture.NewVideoTrack("canvas", capture.Settings{
		Width:     width,
		Height:    height,
		FrameRate: opts.FrameRate,
	}, nil)

	s.Stream = &capture.Stream{Video: video}

	for _, src := range []*capture.Source{screen, webcam} {
		if src != nil && src.Audio != nil {
			s.Audio = append(s.Audio, src.Audio)
		}
	}

	s.live.Store(true)

	s.wg.Add(2)
	go s.drawLoop()
	go s.captureLoop()

	s.logger.Info("compositor started",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("audio_tracks", len(s.Audio)),
		zap.Bool("picture_in_picture", webcam != nil && webcam.Video != nil),
	)

	return s, nil
}

// CanvasSize returns the canvas dimensions for a screen track.
func CanvasSize(settings capture.Settings) (int, int) {
	if settings.Width <= 0 || settings.Height <= 0 {
		return config.DEFAULT_CANVAS_WIDTH, config.DEFAULT_CANVAS_HEIGHT
	}

	return settings.Width, settings.Height
}

// Layout returns the webcam rectangle on the canvas: 20% of the canvas width, the webcam's
// aspect ratio, anchored bottom-right with padding. ok is false when the webcam size is
// unknown.
func Layout(canvasW, canvasH, camW, camH int) (x, y, w, h float64, ok bool) {
	if camW <= 0 || camH <= 0 {
		return 0, 0, 0, 0, false
	}

	w = float64(canvasW) * config.PIP_WIDTH_RATIO
	h = w * float64(camH) / float64(camW)
	x = float64(canvasW) - w - config.PIP_PADDING
	y = float64(canvasH) - h - config.PIP_PADDING

	return x, y, w, h, true
}

// Live reports whether the render loop is still running.
func (s *Stream) Live() bool {
	return s.live.Load()
}

// Snapshot returns a copy of the current canvas.
func (s *Stream) Snapshot() image.Image {
	s.canvasMtx.Lock()
	defer s.canvasMtx.Unlock()

	return imaging.Clone(s.canvas.Image())
}

// Close stops the render loop and the canvas track. Input tracks are left to their owner.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.live.Store(false)
		close(s.done)
		s.wg.Wait()

		s.Video.Stop()

		s.canvasMtx.Lock()
		if err := s.canvas.Close(); err != nil {
			s.logger.Debug("canvas close failed", zap.Error(err))
		}
		s.canvasMtx.Unlock()

		s.logger.Info("compositor stopped")
	})
}

// drawLoop redraws the canvas until the liveness flag is cleared.
func (s *Stream) drawLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.DrawInterval)
	defer ticker.Stop()

	for {
		if !s.live.Load() {
			return
		}

		s.drawFrame()

		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

// captureLoop publishes the canvas to the video track at the fixed frame rate.
func (s *Stream) captureLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(s.opts.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if !s.live.Load() {
				return
			}

			s.Video.Publish(s.Snapshot())
		}
	}
}

func (s *Stream) drawFrame() {
	screenFrame := s.screen.Video.Frame()

	var camFrame image.Image
	if s.webcam != nil && s.webcam.Video != nil {
		camFrame = s.webcam.Video.Frame()
	}

	s.canvasMtx.Lock()
	defer s.canvasMtx.Unlock()

	dc := s.canvas
	cw, ch := float64(s.Width), float64(s.Height)

	if screenFrame != nil {
		dc.DrawImageEx(gg.ImageBufFromImage(screenFrame), gg.DrawImageOptions{
			X:         0,
			Y:         0,
			DstWidth:  cw,
			DstHeight: ch,
		})
	}

	if camFrame != nil {
		b := camFrame.Bounds()

		if x, y, w, h, ok := Layout(s.Width, s.Height, b.Dx(), b.Dy()); ok {
			dc.DrawImageEx(gg.ImageBufFromImage(camFrame), gg.DrawImageOptions{
				X:         x,
				Y:         y,
				DstWidth:  w,
				DstHeight: h,
			})

			dc.SetRGB(1, 1, 1)
			dc.SetLineWidth(config.PIP_BORDER_WIDTH)
			dc.DrawRectangle(x, y, w, h)

			if err := dc.Stroke(); err != nil {
				s.logger.Debug("border stroke failed", zap.Error(err))
			}
		}
	}

	if s.opts.OnFrame != nil {
		s.opts.OnFrame()
	}
}
