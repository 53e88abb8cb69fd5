package compositor_test

import (
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/OmGuptaIND/screenrec/compositor"
	"github.com/disintegration/imaging"
	"github.com/gogpu/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	screenColor = color.NRGBA{R: 200, G: 0, B: 0, A: 255}
	webcamColor = color.NRGBA{R: 0, G: 0, B: 200, A: 255}
)

func solidSource(kind capture.Kind, w, h int, c color.NRGBA, withAudio bool) *capture.Source {
	video := capture.NewVideoTrack(string(kind), capture.Settings{Width: w, Height: h}, nil)
	video.Publish(imaging.New(w, h, c))

	var audio *capture.Track
	if withAudio {
		audio = capture.NewAudioTrack(string(kind)+"-audio", capture.Settings{}, nil)
	}

	return capture.NewSource(kind, video, audio)
}

func assertColor(t *testing.T, img image.Image, x, y int, want color.NRGBA) {
	t.Helper()

	got := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)

	assert.InDelta(t, want.R, got.R, 3, "R at %d,%d", x, y)
	assert.InDelta(t, want.G, got.G, 3, "G at %d,%d", x, y)
	assert.InDelta(t, want.B, got.B, 3, "B at %d,%d", x, y)
}

func TestLayout(t *testing.T) {
	x, y, w, h, ok := compositor.Layout(1920, 1080, 640, 480)

	require.True(t, ok)
	assert.InDelta(t, 384, w, 0.001)
	assert.InDelta(t, 288, h, 0.001)
	assert.InDelta(t, 1920-384-20, x, 0.001)
	assert.InDelta(t, 1080-288-20, y, 0.001)

	_, _, _, _, ok = compositor.Layout(1920, 1080, 0, 0)
	assert.False(t, ok)
}

func TestCanvasSizeFallback(t *testing.T) {
	w, h := compositor.CanvasSize(capture.Settings{})
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	w, h = compositor.CanvasSize(capture.Settings{Width: 1280, Height: 720})
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestComposeDrawsPictureInPicture(t *testing.T) {
	screen := solidSource(capture.KindScreen, 200, 100, screenColor, true)
	webcam := solidSource(capture.KindWebcam, 40, 30, webcamColor, true)

	var frames atomic.Int32

	stream, err := compositor.Compose(screen, webcam, compositor.Options{
		DrawInterval: 5 * time.Millisecond,
		OnFrame:      func() { frames.Add(1) },
	})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, 200, stream.Width)
	assert.Equal(t, 100, stream.Height)
	assert.Len(t, stream.Audio, 2, "audio of both sources is merged")
	assert.Equal(t, 30, stream.Video.Settings().FrameRate)

	require.Eventually(t, func() bool { return frames.Load() > 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return stream.Video.Frame() != nil }, time.Second, 5*time.Millisecond)

	snap := stream.Snapshot()

	// 20% of 200 = 40 wide, 30 high, 20px padding: x 140..180, y 50..80.
	assertColor(t, snap, 10, 10, screenColor)
	assertColor(t, snap, 100, 50, screenColor)
	assertColor(t, snap, 160, 65, webcamColor)
	assertColor(t, snap, 140, 65, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	assertColor(t, snap, 190, 90, screenColor)
}

func TestComposeWithoutWebcam(t *testing.T) {
	screen := solidSource(capture.KindScreen, 64, 48, screenColor, false)

	stream, err := compositor.Compose(screen, nil, compositor.Options{DrawInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer stream.Close()

	assert.Empty(t, stream.Audio)

	require.Eventually(t, func() bool {
		snap := stream.Snapshot()
		c := color.NRGBAModel.Convert(snap.At(60, 44)).(color.NRGBA)
		return c.R > 190
	}, time.Second, 5*time.Millisecond)
}

func TestDrawLoopStopsAfterClose(t *testing.T) {
	screen := solidSource(capture.KindScreen, 32, 32, screenColor, false)
	webcam := solidSource(capture.KindWebcam, 16, 16, webcamColor, false)

	var frames atomic.Int32

	stream, err := compositor.Compose(screen, webcam, compositor.Options{
		DrawInterval: 2 * time.Millisecond,
		OnFrame:      func() { frames.Add(1) },
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return frames.Load() > 0 }, time.Second, 2*time.Millisecond)

	stream.Close()
	stream.Close()

	assert.False(t, stream.Live())
	assert.False(t, stream.Video.Live())
	assert.True(t, screen.Video.Live(), "inputs belong to the session")

	settled := frames.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, frames.Load())
}

func TestComposeSetupFailure(t *testing.T) {
	screen := capture.NewSource(capture.KindScreen, capture.NewVideoTrack("screen", capture.Settings{}, nil), nil)

	var gotW, gotH int

	_, err := compositor.Compose(screen, nil, compositor.Options{
		NewCanvas: func(w, h int) (*gg.Context, error) {
			gotW, gotH = w, h
			return nil, errors.New("2d context unavailable")
		},
	})

	assert.ErrorIs(t, err, compositor.ErrSetup)
	assert.Equal(t, 1920, gotW)
	assert.Equal(t, 1080, gotH)

	_, err = compositor.Compose(capture.NewSource(capture.KindScreen, nil, nil), nil, compositor.Options{})
	assert.ErrorIs(t, err, compositor.ErrSetup)
}
