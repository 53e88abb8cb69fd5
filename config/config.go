package config

import (
	"time"

	"github.com/OmGuptaIND/screenrec/display"
)

const RECORDING_DIR = "recordings"

// Canvas defaults used when the screen source does not report its resolution.
const (
	DEFAULT_CANVAS_WIDTH  = 1920
	DEFAULT_CANVAS_HEIGHT = 1080
)

// Compositor layout and cadence.
const (
	CAPTURE_FRAME_RATE = 30
	ANIMATION_INTERVAL = time.Second / 60

	PIP_WIDTH_RATIO  = 0.2
	PIP_PADDING      = 20
	PIP_BORDER_WIDTH = 2
)

// Audio format shared by the capture backend and the encoder.
const (
	AUDIO_SAMPLE_RATE = 48000
	AUDIO_CHANNELS    = 2
	AUDIO_BLOCK_SIZE  = 4096
)

const (
	TIMER_REFRESH_INTERVAL              = 100 * time.Millisecond
	DEVICE_GRANT_TIMEOUT                = 5 * time.Second
	ENCODER_STOP_TIMEOUT                = 10 * time.Second
	RECORDER_DRAIN_TIMEOUT              = 2 * time.Second
	FINALIZE_TIMEOUT                    = 20 * time.Second
	AUDIO_EXTRACT_UNKNOWN_DURATION_WAIT = 3 * time.Second
)

const (
	ARTIFACT_MIME_TYPE = "video/webm"
	ARTIFACT_EXTENSION = "webm"
)

// Credit prices and packages.
const (
	DEFAULT_INITIAL_CREDITS = 10000
	SAVE_TUTORIAL_COST      = 500
	GENERATE_ARTICLE_COST   = 1000
)

var CREDIT_PACKAGES = []int64{5000, 15000, 50000}

var DEFAULT_DISPLAY_OPTS = display.DisplayOptions{
	Width:  1280,
	Height: 720,
	Depth:  24,
}
