package article

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/OmGuptaIND/screenrec/config"
	"go.uber.org/zap"
)

type FFmpegExtractorOptions struct {
	FFmpegPath string

	// UnknownDurationWait bounds the extraction when the recording duration is unknown.
	UnknownDurationWait time.Duration

	Logger *zap.Logger
}

// FFmpegExtractor strips the video track from a recording, keeping its audio as WebM/Opus.
type FFmpegExtractor struct {
	opts   FFmpegExtractorOptions
	logger *zap.Logger
}

func NewFFmpegExtractor(opts FFmpegExtractorOptions) *FFmpegExtractor {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}

	if opts.UnknownDurationWait <= 0 {
		opts.UnknownDurationWait = config.AUDIO_EXTRACT_UNKNOWN_DURATION_WAIT
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FFmpegExtractor{opts: opts, logger: logger.Named("extractor")}
}

// Timeout is the longest an extraction may take: the recording duration when it is known,
// UnknownDurationWait otherwise.
func (e *FFmpegExtractor) Timeout(duration float64) time.Duration {
	wait := time.Duration(duration * float64(time.Second))

	if wait <= 0 {
		return e.opts.UnknownDurationWait
	}

	return wait
}

// Extract returns the audio of the recording. Any failure, including the timeout, returns
// the original recording so the transcription can still go ahead.
func (e *FFmpegExtractor) Extract(ctx context.Context, recording []byte, duration float64) []byte {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout(duration))
	defer cancel()

	audio, err := e.run(ctx, recording)

	if err != nil {
		e.logger.Warn("audio extraction failed, sending the full recording", zap.Error(err))
		return recording
	}

	return audio
}

func (e *FFmpegExtractor) run(ctx context.Context, recording []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.opts.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-c:a", "libopus",
		"-f", "webm",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer

	cmd.Stdin = bytes.NewReader(recording)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extraction timed out: %w", ctx.Err())
		}

		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no audio")
	}

	return stdout.Bytes(), nil
}
