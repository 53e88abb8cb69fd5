package main

import (
	"fmt"
	"io"
	"os/exec"

	"github.com/OmGuptaIND/screenrec/env"
	"github.com/spf13/cobra"
)

func newDoctorCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadEnvironmentVariables(*envFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !doctor(cmd.OutOrStdout(), cfg, exec.LookPath) {
				return fmt.Errorf("some prerequisites are missing")
			}

			return nil
		},
	}
}

func check(w io.Writer, name string, ok bool, detail string) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}

	fmt.Fprintf(w, "%s %s: %s\n", mark, name, detail)
}

// doctor prints the state of every prerequisite and reports whether recording can work.
func doctor(w io.Writer, cfg *env.Env, lookPath func(string) (string, error)) bool {
	ok := true

	if path, err := lookPath(cfg.FFmpegPath); err != nil {
		check(w, "ffmpeg", false, fmt.Sprintf("%s not found, install ffmpeg or set FFMPEG_PATH", cfg.FFmpegPath))
		ok = false
	} else {
		check(w, "ffmpeg", true, path)
	}

	if cfg.VirtualDisplay {
		for _, bin := range []string{"Xvfb", "chromium"} {
			if _, err := lookPath(bin); err != nil {
				check(w, bin, false, "not found, required by VIRTUAL_DISPLAY")
				ok = false
			} else {
				check(w, bin, true, "installed")
			}
		}
	} else {
		check(w, "Screen", true, cfg.ScreenInput)
	}

	check(w, "Webcam", true, cfg.WebcamDevice)

	if cfg.WebhookUrl != "" {
		check(w, "Transcription webhook", true, cfg.WebhookUrl)
	} else {
		check(w, "Transcription webhook", false, "WEBHOOK_URL not set, articles use the fallback transcript")
	}

	if cfg.HasBucket() {
		check(w, "Artifact bucket", true, cfg.BucketName)
	} else {
		check(w, "Artifact bucket", true, "not configured, artifacts are kept in "+cfg.RecordingsDir)
	}

	return ok
}
