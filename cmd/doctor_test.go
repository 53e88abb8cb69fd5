package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/OmGuptaIND/screenrec/env"
	"github.com/stretchr/testify/assert"
)

func TestDoctor(t *testing.T) {
	tests := []struct {
		name      string
		cfg       env.Env
		installed map[string]bool
		want      bool
		contains  string
	}{
		{
			name:      "ffmpeg present",
			cfg:       env.Env{FFmpegPath: "ffmpeg", ScreenInput: ":0.0", RecordingsDir: "recordings"},
			installed: map[string]bool{"ffmpeg": true},
			want:      true,
			contains:  "✓ ffmpeg",
		},
		{
			name:      "ffmpeg missing",
			cfg:       env.Env{FFmpegPath: "ffmpeg"},
			installed: map[string]bool{},
			want:      false,
			contains:  "✗ ffmpeg",
		},
		{
			name:      "virtual display without chromium",
			cfg:       env.Env{FFmpegPath: "ffmpeg", VirtualDisplay: true},
			installed: map[string]bool{"ffmpeg": true, "Xvfb": true},
			want:      false,
			contains:  "✗ chromium",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer

			lookPath := func(bin string) (string, error) {
				if tt.installed[bin] {
					return "/usr/bin/" + bin, nil
				}
				return "", errors.New("not found")
			}

			cfg := tt.cfg
			assert.Equal(t, tt.want, doctor(&out, &cfg, lookPath))
			assert.Contains(t, out.String(), tt.contains)
		})
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	assert.ElementsMatch(t, []string{"serve", "doctor"}, names)
}
