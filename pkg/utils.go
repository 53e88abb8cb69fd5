package pkg

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// HandleSignal returns a channel notified on SIGINT, SIGTERM and SIGHUP.
func HandleSignal() chan os.Signal {
	signalChan := make(chan os.Signal, 20)
	signal.Notify(
		signalChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGHUP,
	)

	return signalChan
}

// RandomDisplay returns an X display name unlikely to collide with a running server.
func RandomDisplay() string {
	return fmt.Sprintf(":%d", (time.Now().Nanosecond()%1000)+os.Getpid()%1000+100)
}

// CreateDirectory creates the directory and its parents if missing.
func CreateDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// FormatDuration renders seconds as MM:SS, minutes are not wrapped at 60.
func FormatDuration(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}

	total := int(math.Floor(seconds))

	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ISODate returns the calendar date of t in UTC, e.g. 2024-05-15.
func ISODate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
