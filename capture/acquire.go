package capture

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrPermission is returned when a capture device is denied or missing. It is terminal for
// the start attempt.
var ErrPermission = errors.New("capture permission denied or device unavailable")

// Acquirer opens capture devices. Each call may block on a permission decision.
type Acquirer interface {
	RequestScreen(ctx context.Context) (*Source, error)
	RequestWebcam(ctx context.Context) (*Source, error)
}

// AcquireScreenAndWebcam requests the screen and then the webcam. Either both sources are
// returned or neither: a granted screen is released when the webcam request fails.
func AcquireScreenAndWebcam(ctx context.Context, acquirer Acquirer, logger *zap.Logger) (*Source, *Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	screen, err := acquirer.RequestScreen(ctx)

	if err != nil {
		logger.Warn("screen capture request failed", zap.Error(err))
		return nil, nil, permissionError(KindScreen, err)
	}

	if screen == nil || screen.Video == nil {
		screen.Release()
		return nil, nil, permissionError(KindScreen, errors.New("no video track"))
	}

	webcam, err := acquirer.RequestWebcam(ctx)

	if err != nil {
		logger.Warn("webcam capture request failed, releasing screen", zap.Error(err))
		screen.Release()
		return nil, nil, permissionError(KindWebcam, err)
	}

	if webcam == nil {
		screen.Release()
		return nil, nil, permissionError(KindWebcam, errors.New("no tracks"))
	}

	return screen, webcam, nil
}

func permissionError(kind Kind, err error) error {
	if errors.Is(err, ErrPermission) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrPermission, kind, err)
}
