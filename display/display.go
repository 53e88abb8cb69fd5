package display

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// xvfbReadyDelay gives Xvfb time to open its socket before clients connect.
const xvfbReadyDelay = 500 * time.Millisecond

type DisplayOptions struct {
	Width  int
	Height int
	Depth  int

	// Display is the X display name, e.g. ":99".
	Display string

	// ChromePath defaults to "chromium".
	ChromePath string

	// PactlPath defaults to "pactl".
	PactlPath string

	Logger *zap.Logger
}

// Display is a headless X server the recorder can capture from, optionally showing a page in
// a kiosk browser. It stands in for a desktop on servers.
type Display struct {
	xvfb   *exec.Cmd
	opts   DisplayOptions
	logger *zap.Logger

	// sinkModule is the pulse module id of the null sink, empty when none is loaded.
	sinkModule string

	mu       sync.RWMutex
	browsers map[string]*chromeDisplay
}

type chromeDisplay struct {
	id           string
	chromeCtx    context.Context
	chromeCancel context.CancelFunc
}

// NewDisplay initializes a new Display with the specified options.
func NewDisplay(opts DisplayOptions) *Display {
	if opts.ChromePath == "" {
		opts.ChromePath = "chromium"
	}

	if opts.PactlPath == "" {
		opts.PactlPath = "pactl"
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Display{
		opts:     opts,
		logger:   logger.Named("display").With(zap.String("display", opts.Display)),
		browsers: make(map[string]*chromeDisplay),
	}
}

// ScreenInput is the x11grab input of the display's first screen.
func (d *Display) ScreenInput() string {
	return d.opts.Display + ".0"
}

// Size returns the screen resolution.
func (d *Display) Size() (int, int) {
	return d.opts.Width, d.opts.Height
}

// SinkName is the pulse null sink the display's browser plays into.
func (d *Display) SinkName() string {
	return "screenrec_" + strings.TrimPrefix(d.opts.Display, ":")
}

// AudioSource is the pulse source carrying the display's audio, empty without a sink.
func (d *Display) AudioSource() string {
	if d.sinkModule == "" {
		return ""
	}

	return d.SinkName() + ".monitor"
}

// XvfbArgs returns the Xvfb command line for the display.
func (d *Display) XvfbArgs() []string {
	dims := fmt.Sprintf("%dx%dx%d", d.opts.Width, d.opts.Height, d.opts.Depth)

	return []string{d.opts.Display, "-screen", "0", dims, "-ac", "-nolisten", "tcp"}
}

// Launch starts the Xvfb server and, when url is set, Chrome showing it.
func (d *Display) Launch(ctx context.Context, url string) error {
	if err := d.LaunchXvfb(); err != nil {
		return err
	}

	if err := d.LaunchAudioSink(ctx); err != nil {
		d.logger.Warn("no audio sink, the display will be recorded without its audio", zap.Error(err))
	}

	if url == "" {
		return nil
	}

	if _, err := d.LaunchChrome(ctx, url); err != nil {
		return err
	}

	d.logger.Info("chrome launched successfully", zap.String("url", url))

	return nil
}

// LaunchXvfb starts the Xvfb server with the specified display.
func (d *Display) LaunchXvfb() error {
	if d.xvfb != nil {
		d.logger.Debug("xvfb server is already running")
		return nil
	}

	d.logger.Info("starting xvfb server")

	xvfb := exec.Command("Xvfb", d.XvfbArgs()...)
	if err := xvfb.Start(); err != nil {
		return fmt.Errorf("failed to start Xvfb: %w", err)
	}

	d.xvfb = xvfb

	time.Sleep(xvfbReadyDelay)

	return nil
}

// LaunchAudioSink loads a pulse null sink for the display; its monitor is the display's audio.
func (d *Display) LaunchAudioSink(ctx context.Context) error {
	if d.sinkModule != "" {
		return nil
	}

	out, err := exec.CommandContext(ctx, d.opts.PactlPath,
		"load-module", "module-null-sink",
		"sink_name="+d.SinkName(),
		"sink_properties=device.description="+d.SinkName(),
	).Output()

	if err != nil {
		return fmt.Errorf("failed to load pulse null sink: %w", err)
	}

	module := strings.TrimSpace(string(out))
	if module == "" {
		return fmt.Errorf("pactl returned no module id for %s", d.SinkName())
	}

	d.sinkModule = module
	d.logger.Info("pulse null sink loaded", zap.String("sink", d.SinkName()), zap.String("module", module))

	return nil
}

func (d *Display) unloadAudioSink() {
	if d.sinkModule == "" {
		return
	}

	if err := exec.Command(d.opts.PactlPath, "unload-module", d.sinkModule).Run(); err != nil {
		d.logger.Warn("failed to unload pulse null sink", zap.String("module", d.sinkModule), zap.Error(err))
	}

	d.sinkModule = ""
}

func (d *Display) chromeOptions() []chromedp.ExecAllocatorOption {
	opts := d.baseChromeOptions()

	if d.sinkModule != "" {
		opts = append(opts, chromedp.Env("PULSE_SINK="+d.SinkName()))
	}

	return opts
}

func (d *Display) baseChromeOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(d.opts.ChromePath),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,

		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("excludeSwitches", "enable-automation"),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("force-color-profile", "srgb"),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("use-mock-keychain", true),

		chromedp.Flag("kiosk", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("window-position", "0,0"),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", d.opts.Width, d.opts.Height)),
		chromedp.Flag("display", d.opts.Display),
	}
}

// LaunchChrome opens url in a kiosk window on the display and returns the browser id.
func (d *Display) LaunchChrome(ctx context.Context, url string) (string, error) {
	d.logger.Info("launching chrome")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, d.chromeOptions()...)

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		chromeCancel()
		allocCancel()
	}

	if err := chromedp.Run(chromeCtx, chromedp.Navigate(url)); err != nil {
		cancel()
		return "", fmt.Errorf("failed to open %s: %w", url, err)
	}

	browser := &chromeDisplay{
		id:           uuid.New().String(),
		chromeCtx:    chromeCtx,
		chromeCancel: cancel,
	}

	d.mu.Lock()
	d.browsers[browser.id] = browser
	d.mu.Unlock()

	go func() {
		<-browser.chromeCtx.Done()
		d.logger.Info("chrome exited", zap.String("browser_id", browser.id))

		d.mu.Lock()
		delete(d.browsers, browser.id)
		d.mu.Unlock()
	}()

	return browser.id, nil
}

// CloseChrome stops the Chrome instance with the given id.
func (d *Display) CloseChrome(id string) bool {
	d.mu.Lock()
	browser, ok := d.browsers[id]
	delete(d.browsers, id)
	d.mu.Unlock()

	if !ok {
		return false
	}

	browser.chromeCancel()

	return true
}

// Close stops every browser and the Xvfb server.
func (d *Display) Close() {
	d.logger.Info("closing display")

	d.mu.Lock()
	for id, browser := range d.browsers {
		browser.chromeCancel()
		delete(d.browsers, id)
	}
	d.mu.Unlock()

	if d.xvfb != nil {
		if err := d.xvfb.Process.Signal(os.Interrupt); err != nil {
			d.logger.Warn("failed to stop xvfb server", zap.Error(err))
		}

		_ = d.xvfb.Wait()
		d.xvfb = nil
	}

	d.unloadAudioSink()
}
