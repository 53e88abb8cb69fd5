package api

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/OmGuptaIND/screenrec/app"
	"github.com/OmGuptaIND/screenrec/metrics"
	"github.com/OmGuptaIND/screenrec/session"
	"github.com/OmGuptaIND/screenrec/store"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/utils/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ApiServerOptions defines the configuration options for the ApiServer.
type ApiServerOptions struct {
	Port int
	Wg   *sync.WaitGroup

	Session  *session.Session
	App      *app.App
	Registry *store.Registry

	Logger *zap.Logger
}

// ApiServer exposes the recording session, the credit balance and the saved tutorials over HTTP.
type ApiServer struct {
	ctx    context.Context
	app    *fiber.App
	opts   ApiServerOptions
	done   chan bool
	logger *zap.Logger
}

// NewApiServer initializes a new API server with the specified options.
func NewApiServer(ctx context.Context, opts ApiServerOptions) *ApiServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	logger = logger.Named("api")

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(logger),
	})

	apiServer := &ApiServer{
		ctx:    ctx,
		app:    app,
		opts:   opts,
		done:   make(chan bool, 1),
		logger: logger,
	}

	app.Use(metricsMiddleware)

	app.Get("/ping", apiServer.pingHandler)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/recording", apiServer.recordingStatus)
	app.Post("/recording/start", apiServer.startRecording)
	app.Post("/recording/pause", apiServer.pauseRecording)
	app.Post("/recording/resume", apiServer.resumeRecording)
	app.Post("/recording/stop", apiServer.stopRecording)
	app.Post("/recording/reset", apiServer.resetRecording)
	app.Get("/recording/artifact", apiServer.downloadRecording)

	app.Get("/credits", apiServer.getCredits)
	app.Post("/credits", apiServer.addCredits)

	app.Get("/tutorials", apiServer.listTutorials)
	app.Post("/tutorials", apiServer.saveTutorial)
	app.Get("/tutorials/:id", apiServer.getTutorial)
	app.Get("/tutorials/:id/thumbnail", apiServer.getThumbnail)
	app.Get("/tutorials/:id/artifact", apiServer.downloadTutorial)

	app.Post("/articles", apiServer.generateArticle)

	app.Use(apiServer.notFoundHandler)

	return apiServer
}

// Done returns a channel that will be closed when the server is done.
func (a *ApiServer) Done() <-chan bool {
	return a.done
}

func (a *ApiServer) pingHandler(c fiber.Ctx) error {
	return c.SendString("pong")
}

// errorHandler answers errors with plain text.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "Internal Server Error"
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			msg = e.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("request failed", zap.Int("status", code), zap.String("path", c.Path()), zap.Error(err))
		} else {
			logger.Debug("request rejected", zap.Int("status", code), zap.String("path", c.Path()), zap.String("message", msg))
		}

		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.Status(code).SendString(msg)
	}
}

// metricsMiddleware counts requests per route and status.
func metricsMiddleware(c fiber.Ctx) error {
	start := time.Now()

	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}
	}

	// Both strings point into fasthttp buffers that are reused by the next request.
	method := utils.CopyString(c.Method())
	path := utils.CopyString(c.Route().Path)

	metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

	return err
}

// `notFoundHandler` handles unmatched routes.
func (a *ApiServer) notFoundHandler(c fiber.Ctx) error {
	return fiber.NewError(fiber.StatusNotFound, "Resource not found")
}

// Start begins listening on the configured port.
func (a *ApiServer) Start() <-chan struct{} {
	addr := fmt.Sprintf(":%d", a.opts.Port)
	startedChan := make(chan struct{})

	if a.opts.Wg != nil {
		a.opts.Wg.Add(1)
	}

	go func() {
		if a.opts.Wg != nil {
			defer a.opts.Wg.Done()
		}

		err := a.app.Listen(addr, fiber.ListenConfig{
			ListenerNetwork:       "tcp",
			DisableStartupMessage: true,
			GracefulContext:       a.ctx,
			OnShutdownError: func(err error) {
				a.logger.Error("error shutting down the server", zap.Error(err))
				close(a.done)
			},
			OnShutdownSuccess: func() {
				a.logger.Info("server shutdown successfully")
				close(a.done)
			},
			ListenerAddrFunc: func(net.Addr) {
				a.logger.Info("apiServer listening", zap.Int("port", a.opts.Port))
				close(startedChan)
			},
		})

		if err != nil {
			a.logger.Error("error starting the server", zap.Error(err))
			close(startedChan)
		}
	}()

	return startedChan
}

// Close gracefully shuts down the server.
func (a *ApiServer) Close() error {
	a.logger.Info("closing the API server")

	return a.app.Shutdown()
}
