package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/OmGuptaIND/screenrec/api"
	"github.com/OmGuptaIND/screenrec/app"
	"github.com/OmGuptaIND/screenrec/article"
	"github.com/OmGuptaIND/screenrec/capture"
	"github.com/OmGuptaIND/screenrec/cloud"
	"github.com/OmGuptaIND/screenrec/config"
	"github.com/OmGuptaIND/screenrec/credits"
	"github.com/OmGuptaIND/screenrec/display"
	"github.com/OmGuptaIND/screenrec/env"
	"github.com/OmGuptaIND/screenrec/executor"
	"github.com/OmGuptaIND/screenrec/logger"
	"github.com/OmGuptaIND/screenrec/pkg"
	"github.com/OmGuptaIND/screenrec/recorder"
	"github.com/OmGuptaIND/screenrec/session"
	"github.com/OmGuptaIND/screenrec/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadEnvironmentVariables(*envFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			return serve(cfg)
		},
	}
}

func serve(cfg *env.Env) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, level := logger.New(logger.LoggerOpts{Level: cfg.LogLevel, Development: cfg.IsDevelopment()})
	defer func() { _ = log.Sync() }()

	cfg.OnLogLevelChange(func(l string) {
		level.SetLevel(logger.ParseLevel(l))
		log.Info("log level changed", zap.String("level", l))
	})

	if err := pkg.CreateDirectory(cfg.RecordingsDir); err != nil {
		return err
	}

	if err := pkg.CreateDirectory(filepath.Dir(cfg.DatabasePath)); err != nil {
		return err
	}

	screenInput, screenAudio := cfg.ScreenInput, cfg.ScreenAudio
	screenWidth, screenHeight := cfg.ScreenWidth, cfg.ScreenHeight

	if cfg.VirtualDisplay {
		opts := config.DEFAULT_DISPLAY_OPTS
		opts.Display = pkg.RandomDisplay()
		opts.Logger = log

		d := display.NewDisplay(opts)

		if err := d.Launch(ctx, cfg.VirtualDisplayUrl); err != nil {
			return fmt.Errorf("launching virtual display: %w", err)
		}

		defer d.Close()

		screenInput = d.ScreenInput()
		screenWidth, screenHeight = d.Size()

		if source := d.AudioSource(); source != "" {
			screenAudio = source
		}
	}

	sess := session.New(session.Options{
		Acquirer: capture.NewFFmpegAcquirer(capture.FFmpegAcquirerOptions{
			FFmpegPath:   cfg.FFmpegPath,
			ScreenInput:  screenInput,
			ScreenWidth:  screenWidth,
			ScreenHeight: screenHeight,
			ScreenAudio:  screenAudio,
			WebcamDevice: cfg.WebcamDevice,
			WebcamWidth:  cfg.WebcamWidth,
			WebcamHeight: cfg.WebcamHeight,
			MicDevice:    cfg.MicDevice,
			Logger:       log,
		}),
		Encoder: recorder.NewFFmpegEncoder(recorder.FFmpegEncoderOptions{
			FFmpegPath:     cfg.FFmpegPath,
			ShowFfmpegLogs: cfg.IsDevelopment(),
			Logger:         log,
		}),
		Logger: log,
	})
	defer sess.Reset()

	registry, err := store.NewRegistry(ctx, store.RegistryOptions{Path: cfg.DatabasePath, Logger: log})
	if err != nil {
		return err
	}
	defer registry.Close()

	var storage cloud.CloudClient

	if cfg.HasBucket() {
		storage, err = cloud.NewAwsClient(cloud.AwsClientOptions{
			BucketName: cfg.BucketName,
			Endpoint:   cfg.BucketEndpoint,
			Region:     cfg.BucketRegion,
			KeyId:      cfg.BucketKeyId,
			AppKey:     cfg.BucketAppKey,
			Logger:     log,
		})
	} else {
		storage, err = cloud.NewLocalClient(cfg.RecordingsDir)
	}

	if err != nil {
		return fmt.Errorf("creating artifact storage: %w", err)
	}

	uploads := executor.NewWorkerExecutor(ctx, &executor.WorkerExecutorOptions{
		MaxRetries:   3,
		WorkerCount:  2,
		QueueSize:    16,
		RetryBackoff: time.Second,
		Logger:       log,
	})
	uploads.Start()

	application := app.New(ctx, app.Options{
		Recordings: sess,
		Ledger:     credits.New(cfg.InitialCredits),
		Registry:   registry,
		Articles: &article.Generator{
			Extractor:   article.NewFFmpegExtractor(article.FFmpegExtractorOptions{FFmpegPath: cfg.FFmpegPath, Logger: log}),
			Transcriber: article.NewWebhookTranscriber(article.WebhookTranscriberOptions{URL: cfg.WebhookUrl, Logger: log}),
		},
		Cloud:   storage,
		Uploads: uploads,
		Logger:  log,
	})

	var wg sync.WaitGroup

	apiServer := api.NewApiServer(ctx, api.ApiServerOptions{
		Port:     cfg.Port,
		Wg:       &wg,
		Session:  sess,
		App:      application,
		Registry: registry,
		Logger:   log,
	})

	<-apiServer.Start()

	sig := pkg.HandleSignal()

	for val := range sig {
		if val == syscall.SIGINT || val == syscall.SIGTERM {
			log.Info("shutting down", zap.String("signal", val.String()))
			break
		}
	}

	if err := apiServer.Close(); err != nil {
		log.Error("failed to close the API server", zap.Error(err))
	}

	wg.Wait()

	// Let queued uploads finish before the registry closes.
	uploads.Stop()

	done := make(chan struct{})
	go func() {
		uploads.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		log.Warn("uploads still running at shutdown")
	}

	return nil
}
