// Package app runs the paid actions on a finished recording: saving it as a tutorial and
// generating an article from it. Credits are spent before the action and refunded when the
// action fails.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OmGuptaIND/screenrec/article"
	"github.com/OmGuptaIND/screenrec/cloud"
	"github.com/OmGuptaIND/screenrec/config"
	"github.com/OmGuptaIND/screenrec/credits"
	"github.com/OmGuptaIND/screenrec/executor"
	"github.com/OmGuptaIND/screenrec/metrics"
	"github.com/OmGuptaIND/screenrec/session"
	"github.com/OmGuptaIND/screenrec/store"
	"go.uber.org/zap"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrNoRecording         = errors.New("no finished recording")
	ErrEmptyTitle          = errors.New("tutorial title is required")
	ErrUnknownPackage      = errors.New("unknown credit package")
	ErrArtifactUnavailable = errors.New("tutorial artifact is not available")
)

// CreditError is returned when the balance does not cover an action.
type CreditError struct {
	Required int64
	Balance  int64
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("%s: %d required, %d available", ErrInsufficientCredits, e.Required, e.Balance)
}

func (e *CreditError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// ArtifactSource hands out the finished recording, nil while there is none.
type ArtifactSource interface {
	Artifact() *session.Artifact
}

type Options struct {
	Recordings ArtifactSource
	Ledger     *credits.Ledger
	Registry   *store.Registry
	Articles   *article.Generator

	// Cloud and Uploads are optional; without them saved tutorials keep no artifact.
	Cloud   cloud.CloudClient
	Uploads *executor.WorkerExecutor

	SaveCost    int64
	ArticleCost int64
	Packages    []int64

	Logger *zap.Logger
}

type App struct {
	ctx    context.Context
	opts   Options
	logger *zap.Logger
}

// New binds the paid actions. ctx bounds the background uploads.
func New(ctx context.Context, opts Options) *App {
	if opts.SaveCost <= 0 {
		opts.SaveCost = config.SAVE_TUTORIAL_COST
	}

	if opts.ArticleCost <= 0 {
		opts.ArticleCost = config.GENERATE_ARTICLE_COST
	}

	if opts.Packages == nil {
		opts.Packages = config.CREDIT_PACKAGES
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &App{
		ctx:    context.WithoutCancel(ctx),
		opts:   opts,
		logger: logger.Named("app"),
	}
}

func (a *App) SaveCost() int64 { return a.opts.SaveCost }

func (a *App) ArticleCost() int64 { return a.opts.ArticleCost }

func (a *App) Packages() []int64 { return slices.Clone(a.opts.Packages) }

func (a *App) Balance() int64 { return a.opts.Ledger.Balance() }

// BuyCredits adds one of the credit packages to the balance.
func (a *App) BuyCredits(amount int64) (int64, error) {
	if !slices.Contains(a.opts.Packages, amount) {
		return a.opts.Ledger.Balance(), fmt.Errorf("%w: %d", ErrUnknownPackage, amount)
	}

	a.opts.Ledger.Add(amount)
	a.logger.Info("credits added", zap.Int64("amount", amount))

	return a.opts.Ledger.Balance(), nil
}

func (a *App) spend(amount int64) error {
	if a.opts.Ledger.Spend(amount) {
		return nil
	}

	return &CreditError{Required: amount, Balance: a.opts.Ledger.Balance()}
}

func (a *App) refund(amount int64, reason error) {
	a.opts.Ledger.Add(amount)
	a.logger.Warn("action failed, credits refunded", zap.Int64("amount", amount), zap.Error(reason))
}

func (a *App) artifact() (*session.Artifact, error) {
	art := a.opts.Recordings.Artifact()
	if art == nil {
		return nil, ErrNoRecording
	}

	return art, nil
}

// SaveTutorial records the finished recording under title. Its artifact is uploaded in the
// background; the returned tutorial reports the upload as pending.
func (a *App) SaveTutorial(ctx context.Context, title string) (*store.Tutorial, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	art, err := a.artifact()
	if err != nil {
		return nil, err
	}

	if err := a.spend(a.opts.SaveCost); err != nil {
		return nil, err
	}

	tut, err := a.opts.Registry.AddTutorial(ctx, title, art)

	if err != nil {
		a.refund(a.opts.SaveCost, err)
		return nil, err
	}

	a.logger.Info("tutorial saved", zap.String("tutorial_id", tut.ID), zap.String("title", tut.Title))

	a.upload(tut, art)

	return tut, nil
}

// upload queues the artifact of a saved tutorial for storage.
func (a *App) upload(tut *store.Tutorial, art *session.Artifact) {
	if a.opts.Cloud == nil || a.opts.Uploads == nil {
		return
	}

	key := fmt.Sprintf("tutorials/%s.%s", tut.ID, art.Extension())
	status := store.UploadUploaded

	if !a.opts.Cloud.Remote() {
		status = store.UploadLocal
	}

	logger := a.logger.With(zap.String("tutorial_id", tut.ID), zap.String("key", key))

	markFailed := func(err error) {
		logger.Error("artifact upload failed", zap.Error(err))
		metrics.UploadsTotal.WithLabelValues(string(store.UploadFailed)).Inc()

		if err := a.opts.Registry.SetUpload(a.ctx, tut.ID, "", store.UploadFailed); err != nil {
			logger.Error("failed to record upload failure", zap.Error(err))
		}
	}

	err := a.opts.Uploads.Enqueue(executor.Job{
		Id:  "upload_" + tut.ID,
		Ctx: a.ctx,
		JobFunc: func() error {
			location, err := a.opts.Cloud.UploadArtifact(a.ctx, key, art.Reader(), art.MimeType())
			if err == nil {
				logger.Debug("artifact stored", zap.String("location", location))
			}
			return err
		},
		OnSuccess: func() {
			metrics.UploadsTotal.WithLabelValues(string(status)).Inc()

			if err := a.opts.Registry.SetUpload(a.ctx, tut.ID, key, status); err != nil {
				logger.Error("failed to record upload", zap.Error(err))
			}
		},
		OnError: markFailed,
	})

	if err != nil {
		markFailed(err)
	}
}

// TutorialArtifact returns the stored recording of a tutorial.
func (a *App) TutorialArtifact(ctx context.Context, id string) (*store.Tutorial, []byte, error) {
	tut, err := a.opts.Registry.GetTutorial(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if tut.ArtifactRef == "" || a.opts.Cloud == nil {
		return tut, nil, ErrArtifactUnavailable
	}

	data, err := a.opts.Cloud.DownloadArtifact(ctx, tut.ArtifactRef)
	if err != nil {
		return tut, nil, err
	}

	return tut, data, nil
}

// GenerateArticle transcribes the finished recording and renders the article.
func (a *App) GenerateArticle(ctx context.Context) (*article.Result, error) {
	art, err := a.artifact()
	if err != nil {
		return nil, err
	}

	if err := a.spend(a.opts.ArticleCost); err != nil {
		return nil, err
	}

	res, err := a.opts.Articles.Generate(ctx, art)

	if err != nil {
		a.refund(a.opts.ArticleCost, err)
		return nil, err
	}

	return res, nil
}
