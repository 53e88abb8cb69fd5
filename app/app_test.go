package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/OmGuptaIND/screenrec/article"
	"github.com/OmGuptaIND/screenrec/cloud"
	"github.com/OmGuptaIND/screenrec/credits"
	"github.com/OmGuptaIND/screenrec/executor"
	"github.com/OmGuptaIND/screenrec/session"
	"github.com/OmGuptaIND/screenrec/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRecording struct {
	artifact *session.Artifact
}

func (f *fixedRecording) Artifact() *session.Artifact { return f.artifact }

func testArtifact() *session.Artifact {
	return session.NewArtifact([]byte("webm bytes"), "video/webm", "webm", time.Date(2024, 5, 15, 8, 0, 0, 0, time.UTC), 65, nil)
}

type fixture struct {
	app      *App
	ledger   *credits.Ledger
	registry *store.Registry
	rec      *fixedRecording
}

func newFixture(t *testing.T, balance int64, webhookURL string) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	registry, err := store.NewRegistry(ctx, store.RegistryOptions{Path: filepath.Join(t.TempDir(), "tutorials.db")})
	require.NoError(t, err)

	local, err := cloud.NewLocalClient(t.TempDir())
	require.NoError(t, err)

	uploads := executor.NewWorkerExecutor(ctx, &executor.WorkerExecutorOptions{
		MaxRetries:   1,
		WorkerCount:  1,
		QueueSize:    4,
		RetryBackoff: time.Millisecond,
	})
	uploads.Start()

	t.Cleanup(func() {
		uploads.Stop()
		uploads.Wait()
		cancel()
		_ = registry.Close()
	})

	ledger := credits.New(balance)
	rec := &fixedRecording{artifact: testArtifact()}

	a := New(ctx, Options{
		Recordings: rec,
		Ledger:     ledger,
		Registry:   registry,
		Articles: &article.Generator{
			Transcriber: article.NewWebhookTranscriber(article.WebhookTranscriberOptions{URL: webhookURL}),
		},
		Cloud:   local,
		Uploads: uploads,
	})

	return &fixture{app: a, ledger: ledger, registry: registry, rec: rec}
}

func TestSaveTutorialSpendsAndUploads(t *testing.T) {
	f := newFixture(t, 10000, "")

	tut, err := f.app.SaveTutorial(context.Background(), "  Creating products  ")

	require.NoError(t, err)
	assert.Equal(t, "Creating products", tut.Title)
	assert.Equal(t, "01:05", tut.Duration)
	assert.Equal(t, int64(9500), f.ledger.Balance())

	assert.Eventually(t, func() bool {
		got, err := f.registry.GetTutorial(context.Background(), tut.ID)
		return err == nil && got.UploadStatus == store.UploadLocal
	}, 2*time.Second, 10*time.Millisecond)

	stored, data, err := f.app.TutorialArtifact(context.Background(), tut.ID)

	require.NoError(t, err)
	assert.Equal(t, "tutorials/"+tut.ID+".webm", stored.ArtifactRef)
	assert.Equal(t, "webm bytes", string(data))
}

func TestSaveTutorialInsufficientCredits(t *testing.T) {
	f := newFixture(t, 100, "")

	_, err := f.app.SaveTutorial(context.Background(), "title")

	assert.ErrorIs(t, err, ErrInsufficientCredits)

	var creditErr *CreditError
	require.ErrorAs(t, err, &creditErr)
	assert.Equal(t, int64(500), creditErr.Required)
	assert.Equal(t, int64(100), creditErr.Balance)
	assert.Equal(t, int64(100), f.ledger.Balance())

	list, err := f.registry.ListTutorials(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSaveTutorialWithoutRecording(t *testing.T) {
	f := newFixture(t, 10000, "")
	f.rec.artifact = nil

	_, err := f.app.SaveTutorial(context.Background(), "title")

	assert.ErrorIs(t, err, ErrNoRecording)
	assert.Equal(t, int64(10000), f.ledger.Balance())
}

func TestSaveTutorialRequiresTitle(t *testing.T) {
	f := newFixture(t, 10000, "")

	_, err := f.app.SaveTutorial(context.Background(), "   ")

	assert.ErrorIs(t, err, ErrEmptyTitle)
	assert.Equal(t, int64(10000), f.ledger.Balance())
}

func TestSaveTutorialRefundsOnFailure(t *testing.T) {
	f := newFixture(t, 10000, "")
	require.NoError(t, f.registry.Close())

	_, err := f.app.SaveTutorial(context.Background(), "title")

	assert.Error(t, err)
	assert.Equal(t, int64(10000), f.ledger.Balance())
}

func TestGenerateArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"open the settings page"}`))
	}))
	defer srv.Close()

	f := newFixture(t, 10000, srv.URL)

	res, err := f.app.GenerateArticle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "open the settings page", res.Transcript)
	assert.Contains(t, res.Article, "open the settings page")
	assert.Equal(t, int64(9000), f.ledger.Balance())
}

func TestGenerateArticleFallbackStillCharges(t *testing.T) {
	f := newFixture(t, 10000, "")

	res, err := f.app.GenerateArticle(context.Background())

	require.NoError(t, err)
	assert.Equal(t, article.FallbackTranscript, res.Transcript)
	assert.Equal(t, int64(9000), f.ledger.Balance())
}

func TestGenerateArticleInsufficientCredits(t *testing.T) {
	f := newFixture(t, 500, "")

	_, err := f.app.GenerateArticle(context.Background())

	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, int64(500), f.ledger.Balance())
}

func TestBuyCredits(t *testing.T) {
	f := newFixture(t, 0, "")

	balance, err := f.app.BuyCredits(15000)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance)

	_, err = f.app.BuyCredits(1234)
	assert.ErrorIs(t, err, ErrUnknownPackage)
	assert.Equal(t, int64(15000), f.ledger.Balance())
}

func TestTutorialArtifactUnavailable(t *testing.T) {
	f := newFixture(t, 10000, "")

	tut, err := f.registry.AddTutorial(context.Background(), "no upload", testArtifact())
	require.NoError(t, err)

	_, _, err = f.app.TutorialArtifact(context.Background(), tut.ID)
	assert.ErrorIs(t, err, ErrArtifactUnavailable)

	_, _, err = f.app.TutorialArtifact(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
