package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"sync"
	"time"

	"github.com/OmGuptaIND/screenrec/metrics"
	"github.com/OmGuptaIND/screenrec/pkg"
	"github.com/disintegration/imaging"
	_ "github.com/mattn/go-sqlite3" // SQLite3 driver
	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

const thumbnailWidth = 320

type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
	UploadLocal    UploadStatus = "local"
)

var ErrNotFound = errors.New("tutorial not found")

// Recording is what the registry needs from a finalized artifact.
type Recording interface {
	Duration() float64
	Thumbnail() image.Image
	MimeType() string
	Size() int
}

// Tutorial is a saved recording.
type Tutorial struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	CreatedAt       time.Time    `json:"createdAt"`
	Date            string       `json:"date"`
	Duration        string       `json:"duration"`
	DurationSeconds float64      `json:"durationSeconds"`
	MimeType        string       `json:"mimeType"`
	Size            int64        `json:"size"`
	HasThumbnail    bool         `json:"hasThumbnail"`
	ArtifactRef     string       `json:"artifactRef,omitempty"`
	UploadStatus    UploadStatus `json:"uploadStatus"`
}

type RegistryOptions struct {
	// Path of the sqlite file, ":memory:" works for tests.
	Path string

	// Now defaults to time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

// Registry persists tutorial metadata and thumbnails in sqlite. Video bytes are never stored
// here; ArtifactRef points to wherever the artifact was uploaded.
type Registry struct {
	db *sql.DB

	idMtx  sync.Mutex
	lastID int64

	now    func() time.Time
	logger *zap.Logger
}

// NewRegistry opens the database and creates the schema.
func NewRegistry(ctx context.Context, opts RegistryOptions) (*Registry, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", opts.Path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database after ping failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	r := &Registry{
		db:     db,
		now:    opts.Now,
		logger: logger.Named("store"),
	}

	if err := r.initialize(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close database after initialization failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	r.logger.Info("tutorial registry ready", zap.String("path", opts.Path))

	return r, nil
}

func (r *Registry) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tutorials (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		date TEXT NOT NULL,
		duration_label TEXT NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		thumbnail BLOB,
		artifact_ref TEXT NOT NULL DEFAULT '',
		upload_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_tutorials_created_at ON tutorials(created_at);
	`

	_, err := r.db.ExecContext(ctx, schema)

	return err
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// nextID returns the creation timestamp in milliseconds, bumped when two tutorials are saved
// within the same millisecond.
func (r *Registry) nextID(createdAt time.Time) string {
	r.idMtx.Lock()
	defer r.idMtx.Unlock()

	id := createdAt.UnixMilli()
	if id <= r.lastID {
		id = r.lastID + 1
	}
	r.lastID = id

	return strconv.FormatInt(id, 10)
}

// AddTutorial records a saved recording. The thumbnail is downscaled and stored as JPEG.
func (r *Registry) AddTutorial(ctx context.Context, title string, rec Recording) (*Tutorial, error) {
	if rec == nil {
		return nil, errors.New("no recording to save")
	}

	start := time.Now()
	createdAt := r.now()

	t := &Tutorial{
		ID:              r.nextID(createdAt),
		Title:           title,
		CreatedAt:       createdAt.UTC().Truncate(time.Millisecond),
		Date:            pkg.ISODate(createdAt),
		Duration:        pkg.FormatDuration(rec.Duration()),
		DurationSeconds: rec.Duration(),
		MimeType:        rec.MimeType(),
		Size:            int64(rec.Size()),
		UploadStatus:    UploadPending,
	}

	thumb, err := encodeThumbnail(rec.Thumbnail())

	if err != nil {
		r.logger.Warn("failed to encode thumbnail", zap.String("tutorial_id", t.ID), zap.Error(err))
		thumb = nil
	}

	t.HasThumbnail = thumb != nil

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tutorials (id, title, created_at, date, duration_label, duration_seconds, mime_type, size, thumbnail, upload_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.CreatedAt.UnixMilli(), t.Date, t.Duration, t.DurationSeconds, t.MimeType, t.Size, thumb, string(t.UploadStatus),
	)

	recordQuery("add_tutorial", start, err)

	if err != nil {
		return nil, fmt.Errorf("failed to insert tutorial: %w", err)
	}

	metrics.TutorialsSavedTotal.Inc()

	return t, nil
}

const selectColumns = `id, title, created_at, date, duration_label, duration_seconds, mime_type, size,
	thumbnail IS NOT NULL, artifact_ref, upload_status`

// ListTutorials returns every tutorial, newest first.
func (r *Registry) ListTutorials(ctx context.Context) ([]Tutorial, error) {
	start := time.Now()

	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tutorials ORDER BY created_at DESC, id DESC`)

	if err != nil {
		recordQuery("list_tutorials", start, err)
		return nil, fmt.Errorf("failed to list tutorials: %w", err)
	}
	defer rows.Close()

	tutorials := make([]Tutorial, 0)

	for rows.Next() {
		t, err := scanTutorial(rows)
		if err != nil {
			recordQuery("list_tutorials", start, err)
			return nil, err
		}

		tutorials = append(tutorials, *t)
	}

	err = rows.Err()
	recordQuery("list_tutorials", start, err)

	return tutorials, err
}

// GetTutorial returns one tutorial or ErrNotFound.
func (r *Registry) GetTutorial(ctx context.Context, id string) (*Tutorial, error) {
	start := time.Now()

	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tutorials WHERE id = ?`, id)

	t, err := scanTutorial(row)
	recordQuery("get_tutorial", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return t, err
}

// Thumbnail returns the JPEG thumbnail of a tutorial, ErrNotFound when there is none.
func (r *Registry) Thumbnail(ctx context.Context, id string) ([]byte, error) {
	var thumb []byte

	err := r.db.QueryRowContext(ctx, `SELECT thumbnail FROM tutorials WHERE id = ?`, id).Scan(&thumb)

	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(thumb) == 0) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail: %w", err)
	}

	return thumb, nil
}

// SetUpload records where the artifact of a tutorial went and the upload outcome.
func (r *Registry) SetUpload(ctx context.Context, id, ref string, status UploadStatus) error {
	start := time.Now()

	res, err := r.db.ExecContext(ctx, `UPDATE tutorials SET artifact_ref = ?, upload_status = ? WHERE id = ?`, ref, string(status), id)
	recordQuery("set_upload", start, err)

	if err != nil {
		return fmt.Errorf("failed to update upload status: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTutorial(s scanner) (*Tutorial, error) {
	var (
		t         Tutorial
		createdAt int64
		status    string
	)

	err := s.Scan(
		&t.ID, &t.Title, &createdAt, &t.Date, &t.Duration, &t.DurationSeconds, &t.MimeType, &t.Size,
		&t.HasThumbnail, &t.ArtifactRef, &status,
	)

	if err != nil {
		return nil, err
	}

	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UploadStatus = UploadStatus(status)

	return &t, nil
}

func encodeThumbnail(img image.Image) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}

	if img.Bounds().Dx() > thumbnailWidth {
		img = imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer

	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}

	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
