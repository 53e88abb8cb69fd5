package article

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/OmGuptaIND/screenrec/metrics"
	"go.uber.org/zap"
)

const (
	FallbackTranscript = "This is a fallback transcript. The actual transcription service is currently unavailable. Please try again later."
	EmptyTranscript    = "No transcript returned from service"
)

type WebhookTranscriberOptions struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
	Logger  *zap.Logger
}

// WebhookTranscriber posts audio to a transcription webhook. It never fails: any error is
// logged and answered with FallbackTranscript.
type WebhookTranscriber struct {
	opts   WebhookTranscriberOptions
	logger *zap.Logger
}

func NewWebhookTranscriber(opts WebhookTranscriberOptions) *WebhookTranscriber {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookTranscriber{opts: opts, logger: logger.Named("webhook")}
}

type webhookResponse struct {
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

// Transcribe returns the transcript of audio.
func (w *WebhookTranscriber) Transcribe(ctx context.Context, audio []byte) string {
	transcript, err := w.post(ctx, audio)

	if err != nil {
		w.logger.Warn("transcription webhook failed, using the fallback transcript", zap.Error(err))
		metrics.TranscriptionsTotal.WithLabelValues("fallback").Inc()
		return FallbackTranscript
	}

	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()

	return transcript
}

func (w *WebhookTranscriber) post(ctx context.Context, audio []byte) (string, error) {
	if w.opts.URL == "" {
		return "", fmt.Errorf("no webhook configured")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", "audio.webm")
	if err != nil {
		return "", err
	}

	if _, err := part.Write(audio); err != nil {
		return "", err
	}

	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.URL, body)
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := w.opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook error (HTTP %d)", resp.StatusCode)
	}

	var parsed webhookResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parsing webhook response: %w", err)
	}

	switch {
	case parsed.Transcript != "":
		return parsed.Transcript, nil
	case parsed.Text != "":
		return parsed.Text, nil
	default:
		return EmptyTranscript, nil
	}
}
