// Package notify delivers pipeline run summaries to operators.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/sethgrid/pester"
	"go.uber.org/zap"

	"github.com/noah-isme/etd-pipeline/pkg/config"
)

const userAgent = "etd-pipeline/1.0"

// Summary is the outcome of one batch run.
type Summary struct {
	Title     string
	Processed int
	Errors    []string
	Lines     []string
	// Attachment is an optional rendered report (PDF) sent alongside the message.
	Attachment     []byte
	AttachmentName string
}

// Failed reports whether any error was recorded.
func (s Summary) Failed() bool { return len(s.Errors) > 0 }

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyReconciliation(ctx context.Context, summary Summary) error
	NotifyPreservation(ctx context.Context, summary Summary) error
	NotifyProquestExport(ctx context.Context, summary Summary) error
	NotifyError(ctx context.Context, err error, label string) error
}

// NewService builds a webhook-backed notifier when a URL is configured,
// otherwise a notifier that only logs.
func NewService(cfg config.NotificationConfig, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := strings.TrimSpace(cfg.WebhookURL)
	if endpoint == "" {
		return &logService{logger: logger}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = attempts
	client.RetryOnHTTP429 = true
	client.Timeout = timeout

	return &webhookService{endpoint: endpoint, client: client, logger: logger}
}

// Noop discards every notification.
func Noop() Service { return noopService{} }

type payload struct {
	Title          string   `json:"title"`
	Message        string   `json:"message"`
	Tags           []string `json:"tags,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	AttachmentName string   `json:"attachment_name,omitempty"`
	Attachment     string   `json:"attachment,omitempty"`
}

type doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type webhookService struct {
	endpoint string
	client   doer
	logger   *zap.Logger
}

func (w *webhookService) NotifyReconciliation(ctx context.Context, summary Summary) error {
	return w.send(ctx, summaryPayload("ETD - Results Processed", summary, "reconcile"))
}

func (w *webhookService) NotifyPreservation(ctx context.Context, summary Summary) error {
	return w.send(ctx, summaryPayload("ETD - Preservation Submitted", summary, "preservation"))
}

func (w *webhookService) NotifyProquestExport(ctx context.Context, summary Summary) error {
	return w.send(ctx, summaryPayload("ETD - ProQuest Export", summary, "proquest"))
}

func (w *webhookService) NotifyError(ctx context.Context, err error, label string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if label = strings.TrimSpace(label); label != "" {
		builder.WriteString(" during ")
		builder.WriteString(label)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return w.send(ctx, payload{
		Title:    "ETD - Error",
		Message:  builder.String(),
		Tags:     []string{"etd", "error"},
		Priority: "high",
	})
}

func summaryPayload(title string, summary Summary, tag string) payload {
	if summary.Title != "" {
		title = summary.Title
	}
	p := payload{
		Title:   title,
		Message: FormatSummary(summary),
		Tags:    []string{"etd", tag},
	}
	if summary.Failed() {
		p.Title = title + " (with errors)"
		p.Priority = "high"
	}
	if len(summary.Attachment) > 0 {
		p.AttachmentName = summary.AttachmentName
		p.Attachment = base64.StdEncoding.EncodeToString(summary.Attachment)
	}
	return p
}

// FormatSummary renders the plain-text body shared by every notifier.
func FormatSummary(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed: %d\n", summary.Processed)
	fmt.Fprintf(&b, "Errors: %d\n", len(summary.Errors))
	for _, line := range summary.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if len(summary.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range summary.Errors {
			b.WriteString("- ")
			b.WriteString(e)
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (w *webhookService) send(ctx context.Context, data payload) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("notification webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	w.logger.Sugar().Debugw("notification sent", "title", data.Title)
	return nil
}

type logService struct {
	logger *zap.Logger
}

func (l *logService) NotifyReconciliation(_ context.Context, summary Summary) error {
	l.log("results processed", summary)
	return nil
}

func (l *logService) NotifyPreservation(_ context.Context, summary Summary) error {
	l.log("preservation submitted", summary)
	return nil
}

func (l *logService) NotifyProquestExport(_ context.Context, summary Summary) error {
	l.log("proquest export", summary)
	return nil
}

func (l *logService) NotifyError(_ context.Context, err error, label string) error {
	l.logger.Sugar().Errorw("pipeline error", "label", label, "error", err)
	return nil
}

func (l *logService) log(msg string, summary Summary) {
	l.logger.Sugar().Infow(msg, "processed", summary.Processed, "errors", summary.Errors)
}

type noopService struct{}

func (noopService) NotifyReconciliation(context.Context, Summary) error { return nil }
func (noopService) NotifyPreservation(context.Context, Summary) error   { return nil }
func (noopService) NotifyProquestExport(context.Context, Summary) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error    { return nil }
