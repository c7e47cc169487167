package audit

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookSink posts each event as JSON to URL in the background.
type WebhookSink struct {
	URL    string
	Client *resty.Client
	Logger *zap.Logger

	wg sync.WaitGroup
}

func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WebhookSink{URL: url, Client: client, Logger: logger}
}

func (w *WebhookSink) Record(ctx context.Context, e Event) {
	if w == nil || w.URL == "" || w.Client == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		resp, err := w.Client.R().
			SetContext(ctx).
			SetBody(e).
			Post(w.URL)
		if err != nil {
			w.logFailure(e, zap.Error(err))
			return
		}
		if resp.IsError() {
			w.logFailure(e, zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
		}
	}()
}

// Wait blocks until every in-flight delivery has finished.
func (w *WebhookSink) Wait() {
	w.wg.Wait()
}

func (w *WebhookSink) logFailure(e Event, fields ...zap.Field) {
	if w.Logger == nil {
		return
	}
	fields = append(fields, zap.String("event_id", e.ID), zap.String("action", e.Action))
	w.Logger.Warn("[AUDIT-WEBHOOK] delivery failed", fields...)
}
