package webhooks_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"billing/internal/app/webhooks"
)

func RegisterRoutes(r chi.Router, s webhooks.WebhookService, l *zap.Logger) {
	handler := NewWebhookHandler(s, l.With(zap.String("component", "WebhookHTTPHandler")))

	r.Post("/webhooks/{provider}", handler.ReceiveWebhookHandler)
}
