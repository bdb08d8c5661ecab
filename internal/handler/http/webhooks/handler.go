package webhooks_http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"billing/internal/app/webhooks"
	"billing/internal/handler/http/api"
)

// Webhook payloads are small JSON documents; anything larger is hostile.
const maxWebhookBody = 256 << 10

type WebhookHandler struct {
	service webhooks.WebhookService
	logger  *zap.Logger
}

func NewWebhookHandler(s webhooks.WebhookService, l *zap.Logger) *WebhookHandler {
	return &WebhookHandler{service: s, logger: l}
}

// WebhookAckResponse is the wire contract providers match on; the camelCase
// eventId key is load-bearing.
type WebhookAckResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId"`
}

// ReceiveWebhookHandler admits a provider notification. The provider is
// acknowledged as soon as the event is durably recorded; business processing
// happens after the ack and its failures are retried in the background.
func (h *WebhookHandler) ReceiveWebhookHandler(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Request body too large or unreadable", http.StatusBadRequest)
		return
	}

	result, err := h.service.Admit(r.Context(), providerName, payload, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	if !result.Duplicate {
		if err := h.service.Process(r.Context(), result.EventID); err != nil {
			h.logger.Warn("Webhook processing deferred to retry loop",
				zap.String("webhook_id", result.EventID), zap.Error(err))
		}
	}
	api.WriteJSON(w, h.logger, http.StatusOK, WebhookAckResponse{Received: true, EventID: result.EventID})
}
