package subscriptions_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"billing/internal/app/subscriptions"
)

func RegisterRoutes(r chi.Router, s subscriptions.SubscriptionService, l *zap.Logger) {
	handler := NewSubscriptionHandler(s, l.With(zap.String("component", "SubscriptionHTTPHandler")))

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", handler.CreateSubscriptionHandler)
		r.Get("/{id}", handler.GetSubscriptionHandler)
		r.Post("/{id}/cancel", handler.CancelSubscriptionHandler)
		r.Get("/{id}/transactions", handler.ListTransactionsHandler)
	})
}
