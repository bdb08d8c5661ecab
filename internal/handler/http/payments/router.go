package payments_http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"billing/internal/app/payments"
)

func RegisterRoutes(r chi.Router, s payments.PaymentService, l *zap.Logger) {
	handler := NewPaymentHandler(s, l.With(zap.String("component", "PaymentHTTPHandler")))

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", handler.CreatePaymentHandler)
		r.Get("/{id}", handler.GetPaymentHandler)
		r.Post("/{id}/verify", handler.VerifyPaymentHandler)
		r.Post("/{id}/refund", handler.RefundPaymentHandler)
		r.Post("/{id}/cancel", handler.CancelPaymentHandler)
		r.Get("/{id}/transactions", handler.ListTransactionsHandler)
	})
}
