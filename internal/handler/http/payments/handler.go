package payments_http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"billing/internal/app/payments"
	"billing/internal/domain"
	"billing/internal/handler/http/api"
)

type PaymentHandler struct {
	service  payments.PaymentService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewPaymentHandler(s payments.PaymentService, l *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: s, validate: validator.New(), logger: l}
}

type CreatePaymentRequest struct {
	UserID   string            `json:"user_id" validate:"required"`
	Amount   string            `json:"amount" validate:"required"`
	Currency string            `json:"currency" validate:"required,len=3"`
	Provider string            `json:"provider,omitempty"`
	Region   string            `json:"region,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type RefundPaymentRequest struct {
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

func (h *PaymentHandler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		api.WriteError(w, h.logger, domain.NewValidationError("Idempotency-Key", "header is required"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Request body too large or unreadable", http.StatusBadRequest)
		return
	}

	var req CreatePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("Malformed create payment request body", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, h.logger, domain.NewValidationError("body", "%s", err))
		return
	}
	amount, err := domain.MoneyFromString(req.Amount, req.Currency)
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}

	result, err := h.service.CreatePayment(r.Context(), payments.CreatePaymentRequest{
		IdempotencyKey: idempotencyKey,
		Fingerprint:    domain.RequestFingerprint(r.Method, r.URL.Path, body),
		UserID:         req.UserID,
		Amount:         amount,
		Provider:       req.Provider,
		Region:         req.Region,
		Metadata:       req.Metadata,
	})
	if err != nil {
		var state any
		if result != nil && result.Payment != nil {
			state = payments.NewPaymentView(result.Payment)
		}
		api.WriteErrorWithState(w, h.logger, err, state)
		return
	}
	if result.Replayed {
		api.WriteRaw(w, h.logger, result.StoredStatus, result.StoredBody)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusCreated, payments.NewPaymentView(result.Payment))
}

func (h *PaymentHandler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, payments.NewPaymentView(payment))
}

func (h *PaymentHandler) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.VerifyPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeMutationResult(w, payment, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, payments.NewPaymentView(payment))
}

func (h *PaymentHandler) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req RefundPaymentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	// An absent amount refunds the full remaining balance.
	var amount *domain.Money
	if req.Amount != "" {
		m, err := domain.MoneyFromString(req.Amount, req.Currency)
		if err != nil {
			api.WriteError(w, h.logger, err)
			return
		}
		amount = &m
	}

	payment, err := h.service.RefundPayment(r.Context(), chi.URLParam(r, "id"), amount)
	if err != nil {
		h.writeMutationResult(w, payment, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, payments.NewPaymentView(payment))
}

func (h *PaymentHandler) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeMutationResult(w, payment, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, payments.NewPaymentView(payment))
}

func (h *PaymentHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, api.NewTransactionViews(transactions))
}

// writeMutationResult reports a rejected mutation together with the payment's
// current state when it is known.
func (h *PaymentHandler) writeMutationResult(w http.ResponseWriter, payment *domain.Payment, err error) {
	var state any
	if payment != nil {
		state = payments.NewPaymentView(payment)
	}
	api.WriteErrorWithState(w, h.logger, err, state)
}
