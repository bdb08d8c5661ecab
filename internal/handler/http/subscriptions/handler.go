package subscriptions_http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"billing/internal/app/subscriptions"
	"billing/internal/domain"
	"billing/internal/handler/http/api"
)

type SubscriptionHandler struct {
	service  subscriptions.SubscriptionService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewSubscriptionHandler(s subscriptions.SubscriptionService, l *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: s, validate: validator.New(), logger: l}
}

type CreateSubscriptionRequest struct {
	UserID          string            `json:"user_id" validate:"required"`
	PlanID          string            `json:"plan_id" validate:"required"`
	Provider        string            `json:"provider" validate:"required"`
	BillingInterval string            `json:"billing_interval" validate:"required,oneof=MONTHLY YEARLY"`
	Amount          string            `json:"amount" validate:"required"`
	Currency        string            `json:"currency" validate:"required,len=3"`
	TrialDays       int               `json:"trial_days,omitempty" validate:"gte=0"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type CancelSubscriptionRequest struct {
	AtPeriodEnd bool   `json:"at_period_end"`
	Reason      string `json:"reason,omitempty"`
}

type SubscriptionView struct {
	ID                 string            `json:"id"`
	UserID             string            `json:"user_id"`
	PlanID             string            `json:"plan_id"`
	Status             string            `json:"status"`
	Provider           string            `json:"provider"`
	BillingInterval    string            `json:"billing_interval"`
	Amount             string            `json:"amount"`
	Currency           string            `json:"currency"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	TrialStart         *time.Time        `json:"trial_start,omitempty"`
	TrialEnd           *time.Time        `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CancelReason       string            `json:"cancel_reason,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

func NewSubscriptionView(sub *domain.Subscription) SubscriptionView {
	return SubscriptionView{
		ID:                 sub.ID,
		UserID:             sub.UserID,
		PlanID:             sub.PlanID,
		Status:             string(sub.Status),
		Provider:           sub.Provider,
		BillingInterval:    string(sub.BillingInterval),
		Amount:             sub.Amount.Amount.String(),
		Currency:           sub.Amount.Currency,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		TrialStart:         sub.TrialStart,
		TrialEnd:           sub.TrialEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelReason:       sub.CancelReason,
		CancelledAt:        sub.CancelledAt,
		Metadata:           sub.Metadata,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
	}
}

func (h *SubscriptionHandler) CreateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Malformed create subscription request body", zap.Error(err))
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

	sub, err := h.service.CreateSubscription(r.Context(), subscriptions.CreateSubscriptionRequest{
		UserID:          req.UserID,
		PlanID:          req.PlanID,
		Provider:        req.Provider,
		BillingInterval: domain.BillingInterval(req.BillingInterval),
		Amount:          amount,
		TrialDays:       req.TrialDays,
		Metadata:        req.Metadata,
	})
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusCreated, NewSubscriptionView(sub))
}

func (h *SubscriptionHandler) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, NewSubscriptionView(sub))
}

func (h *SubscriptionHandler) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req CancelSubscriptionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	sub, err := h.service.CancelSubscription(r.Context(), chi.URLParam(r, "id"), req.AtPeriodEnd, req.Reason)
	if err != nil {
		var state any
		if sub != nil {
			state = NewSubscriptionView(sub)
		}
		api.WriteErrorWithState(w, h.logger, err, state)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, NewSubscriptionView(sub))
}

func (h *SubscriptionHandler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, h.logger, err)
		return
	}
	api.WriteJSON(w, h.logger, http.StatusOK, api.NewTransactionViews(transactions))
}
