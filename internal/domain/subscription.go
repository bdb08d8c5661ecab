package domain

import (
	"time"

	"billing/internal/util"
)

type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled  SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired    SubscriptionStatus = "EXPIRED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusIncomplete, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return true
	}
	return false
}

type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "MONTHLY"
	BillingIntervalYearly  BillingInterval = "YEARLY"
)

func (i BillingInterval) Valid() bool {
	return i == BillingIntervalMonthly || i == BillingIntervalYearly
}

// MaxFailedRenewals is the number of consecutive renewal failures tolerated
// before a PAST_DUE subscription expires.
const MaxFailedRenewals = 3

// Subscription is the subscription aggregate.
type Subscription struct {
	ID                     string
	UserID                 string
	PlanID                 string
	Status                 SubscriptionStatus
	Provider               string
	ProviderSubscriptionID string
	BillingInterval        BillingInterval
	Amount                 Money
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	CancelReason           string
	CancelledAt            *time.Time
	EndedAt                *time.Time
	FailedRenewalCount     int
	Metadata               map[string]string
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewSubscription creates a subscription in INCOMPLETE: the first payment has
// not succeeded yet. Activation happens when that payment confirms.
func NewSubscription(id, userID, planID, provider string, interval BillingInterval, amount Money, periodStart, periodEnd time.Time, trialStart, trialEnd *time.Time, metadata map[string]string, now time.Time) (*Subscription, *TransitionResult, error) {
	if userID == "" {
		return nil, nil, NewValidationError("user_id", "must not be empty")
	}
	if planID == "" {
		return nil, nil, NewValidationError("plan_id", "must not be empty")
	}
	if provider == "" {
		return nil, nil, NewValidationError("provider", "must not be empty")
	}
	if !interval.Valid() {
		return nil, nil, NewValidationError("billing_interval", "unknown interval %q", interval)
	}
	if !periodEnd.After(periodStart) {
		return nil, nil, NewDomainViolation("period_bounds", "current period end must be after period start")
	}
	if (trialStart == nil) != (trialEnd == nil) {
		return nil, nil, NewValidationError("trial", "trial start and end must be set together")
	}
	if trialStart != nil && !trialEnd.After(*trialStart) {
		return nil, nil, NewValidationError("trial", "trial end must be after trial start")
	}
	if err := validateMetadata(metadata); err != nil {
		return nil, nil, err
	}

	s := &Subscription{
		ID:                 id,
		UserID:             userID,
		PlanID:             planID,
		Status:             SubscriptionStatusIncomplete,
		Provider:           provider,
		BillingInterval:    interval,
		Amount:             amount,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		TrialStart:         trialStart,
		TrialEnd:           trialEnd,
		Metadata:           metadata,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return s, &TransitionResult{Event: s.newEvent(EventSubscriptionCreated, now)}, nil
}

// Activate moves an INCOMPLETE subscription into TRIALING or ACTIVE once the
// first payment succeeds. The initial charge transaction is appended unless
// the subscription starts inside a trial window.
func (s *Subscription) Activate(providerSubscriptionID string, now time.Time) (*TransitionResult, error) {
	if s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing {
		return &TransitionResult{}, nil
	}
	if s.Status != SubscriptionStatusIncomplete {
		return nil, s.invalidTransition(SubscriptionStatusActive)
	}
	if providerSubscriptionID != "" {
		s.ProviderSubscriptionID = providerSubscriptionID
	}

	var charge *Transaction
	if s.TrialEnd != nil && now.Before(*s.TrialEnd) {
		s.Status = SubscriptionStatusTrialing
	} else {
		s.Status = SubscriptionStatusActive
		tx, err := NewSubscriptionTransaction(util.GenerateUUID(), s.ID, TransactionTypeCharge, s.Amount, s.Provider, s.ProviderSubscriptionID, now)
		if err != nil {
			return nil, err
		}
		charge = tx
	}
	s.UpdatedAt = now
	return &TransitionResult{
		Event:       s.newEvent(EventSubscriptionActivated, now),
		Transaction: charge,
	}, nil
}

// EndTrial moves a TRIALING subscription to ACTIVE at trial end.
func (s *Subscription) EndTrial(now time.Time) (*TransitionResult, error) {
	if s.Status != SubscriptionStatusTrialing {
		return nil, s.invalidTransition(SubscriptionStatusActive)
	}
	s.Status = SubscriptionStatusActive
	s.UpdatedAt = now
	return &TransitionResult{Event: s.newEvent(EventSubscriptionActivated, now)}, nil
}

// RenewalSucceeded advances the billing period, clears any past-due state and
// appends the renewal charge.
func (s *Subscription) RenewalSucceeded(periodStart, periodEnd time.Time, providerRef string, now time.Time) (*TransitionResult, error) {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPastDue && s.Status != SubscriptionStatusTrialing {
		return nil, s.invalidTransition(SubscriptionStatusActive)
	}
	if !periodEnd.After(periodStart) {
		return nil, NewDomainViolation("period_bounds", "renewal period end must be after period start")
	}
	s.Status = SubscriptionStatusActive
	s.FailedRenewalCount = 0
	s.CurrentPeriodStart = periodStart
	s.CurrentPeriodEnd = periodEnd
	s.UpdatedAt = now

	charge, err := NewSubscriptionTransaction(util.GenerateUUID(), s.ID, TransactionTypeCharge, s.Amount, s.Provider, providerRef, now)
	if err != nil {
		return nil, err
	}
	return &TransitionResult{
		Event:       s.newEvent(EventSubscriptionRenewed, now),
		Transaction: charge,
	}, nil
}

// RenewalFailed moves the subscription to PAST_DUE, or to EXPIRED once the
// bounded retry budget is exhausted.
func (s *Subscription) RenewalFailed(reason string, now time.Time) (*TransitionResult, error) {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPastDue && s.Status != SubscriptionStatusTrialing {
		return nil, s.invalidTransition(SubscriptionStatusPastDue)
	}
	s.FailedRenewalCount++
	s.UpdatedAt = now
	if s.FailedRenewalCount >= MaxFailedRenewals {
		s.Status = SubscriptionStatusExpired
		s.CancelReason = reason
		s.EndedAt = &now
		return &TransitionResult{Event: s.newEvent(EventSubscriptionExpired, now)}, nil
	}
	s.Status = SubscriptionStatusPastDue
	return &TransitionResult{Event: s.newEvent(EventSubscriptionPastDue, now)}, nil
}

// Cancel cancels immediately, or flags the subscription to cancel at period
// end while it stays ACTIVE until MaterializePeriodEnd runs.
func (s *Subscription) Cancel(atPeriodEnd bool, reason string, now time.Time) (*TransitionResult, error) {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusPastDue && s.Status != SubscriptionStatusTrialing {
		return nil, s.invalidTransition(SubscriptionStatusCancelled)
	}
	s.CancelReason = reason
	s.UpdatedAt = now
	if atPeriodEnd {
		s.CancelAtPeriodEnd = true
		return &TransitionResult{Event: s.newEvent(EventSubscriptionCancelled, now)}, nil
	}
	s.Status = SubscriptionStatusCancelled
	s.CancelledAt = &now
	s.EndedAt = &now
	return &TransitionResult{Event: s.newEvent(EventSubscriptionCancelled, now)}, nil
}

// MaterializePeriodEnd converts a pending cancel-at-period-end into CANCELLED
// once the current period has elapsed.
func (s *Subscription) MaterializePeriodEnd(now time.Time) (*TransitionResult, error) {
	if !s.CancelAtPeriodEnd || s.Status != SubscriptionStatusActive {
		return &TransitionResult{}, nil
	}
	if now.Before(s.CurrentPeriodEnd) {
		return &TransitionResult{}, nil
	}
	s.Status = SubscriptionStatusCancelled
	s.CancelledAt = &now
	s.EndedAt = &now
	s.UpdatedAt = now
	return &TransitionResult{Event: s.newEvent(EventSubscriptionCancelled, now)}, nil
}

// ExpireIncomplete expires a subscription whose first payment never
// succeeded.
func (s *Subscription) ExpireIncomplete(reason string, now time.Time) (*TransitionResult, error) {
	if s.Status != SubscriptionStatusIncomplete {
		return nil, s.invalidTransition(SubscriptionStatusExpired)
	}
	s.Status = SubscriptionStatusExpired
	s.CancelReason = reason
	s.EndedAt = &now
	s.UpdatedAt = now
	return &TransitionResult{Event: s.newEvent(EventSubscriptionExpired, now)}, nil
}

func (s *Subscription) invalidTransition(target SubscriptionStatus) error {
	return NewDomainViolation("invalid_transition", "subscription %s cannot move from %s to %s", s.ID, s.Status, target)
}

func (s *Subscription) newEvent(eventType string, now time.Time) *Event {
	return &Event{
		ID:            util.GenerateUUID(),
		Type:          eventType,
		OccurredAt:    now,
		AggregateID:   s.ID,
		AggregateType: AggregateTypeSubscription,
		Payload: SubscriptionEventPayload{
			SubscriptionID:     s.ID,
			UserID:             s.UserID,
			PlanID:             s.PlanID,
			Status:             string(s.Status),
			Provider:           s.Provider,
			CurrentPeriodStart: s.CurrentPeriodStart,
			CurrentPeriodEnd:   s.CurrentPeriodEnd,
			CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
			CancelReason:       s.CancelReason,
		},
	}
}
