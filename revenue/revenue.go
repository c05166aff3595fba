// Package revenue records purchases, subscription lifecycle changes and
// refunds as business metrics and keeps the matching user profile fields
// (plan, lifecycle_stage, total_spend, purchase_count) current.
package revenue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clicktrail/api/tracker"
)

// Subscription lifecycle changes.
const (
	Started    = "started"
	Upgraded   = "upgraded"
	Downgraded = "downgraded"
	Renewed    = "renewed"
	Cancelled  = "cancelled"
)

var lifecycles = map[string]bool{Started: true, Upgraded: true, Downgraded: true, Renewed: true, Cancelled: true}

// HighValueAmount is the purchase amount that turns on session recording
// for the buyer's tab.
const HighValueAmount = 1000.0

var ErrInvalid = errors.New("invalid revenue event")

type Purchase struct {
	OrderID  string  `json:"order_id" binding:"required"`
	Product  string  `json:"product" binding:"required"`
	Plan     string  `json:"plan"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Quantity int     `json:"quantity"`
	Currency string  `json:"currency"`
	Coupon   string  `json:"coupon"`
}

type Subscription struct {
	Plan         string  `json:"plan" binding:"required"`
	PreviousPlan string  `json:"previous_plan"`
	Lifecycle    string  `json:"lifecycle" binding:"required"`
	MRR          float64 `json:"mrr"`
	Interval     string  `json:"interval"`
	Currency     string  `json:"currency"`
}

type Refund struct {
	OrderID  string  `json:"order_id" binding:"required"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Currency string  `json:"currency"`
	Reason   string  `json:"reason"`
}

type Service struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
}

func NewService(t *tracker.Tracker, logger *slog.Logger) *Service {
	return &Service{tracker: t, logger: logger.With("component", "revenue")}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func currency(c string) string {
	if c == "" {
		return "USD"
	}
	return strings.ToUpper(c)
}

// TrackPurchase records a completed order. Large orders start conditional
// session recording for the tab in ctx.
func (s *Service) TrackPurchase(ctx context.Context, userID string, p Purchase) error {
	if userID == "" {
		return invalid("user id is required")
	}
	if p.OrderID == "" || p.Amount <= 0 {
		return invalid("purchase needs an order id and a positive amount")
	}
	qty := p.Quantity
	if qty <= 0 {
		qty = 1
	}
	total := p.Amount * float64(qty)

	s.tracker.TrackBusinessMetric(ctx, tracker.BusinessMetric{
		Metric:   "purchase_revenue",
		Value:    total,
		Currency: currency(p.Currency),
		Dimensions: map[string]any{
			"order_id": p.OrderID,
			"product":  p.Product,
			"plan":     p.Plan,
			"quantity": qty,
			"coupon":   p.Coupon,
		},
	}, userID)

	profile := map[string]any{
		"lifecycle_stage":  "customer",
		"last_purchase_at": s.tracker.Now().UTC().Format(time.RFC3339),
	}
	if p.Plan != "" {
		profile["plan"] = p.Plan
	}
	s.tracker.SetUserProfile(ctx, userID, profile)
	s.tracker.IncrementUserProperty(ctx, userID, "total_spend", total)
	s.tracker.IncrementUserProperty(ctx, userID, "purchase_count", 1)

	if total >= HighValueAmount && s.tracker.StartConditionalRecording(ctx, "high_value_user") {
		s.logger.Info("recording high value session", "user_id", userID, "order_id", p.OrderID)
	}
	return nil
}

// TrackSubscription records a subscription lifecycle change. Starts and
// renewals are charges and count towards total_spend.
func (s *Service) TrackSubscription(ctx context.Context, userID string, sub Subscription) error {
	if userID == "" {
		return invalid("user id is required")
	}
	if !lifecycles[sub.Lifecycle] {
		return invalid("unknown subscription lifecycle %q", sub.Lifecycle)
	}
	if sub.Plan == "" {
		return invalid("plan is required")
	}

	s.tracker.TrackBusinessMetric(ctx, tracker.BusinessMetric{
		Metric:   "subscription_mrr",
		Value:    sub.MRR,
		Currency: currency(sub.Currency),
		Dimensions: map[string]any{
			"plan":             sub.Plan,
			"previous_plan":    sub.PreviousPlan,
			"lifecycle":        sub.Lifecycle,
			"billing_interval": sub.Interval,
		},
	}, userID)

	stage := "subscriber"
	if sub.Lifecycle == Cancelled {
		stage = "churned"
	}
	s.tracker.SetUserProfile(ctx, userID, map[string]any{
		"plan":            sub.Plan,
		"lifecycle_stage": stage,
	})
	if (sub.Lifecycle == Started || sub.Lifecycle == Renewed) && sub.MRR > 0 {
		s.tracker.IncrementUserProperty(ctx, userID, "total_spend", sub.MRR)
	}
	return nil
}

// TrackRefund records money returned to the user and takes it back out of
// total_spend.
func (s *Service) TrackRefund(ctx context.Context, userID string, r Refund) error {
	if userID == "" {
		return invalid("user id is required")
	}
	if r.OrderID == "" || r.Amount <= 0 {
		return invalid("refund needs an order id and a positive amount")
	}

	s.tracker.TrackBusinessMetric(ctx, tracker.BusinessMetric{
		Metric:   "refund_amount",
		Value:    r.Amount,
		Currency: currency(r.Currency),
		Dimensions: map[string]any{
			"order_id":      r.OrderID,
			"refund_reason": r.Reason,
		},
	}, userID)
	s.tracker.IncrementUserProperty(ctx, userID, "total_spend", -r.Amount)
	return nil
}
