package revenue_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicktrail/api/revenue"
	"clicktrail/api/tracker"
	"clicktrail/api/tracker/trackertest"
)

func newService(t *testing.T) (*revenue.Service, *tracker.Tracker, *trackertest.Recorder) {
	t.Helper()
	rec := &trackertest.Recorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := tracker.New(rec, tracker.Options{Enabled: true, Logger: logger, Now: func() time.Time { return now }})
	return revenue.NewService(tr, logger), tr, rec
}

func tab() context.Context {
	return tracker.WithClient(context.Background(), tracker.ClientContext{TabID: "t1", UserID: "u1"})
}

func TestTrackPurchase(t *testing.T) {
	svc, tr, rec := newService(t)

	err := svc.TrackPurchase(tab(), "u1", revenue.Purchase{OrderID: "ord-1", Product: "pro", Plan: "pro", Amount: 49, Quantity: 2, Currency: "eur"})
	require.NoError(t, err)

	metrics := rec.Named("Business Metric")
	require.Len(t, metrics, 1)
	p := metrics[0].Properties
	assert.Equal(t, "purchase_revenue", p["metric_name"])
	assert.Equal(t, 98.0, p["metric_value"])
	assert.Equal(t, "revenue", p["metric_category"])
	assert.Equal(t, "EUR", p["currency"])
	assert.Equal(t, "ord-1", p["order_id"])

	profiles := rec.Profiles()
	require.Len(t, profiles, 3)
	assert.Equal(t, "pro", profiles[0].Set["plan"])
	assert.Equal(t, "customer", profiles[0].Set["lifecycle_stage"])
	assert.Equal(t, map[string]float64{"total_spend": 98}, profiles[1].Add)
	assert.Equal(t, map[string]float64{"purchase_count": 1}, profiles[2].Add)

	assert.False(t, tr.IsRecording(tab()))
}

func TestHighValuePurchaseStartsRecording(t *testing.T) {
	svc, tr, _ := newService(t)

	require.NoError(t, svc.TrackPurchase(tab(), "u1", revenue.Purchase{OrderID: "ord-2", Product: "enterprise", Amount: 2500}))

	assert.True(t, tr.IsRecording(tab()))
	assert.Equal(t, "high_value_user", tr.SuperProperties(tab())["recording_reason"])
}

func TestInvalidPurchase(t *testing.T) {
	svc, _, rec := newService(t)

	assert.ErrorIs(t, svc.TrackPurchase(tab(), "", revenue.Purchase{OrderID: "o", Amount: 1}), revenue.ErrInvalid)
	assert.ErrorIs(t, svc.TrackPurchase(tab(), "u1", revenue.Purchase{OrderID: "o"}), revenue.ErrInvalid)
	assert.Zero(t, rec.Calls())
}

func TestTrackSubscriptionLifecycle(t *testing.T) {
	tests := []struct {
		lifecycle string
		stage     string
		spend     bool
	}{
		{revenue.Started, "subscriber", true},
		{revenue.Upgraded, "subscriber", false},
		{revenue.Downgraded, "subscriber", false},
		{revenue.Renewed, "subscriber", true},
		{revenue.Cancelled, "churned", false},
	}
	for _, tt := range tests {
		t.Run(tt.lifecycle, func(t *testing.T) {
			svc, _, rec := newService(t)

			err := svc.TrackSubscription(tab(), "u1", revenue.Subscription{Plan: "team", PreviousPlan: "pro", Lifecycle: tt.lifecycle, MRR: 99, Interval: "monthly"})
			require.NoError(t, err)

			metrics := rec.Named("Business Metric")
			require.Len(t, metrics, 1)
			assert.Equal(t, tt.lifecycle, metrics[0].Properties["lifecycle"])
			assert.Equal(t, "USD", metrics[0].Properties["currency"])

			profiles := rec.Profiles()
			assert.Equal(t, "team", profiles[0].Set["plan"])
			assert.Equal(t, tt.stage, profiles[0].Set["lifecycle_stage"])
			if tt.spend {
				require.Len(t, profiles, 2)
				assert.Equal(t, map[string]float64{"total_spend": 99}, profiles[1].Add)
			} else {
				assert.Len(t, profiles, 1)
			}
		})
	}
}

func TestUnknownLifecycleRejected(t *testing.T) {
	svc, _, rec := newService(t)

	err := svc.TrackSubscription(tab(), "u1", revenue.Subscription{Plan: "team", Lifecycle: "paused"})
	assert.ErrorIs(t, err, revenue.ErrInvalid)
	assert.Zero(t, rec.Calls())
}

func TestTrackRefund(t *testing.T) {
	svc, _, rec := newService(t)

	require.NoError(t, svc.TrackRefund(tab(), "u1", revenue.Refund{OrderID: "ord-1", Amount: 20, Reason: "duplicate"}))

	metrics := rec.Named("Business Metric")
	require.Len(t, metrics, 1)
	assert.Equal(t, "refund_amount", metrics[0].Properties["metric_name"])
	assert.Equal(t, "duplicate", metrics[0].Properties["refund_reason"])
	profiles := rec.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, map[string]float64{"total_spend": -20}, profiles[0].Add)
}
