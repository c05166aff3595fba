package tracker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mixpanel/mixpanel-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicktrail/api/models"
	"clicktrail/api/observability"
	"clicktrail/api/tracker"
	"clicktrail/api/tracker/trackertest"
)

// fakeMixpanel records what the sink hands to the Mixpanel client.
type fakeMixpanel struct {
	mu         sync.Mutex
	events     []*mixpanel.Event
	sets       []*mixpanel.PeopleProperties
	increments map[string]map[string]int
	err        error
}

func (f *fakeMixpanel) Track(_ context.Context, events []*mixpanel.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeMixpanel) PeopleSet(_ context.Context, people []*mixpanel.PeopleProperties) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sets = append(f.sets, people...)
	return nil
}

func (f *fakeMixpanel) PeopleIncrement(_ context.Context, distinctID string, add map[string]int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.increments == nil {
		f.increments = map[string]map[string]int{}
	}
	f.increments[distinctID] = add
	return nil
}

func newMixpanelSink(t *testing.T, api tracker.MixpanelAPI, metrics *observability.Metrics) *tracker.MixpanelSink {
	t.Helper()
	sink, err := tracker.NewMixpanelSink(tracker.MixpanelOptions{
		Token:    "tok",
		Interval: time.Hour,
		API:      api,
		Metrics:  metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return sink
}

func TestMixpanelSinkDeliversBatches(t *testing.T) {
	api := &fakeMixpanel{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := newMixpanelSink(t, api, metrics)
	ctx := context.Background()

	now := time.UnixMilli(1718000000000)
	require.NoError(t, sink.Track(ctx, tracker.Record{
		Name: "Page Viewed", DistinctID: "u1", InsertID: "ins-1", Time: now,
		Properties: tracker.Properties{"page_path": "/dashboard"},
	}))
	require.NoError(t, sink.Engage(ctx, tracker.ProfileUpdate{
		DistinctID: "u1", Time: now,
		Set: tracker.Properties{"plan": "pro"},
		Add: map[string]float64{"logins": 1, "credits": 2.6},
	}))
	require.NoError(t, sink.Flush(ctx))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.events, 1)
	assert.Equal(t, "Page Viewed", api.events[0].Name)
	props := api.events[0].Properties
	assert.Equal(t, "tok", props["token"])
	assert.Equal(t, "u1", props["distinct_id"])
	assert.Equal(t, "ins-1", props["$insert_id"])
	assert.Equal(t, "/dashboard", props["page_path"])
	assert.Equal(t, int64(1718000000000), props["time"])

	require.Len(t, api.sets, 1)
	assert.Equal(t, "u1", api.sets[0].DistinctID)
	assert.Equal(t, "pro", api.sets[0].Properties["plan"])
	assert.Equal(t, map[string]int{"logins": 1, "credits": 3}, api.increments["u1"])

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DeliveriesTotal.WithLabelValues("mixpanel", "ok")))
}

func TestMixpanelSinkRequiresToken(t *testing.T) {
	_, err := tracker.NewMixpanelSink(tracker.MixpanelOptions{})
	assert.Error(t, err)
}

func TestMixpanelSinkBuildsClientFromToken(t *testing.T) {
	sink, err := tracker.NewMixpanelSink(tracker.MixpanelOptions{
		Token:  "tok",
		APIURL: "http://127.0.0.1:0/",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
}

func TestMixpanelSinkReportsDeliveryErrors(t *testing.T) {
	api := &fakeMixpanel{err: errors.New("400 Bad Request")}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := newMixpanelSink(t, api, metrics)
	ctx := context.Background()

	require.NoError(t, sink.Track(ctx, tracker.Record{Name: "x", Time: time.Now()}))
	assert.ErrorContains(t, sink.Flush(ctx), "400 Bad Request")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DeliveriesTotal.WithLabelValues("mixpanel", "error")))

	require.NoError(t, sink.Close(ctx))
	assert.Error(t, sink.Track(ctx, tracker.Record{Name: "late", Time: time.Now()}))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DroppedTotal.WithLabelValues("mixpanel", "closed")))
}

type fakeWriter struct {
	mu   sync.Mutex
	rows []models.AnalyticsEvent
	err  error
}

func (f *fakeWriter) InsertAnalyticsEvents(_ context.Context, rows []models.AnalyticsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, rows...)
	return nil
}

func TestClickHouseSinkMapsRecords(t *testing.T) {
	w := &fakeWriter{}
	sink := tracker.NewClickHouseSink(w, 10, time.Hour, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	require.NoError(t, sink.Track(ctx, tracker.Record{
		Name: "session_end", DistinctID: "u1", InsertID: "ins-1", Time: time.UnixMilli(1718000000000),
		Properties: tracker.Properties{
			"session_id":  "s1",
			"page":        "/dashboard",
			"user_agent":  "ua",
			"ip":          "10.0.0.1",
			"duration_ms": int64(1500),
		},
	}))
	require.NoError(t, sink.Engage(ctx, tracker.ProfileUpdate{DistinctID: "u1"}))
	require.NoError(t, sink.Close(ctx))

	require.Len(t, w.rows, 1)
	row := w.rows[0]
	assert.Equal(t, "ins-1", row.EventID)
	assert.Equal(t, "session_end", row.EventType)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, "s1", row.SessionID)
	assert.Equal(t, "/dashboard", row.PagePath)
	assert.Equal(t, "10.0.0.1", row.IPAddress)
	assert.Equal(t, int64(1500), row.DurationMs)
	assert.JSONEq(t, `{"session_id":"s1","page":"/dashboard","user_agent":"ua","ip":"10.0.0.1","duration_ms":1500}`, string(row.EventData))
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &trackertest.Recorder{}, &trackertest.Recorder{Fail: true}
	multi := tracker.MultiSink{a, b}
	ctx := context.Background()

	err := multi.Track(ctx, tracker.Record{Name: "x"})
	assert.Error(t, err)
	assert.Len(t, a.Records(), 1)
	assert.Equal(t, 1, b.Calls())

	assert.Error(t, multi.Engage(ctx, tracker.ProfileUpdate{DistinctID: "u"}))
	assert.NoError(t, multi.Flush(ctx))
	assert.NoError(t, multi.Close(ctx))
	assert.NoError(t, tracker.MultiSink{tracker.NopSink{}}.Track(ctx, tracker.Record{}))
}
