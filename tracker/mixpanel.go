package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mixpanel/mixpanel-go"

	"clicktrail/api/observability"
)

// MixpanelAPI is the part of *mixpanel.ApiClient the sink delivers through.
type MixpanelAPI interface {
	Track(ctx context.Context, events []*mixpanel.Event) error
	PeopleSet(ctx context.Context, people []*mixpanel.PeopleProperties) error
	PeopleIncrement(ctx context.Context, distinctID string, add map[string]int) error
}

// MixpanelOptions configures a MixpanelSink. API overrides the client built
// from Token, APIURL and HTTPClient.
type MixpanelOptions struct {
	Token      string
	APIURL     string
	BatchSize  int
	QueueSize  int
	Interval   time.Duration
	HTTPClient *http.Client
	API        MixpanelAPI
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// profileOp is one queued people update: a $set or an $add, never both.
type profileOp struct {
	distinctID string
	set        map[string]any
	add        map[string]int
}

// MixpanelSink delivers events and profile updates to Mixpanel in batches.
type MixpanelSink struct {
	token    string
	api      MixpanelAPI
	metrics  *observability.Metrics
	events   *batcher[*mixpanel.Event]
	profiles *batcher[profileOp]
}

func NewMixpanelSink(o MixpanelOptions) (*MixpanelSink, error) {
	if o.Token == "" {
		return nil, fmt.Errorf("mixpanel token is required")
	}
	if o.BatchSize <= 0 || o.BatchSize > 50 {
		o.BatchSize = 50
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 10_000
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.API == nil {
		if o.HTTPClient == nil {
			o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
		}
		opts := []mixpanel.Options{mixpanel.HttpClient(o.HTTPClient)}
		if o.APIURL != "" {
			opts = append(opts, mixpanel.ProxyApiLocation(strings.TrimSuffix(o.APIURL, "/")))
		}
		o.API = mixpanel.NewApiClient(o.Token, opts...)
	}

	s := &MixpanelSink{
		token:   o.Token,
		api:     o.API,
		metrics: o.Metrics,
	}
	s.events = newBatcher("mixpanel_track", o.BatchSize, o.QueueSize, o.Interval, s.deliverEvents, o.Logger)
	s.profiles = newBatcher("mixpanel_engage", o.BatchSize, o.QueueSize, o.Interval, s.deliverProfiles, o.Logger)
	return s, nil
}

func (s *MixpanelSink) Name() string { return "mixpanel" }

func (s *MixpanelSink) Track(_ context.Context, rec Record) error {
	props := make(map[string]any, len(rec.Properties)+4)
	for k, v := range rec.Properties {
		props[k] = v
	}
	props["token"] = s.token
	props["distinct_id"] = rec.DistinctID
	props["time"] = rec.Time.UnixMilli()
	props["$insert_id"] = rec.InsertID

	return s.enqueue(s.events.add(&mixpanel.Event{Name: rec.Name, Properties: props}))
}

// Engage queues the $set and $add halves separately. Mixpanel counts are
// integers, so fractional deltas are rounded.
func (s *MixpanelSink) Engage(_ context.Context, up ProfileUpdate) error {
	if len(up.Set) > 0 {
		set := make(map[string]any, len(up.Set))
		for k, v := range up.Set {
			set[k] = v
		}
		if err := s.enqueue(s.profiles.add(profileOp{distinctID: up.DistinctID, set: set})); err != nil {
			return err
		}
	}
	if len(up.Add) > 0 {
		add := make(map[string]int, len(up.Add))
		for k, v := range up.Add {
			add[k] = int(math.Round(v))
		}
		return s.enqueue(s.profiles.add(profileOp{distinctID: up.DistinctID, add: add}))
	}
	return nil
}

func (s *MixpanelSink) enqueue(err error) error {
	switch err {
	case nil:
		return nil
	case ErrQueueFull:
		s.metrics.Dropped(s.Name(), "queue_full")
	case ErrClosed:
		s.metrics.Dropped(s.Name(), "closed")
	}
	return fmt.Errorf("mixpanel: %w", err)
}

func (s *MixpanelSink) Flush(ctx context.Context) error {
	if err := s.events.flush(ctx); err != nil {
		return err
	}
	return s.profiles.flush(ctx)
}

func (s *MixpanelSink) Close(ctx context.Context) error {
	if err := s.events.close(ctx); err != nil {
		return err
	}
	return s.profiles.close(ctx)
}

func (s *MixpanelSink) deliverEvents(ctx context.Context, events []*mixpanel.Event) (err error) {
	defer func() { s.metrics.Delivery(s.Name(), err) }()
	if err := s.api.Track(ctx, events); err != nil {
		return fmt.Errorf("mixpanel track: %w", err)
	}
	return nil
}

// deliverProfiles sends every $set of the batch in one request; increments
// go one user at a time.
func (s *MixpanelSink) deliverProfiles(ctx context.Context, ops []profileOp) (err error) {
	defer func() { s.metrics.Delivery(s.Name(), err) }()

	var sets []*mixpanel.PeopleProperties
	var errs []error
	for _, op := range ops {
		if op.set != nil {
			sets = append(sets, mixpanel.NewPeopleProperties(op.distinctID, op.set))
			continue
		}
		if err := s.api.PeopleIncrement(ctx, op.distinctID, op.add); err != nil {
			errs = append(errs, fmt.Errorf("mixpanel people increment %s: %w", op.distinctID, err))
		}
	}
	if len(sets) > 0 {
		if err := s.api.PeopleSet(ctx, sets); err != nil {
			errs = append(errs, fmt.Errorf("mixpanel people set: %w", err))
		}
	}
	return errors.Join(errs...)
}
