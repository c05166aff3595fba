// Package experiment assigns users to A/B variants and feature rollouts by
// hashing the user id into one of 100 buckets. Decisions are persisted in
// durable storage so a user keeps their variant across sessions.
package experiment

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"unicode/utf16"

	"clicktrail/api/observability"
	"clicktrail/api/store"
	"clicktrail/api/tracker"
)

// Hash is a 32-bit rolling hash over UTF-16 code units (h = h*31 + c,
// wrapping), returned as an absolute value. Bucketing only; not for security.
func Hash(s string) uint32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	if h < 0 {
		return uint32(-int64(h))
	}
	return uint32(h)
}

// Bucket maps a user id to 0-99.
func Bucket(userID string) int {
	return int(Hash(userID) % 100)
}

func variantKey(experiment, userID string) string {
	return "experiment_" + experiment + "_" + userID
}

func flagKey(feature, userID string) string {
	return "feature_flag_" + feature + "_" + userID
}

// Service is safe for concurrent use.
type Service struct {
	kv      store.KV
	tracker *tracker.Tracker
	tables  Tables
	metrics *observability.Metrics
	logger  *slog.Logger

	// locks makes each read-compute-persist step atomic per storage key so
	// the first-assignment event fires once per user, while different users
	// proceed in parallel.
	locks keyLocks
}

// keyLocks hands out one mutex per key, kept only while someone holds or
// waits for it.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyLock)
	}
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

func NewService(kv store.KV, t *tracker.Tracker, tables Tables, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{
		kv:      kv,
		tracker: t,
		tables:  tables,
		metrics: metrics,
		logger:  logger.With("component", "experiment"),
	}
}

// GetVariant returns the user's variant for experiment. Unknown experiments
// and anonymous users get Control without anything being stored.
func (s *Service) GetVariant(ctx context.Context, experiment, userID string) string {
	splits, ok := s.tables.Experiments[experiment]
	if !ok || userID == "" {
		s.logger.Debug("variant defaulted", "experiment", experiment, "known", ok)
		s.metrics.Assignment("experiment", "default")
		return Control
	}

	key := variantKey(experiment, userID)
	defer s.locks.lock(key)()

	if v, ok := s.load(ctx, key); ok {
		s.metrics.Assignment("experiment", "cache")
		return v
	}

	bucket := Bucket(userID)
	variant := pick(splits, bucket)
	s.save(ctx, key, variant)
	s.metrics.Assignment("experiment", "computed")

	s.tracker.Track(ctx, "Experiment Assigned", map[string]any{
		"experiment_name": experiment,
		"variant":         variant,
		"bucket":          bucket,
	}, userID)
	return variant
}

// pick walks the cumulative weights. Buckets past the last weight fall to
// Control.
func pick(splits []Split, bucket int) string {
	threshold := 0
	for _, sp := range splits {
		threshold += sp.Weight
		if bucket < threshold {
			return sp.Variant
		}
	}
	return Control
}

// IsFeatureEnabled reports whether feature is rolled out to userID. Unknown
// features and anonymous users get def. "Feature Flag Evaluated" is emitted
// only when the decision is first computed.
func (s *Service) IsFeatureEnabled(ctx context.Context, feature, userID string, def bool) bool {
	rollout, ok := s.tables.Flags[feature]
	if !ok || userID == "" {
		s.metrics.Assignment("flag", "default")
		return def
	}

	key := flagKey(feature, userID)
	defer s.locks.lock(key)()

	if v, ok := s.load(ctx, key); ok {
		if enabled, err := strconv.ParseBool(v); err == nil {
			s.metrics.Assignment("flag", "cache")
			return enabled
		}
		s.logger.Warn("discarding unreadable flag decision", "feature", feature, "value", v)
	}

	bucket := Bucket(userID)
	enabled := bucket < rollout
	s.save(ctx, key, strconv.FormatBool(enabled))
	s.metrics.Assignment("flag", "computed")

	s.tracker.Track(ctx, "Feature Flag Evaluated", map[string]any{
		"feature_name":       feature,
		"enabled":            enabled,
		"rollout_percentage": rollout,
		"bucket":             bucket,
	}, userID)
	return enabled
}

// TrackConversion attributes a conversion metric to the user's variant.
func (s *Service) TrackConversion(ctx context.Context, experiment, userID, metric string, value float64) {
	variant := s.GetVariant(ctx, experiment, userID)
	s.tracker.Track(ctx, "Experiment Conversion", map[string]any{
		"experiment_name":   experiment,
		"variant":           variant,
		"conversion_metric": metric,
		"conversion_value":  value,
	}, userID)
}

func (s *Service) load(ctx context.Context, key string) (string, bool) {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("assignment storage read failed", "key", key, "error", err)
		}
		return "", false
	}
	return v, true
}

func (s *Service) save(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Warn("assignment storage write failed", "key", key, "error", err)
	}
}
