// Package funnel tracks users through fixed, ordered conversion funnels and
// keeps each user's progress in durable storage.
package funnel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"

	"clicktrail/api/store"
	"clicktrail/api/tracker"
)

// Funnels maps each funnel to its ordered steps.
var Funnels = map[string][]string{
	"signup":           {"signup_start", "email_entered", "password_created", "email_verified", "signup_complete"},
	"onboarding":       {"welcome_viewed", "profile_completed", "preferences_set", "first_project_created", "onboarding_complete"},
	"activation":       {"first_login", "first_gateway_configured", "first_rule_created", "first_traffic_analyzed", "activated"},
	"monetization":     {"pricing_viewed", "plan_selected", "payment_info_entered", "payment_completed", "subscription_active"},
	"feature_adoption": {"feature_discovered", "feature_tried", "feature_used_repeatedly", "feature_adopted"},
}

var (
	ErrUnknownFunnel = errors.New("unknown funnel")
	ErrUnknownStep   = errors.New("step is not part of funnel")
	ErrNoUser        = errors.New("user id is required")
)

func progressKey(userID, funnel string) string {
	return "funnel_progress_" + userID + "_" + funnel
}

func startKey(userID, funnel string) string {
	return "funnel_start_" + userID + "_" + funnel
}

// Service is safe for concurrent use.
type Service struct {
	kv      store.KV
	tracker *tracker.Tracker
	logger  *slog.Logger
	mu      sync.Mutex
}

func NewService(kv store.KV, t *tracker.Tracker, logger *slog.Logger) *Service {
	return &Service{kv: kv, tracker: t, logger: logger.With("component", "funnel")}
}

// StepIndex locates step within funnel.
func StepIndex(funnel, step string) (int, error) {
	steps, ok := Funnels[funnel]
	if !ok {
		return -1, ErrUnknownFunnel
	}
	i := slices.Index(steps, step)
	if i < 0 {
		return -1, ErrUnknownStep
	}
	return i, nil
}

func stepProps(funnel, step string, index int) map[string]any {
	total := len(Funnels[funnel])
	return map[string]any{
		"funnel_name":         funnel,
		"step_name":           step,
		"step_index":          index,
		"step_number":         index + 1,
		"total_steps":         total,
		"progress_percentage": int(math.Round(float64(index+1) / float64(total) * 100)),
	}
}

// TrackStep records that userID reached step. Invalid funnels or steps are
// logged and ignored; stored progress is left untouched. The returned error
// is informational only.
func (s *Service) TrackStep(ctx context.Context, funnel, step, userID string, extra map[string]any) error {
	index, err := s.validate(funnel, step, userID)
	if err != nil {
		return err
	}

	props := stepProps(funnel, step, index)
	for k, v := range extra {
		if _, taken := props[k]; !taken {
			props[k] = v
		}
	}

	s.mu.Lock()
	progress := s.progress(ctx, userID, funnel)
	if len(progress) == 0 {
		if _, err := s.kv.Get(ctx, startKey(userID, funnel)); err != nil {
			now := strconv.FormatInt(s.tracker.Now().UnixMilli(), 10)
			s.save(ctx, startKey(userID, funnel), now)
		}
	}
	if !slices.Contains(progress, step) {
		progress = append(progress, step)
		if data, err := json.Marshal(progress); err == nil {
			s.save(ctx, progressKey(userID, funnel), string(data))
		}
	}
	s.mu.Unlock()

	s.tracker.Track(ctx, "Funnel Step", props, userID)
	return nil
}

// TrackCompletion emits the completion event with the time since the first
// step, or nil when the start is unknown, and bumps the profile's completion
// counter. Progress is not cleared; callers Reset explicitly.
func (s *Service) TrackCompletion(ctx context.Context, funnel, userID string, extra map[string]any) error {
	steps, ok := Funnels[funnel]
	if !ok {
		s.logger.Warn("completion for unknown funnel ignored", "funnel", funnel)
		return ErrUnknownFunnel
	}
	if userID == "" {
		return ErrNoUser
	}

	s.mu.Lock()
	progress := s.progress(ctx, userID, funnel)
	var elapsed any
	if v, err := s.kv.Get(ctx, startKey(userID, funnel)); err == nil {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			elapsed = s.tracker.Now().UnixMilli() - ms
		}
	}
	s.mu.Unlock()

	props := map[string]any{
		"funnel_name":         funnel,
		"total_steps":         len(steps),
		"steps_completed":     len(progress),
		"time_to_complete_ms": elapsed,
	}
	for k, v := range extra {
		if _, taken := props[k]; !taken {
			props[k] = v
		}
	}
	s.tracker.Track(ctx, "Funnel Completed", props, userID)
	s.tracker.IncrementUserProperty(ctx, userID, "funnel_"+funnel+"_completions", 1)
	return nil
}

// TrackDropoff reports where a user left the funnel. Progress is not changed.
func (s *Service) TrackDropoff(ctx context.Context, funnel, step, userID, reason string) error {
	index, err := s.validate(funnel, step, userID)
	if err != nil {
		return err
	}
	props := stepProps(funnel, step, index)
	if reason != "" {
		props["dropoff_reason"] = reason
	}
	s.tracker.Track(ctx, "Funnel Dropoff", props, userID)
	return nil
}

// Progress returns the steps userID has reached, in first-reached order.
func (s *Service) Progress(ctx context.Context, funnel, userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress(ctx, userID, funnel)
}

// Reset clears the user's progress and start time for funnel.
func (s *Service) Reset(ctx context.Context, funnel, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range []string{progressKey(userID, funnel), startKey(userID, funnel)} {
		if err := s.kv.Delete(ctx, k); err != nil {
			s.logger.Warn("failed to clear funnel state", "key", k, "error", err)
		}
	}
}

func (s *Service) validate(funnel, step, userID string) (int, error) {
	index, err := StepIndex(funnel, step)
	if err != nil {
		s.logger.Warn("invalid funnel step ignored", "funnel", funnel, "step", step, "error", err)
		return -1, err
	}
	if userID == "" {
		s.logger.Warn("funnel step without user ignored", "funnel", funnel, "step", step)
		return -1, ErrNoUser
	}
	return index, nil
}

// progress reads stored progress; missing or unreadable state is empty.
// Caller holds s.mu.
func (s *Service) progress(ctx context.Context, userID, funnel string) []string {
	v, err := s.kv.Get(ctx, progressKey(userID, funnel))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("funnel storage read failed", "funnel", funnel, "error", err)
		}
		return []string{}
	}
	var steps []string
	if err := json.Unmarshal([]byte(v), &steps); err != nil {
		s.logger.Warn("discarding unreadable funnel progress", "funnel", funnel, "error", err)
		return []string{}
	}
	return steps
}

func (s *Service) save(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Warn("funnel storage write failed", "key", key, "error", err)
	}
}
