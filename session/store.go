// Package session keeps the per-tab session record: id, start time, and the
// page and interaction counters.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"clicktrail/api/store"
	"clicktrail/api/tracker"
	"clicktrail/api/utils"
)

// Tab-scoped storage keys.
const (
	KeyID           = "mixpanel_session_id"
	KeyStart        = "mixpanel_session_start"
	KeyPagesVisited = "mixpanel_pages_visited"
	KeyInteractions = "mixpanel_interactions_count"
)

var sessionKeys = []string{KeyID, KeyStart, KeyPagesVisited, KeyInteractions}

// Session is a snapshot of the stored session record.
type Session struct {
	ID               string
	StartedAt        time.Time
	PagesVisited     int
	InteractionCount int
}

// Store reads and writes one tab's session keys. A Store belongs to a single
// tab; callers serialise access to it.
type Store struct {
	kv      store.KV
	tracker *tracker.Tracker
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore builds a Store over tab-scoped storage.
func NewStore(kv store.KV, t *tracker.Tracker, logger *slog.Logger) *Store {
	return &Store{kv: kv, tracker: t, logger: logger, now: t.Now}
}

// GetOrCreateSession returns the tab's session id, creating the session on
// first access. session_start is emitted only for an authenticated user with
// tracking enabled.
func (s *Store) GetOrCreateSession(ctx context.Context, userID string, trackingEnabled bool) string {
	if id := s.get(ctx, KeyID); id != "" {
		s.touch(ctx)
		return id
	}

	now := s.now()
	id := utils.GenerateSessionID(now)
	s.set(ctx, KeyID, id)
	s.set(ctx, KeyStart, strconv.FormatInt(now.UnixMilli(), 10))
	s.set(ctx, KeyPagesVisited, "1")
	s.set(ctx, KeyInteractions, "0")
	s.touch(ctx)

	if userID != "" && trackingEnabled {
		page := ""
		if cc, ok := tracker.ClientFrom(ctx); ok {
			page = cc.Client.Path
		}
		s.tracker.Emit(ctx, tracker.SessionStart{SessionID: id, Page: page}, userID)
	}
	return id
}

// IncrementPageCount bumps the pages-visited counter on every route change,
// whether or not tracking is enabled.
func (s *Store) IncrementPageCount(ctx context.Context) int {
	return s.increment(ctx, KeyPagesVisited)
}

// IncrementInteractionCount bumps the counter on every handled click.
func (s *Store) IncrementInteractionCount(ctx context.Context) int {
	return s.increment(ctx, KeyInteractions)
}

// Snapshot reads the stored session. Missing or unreadable keys come back as
// zero values.
func (s *Store) Snapshot(ctx context.Context) Session {
	sess := Session{
		ID:               s.get(ctx, KeyID),
		PagesVisited:     s.getInt(ctx, KeyPagesVisited),
		InteractionCount: s.getInt(ctx, KeyInteractions),
	}
	if ms := s.getInt(ctx, KeyStart); ms > 0 {
		sess.StartedAt = time.UnixMilli(int64(ms))
	}
	return sess
}

// EndSession emits session_end with the session's duration and counters and
// clears the tab's keys. It is best effort: a tab that disappears without a
// beforeunload beacon never gets a session_end.
func (s *Store) EndSession(ctx context.Context, userID string) {
	sess := s.Snapshot(ctx)
	if sess.ID == "" {
		return
	}

	var duration int64
	if !sess.StartedAt.IsZero() {
		duration = s.now().Sub(sess.StartedAt).Milliseconds()
	}
	s.tracker.Emit(ctx, tracker.SessionEnd{
		SessionID:    sess.ID,
		DurationMs:   duration,
		PagesVisited: sess.PagesVisited,
		Interactions: sess.InteractionCount,
	}, userID)

	for _, k := range sessionKeys {
		if err := s.kv.Delete(ctx, k); err != nil {
			s.logger.Warn("failed to clear session key", "key", k, "error", err)
		}
	}
}

func (s *Store) increment(ctx context.Context, key string) int {
	n := s.getInt(ctx, key) + 1
	s.set(ctx, key, strconv.Itoa(n))
	s.touch(ctx)
	return n
}

// touch keeps the session keys expiring together: id and start are written
// once, so without it they would lapse under an active tab.
func (s *Store) touch(ctx context.Context) {
	if err := store.Touch(ctx, s.kv, sessionKeys...); err != nil {
		s.logger.Warn("failed to refresh session expiry", "error", err)
	}
}

// get treats storage failures as absent state.
func (s *Store) get(ctx context.Context, key string) string {
	v, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("session storage read failed", "key", key, "error", err)
		}
		return ""
	}
	return v
}

func (s *Store) getInt(ctx context.Context, key string) int {
	v := s.get(ctx, key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.logger.Warn("session counter is not a number", "key", key, "value", v)
		return 0
	}
	return n
}

func (s *Store) set(ctx context.Context, key, value string) {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.logger.Warn("session storage write failed", "key", key, "error", err)
	}
}
