package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"clicktrail/api/models"
	"clicktrail/api/observability"
	"clicktrail/api/session"
	"clicktrail/api/store"
	"clicktrail/api/tracker"
)

type tab struct {
	l        *Listener
	lastSeen time.Time
}

// Manager keeps one Listener per open tab. Tabs are created on their first
// beacon and dropped on unload or after idling past the configured TTL.
// Unloaded tab ids are remembered for the same TTL so the events a browser
// fires after beforeunload cannot reopen the tab under a new session.
type Manager struct {
	kv      store.KV
	tracker *tracker.Tracker
	metrics *observability.Metrics
	logger  *slog.Logger
	idle    time.Duration

	mu       sync.Mutex
	tabs     map[string]*tab
	unloaded map[string]time.Time
}

func NewManager(kv store.KV, t *tracker.Tracker, idle time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		kv:       kv,
		tracker:  t,
		metrics:  metrics,
		logger:   logger.With("component", "listener"),
		idle:     idle,
		tabs:     make(map[string]*tab),
		unloaded: make(map[string]time.Time),
	}
}

// TabKV returns the tab-scoped view of the manager's storage.
func (m *Manager) TabKV(tabID string) store.KV {
	return store.NewScoped(m.kv, "tab:"+tabID+":")
}

// Handle applies a beacon batch to the tab named in ctx's client context,
// opening the tab first if needed. Per-event client info overrides the
// batch's. It returns the number of events applied; events for an unloaded
// tab are dropped without error.
func (m *Manager) Handle(ctx context.Context, batch models.InteractionBatch) (int, error) {
	cc, _ := tracker.ClientFrom(ctx)
	if cc.TabID == "" {
		return 0, errors.New("tab id is required")
	}
	cc.Client = batch.Client
	ctx = tracker.WithClient(ctx, cc)

	if len(batch.Events) == 0 {
		// A bare beacon only opens the tab.
		m.open(ctx, cc.TabID)
		return 0, nil
	}
	applied := 0
	for i, ev := range batch.Events {
		evCtx := ctx
		if ev.Client != nil {
			ecc := cc
			ecc.Client = *ev.Client
			evCtx = tracker.WithClient(ctx, ecc)
		}
		ok, err := m.apply(evCtx, cc.TabID, ev)
		if err != nil {
			return applied, err
		}
		if !ok {
			m.logger.Debug("dropping events for unloaded tab", "tab_id", cc.TabID, "dropped", len(batch.Events)-i)
			break
		}
		applied++
	}
	return applied, nil
}

// apply reports false when the tab has been unloaded. A listener evicted
// concurrently for idling is replaced once.
func (m *Manager) apply(ctx context.Context, tabID string, ev models.DOMEvent) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		l, ok := m.open(ctx, tabID)
		if !ok {
			return false, nil
		}
		err := l.Handle(ctx, ev)
		switch {
		case errors.Is(err, ErrEvicted):
			m.drop(tabID, l)
			continue
		case errors.Is(err, ErrClosed):
			m.retire(tabID, l)
			return false, nil
		case err != nil:
			return false, err
		}
		if ev.Kind == models.DOMUnload {
			m.retire(tabID, l)
		}
		return true, nil
	}
	return false, ErrEvicted
}

// open returns the tab's listener, creating and starting it on first use.
// It reports false for a tab that was unloaded.
func (m *Manager) open(ctx context.Context, tabID string) (*Listener, bool) {
	now := m.tracker.Now()
	m.mu.Lock()
	if m.unloadedLocked(tabID, now) {
		m.mu.Unlock()
		return nil, false
	}
	if t, ok := m.tabs[tabID]; ok {
		t.lastSeen = now
		m.mu.Unlock()
		return t.l, true
	}
	sess := session.NewStore(m.TabKV(tabID), m.tracker, m.logger)
	l := New(tabID, m.tracker, sess, m.logger)
	// Held until the tab has started so concurrent batches queue behind it.
	l.mu.Lock()
	m.tabs[tabID] = &tab{l: l, lastSeen: now}
	m.mu.Unlock()

	m.metrics.TabOpened()
	cc, _ := tracker.ClientFrom(ctx)
	l.start(ctx, cc.Client.Path)
	l.mu.Unlock()
	m.logger.Debug("tab opened", "tab_id", tabID, "path", cc.Client.Path)
	return l, true
}

// unloadedLocked reports whether tabID carries a live tombstone, pruning an
// expired one.
func (m *Manager) unloadedLocked(tabID string, now time.Time) bool {
	at, ok := m.unloaded[tabID]
	if !ok {
		return false
	}
	if m.idle > 0 && now.Sub(at) > m.idle {
		delete(m.unloaded, tabID)
		return false
	}
	return true
}

// drop removes tabID from the registry if it still maps to l.
func (m *Manager) drop(tabID string, l *Listener) {
	m.mu.Lock()
	removed := m.removeLocked(tabID, l)
	m.mu.Unlock()
	if removed {
		m.metrics.TabClosed()
	}
}

// retire tombstones tabID and drops l in one step, so no batch can slip in
// between and reopen the tab.
func (m *Manager) retire(tabID string, l *Listener) {
	m.mu.Lock()
	m.unloaded[tabID] = m.tracker.Now()
	removed := m.removeLocked(tabID, l)
	m.mu.Unlock()
	if removed {
		m.metrics.TabClosed()
	}
}

func (m *Manager) removeLocked(tabID string, l *Listener) bool {
	if t, ok := m.tabs[tabID]; ok && t.l == l {
		delete(m.tabs, tabID)
		return true
	}
	return false
}

// Unload ends the tab's session and forgets it. It reports whether the tab
// was open.
func (m *Manager) Unload(ctx context.Context, tabID string) bool {
	m.mu.Lock()
	t, ok := m.tabs[tabID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.l.Unload(ctx)
	m.retire(tabID, t.l)
	return true
}

// Sweep evicts tabs idle since before now minus the idle TTL and forgets
// expired tombstones. Evicted tabs get no session_end; their stored keys
// expire with the storage TTL.
func (m *Manager) Sweep(now time.Time) int {
	if m.idle <= 0 {
		return 0
	}
	cutoff := now.Add(-m.idle)

	m.mu.Lock()
	var stale []string
	for id, t := range m.tabs {
		if t.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	evicted := make([]*Listener, 0, len(stale))
	for _, id := range stale {
		evicted = append(evicted, m.tabs[id].l)
		delete(m.tabs, id)
	}
	for id, at := range m.unloaded {
		if at.Before(cutoff) {
			delete(m.unloaded, id)
		}
	}
	m.mu.Unlock()

	for i, l := range evicted {
		l.Detach()
		m.tracker.Forget(stale[i])
		m.metrics.TabClosed()
	}
	if len(evicted) > 0 {
		m.logger.Info("evicted idle tabs", "count", len(evicted))
	}
	return len(evicted)
}

// Run sweeps idle tabs every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.tracker.Now())
		}
	}
}

// Len returns the number of open tabs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}
