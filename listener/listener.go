package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"clicktrail/api/classifier"
	"clicktrail/api/models"
	"clicktrail/api/session"
	"clicktrail/api/tracker"
	"clicktrail/api/utils"
)

const (
	scrollWindow   = time.Second
	scrollMinDelta = 100.0
)

var (
	// ErrClosed is returned for events that reach a listener after unload.
	ErrClosed = errors.New("listener closed")
	// ErrEvicted is returned for events that reach a listener dropped for
	// idling; the tab itself may still be open.
	ErrEvicted = errors.New("listener evicted")
)

// Listener owns one tab's interaction state. Events for a tab are handled one
// at a time, so a click's classify, count and track steps never interleave
// with another event of the same tab.
type Listener struct {
	tabID   string
	tracker *tracker.Tracker
	session *session.Store
	logger  *slog.Logger
	doc     *Document

	mu          sync.Mutex
	path        string
	userID      string
	detach      func()
	closed      error
	clickCounts map[string]int
	scroll      *rate.Limiter
	lastScrollY float64

	// clockOffset maps the tab's client clock onto the server clock.
	clockOffset time.Duration
	clockSynced bool
}

// New builds a detached listener for tabID.
func New(tabID string, t *tracker.Tracker, s *session.Store, logger *slog.Logger) *Listener {
	return &Listener{
		tabID:       tabID,
		tracker:     t,
		session:     s,
		logger:      logger.With("tab_id", tabID),
		doc:         NewDocument(),
		clickCounts: make(map[string]int),
		scroll:      rate.NewLimiter(rate.Every(scrollWindow), 1),
	}
}

// Document exposes the tab's event target.
func (l *Listener) Document() *Document { return l.doc }

// Start opens the tab on its landing path: it creates the session, registers
// the session id as a super property, attaches the handlers when tracking
// applies and records the landing page view.
func (l *Listener) Start(ctx context.Context, path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start(ctx, path)
}

func (l *Listener) start(ctx context.Context, path string) {
	l.path = path
	l.identify(ctx)
	id := l.session.GetOrCreateSession(ctx, l.userID, l.tracker.Enabled())
	l.tracker.Register(ctx, map[string]any{"session_id": id})
	l.sync()
	cc, _ := tracker.ClientFrom(ctx)
	l.tracker.TrackPageView(ctx, tracker.PageView{Path: path, Referrer: cc.Client.Referrer})
}

// Handle processes one forwarded event. Route changes and unload drive the
// lifecycle; everything else goes through the document's handlers, which are
// only present while tracking applies.
func (l *Listener) Handle(ctx context.Context, ev models.DOMEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed != nil {
		return l.closed
	}

	l.identify(ctx)
	switch ev.Kind {
	case models.DOMRouteChange:
		l.routeChanged(ctx, ev)
	case models.DOMUnload:
		l.unload(ctx)
	default:
		l.doc.Dispatch(ctx, ev)
	}
	return nil
}

// Unload ends the session and tears the tab down.
func (l *Listener) Unload(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed == nil {
		l.unload(ctx)
	}
}

// Detach removes the handlers without ending the session.
func (l *Listener) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.detachLocked()
	if l.closed == nil {
		l.closed = ErrEvicted
	}
}

// Attached reports whether the interaction handlers are registered.
func (l *Listener) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.detach != nil
}

func (l *Listener) shouldTrack() bool {
	return l.tracker.Enabled() && !tracker.IsAuthPage(l.path)
}

// sync attaches or detaches the handlers to match shouldTrack.
func (l *Listener) sync() {
	switch track := l.shouldTrack(); {
	case track && l.detach == nil:
		l.attach()
		l.logger.Debug("interaction listeners attached", "path", l.path)
	case !track && l.detach != nil:
		l.detachLocked()
		l.logger.Debug("interaction listeners detached", "path", l.path)
	}
}

func (l *Listener) attach() {
	removes := []func(){
		l.doc.AddEventListener(models.DOMClick, l.onClick, true),
		l.doc.AddEventListener(models.DOMSubmit, l.onSubmit, true),
		l.doc.AddEventListener(models.DOMPopState, l.onPopState, false),
		l.doc.AddEventListener(models.DOMVisibilityChange, l.onVisibilityChange, false),
		l.doc.AddEventListener(models.DOMScroll, l.onScroll, false),
	}
	l.detach = func() {
		for _, remove := range removes {
			remove()
		}
	}
}

func (l *Listener) detachLocked() {
	if l.detach != nil {
		l.detach()
		l.detach = nil
	}
}

func (l *Listener) identify(ctx context.Context) {
	cc, _ := tracker.ClientFrom(ctx)
	if cc.UserID != "" && cc.UserID != l.userID {
		l.userID = cc.UserID
		l.tracker.Identify(ctx, cc.UserID)
	}
}

func (l *Listener) sessionID(ctx context.Context) string {
	return l.session.GetOrCreateSession(ctx, l.userID, l.tracker.Enabled())
}

func (l *Listener) routeChanged(ctx context.Context, ev models.DOMEvent) {
	to := ev.Path
	if to == "" {
		cc, _ := tracker.ClientFrom(ctx)
		to = cc.Client.Path
	}
	if to == "" {
		return
	}
	from := l.path
	l.path = to
	l.session.IncrementPageCount(ctx)
	l.sync()
	l.tracker.TrackPageView(ctx, tracker.PageView{Path: to, Referrer: from})
}

func (l *Listener) unload(ctx context.Context) {
	l.session.EndSession(ctx, l.userID)
	l.detachLocked()
	l.tracker.Forget(l.tabID)
	l.closed = ErrClosed
}

func (l *Listener) onClick(ctx context.Context, ev models.DOMEvent) {
	el := ev.Target
	if el == nil || !classifier.IsTrackable(*el) {
		return
	}

	category, position := classifier.Classify(*el)
	l.session.IncrementInteractionCount(ctx)
	sid := l.sessionID(ctx)

	tag := strings.ToLower(el.TagName)
	action := fmt.Sprintf("%s_%s_%s_click", tag, category, position)
	l.tracker.TrackUserAction(ctx, tracker.UserAction{
		Action:          action,
		ElementCategory: category,
		PagePosition:    position,
		Page:            l.path,
		SessionID:       sid,
		Element:         el,
	})

	if !classifier.IsButtonLike(category) {
		return
	}
	text := strings.TrimSpace(el.TextContent)
	key := el.ID
	if key == "" {
		key = utils.Truncate(text, 50)
	}
	if key == "" {
		key = action
	}
	l.clickCounts[key]++

	buttonID := el.ID
	if buttonID == "" && text == "" {
		buttonID = action
	}
	l.tracker.TrackButtonAnalytics(ctx, tracker.ButtonAnalytics{
		ButtonID:   buttonID,
		Text:       text,
		Category:   category,
		Position:   position,
		Page:       l.path,
		ClickCount: l.clickCounts[key],
		SessionID:  sid,
	})
}

// onSubmit reports field names only. Values never leave the browser.
func (l *Listener) onSubmit(ctx context.Context, ev models.DOMEvent) {
	formID := ev.FormID
	if formID == "" {
		formID = "unknown"
	}
	names := make([]string, 0, len(ev.Fields))
	for _, f := range ev.Fields {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	l.tracker.TrackUserAction(ctx, tracker.UserAction{
		Action:          "form_" + formID + "_submit",
		ElementCategory: "form",
		PagePosition:    classifier.RegionForm,
		Page:            l.path,
		SessionID:       l.sessionID(ctx),
		Extra: map[string]any{
			"form_id":     formID,
			"field_names": names,
			"field_count": len(names),
		},
	})
}

// onPopState is the browser history signal, kept apart from route changes.
func (l *Listener) onPopState(ctx context.Context, ev models.DOMEvent) {
	from := ev.PrevPath
	if from == "" {
		from = l.path
	}
	to := ev.Path
	if to == "" {
		cc, _ := tracker.ClientFrom(ctx)
		to = cc.Client.Path
	}
	l.tracker.TrackNavigation(ctx, tracker.Navigation{From: from, To: to, Method: tracker.NavBrowserBackForward})
}

func (l *Listener) onVisibilityChange(ctx context.Context, ev models.DOMEvent) {
	action, state := "page_show", "visible"
	if ev.Hidden {
		action, state = "page_hide", "hidden"
	}
	l.tracker.TrackUserAction(ctx, tracker.UserAction{
		Action:    action,
		Page:      l.path,
		SessionID: l.sessionID(ctx),
		Extra:     map[string]any{"visibility_state": state},
	})
}

// onScroll emits at most once per window, and only once the page has moved
// more than scrollMinDelta since the last emitted scroll.
func (l *Listener) onScroll(ctx context.Context, ev models.DOMEvent) {
	if math.Abs(ev.ScrollY-l.lastScrollY) <= scrollMinDelta {
		return
	}
	if !l.scroll.AllowN(l.eventTime(ev), 1) {
		return
	}
	l.lastScrollY = ev.ScrollY

	cc, _ := tracker.ClientFrom(ctx)
	l.tracker.TrackUserAction(ctx, tracker.UserAction{
		Action:    "scroll",
		Page:      l.path,
		SessionID: l.sessionID(ctx),
		Extra: map[string]any{
			"scroll_y":          ev.ScrollY,
			"scroll_percentage": scrollPercentage(ev.ScrollY, ev.ScrollHeight, float64(cc.Client.Viewport.H)),
		},
	})
}

// eventTime places every event of the tab on the server clock. Client
// timestamps are shifted by the offset measured on the tab's first
// timestamped event, which keeps their spacing; events without one use the
// server clock directly.
func (l *Listener) eventTime(ev models.DOMEvent) time.Time {
	now := l.tracker.Now()
	if ev.Timestamp <= 0 {
		return now
	}
	client := time.UnixMilli(ev.Timestamp)
	if !l.clockSynced {
		l.clockOffset = now.Sub(client)
		l.clockSynced = true
	}
	return client.Add(l.clockOffset)
}

func scrollPercentage(y, scrollHeight, viewportHeight float64) int {
	scrollable := scrollHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	pct := math.Round(y / scrollable * 100)
	return int(math.Max(0, math.Min(100, pct)))
}
