// Package tracker is the single choke point for analytics events. It enriches
// typed events with browser and session context and forwards them to a Sink.
//
// Tracking is fail-open: no public method returns an error or panics because
// of the sink. Failures are logged and counted, and the caller carries on.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"clicktrail/api/observability"
)

// Options configures a Tracker.
type Options struct {
	Enabled       bool
	Environment   string
	AppVersion    string
	ReplayBaseURL string
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
}

// RecordingReasons is the allow-list for conditional session recording.
var RecordingReasons = map[string]bool{
	"error":           true,
	"conversion":      true,
	"high_value_user": true,
	"support_request": true,
}

// scope is the SDK-side state of one browser tab: identity, super properties
// and session-replay status.
type scope struct {
	distinctID string
	super      Properties
	recording  bool
	replayID   string
}

// Tracker is safe for concurrent use.
type Tracker struct {
	sink    Sink
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	enabled bool
	scopes  map[string]*scope
}

// New builds a Tracker. A nil sink leaves tracking disabled.
func New(sink Sink, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		sink:    sink,
		opts:    opts,
		logger:  opts.Logger.With("component", "tracker"),
		metrics: opts.Metrics,
		now:     opts.Now,
		enabled: opts.Enabled && sink != nil,
		scopes:  make(map[string]*scope),
	}
}

// Enabled reports whether events currently reach the sink.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled toggles tracking at runtime. It cannot enable a tracker built
// without a sink.
func (t *Tracker) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on && t.sink != nil
	t.mu.Unlock()
}

// Now returns the tracker's clock reading.
func (t *Tracker) Now() time.Time { return t.now() }

func scopeKey(ctx context.Context) string {
	cc, _ := ClientFrom(ctx)
	if cc.TabID != "" {
		return "tab:" + cc.TabID
	}
	if cc.UserID != "" {
		return "user:" + cc.UserID
	}
	return ""
}

// scopeLocked returns the scope for ctx, creating it. Caller holds t.mu.
func (t *Tracker) scopeLocked(ctx context.Context) *scope {
	key := scopeKey(ctx)
	sc, ok := t.scopes[key]
	if !ok {
		sc = &scope{super: Properties{}}
		t.scopes[key] = sc
	}
	return sc
}

// peekLocked returns the scope for ctx without creating it. Caller holds t.mu.
func (t *Tracker) peekLocked(ctx context.Context) *scope {
	if sc, ok := t.scopes[scopeKey(ctx)]; ok {
		return sc
	}
	return &scope{}
}

// Track forwards a named event with free-form properties.
func (t *Tracker) Track(ctx context.Context, name string, props map[string]any, userID string) {
	t.contain(t.emit(ctx, Custom{Name: name, Props: props}, userID))
}

// Emit forwards ev and reports the outcome to callers that want it.
func (t *Tracker) Emit(ctx context.Context, ev Event, userID string) error {
	err := t.emit(ctx, ev, userID)
	t.contain(err)
	return err
}

func (t *Tracker) TrackPageView(ctx context.Context, e PageView) { t.contain(t.emit(ctx, e, "")) }

func (t *Tracker) TrackUserAction(ctx context.Context, e UserAction) { t.contain(t.emit(ctx, e, "")) }

func (t *Tracker) TrackFeatureUsage(ctx context.Context, e FeatureUsage) {
	t.contain(t.emit(ctx, e, ""))
}

// TrackError records an error event. Severe errors also start a session
// recording for the tab.
func (t *Tracker) TrackError(ctx context.Context, e ErrorEvent) {
	t.contain(t.emit(ctx, e, ""))
	switch ErrorSeverity(ErrorCategory(e.Message+" "+e.Code), e.Fatal) {
	case "critical", "high":
		t.StartConditionalRecording(ctx, "error")
	}
}

func (t *Tracker) TrackPerformance(ctx context.Context, e Performance) {
	t.contain(t.emit(ctx, e, ""))
}

func (t *Tracker) TrackSearch(ctx context.Context, e Search) { t.contain(t.emit(ctx, e, "")) }

func (t *Tracker) TrackFilterUsage(ctx context.Context, e FilterUsage) {
	t.contain(t.emit(ctx, e, ""))
}

func (t *Tracker) TrackModalInteraction(ctx context.Context, e ModalInteraction) {
	t.contain(t.emit(ctx, e, ""))
}

func (t *Tracker) TrackNavigation(ctx context.Context, e Navigation) {
	t.contain(t.emit(ctx, e, ""))
}

func (t *Tracker) TrackBusinessMetric(ctx context.Context, e BusinessMetric, userID string) {
	t.contain(t.emit(ctx, e, userID))
}

func (t *Tracker) TrackMarketingData(ctx context.Context, e MarketingTouch) {
	t.contain(t.emit(ctx, e, ""))
}

func (t *Tracker) TrackSalesData(ctx context.Context, e SalesStage, userID string) {
	t.contain(t.emit(ctx, e, userID))
}

func (t *Tracker) TrackAuthEvent(ctx context.Context, e AuthEvent, userID string) {
	t.contain(t.emit(ctx, e, userID))
}

func (t *Tracker) TrackPageAnalytics(ctx context.Context, e PageAnalytics) {
	t.contain(t.emit(ctx, e, ""))
}

func (t *Tracker) TrackButtonAnalytics(ctx context.Context, e ButtonAnalytics) {
	t.contain(t.emit(ctx, e, ""))
}

func kindOf(ev Event) string {
	if _, ok := ev.(Custom); ok {
		return "custom"
	}
	return ev.EventName()
}

func (t *Tracker) emit(ctx context.Context, ev Event, userID string) (err error) {
	op := ev.EventName()
	defer func() {
		if r := recover(); r != nil {
			err = &TrackingError{Op: op, Kind: KindPanic, Err: fmt.Errorf("%v", r)}
		}
		outcome := "sent"
		if err != nil {
			outcome = KindOf(err).String()
		}
		t.metrics.Event(kindOf(ev), outcome)
	}()

	if !t.Enabled() {
		return disabled(op)
	}
	if err := ev.Validate(); err != nil {
		return invalid(op, err)
	}

	rec := t.enrich(ctx, ev, userID)
	if err := t.sink.Track(ctx, rec); err != nil {
		return sinkFailure(op, err)
	}
	return nil
}

// enrich builds the sink record: event properties first, then super
// properties, then fixed context, then replay metadata. Event properties win
// over super properties; fixed context wins over both.
func (t *Tracker) enrich(ctx context.Context, ev Event, userID string) Record {
	now := t.now()
	props := ev.Properties()
	cc, _ := ClientFrom(ctx)

	t.mu.Lock()
	sc := t.peekLocked(ctx)
	for k, v := range sc.super {
		if _, taken := props[k]; !taken {
			props[k] = v
		}
	}
	distinctID := userID
	if distinctID == "" {
		distinctID = sc.distinctID
	}
	if sc.recording {
		props["$mp_replay_id"] = sc.replayID
		props["session_recording"] = true
	}
	t.mu.Unlock()

	if distinctID == "" {
		distinctID = cc.UserID
	}
	if distinctID == "" && cc.TabID != "" {
		distinctID = "anon:" + cc.TabID
	}

	props["timestamp"] = now.UTC().Format(time.RFC3339Nano)
	props["environment"] = t.opts.Environment
	props["app_version"] = t.opts.AppVersion
	c := cc.Client
	setIf(props, "url", c.URL)
	setIf(props, "user_agent", c.UserAgent)
	setIf(props, "locale", c.Locale)
	setIf(props, "timezone", c.Timezone)
	setIf(props, "ip", cc.IP)
	if c.Screen.W > 0 {
		props["screen_width"] = c.Screen.W
		props["screen_height"] = c.Screen.H
	}
	if c.Viewport.W > 0 {
		props["viewport_width"] = c.Viewport.W
		props["viewport_height"] = c.Viewport.H
	}
	if _, ok := props["page_path"]; !ok {
		setIf(props, "page_path", c.Path)
	}

	return Record{
		Name:       ev.EventName(),
		DistinctID: distinctID,
		InsertID:   uuid.NewString(),
		Time:       now,
		Properties: props,
	}
}

// contain reduces an emit failure to a log line at the level its kind deserves.
func (t *Tracker) contain(err error) {
	if err == nil {
		return
	}
	switch KindOf(err) {
	case KindDisabled:
		t.logger.Debug("tracking skipped", "error", err)
	case KindInvalid:
		t.logger.Warn("tracking call rejected", "error", err)
	default:
		t.logger.Error("tracking call failed", "error", err)
	}
}

// Identify ties the tab's subsequent events to userID.
func (t *Tracker) Identify(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	t.scopeLocked(ctx).distinctID = userID
	t.mu.Unlock()
}

// Register sets super properties attached to every later event of the tab.
func (t *Tracker) Register(ctx context.Context, props map[string]any) {
	t.mu.Lock()
	sc := t.scopeLocked(ctx)
	for k, v := range props {
		sc.super[k] = v
	}
	t.mu.Unlock()
}

// RegisterOnce sets super properties that are not already set.
func (t *Tracker) RegisterOnce(ctx context.Context, props map[string]any) {
	t.mu.Lock()
	sc := t.scopeLocked(ctx)
	for k, v := range props {
		if _, ok := sc.super[k]; !ok {
			sc.super[k] = v
		}
	}
	t.mu.Unlock()
}

// Unregister removes one super property.
func (t *Tracker) Unregister(ctx context.Context, name string) {
	t.mu.Lock()
	delete(t.scopeLocked(ctx).super, name)
	t.mu.Unlock()
}

// SuperProperties returns a copy of the tab's super properties.
func (t *Tracker) SuperProperties(ctx context.Context) Properties {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Properties{}
	for k, v := range t.peekLocked(ctx).super {
		out[k] = v
	}
	return out
}

// Reset clears identity, super properties and recording state, as on logout.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	delete(t.scopes, scopeKey(ctx))
	t.mu.Unlock()
}

// SetUserProfile overwrites profile properties, stamping the update time.
func (t *Tracker) SetUserProfile(ctx context.Context, userID string, props map[string]any) {
	t.contain(t.engage(ctx, "people.set", userID, func(up *ProfileUpdate) {
		up.Set = Properties{"profile_updated_at": up.Time.UTC().Format(time.RFC3339)}
		for k, v := range props {
			up.Set[k] = v
		}
	}))
}

// IncrementUserProperty adds delta to a numeric profile property.
func (t *Tracker) IncrementUserProperty(ctx context.Context, userID, prop string, delta float64) {
	t.contain(t.engage(ctx, "people.increment", userID, func(up *ProfileUpdate) {
		up.Add = map[string]float64{prop: delta}
	}))
}

func (t *Tracker) engage(ctx context.Context, op, userID string, build func(*ProfileUpdate)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TrackingError{Op: op, Kind: KindPanic, Err: fmt.Errorf("%v", r)}
		}
	}()
	if userID == "" {
		// Anonymous profile writes are dropped silently.
		return nil
	}
	if !t.Enabled() {
		return disabled(op)
	}
	up := ProfileUpdate{DistinctID: userID, Time: t.now()}
	build(&up)
	if err := t.sink.Engage(ctx, up); err != nil {
		return sinkFailure(op, err)
	}
	return nil
}

// StartSessionRecording turns on session replay for the tab.
func (t *Tracker) StartSessionRecording(ctx context.Context) {
	if !t.Enabled() {
		t.contain(disabled("start_session_recording"))
		return
	}
	t.mu.Lock()
	sc := t.scopeLocked(ctx)
	if !sc.recording {
		sc.recording = true
		sc.replayID = uuid.NewString()
	}
	t.mu.Unlock()
}

// StopSessionRecording turns session replay off for the tab.
func (t *Tracker) StopSessionRecording(ctx context.Context) {
	t.mu.Lock()
	if sc, ok := t.scopes[scopeKey(ctx)]; ok {
		sc.recording = false
		sc.replayID = ""
	}
	t.mu.Unlock()
}

// StartConditionalRecording records only for allow-listed reasons and reports
// whether recording was started.
func (t *Tracker) StartConditionalRecording(ctx context.Context, reason string) bool {
	if !RecordingReasons[reason] || !t.Enabled() {
		return false
	}
	t.StartSessionRecording(ctx)
	t.Register(ctx, map[string]any{"recording_reason": reason})
	return true
}

// IsRecording reports whether the tab is being recorded.
func (t *Tracker) IsRecording(ctx context.Context) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peekLocked(ctx).recording
}

// SessionRecordingProperties returns the replay metadata merged into events.
func (t *Tracker) SessionRecordingProperties(ctx context.Context) Properties {
	t.mu.Lock()
	defer t.mu.Unlock()
	sc := t.peekLocked(ctx)
	if !sc.recording {
		return Properties{}
	}
	return Properties{"$mp_replay_id": sc.replayID}
}

// SessionReplayURL links to the tab's replay, or "" when not recording.
func (t *Tracker) SessionReplayURL(ctx context.Context) string {
	props := t.SessionRecordingProperties(ctx)
	id, _ := props["$mp_replay_id"].(string)
	if id == "" || t.opts.ReplayBaseURL == "" {
		return ""
	}
	return t.opts.ReplayBaseURL + "/" + id
}

// Forget drops all SDK state for a tab after it is torn down.
func (t *Tracker) Forget(tabID string) {
	t.mu.Lock()
	delete(t.scopes, "tab:"+tabID)
	t.mu.Unlock()
}

// Flush asks the sink to deliver buffered events.
func (t *Tracker) Flush(ctx context.Context) error {
	if t.sink == nil {
		return nil
	}
	return t.sink.Flush(ctx)
}

// Close flushes and shuts down the sink.
func (t *Tracker) Close(ctx context.Context) error {
	if t.sink == nil {
		return nil
	}
	t.SetEnabled(false)
	if err := t.sink.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close sink %s: %w", t.sink.Name(), err)
	}
	return nil
}
