package listener_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clicktrail/api/listener"
	"clicktrail/api/models"
	"clicktrail/api/session"
	"clicktrail/api/store"
	"clicktrail/api/tracker"
	"clicktrail/api/tracker/trackertest"
)

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	t0      = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	rec *trackertest.Recorder
	tr  *tracker.Tracker
	kv  *store.MemoryKV
	l   *listener.Listener
	ctx context.Context
}

func newFixture(t *testing.T, path string) *fixture {
	t.Helper()
	rec := &trackertest.Recorder{}
	tr := tracker.New(rec, tracker.Options{Enabled: true, Logger: discard, Now: func() time.Time { return t0 }})
	kv := store.NewMemoryKV()
	sess := session.NewStore(store.NewScoped(kv, "tab:t1:"), tr, discard)
	ctx := tracker.WithClient(context.Background(), tracker.ClientContext{
		TabID:  "t1",
		UserID: "user-1",
		Client: models.ClientInfo{Path: path, Viewport: models.Size{W: 1280, H: 800}},
	})
	l := listener.New("t1", tr, sess, discard)
	l.Start(ctx, path)
	return &fixture{rec: rec, tr: tr, kv: kv, l: l, ctx: ctx}
}

func (f *fixture) handle(t *testing.T, ev models.DOMEvent) {
	t.Helper()
	require.NoError(t, f.l.Handle(f.ctx, ev))
}

func click(el models.TrackedElement) models.DOMEvent {
	return models.DOMEvent{Kind: models.DOMClick, Target: &el}
}

func TestStartAttachesAndRegistersSession(t *testing.T) {
	f := newFixture(t, "/dashboard")

	assert.True(t, f.l.Attached())
	assert.Equal(t, 5, f.l.Document().ListenerCount())
	require.Len(t, f.rec.Named("session_start"), 1)
	require.Len(t, f.rec.Named("Page Viewed"), 1)

	sid := f.rec.Named("session_start")[0].Properties["session_id"]
	assert.Equal(t, sid, f.tr.SuperProperties(f.ctx)["session_id"])
}

func TestPrimaryButtonClickInContent(t *testing.T) {
	f := newFixture(t, "/dashboard")

	f.handle(t, click(models.TrackedElement{
		TagName:     "BUTTON",
		ID:          "optimize-btn",
		ClassName:   "btn btn-primary",
		TextContent: "Optimize",
		Ancestors:   []models.ElementRef{{TagName: "div", ClassName: "dashboard-content"}},
	}))

	actions := f.rec.Named("User Action")
	buttons := f.rec.Named("Button Clicked")
	require.Len(t, actions, 1)
	require.Len(t, buttons, 1)

	a := actions[0].Properties
	assert.Equal(t, "button_primary_button_content_click", a["action"])
	assert.Equal(t, "primary_button", a["element_category"])
	assert.Equal(t, "content", a["page_position"])

	b := buttons[0].Properties
	assert.Equal(t, "optimize-btn", b["button_id"])
	assert.Equal(t, 1, b["click_count"])
	assert.NotEmpty(t, a["session_id"])
	assert.Equal(t, a["session_id"], b["session_id"])

	assert.Equal(t, 1, session.NewStore(store.NewScoped(f.kv, "tab:t1:"), f.tr, discard).Snapshot(f.ctx).InteractionCount)
}

func TestClickCountsArePerElement(t *testing.T) {
	f := newFixture(t, "/dashboard")
	save := models.TrackedElement{TagName: "button", ID: "save", ClassName: "btn-success"}
	other := models.TrackedElement{TagName: "a", ID: "docs", Href: "/docs"}

	f.handle(t, click(save))
	f.handle(t, click(save))
	f.handle(t, click(other))

	buttons := f.rec.Named("Button Clicked")
	require.Len(t, buttons, 3)
	assert.Equal(t, 1, buttons[0].Properties["click_count"])
	assert.Equal(t, 2, buttons[1].Properties["click_count"])
	assert.Equal(t, true, buttons[1].Properties["repeat_click"])
	assert.Equal(t, 1, buttons[2].Properties["click_count"])
}

func TestUntrackableClicksNeverReachTracker(t *testing.T) {
	tests := []struct {
		name string
		el   models.TrackedElement
	}{
		{"textarea", models.TrackedElement{TagName: "TEXTAREA", ID: "notes"}},
		{"text input", models.TrackedElement{TagName: "input", Type: "text"}},
		{"opted out", models.TrackedElement{TagName: "button", ID: "secret", DataAttributes: map[string]string{"no-track": ""}}},
		{"opted out ancestor", models.TrackedElement{TagName: "button", Ancestors: []models.ElementRef{{TagName: "section", NoTrack: true}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "/dashboard")
			before := f.rec.Calls()

			f.handle(t, click(tt.el))

			assert.Equal(t, before, f.rec.Calls())
		})
	}
}

func TestNonButtonClickSkipsButtonAnalytics(t *testing.T) {
	f := newFixture(t, "/dashboard")

	f.handle(t, click(models.TrackedElement{TagName: "div", ClassName: "card"}))

	assert.Len(t, f.rec.Named("User Action"), 1)
	assert.Empty(t, f.rec.Named("Button Clicked"))
}

func TestSubmitReportsFieldNamesOnly(t *testing.T) {
	f := newFixture(t, "/settings")

	f.handle(t, models.DOMEvent{
		Kind:   models.DOMSubmit,
		FormID: "profile",
		Fields: []models.FormField{{Name: "email", Type: "email"}, {Name: "display_name"}, {Type: "hidden"}},
	})

	actions := f.rec.Named("User Action")
	require.Len(t, actions, 1)
	p := actions[0].Properties
	assert.Equal(t, "form_profile_submit", p["action"])
	assert.Equal(t, []string{"email", "display_name"}, p["field_names"])
	assert.Equal(t, 2, p["field_count"])
}

func scrollAt(offset time.Duration, y float64) models.DOMEvent {
	return models.DOMEvent{Kind: models.DOMScroll, Timestamp: t0.Add(offset).UnixMilli(), ScrollY: y, ScrollHeight: 2800}
}

func TestScrollBurstEmitsAtMostOnce(t *testing.T) {
	f := newFixture(t, "/dashboard")

	for i := 1; i <= 50; i++ {
		f.handle(t, scrollAt(time.Duration(i)*4*time.Millisecond, float64(i*3)))
	}

	scrolls := f.rec.Named("User Action")
	require.Len(t, scrolls, 1)
	p := scrolls[0].Properties
	assert.Equal(t, "scroll", p["action"])
	assert.Greater(t, p["scroll_y"].(float64), 100.0)
}

func TestScrollBelowDeltaNeverEmits(t *testing.T) {
	f := newFixture(t, "/dashboard")

	for i := 1; i <= 50; i++ {
		f.handle(t, scrollAt(time.Duration(i)*4*time.Millisecond, float64(i*2)))
	}

	assert.Empty(t, f.rec.Named("User Action"))
}

func TestScrollEmitsAgainAfterWindow(t *testing.T) {
	f := newFixture(t, "/dashboard")

	f.handle(t, scrollAt(0, 500))
	f.handle(t, scrollAt(500*time.Millisecond, 900))
	f.handle(t, scrollAt(1500*time.Millisecond, 1000))

	scrolls := f.rec.Named("User Action")
	require.Len(t, scrolls, 2)
	assert.Equal(t, 25, scrolls[0].Properties["scroll_percentage"])
	assert.Equal(t, 50, scrolls[1].Properties["scroll_percentage"])
}

func TestScrollWindowSurvivesClientClockSkew(t *testing.T) {
	f := newFixture(t, "/dashboard")
	skew := -2 * time.Hour

	f.handle(t, scrollAt(skew, 500))
	// No timestamp: must not read as two hours after the previous scroll.
	f.handle(t, models.DOMEvent{Kind: models.DOMScroll, ScrollY: 900, ScrollHeight: 2800})
	f.handle(t, scrollAt(skew+500*time.Millisecond, 1000))
	f.handle(t, scrollAt(skew+1500*time.Millisecond, 1200))

	scrolls := f.rec.Named("User Action")
	require.Len(t, scrolls, 2)
	assert.Equal(t, 500.0, scrolls[0].Properties["scroll_y"])
	assert.Equal(t, 1200.0, scrolls[1].Properties["scroll_y"])
}

func TestVisibilityAndPopState(t *testing.T) {
	f := newFixture(t, "/dashboard")

	f.handle(t, models.DOMEvent{Kind: models.DOMVisibilityChange, Hidden: true})
	f.handle(t, models.DOMEvent{Kind: models.DOMVisibilityChange})
	f.handle(t, models.DOMEvent{Kind: models.DOMPopState, Path: "/analytics", PrevPath: "/dashboard"})

	actions := f.rec.Named("User Action")
	require.Len(t, actions, 2)
	assert.Equal(t, "page_hide", actions[0].Properties["action"])
	assert.Equal(t, "page_show", actions[1].Properties["action"])

	nav := f.rec.Named("Navigation")
	require.Len(t, nav, 1)
	assert.Equal(t, tracker.NavBrowserBackForward, nav[0].Properties["navigation_method"])
	assert.Equal(t, "/analytics", nav[0].Properties["to_page"])
	// popstate is not a framework route change
	assert.Len(t, f.rec.Named("Page Viewed"), 1)
}

func TestRouteChangeReevaluatesTracking(t *testing.T) {
	f := newFixture(t, "/dashboard")
	btn := models.TrackedElement{TagName: "button", ID: "go"}

	f.handle(t, models.DOMEvent{Kind: models.DOMRouteChange, Path: "/login"})
	assert.False(t, f.l.Attached())
	assert.Zero(t, f.l.Document().ListenerCount())
	f.handle(t, click(btn))
	assert.Empty(t, f.rec.Named("User Action"))

	f.handle(t, models.DOMEvent{Kind: models.DOMRouteChange, Path: "/gateways"})
	assert.True(t, f.l.Attached())
	f.handle(t, click(btn))
	assert.Len(t, f.rec.Named("User Action"), 1)

	views := f.rec.Named("Page Viewed")
	require.Len(t, views, 3)
	assert.Equal(t, "/login", views[1].Properties["page_path"])
	assert.Equal(t, "/login", views[2].Properties["referrer"])

	snap := session.NewStore(store.NewScoped(f.kv, "tab:t1:"), f.tr, discard).Snapshot(f.ctx)
	assert.Equal(t, 3, snap.PagesVisited)
}

func TestDisabledTrackingNeverAttaches(t *testing.T) {
	rec := &trackertest.Recorder{}
	tr := tracker.New(rec, tracker.Options{Enabled: false, Logger: discard})
	sess := session.NewStore(store.NewMemoryKV(), tr, discard)
	ctx := tracker.WithClient(context.Background(), tracker.ClientContext{TabID: "t2"})
	l := listener.New("t2", tr, sess, discard)

	l.Start(ctx, "/dashboard")
	require.NoError(t, l.Handle(ctx, click(models.TrackedElement{TagName: "button", ID: "x"})))

	assert.False(t, l.Attached())
	assert.Zero(t, rec.Calls())
}

func TestUnloadEndsSessionAndDetaches(t *testing.T) {
	f := newFixture(t, "/dashboard")
	f.tr.StartSessionRecording(f.ctx)

	f.handle(t, models.DOMEvent{Kind: models.DOMUnload})

	assert.Len(t, f.rec.Named("session_end"), 1)
	assert.Zero(t, f.l.Document().ListenerCount())
	assert.False(t, f.tr.IsRecording(f.ctx))
	assert.Zero(t, f.kv.Len())
	assert.ErrorIs(t, f.l.Handle(f.ctx, click(models.TrackedElement{TagName: "button"})), listener.ErrClosed)
}
