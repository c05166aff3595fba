package tracker

import (
	"errors"
	"fmt"

	"clicktrail/api/models"
	"clicktrail/api/utils"
)

// Properties is the flattened property bag handed to sinks.
type Properties map[string]any

// Event is one tracked event kind. Each payload type validates its own
// arguments and derives its labels; the tracker adds the shared context.
type Event interface {
	EventName() string
	Validate() error
	Properties() Properties
}

func merge(dst Properties, src map[string]any) Properties {
	for k, v := range src {
		if _, taken := dst[k]; !taken {
			dst[k] = v
		}
	}
	return dst
}

func setIf(p Properties, key, v string) {
	if v != "" {
		p[key] = v
	}
}

// PageView is a framework-level route change.
type PageView struct {
	Path       string
	Title      string
	Referrer   string
	LoadTimeMs int64
}

func (PageView) EventName() string { return "Page Viewed" }

func (e PageView) Validate() error {
	if e.Path == "" {
		return errors.New("page path is required")
	}
	return nil
}

func (e PageView) Properties() Properties {
	p := Properties{
		"page_path":     e.Path,
		"page_category": PageCategory(e.Path),
	}
	setIf(p, "page_title", e.Title)
	setIf(p, "referrer", e.Referrer)
	if e.LoadTimeMs > 0 {
		p["load_time_ms"] = e.LoadTimeMs
	}
	return p
}

// UserAction is any direct interaction: clicks, submits, scrolls, visibility.
type UserAction struct {
	Action          string
	ElementCategory string
	PagePosition    string
	Page            string
	SessionID       string
	Element         *models.TrackedElement
	Extra           map[string]any
}

func (UserAction) EventName() string { return "User Action" }

func (e UserAction) Validate() error {
	if e.Action == "" {
		return errors.New("action is required")
	}
	return nil
}

func (e UserAction) Properties() Properties {
	p := Properties{"action": e.Action}
	setIf(p, "element_category", e.ElementCategory)
	setIf(p, "page_position", e.PagePosition)
	setIf(p, "session_id", e.SessionID)
	if e.Page != "" {
		p["page"] = e.Page
		p["page_category"] = PageCategory(e.Page)
	}
	if el := e.Element; el != nil {
		setIf(p, "element_tag", el.TagName)
		setIf(p, "element_id", el.ID)
		setIf(p, "element_class", el.ClassName)
		setIf(p, "element_text", utils.Truncate(el.TextContent, 100))
		setIf(p, "element_href", el.Href)
		setIf(p, "element_type", el.Type)
		setIf(p, "element_role", el.Role)
		setIf(p, "aria_label", el.AriaLabel)
		p["click_x"] = el.Position.X
		p["click_y"] = el.Position.Y
		for k, v := range el.DataAttributes {
			p["data_"+k] = v
		}
	}
	return merge(p, e.Extra)
}

// FeatureUsage records use of a named product feature.
type FeatureUsage struct {
	Feature string         `json:"feature"`
	Action  string         `json:"action"`
	Context map[string]any `json:"context"`
}

func (FeatureUsage) EventName() string { return "Feature Used" }

func (e FeatureUsage) Validate() error {
	if e.Feature == "" {
		return errors.New("feature is required")
	}
	return nil
}

func (e FeatureUsage) Properties() Properties {
	action := e.Action
	if action == "" {
		action = "used"
	}
	p := Properties{
		"feature_name":     e.Feature,
		"feature_action":   action,
		"feature_category": FeatureCategory(e.Feature),
	}
	return merge(p, e.Context)
}

// ErrorEvent records a user-visible or caught error.
type ErrorEvent struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Component string `json:"component"`
	Stack     string `json:"stack"`
	Page      string `json:"page"`
	Fatal     bool   `json:"fatal"`
}

func (ErrorEvent) EventName() string { return "Error Occurred" }

func (e ErrorEvent) Validate() error {
	if e.Message == "" && e.Code == "" {
		return errors.New("error message or code is required")
	}
	return nil
}

func (e ErrorEvent) Properties() Properties {
	category := ErrorCategory(e.Message + " " + e.Code)
	p := Properties{
		"error_message":  utils.Truncate(e.Message, 500),
		"error_category": category,
		"error_severity": ErrorSeverity(category, e.Fatal),
		"fatal":          e.Fatal,
	}
	setIf(p, "error_code", e.Code)
	setIf(p, "component", e.Component)
	setIf(p, "stack", utils.Truncate(e.Stack, 1000))
	setIf(p, "page", e.Page)
	return p
}

// Performance records a timing or web-vitals measurement.
type Performance struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit"`
	Page   string  `json:"page"`
}

func (Performance) EventName() string { return "Performance Metric" }

func (e Performance) Validate() error {
	if e.Metric == "" {
		return errors.New("metric is required")
	}
	if e.Value < 0 {
		return fmt.Errorf("metric %s has negative value %v", e.Metric, e.Value)
	}
	return nil
}

func (e Performance) Properties() Properties {
	unit := e.Unit
	if unit == "" {
		unit = "ms"
	}
	p := Properties{
		"metric_name":        e.Metric,
		"metric_value":       e.Value,
		"metric_unit":        unit,
		"performance_rating": PerformanceRating(e.Metric, e.Value),
	}
	setIf(p, "page", e.Page)
	return p
}

// Search records a search box submission.
type Search struct {
	Query       string   `json:"query"`
	ResultCount int      `json:"result_count"`
	Filters     []string `json:"filters"`
	Page        string   `json:"page"`
}

func (Search) EventName() string { return "Search Performed" }

func (e Search) Validate() error {
	if e.ResultCount < 0 {
		return errors.New("result count cannot be negative")
	}
	return nil
}

func (e Search) Properties() Properties {
	p := Properties{
		"search_query":        utils.Truncate(e.Query, 200),
		"query_length":        len([]rune(e.Query)),
		"query_length_bucket": QueryLengthBucket(e.Query),
		"result_count":        e.ResultCount,
		"has_results":         e.ResultCount > 0,
		"filters_applied":     len(e.Filters),
	}
	if e.Page != "" {
		p["page"] = e.Page
		p["search_context"] = PageCategory(e.Page)
	}
	return p
}

// FilterUsage records a list or table filter change.
type FilterUsage struct {
	Filter      string `json:"filter"`
	Value       string `json:"value"`
	Page        string `json:"page"`
	ResultCount int    `json:"result_count"`
}

func (FilterUsage) EventName() string { return "Filter Applied" }

func (e FilterUsage) Validate() error {
	if e.Filter == "" {
		return errors.New("filter name is required")
	}
	return nil
}

func (e FilterUsage) Properties() Properties {
	p := Properties{
		"filter_name":  e.Filter,
		"filter_value": e.Value,
		"filter_clear": e.Value == "",
		"result_count": e.ResultCount,
	}
	if e.Page != "" {
		p["page"] = e.Page
		p["page_category"] = PageCategory(e.Page)
	}
	return p
}

var modalActions = map[string]bool{"open": true, "close": true, "confirm": true, "cancel": true, "dismiss": true}

// ModalInteraction records a modal dialog lifecycle step.
type ModalInteraction struct {
	Modal      string `json:"modal"`
	Action     string `json:"action"`
	DurationMs int64  `json:"duration_ms"`
}

func (ModalInteraction) EventName() string { return "Modal Interaction" }

func (e ModalInteraction) Validate() error {
	if e.Modal == "" {
		return errors.New("modal name is required")
	}
	if !modalActions[e.Action] {
		return fmt.Errorf("unknown modal action %q", e.Action)
	}
	return nil
}

func (e ModalInteraction) Properties() Properties {
	p := Properties{"modal_name": e.Modal, "modal_action": e.Action}
	if e.DurationMs > 0 {
		p["open_duration_ms"] = e.DurationMs
	}
	return p
}

// Navigation method values.
const (
	NavLink               = "link"
	NavBrowserBackForward = "browser_back_forward"
	NavRedirect           = "redirect"
)

// Navigation records a move between pages. Browser history moves are kept
// separate from framework route changes (PageView).
type Navigation struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Method string `json:"method"`
}

func (Navigation) EventName() string { return "Navigation" }

func (e Navigation) Validate() error {
	if e.To == "" {
		return errors.New("navigation target is required")
	}
	return nil
}

func (e Navigation) Properties() Properties {
	method := e.Method
	if method == "" {
		method = NavLink
	}
	p := Properties{
		"to_page":           e.To,
		"to_category":       PageCategory(e.To),
		"navigation_method": method,
	}
	if e.From != "" {
		p["from_page"] = e.From
		p["from_category"] = PageCategory(e.From)
	}
	return p
}

// BusinessMetric records a KPI sample.
type BusinessMetric struct {
	Metric     string         `json:"metric"`
	Value      float64        `json:"value"`
	Currency   string         `json:"currency"`
	Dimensions map[string]any `json:"dimensions"`
}

func (BusinessMetric) EventName() string { return "Business Metric" }

func (e BusinessMetric) Validate() error {
	if e.Metric == "" {
		return errors.New("metric is required")
	}
	return nil
}

func (e BusinessMetric) Properties() Properties {
	p := Properties{
		"metric_name":     e.Metric,
		"metric_value":    e.Value,
		"metric_category": MetricCategory(e.Metric),
	}
	setIf(p, "currency", e.Currency)
	return merge(p, e.Dimensions)
}

// MarketingTouch records an attributed visit.
type MarketingTouch struct {
	Source      string `json:"source"`
	Medium      string `json:"medium"`
	Campaign    string `json:"campaign"`
	Content     string `json:"content"`
	Term        string `json:"term"`
	LandingPage string `json:"landing_page"`
}

func (MarketingTouch) EventName() string { return "Marketing Touch" }

func (MarketingTouch) Validate() error { return nil }

func (e MarketingTouch) Properties() Properties {
	p := Properties{"channel": MarketingChannel(e.Source, e.Medium)}
	setIf(p, "utm_source", e.Source)
	setIf(p, "utm_medium", e.Medium)
	setIf(p, "utm_campaign", e.Campaign)
	setIf(p, "utm_content", e.Content)
	setIf(p, "utm_term", e.Term)
	setIf(p, "landing_page", e.LandingPage)
	return p
}

// SalesStages is the ordered sales pipeline.
var SalesStages = []string{"lead", "qualified", "demo", "trial", "proposal", "negotiation", "closed_won", "closed_lost"}

// SalesStage records movement through the sales pipeline.
type SalesStage struct {
	Stage     string  `json:"stage"`
	DealValue float64 `json:"deal_value"`
	Plan      string  `json:"plan"`
}

func (SalesStage) EventName() string { return "Sales Stage" }

func (e SalesStage) Validate() error {
	if stageIndex(e.Stage) < 0 {
		return fmt.Errorf("unknown sales stage %q", e.Stage)
	}
	return nil
}

func (e SalesStage) Properties() Properties {
	p := Properties{
		"sales_stage": e.Stage,
		"stage_index": stageIndex(e.Stage),
		"deal_value":  e.DealValue,
		"is_closed":   e.Stage == "closed_won" || e.Stage == "closed_lost",
	}
	setIf(p, "plan", e.Plan)
	return p
}

func stageIndex(stage string) int {
	for i, s := range SalesStages {
		if s == stage {
			return i
		}
	}
	return -1
}

var authActions = map[string]bool{
	"login": true, "logout": true, "signup": true, "mfa_challenge": true,
	"mfa_verified": true, "password_reset": true, "token_refresh": true,
}

// AuthEvent records an authentication flow step.
type AuthEvent struct {
	Action        string `json:"action"`
	Method        string `json:"method"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason"`
}

func (AuthEvent) EventName() string { return "Authentication" }

func (e AuthEvent) Validate() error {
	if !authActions[e.Action] {
		return fmt.Errorf("unknown auth action %q", e.Action)
	}
	return nil
}

func (e AuthEvent) Properties() Properties {
	method := e.Method
	if method == "" {
		method = "password"
	}
	p := Properties{
		"auth_action": e.Action,
		"auth_method": method,
		"success":     e.Success,
	}
	if !e.Success && e.FailureReason != "" {
		p["failure_reason"] = e.FailureReason
		p["failure_category"] = ErrorCategory(e.FailureReason)
	}
	return p
}

// PageAnalytics summarises one page visit.
type PageAnalytics struct {
	Path         string  `json:"path"`
	TimeOnPageMs int64   `json:"time_on_page_ms"`
	ScrollDepth  float64 `json:"scroll_depth"`
	Interactions int     `json:"interactions"`
}

func (PageAnalytics) EventName() string { return "Page Analytics" }

func (e PageAnalytics) Validate() error {
	if e.Path == "" {
		return errors.New("page path is required")
	}
	return nil
}

func (e PageAnalytics) Properties() Properties {
	return Properties{
		"page_path":        e.Path,
		"page_category":    PageCategory(e.Path),
		"time_on_page_ms":  e.TimeOnPageMs,
		"scroll_depth":     e.ScrollDepth,
		"interactions":     e.Interactions,
		"engagement_level": EngagementLevel(e.TimeOnPageMs, e.Interactions),
	}
}

// ButtonAnalytics records a button or link click with its running count.
type ButtonAnalytics struct {
	ButtonID   string `json:"button_id"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	Position   string `json:"position"`
	Page       string `json:"page"`
	ClickCount int    `json:"click_count"`
	SessionID  string `json:"session_id"`
}

func (ButtonAnalytics) EventName() string { return "Button Clicked" }

func (e ButtonAnalytics) Validate() error {
	if e.ButtonID == "" && e.Text == "" {
		return errors.New("button id or text is required")
	}
	if e.ClickCount < 1 {
		return errors.New("click count must be positive")
	}
	return nil
}

func (e ButtonAnalytics) Properties() Properties {
	intent := ButtonIntent(e.Text)
	if intent == "other" {
		intent = ButtonIntent(e.ButtonID)
	}
	p := Properties{
		"button_id":       e.ButtonID,
		"button_text":     utils.Truncate(e.Text, 100),
		"button_category": e.Category,
		"button_position": e.Position,
		"button_intent":   intent,
		"click_count":     e.ClickCount,
		"repeat_click":    e.ClickCount > 1,
	}
	setIf(p, "session_id", e.SessionID)
	if e.Page != "" {
		p["page"] = e.Page
		p["page_category"] = PageCategory(e.Page)
	}
	return p
}

// SessionStart marks a new tab session.
type SessionStart struct {
	SessionID string
	Page      string
}

func (SessionStart) EventName() string { return "session_start" }

func (e SessionStart) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	return nil
}

func (e SessionStart) Properties() Properties {
	p := Properties{"session_id": e.SessionID}
	setIf(p, "landing_page", e.Page)
	return p
}

// SessionEnd closes a tab session.
type SessionEnd struct {
	SessionID    string
	DurationMs   int64
	PagesVisited int
	Interactions int
}

func (SessionEnd) EventName() string { return "session_end" }

func (e SessionEnd) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	return nil
}

func (e SessionEnd) Properties() Properties {
	return Properties{
		"session_id":         e.SessionID,
		"duration_ms":        e.DurationMs,
		"pages_visited":      e.PagesVisited,
		"interactions_count": e.Interactions,
	}
}

// Custom is an arbitrary named event, used for the generic track endpoint and
// for the bookkeeping services' own event names.
type Custom struct {
	Name  string
	Props map[string]any
}

func (e Custom) EventName() string { return e.Name }

func (e Custom) Validate() error {
	if e.Name == "" {
		return errors.New("event name is required")
	}
	return nil
}

func (e Custom) Properties() Properties {
	return merge(Properties{}, e.Props)
}
