package tracker

import (
	"strings"

	"clicktrail/api/utils"
)

var pageCategories = []utils.Keyword{
	{Label: "authentication", Contains: []string{"/login", "/signup", "/register", "/auth", "/mfa", "/forgot-password", "/reset-password"}},
	{Label: "dashboard", Contains: []string{"/dashboard"}},
	{Label: "analytics", Contains: []string{"/analytics", "/reports", "/insights"}},
	{Label: "projects", Contains: []string{"/projects", "/project"}},
	{Label: "gateway", Contains: []string{"/gateway", "/firewall", "/rules"}},
	{Label: "billing", Contains: []string{"/billing", "/pricing", "/subscription", "/checkout"}},
	{Label: "settings", Contains: []string{"/settings", "/profile", "/account", "/preferences"}},
	{Label: "team", Contains: []string{"/team", "/members", "/invite"}},
	{Label: "documentation", Contains: []string{"/docs", "/help", "/support"}},
}

// PageCategory maps a route path onto a coarse product area.
func PageCategory(path string) string {
	if path == "" || path == "/" {
		return "home"
	}
	return utils.MatchKeyword(path, pageCategories, "other")
}

var authPages = []string{"/login", "/signup", "/register", "/forgot-password", "/reset-password", "/mfa", "/auth/"}

// IsAuthPage reports whether path is part of the sign-in flow, where the
// interaction listener stays detached.
func IsAuthPage(path string) bool {
	lower := strings.ToLower(path)
	for _, p := range authPages {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

var errorCategories = []utils.Keyword{
	{Label: "timeout", Contains: []string{"timeout", "timed out", "deadline"}},
	{Label: "network", Contains: []string{"network", "fetch", "connection", "offline", "econn"}},
	{Label: "authentication", Contains: []string{"unauthorized", "401", "token", "auth", "login"}},
	{Label: "permission", Contains: []string{"forbidden", "403", "permission", "denied"}},
	{Label: "validation", Contains: []string{"invalid", "validation", "required", "must be"}},
	{Label: "not_found", Contains: []string{"not found", "404"}},
	{Label: "server", Contains: []string{"500", "502", "503", "internal server", "server error"}},
	{Label: "payment", Contains: []string{"payment", "card", "billing"}},
}

// ErrorCategory buckets a free-form error message.
func ErrorCategory(message string) string {
	return utils.MatchKeyword(message, errorCategories, "unknown")
}

// ErrorSeverity derives a severity from the error category.
func ErrorSeverity(category string, fatal bool) string {
	if fatal {
		return "critical"
	}
	switch category {
	case "server", "payment":
		return "high"
	case "network", "timeout", "authentication", "permission":
		return "medium"
	}
	return "low"
}

type perfThreshold struct {
	good, poor float64
}

// Web-vitals style thresholds, in the metric's native unit.
var perfThresholds = map[string]perfThreshold{
	"lcp":       {good: 2500, poor: 4000},
	"fcp":       {good: 1800, poor: 3000},
	"fid":       {good: 100, poor: 300},
	"inp":       {good: 200, poor: 500},
	"ttfb":      {good: 800, poor: 1800},
	"cls":       {good: 0.1, poor: 0.25},
	"page_load": {good: 2000, poor: 5000},
	"api_call":  {good: 300, poor: 1000},
}

// PerformanceRating labels a metric value good, needs_improvement or poor.
func PerformanceRating(metric string, value float64) string {
	th, ok := perfThresholds[strings.ToLower(metric)]
	if !ok {
		th = perfThresholds["api_call"]
	}
	switch {
	case value <= th.good:
		return "good"
	case value <= th.poor:
		return "needs_improvement"
	default:
		return "poor"
	}
}

// QueryLengthBucket groups search queries by word count.
func QueryLengthBucket(query string) string {
	switch n := len(strings.Fields(query)); {
	case n == 0:
		return "empty"
	case n == 1:
		return "single_word"
	case n <= 3:
		return "short"
	default:
		return "long"
	}
}

var buttonIntents = []utils.Keyword{
	{Label: "create", Contains: []string{"create", "add", "new"}},
	{Label: "save", Contains: []string{"save", "apply", "update"}},
	{Label: "delete", Contains: []string{"delete", "remove"}},
	{Label: "cancel", Contains: []string{"cancel", "close", "dismiss"}},
	{Label: "navigate", Contains: []string{"back", "next", "view", "open", "go to"}},
	{Label: "export", Contains: []string{"export", "download"}},
	{Label: "upgrade", Contains: []string{"upgrade", "buy", "subscribe", "checkout"}},
	{Label: "optimize", Contains: []string{"optimize", "optimise", "tune"}},
	{Label: "auth", Contains: []string{"login", "log in", "sign", "logout"}},
}

// ButtonIntent guesses what a button does from its text or id.
func ButtonIntent(textOrID string) string {
	return utils.MatchKeyword(textOrID, buttonIntents, "other")
}

var channels = []utils.Keyword{
	{Label: "paid_search", Contains: []string{"cpc", "ppc", "paid"}},
	{Label: "email", Contains: []string{"email", "newsletter"}},
	{Label: "social", Contains: []string{"facebook", "twitter", "linkedin", "reddit", "social", "x.com"}},
	{Label: "organic_search", Contains: []string{"google", "bing", "duckduckgo", "organic"}},
	{Label: "referral", Contains: []string{"referral", "partner", "affiliate"}},
}

// MarketingChannel derives a channel from utm source and medium.
func MarketingChannel(source, medium string) string {
	if source == "" && medium == "" {
		return "direct"
	}
	if ch := utils.MatchKeyword(medium, channels, ""); ch != "" {
		return ch
	}
	return utils.MatchKeyword(source, channels, "other")
}

var featureCategories = []utils.Keyword{
	{Label: "security", Contains: []string{"firewall", "gateway", "rule", "mfa", "security"}},
	{Label: "analytics", Contains: []string{"chart", "report", "analytics", "export", "insight"}},
	{Label: "collaboration", Contains: []string{"team", "invite", "share", "comment"}},
	{Label: "billing", Contains: []string{"billing", "plan", "invoice"}},
	{Label: "configuration", Contains: []string{"setting", "config", "preference", "theme"}},
}

// FeatureCategory groups product features.
func FeatureCategory(feature string) string {
	return utils.MatchKeyword(feature, featureCategories, "core")
}

var metricCategories = []utils.Keyword{
	{Label: "revenue", Contains: []string{"revenue", "mrr", "arr", "purchase", "spend", "refund"}},
	{Label: "engagement", Contains: []string{"session", "active", "retention", "engagement"}},
	{Label: "growth", Contains: []string{"signup", "conversion", "trial", "activation"}},
	{Label: "usage", Contains: []string{"request", "traffic", "quota", "usage", "blocked"}},
}

// MetricCategory groups business metrics.
func MetricCategory(metric string) string {
	return utils.MatchKeyword(metric, metricCategories, "other")
}

// EngagementLevel labels a page visit from time spent and interactions.
func EngagementLevel(timeOnPageMs int64, interactions int) string {
	switch {
	case timeOnPageMs >= 120_000 || interactions >= 20:
		return "high"
	case timeOnPageMs >= 30_000 || interactions >= 5:
		return "medium"
	default:
		return "low"
	}
}
