package models

// Point is a two-dimensional pixel coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a pixel width and height.
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}

// ElementRef is the part of an ancestor node needed for region lookups.
type ElementRef struct {
	TagName   string `json:"tagName"`
	ClassName string `json:"className,omitempty"`
	ID        string `json:"id,omitempty"`
	NoTrack   bool   `json:"noTrack,omitempty"`
}

// TrackedElement is a read-only snapshot of the DOM node an event targeted.
// Ancestors are ordered closest-first.
type TrackedElement struct {
	TagName         string            `json:"tagName"`
	ID              string            `json:"id,omitempty"`
	ClassName       string            `json:"className,omitempty"`
	TextContent     string            `json:"textContent,omitempty"`
	Href            string            `json:"href,omitempty"`
	Type            string            `json:"type,omitempty"`
	Role            string            `json:"role,omitempty"`
	AriaLabel       string            `json:"ariaLabel,omitempty"`
	ContentEditable bool              `json:"contentEditable,omitempty"`
	DataAttributes  map[string]string `json:"dataAttributes,omitempty"`
	Position        Point             `json:"position"`
	Ancestors       []ElementRef      `json:"ancestors,omitempty"`
}

// FormField is a submitted form control. Only the name ever leaves the browser.
type FormField struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// DOMEventKind enumerates the interactions a browser beacon can forward.
type DOMEventKind string

const (
	DOMClick            DOMEventKind = "click"
	DOMSubmit           DOMEventKind = "submit"
	DOMPopState         DOMEventKind = "popstate"
	DOMVisibilityChange DOMEventKind = "visibilitychange"
	DOMScroll           DOMEventKind = "scroll"
	DOMRouteChange      DOMEventKind = "route_change"
	DOMUnload           DOMEventKind = "beforeunload"
)

// DOMEvent is a single interaction forwarded by the browser beacon for a tab.
type DOMEvent struct {
	Kind      DOMEventKind    `json:"kind" binding:"required"`
	Timestamp int64           `json:"timestamp"` // unix millis, client clock
	Target    *TrackedElement `json:"target,omitempty"`

	// submit
	FormID string      `json:"formId,omitempty"`
	Fields []FormField `json:"fields,omitempty"`

	// popstate / route_change
	Path     string `json:"path,omitempty"`
	PrevPath string `json:"prevPath,omitempty"`

	// visibilitychange
	Hidden bool `json:"hidden,omitempty"`

	// scroll
	ScrollY      float64 `json:"scrollY,omitempty"`
	ScrollHeight float64 `json:"scrollHeight,omitempty"`

	Client *ClientInfo `json:"client,omitempty"`
}

// ClientInfo is the browser context attached to every tracked event.
type ClientInfo struct {
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Screen    Size   `json:"screen"`
	Viewport  Size   `json:"viewport"`
	Scroll    Point  `json:"scroll"`
	Locale    string `json:"locale,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

// InteractionBatch is the body of POST /api/tabs/:tabId/events.
type InteractionBatch struct {
	Client ClientInfo `json:"client"`
	Events []DOMEvent `json:"events" binding:"dive"`
}
