// Package classifier assigns a semantic category and page region to a DOM
// element snapshot using the dashboard's CSS naming conventions.
package classifier

import (
	"strings"

	"clicktrail/api/models"
)

// Categories.
const (
	PrimaryButton = "primary_button"
	DangerButton  = "danger_button"
	SuccessButton = "success_button"
	Button        = "button"
	Link          = "link"
	Input         = "input"
	Icon          = "icon"
	Card          = "card"
	Modal         = "modal"
	Other         = "other"
)

// Page regions.
const (
	RegionHeader  = "header"
	RegionSidebar = "sidebar"
	RegionFooter  = "footer"
	RegionModal   = "modal"
	RegionContent = "content"
	RegionForm    = "form"
	RegionTable   = "table"
)

type rule struct {
	label   string
	classes []string
	tags    []string
}

var buttonVariants = []rule{
	{label: PrimaryButton, classes: []string{"primary", "cta"}},
	{label: DangerButton, classes: []string{"danger", "delete"}},
	{label: SuccessButton, classes: []string{"success", "save"}},
}

var structural = []rule{
	{label: Icon, classes: []string{"icon"}, tags: []string{"svg", "i", "path"}},
	{label: Card, classes: []string{"card"}},
	{label: Modal, classes: []string{"modal"}},
}

// regions is checked in priority order; the first region matching the element
// or any ancestor wins.
var regions = []rule{
	{label: RegionHeader, classes: []string{"header"}, tags: []string{"header"}},
	{label: RegionSidebar, classes: []string{"sidebar", "aside"}, tags: []string{"aside", "nav"}},
	{label: RegionFooter, classes: []string{"footer"}, tags: []string{"footer"}},
	{label: RegionModal, classes: []string{"modal", "dialog"}, tags: []string{"dialog"}},
	{label: RegionContent, classes: []string{"content", "main"}, tags: []string{"main"}},
	{label: RegionForm, classes: []string{"form"}, tags: []string{"form"}},
	{label: RegionTable, classes: []string{"table"}, tags: []string{"table", "thead", "tbody", "tr", "td", "th"}},
}

// Classify returns the element's category and page region.
func Classify(el models.TrackedElement) (category, position string) {
	return Category(el), Position(el)
}

// Category determines what kind of control el is.
func Category(el models.TrackedElement) string {
	tag := normTag(el.TagName)
	class := normClass(el.ClassName)
	role := strings.ToLower(strings.TrimSpace(el.Role))

	if tag == "button" || role == "button" || (tag == "input" && isButtonInput(el.Type)) {
		for _, r := range buttonVariants {
			if containsAny(class, r.classes) {
				return r.label
			}
		}
		return Button
	}

	switch tag {
	case "a":
		return Link
	case "input", "select", "textarea":
		return Input
	}
	if role == "link" {
		return Link
	}

	for _, r := range structural {
		if containsAny(class, r.classes) || hasTag(tag, r.tags) {
			return r.label
		}
	}
	return Other
}

// Position determines which page region el sits in, like Element.closest
// applied once per region in priority order.
func Position(el models.TrackedElement) string {
	chain := make([]models.ElementRef, 0, len(el.Ancestors)+1)
	chain = append(chain, models.ElementRef{TagName: el.TagName, ClassName: el.ClassName})
	chain = append(chain, el.Ancestors...)

	for _, r := range regions {
		for _, node := range chain {
			if containsAny(normClass(node.ClassName), r.classes) || hasTag(normTag(node.TagName), r.tags) {
				return r.label
			}
		}
	}
	return RegionContent
}

// IsButtonLike reports whether a category should also feed button analytics.
func IsButtonLike(category string) bool {
	return category == Link || strings.HasSuffix(category, Button)
}

// IsTrackable filters out editable controls and anything opted out with
// data-no-track on the element or an ancestor.
func IsTrackable(el models.TrackedElement) bool {
	if el.ContentEditable {
		return false
	}
	for _, k := range []string{"no-track", "data-no-track", "noTrack"} {
		if _, ok := el.DataAttributes[k]; ok {
			return false
		}
	}
	for _, a := range el.Ancestors {
		if a.NoTrack {
			return false
		}
	}

	switch normTag(el.TagName) {
	case "textarea", "select":
		return false
	case "input":
		return isButtonInput(el.Type) || isToggleInput(el.Type)
	}
	return true
}

func isButtonInput(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "button", "submit", "reset", "image":
		return true
	}
	return false
}

func isToggleInput(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "checkbox", "radio":
		return true
	}
	return false
}

func normTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// normClass tolerates class attributes that arrive as something other than a
// plain string (SVG nodes report an SVGAnimatedString, which the beacon
// serialises as "[object SVGAnimatedString]" or drops entirely).
func normClass(class string) string {
	c := strings.ToLower(class)
	if strings.HasPrefix(c, "[object") {
		return ""
	}
	return c
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasTag(tag string, tags []string) bool {
	for _, t := range tags {
		if tag == t {
			return true
		}
	}
	return false
}
