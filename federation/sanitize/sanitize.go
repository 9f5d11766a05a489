// Package sanitize implements activity shape validation and HTML content
// sanitization (spec.md component 4.6) for inbound federated content.
package sanitize

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	DefaultMaxContentSize = 65536  // ap.max_content_size
	DefaultMaxPayloadSize = 262144 // ap.max_payload_size
	maxDisplayNameLen     = 100
)

var (
	ErrPayloadTooLarge  = fmt.Errorf("sanitize: payload exceeds max size")
	ErrInvalidShape     = fmt.Errorf("sanitize: invalid activity shape")
	ErrMissingID        = fmt.Errorf("sanitize: id must be an https URI")
	ErrMissingActor     = fmt.Errorf("sanitize: actor must be an https URI")
	ErrMissingType      = fmt.Errorf("sanitize: type must be a non-empty string")
	ErrMissingObject    = fmt.Errorf("sanitize: object is required")
	ErrContentTooLarge  = fmt.Errorf("sanitize: content exceeds max size")
)

// ValidateShape checks payload size then activity shape per spec.md 4.6,
// before the caller unmarshals further into a typed activity.
func ValidateShape(payload []byte, maxPayloadSize int) (map[string]any, error) {
	if maxPayloadSize <= 0 {
		maxPayloadSize = DefaultMaxPayloadSize
	}
	if len(payload) > maxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	var activity map[string]any
	if err := json.Unmarshal(payload, &activity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}

	id, _ := activity["id"].(string)
	if !isHTTPSURI(id) {
		return nil, ErrMissingID
	}

	actor, _ := activity["actor"].(string)
	if !isHTTPSURI(actor) {
		return nil, ErrMissingActor
	}

	typ, _ := activity["type"].(string)
	if typ == "" {
		return nil, ErrMissingType
	}

	if typ != "Delete" {
		if _, ok := activity["object"]; !ok {
			return nil, ErrMissingObject
		}
	}

	if raw, ok := activity["attributedTo"]; ok {
		if _, err := AttributedToURI(raw); err != nil {
			return nil, err
		}
	}

	return activity, nil
}

// AttributedToURI extracts the attributedTo URI: either a bare string, or
// an array whose first string element is used.
func AttributedToURI(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				return s, nil
			}
		}
		return "", fmt.Errorf("sanitize: attributedTo array has no string URI")
	default:
		return "", fmt.Errorf("sanitize: attributedTo has unsupported shape")
	}
}

func isHTTPSURI(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && u.Host != ""
}

// CheckContentSize enforces the content-size limit (spec.md 4.6) separately
// from the payload-size limit, since it applies after JSON parsing to a
// specific field (e.g. Note content).
func CheckContentSize(content string, maxContentSize int) error {
	if maxContentSize <= 0 {
		maxContentSize = DefaultMaxContentSize
	}
	if len(content) > maxContentSize {
		return ErrContentTooLarge
	}
	return nil
}

// Sanitizer implements the allowed-tag/attribute policy from spec.md 4.6 with
// bluemonday's parser-based policy, plus regex passes before it (dropping
// content-bearing tags) and after it (span classes, anchor rel).
type Sanitizer struct {
	policy *bluemonday.Policy
}

var allowedSpanClasses = map[string]struct{}{
	"h-card":   {},
	"hashtag":  {},
	"mention":  {},
	"invisible": {},
}

func New() *Sanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "hr", "em", "strong", "del", "code", "pre",
		"blockquote", "ul", "ol", "li", "a", "span")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(false)

	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-zA-Z0-9\-_ ]*$`)).OnElements("span")

	return &Sanitizer{policy: p}
}

// contentBearingTags are stripped along with their content, rather than
// just unwrapped, since bluemonday's default for an unknown element keeps
// its text — wrong for script/style and the other tags spec.md 4.6 names.
var contentBearingTags = []string{"script", "style", "iframe", "object",
	"embed", "form", "input", "textarea", "svg", "math"}

func stripContentBearingTags(html string) string {
	for _, tag := range contentBearingTags {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
		selfClosing := regexp.MustCompile(`(?i)<` + tag + `[^>]*/?>`)
		html = selfClosing.ReplaceAllString(html, "")
	}
	return html
}

// Sanitize cleans an HTML content string per the allowed-tag policy, forces
// rel="nofollow noopener noreferrer" on anchors, and restricts span classes
// to the allowed set.
func (s *Sanitizer) Sanitize(html string) string {
	html = stripContentBearingTags(html)
	cleaned := s.policy.Sanitize(html)
	cleaned = restrictSpanClasses(cleaned)
	cleaned = forceAnchorRel(cleaned)
	return cleaned
}

var spanClassAttr = regexp.MustCompile(`class="([^"]*)"`)

func restrictSpanClasses(html string) string {
	return spanClassAttr.ReplaceAllStringFunc(html, func(m string) string {
		sub := spanClassAttr.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		var kept []string
		for _, c := range strings.Fields(sub[1]) {
			if _, ok := allowedSpanClasses[c]; ok {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return ""
		}
		return `class="` + strings.Join(kept, " ") + `"`
	})
}

var anchorTag = regexp.MustCompile(`<a\s+([^>]*)>`)

func forceAnchorRel(html string) string {
	return anchorTag.ReplaceAllStringFunc(html, func(m string) string {
		sub := anchorTag.FindStringSubmatch(m)
		attrs := sub[1]
		attrs = regexp.MustCompile(`\srel="[^"]*"`).ReplaceAllString(attrs, "")
		return `<a ` + strings.TrimSpace(attrs) + ` rel="nofollow noopener noreferrer">`
	})
}

// SanitizeDisplayName strips all HTML, strips control characters, trims,
// and caps to 100 runes (spec.md 4.6).
func SanitizeDisplayName(name string) string {
	stripped := bluemonday.StrictPolicy().Sanitize(name)
	var b strings.Builder
	for _, r := range stripped {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	trimmed := strings.TrimSpace(b.String())
	runes := []rune(trimmed)
	if len(runes) > maxDisplayNameLen {
		runes = runes[:maxDisplayNameLen]
	}
	return string(runes)
}
