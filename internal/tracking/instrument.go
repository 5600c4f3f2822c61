// Package tracking instruments outbound email for engagement tracking and
// folds the resulting open and click callbacks into per-email aggregates.
package tracking

import (
	"html"
	"net/url"
	"regexp"
	"strings"
)

// PixelMarker is carried by the open pixel. Content that already contains it
// is treated as instrumented.
const PixelMarker = `data-lm-pixel="1"`

// urlChars excludes brackets so a bare URL inside CSS url(...) or a
// template brace stops at the delimiter. Balanced parentheses are allowed
// back in by the bare URL alternative below.
const urlChars = `[^\s<>"'(){}]`

var (
	// tokenPattern matches, in order of precedence: an HTML comment, a
	// raw-text element with its contents, a complete HTML tag, or a bare
	// http(s) URL in text. Tags are scanned for href attributes; everything
	// else inside a tag (img src, style) is left alone, and comments and
	// raw-text elements are passed through untouched.
	tokenPattern = regexp.MustCompile(`(?is)<!--.*?-->` +
		rawTextElement("style") + rawTextElement("script") +
		rawTextElement("title") + rawTextElement("textarea") +
		`|<[a-z/!][^>]*>` +
		`|https?://` + urlChars + `+(?:\(` + urlChars + `*\)` + urlChars + `*)*`)

	hrefPattern = regexp.MustCompile(`(?i)(\bhref\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

	anchorOpen  = regexp.MustCompile(`(?i)^<a[\s>]`)
	anchorClose = regexp.MustCompile(`(?i)^</a\s*>`)
)

func rawTextElement(name string) string {
	return `|<` + name + `\b[^>]*>.*?</` + name + `\s*>`
}

// Instrumentor rewrites email bodies so that clicks and opens call back into
// the tracking endpoints. It holds no state besides the base URL and is safe
// for concurrent use.
type Instrumentor struct {
	base string
}

// NewInstrumentor creates an Instrumentor for the given tracking base URL,
// e.g. "https://t.example.com".
func NewInstrumentor(trackingBase string) *Instrumentor {
	return &Instrumentor{base: strings.TrimRight(trackingBase, "/")}
}

// Base returns the tracking base URL without a trailing slash.
func (in *Instrumentor) Base() string {
	return in.base
}

// ClickURL returns the redirect URL for target.
func (in *Instrumentor) ClickURL(trackingID, target string) string {
	return in.base + "/click?tid=" + url.QueryEscape(trackingID) + "&u=" + url.QueryEscape(target)
}

// OpenURL returns the pixel URL for trackingID.
func (in *Instrumentor) OpenURL(trackingID string) string {
	return in.base + "/open?tid=" + url.QueryEscape(trackingID)
}

// Instrument rewrites every link in body to go through the click endpoint
// and appends the open pixel. Calling it again on its own output returns the
// input unchanged.
func (in *Instrumentor) Instrument(body, trackingID string) string {
	if strings.Contains(body, PixelMarker) {
		return body
	}

	// URLs shown as the text of an anchor are left readable; the anchor's
	// href already carries the click.
	inAnchor := false
	out := tokenPattern.ReplaceAllStringFunc(body, func(tok string) string {
		if strings.HasPrefix(tok, "<") {
			switch {
			case isPassThrough(tok):
				return tok
			case anchorOpen.MatchString(tok):
				inAnchor = true
			case anchorClose.MatchString(tok):
				inAnchor = false
			}
			return in.rewriteTag(tok, trackingID)
		}
		if inAnchor {
			return tok
		}
		return in.rewriteBare(tok, trackingID)
	})

	return out + in.pixelTag(trackingID)
}

// isPassThrough reports whether tok is a comment or a raw-text element,
// whose contents are not markup and are never rewritten.
func isPassThrough(tok string) bool {
	if strings.HasPrefix(tok, "<!--") {
		return true
	}
	lower := strings.ToLower(tok)
	for _, name := range []string{"style", "script", "title", "textarea"} {
		if strings.HasPrefix(lower, "<"+name) && strings.Contains(lower, "</"+name) {
			return true
		}
	}
	return false
}

func (in *Instrumentor) rewriteTag(tag, trackingID string) string {
	return hrefPattern.ReplaceAllStringFunc(tag, func(attr string) string {
		m := hrefPattern.FindStringSubmatch(attr)
		prefix, quote, raw := m[1], `"`, m[2]
		if strings.HasPrefix(attr[len(prefix):], "'") {
			quote, raw = "'", m[3]
		}

		target := html.UnescapeString(raw)
		if !in.trackable(target) {
			return attr
		}
		return prefix + quote + in.ClickURL(trackingID, target) + quote
	})
}

func (in *Instrumentor) rewriteBare(raw, trackingID string) string {
	link, trailing := splitTrailingPunct(raw)
	if !in.trackable(link) {
		return raw
	}
	return in.ClickURL(trackingID, link) + trailing
}

// trackable reports whether target is an absolute http(s) link that has not
// been rewritten yet.
func (in *Instrumentor) trackable(target string) bool {
	if target == "" || strings.HasPrefix(target, in.base+"/click?") {
		return false
	}
	return IsRedirectTarget(target)
}

func (in *Instrumentor) pixelTag(trackingID string) string {
	return `<img src="` + in.OpenURL(trackingID) + `" width="0" height="0" alt="" style="display:none" ` + PixelMarker + `>`
}

// ExtractTarget returns the decoded u parameter of a rewritten click URL.
func ExtractTarget(clickURL string) (string, bool) {
	u, err := url.Parse(clickURL)
	if err != nil {
		return "", false
	}
	target := u.Query().Get("u")
	return target, target != ""
}

// IsRedirectTarget reports whether target is an absolute http or https URL
// with a host. Anything else is refused by the click endpoint.
func IsRedirectTarget(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// splitTrailingPunct separates sentence punctuation that follows a bare URL
// in text.
func splitTrailingPunct(s string) (string, string) {
	end := len(s)
	for end > 0 && strings.IndexByte(".,;:!?]", s[end-1]) >= 0 {
		end--
	}
	return s[:end], s[end:]
}
