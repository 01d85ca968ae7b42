// Package copilot – format.go contains text shaping helpers shared by the
// gating layer and the orchestrator: bubble splitting, citation stripping,
// search-result cleanup, and the XML escaping used in the structured prompt.
package copilot

import (
	"regexp"
	"strings"
)

// BubbleSeparator splits one send_to_user message into several chat bubbles.
const BubbleSeparator = "||"

// citeRe matches <cite ...>inner</cite> wrappers emitted by the model when
// web search results are quoted. The inner text is kept.
var citeRe = regexp.MustCompile(`(?s)<cite[^>]*>(.*?)</cite>`)

// selfClosingCiteRe matches empty <cite ... /> tags, which carry no text.
var selfClosingCiteRe = regexp.MustCompile(`<cite[^>]*/>`)

// multiBlankRe collapses runs of three or more newlines.
var multiBlankRe = regexp.MustCompile(`\n{3,}`)

// SplitBubbles splits a message on the bubble separator and trims each part.
// Empty parts are dropped. A message with no separator yields one bubble.
func SplitBubbles(text string) []string {
	parts := strings.Split(text, BubbleSeparator)
	bubbles := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			bubbles = append(bubbles, p)
		}
	}
	return bubbles
}

// StripCitations removes citation markup, keeping the cited text itself.
func StripCitations(text string) string {
	text = citeRe.ReplaceAllString(text, "$1")
	text = selfClosingCiteRe.ReplaceAllString(text, "")
	return text
}

// FormatSearchResults cleans up model output that embeds search results:
// citation markup is stripped and excess blank lines are collapsed.
func FormatSearchResults(text string) string {
	text = StripCitations(text)
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// xmlEscaper escapes the three characters that would break the tagged
// sections of the structured prompt.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// xmlUnescaper is the inverse of xmlEscaper. Order matters: &amp; last so
// that "&amp;lt;" round-trips correctly.
var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
)

// XMLEscape escapes &, < and > for embedding in a tagged prompt section.
func XMLEscape(s string) string { return xmlEscaper.Replace(s) }

// XMLUnescape reverses XMLEscape.
func XMLUnescape(s string) string { return xmlUnescaper.Replace(s) }

// NormalizeForEcho canonicalizes a message text for echo comparison:
// trimmed, inner whitespace collapsed, lowercased.
func NormalizeForEcho(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// truncate returns the first n characters of s, adding "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
