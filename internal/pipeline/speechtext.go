package pipeline

import (
	"regexp"
	"strings"
)

// Patterns removed before text is spoken aloud.
var (
	reCodeFence    = regexp.MustCompile("(?s)```.*?```")
	reInlineCode   = regexp.MustCompile("`([^`]*)`")
	reMarkdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reCitation     = regexp.MustCompile(`\[\d+\]`)
	reBoldItalic   = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S(?:.*?\S)?)(\*{1,3}|_{1,3})`)
	reHeader       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reListMarker   = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	reManyNewlines = regexp.MustCompile(`\n{3,}`)
)

// StripForSpeech removes markdown formatting so answer text reads
// naturally aloud: emphasis markers, citation-number brackets, link
// syntax, headers, and list markers. Runs of 3+ newlines collapse to 2.
func StripForSpeech(text string) string {
	text = reCodeFence.ReplaceAllString(text, "")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reCitation.ReplaceAllString(text, "")
	text = reBoldItalic.ReplaceAllString(text, "$2")
	text = reHeader.ReplaceAllString(text, "")
	text = reListMarker.ReplaceAllString(text, "")
	text = reManyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
