package domtree

import (
	"strings"
	"sync"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
)

// Text coming out of an arbitrary page is hostile input: it can embed markup,
// scripts, or control characters that a collaborator UI would render blindly.
// Everything user-visible passes through these helpers before leaving dombind.

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func strict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// CleanText strips all markup from s and collapses whitespace.
func CleanText(s string) string {
	cleaned := strict().Sanitize(s)
	return strings.Join(strings.Fields(cleaned), " ")
}

// Snippet sanitises s and truncates it to TextSnippetLen runes.
func Snippet(s string) string {
	cleaned := CleanText(s)
	runes := []rune(cleaned)
	if len(runes) <= TextSnippetLen {
		return cleaned
	}
	return string(runes[:TextSnippetLen]) + "…"
}

// PreviewMarkdown renders a container subtree's outer HTML as markdown, for
// operator-facing previews of what a container currently captures. Conversion
// failure or empty output degrades to the sanitised plain text, never an
// error — preview is best-effort by contract.
func PreviewMarkdown(outerHTML string) string {
	if strings.TrimSpace(outerHTML) == "" {
		return ""
	}
	md, err := htmltomarkdown.ConvertString(outerHTML)
	if err != nil || strings.TrimSpace(md) == "" {
		return CleanText(outerHTML)
	}
	return strings.TrimSpace(md)
}
