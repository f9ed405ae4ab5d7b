package analyzer

import (
	"strings"

	"github.com/linkvault/linkvault/internal/capture"
)

// Persisted metadata is clamped to the link schema's column widths.
const (
	maxTitleLen       = 2100
	maxDescriptionLen = 300
)

// validFaviconMIMETypes is the whitelist applied to fetched favicons.
var validFaviconMIMETypes = map[string]struct{}{
	"image/png":                {},
	"image/gif":                {},
	"image/jpg":                {},
	"image/jpeg":               {},
	"image/x-icon":             {},
	"image/vnd.microsoft.icon": {},
	"image/ico":                {},
}

// ValidFaviconMIME reports whether a fetched favicon's content type is
// acceptable. Parameters after the first semicolon are ignored.
func ValidFaviconMIME(contentType string) bool {
	mime := strings.TrimSpace(strings.Split(contentType, ";")[0])
	_, ok := validFaviconMIMETypes[strings.ToLower(mime)]
	return ok
}

// MergeMetadata folds a later DOM pass into accumulated page metadata. Meta
// tags are refreshed every pass; the title is kept from the first pass that
// produced one, so the pre-render title survives client-side rewrites.
func MergeMetadata(meta *capture.PageMetadata, page *Page) {
	meta.MetaTags = page.MetaTags()
	if meta.Title == "" {
		meta.Title = page.Title()
	}
}

// MetaNoarchive reports whether the page's meta tags ask the agent not to
// archive. The agent-named tag wins; the generic robots tag applies only
// when generic matching is enabled and no agent-named tag exists.
func MetaNoarchive(metaTags map[string]string, agent string, generic bool) bool {
	tag := metaTags[strings.ToLower(agent)]
	if generic && tag == "" {
		tag = metaTags["robots"]
	}
	return strings.Contains(strings.ToLower(tag), "noarchive")
}

// Description extracts the page description from meta tags, clamped.
func Description(metaTags map[string]string) string {
	return truncate(metaTags["description"], maxDescriptionLen)
}

// TitleForLink clamps a captured title for persistence.
func TitleForLink(title string) string {
	return truncate(title, maxTitleLen)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
