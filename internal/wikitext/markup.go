// Package wikitext reduces raw wiki markup to comparable prose and
// extracts the prose added between two revisions.
package wikitext

import (
	"regexp"
	"strings"
)

// Markup carries the per-wiki markup vocabulary needed for cleaning:
// category and file namespace aliases plus accepted file extensions.
// Build one per site from its siteinfo, or use DefaultMarkup.
type Markup struct {
	categoryRegex *regexp.Regexp
	fileNameRegex *regexp.Regexp
}

// NewMarkup compiles the namespace-dependent patterns. Empty slices fall
// back to the defaults.
func NewMarkup(categoryNamespaces, fileNamespaces, fileExtensions []string) *Markup {
	if len(categoryNamespaces) == 0 {
		categoryNamespaces = []string{"Category"}
	}
	if len(fileNamespaces) == 0 {
		fileNamespaces = []string{"File", "Image"}
	}
	if len(fileExtensions) == 0 {
		fileExtensions = []string{"jpg", "jpeg", "png", "gif", "svg", "tif", "tiff", "webp", "pdf", "ogg", "ogv", "webm", "mp3", "wav", "djvu"}
	}
	return &Markup{
		categoryRegex: regexp.MustCompile(
			`(?i)\[\[\s*:?\s*(?:` + quoteAlternatives(categoryNamespaces) + `)\s*:[^\]]+?\]\]\s*`,
		),
		fileNameRegex: regexp.MustCompile(
			`(?i)(?:` + quoteAlternatives(fileNamespaces) + `)\s*:.+?\.(?:` + quoteAlternatives(fileExtensions) + `)`,
		),
	}
}

// DefaultMarkup covers the namespace names and file extensions shared by
// most Wikimedia wikis. Site-specific aliases still need NewMarkup.
func DefaultMarkup() *Markup {
	return NewMarkup(nil, nil, nil)
}

func quoteAlternatives(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, regexp.QuoteMeta(value))
	}
	return strings.Join(quoted, "|")
}
