package wikitext

import (
	"fmt"
	"regexp"
	"strings"
)

const shortContentWords = 50

var (
	boldRegex   = regexp.MustCompile(`'''(.+?)'''`)
	italicRegex = regexp.MustCompile(`''(.+?)''`)
	quoteRegex  = regexp.MustCompile(`["“«].+?["”»]`)

	bracketedLinkRegex = regexp.MustCompile(`\[(?:[a-zA-Z][\w+.-]*:)?//[^\s\]]+(?:\s+([^\]]*))?\]`)
	bareLinkRegex      = regexp.MustCompile(`[a-zA-Z][\w+.-]*://[^\s\[\]<>"]+`)

	commentRegex  = regexp.MustCompile(`(?s)<!--.*?-->`)
	templateRegex = regexp.MustCompile(`(?s)\{\{([^{}]*)\}\}`)
	wikilinkRegex = regexp.MustCompile(`\[\[([^\[\]]*)\]\]`)
	tableRegex    = regexp.MustCompile(`(?s)\{\|.*?\|\}`)
	htmlTagRegex  = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)
	headingRegex  = regexp.MustCompile(`(?m)^={1,6}\s*(.*?)\s*={1,6}\s*$`)
	listRegex     = regexp.MustCompile(`(?m)^[*#:;]+\s*`)
	hrRegex       = regexp.MustCompile(`(?m)^-{4,}\s*$`)

	multiSpaceRegex = regexp.MustCompile(` {2,}`)
	multiBlankRegex = regexp.MustCompile(`( ?\n){3,}`)

	removableTagRegexes = compileRemovableTags("ref", "blockquote", "references")
)

type removableTag struct {
	selfClosing *regexp.Regexp
	paired      *regexp.Regexp
}

func compileRemovableTags(names ...string) []removableTag {
	tags := make([]removableTag, 0, len(names))
	for _, name := range names {
		tags = append(tags, removableTag{
			selfClosing: regexp.MustCompile(fmt.Sprintf(`(?is)<%s\b[^>]*/>`, name)),
			paired:      regexp.MustCompile(fmt.Sprintf(`(?is)<%s\b[^>]*>(.*?)</%s\s*>`, name, name)),
		})
	}
	return tags
}

// Clean reduces wikitext to the prose worth comparing against external
// sources. The steps run in a fixed order: emphasis markup, categories,
// short quotations, external links, short references and block quotes,
// then the remaining markup, file names, and finally whitespace.
func (m *Markup) Clean(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = boldRegex.ReplaceAllString(text, "$1")
	text = italicRegex.ReplaceAllString(text, "$1")

	text = m.categoryRegex.ReplaceAllString(text, "")

	// short quotations are presumed attributed copies, not violations
	for _, quote := range quoteRegex.FindAllString(text, -1) {
		if len(strings.Fields(quote)) < shortContentWords {
			text = strings.Replace(text, quote, "", 1)
		}
	}

	text = bracketedLinkRegex.ReplaceAllString(text, "$1")
	text = bareLinkRegex.ReplaceAllString(text, "")

	for _, tag := range removableTagRegexes {
		text = tag.selfClosing.ReplaceAllString(text, "")
		text = tag.paired.ReplaceAllStringFunc(text, func(match string) string {
			inner := tag.paired.FindStringSubmatch(match)[1]
			if len(strings.Fields(stripMarkup(inner))) < shortContentWords {
				return ""
			}
			return match
		})
	}

	text = stripMarkup(text)

	text = m.fileNameRegex.ReplaceAllString(text, "")

	text = multiSpaceRegex.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = multiBlankRegex.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// stripMarkup removes structural markup while keeping readable text,
// including template parameter values. Templates and wikilinks resolve
// innermost first so nesting unwinds correctly.
func stripMarkup(text string) string {
	text = commentRegex.ReplaceAllString(text, "")
	text = tableRegex.ReplaceAllString(text, "")

	for templateRegex.MatchString(text) {
		text = templateRegex.ReplaceAllStringFunc(text, func(match string) string {
			inner := templateRegex.FindStringSubmatch(match)[1]
			return templateParams(inner)
		})
	}

	for wikilinkRegex.MatchString(text) {
		text = wikilinkRegex.ReplaceAllStringFunc(text, func(match string) string {
			inner := wikilinkRegex.FindStringSubmatch(match)[1]
			if i := strings.LastIndex(inner, "|"); i >= 0 {
				return inner[i+1:]
			}
			return inner
		})
	}

	text = headingRegex.ReplaceAllString(text, "$1")
	text = listRegex.ReplaceAllString(text, "")
	text = hrRegex.ReplaceAllString(text, "")
	text = htmlTagRegex.ReplaceAllString(text, "")

	return text
}

// templateParams keeps the values of a template's parameters and drops
// the template name and parameter names.
func templateParams(inner string) string {
	parts := strings.Split(inner, "|")
	if len(parts) < 2 {
		return ""
	}
	values := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		if i := strings.Index(part, "="); i >= 0 {
			part = part[i+1:]
		}
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return strings.Join(values, " ")
}
