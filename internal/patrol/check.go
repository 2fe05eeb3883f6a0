// Package patrol holds the batch pipeline: evaluating queued revisions,
// submitting their added text for similarity checking, and sweeping
// submissions whose webhook never arrived.
package patrol

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/wiki"
	"github.com/copyvio/copypatrol/internal/wikitext"
)

// minCheckableChars is the floor applied to both the new revision text
// and the extracted added text.
const minCheckableChars = 500

var commentLinkRegex = regexp.MustCompile(`\[\[\s*:?\s*([^\[\]|]+?)\s*(?:\|[^\[\]]*)?\]\]`)

// RevisionLoader is the slice of the wiki client the checker reads from.
type RevisionLoader interface {
	LoadRevisions(ctx context.Context, site wiki.Site, revIDs []int64, content bool) (map[int64]wiki.Revision, error)
	PageInfo(ctx context.Context, site wiki.Site, title string) (*wiki.PageInfo, error)
	PageRevisions(ctx context.Context, site wiki.Site, title string, limit int, content bool) ([]wiki.Revision, error)
	Markup(ctx context.Context, site wiki.Site) *wikitext.Markup
}

// Checker decides whether a queued revision is worth submitting and
// extracts the text to submit.
type Checker struct {
	wiki   RevisionLoader
	logger zerolog.Logger
}

func NewChecker(loader RevisionLoader, logger zerolog.Logger) *Checker {
	return &Checker{wiki: loader, logger: logger}
}

// CheckDiff returns the added text of the revision and whether the diff
// should proceed. ok=false means the diff is conclusively not worth
// checking and should be dropped; an error leaves the diff for a retry.
func (c *Checker) CheckDiff(ctx context.Context, site wiki.Site, oldID, newID int64) (string, bool, error) {
	logger := c.logger.With().Str("site", site.Domain()).Int64("rev_id", newID).Logger()

	revIDs := make([]int64, 0, 2)
	for _, id := range []int64{oldID, newID} {
		if id > 0 {
			revIDs = append(revIDs, id)
		}
	}
	revisions, err := c.wiki.LoadRevisions(ctx, site, revIDs, true)
	if err != nil {
		if errors.Is(err, wiki.ErrRevisionsMissing) {
			logger.Debug().Msg("revision deleted")
			return "", false, nil
		}
		return "", false, err
	}

	newRev, found := revisions[newID]
	if !found {
		logger.Debug().Msg("revision not returned")
		return "", false, nil
	}
	if newRev.HasTag("mw-rollback") || (newRev.HasTag("mw-undo") && newRev.HasTag("twinkle")) {
		logger.Debug().Msg("revision was a revert")
		return "", false, nil
	}
	if newRev.TextHidden {
		logger.Debug().Msg("revision text hidden")
		return "", false, nil
	}
	if len(newRev.Text) < minCheckableChars {
		logger.Debug().Msg("revision too small to compare")
		return "", false, nil
	}

	markup := c.wiki.Markup(ctx, site)

	var added string
	if oldID > 0 {
		oldRev, found := revisions[oldID]
		if !found || oldRev.TextHidden {
			logger.Debug().Msg("parent revision unusable")
			return "", false, nil
		}
		added = markup.AddedText(oldRev.Text, newRev.Text)
	} else {
		added = markup.Clean(newRev.Text)
	}
	if len(added) < minCheckableChars {
		logger.Debug().Msg("added text too small to compare")
		return "", false, nil
	}

	// text pasted from a page linked in the edit summary is usually an
	// attributed copy within the wiki, not an external violation
	if !newRev.CommentHidden && newRev.Comment != "" {
		added = c.suppressCommentLinks(ctx, site, markup, newRev.Comment, added)
		if len(added) < minCheckableChars {
			logger.Debug().Msg("added text reduced to linked page content")
			return "", false, nil
		}
	}
	return added, true, nil
}

func (c *Checker) suppressCommentLinks(ctx context.Context, site wiki.Site, markup *wikitext.Markup, comment, added string) string {
	for _, match := range commentLinkRegex.FindAllStringSubmatch(comment, -1) {
		title := strings.TrimSpace(match[1])
		if i := strings.Index(title, "#"); i >= 0 {
			title = strings.TrimSpace(title[:i])
		}
		if title == "" || hasVirtualNamespace(title) {
			continue
		}

		info, err := c.wiki.PageInfo(ctx, site, title)
		if err != nil {
			c.logger.Warn().Err(err).Str("title", title).Msg("linked page lookup failed")
			continue
		}
		if info.Missing {
			continue
		}

		revisions, err := c.wiki.PageRevisions(ctx, site, title, 2, true)
		if err != nil {
			c.logger.Warn().Err(err).Str("title", title).Msg("linked page lookup failed")
			continue
		}
		for _, rev := range revisions {
			if rev.TextHidden {
				continue
			}
			linkedText := markup.Clean(rev.Text)
			var kept []string
			for _, line := range strings.Split(added, "\n") {
				if strings.TrimSpace(line) == "" || !strings.Contains(linkedText, line) {
					kept = append(kept, line)
				}
			}
			added = strings.Join(kept, "\n")
		}
	}
	return added
}

// hasVirtualNamespace reports titles in namespaces that have no stored
// pages and cannot be fetched.
func hasVirtualNamespace(title string) bool {
	lower := strings.ToLower(title)
	return strings.HasPrefix(lower, "special:") || strings.HasPrefix(lower, "media:")
}
