package wikitext

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const minInsertChars = 50

// AddedText cleans both revisions and returns the newly inserted prose.
// Only insertions longer than minInsertChars survive, and lines already
// present anywhere in the old text are dropped so that moved paragraphs
// do not register as additions.
func (m *Markup) AddedText(old, new string) string {
	oldClean := m.Clean(old)
	newClean := m.Clean(new)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldClean, newClean, false)

	var lines []string
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffInsert {
			continue
		}
		if len(d.Text) <= minInsertChars {
			continue
		}
		for _, line := range strings.Split(strings.Trim(d.Text, " "), "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || !strings.Contains(oldClean, trimmed) {
				lines = append(lines, line)
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
