package wikitext

import (
	"strings"
	"testing"
)

func TestAddedTextNewParagraph(t *testing.T) {
	t.Parallel()

	old := "The quick brown fox jumps over the lazy dog near the river bank."
	added := "An entirely new paragraph of substantial length describing something else altogether, with plenty of characters."
	m := DefaultMarkup()

	got := m.AddedText(old, old+"\n\n"+added)
	if got != added {
		t.Fatalf("AddedText = %q, want %q", got, added)
	}
}

func TestAddedTextSmallInsertIgnored(t *testing.T) {
	t.Parallel()

	old := "The quick brown fox jumps over the lazy dog near the river bank."
	m := DefaultMarkup()

	got := m.AddedText(old, old+" Tiny addition.")
	if got != "" {
		t.Fatalf("AddedText = %q, want empty", got)
	}
}

func TestAddedTextMovedParagraphIgnored(t *testing.T) {
	t.Parallel()

	first := "Alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima."
	second := "November oscar papa quebec romeo sierra tango uniform victor whiskey xray yankee."
	m := DefaultMarkup()

	got := m.AddedText(first+"\n\n"+second, second+"\n\n"+first)
	if got != "" {
		t.Fatalf("AddedText = %q, want empty for reordered paragraphs", got)
	}
}

func TestAddedTextEmptyOld(t *testing.T) {
	t.Parallel()

	text := "A brand new page with enough prose to clear the insertion threshold comfortably."
	m := DefaultMarkup()

	got := m.AddedText("", text)
	if got != text {
		t.Fatalf("AddedText = %q, want %q", got, text)
	}
}

func TestAddedTextCleansBeforeComparing(t *testing.T) {
	t.Parallel()

	old := "Existing prose that stays the same across the revisions here."
	added := "Newly written sentence that should survive the markup cleaning step without trouble."
	m := DefaultMarkup()

	got := m.AddedText(old, old+"\n\n'''"+added+"'''<ref>short note</ref>")
	if !strings.Contains(got, added) {
		t.Fatalf("AddedText = %q, want to contain %q", got, added)
	}
	if strings.Contains(got, "'''") || strings.Contains(got, "<ref>") {
		t.Fatalf("markup leaked into AddedText: %q", got)
	}
}
