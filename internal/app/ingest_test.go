package app

import (
	"context"
	"testing"
	"time"

	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/stream"
)

type fakeAdder struct {
	inputs []db.AddRevisionInput
}

func (a *fakeAdder) AddRevision(_ context.Context, in db.AddRevisionInput) (bool, error) {
	a.inputs = append(a.inputs, in)
	return true, nil
}

func TestIngestEventMapsFields(t *testing.T) {
	t.Parallel()

	event := &stream.ChangeEvent{}
	event.Kind = "edit"
	event.Meta.Domain = "en.wikipedia.org"
	event.Page.PageID = 42
	event.Page.PageTitle = "Draft:Example_page"
	event.Page.NamespaceID = 118
	event.Revision = stream.RevisionData{
		RevID:       1001,
		RevParentID: 1000,
		RevDT:       time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Editor:      stream.Editor{UserText: "Example editor"},
	}

	adder := &fakeAdder{}
	if err := ingestEvent(context.Background(), adder, event); err != nil {
		t.Fatalf("ingestEvent: %v", err)
	}
	if len(adder.inputs) != 1 {
		t.Fatalf("inputs = %v", adder.inputs)
	}

	in := adder.inputs[0]
	if in.Project != "wikipedia" || in.Lang != "en" {
		t.Errorf("site = %s.%s", in.Lang, in.Project)
	}
	if in.PageNamespace != 118 || in.PageTitle != "Example_page" {
		t.Errorf("page = %d %q", in.PageNamespace, in.PageTitle)
	}
	if in.RevID != 1001 || in.RevParentID != 1000 || in.RevUserText != "Example editor" {
		t.Errorf("revision = %+v", in)
	}
}

func TestIngestEventRejectsBadDomain(t *testing.T) {
	t.Parallel()

	event := &stream.ChangeEvent{}
	event.Meta.Domain = "localhost"

	adder := &fakeAdder{}
	if err := ingestEvent(context.Background(), adder, event); err == nil {
		t.Fatalf("expected error for underivable domain")
	}
	if len(adder.inputs) != 0 {
		t.Fatalf("no row should be queued")
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := Run([]string{"no-such-command"}); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}
