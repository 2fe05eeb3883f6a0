package patrol

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/tca"
	"github.com/copyvio/copypatrol/internal/wiki"
)

type fakeStore struct {
	queued []db.QueuedDiff
	ready  []db.Diff

	deleted  []int64
	created  map[int64]string
	uploaded []int64
	fixed    map[int64]string
	moved    map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		created: map[int64]string{},
		fixed:   map[int64]string{},
		moved:   map[int64]string{},
	}
}

func (s *fakeStore) QueuedDiffsByWindow(_ context.Context, _ db.DiffWindow) ([]db.QueuedDiff, error) {
	return s.queued, nil
}

func (s *fakeStore) ReadyDiffsByWindow(_ context.Context, _ db.DiffWindow) ([]db.Diff, error) {
	return s.ready, nil
}

func (s *fakeStore) DeleteQueued(_ context.Context, diffID int64) error {
	s.deleted = append(s.deleted, diffID)
	return nil
}

func (s *fakeStore) MarkCreated(_ context.Context, diffID int64, submissionID string) error {
	s.created[diffID] = submissionID
	return nil
}

func (s *fakeStore) MarkUploaded(_ context.Context, diffID int64) error {
	s.uploaded = append(s.uploaded, diffID)
	return nil
}

func (s *fakeStore) MarkFixed(_ context.Context, diffID int64, actingUser string) error {
	s.fixed[diffID] = actingUser
	return nil
}

func (s *fakeStore) UpdateDiffPage(_ context.Context, diffID int64, _ int, title string) error {
	s.moved[diffID] = title
	return nil
}

type fakeSubmissionAPI struct {
	nextSID     string
	createdFor  []string
	uploads     map[string]string
	submissions map[string]*tca.SubmissionInfo
	reports     map[string]*tca.ReportInfo
}

func newFakeSubmissionAPI() *fakeSubmissionAPI {
	return &fakeSubmissionAPI{
		nextSID:     "00000000-0000-4000-8000-000000000001",
		uploads:     map[string]string{},
		submissions: map[string]*tca.SubmissionInfo{},
		reports:     map[string]*tca.ReportInfo{},
	}
}

func (a *fakeSubmissionAPI) CreateSubmission(_ context.Context, _ string, title string, _ time.Time, _ string) (string, error) {
	a.createdFor = append(a.createdFor, title)
	return a.nextSID, nil
}

func (a *fakeSubmissionAPI) UploadSubmission(_ context.Context, sid, text string) error {
	a.uploads[sid] = text
	return nil
}

func (a *fakeSubmissionAPI) SubmissionInfo(_ context.Context, sid string) (*tca.SubmissionInfo, error) {
	return a.submissions[sid], nil
}

func (a *fakeSubmissionAPI) ReportInfo(_ context.Context, sid string) (*tca.ReportInfo, error) {
	return a.reports[sid], nil
}

type fakeResolver struct {
	revisions map[int64]*wiki.Revision
}

func (r *fakeResolver) ResolveRevision(_ context.Context, _ wiki.Site, revID int64) (*wiki.Revision, error) {
	rev, ok := r.revisions[revID]
	if !ok {
		return nil, wiki.ErrRevisionsMissing
	}
	return rev, nil
}

type tcaStoreStub struct {
	pending []int64
}

func (s *tcaStoreStub) MarkPending(_ context.Context, diffID int64) error {
	s.pending = append(s.pending, diffID)
	return nil
}

func (s *tcaStoreStub) ResetSubmission(context.Context, int64) error { return nil }
func (s *tcaStoreStub) DeleteQueued(context.Context, int64) error    { return nil }
func (s *tcaStoreStub) Promote(context.Context, db.QueuedDiff, []db.Source) error {
	return nil
}

type reportStub struct {
	generated []string
}

func (r *reportStub) GenerateReport(_ context.Context, sid string) error {
	r.generated = append(r.generated, sid)
	return nil
}

func (r *reportStub) ReportSources(context.Context, string) ([]tca.Source, error) {
	return nil, nil
}

func TestCheckChangesSubmitsAndDrops(t *testing.T) {
	t.Parallel()

	old := para("alpha")
	added := para("bravo")
	loader := &fakeWiki{revisions: map[int64]wiki.Revision{
		1000: {ID: 1000, Text: old},
		1001: {ID: 1001, Text: old + "\n\n" + added},
		2000: {ID: 2000, Text: old},
		2001: {ID: 2001, Text: old + "\n\n" + para("delta"), Tags: []string{"mw-rollback"}},
	}}

	store := newFakeStore()
	store.queued = []db.QueuedDiff{
		{DiffID: 1, Project: "wikipedia", Lang: "en", PageTitle: "Example_page", RevID: 1001, RevParentID: 1000, Status: db.StatusUnsubmitted},
		{DiffID: 2, Project: "wikipedia", Lang: "en", PageTitle: "Other_page", RevID: 2001, RevParentID: 2000, Status: db.StatusUnsubmitted},
	}

	api := newFakeSubmissionAPI()
	service := NewService(store, api, newTestChecker(loader), nil, nil, zerolog.Nop())

	if err := service.CheckChanges(context.Background(), 2, 0); err != nil {
		t.Fatalf("CheckChanges: %v", err)
	}

	if len(store.deleted) != 1 || store.deleted[0] != 2 {
		t.Fatalf("deleted = %v", store.deleted)
	}
	if store.created[1] != api.nextSID {
		t.Fatalf("created = %v", store.created)
	}
	if len(store.uploaded) != 1 || store.uploaded[0] != 1 {
		t.Fatalf("uploaded = %v", store.uploaded)
	}
	if got := api.uploads[api.nextSID]; got != added {
		t.Fatalf("uploaded text = %q", got)
	}
	if len(api.createdFor) != 1 || api.createdFor[0] != "Revision 1001 of Example page" {
		t.Fatalf("createdFor = %v", api.createdFor)
	}
}

func TestCheckChangesResumesCreatedDiff(t *testing.T) {
	t.Parallel()

	old := para("alpha")
	loader := &fakeWiki{revisions: map[int64]wiki.Revision{
		1000: {ID: 1000, Text: old},
		1001: {ID: 1001, Text: old + "\n\n" + para("bravo")},
	}}

	sid := "00000000-0000-4000-8000-00000000aaaa"
	store := newFakeStore()
	store.queued = []db.QueuedDiff{
		{DiffID: 1, Project: "wikipedia", Lang: "en", PageTitle: "Example", RevID: 1001, RevParentID: 1000, SubmissionID: &sid, Status: db.StatusCreated},
	}

	api := newFakeSubmissionAPI()
	service := NewService(store, api, newTestChecker(loader), nil, nil, zerolog.Nop())

	if err := service.CheckChanges(context.Background(), 1, 0); err != nil {
		t.Fatalf("CheckChanges: %v", err)
	}
	if len(api.createdFor) != 0 {
		t.Fatalf("existing submission should not be recreated: %v", api.createdFor)
	}
	if _, ok := api.uploads[sid]; !ok {
		t.Fatalf("expected upload for existing submission")
	}
	if len(store.uploaded) != 1 {
		t.Fatalf("uploaded = %v", store.uploaded)
	}
}

func TestGenerateReportsAdvancesCompleted(t *testing.T) {
	t.Parallel()

	sid := "00000000-0000-4000-8000-00000000bbbb"
	store := newFakeStore()
	store.queued = []db.QueuedDiff{
		{DiffID: 5, Project: "wikipedia", Lang: "en", RevID: 1001, SubmissionID: &sid, Status: db.StatusUploaded},
	}

	api := newFakeSubmissionAPI()
	api.submissions[sid] = &tca.SubmissionInfo{ID: sid, Status: "COMPLETE"}

	reports := &reportStub{}
	tcaStore := &tcaStoreStub{}
	reconciler := tca.NewReconciler(reports, tcaStore, nil, nil, nil, zerolog.Nop())

	service := NewService(store, api, nil, reconciler, nil, zerolog.Nop())
	if err := service.GenerateReports(context.Background(), DefaultSweepLag); err != nil {
		t.Fatalf("GenerateReports: %v", err)
	}
	if len(reports.generated) != 1 || reports.generated[0] != sid {
		t.Fatalf("generated = %v", reports.generated)
	}
	if len(tcaStore.pending) != 1 || tcaStore.pending[0] != 5 {
		t.Fatalf("pending = %v", tcaStore.pending)
	}
}

func TestUpdateReadyDiffs(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.ready = []db.Diff{
		{DiffID: 10, Project: "wikipedia", Lang: "en", RevID: 1001, PageTitle: "Old_title", Status: db.StatusReady},
		{DiffID: 11, Project: "wikipedia", Lang: "en", RevID: 2001, PageTitle: "Deleted_page", Status: db.StatusReady},
	}

	resolver := &fakeResolver{revisions: map[int64]*wiki.Revision{
		1001: {ID: 1001, Namespace: 0, Title: "New title"},
	}}

	service := NewService(store, nil, nil, nil, resolver, zerolog.Nop())
	if err := service.UpdateReadyDiffs(context.Background(), DefaultRemediationAge); err != nil {
		t.Fatalf("UpdateReadyDiffs: %v", err)
	}

	if store.moved[10] != "New_title" {
		t.Fatalf("moved = %v", store.moved)
	}
	if store.fixed[11] != "CopyPatrol" {
		t.Fatalf("fixed = %v", store.fixed)
	}
}
