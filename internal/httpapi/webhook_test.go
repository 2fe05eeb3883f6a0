package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/tca"
)

type fakeWebhookStore struct {
	diffs map[string]*db.QueuedDiff
	queue db.TableStats
	ready db.TableStats
}

func (s *fakeWebhookStore) QueuedDiffBySubmissionID(_ context.Context, sid string) (*db.QueuedDiff, error) {
	return s.diffs[sid], nil
}

func (s *fakeWebhookStore) QueueStats(context.Context) (db.TableStats, error) { return s.queue, nil }
func (s *fakeWebhookStore) ReadyStats(context.Context) (db.TableStats, error) { return s.ready, nil }

type diffStoreStub struct {
	pending []int64
	deleted []int64
}

func (s *diffStoreStub) MarkPending(_ context.Context, diffID int64) error {
	s.pending = append(s.pending, diffID)
	return nil
}

func (s *diffStoreStub) ResetSubmission(context.Context, int64) error { return nil }

func (s *diffStoreStub) DeleteQueued(_ context.Context, diffID int64) error {
	s.deleted = append(s.deleted, diffID)
	return nil
}

func (s *diffStoreStub) Promote(context.Context, db.QueuedDiff, []db.Source) error { return nil }

type reportAPIStub struct {
	generated []string
}

func (a *reportAPIStub) GenerateReport(_ context.Context, sid string) error {
	a.generated = append(a.generated, sid)
	return nil
}

func (a *reportAPIStub) ReportSources(context.Context, string) ([]tca.Source, error) {
	return nil, nil
}

const testSID = "00000000-0000-4000-8000-000000000001"

func newWebhookServer(store *fakeWebhookStore) (*Server, *diffStoreStub, *reportAPIStub) {
	diffStore := &diffStoreStub{}
	api := &reportAPIStub{}
	reconciler := tca.NewReconciler(api, diffStore, nil, nil, nil, zerolog.Nop())
	server := NewServer(store, reconciler, []byte("test-secret"), zerolog.Nop(), Options{})
	return server, diffStore, api
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(server *Server, eventType, signature, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/tca-webhook", strings.NewReader(body))
	if eventType != "" {
		req.Header.Set(eventTypeHeader, eventType)
	}
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	server.buildEcho().ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsUnknownEventType(t *testing.T) {
	t.Parallel()

	server, _, _ := newWebhookServer(&fakeWebhookStore{})
	body := `{"id":"` + testSID + `","status":"COMPLETE"}`
	rec := postWebhook(server, "SOMETHING_ELSE", sign("test-secret", body), body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	server, diffStore, _ := newWebhookServer(&fakeWebhookStore{})
	body := `{"id":"` + testSID + `","status":"COMPLETE"}`

	if rec := postWebhook(server, "SUBMISSION_COMPLETE", "", body); rec.Code != http.StatusForbidden {
		t.Fatalf("missing signature: status = %d", rec.Code)
	}
	if rec := postWebhook(server, "SUBMISSION_COMPLETE", sign("wrong-secret", body), body); rec.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
	if rec := postWebhook(server, "SUBMISSION_COMPLETE", "not hex", body); rec.Code != http.StatusForbidden {
		t.Fatalf("malformed signature: status = %d", rec.Code)
	}
	if len(diffStore.pending)+len(diffStore.deleted) != 0 {
		t.Fatalf("rejected webhooks must not be processed")
	}
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	server, _, _ := newWebhookServer(&fakeWebhookStore{})
	body := `{"id":`
	rec := postWebhook(server, "SUBMISSION_COMPLETE", sign("test-secret", body), body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookAcceptsAndDispatches(t *testing.T) {
	t.Parallel()

	sid := testSID
	store := &fakeWebhookStore{diffs: map[string]*db.QueuedDiff{
		sid: {DiffID: 7, Project: "wikipedia", Lang: "en", RevID: 1001, SubmissionID: &sid, Status: db.StatusUploaded},
	}}
	server, diffStore, api := newWebhookServer(store)

	body := `{"id":"` + testSID + `","status":"COMPLETE"}`
	rec := postWebhook(server, "SUBMISSION_COMPLETE", sign("test-secret", body), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var reply map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["msg"] != "accepted" {
		t.Fatalf("reply = %v", reply)
	}

	if len(api.generated) != 1 || api.generated[0] != testSID {
		t.Fatalf("generated = %v", api.generated)
	}
	if len(diffStore.pending) != 1 || diffStore.pending[0] != 7 {
		t.Fatalf("pending = %v", diffStore.pending)
	}
}

func TestProcessEventUnknownSubmission(t *testing.T) {
	t.Parallel()

	server, diffStore, api := newWebhookServer(&fakeWebhookStore{})
	payload := webhookPayload{ID: testSID, Status: "COMPLETE"}
	if err := server.processEvent(context.Background(), "SUBMISSION_COMPLETE", payload); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if len(api.generated)+len(diffStore.pending) != 0 {
		t.Fatalf("unknown submission must be a no-op")
	}
}

func TestProcessEventInvalidSubmissionID(t *testing.T) {
	t.Parallel()

	sid := "not-a-uuid"
	store := &fakeWebhookStore{diffs: map[string]*db.QueuedDiff{
		sid: {DiffID: 7, SubmissionID: &sid, Status: db.StatusUploaded},
	}}
	server, diffStore, _ := newWebhookServer(store)

	payload := webhookPayload{ID: sid, Status: "COMPLETE"}
	if err := server.processEvent(context.Background(), "SUBMISSION_COMPLETE", payload); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if len(diffStore.pending) != 0 {
		t.Fatalf("invalid submission id must be a no-op")
	}
}

func TestProcessEventStaleStatus(t *testing.T) {
	t.Parallel()

	sid := testSID
	store := &fakeWebhookStore{diffs: map[string]*db.QueuedDiff{
		sid: {DiffID: 7, SubmissionID: &sid, Status: db.StatusPending},
	}}
	server, diffStore, api := newWebhookServer(store)

	// the diff already advanced past upload, so a late submission event
	// must not re-trigger report generation
	payload := webhookPayload{ID: sid, Status: "COMPLETE"}
	if err := server.processEvent(context.Background(), "SUBMISSION_COMPLETE", payload); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if len(api.generated)+len(diffStore.pending) != 0 {
		t.Fatalf("stale event must be a no-op")
	}
}

func TestProcessEventSimilarityNoMatches(t *testing.T) {
	t.Parallel()

	sid := testSID
	store := &fakeWebhookStore{diffs: map[string]*db.QueuedDiff{
		sid: {DiffID: 9, SubmissionID: &sid, Status: db.StatusPending},
	}}
	server, diffStore, _ := newWebhookServer(store)

	payload := webhookPayload{SubmissionID: sid, Status: "COMPLETE", TopSourceLargestMatchedWordCount: 0}
	if err := server.processEvent(context.Background(), "SIMILARITY_COMPLETE", payload); err != nil {
		t.Fatalf("processEvent: %v", err)
	}
	if len(diffStore.deleted) != 1 || diffStore.deleted[0] != 9 {
		t.Fatalf("deleted = %v", diffStore.deleted)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	newest := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	oldest := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	store := &fakeWebhookStore{
		queue: db.TableStats{Length: 12, Newest: &newest, Oldest: &oldest},
		ready: db.TableStats{},
	}
	server, _, _ := newWebhookServer(store)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.buildEcho().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var reply struct {
		Queue  tableHealth `json:"queue"`
		Ready  tableHealth `json:"ready"`
		Status string      `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Status != "up" {
		t.Fatalf("status = %q", reply.Status)
	}
	if reply.Queue.Length != 12 || reply.Queue.Newest == nil || *reply.Queue.Newest != "2026-05-04T12:00:00Z" {
		t.Fatalf("queue = %+v", reply.Queue)
	}
	if reply.Ready.Length != 0 || reply.Ready.Newest != nil || reply.Ready.Oldest != nil {
		t.Fatalf("ready = %+v", reply.Ready)
	}
}

func TestRootReturnsEmptyObject(t *testing.T) {
	t.Parallel()

	server, _, _ := newWebhookServer(&fakeWebhookStore{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	server.buildEcho().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "{}" {
		t.Fatalf("body = %q", body)
	}
}
