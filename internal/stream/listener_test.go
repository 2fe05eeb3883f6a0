package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func eventJSON(revID int64, user string) string {
	return fmt.Sprintf(`{"page_change_kind": "edit",`+
		`"meta": {"domain": "en.wikipedia.org", "dt": "2026-03-01T12:00:00Z"},`+
		`"page": {"page_id": 7, "page_title": "Example", "namespace_id": 0},`+
		`"revision": {"rev_id": %d, "rev_parent_id": %d, "rev_dt": "2026-03-01T12:00:00Z",`+
		`"rev_size": 2048, "rev_sha1": "abc%d",`+
		`"editor": {"user_text": %q, "is_bot": false, "is_system": false}},`+
		`"prior_state": {"revision": {"rev_id": %d, "rev_sha1": "def"}}}`,
		revID, revID-1, revID, user, revID-1)
}

func TestListenStopsAtTotal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// bot edit is filtered out, the two human edits count
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", eventJSON(100, "Alice"))
		bot := `{"page_change_kind": "edit",` +
			`"meta": {"domain": "en.wikipedia.org", "dt": "2026-03-01T12:00:01Z"},` +
			`"page": {"page_id": 8, "page_title": "Other", "namespace_id": 0},` +
			`"revision": {"rev_id": 101, "rev_parent_id": 100, "rev_dt": "2026-03-01T12:00:01Z",` +
			`"rev_size": 2048, "rev_sha1": "zzz",` +
			`"editor": {"user_text": "SomeBot", "is_bot": true, "is_system": false}},` +
			`"prior_state": {"revision": {"rev_id": 100, "rev_sha1": "yyy"}}}`
		fmt.Fprintf(w, "data: %s\n\n", bot)
		fmt.Fprintf(w, ": keepalive comment\n\n")
		fmt.Fprintf(w, "data: %s\n\n", eventJSON(102, "Bob"))
		fmt.Fprintf(w, "data: %s\n\n", eventJSON(103, "Carol"))
		flusher.Flush()
	}))
	t.Cleanup(server.Close)

	listener := &Listener{
		httpClient: server.Client(),
		url:        server.URL,
		filter:     NewFilter(testSites(), &fakeUserIgnore{}),
		logger:     zerolog.Nop(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var seen []int64
	err := listener.Listen(ctx, ListenOptions{Total: 2}, func(_ context.Context, event *ChangeEvent) error {
		seen = append(seen, event.Revision.RevID)
		return nil
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if len(seen) != 2 || seen[0] != 100 || seen[1] != 102 {
		t.Fatalf("seen = %v", seen)
	}
}

func TestListenSinceParameter(t *testing.T) {
	t.Parallel()

	var gotSince string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", eventJSON(100, "Alice"))
	}))
	t.Cleanup(server.Close)

	listener := &Listener{
		httpClient: server.Client(),
		url:        server.URL,
		filter:     NewFilter(testSites(), &fakeUserIgnore{}),
		logger:     zerolog.Nop(),
	}

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := listener.Listen(ctx, ListenOptions{Since: since, Total: 1}, func(context.Context, *ChangeEvent) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if gotSince != "2026-03-01T00:00:00Z" {
		t.Fatalf("since = %q", gotSince)
	}
}
