package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/copyvio/copypatrol/internal/globaltime"
)

// DiffWindow scopes a status query: rows whose status is in Statuses and
// whose status_timestamp satisfies the requested comparison. The boundary
// timestamp is inclusive.
type DiffWindow struct {
	Statuses      []Status
	ChangedBefore *time.Time // status_timestamp <= ChangedBefore
	Limit         int
}

// buildDiffWindow renders the WHERE/ORDER/LIMIT tail shared by the
// status-scoped queries. Status values are internal constants and are
// inlined; timestamps bind as placeholders.
func buildDiffWindow(w DiffWindow) (string, []any, error) {
	if len(w.Statuses) == 0 {
		return "", nil, fmt.Errorf("at least one status is required")
	}

	var sb strings.Builder
	args := make([]any, 0, 2)

	sb.WriteString("WHERE status IN (")
	sb.WriteString(statusList(w.Statuses))
	sb.WriteString(")")

	if w.ChangedBefore != nil {
		args = append(args, w.ChangedBefore.UTC())
		fmt.Fprintf(&sb, "\n  AND status_timestamp <= $%d", len(args))
	}

	sb.WriteString("\nORDER BY rev_timestamp DESC")
	if w.Limit > 0 {
		fmt.Fprintf(&sb, "\nLIMIT %d", w.Limit)
	}
	return sb.String(), args, nil
}

func statusList(statuses []Status) string {
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, strconv.Itoa(int(status)))
	}
	return strings.Join(parts, ", ")
}

// AddRevisionInput identifies a revision accepted by the intake filter.
type AddRevisionInput struct {
	Project       string
	Lang          string
	PageNamespace int
	PageTitle     string
	RevID         int64
	RevParentID   int64
	RevTimestamp  time.Time
	RevUserText   string
}

// AddRevision inserts a new queue row unless the revision is already
// queued or already promoted. The unique revision index is the backstop
// against concurrent duplicate inserts.
func (p *Pool) AddRevision(ctx context.Context, in AddRevisionInput) (bool, error) {
	const existsQuery = `
SELECT COUNT(*)
FROM diffs
WHERE project = $1 AND lang = $2 AND rev_id = $3
`
	var promoted int64
	if err := p.QueryRow(ctx, existsQuery, in.Project, in.Lang, in.RevID).Scan(&promoted); err != nil {
		return false, fmt.Errorf("check promoted revision: %w", err)
	}
	if promoted > 0 {
		return false, nil
	}

	const insertQuery = `
INSERT INTO diffs_queue (
	project, lang, page_namespace, page_title,
	rev_id, rev_parent_id, rev_timestamp, rev_user_text,
	status, status_timestamp
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (project, lang, rev_id) DO NOTHING
`
	tag, err := p.Exec(ctx, insertQuery,
		in.Project, in.Lang, in.PageNamespace, in.PageTitle,
		in.RevID, in.RevParentID, in.RevTimestamp.UTC(), in.RevUserText,
		int(StatusUnsubmitted), globaltime.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert queued diff: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const queuedDiffColumns = `
	diff_queue_id, project, lang, page_namespace, page_title,
	rev_id, rev_parent_id, rev_timestamp, rev_user_text,
	submission_id, status, status_timestamp`

// QueuedDiffsByWindow returns queue rows matching the window, most recent
// revision first.
func (p *Pool) QueuedDiffsByWindow(ctx context.Context, w DiffWindow) ([]QueuedDiff, error) {
	tail, args, err := buildDiffWindow(w)
	if err != nil {
		return nil, err
	}

	query := "SELECT" + queuedDiffColumns + "\nFROM diffs_queue\n" + tail
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queued diffs: %w", err)
	}
	defer rows.Close()

	items := make([]QueuedDiff, 0, 16)
	for rows.Next() {
		diff, err := scanQueuedDiff(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, diff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued diffs: %w", err)
	}
	return items, nil
}

// ReadyDiffsByWindow returns promoted rows matching the window, most
// recent revision first. Sources are not loaded.
func (p *Pool) ReadyDiffsByWindow(ctx context.Context, w DiffWindow) ([]Diff, error) {
	tail, args, err := buildDiffWindow(w)
	if err != nil {
		return nil, err
	}

	query := `
SELECT
	diff_id, project, lang, page_namespace, page_title,
	rev_id, rev_parent_id, rev_timestamp, rev_user_text,
	submission_id, status, status_timestamp, status_user_text
FROM diffs
` + tail
	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query diffs: %w", err)
	}
	defer rows.Close()

	items := make([]Diff, 0, 16)
	for rows.Next() {
		var diff Diff
		if err := rows.Scan(
			&diff.DiffID, &diff.Project, &diff.Lang, &diff.PageNamespace, &diff.PageTitle,
			&diff.RevID, &diff.RevParentID, &diff.RevTimestamp, &diff.RevUserText,
			&diff.SubmissionID, &diff.Status, &diff.StatusTimestamp, &diff.StatusUserText,
		); err != nil {
			return nil, fmt.Errorf("scan diff row: %w", err)
		}
		items = append(items, diff)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diffs: %w", err)
	}
	return items, nil
}

// QueuedDiffBySubmissionID resolves a webhook submission id to its queue
// row, nil when no row matches.
func (p *Pool) QueuedDiffBySubmissionID(ctx context.Context, submissionID string) (*QueuedDiff, error) {
	query := "SELECT" + queuedDiffColumns + "\nFROM diffs_queue\nWHERE submission_id = $1"
	rows, err := p.Query(ctx, query, submissionID)
	if err != nil {
		return nil, fmt.Errorf("query queued diff by submission: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate queued diff by submission: %w", err)
		}
		return nil, nil
	}
	diff, err := scanQueuedDiff(rows)
	if err != nil {
		return nil, err
	}
	return &diff, nil
}

func scanQueuedDiff(rows *Rows) (QueuedDiff, error) {
	var diff QueuedDiff
	if err := rows.Scan(
		&diff.DiffID, &diff.Project, &diff.Lang, &diff.PageNamespace, &diff.PageTitle,
		&diff.RevID, &diff.RevParentID, &diff.RevTimestamp, &diff.RevUserText,
		&diff.SubmissionID, &diff.Status, &diff.StatusTimestamp,
	); err != nil {
		return QueuedDiff{}, fmt.Errorf("scan queued diff row: %w", err)
	}
	return diff, nil
}

// MarkCreated records the external submission id assigned to the queue row.
func (p *Pool) MarkCreated(ctx context.Context, diffID int64, submissionID string) error {
	const query = `
UPDATE diffs_queue
SET submission_id = $1, status = $2, status_timestamp = $3
WHERE diff_queue_id = $4
`
	if _, err := p.Exec(ctx, query, submissionID, int(StatusCreated), globaltime.UTC(), diffID); err != nil {
		return fmt.Errorf("mark queued diff created: %w", err)
	}
	return nil
}

// MarkUploaded advances the queue row after a successful content upload.
func (p *Pool) MarkUploaded(ctx context.Context, diffID int64) error {
	return p.setQueuedStatus(ctx, diffID, StatusUploaded)
}

// MarkPending advances the queue row after report generation is requested.
func (p *Pool) MarkPending(ctx context.Context, diffID int64) error {
	return p.setQueuedStatus(ctx, diffID, StatusPending)
}

func (p *Pool) setQueuedStatus(ctx context.Context, diffID int64, status Status) error {
	const query = `
UPDATE diffs_queue
SET status = $1, status_timestamp = $2
WHERE diff_queue_id = $3
`
	if _, err := p.Exec(ctx, query, int(status), globaltime.UTC(), diffID); err != nil {
		return fmt.Errorf("set queued diff status %s: %w", status, err)
	}
	return nil
}

// ResetSubmission drops the external submission so the row retries as a
// fresh submission on the next batch run.
func (p *Pool) ResetSubmission(ctx context.Context, diffID int64) error {
	const query = `
UPDATE diffs_queue
SET submission_id = NULL, status = $1, status_timestamp = $2
WHERE diff_queue_id = $3
`
	if _, err := p.Exec(ctx, query, int(StatusUnsubmitted), globaltime.UTC(), diffID); err != nil {
		return fmt.Errorf("reset queued diff submission: %w", err)
	}
	return nil
}

// DeleteQueued abandons a queue row.
func (p *Pool) DeleteQueued(ctx context.Context, diffID int64) error {
	if _, err := p.Exec(ctx, `DELETE FROM diffs_queue WHERE diff_queue_id = $1`, diffID); err != nil {
		return fmt.Errorf("delete queued diff: %w", err)
	}
	return nil
}

// Promote creates the permanent diff with its sources and deletes the
// queue row in one transaction. The unique submission id constraint makes
// concurrent promotion attempts fail with a duplicate key error.
func (p *Pool) Promote(ctx context.Context, queued QueuedDiff, sources []Source) error {
	if queued.SubmissionID == nil {
		return fmt.Errorf("queued diff %d has no submission id", queued.DiffID)
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return fmt.Errorf("begin promote transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	now := globaltime.UTC()
	const insertDiff = `
INSERT INTO diffs (
	project, lang, page_namespace, page_title,
	rev_id, rev_parent_id, rev_timestamp, rev_user_text,
	submission_id, status, status_timestamp
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	if _, err := tx.Exec(ctx, insertDiff,
		queued.Project, queued.Lang, queued.PageNamespace, queued.PageTitle,
		queued.RevID, queued.RevParentID, queued.RevTimestamp.UTC(), queued.RevUserText,
		*queued.SubmissionID, int(StatusReady), now,
	); err != nil {
		return fmt.Errorf("insert promoted diff: %w", err)
	}

	const insertSource = `
INSERT INTO report_sources (submission_id, description, url, percent)
VALUES ($1, $2, $3, $4)
`
	for _, source := range sources {
		if _, err := tx.Exec(ctx, insertSource, *queued.SubmissionID, source.Description, source.URL, source.Percent); err != nil {
			return fmt.Errorf("insert report source: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM diffs_queue WHERE diff_queue_id = $1`, queued.DiffID); err != nil {
		return fmt.Errorf("delete promoted queue row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit promote transaction: %w", err)
	}
	return nil
}

// MarkFixed records that a promoted diff's page vanished or moved.
func (p *Pool) MarkFixed(ctx context.Context, diffID int64, actingUser string) error {
	const query = `
UPDATE diffs
SET status = $1, status_user_text = $2, status_timestamp = $3
WHERE diff_id = $4
`
	if _, err := p.Exec(ctx, query, int(StatusFixed), actingUser, globaltime.UTC(), diffID); err != nil {
		return fmt.Errorf("mark diff fixed: %w", err)
	}
	return nil
}

// UpdateDiffPage stores a re-resolved page location for a promoted diff.
func (p *Pool) UpdateDiffPage(ctx context.Context, diffID int64, namespace int, title string) error {
	const query = `
UPDATE diffs
SET page_namespace = $1, page_title = $2, status_timestamp = $3
WHERE diff_id = $4
`
	if _, err := p.Exec(ctx, query, namespace, title, globaltime.UTC(), diffID); err != nil {
		return fmt.Errorf("update diff page: %w", err)
	}
	return nil
}

// TableStats summarizes one table for the health endpoint.
type TableStats struct {
	Length int64
	Newest *time.Time
	Oldest *time.Time
}

// QueueStats reports all queue rows.
func (p *Pool) QueueStats(ctx context.Context) (TableStats, error) {
	const query = `
SELECT COUNT(*), MAX(status_timestamp), MIN(status_timestamp)
FROM diffs_queue
`
	return p.scanTableStats(ctx, query)
}

// ReadyStats reports promoted rows still awaiting remediation.
func (p *Pool) ReadyStats(ctx context.Context) (TableStats, error) {
	query := fmt.Sprintf(`
SELECT COUNT(*), MAX(status_timestamp), MIN(status_timestamp)
FROM diffs
WHERE status = %d
`, int(StatusReady))
	return p.scanTableStats(ctx, query)
}

func (p *Pool) scanTableStats(ctx context.Context, query string) (TableStats, error) {
	var stats TableStats
	if err := p.QueryRow(ctx, query).Scan(&stats.Length, &stats.Newest, &stats.Oldest); err != nil {
		return TableStats{}, fmt.Errorf("query table stats: %w", err)
	}
	return stats, nil
}

// IsDuplicateKey reports whether the error is a unique constraint
// violation, the expected outcome of a lost duplicate-creation race.
func IsDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
