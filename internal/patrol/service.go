package patrol

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/globaltime"
	"github.com/copyvio/copypatrol/internal/tca"
	"github.com/copyvio/copypatrol/internal/wiki"
)

const (
	// DefaultSweepLag keeps the polling sweeps from racing webhooks that
	// are merely slow.
	DefaultSweepLag = 30 * time.Minute

	// DefaultRemediationAge is how stale a confirmed match must be
	// before its page location is re-verified.
	DefaultRemediationAge = 7 * 24 * time.Hour

	// systemActor is recorded as the acting user when the service itself
	// closes a diff.
	systemActor = "CopyPatrol"
)

// Store is the slice of the database layer the batch pipeline uses.
type Store interface {
	QueuedDiffsByWindow(ctx context.Context, w db.DiffWindow) ([]db.QueuedDiff, error)
	ReadyDiffsByWindow(ctx context.Context, w db.DiffWindow) ([]db.Diff, error)
	DeleteQueued(ctx context.Context, diffID int64) error
	MarkCreated(ctx context.Context, diffID int64, submissionID string) error
	MarkUploaded(ctx context.Context, diffID int64) error
	MarkFixed(ctx context.Context, diffID int64, actingUser string) error
	UpdateDiffPage(ctx context.Context, diffID int64, namespace int, title string) error
}

// SubmissionAPI is the slice of the similarity service the pipeline calls.
type SubmissionAPI interface {
	CreateSubmission(ctx context.Context, group, title string, timestamp time.Time, owner string) (string, error)
	UploadSubmission(ctx context.Context, sid, text string) error
	SubmissionInfo(ctx context.Context, sid string) (*tca.SubmissionInfo, error)
	ReportInfo(ctx context.Context, sid string) (*tca.ReportInfo, error)
}

// RevisionResolver re-locates pages for the remediation refresh.
type RevisionResolver interface {
	ResolveRevision(ctx context.Context, site wiki.Site, revID int64) (*wiki.Revision, error)
}

// Service runs the batch pipeline stages.
type Service struct {
	store      Store
	api        SubmissionAPI
	checker    *Checker
	reconciler *tca.Reconciler
	resolver   RevisionResolver
	logger     zerolog.Logger
}

func NewService(store Store, api SubmissionAPI, checker *Checker, reconciler *tca.Reconciler, resolver RevisionResolver, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		api:        api,
		checker:    checker,
		reconciler: reconciler,
		resolver:   resolver,
		logger:     logger,
	}
}

type checkResult struct {
	diff  db.QueuedDiff
	added string
	ok    bool
	err   error
}

// CheckChanges evaluates queued revisions and submits the ones with
// enough added text. Diff evaluation fans out across poolSize workers;
// the submission steps run sequentially off the results so each diff
// commits its own progress.
func (s *Service) CheckChanges(ctx context.Context, poolSize, limit int) error {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	diffs, err := s.store.QueuedDiffsByWindow(ctx, db.DiffWindow{
		Statuses: []db.Status{db.StatusUnsubmitted, db.StatusCreated},
		Limit:    limit,
	})
	if err != nil {
		return fmt.Errorf("list queued diffs: %w", err)
	}
	if len(diffs) == 0 {
		return nil
	}
	s.logger.Info().Int("diffs", len(diffs)).Int("pool_size", poolSize).Msg("checking queued diffs")

	jobs := make(chan db.QueuedDiff)
	results := make(chan checkResult)

	var wg sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for diff := range jobs {
				site := wiki.Site{Project: diff.Project, Lang: diff.Lang}
				added, ok, err := s.checker.CheckDiff(ctx, site, diff.RevParentID, diff.RevID)
				results <- checkResult{diff: diff, added: added, ok: ok, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, diff := range diffs {
			select {
			case jobs <- diff:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		if err := s.submitResult(ctx, result); err != nil {
			s.logger.Error().Err(err).Int64("diff_id", result.diff.DiffID).Msg("diff submission failed")
		}
	}
	return ctx.Err()
}

// submitResult advances one evaluated diff: drop it, or create and
// upload its submission. Each step commits independently so a failure
// resumes where it left off on the next run.
func (s *Service) submitResult(ctx context.Context, result checkResult) error {
	diff := result.diff
	if result.err != nil {
		return fmt.Errorf("check diff: %w", result.err)
	}
	if !result.ok {
		return s.store.DeleteQueued(ctx, diff.DiffID)
	}

	sid := diff.SubmissionID
	if sid == nil {
		site := wiki.Site{Project: diff.Project, Lang: diff.Lang}
		title := fmt.Sprintf("Revision %d of %s", diff.RevID, displayTitle(diff.PageTitle))
		created, err := s.api.CreateSubmission(ctx, site.Domain(), title, diff.RevTimestamp, diff.RevUserText)
		if err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		if err := s.store.MarkCreated(ctx, diff.DiffID, created); err != nil {
			return err
		}
		sid = &created
	}

	if err := s.api.UploadSubmission(ctx, *sid, result.added); err != nil {
		return fmt.Errorf("upload submission: %w", err)
	}
	return s.store.MarkUploaded(ctx, diff.DiffID)
}

// GenerateReports polls submissions whose completion webhook never
// arrived. Only rows untouched for at least minAge are polled.
func (s *Service) GenerateReports(ctx context.Context, minAge time.Duration) error {
	diffs, err := s.queuedOlderThan(ctx, db.StatusUploaded, minAge)
	if err != nil {
		return err
	}
	for _, diff := range diffs {
		info, err := s.api.SubmissionInfo(ctx, *diff.SubmissionID)
		if err != nil {
			s.logger.Error().Err(err).Int64("diff_id", diff.DiffID).Msg("submission info fetch failed")
			continue
		}
		if err := s.reconciler.HandleSubmissionInfo(ctx, info, diff); err != nil {
			s.logger.Error().Err(err).Int64("diff_id", diff.DiffID).Msg("submission reconciliation failed")
		}
	}
	return nil
}

// CheckReports polls similarity reports whose completion webhook never
// arrived.
func (s *Service) CheckReports(ctx context.Context, minAge time.Duration) error {
	diffs, err := s.queuedOlderThan(ctx, db.StatusPending, minAge)
	if err != nil {
		return err
	}
	for _, diff := range diffs {
		info, err := s.api.ReportInfo(ctx, *diff.SubmissionID)
		if err != nil {
			s.logger.Error().Err(err).Int64("diff_id", diff.DiffID).Msg("report info fetch failed")
			continue
		}
		if err := s.reconciler.HandleSimilarityInfo(ctx, info, diff); err != nil {
			s.logger.Error().Err(err).Int64("diff_id", diff.DiffID).Msg("report reconciliation failed")
		}
	}
	return nil
}

func (s *Service) queuedOlderThan(ctx context.Context, status db.Status, minAge time.Duration) ([]db.QueuedDiff, error) {
	if minAge <= 0 {
		minAge = DefaultSweepLag
	}
	before := globaltime.UTC().Add(-minAge)
	diffs, err := s.store.QueuedDiffsByWindow(ctx, db.DiffWindow{
		Statuses:      []db.Status{status},
		ChangedBefore: &before,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s diffs: %w", status, err)
	}
	// rows in these states always carry a submission id
	kept := diffs[:0]
	for _, diff := range diffs {
		if diff.SubmissionID == nil {
			s.logger.Error().Int64("diff_id", diff.DiffID).Str("status", diff.Status.String()).Msg("diff has no submission id")
			continue
		}
		kept = append(kept, diff)
	}
	return kept, nil
}

// UpdateReadyDiffs re-verifies the page location of confirmed matches
// that have not changed in olderThan. Vanished pages are marked fixed;
// moved pages get their stored location updated.
func (s *Service) UpdateReadyDiffs(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		olderThan = DefaultRemediationAge
	}
	before := globaltime.UTC().Add(-olderThan)
	diffs, err := s.store.ReadyDiffsByWindow(ctx, db.DiffWindow{
		Statuses:      []db.Status{db.StatusReady},
		ChangedBefore: &before,
	})
	if err != nil {
		return fmt.Errorf("list ready diffs: %w", err)
	}

	for _, diff := range diffs {
		site := wiki.Site{Project: diff.Project, Lang: diff.Lang}
		rev, err := s.resolver.ResolveRevision(ctx, site, diff.RevID)
		if err != nil {
			if errors.Is(err, wiki.ErrRevisionsMissing) {
				s.logger.Info().Int64("diff_id", diff.DiffID).Msg("page gone, marking diff fixed")
				if err := s.store.MarkFixed(ctx, diff.DiffID, systemActor); err != nil {
					return err
				}
				continue
			}
			s.logger.Error().Err(err).Int64("diff_id", diff.DiffID).Msg("page lookup failed")
			continue
		}
		title := tca.StoredTitle(rev.Title, rev.Namespace)
		if err := s.store.UpdateDiffPage(ctx, diff.DiffID, rev.Namespace, title); err != nil {
			return err
		}
	}
	return nil
}

func displayTitle(stored string) string {
	return strings.ReplaceAll(stored, "_", " ")
}
