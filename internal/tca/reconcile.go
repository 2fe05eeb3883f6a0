package tca

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/copyvio/copypatrol/internal/config"
	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/wiki"
)

// qualifyingPercent is the minimum match percentage a source needs to
// count as evidence of copying.
const qualifyingPercent = 50

// DiffStore is the slice of the database layer the reconciler writes to.
type DiffStore interface {
	MarkPending(ctx context.Context, diffID int64) error
	ResetSubmission(ctx context.Context, diffID int64) error
	DeleteQueued(ctx context.Context, diffID int64) error
	Promote(ctx context.Context, queued db.QueuedDiff, sources []db.Source) error
}

// ReportAPI is the slice of the similarity service the reconciler calls.
type ReportAPI interface {
	GenerateReport(ctx context.Context, sid string) error
	ReportSources(ctx context.Context, sid string) ([]Source, error)
}

// PageResolver re-locates pages and feeds the triage queue.
type PageResolver interface {
	ResolveRevision(ctx context.Context, site wiki.Site, revID int64) (*wiki.Revision, error)
	SubmitPageTriage(ctx context.Context, site wiki.Site, pageID, revID int64) error
}

// URLIgnorer filters source URLs against the on-wiki ignore list.
type URLIgnorer interface {
	IgnoredURL(ctx context.Context, url string) bool
}

// Reconciler applies submission and similarity outcomes to queued diffs.
// The same handlers back both the webhook endpoint and the polling
// sweeps, so delayed webhooks and poll results stay consistent.
type Reconciler struct {
	api      ReportAPI
	store    DiffStore
	resolver PageResolver
	ignore   URLIgnorer
	sites    *config.Sites
	logger   zerolog.Logger
}

func NewReconciler(api ReportAPI, store DiffStore, resolver PageResolver, ignore URLIgnorer, sites *config.Sites, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		api:      api,
		store:    store,
		resolver: resolver,
		ignore:   ignore,
		sites:    sites,
		logger:   logger,
	}
}

// HandleSubmissionInfo advances a diff whose submission finished
// processing. Completed submissions get a report requested; recoverable
// errors reset the diff for resubmission; anything else abandons it.
func (r *Reconciler) HandleSubmissionInfo(ctx context.Context, info *SubmissionInfo, diff db.QueuedDiff) error {
	logger := r.diffLogger(diff)
	switch info.Status {
	case "COMPLETE":
		if diff.SubmissionID == nil {
			return fmt.Errorf("diff %d has no submission id", diff.DiffID)
		}
		if err := r.api.GenerateReport(ctx, *diff.SubmissionID); err != nil {
			logger.Error().Err(err).Msg("report generation request failed")
			return nil
		}
		return r.store.MarkPending(ctx, diff.DiffID)
	case "ERROR":
		logger.Error().Str("error_code", info.ErrorCode).Msg("submission failed")
		if info.ErrorCode == "PROCESSING_ERROR" {
			return r.store.ResetSubmission(ctx, diff.DiffID)
		}
		return r.store.DeleteQueued(ctx, diff.DiffID)
	case "PROCESSING":
		return nil
	default:
		logger.Error().Str("status", info.Status).Msg("unhandled submission status")
		return nil
	}
}

// HandleSimilarityInfo settles a diff whose similarity report finished.
// Reports still processing are left alone; reports without any matched
// words abandon the diff; otherwise the qualifying sources decide
// between promotion and abandonment.
func (r *Reconciler) HandleSimilarityInfo(ctx context.Context, info *ReportInfo, diff db.QueuedDiff) error {
	if info.Status != "COMPLETE" {
		return nil
	}
	logger := r.diffLogger(diff)
	if info.TopSourceLargestMatchedWordCount == 0 {
		logger.Debug().Msg("report found no matches")
		return r.store.DeleteQueued(ctx, diff.DiffID)
	}
	if diff.SubmissionID == nil {
		return fmt.Errorf("diff %d has no submission id", diff.DiffID)
	}

	sources, err := r.api.ReportSources(ctx, *diff.SubmissionID)
	if err != nil {
		logger.Error().Err(err).Msg("report sources fetch failed")
		return nil
	}

	qualifying := make([]db.Source, 0, len(sources))
	for _, source := range sources {
		if source.Percent <= qualifyingPercent {
			continue
		}
		if source.URL != "" && r.ignore.IgnoredURL(ctx, source.URL) {
			continue
		}
		record := db.Source{
			SubmissionID: *diff.SubmissionID,
			Description:  source.Description,
			Percent:      source.Percent,
		}
		if source.URL != "" {
			url := source.URL
			record.URL = &url
		}
		qualifying = append(qualifying, record)
	}
	if len(qualifying) == 0 {
		logger.Debug().Msg("no qualifying sources")
		return r.store.DeleteQueued(ctx, diff.DiffID)
	}

	site := wiki.Site{Project: diff.Project, Lang: diff.Lang}
	rev, err := r.resolver.ResolveRevision(ctx, site, diff.RevID)
	if err != nil {
		if errors.Is(err, wiki.ErrRevisionsMissing) {
			logger.Debug().Msg("page deleted before promotion")
			return r.store.DeleteQueued(ctx, diff.DiffID)
		}
		return fmt.Errorf("resolve revision %d: %w", diff.RevID, err)
	}
	diff.PageNamespace = rev.Namespace
	diff.PageTitle = StoredTitle(rev.Title, rev.Namespace)

	if err := r.store.Promote(ctx, diff, qualifying); err != nil {
		if db.IsDuplicateKey(err) {
			logger.Debug().Msg("diff already promoted")
			return r.store.DeleteQueued(ctx, diff.DiffID)
		}
		return fmt.Errorf("promote diff %d: %w", diff.DiffID, err)
	}
	logger.Info().Int("sources", len(qualifying)).Msg("diff promoted")

	if siteConfig, ok := r.sites.Site(site.Domain()); ok {
		for _, namespace := range siteConfig.PagetriageNamespaces {
			if namespace != rev.Namespace {
				continue
			}
			if err := r.resolver.SubmitPageTriage(ctx, site, rev.PageID, diff.RevID); err != nil {
				logger.Error().Err(err).Msg("pagetriage submission failed")
			}
			break
		}
	}
	return nil
}

func (r *Reconciler) diffLogger(diff db.QueuedDiff) zerolog.Logger {
	logger := r.logger.With().
		Int64("diff_id", diff.DiffID).
		Str("project", diff.Project).
		Str("lang", diff.Lang).
		Int64("rev_id", diff.RevID)
	if diff.SubmissionID != nil {
		logger = logger.Str("submission_id", *diff.SubmissionID)
	}
	return logger.Logger()
}

// StoredTitle converts an API page title to storage form: namespace
// prefix removed, spaces replaced with underscores.
func StoredTitle(title string, namespace int) string {
	if namespace != 0 {
		if _, rest, found := strings.Cut(title, ":"); found {
			title = rest
		}
	}
	return strings.ReplaceAll(title, " ", "_")
}
