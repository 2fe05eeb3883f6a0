package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/copyvio/copypatrol/internal/cli"
	"github.com/copyvio/copypatrol/internal/db"
	"github.com/copyvio/copypatrol/internal/stream"
	"github.com/copyvio/copypatrol/internal/tca"
	"github.com/copyvio/copypatrol/internal/wiki"
)

func runIngestChanges(args []string) int {
	fs := flag.NewFlagSet("ingest-changes", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	sinceRaw := fs.String("since", "", "Resume the stream from this RFC 3339 timestamp")
	total := fs.Int("total", 0, "Stop after accepting this many events (0 runs until interrupted)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "ingest-changes does not accept positional arguments")
		return 2
	}

	var since time.Time
	if *sinceRaw != "" {
		parsed, err := time.Parse(time.RFC3339, *sinceRaw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --since: %v\n", err)
			return 2
		}
		since = parsed
	}
	if *total < 0 {
		fmt.Fprintln(os.Stderr, "--total must be >= 0")
		return 2
	}

	rt, code := setup(envLoader)
	if code != 0 {
		return code
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := rt.build(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer svc.Close()

	filter := stream.NewFilter(svc.sites, svc.ignore)
	listener := stream.NewListener(rt.cfg, filter, rt.logger)

	err = listener.Listen(ctx, stream.ListenOptions{Since: since, Total: *total}, func(ctx context.Context, event *stream.ChangeEvent) error {
		return ingestEvent(ctx, svc.pool, event)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("stream listener failed")
		return 1
	}
	return 0
}

// revisionAdder is the slice of the database layer intake writes to.
type revisionAdder interface {
	AddRevision(ctx context.Context, in db.AddRevisionInput) (bool, error)
}

// ingestEvent queues one accepted change event for evaluation.
func ingestEvent(ctx context.Context, store revisionAdder, event *stream.ChangeEvent) error {
	site, err := wiki.ParseDomain(event.Meta.Domain)
	if err != nil {
		return err
	}
	_, err = store.AddRevision(ctx, db.AddRevisionInput{
		Project:       site.Project,
		Lang:          site.Lang,
		PageNamespace: event.Page.NamespaceID,
		PageTitle:     tca.StoredTitle(event.Page.PageTitle, event.Page.NamespaceID),
		RevID:         event.Revision.RevID,
		RevParentID:   event.Revision.RevParentID,
		RevTimestamp:  event.Revision.RevDT,
		RevUserText:   event.Revision.Editor.UserText,
	})
	if err != nil {
		return fmt.Errorf("queue revision %d: %w", event.Revision.RevID, err)
	}
	return nil
}
