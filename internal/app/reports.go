package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/copyvio/copypatrol/internal/cli"
	"github.com/copyvio/copypatrol/internal/patrol"
)

func runReconcileReports(args []string) int {
	fs := flag.NewFlagSet("reconcile-reports", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	minAge := fs.Duration("min-age", patrol.DefaultSweepLag, "Only poll rows untouched for at least this long")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "reconcile-reports does not accept positional arguments")
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

	// reports already pending are settled first so a submission advanced
	// in this run is not polled again immediately
	if err := svc.patrol.CheckReports(ctx, *minAge); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("report sweep failed")
		return 1
	}
	if err := svc.patrol.GenerateReports(ctx, *minAge); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("submission sweep failed")
		return 1
	}
	return 0
}
