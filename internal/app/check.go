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
)

func runCheckChanges(args []string) int {
	fs := flag.NewFlagSet("check-changes", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	poolSize := fs.Int("pool-size", 0, "Concurrent diff evaluations (0 uses the CPU count)")
	limit := fs.Int("limit", 0, "Evaluate at most this many queued diffs (0 takes all)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "check-changes does not accept positional arguments")
		return 2
	}
	if *poolSize < 0 || *limit < 0 {
		fmt.Fprintln(os.Stderr, "--pool-size and --limit must be >= 0")
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

	if err := svc.patrol.CheckChanges(ctx, *poolSize, *limit); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("check-changes failed")
		return 1
	}
	return 0
}
