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

func runRefreshRemediation(args []string) int {
	fs := flag.NewFlagSet("refresh-remediation", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	olderThan := fs.Duration("older-than", patrol.DefaultRemediationAge, "Re-verify rows untouched for at least this long")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "refresh-remediation does not accept positional arguments")
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

	if err := svc.patrol.UpdateReadyDiffs(ctx, *olderThan); err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Error().Err(err).Msg("remediation refresh failed")
		return 1
	}
	return 0
}
