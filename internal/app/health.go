package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/copyvio/copypatrol/internal/cli"
	"github.com/copyvio/copypatrol/internal/db"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "health does not accept positional arguments")
		return 2
	}

	rt, code := setup(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, rt.cfg)
	if err != nil {
		rt.logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	queue, err := pool.QueueStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query queue stats: %v\n", err)
		return 1
	}
	ready, err := pool.ReadyStats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query ready stats: %v\n", err)
		return 1
	}

	fmt.Println("ok: database ping successful")
	fmt.Printf("queue: %d rows\n", queue.Length)
	fmt.Printf("ready: %d rows\n", ready.Length)
	return 0
}
