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
	"github.com/copyvio/copypatrol/internal/tca"
)

func runProvision(args []string) int {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	webhook := fs.Bool("webhook", false, "Replace the registered similarity service webhook")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "provision does not accept positional arguments")
		return 2
	}

	rt, code := setup(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// opening the pool runs the schema migration
	pool, err := db.NewPool(ctx, rt.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to provision database: %v\n", err)
		return 1
	}
	defer pool.Close()
	fmt.Println("ok: database schema up to date")

	if *webhook {
		client := tca.NewClient(rt.cfg, rt.logger)
		if err := client.DeleteWebhooks(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to delete stale webhooks: %v\n", err)
			return 1
		}
		if err := client.CreateWebhook(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create webhook: %v\n", err)
			return 1
		}
		fmt.Println("ok: webhook registered")
	}
	return 0
}
