// Package app implements the copypatrol CLI commands.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest-changes":
		return runIngestChanges(args[1:])
	case "check-changes":
		return runCheckChanges(args[1:])
	case "reconcile-reports":
		return runReconcileReports(args[1:])
	case "refresh-remediation":
		return runRefreshRemediation(args[1:])
	case "provision":
		return runProvision(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "copypatrol CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  copypatrol <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health               Verify database connectivity and print queue stats")
	fmt.Fprintln(os.Stderr, "  ingest-changes       Tail the page change stream into the diff queue")
	fmt.Fprintln(os.Stderr, "  check-changes        Evaluate queued revisions and submit added text")
	fmt.Fprintln(os.Stderr, "  reconcile-reports    Poll submissions and reports missed by the webhook")
	fmt.Fprintln(os.Stderr, "  refresh-remediation  Re-verify page locations of confirmed matches")
	fmt.Fprintln(os.Stderr, "  provision            Create database tables and register the webhook")
	fmt.Fprintln(os.Stderr, "  serve                Start the webhook HTTP server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"copypatrol <command> -h\" for command-specific flags.")
}
