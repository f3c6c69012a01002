package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage of %s:

SUBCOMMANDS:
  %s serve                    Run the reminder daemon (scanner + HTTP gateway)
  %s client                   Run the interactive reminder client TUI
  %s status                   Show daemon health status (/healthz)
  %s import [options]         Import tasks from a JSON file
                              Options: --path <file> (default: tasks.json)
                                       --owner <email> (default: from auth config)
  %s version                  Print the taskbell version

With no subcommand, taskbell runs the client when attached to a terminal.

ENVIRONMENT VARIABLES:
  TASKBELL_HOME               Data directory (default: ~/.taskbell)
  TASKBELL_BIND_ADDR          Gateway bind address (serve)
  TASKBELL_SERVER_URL         Daemon base URL (client, status)
  TASKBELL_API_KEY            API key for the client

EXAMPLES:
  Run the daemon:           %s serve
  Run the client:           %s client
  Check daemon health:      %s status
  Import tasks:             %s import --path backlog.json
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		if isatty.IsTerminal(os.Stdout.Fd()) {
			os.Exit(runClientCommand(ctx, nil))
		}
		printUsage(os.Stderr)
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	case "serve":
		os.Exit(runServeCommand(ctx, args[1:]))
	case "client":
		os.Exit(runClientCommand(ctx, args[1:]))
	case "status":
		os.Exit(runStatusCommand(ctx, args[1:]))
	case "import":
		os.Exit(runImportCommand(ctx, args[1:]))
	case "version":
		fmt.Printf("taskbell %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n\n", args[0])
		printUsage(os.Stderr)
		os.Exit(2)
	}
}

// fatalStartup logs a structured startup failure and exits. The logger may
// be nil when the failure happens before logger initialization.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
