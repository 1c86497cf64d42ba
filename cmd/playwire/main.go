// Command playwire drives Playwright browsers from the shell and keeps
// sessions alive between invocations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/odvcencio/playwire/pkg/driver"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dispatch(ctx, args, stdout, stderr)
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	return exitCodeForError(err)
}

func dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("playwire", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "load configuration from this file instead of the default locations")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return withExitCode(errors.New("missing command"), exitUsage)
	}

	switch rest[0] {
	case "version":
		fmt.Fprintln(stdout, driver.Version)
		return nil
	case "help":
		printUsage(stdout)
		return nil
	}

	a, err := newApp(*configPath, stdout, stderr)
	if err != nil {
		return err
	}
	switch rest[0] {
	case "open":
		return a.runOpen(ctx, rest[1:])
	case "session":
		return a.runSession(ctx, rest[1:])
	case "coordinator":
		return a.runCoordinator(ctx, rest[1:])
	default:
		printUsage(stderr)
		return withExitCode(fmt.Errorf("unknown command %q", rest[0]), exitUsage)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: playwire [--config FILE] <command> [flags]

Commands:
  open <url>                 acquire a session, navigate and print the page title
  session status             show the recorded session for this workspace
  session clear              forget the recorded session
  coordinator serve          answer lease requests over NATS from the Redis pool
  coordinator list           list pooled browsers
  coordinator register       add a debuggable browser to the Redis pool
  coordinator kill <port>    stop a pooled browser
  coordinator shutdown       stop the coordinator
  version                    print the build version
`)
}
