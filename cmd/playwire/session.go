package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/odvcencio/playwire/pkg/driver"
	"github.com/odvcencio/playwire/pkg/session"
)

func (a *app) runSession(_ context.Context, args []string) error {
	if len(args) == 0 {
		return withExitCode(errors.New("usage: playwire session <status|clear> [flags]"), exitUsage)
	}
	sub := args[0]
	fs := flag.NewFlagSet("session "+sub, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	scope := a.registerScopeFlags(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return withExitCode(err, exitUsage)
	}
	sc, err := scope.resolve()
	if err != nil {
		return err
	}
	repo := session.NewRepository(sc)

	switch sub {
	case "status":
		st, err := repo.Status(driver.Version)
		if err != nil {
			return err
		}
		return a.writeJSON(st)
	case "clear":
		report, err := repo.ClearReport()
		if err != nil {
			return err
		}
		return a.writeJSON(report)
	default:
		return withExitCode(fmt.Errorf("unknown session command %q", sub), exitUsage)
	}
}
