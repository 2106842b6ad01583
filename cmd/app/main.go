// Command caseward is the case integrity and approval CLI: AI-produced
// conclusions are staged as drafts, and only a human at a terminal can
// approve them into the record.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/approval"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/identity"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/pinauth"
	"github.com/halvard/caseward/internal/userconfig"
)

// Exit codes: 0 success, 1 validation or state, 2 identity or PIN, 3 I/O.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, apperr.ErrAuth):
		return 2
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrInvalidState),
		errors.Is(err, apperr.ErrIntegrity),
		errors.Is(err, apperr.ErrSelfImport):
		return 1
	default:
		return 3
	}
}

// env is the per-invocation wiring shared by most commands.
type env struct {
	store  *casestore.Store
	caseID string
	id     identity.Identity
	auth   *pinauth.Auth
	ldg    *ledger.Ledger
}

func setup(cmd *cli.Command) (*env, error) {
	store, err := casestore.Resolve(cmd.String("case"))
	if err != nil {
		return nil, err
	}
	meta, err := store.Meta()
	if err != nil {
		return nil, err
	}
	id := identity.Resolve(cmd.String("examiner"))
	id.WarnIfUnconfigured()

	ldg, err := ledger.Open(ledger.DefaultDir())
	if err != nil {
		return nil, err
	}
	return &env{
		store:  store,
		caseID: meta.CaseID,
		id:     id,
		auth:   pinauth.New(userconfig.DefaultPath()),
		ldg:    ldg,
	}, nil
}

func (e *env) engine() *approval.Engine {
	return &approval.Engine{
		Store:   e.store,
		Ledger:  e.ldg,
		Auth:    e.auth,
		Confirm: approval.TTY{},
		ID:      e.id,
		CaseID:  e.caseID,
	}
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cmd := &cli.Command{
		Name:  "caseward",
		Usage: "Stage, review, and verify forensic conclusions with a human-only approval gate",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "case",
				Aliases: []string{"C"},
				Usage:   "Case id under the cases directory",
			},
			&cli.StringFlag{
				Name:    "examiner",
				Aliases: []string{"e"},
				Usage:   "Acting examiner (overrides env and config)",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			useCommand(),
			approveCommand(),
			rejectCommand(),
			reviewCommand(),
			verifyCommand(),
			configCommand(),
			syncCommand(),
			evidenceCommand(),
			todoCommand(),
			execCommand(),
			auditCommand(),
			stageServerCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "caseward: %v\n", err)
		os.Exit(exitCode(err))
	}
}
