package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/approval"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/identity"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/pinauth"
	"github.com/halvard/caseward/internal/reconcile"
	"github.com/halvard/caseward/internal/syncbundle"
	"github.com/halvard/caseward/internal/userconfig"
)

func casesDir() string {
	if d := os.Getenv("CASEWARD_CASES_DIR"); d != "" {
		return d
	}
	return "cases"
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Create a new case directory",
		ArgsUsage: "<case-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Human-readable case name"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			caseID := cmd.Args().First()
			if caseID == "" {
				return fmt.Errorf("%w: a case id is required", apperr.ErrValidation)
			}
			root := filepath.Join(casesDir(), caseID)
			if _, err := os.Stat(root); err == nil {
				return fmt.Errorf("%w: case %s already exists", apperr.ErrInvalidState, caseID)
			}
			name := cmd.String("name")
			if name == "" {
				name = caseID
			}
			if _, err := casestore.Init(root, models.CaseMeta{
				CaseID:    caseID,
				Name:      name,
				Status:    "open",
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			fmt.Printf("initialized case %s at %s\n", caseID, root)
			return writeActiveCase(caseID)
		},
	}
}

func useCommand() *cli.Command {
	return &cli.Command{
		Name:      "use",
		Usage:     "Set the active case for this working directory",
		ArgsUsage: "<case-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			caseID := cmd.Args().First()
			if err := casestore.ValidateCaseID(caseID); err != nil {
				return err
			}
			if _, err := casestore.Open(filepath.Join(casesDir(), caseID)); err != nil {
				return fmt.Errorf("%w: case %s", apperr.ErrNotFound, caseID)
			}
			return writeActiveCase(caseID)
		},
	}
}

func writeActiveCase(caseID string) error {
	if err := os.MkdirAll(".caseward", 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(".caseward", "active_case"), []byte(caseID+"\n"), 0o644)
}

func approveCommand() *cli.Command {
	return &cli.Command{
		Name:      "approve",
		Usage:     "Approve staged items (requires terminal confirmation)",
		ArgsUsage: "[item-ids...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "note", Usage: "Attach a note to each approved item"},
			&cli.BoolFlag{Name: "edit", Usage: "Open each item in $EDITOR before approving"},
			&cli.StringFlag{Name: "interpretation", Usage: "Replace the interpretation (recorded as a modification)"},
			&cli.StringFlag{Name: "by", Usage: "Approve all pending items staged under this examiner"},
			&cli.BoolFlag{Name: "findings-only", Usage: "With --by, only consider findings"},
			&cli.BoolFlag{Name: "timeline-only", Usage: "With --by, only consider timeline events"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			eng := e.engine()

			ids := cmd.Args().Slice()
			if by := cmd.String("by"); by != "" {
				if len(ids) > 0 {
					return fmt.Errorf("%w: give item ids or --by, not both", apperr.ErrValidation)
				}
				if err := casestore.ValidateExaminer(by); err != nil {
					return err
				}
				ids, err = pendingFor(eng, cmd, by)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Printf("No pending items for %s.\n", by)
					return nil
				}
			}

			opts := approval.ApproveOptions{
				Note: cmd.String("note"),
				Edit: cmd.Bool("edit"),
			}
			if v := cmd.String("interpretation"); v != "" {
				opts.Overrides = map[string]string{"interpretation": v}
			}
			if err := eng.Approve(ctx, ids, opts); err != nil {
				return err
			}
			fmt.Printf("approved %d item(s)\n", len(ids))
			return nil
		},
	}
}

func pendingFor(eng *approval.Engine, cmd *cli.Command, examiner string) ([]string, error) {
	filter := approval.PendingFilter{Examiner: examiner}
	if cmd.Bool("findings-only") {
		filter.Kind = models.KindFinding
	}
	if cmd.Bool("timeline-only") {
		filter.Kind = models.KindTimeline
	}
	seq, err := eng.ListPending(filter)
	if err != nil {
		return nil, err
	}
	var ids []string
	for item := range seq {
		ids = append(ids, item.Meta().ID)
	}
	return ids, nil
}

func rejectCommand() *cli.Command {
	return &cli.Command{
		Name:      "reject",
		Usage:     "Reject staged items with a reason",
		ArgsUsage: "<item-ids...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Why the items are rejected (required)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			ids := cmd.Args().Slice()
			if err := e.engine().Reject(ctx, ids, cmd.String("reason")); err != nil {
				return err
			}
			fmt.Printf("rejected %d item(s)\n", len(ids))
			return nil
		},
	}
}

func reviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Review the case: interactive pending queue, or printed views",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "findings", Usage: "Print the findings view"},
			&cli.BoolFlag{Name: "timeline", Usage: "Print the timeline view"},
			&cli.BoolFlag{Name: "todos", Usage: "Print the TODO view"},
			&cli.BoolFlag{Name: "evidence", Usage: "Print the evidence view"},
			&cli.BoolFlag{Name: "audit", Usage: "Print the audit view"},
			&cli.BoolFlag{Name: "detail", Usage: "Full detail instead of one line per item"},
			&cli.BoolFlag{Name: "verify", Usage: "Annotate items with their reconciliation class"},
			&cli.BoolFlag{Name: "mine", Usage: "Only the acting examiner's namespace"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			switch {
			case cmd.Bool("findings"), cmd.Bool("timeline"), cmd.Bool("todos"),
				cmd.Bool("evidence"), cmd.Bool("audit"):
				return printViews(e, cmd)
			}
			// No view flag: interactive review of the pending queue.
			filter := approval.PendingFilter{}
			if cmd.Bool("mine") {
				filter.Examiner = e.id.Examiner
			}
			_, err = e.engine().Review(ctx, filter)
			return err
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Reconcile approved items against the verification ledger",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "mine", Usage: "Only the acting examiner's namespace"},
			&cli.BoolFlag{Name: "pin", Usage: "Deep verification: recompute HMAC signatures (prompts for PIN, implies --mine)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			opts := reconcile.Options{}
			if cmd.Bool("mine") || cmd.Bool("pin") {
				opts.Examiner = e.id.Examiner
			}
			if cmd.Bool("pin") {
				pin, err := approval.TTY{}.ReadSecret(fmt.Sprintf("PIN for %s: ", e.id.Examiner))
				if err != nil {
					return err
				}
				key, version, err := e.auth.Verify(e.id.Examiner, pin)
				if err != nil {
					return err
				}
				opts.Key = key
				opts.KeyVersion = version
			}
			report, err := reconcile.Verify(e.store, e.ldg, e.caseID, opts)
			if err != nil {
				return err
			}
			printReport(report)
			if !report.Clean() {
				return fmt.Errorf("%w: reconciliation found divergence", apperr.ErrIntegrity)
			}
			return nil
		},
	}
}

func printReport(report *reconcile.Report) {
	mode := "hash-only"
	if report.Deep {
		mode = "deep"
	}
	fmt.Printf("case %s: %d approved item(s) checked (%s)\n", report.CaseID, report.Checked, mode)
	for _, f := range report.Findings {
		if f.Class == reconcile.OK {
			continue
		}
		fmt.Printf("  %-26s %-24s %s\n", f.Class, f.ItemID, f.Detail)
	}
	if report.Clean() {
		fmt.Println("  all clear")
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Examiner identity and PIN management",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "show", Usage: "Show the resolved identity and PIN state"},
			&cli.StringFlag{Name: "set-examiner", Usage: "Persist the examiner name in the user config"},
			&cli.BoolFlag{Name: "set-pin", Usage: "Configure a PIN for the acting examiner"},
			&cli.BoolFlag{Name: "reset-pin", Usage: "Rotate the PIN and re-sign ledger entries"},
			&cli.BoolFlag{Name: "unlock-pin", Usage: "Clear a lockout (requires the previous PIN)"},
			&cli.BoolFlag{Name: "force", Usage: "With --unlock-pin, administrative override without the PIN"},
		},
		Action: configAction,
	}
}

func configAction(ctx context.Context, cmd *cli.Command) error {
	path := userconfig.DefaultPath()
	id := identity.Resolve(cmd.String("examiner"))
	auth := pinauth.New(path)
	tty := approval.TTY{}

	switch {
	case cmd.String("set-examiner") != "":
		cfg, err := userconfig.Load(path)
		if err != nil {
			return err
		}
		cfg.Examiner = cmd.String("set-examiner")
		if err := userconfig.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("examiner set to %s\n", cfg.Examiner)
		return nil

	case cmd.Bool("set-pin"):
		pin, err := tty.ReadSecret("New PIN: ")
		if err != nil {
			return err
		}
		again, err := tty.ReadSecret("Repeat PIN: ")
		if err != nil {
			return err
		}
		if pin != again {
			return fmt.Errorf("%w: PINs do not match", apperr.ErrValidation)
		}
		version, err := auth.Setup(id.Examiner, pin)
		if err != nil {
			return err
		}
		fmt.Printf("PIN configured for %s (key version %d)\n", id.Examiner, version)
		return nil

	case cmd.Bool("reset-pin"):
		return rotatePIN(auth, id, tty)

	case cmd.Bool("unlock-pin"):
		pin := ""
		if !cmd.Bool("force") {
			var err error
			pin, err = tty.ReadSecret("Previous PIN: ")
			if err != nil {
				return err
			}
		}
		if err := auth.Unlock(id.Examiner, pin, cmd.Bool("force")); err != nil {
			return err
		}
		fmt.Printf("lockout cleared for %s\n", id.Examiner)
		return nil

	default:
		return showConfig(auth, id)
	}
}

func rotatePIN(auth *pinauth.Auth, id identity.Identity, tty approval.TTY) error {
	current, err := tty.ReadSecret("Current PIN: ")
	if err != nil {
		return err
	}
	next, err := tty.ReadSecret("New PIN: ")
	if err != nil {
		return err
	}
	again, err := tty.ReadSecret("Repeat new PIN: ")
	if err != nil {
		return err
	}
	if next != again {
		return fmt.Errorf("%w: PINs do not match", apperr.ErrValidation)
	}
	oldKey, newKey, oldVersion, newVersion, err := auth.Rotate(id.Examiner, current, next)
	if err != nil {
		return err
	}

	// Append fresh signatures for every case this examiner has entries in.
	// Old entries stay: the ledger is append-only.
	ldg, err := ledger.Open(ledger.DefaultDir())
	if err != nil {
		return err
	}
	cases, err := ldg.Cases()
	if err != nil {
		return err
	}
	total := 0
	for _, caseID := range cases {
		n, err := ldg.Resign(caseID, id.Examiner, oldKey, newKey, oldVersion, newVersion)
		if err != nil {
			return err
		}
		total += n
	}
	fmt.Printf("PIN rotated for %s (key version %d -> %d), %d ledger entr(ies) re-signed\n",
		id.Examiner, oldVersion, newVersion, total)
	return nil
}

func showConfig(auth *pinauth.Auth, id identity.Identity) error {
	fmt.Printf("examiner:  %s (source: %s)\n", id.Examiner, id.Source)
	fmt.Printf("os user:   %s\n", id.OSUser)
	has, err := auth.HasPIN(id.Examiner)
	if err != nil {
		return err
	}
	if !has {
		fmt.Println("pin:       not configured")
		return nil
	}
	version, err := auth.KeyVersion(id.Examiner)
	if err != nil {
		return err
	}
	locked, err := auth.Locked(id.Examiner)
	if err != nil {
		return err
	}
	state := "configured"
	if locked {
		state = "LOCKED"
	}
	fmt.Printf("pin:       %s (key version %d)\n", state, version)
	return nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Move an examiner namespace between machines as a bundle file",
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Export the acting examiner's namespace to a bundle",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Bundle file path (required)"},
					&cli.StringFlag{Name: "since", Usage: "Only items touched after this RFC 3339 timestamp"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					file := cmd.String("file")
					if file == "" {
						return fmt.Errorf("%w: --file is required", apperr.ErrValidation)
					}
					var since time.Time
					if raw := cmd.String("since"); raw != "" {
						since, err = time.Parse(time.RFC3339, raw)
						if err != nil {
							return fmt.Errorf("%w: --since must be RFC 3339: %v", apperr.ErrValidation, err)
						}
					}
					b, err := syncbundle.Export(e.store, e.caseID, e.id.Examiner, file, since)
					if err != nil {
						return err
					}
					fmt.Printf("exported bundle %s: %d finding(s), %d event(s), %d todo(s), %d approval(s), %d evidence record(s)\n",
						b.BundleID, len(b.Findings), len(b.Timeline), len(b.Todos), len(b.Approvals), len(b.Evidence))
					return nil
				},
			},
			{
				Name:  "import",
				Usage: "Merge a teammate's bundle into the case",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Bundle file path (required)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					file := cmd.String("file")
					if file == "" {
						return fmt.Errorf("%w: --file is required", apperr.ErrValidation)
					}
					res, err := syncbundle.Import(e.store, e.caseID, e.id.Examiner, file)
					if err != nil {
						return err
					}
					fmt.Printf("merged into %s: %d added, %d updated, %d unchanged, %d kept (approved locally), %d evidence record(s), %d approval(s) replayed\n",
						res.Examiner, res.Added, res.Updated, res.Unchanged, res.SkippedApproved, res.EvidenceAdded, res.ApprovalsReplayed)
					return nil
				},
			},
		},
	}
}

