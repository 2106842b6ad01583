package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/halvard/caseward/internal"
	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/approval"
	"github.com/halvard/caseward/internal/evidence"
	"github.com/halvard/caseward/internal/execaudit"
	"github.com/halvard/caseward/internal/mcpserver"
	"github.com/halvard/caseward/internal/staging"
	pkgconfig "github.com/halvard/caseward/pkg/config"
)

func (e *env) evidenceService() *evidence.Service {
	return &evidence.Service{Store: e.store, ID: e.id, Confirm: approval.TTY{}}
}

func (e *env) stagingService() *staging.Service {
	return &staging.Service{Store: e.store, Examiner: e.id.Examiner, CreatedBy: e.id.Examiner}
}

func evidenceCommand() *cli.Command {
	return &cli.Command{
		Name:  "evidence",
		Usage: "Register and verify evidence files",
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Hash and write-protect an evidence file",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Usage: "What the file is"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					path := cmd.Args().First()
					if path == "" {
						return fmt.Errorf("%w: a file path is required", apperr.ErrValidation)
					}
					rec, err := e.evidenceService().Register(path, cmd.String("description"))
					if err != nil {
						return err
					}
					fmt.Printf("registered %s (sha256 %s)\n", rec.Path, rec.SHA256)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List registered evidence",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "mine", Usage: "Only the acting examiner's registry"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					scope := ""
					if cmd.Bool("mine") {
						scope = e.id.Examiner
					}
					records, err := e.evidenceService().List(scope)
					if err != nil {
						return err
					}
					for _, rec := range records {
						lock := "locked"
						if rec.Unlocked {
							lock = "UNLOCKED"
						}
						fmt.Printf("%-40s %s %s %s\n", rec.Path, rec.SHA256[:12], rec.RegisteredBy, lock)
					}
					return nil
				},
			},
			{
				Name:  "verify",
				Usage: "Re-hash every registered file against the registry",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					bad, err := e.evidenceService().VerifyAll("")
					for _, m := range bad {
						fmt.Printf("MISMATCH %s: %s\n", m.Path, m.Detail)
					}
					if err != nil {
						return err
					}
					fmt.Println("all evidence verified")
					return nil
				},
			},
			{
				Name:  "log",
				Usage: "Print the evidence access log",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					records, err := e.evidenceService().AccessLog()
					if err != nil {
						return err
					}
					for _, rec := range records {
						fmt.Printf("%s %-8s %-30s %s (%s)\n",
							rec.Timestamp.Format(time.RFC3339), rec.Action, rec.Path, rec.Examiner, rec.OSUser)
					}
					return nil
				},
			},
			{
				Name:      "unlock",
				Usage:     "Lift write protection on one file (confirmed on the terminal)",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					return e.evidenceService().Unlock(cmd.Args().First())
				},
			},
			{
				Name:      "lock",
				Usage:     "Restore write protection on one file",
				ArgsUsage: "<path>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					return e.evidenceService().Lock(cmd.Args().First())
				},
			},
		},
	}
}

func todoCommand() *cli.Command {
	return &cli.Command{
		Name:  "todo",
		Usage: "Working notes that need no approval",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Add a TODO",
				ArgsUsage: "<description>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "priority", Usage: "low, medium, or high"},
					&cli.StringFlag{Name: "assignee", Usage: "Examiner the TODO is for"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					t, err := e.stagingService().AddTodo(staging.TodoInput{
						Description: cmd.Args().First(),
						Priority:    cmd.String("priority"),
						Assignee:    cmd.String("assignee"),
					})
					if err != nil {
						return err
					}
					fmt.Printf("added %s\n", t.ID)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List TODOs",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Include completed TODOs"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					examiners, err := e.store.Examiners()
					if err != nil {
						return err
					}
					for _, ex := range examiners {
						doc, err := e.store.Todos(ex)
						if err != nil {
							return err
						}
						for _, t := range doc.Items {
							if !cmd.Bool("all") && t.Status != "open" {
								continue
							}
							fmt.Printf("%-18s [%-9s] %s\n", t.ID, t.Status, t.Description)
						}
					}
					return nil
				},
			},
			{
				Name:      "complete",
				Usage:     "Mark a TODO completed",
				ArgsUsage: "<todo-id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					t, err := e.stagingService().CompleteTodo(cmd.Args().First())
					if err != nil {
						return err
					}
					fmt.Printf("completed %s\n", t.ID)
					return nil
				},
			},
			{
				Name:      "update",
				Usage:     "Annotate or reprioritize a TODO",
				ArgsUsage: "<todo-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "note", Usage: "Append a note"},
					&cli.StringFlag{Name: "priority", Usage: "low, medium, or high"},
					&cli.StringFlag{Name: "assignee", Usage: "Reassign"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					t, err := e.stagingService().UpdateTodo(cmd.Args().First(),
						cmd.String("note"), cmd.String("priority"), cmd.String("assignee"))
					if err != nil {
						return err
					}
					fmt.Printf("updated %s\n", t.ID)
					return nil
				},
			},
		},
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Run a command with confirmation, a wall-clock bound, and an audit record",
		ArgsUsage: "--purpose TEXT -- <command...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "purpose", Usage: "Why the command is being run (required)"},
			&cli.StringFlag{Name: "timeout", Usage: "Wall-clock bound, Go duration (default 10m)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			runner := &execaudit.Runner{Store: e.store, ID: e.id, Confirm: approval.TTY{}}
			if raw := cmd.String("timeout"); raw != "" {
				d, err := time.ParseDuration(raw)
				if err != nil {
					return fmt.Errorf("%w: --timeout: %v", apperr.ErrValidation, err)
				}
				runner.Timeout = d
			}
			rec, err := runner.Run(ctx, cmd.String("purpose"), cmd.Args().Slice())
			if rec != nil {
				fmt.Print(rec.OutputSnippet)
				fmt.Printf("\nrecorded as %s (exit %d, %dms)\n", rec.EvidenceID, rec.ExitCode, rec.DurationMS)
			}
			return err
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Read the case audit trails",
		Commands: []*cli.Command{
			{
				Name:  "log",
				Usage: "Print audit entries, newest last",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "limit", Usage: "Only the last N entries"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					entries, err := e.store.AuditEntries()
					if err != nil {
						return err
					}
					if raw := cmd.String("limit"); raw != "" {
						n, err := strconv.Atoi(raw)
						if err != nil || n < 0 {
							return fmt.Errorf("%w: --limit wants a non-negative count", apperr.ErrValidation)
						}
						if len(entries) > n {
							entries = entries[len(entries)-n:]
						}
					}
					for _, entry := range entries {
						backend, _ := entry["backend"].(string)
						id, _ := entry["evidence_id"].(string)
						purpose, _ := entry["purpose"].(string)
						fmt.Printf("%-10s %-32s %s\n", backend, id, purpose)
					}
					return nil
				},
			},
			{
				Name:  "summary",
				Usage: "Counts per audit backend and per decision",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := setup(cmd)
					if err != nil {
						return err
					}
					entries, err := e.store.AuditEntries()
					if err != nil {
						return err
					}
					perBackend := map[string]int{}
					for _, entry := range entries {
						backend, _ := entry["backend"].(string)
						perBackend[backend]++
					}
					for backend, n := range perBackend {
						fmt.Printf("%-12s %d entr(ies)\n", backend, n)
					}
					approvals, corrupt, err := e.store.Approvals()
					if err != nil {
						return err
					}
					perDecision := map[string]int{}
					for _, rec := range approvals {
						perDecision[string(rec.Decision)]++
					}
					for decision, n := range perDecision {
						fmt.Printf("%-12s %d decision(s)\n", decision, n)
					}
					if corrupt > 0 {
						fmt.Printf("warning: %d corrupt approval line(s) skipped\n", corrupt)
					}
					return nil
				},
			},
		},
	}
}

func stageServerCommand() *cli.Command {
	return &cli.Command{
		Name:  "stage-server",
		Usage: "Run the MCP staging server on stdio (for tool-executing agents)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "agent", Usage: "Recorded as created_by on staged items", Value: "agent"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			stage := &staging.Service{
				Store:     e.store,
				Examiner:  e.id.Examiner,
				CreatedBy: cmd.String("agent"),
			}
			return mcpserver.New(e.store, stage).ServeStdio()
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the read-only dashboard API, SSE stream, and index watcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to serve config file",
				Value:   "config/config.yaml",
				Sources: cli.EnvVars("CASEWARD_CONFIG_FILE"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := internal.NewDefaultConfig()
			if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
				return fmt.Errorf("failed to parse config: %w", err)
			}
			if dir := cmd.String("case"); dir != "" {
				cfg.Case.Dir = dir
			}
			return internal.Run(ctx, internal.WithConfig(cfg))
		},
	}
}
