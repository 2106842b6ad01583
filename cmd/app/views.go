package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/reconcile"
)

// printViews renders the non-interactive review views. A cheap reconcile pass
// runs once when --verify is set and annotates each item with its class.
func printViews(e *env, cmd *cli.Command) error {
	var classes map[string]reconcile.Classification
	if cmd.Bool("verify") {
		opts := reconcile.Options{}
		if cmd.Bool("mine") {
			opts.Examiner = e.id.Examiner
		}
		report, err := reconcile.Verify(e.store, e.ldg, e.caseID, opts)
		if err != nil {
			return err
		}
		classes = map[string]reconcile.Classification{}
		for _, f := range report.Findings {
			classes[f.ItemID] = f.Class
		}
	}

	examiners, err := e.viewExaminers(cmd.Bool("mine"))
	if err != nil {
		return err
	}
	detail := cmd.Bool("detail")

	if cmd.Bool("findings") {
		if err := e.printFindings(examiners, detail, classes); err != nil {
			return err
		}
	}
	if cmd.Bool("timeline") {
		if err := e.printTimeline(examiners, detail, classes); err != nil {
			return err
		}
	}
	if cmd.Bool("todos") {
		if err := e.printTodos(examiners); err != nil {
			return err
		}
	}
	if cmd.Bool("evidence") {
		if err := e.printEvidence(cmd.Bool("mine")); err != nil {
			return err
		}
	}
	if cmd.Bool("audit") {
		if err := e.printAudit(); err != nil {
			return err
		}
	}
	return nil
}

func (e *env) viewExaminers(mine bool) ([]string, error) {
	if mine {
		return []string{e.id.Examiner}, nil
	}
	return e.store.Examiners()
}

func annotate(classes map[string]reconcile.Classification, id string) string {
	if classes == nil {
		return ""
	}
	if class, ok := classes[id]; ok {
		return "  [" + string(class) + "]"
	}
	return ""
}

func (e *env) printFindings(examiners []string, detail bool, classes map[string]reconcile.Classification) error {
	for _, ex := range examiners {
		doc, err := e.store.Findings(ex)
		if err != nil {
			return err
		}
		for i := range doc.Items {
			f := &doc.Items[i]
			if !detail {
				fmt.Printf("%-20s %-9s %-6s %s%s\n",
					f.ID, f.Status, f.Confidence, f.Title, annotate(classes, f.ID))
				continue
			}
			fmt.Printf("%s  %s%s\n", f.ID, f.Status, annotate(classes, f.ID))
			fmt.Printf("  title:          %s\n", f.Title)
			fmt.Printf("  observation:    %s\n", f.Observation)
			fmt.Printf("  interpretation: %s\n", f.Interpretation)
			if f.Confidence != "" {
				fmt.Printf("  confidence:     %s\n", f.Confidence)
			}
			if f.ProvenanceTier != "" {
				fmt.Printf("  provenance:     %s\n", f.ProvenanceTier)
			}
			for _, ioc := range f.IOCs {
				fmt.Printf("  ioc:            %s\n", ioc)
			}
			for _, ref := range f.MitreRefs {
				fmt.Printf("  mitre:          %s\n", ref)
			}
			printLifecycle(&f.Lifecycle)
			fmt.Println()
		}
	}
	return nil
}

func (e *env) printTimeline(examiners []string, detail bool, classes map[string]reconcile.Classification) error {
	// The timeline reads in event order across all namespaces, not doc order.
	var events []*models.TimelineEvent
	for _, ex := range examiners {
		doc, err := e.store.Timeline(ex)
		if err != nil {
			return err
		}
		for i := range doc.Items {
			events = append(events, &doc.Items[i])
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
	for _, ev := range events {
		if !detail {
			fmt.Printf("%s  %-20s %-9s %s%s\n",
				ev.Timestamp.Format(time.RFC3339), ev.ID, ev.Status, ev.Description, annotate(classes, ev.ID))
			continue
		}
		fmt.Printf("%s  %s%s\n", ev.ID, ev.Status, annotate(classes, ev.ID))
		fmt.Printf("  timestamp:   %s\n", ev.Timestamp.Format(time.RFC3339))
		fmt.Printf("  description: %s\n", ev.Description)
		if ev.Type != "" {
			fmt.Printf("  type:        %s\n", ev.Type)
		}
		if ev.Source != "" {
			fmt.Printf("  source:      %s\n", ev.Source)
		}
		printLifecycle(&ev.Lifecycle)
		fmt.Println()
	}
	return nil
}

func printLifecycle(m *models.Lifecycle) {
	if m.ApprovedAt != nil {
		fmt.Printf("  approved:       %s by %s\n", m.ApprovedAt.Format(time.RFC3339), m.ApprovedBy)
	}
	if m.RejectedAt != nil {
		fmt.Printf("  rejected:       %s by %s (%s)\n",
			m.RejectedAt.Format(time.RFC3339), m.RejectedBy, m.RejectionReason)
	}
	for _, note := range m.ExaminerNotes {
		fmt.Printf("  note (%s):  %s\n", note.By, note.Note)
	}
	for field, mod := range m.ExaminerModifications {
		fmt.Printf("  edited %s by %s at %s\n", field, mod.ModifiedBy, mod.ModifiedAt.Format(time.RFC3339))
	}
}

func (e *env) printTodos(examiners []string) error {
	for _, ex := range examiners {
		doc, err := e.store.Todos(ex)
		if err != nil {
			return err
		}
		for _, t := range doc.Items {
			fmt.Printf("%-18s [%-9s] %s\n", t.ID, t.Status, t.Description)
			for _, rel := range t.RelatedFindings {
				fmt.Printf("    relates to %s\n", rel)
			}
		}
	}
	return nil
}

func (e *env) printEvidence(mine bool) error {
	scope := ""
	if mine {
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
}

func (e *env) printAudit() error {
	approvals, corrupt, err := e.store.Approvals()
	if err != nil {
		return err
	}
	for _, rec := range approvals {
		fmt.Printf("%s  %-8s %-20s %s (%s)\n",
			rec.Timestamp.Format(time.RFC3339), rec.Decision, rec.ItemID, rec.Examiner, rec.Mode)
	}
	if corrupt > 0 {
		fmt.Printf("warning: %d corrupt approval line(s) skipped\n", corrupt)
	}
	entries, err := e.store.AuditEntries()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		backend, _ := entry["backend"].(string)
		id, _ := entry["evidence_id"].(string)
		purpose, _ := entry["purpose"].(string)
		fmt.Printf("%-10s %-32s %s\n", backend, id, purpose)
	}
	return nil
}
