// Package testutil provides shared test helpers for setting up cases,
// ledgers, and scripted confirmation.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/ledger"
	"github.com/halvard/caseward/internal/models"
	"github.com/halvard/caseward/internal/pinauth"
)

// TestCase initializes a case directory under t.TempDir and returns its store.
func TestCase(t *testing.T, caseID string) *casestore.Store {
	t.Helper()
	store, err := casestore.Init(t.TempDir(), models.CaseMeta{
		CaseID:    caseID,
		Name:      "test case",
		Status:    "open",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// TestLedger opens a verification ledger in a temporary directory.
func TestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	ldg, err := ledger.Open(t.TempDir() + "/verification")
	if err != nil {
		t.Fatal(err)
	}
	return ldg
}

// TestAuth returns a PIN store backed by a temporary config file.
func TestAuth(t *testing.T) *pinauth.Auth {
	t.Helper()
	return pinauth.New(t.TempDir() + "/config.yaml")
}

// StageFinding writes a draft finding directly into an examiner's namespace.
func StageFinding(t *testing.T, store *casestore.Store, examiner, title string) *models.Finding {
	t.Helper()
	doc, err := store.Findings(examiner)
	if err != nil {
		t.Fatal(err)
	}
	id, err := store.NextItemID(models.KindFinding, examiner)
	if err != nil {
		t.Fatal(err)
	}
	doc.Items = append(doc.Items, models.Finding{
		Lifecycle: models.Lifecycle{
			ID:        id,
			Examiner:  examiner,
			Status:    models.StatusDraft,
			CreatedAt: time.Now().UTC(),
		},
		Title:          title,
		Observation:    "observation for " + title,
		Interpretation: "interpretation for " + title,
		Confidence:     models.ConfidenceMedium,
	})
	if err := store.SaveFindings(doc); err != nil {
		t.Fatal(err)
	}
	return &doc.Items[len(doc.Items)-1]
}

// ScriptedConfirmer answers confirmation prompts from canned responses. It
// satisfies the approval.Confirmer interface without a terminal.
type ScriptedConfirmer struct {
	// Answers are consumed in order by Confirm.
	Answers []bool
	// Lines are consumed in order by ReadLine.
	Lines []string
	// Secrets are consumed in order by ReadSecret.
	Secrets []string

	Prompts []string
}

func (c *ScriptedConfirmer) Confirm(prompt string) (bool, error) {
	c.Prompts = append(c.Prompts, prompt)
	if len(c.Answers) == 0 {
		return false, fmt.Errorf("scripted confirmer: no answer for %q", prompt)
	}
	answer := c.Answers[0]
	c.Answers = c.Answers[1:]
	return answer, nil
}

func (c *ScriptedConfirmer) ReadLine(prompt string) (string, error) {
	c.Prompts = append(c.Prompts, prompt)
	if len(c.Lines) == 0 {
		return "", fmt.Errorf("scripted confirmer: no line for %q", prompt)
	}
	line := c.Lines[0]
	c.Lines = c.Lines[1:]
	return line, nil
}

func (c *ScriptedConfirmer) ReadSecret(prompt string) (string, error) {
	c.Prompts = append(c.Prompts, prompt)
	if len(c.Secrets) == 0 {
		return "", fmt.Errorf("scripted confirmer: no secret for %q", prompt)
	}
	secret := c.Secrets[0]
	c.Secrets = c.Secrets[1:]
	return secret, nil
}
