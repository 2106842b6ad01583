// Package execaudit runs commands on the examiner's behalf with a terminal
// confirmation first and an audit record after, so ad-hoc tooling invoked
// during an investigation leaves the same trail as everything else.
package execaudit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/approval"
	"github.com/halvard/caseward/internal/casestore"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/identity"
)

const (
	auditBackend = "cli-exec"
	// DefaultTimeout bounds a confirmed command's wall clock. A command that
	// outlives it is killed and recorded as failed.
	DefaultTimeout = 10 * time.Minute

	snippetLimit = 4096
)

// Record is one audit line in audit/cli-exec.jsonl.
type Record struct {
	EvidenceID string    `json:"evidence_id"`
	Purpose    string    `json:"purpose"`
	Command    []string  `json:"command"`
	Examiner   string    `json:"examiner"`
	OSUser     string    `json:"os_user"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
	TimedOut   bool      `json:"timed_out,omitempty"`

	// OutputSHA256 covers the full combined output; OutputSnippet keeps the
	// leading bytes inline for quick review.
	OutputSHA256  string `json:"output_sha256"`
	OutputSnippet string `json:"output_snippet,omitempty"`
}

// Runner executes confirmed commands for one case.
type Runner struct {
	Store   *casestore.Store
	ID      identity.Identity
	Confirm approval.Confirmer
	Timeout time.Duration
}

// Run confirms, executes, and records one command. The returned record is
// written to the audit trail even when the command fails; only a refusal to
// confirm or an audit-write failure returns without a record.
func (r *Runner) Run(ctx context.Context, purpose string, argv []string) (*Record, error) {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return nil, fmt.Errorf("%w: a purpose is required", apperr.ErrValidation)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: no command given", apperr.ErrValidation)
	}
	ok, err := r.Confirm.Confirm(fmt.Sprintf("Run %q for %q as %s? [y/N]: ", strings.Join(argv, " "), purpose, r.ID.Examiner))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: execution not confirmed", apperr.ErrAuth)
	}

	id, err := r.nextEvidenceID()
	if err != nil {
		return nil, err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	rec := &Record{
		EvidenceID: id,
		Purpose:    purpose,
		Command:    argv,
		Examiner:   r.ID.Examiner,
		OSUser:     r.ID.OSUser,
		StartedAt:  start.UTC(),
		DurationMS: elapsed.Milliseconds(),
		Success:    runErr == nil,
		TimedOut:   errors.Is(runCtx.Err(), context.DeadlineExceeded),
	}
	if rec.TimedOut {
		rec.Success = false
	}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		rec.ExitCode = 0
	case errors.As(runErr, &exitErr):
		rec.ExitCode = exitErr.ExitCode()
	default:
		rec.ExitCode = -1
	}
	rec.OutputSHA256 = checksum.Sum(output.Bytes())
	snippet := output.Bytes()
	if len(snippet) > snippetLimit {
		snippet = snippet[:snippetLimit]
	}
	rec.OutputSnippet = string(snippet)

	if err := r.Store.AppendAudit(auditBackend, rec); err != nil {
		return nil, err
	}
	if runErr != nil && !rec.TimedOut {
		return rec, fmt.Errorf("execaudit: command failed (exit %d), recorded as %s", rec.ExitCode, rec.EvidenceID)
	}
	if rec.TimedOut {
		return rec, fmt.Errorf("execaudit: command exceeded %s and was killed, recorded as %s", timeout, rec.EvidenceID)
	}
	return rec, nil
}

// nextEvidenceID allocates cliexec-<examiner>-<yyyymmdd>-NNN, scanning the
// existing trail so numbers are never reused within a day.
func (r *Runner) nextEvidenceID() (string, error) {
	entries, err := r.Store.AuditEntries()
	if err != nil {
		return "", err
	}
	prefix := fmt.Sprintf("cliexec-%s-%s-", r.ID.Examiner, time.Now().UTC().Format("20060102"))
	max := 0
	for _, e := range entries {
		id, _ := e["evidence_id"].(string)
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if n, err := strconv.Atoi(id[len(prefix):]); err == nil && n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, max+1), nil
}
