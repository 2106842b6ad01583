// Package casestore implements the durable, file-backed case store.
//
// Layout:
//
//	<case>/CASE.yaml                   case metadata
//	<case>/approvals.jsonl             append-only approval records
//	<case>/evidence_access.jsonl       append-only evidence access log
//	<case>/audit/*.jsonl               per-backend audit trails
//	<case>/evidence/                   registered evidence files
//	<case>/examiners/<name>/           per-examiner namespace:
//	    findings.json timeline.json todos.json evidence.json
//
// Documents are written atomically (temp file, fsync, rename) so concurrent
// readers on a shared filesystem never observe a partial write. Saves detect
// stale reads via the checksum captured at load time.
package casestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halvard/caseward/internal/apperr"
	"github.com/halvard/caseward/internal/checksum"
	"github.com/halvard/caseward/internal/models"
)

const (
	metaFile      = "CASE.yaml"
	approvalsFile = "approvals.jsonl"
	accessFile    = "evidence_access.jsonl"
	auditDir      = "audit"
	examinersDir  = "examiners"
	evidenceDir   = "evidence"

	findingsFile = "findings.json"
	timelineFile = "timeline.json"
	todosFile    = "todos.json"
	registryFile = "evidence.json"
)

var examinerRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,19}$`)

// ValidateExaminer checks an examiner slug: lowercase alphanumeric plus
// hyphens, max 20 characters. Also guards against path traversal through
// crafted identity values.
func ValidateExaminer(examiner string) error {
	if !examinerRe.MatchString(examiner) {
		return fmt.Errorf("%w: invalid examiner slug %q", apperr.ErrValidation, examiner)
	}
	return nil
}

func ValidateCaseID(caseID string) error {
	if caseID == "" {
		return fmt.Errorf("%w: case id cannot be empty", apperr.ErrValidation)
	}
	if strings.Contains(caseID, "..") || strings.ContainsAny(caseID, `/\`) {
		return fmt.Errorf("%w: invalid case id %q", apperr.ErrValidation, caseID)
	}
	return nil
}

// Store is a handle on one case directory.
type Store struct {
	root string
}

// Open opens an existing case directory.
func Open(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("casestore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no case at %s", apperr.ErrNotFound, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("casestore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("casestore: root is not a directory: %s", abs)
	}
	return &Store{root: abs}, nil
}

// Init creates a case directory with its metadata and returns a Store.
func Init(root string, meta models.CaseMeta) (*Store, error) {
	if err := ValidateCaseID(meta.CaseID); err != nil {
		return nil, err
	}
	for _, d := range []string{root, filepath.Join(root, auditDir), filepath.Join(root, examinersDir), filepath.Join(root, evidenceDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("casestore: init: %w", err)
		}
	}
	s, err := Open(root)
	if err != nil {
		return nil, err
	}
	if err := s.SaveMeta(meta); err != nil {
		return nil, err
	}
	return s, nil
}

// Resolve locates the active case directory: explicit flag value first, then
// the CASEWARD_CASE_DIR environment variable, then the .caseward/active_case
// pointer file in the working directory.
func Resolve(caseID string) (*Store, error) {
	if caseID != "" {
		if err := ValidateCaseID(caseID); err != nil {
			return nil, err
		}
		casesDir := os.Getenv("CASEWARD_CASES_DIR")
		if casesDir == "" {
			casesDir = "cases"
		}
		return Open(filepath.Join(casesDir, caseID))
	}
	if dir := os.Getenv("CASEWARD_CASE_DIR"); dir != "" {
		return Open(dir)
	}
	pointer := filepath.Join(".caseward", "active_case")
	if data, err := os.ReadFile(pointer); err == nil {
		id := strings.TrimSpace(string(data))
		if err := ValidateCaseID(id); err != nil {
			return nil, err
		}
		casesDir := os.Getenv("CASEWARD_CASES_DIR")
		if casesDir == "" {
			casesDir = "cases"
		}
		return Open(filepath.Join(casesDir, id))
	}
	return nil, fmt.Errorf("%w: no active case; use --case or set CASEWARD_CASE_DIR", apperr.ErrValidation)
}

// Root returns the absolute case directory path.
func (s *Store) Root() string { return s.root }

// EvidenceDir returns the directory holding registered evidence files.
func (s *Store) EvidenceDir() string { return filepath.Join(s.root, evidenceDir) }

// Meta loads CASE.yaml. A missing file yields a zero CaseMeta with the
// directory name as case id.
func (s *Store) Meta() (models.CaseMeta, error) {
	var meta models.CaseMeta
	data, err := os.ReadFile(filepath.Join(s.root, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		meta.CaseID = filepath.Base(s.root)
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("casestore: read %s: %w", metaFile, err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("casestore: parse %s: %w", metaFile, err)
	}
	if meta.CaseID == "" {
		meta.CaseID = filepath.Base(s.root)
	}
	return meta, nil
}

// SaveMeta writes CASE.yaml atomically.
func (s *Store) SaveMeta(meta models.CaseMeta) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("casestore: marshal %s: %w", metaFile, err)
	}
	return atomicWrite(filepath.Join(s.root, metaFile), data, 0o644)
}

// Examiners lists the examiner namespaces present in the case.
func (s *Store) Examiners() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, examinersDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("casestore: list examiners: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) namespacePath(examiner, file string) (string, error) {
	if err := ValidateExaminer(examiner); err != nil {
		return "", err
	}
	return filepath.Join(s.root, examinersDir, examiner, file), nil
}

// Doc is a loaded JSON document plus the checksum captured at load time.
// Save refuses to overwrite a file that changed since the load (stale read).
type Doc[T any] struct {
	Examiner string
	Items    []T

	path      string
	loadedSum string
}

func loadDoc[T any](s *Store, examiner, file string) (*Doc[T], error) {
	path, err := s.namespacePath(examiner, file)
	if err != nil {
		return nil, err
	}
	doc := &Doc[T]{Examiner: examiner, path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("casestore: read %s: %w", file, err)
	}
	doc.loadedSum = checksum.Sum(data)
	if err := json.Unmarshal(data, &doc.Items); err != nil {
		return nil, fmt.Errorf("casestore: parse %s for %s: %w", file, examiner, err)
	}
	return doc, nil
}

func saveDoc[T any](doc *Doc[T]) error {
	// Stale-read detection: the file must not have changed since the load.
	current, err := os.ReadFile(doc.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if doc.loadedSum != "" {
			return fmt.Errorf("%w: %s removed since load", apperr.ErrConflict, filepath.Base(doc.path))
		}
	case err != nil:
		return fmt.Errorf("casestore: stat %s: %w", doc.path, err)
	default:
		if checksum.Sum(current) != doc.loadedSum {
			return fmt.Errorf("%w: %s changed since load", apperr.ErrConflict, filepath.Base(doc.path))
		}
	}

	data, err := json.MarshalIndent(doc.Items, "", "  ")
	if err != nil {
		return fmt.Errorf("casestore: marshal %s: %w", doc.path, err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(doc.path), 0o755); err != nil {
		return fmt.Errorf("casestore: mkdir: %w", err)
	}
	if err := atomicWrite(doc.path, data, 0o644); err != nil {
		return err
	}
	doc.loadedSum = checksum.Sum(data)
	return nil
}

// Findings loads the findings document for one examiner namespace.
func (s *Store) Findings(examiner string) (*Doc[models.Finding], error) {
	return loadDoc[models.Finding](s, examiner, findingsFile)
}

// SaveFindings writes a findings document back, failing with ErrConflict on
// a stale read.
func (s *Store) SaveFindings(doc *Doc[models.Finding]) error { return saveDoc(doc) }

// Timeline loads the timeline document for one examiner namespace.
func (s *Store) Timeline(examiner string) (*Doc[models.TimelineEvent], error) {
	return loadDoc[models.TimelineEvent](s, examiner, timelineFile)
}

// SaveTimeline writes a timeline document back.
func (s *Store) SaveTimeline(doc *Doc[models.TimelineEvent]) error { return saveDoc(doc) }

// Todos loads the TODO document for one examiner namespace.
func (s *Store) Todos(examiner string) (*Doc[models.TodoItem], error) {
	return loadDoc[models.TodoItem](s, examiner, todosFile)
}

// SaveTodos writes a TODO document back.
func (s *Store) SaveTodos(doc *Doc[models.TodoItem]) error { return saveDoc(doc) }

// Evidence loads the evidence registry for one examiner namespace.
func (s *Store) Evidence(examiner string) (*Doc[models.EvidenceRecord], error) {
	return loadDoc[models.EvidenceRecord](s, examiner, registryFile)
}

// SaveEvidence writes an evidence registry back.
func (s *Store) SaveEvidence(doc *Doc[models.EvidenceRecord]) error { return saveDoc(doc) }

// ParseItemID splits a namespaced id like F-alice-001 or T-jane-doe-012 into
// kind and examiner. Sequence digits are validated but not returned.
func ParseItemID(id string) (models.Kind, string, error) {
	prefix, rest, ok := strings.Cut(id, "-")
	if !ok {
		return "", "", fmt.Errorf("%w: malformed item id %q", apperr.ErrValidation, id)
	}
	var kind models.Kind
	switch prefix {
	case "F":
		kind = models.KindFinding
	case "T":
		kind = models.KindTimeline
	default:
		return "", "", fmt.Errorf("%w: unknown item id prefix %q", apperr.ErrValidation, id)
	}
	i := strings.LastIndex(rest, "-")
	if i <= 0 {
		return "", "", fmt.Errorf("%w: malformed item id %q", apperr.ErrValidation, id)
	}
	examiner, seq := rest[:i], rest[i+1:]
	if _, err := strconv.Atoi(seq); err != nil {
		return "", "", fmt.Errorf("%w: malformed item id %q", apperr.ErrValidation, id)
	}
	if err := ValidateExaminer(examiner); err != nil {
		return "", "", err
	}
	return kind, examiner, nil
}

// NextItemID allocates the next id in an examiner namespace. Ids are never
// reused: the scan covers all items regardless of status, and rejected items
// are never removed.
func (s *Store) NextItemID(kind models.Kind, examiner string) (string, error) {
	if err := ValidateExaminer(examiner); err != nil {
		return "", err
	}
	prefix := "F"
	if kind == models.KindTimeline {
		prefix = "T"
	}
	max := 0
	scan := func(id string) {
		want := prefix + "-" + examiner + "-"
		if !strings.HasPrefix(id, want) {
			return
		}
		if n, err := strconv.Atoi(id[len(want):]); err == nil && n > max {
			max = n
		}
	}
	switch kind {
	case models.KindFinding:
		doc, err := s.Findings(examiner)
		if err != nil {
			return "", err
		}
		for _, f := range doc.Items {
			scan(f.ID)
		}
	case models.KindTimeline:
		doc, err := s.Timeline(examiner)
		if err != nil {
			return "", err
		}
		for _, e := range doc.Items {
			scan(e.ID)
		}
	}
	return fmt.Sprintf("%s-%s-%03d", prefix, examiner, max+1), nil
}

// NextTodoID allocates the next TODO id in an examiner namespace.
func (s *Store) NextTodoID(examiner string) (string, error) {
	doc, err := s.Todos(examiner)
	if err != nil {
		return "", err
	}
	prefix := "TODO-" + examiner + "-"
	max := 0
	for _, t := range doc.Items {
		if strings.HasPrefix(t.ID, prefix) {
			if n, err := strconv.Atoi(t.ID[len(prefix):]); err == nil && n > max {
				max = n
			}
		}
	}
	return fmt.Sprintf("TODO-%s-%03d", examiner, max+1), nil
}
