package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// ReportMeta is the machine-readable header of a job report document.
type ReportMeta struct {
	RunID    string
	Workflow string
	Job      string
	Status   string
	Started  time.Time
	Finished time.Time
	Notes    map[string]string
}

// StepSummary is one line of a job report body.
type StepSummary struct {
	Label    string
	Status   string
	ExitCode int
	Message  string
}

// WriteJobReport renders and stores a job report with YAML frontmatter.
func (s *Store) WriteJobReport(meta ReportMeta, steps []StepSummary) error {
	if meta.Finished.IsZero() {
		meta.Finished = s.now()
	}
	var body bytes.Buffer
	fmt.Fprintf(&body, "# %s\n\n", meta.Job)
	for _, step := range steps {
		if step.Message != "" {
			fmt.Fprintf(&body, "- [%s] %s: %s\n", step.Status, step.Label, step.Message)
		} else {
			fmt.Fprintf(&body, "- [%s] %s\n", step.Status, step.Label)
		}
	}
	doc, err := WriteFrontMatter(meta, body.Bytes())
	if err != nil {
		return err
	}
	path := s.ReportPath(meta.RunID, meta.Job)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: create job dir: %w", err)
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("artifact: write report: %w", err)
	}
	return nil
}

// ReadJobReport loads and parses a stored job report.
func (s *Store) ReadJobReport(runID, jobID string) (ReportMeta, []byte, error) {
	data, err := os.ReadFile(s.ReportPath(runID, jobID))
	if err != nil {
		return ReportMeta{}, nil, fmt.Errorf("artifact: read report: %w", err)
	}
	return ParseFrontMatter(data)
}

// ParseFrontMatter extracts the metadata block and body from a document that
// starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (ReportMeta, []byte, error) {
	if len(content) == 0 {
		return ReportMeta{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return ReportMeta{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return ReportMeta{}, nil, ErrMalformedFrontMatter
	}
	var envelope conveyorEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return ReportMeta{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMeta()
	if err != nil {
		return ReportMeta{}, nil, err
	}
	return meta, bytes.TrimLeft(parts[1], "\n"), nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta ReportMeta, body []byte) ([]byte, error) {
	if meta.RunID == "" {
		return nil, fmt.Errorf("artifact: report metadata missing run id")
	}
	if meta.Job == "" {
		return nil, fmt.Errorf("artifact: report metadata missing job id")
	}
	envelope := conveyorEnvelope{}
	envelope.fromMeta(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type conveyorEnvelope struct {
	Conveyor conveyorMeta `yaml:"conveyor"`
}

type conveyorMeta struct {
	Run      string            `yaml:"run"`
	Workflow string            `yaml:"workflow"`
	Job      string            `yaml:"job"`
	Status   string            `yaml:"status"`
	Started  string            `yaml:"started,omitempty"`
	Finished string            `yaml:"finished,omitempty"`
	Notes    map[string]string `yaml:"notes,omitempty"`
}

func (e *conveyorEnvelope) fromMeta(meta ReportMeta) {
	e.Conveyor = conveyorMeta{
		Run:      meta.RunID,
		Workflow: meta.Workflow,
		Job:      meta.Job,
		Status:   meta.Status,
		Notes:    meta.Notes,
	}
	if !meta.Started.IsZero() {
		e.Conveyor.Started = meta.Started.UTC().Format(time.RFC3339)
	}
	if !meta.Finished.IsZero() {
		e.Conveyor.Finished = meta.Finished.UTC().Format(time.RFC3339)
	}
}

func (e conveyorEnvelope) toMeta() (ReportMeta, error) {
	m := e.Conveyor
	if m.Run == "" {
		return ReportMeta{}, fmt.Errorf("artifact: frontmatter missing run id")
	}
	meta := ReportMeta{
		RunID:    m.Run,
		Workflow: m.Workflow,
		Job:      m.Job,
		Status:   m.Status,
		Notes:    m.Notes,
	}
	if m.Started != "" {
		ts, err := time.Parse(time.RFC3339, m.Started)
		if err != nil {
			return ReportMeta{}, fmt.Errorf("artifact: parse started timestamp: %w", err)
		}
		meta.Started = ts
	}
	if m.Finished != "" {
		ts, err := time.Parse(time.RFC3339, m.Finished)
		if err != nil {
			return ReportMeta{}, fmt.Errorf("artifact: parse finished timestamp: %w", err)
		}
		meta.Finished = ts
	}
	return meta, nil
}

func normalizeNewlines(content []byte) []byte {
	replaced := strings.ReplaceAll(string(content), "\r\n", "\n")
	return []byte(replaced)
}
