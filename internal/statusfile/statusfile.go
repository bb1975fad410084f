// Package statusfile parses and writes the daemon's human-editable
// status file: YAML frontmatter followed by a free-form markdown body.
package statusfile

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TTL is how long a status file's reported status remains valid; older
// files are treated as absent by callers.
const TTL = 5 * time.Minute

// Status is the coarse value a status file's frontmatter may declare.
type Status string

const (
	StatusWorking            Status = "working"
	StatusWaitingForApproval Status = "waiting_for_approval"
	StatusWaitingForInput    Status = "waiting_for_input"
	StatusCompleted          Status = "completed"
	StatusError              Status = "error"
	StatusBlocked            Status = "blocked"
	StatusIdle               Status = "idle"
)

// File is the parsed contents of a status.md file.
type File struct {
	Status    Status    `yaml:"status"`
	Updated   time.Time `yaml:"updated"`
	Task      string    `yaml:"task,omitempty"`
	Summary   string    `yaml:"summary,omitempty"`
	Blockers  []string  `yaml:"blockers,omitempty"`
	NextSteps []string  `yaml:"next_steps,omitempty"`
	Body      string    `yaml:"-"`
}

// Stale reports whether f's Updated timestamp is older than TTL as of now.
func (f File) Stale(now time.Time) bool {
	return now.Sub(f.Updated) > TTL
}

// frontmatter mirrors File's YAML-facing fields without Body, so
// Updated can round-trip through yaml.v3's time.Time support directly.
type frontmatter struct {
	Status    Status    `yaml:"status"`
	Updated   time.Time `yaml:"updated"`
	Task      string    `yaml:"task,omitempty"`
	Summary   string    `yaml:"summary,omitempty"`
	Blockers  []string  `yaml:"blockers,omitempty"`
	NextSteps []string  `yaml:"next_steps,omitempty"`
}

// Parse splits data into YAML frontmatter and markdown body and
// decodes the frontmatter. Parse failures are returned as an error;
// callers that must treat a bad file as merely absent should convert
// a non-nil error to a nil *File themselves.
func Parse(data []byte) (*File, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---") {
		return nil, fmt.Errorf("statusfile: missing frontmatter delimiter")
	}

	rest := text[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return nil, fmt.Errorf("statusfile: unterminated frontmatter")
	}

	fmBytes := rest[:end]
	body := rest[end+4:]
	body = strings.TrimPrefix(body, "\n")

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(fmBytes), &fm); err != nil {
		return nil, fmt.Errorf("statusfile: parse frontmatter: %w", err)
	}

	return &File{
		Status:    fm.Status,
		Updated:   fm.Updated,
		Task:      fm.Task,
		Summary:   fm.Summary,
		Blockers:  fm.Blockers,
		NextSteps: fm.NextSteps,
		Body:      body,
	}, nil
}

// Generate renders f back into the on-disk `--- ... ---` + markdown
// body format.
func Generate(f File) ([]byte, error) {
	fm := frontmatter{
		Status:    f.Status,
		Updated:   f.Updated,
		Task:      f.Task,
		Summary:   f.Summary,
		Blockers:  f.Blockers,
		NextSteps: f.NextSteps,
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("statusfile: marshal frontmatter: %w", err)
	}

	var out strings.Builder
	out.WriteString("---\n")
	out.Write(fmBytes)
	out.WriteString("---\n")
	out.WriteString(f.Body)
	return []byte(out.String()), nil
}
