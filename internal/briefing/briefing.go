// Package briefing parses and generates status.v5 handoff briefing
// files: YAML frontmatter describing a completed unit of work, with no
// markdown body. Parse failures yield a nil File rather than an error,
// matching the daemon's policy of never letting a malformed briefing
// abort the watcher.
package briefing

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Schema is the only frontmatter `schema` value this package accepts.
const Schema = "status.v5"

// ImpactLevel classifies how significant a unit of work was.
type ImpactLevel string

const (
	ImpactTrivial  ImpactLevel = "trivial"
	ImpactMinor    ImpactLevel = "minor"
	ImpactModerate ImpactLevel = "moderate"
	ImpactMajor    ImpactLevel = "major"
)

// BroadcastLevel classifies how loudly a briefing should be surfaced.
type BroadcastLevel string

const (
	BroadcastSilent    BroadcastLevel = "silent"
	BroadcastMention   BroadcastLevel = "mention"
	BroadcastHighlight BroadcastLevel = "highlight"
)

// DocDriftRisk classifies how likely a change is to have left docs stale.
type DocDriftRisk string

const (
	DocDriftLow    DocDriftRisk = "low"
	DocDriftMedium DocDriftRisk = "medium"
	DocDriftHigh   DocDriftRisk = "high"
)

// File is a fully parsed status.v5 briefing.
type File struct {
	Schema         string         `yaml:"schema"`
	ProjectID      string         `yaml:"project_id,omitempty"`
	RepoName       string         `yaml:"repo_name,omitempty"`
	RepoRoot       string         `yaml:"repo_root,omitempty"`
	GitRemote      string         `yaml:"git_remote,omitempty"`
	Branch         string         `yaml:"branch,omitempty"`
	SessionID      string         `yaml:"session_id,omitempty"`
	TaskID         string         `yaml:"task_id,omitempty"`
	Status         string         `yaml:"status"`
	StartedAt      *time.Time     `yaml:"started_at,omitempty"`
	EndedAt        *time.Time     `yaml:"ended_at,omitempty"`
	ImpactLevel    ImpactLevel    `yaml:"impact_level"`
	BroadcastLevel BroadcastLevel `yaml:"broadcast_level"`
	DocDriftRisk   DocDriftRisk   `yaml:"doc_drift_risk"`
	BaseCommit     string         `yaml:"base_commit,omitempty"`
	HeadCommit     string         `yaml:"head_commit,omitempty"`
	Blockers       []string       `yaml:"blockers,omitempty"`
	NextSteps      []string       `yaml:"next_steps,omitempty"`
	DocsTouched    []string       `yaml:"docs_touched,omitempty"`
	FilesTouched   []string       `yaml:"files_touched,omitempty"`
}

// Parse decodes a status.v5 briefing. It returns nil — never an
// error — on any parse failure or schema mismatch, per the daemon's
// policy that a malformed briefing is simply absent, never fatal.
func Parse(data []byte) *File {
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, "---")
	if idx := strings.LastIndex(text, "---"); idx >= 0 {
		text = text[:idx]
	}

	var f File
	if err := yaml.Unmarshal([]byte(text), &f); err != nil {
		return nil
	}
	if f.Schema != Schema {
		return nil
	}
	return &f
}

// Generate renders f as a status.v5 frontmatter block.
func Generate(f File) ([]byte, error) {
	f.Schema = Schema
	body, err := yaml.Marshal(f)
	if err != nil {
		return nil, err
	}

	var out strings.Builder
	out.WriteString("---\n")
	out.Write(body)
	out.WriteString("---\n")
	return []byte(out.String()), nil
}
