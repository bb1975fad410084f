package briefing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BlockListForm(t *testing.T) {
	data := []byte(`---
schema: status.v5
project_id: proj-1
session_id: sess-1
status: completed
impact_level: moderate
broadcast_level: mention
doc_drift_risk: low
blockers:
  - flaky test
  - waiting on review
next_steps:
  - merge
---
`)
	f := Parse(data)
	require.NotNil(t, f)
	assert.Equal(t, "proj-1", f.ProjectID)
	assert.Equal(t, ImpactModerate, f.ImpactLevel)
	assert.Equal(t, []string{"flaky test", "waiting on review"}, f.Blockers)
	assert.Equal(t, []string{"merge"}, f.NextSteps)
}

func TestParse_InlineArrayForm(t *testing.T) {
	data := []byte(`---
schema: status.v5
status: completed
impact_level: trivial
broadcast_level: silent
doc_drift_risk: low
blockers: [flaky test, waiting on review]
files_touched: [a.go, b.go]
---
`)
	f := Parse(data)
	require.NotNil(t, f)
	assert.Equal(t, []string{"flaky test", "waiting on review"}, f.Blockers)
	assert.Equal(t, []string{"a.go", "b.go"}, f.FilesTouched)
}

func TestParse_WrongSchemaYieldsNil(t *testing.T) {
	data := []byte("---\nschema: status.v4\nstatus: completed\n---\n")
	assert.Nil(t, Parse(data))
}

func TestParse_MalformedYAMLYieldsNil(t *testing.T) {
	data := []byte("---\nschema: status.v5\nblockers: [unterminated\n---\n")
	assert.Nil(t, Parse(data))
}

func TestGenerateThenParse_RoundTrips(t *testing.T) {
	started := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	ended := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	f := File{
		ProjectID:      "proj-1",
		RepoName:       "mimesis",
		SessionID:      "sess-1",
		TaskID:         "task-1",
		Status:         "completed",
		StartedAt:      &started,
		EndedAt:        &ended,
		ImpactLevel:    ImpactMajor,
		BroadcastLevel: BroadcastHighlight,
		DocDriftRisk:   DocDriftHigh,
		BaseCommit:     "abc123",
		HeadCommit:     "def456",
		Blockers:       []string{"needs migration"},
		NextSteps:      []string{"deploy"},
		DocsTouched:    []string{"README.md"},
		FilesTouched:   []string{"main.go"},
	}

	data, err := Generate(f)
	require.NoError(t, err)

	got := Parse(data)
	require.NotNil(t, got)
	assert.Equal(t, f.ProjectID, got.ProjectID)
	assert.Equal(t, f.ImpactLevel, got.ImpactLevel)
	assert.Equal(t, f.BroadcastLevel, got.BroadcastLevel)
	assert.Equal(t, f.DocDriftRisk, got.DocDriftRisk)
	assert.Equal(t, f.Blockers, got.Blockers)
	assert.Equal(t, f.NextSteps, got.NextSteps)
	assert.Equal(t, f.DocsTouched, got.DocsTouched)
	assert.Equal(t, f.FilesTouched, got.FilesTouched)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.EndedAt)
	assert.True(t, f.StartedAt.Equal(*got.StartedAt))
	assert.True(t, f.EndedAt.Equal(*got.EndedAt))
}
