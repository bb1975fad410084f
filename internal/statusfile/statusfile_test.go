package statusfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	data := []byte("---\nstatus: working\nupdated: 2026-07-30T12:00:00Z\ntask: ship the gateway\n---\nworking on it\n")

	f, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, StatusWorking, f.Status)
	assert.Equal(t, "ship the gateway", f.Task)
	assert.Equal(t, "working on it\n", f.Body)
	assert.True(t, f.Updated.Equal(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)))
}

func TestParse_MissingDelimiterErrors(t *testing.T) {
	_, err := Parse([]byte("status: working\n"))
	assert.Error(t, err)
}

func TestParse_UnterminatedFrontmatterErrors(t *testing.T) {
	_, err := Parse([]byte("---\nstatus: working\n"))
	assert.Error(t, err)
}

func TestStale_OlderThanTTL(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := File{Updated: now.Add(-6 * time.Minute)}
	assert.True(t, f.Stale(now))

	f.Updated = now.Add(-1 * time.Minute)
	assert.False(t, f.Stale(now))
}

func TestGenerateThenParse_RoundTrips(t *testing.T) {
	f := File{
		Status:    StatusWaitingForInput,
		Updated:   time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC),
		Task:      "review PR",
		Summary:   "needs another pass",
		Blockers:  []string{"ci flaky"},
		NextSteps: []string{"rerun ci", "re-review"},
		Body:      "## Notes\nall good\n",
	}

	data, err := Generate(f)
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, f.Status, got.Status)
	assert.True(t, f.Updated.Equal(got.Updated))
	assert.Equal(t, f.Task, got.Task)
	assert.Equal(t, f.Summary, got.Summary)
	assert.Equal(t, f.Blockers, got.Blockers)
	assert.Equal(t, f.NextSteps, got.NextSteps)
	assert.Equal(t, f.Body, got.Body)
}
