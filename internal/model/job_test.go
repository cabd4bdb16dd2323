package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"queued":       "queued",
		"Queued ":      "queued",
		"IN PROGRESS":  "inprogress",
		"in_progress":  "inprogress",
		"In-Progress":  "inprogress",
		"ai_started":   "aistarted",
		"AI Started!!": "aistarted",
		"":             "",
		"123":          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeStatus(in), "input %q", in)
	}
}

func TestMatchStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want JobStatus
	}{
		{"queued", JobStatusQueued},
		{"Pending", JobStatusQueued},
		{"SUBMITTED", JobStatusQueued},
		{"in progress", JobStatusProcessing},
		{"In_Progress", JobStatusProcessing},
		{"claimed", JobStatusProcessing},
		{"ai-started", JobStatusAIStarted},
		{"AI STARTED", JobStatusAIStarted},
		{"Completed", JobStatusComplete},
		{"done", JobStatusComplete},
		{"errored", JobStatusFailed},
	}
	for _, tc := range cases {
		got, ok := MatchStatus(tc.raw)
		require.True(t, ok, "raw %q", tc.raw)
		assert.Equal(t, tc.want, got, "raw %q", tc.raw)
	}

	_, ok := MatchStatus("abandoned")
	assert.False(t, ok)
}

func TestStatusVariants_NormalizedAndDeduped(t *testing.T) {
	variants := StatusVariants(JobStatusProcessing)
	seen := map[string]bool{}
	for _, v := range variants {
		assert.Equal(t, NormalizeStatus(v), v, "variants come pre-normalized")
		assert.False(t, seen[v], "duplicate variant %q", v)
		seen[v] = true
	}
	assert.Contains(t, variants, "inprogress")
	assert.Contains(t, variants, "processing")
}

func TestTerminal(t *testing.T) {
	assert.True(t, JobStatusComplete.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.False(t, JobStatusAIStarted.Terminal())
}
