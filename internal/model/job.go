package model

import (
	"strings"
	"time"
)

// JobStatus is the canonical lifecycle state of a job. All writes use these
// spellings; reads tolerate historical drift via MatchStatus.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusAIStarted  JobStatus = "ai_started"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// statusVariants maps each canonical state to the spellings observed in
// historical job rows. Matching is done on the normalized form (lowercased,
// letters only), so "In-Progress" and "in_progress" both hit the same entry.
var statusVariants = map[JobStatus][]string{
	JobStatusQueued:     {"queued", "pending", "new", "submitted"},
	JobStatusProcessing: {"processing", "in progress", "in_progress", "started", "claimed"},
	JobStatusAIStarted:  {"ai_started", "ai-started", "extracting", "ai started"},
	JobStatusComplete:   {"complete", "completed", "done", "finished"},
	JobStatusFailed:     {"failed", "error", "errored"},
}

// NormalizeStatus reduces a stored status string to lowercase letters only,
// discarding case and punctuation drift.
func NormalizeStatus(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchStatus resolves a stored status string to its canonical state.
// Returns false for values outside every known variant set.
func MatchStatus(raw string) (JobStatus, bool) {
	norm := NormalizeStatus(raw)
	for status, variants := range statusVariants {
		for _, v := range variants {
			if NormalizeStatus(v) == norm {
				return status, true
			}
		}
	}
	return "", false
}

// StatusVariants returns the normalized spellings that may represent the
// given canonical state in stored data. Used by the store to build
// drift-tolerant selection predicates.
func StatusVariants(status JobStatus) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range statusVariants[status] {
		norm := NormalizeStatus(v)
		if !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	}
	return out
}

// Terminal reports whether the state admits no further pipeline transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job is one customer estimate request. Created by the intake collaborator
// in the queued state; claimed, advanced, and finalized by this worker.
type Job struct {
	ID           string    `json:"id"`
	CustomerName string    `json:"customer_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	DocumentURLs []string  `json:"document_urls,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`

	Status          JobStatus  `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	AIStartedAt     *time.Time `json:"ai_started_at,omitempty"`
	AICompletedAt   *time.Time `json:"ai_completed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	EmailSentAt     *time.Time `json:"email_sent_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	EmailError      string     `json:"email_error,omitempty"`
	ConfigVersionID string     `json:"config_version_id,omitempty"`

	Estimate         *Estimate      `json:"estimate,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	UnmappedItems    []UnmappedItem `json:"unmapped_items,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
