package batch

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a batch job.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusPreparing  Status = "Preparing"
	StatusReady      Status = "Ready"
	StatusActive     Status = "Active"
	StatusPaused     Status = "Paused"
	StatusCancelling Status = "Cancelling"
	StatusComplete   Status = "Complete"
	StatusFailed     Status = "Failed"
	StatusCancelled  Status = "Cancelled"
)

// Operations a batch job can perform.
const (
	OperationDelete    = "delete"
	OperationCopy      = "copy"
	OperationRetag     = "retag"
	OperationRetention = "retention"
)

// Common errors
var (
	ErrJobNotFound       = errors.New("batch job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// maxFailureReasons caps the per-item failure messages kept on a job
// record so a huge manifest cannot bloat the ledger.
const maxFailureReasons = 10

// legalTransitions maps each state to the states it may move to.
// Terminal states have no outgoing edges.
var legalTransitions = map[Status][]Status{
	StatusPending:    {StatusPreparing},
	StatusPreparing:  {StatusReady},
	StatusReady:      {StatusActive},
	StatusActive:     {StatusComplete, StatusFailed, StatusCancelled, StatusPaused, StatusCancelling},
	StatusPaused:     {StatusActive},
	StatusCancelling: {StatusCancelled},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a job in this state can never change again.
func (s Status) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// Progress counts the manifest items a job has worked through.
type Progress struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Job is one batch operation over a set of keys. The manifest is carried
// inline: Keys lists the exact items, or Prefix selects them at
// submission time.
type Job struct {
	ID        string   `json:"id"`
	Bucket    string   `json:"bucket"`
	Operation string   `json:"operation"`
	Prefix    string   `json:"prefix,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	Priority  int      `json:"priority,omitempty"`

	// Operation parameters (target bucket for copies, tag set for
	// retagging, and so on).
	Params map[string]string `json:"params,omitempty"`

	Status         Status    `json:"status"`
	Progress       Progress  `json:"progress"`
	Error          string    `json:"error,omitempty"`
	FailureReasons []string  `json:"failure_reasons,omitempty"`
	Submitter      string    `json:"submitter,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
