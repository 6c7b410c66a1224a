package audit

import "time"

// Outcomes of an audited operation.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Entry is one audit record.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor,omitempty"`
	Action    string    `json:"action"`
	Bucket    string    `json:"bucket,omitempty"`
	Key       string    `json:"key,omitempty"`
	VersionID string    `json:"version_id,omitempty"`
	Outcome   string    `json:"outcome"`
	ErrorCode string    `json:"error_code,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Filter narrows a ledger query. Zero fields match everything.
type Filter struct {
	Actor  string
	Action string
	Bucket string
	Since  time.Time
	Until  time.Time

	// Cursor is the opaque continuation token from a previous page.
	Cursor string
	Limit  int
}

// Page is one page of ledger results, newest first. NextCursor is empty
// on the last page.
type Page struct {
	Entries    []*Entry
	NextCursor string
}
