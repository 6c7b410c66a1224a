package notifications

import (
	"fmt"
	"strings"
	"time"
)

// S3-style event names emitted by the storage core.
const (
	EventObjectCreatedPut               = "s3:ObjectCreated:Put"
	EventObjectCreatedPost              = "s3:ObjectCreated:Post"
	EventObjectCreatedCopy              = "s3:ObjectCreated:Copy"
	EventObjectCreatedCompleteMultipart = "s3:ObjectCreated:CompleteMultipartUpload"
	EventObjectRemovedDelete            = "s3:ObjectRemoved:Delete"
	EventObjectRemovedDeleteMarker      = "s3:ObjectRemoved:DeleteMarkerCreated"
	EventObjectTagging                  = "s3:ObjectTagging:Put"
	EventObjectACLPut                   = "s3:ObjectAcl:Put"
	EventObjectRestoreCompleted         = "s3:ObjectRestore:Completed"
	EventReplication                    = "s3:Replication:OperationCompletedReplication"
)

// BucketRef identifies the bucket an event happened in.
type BucketRef struct {
	Name    string `json:"name"`
	OwnerID string `json:"ownerId,omitempty"`
	ARN     string `json:"arn"`
}

// ObjectRef identifies the object an event is about.
type ObjectRef struct {
	Key       string `json:"key"`
	Size      int64  `json:"size,omitempty"`
	ETag      string `json:"eTag,omitempty"`
	VersionID string `json:"versionId,omitempty"`
	Sequencer string `json:"sequencer,omitempty"`
}

// Event is a single storage event handed to the dispatcher.
type Event struct {
	EventName   string    `json:"eventName"`
	EventTime   time.Time `json:"eventTime"`
	RequestID   string    `json:"requestId,omitempty"`
	PrincipalID string    `json:"principalId,omitempty"`
	SourceIP    string    `json:"sourceIp,omitempty"`
	Bucket      BucketRef `json:"bucket"`
	Object      ObjectRef `json:"object"`
}

// BucketARN renders the S3-style ARN for a bucket name.
func BucketARN(name string) string {
	return "arn:aws:s3:::" + name
}

// NewSequencer returns a monotonically increasing hex sequencer for
// per-key event ordering.
func NewSequencer() string {
	return fmt.Sprintf("%016X", time.Now().UnixNano())
}

// matchEventName matches a configured pattern against an event name.
// A trailing "*" matches any suffix, so "s3:ObjectCreated:*" covers every
// creation variant.
func matchEventName(pattern, name string) bool {
	if pattern == name || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
