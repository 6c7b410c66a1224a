package object

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stratafs/stratafs/internal/metadata"
)

// SSE algorithms accepted in put options.
const (
	SSEAlgorithmAES256 = "AES256"
	SSEAlgorithmKMS    = "aws:kms"
)

// PutOptions carries the optional attributes of a put.
type PutOptions struct {
	ContentType  string
	StorageClass metadata.StorageClass
	Metadata     map[string]string
	Tags         map[string]string
	SSEAlgorithm string
	SSEKeyID     string
	// ACL is a canned ACL name ("private", "public-read", ...) applied to
	// the new version. Empty leaves the owner's default ACL in place.
	ACL string
}

// CopyOptions carries the optional attributes of a server-side copy.
type CopyOptions struct {
	// ReplaceMetadata switches from COPY to REPLACE semantics for user
	// metadata and content type.
	ReplaceMetadata bool
	ContentType     string
	Metadata        map[string]string
	Tags            map[string]string
}

// Range is an inclusive byte range request.
type Range struct {
	Start int64
	End   int64
}

// DeleteResult describes the outcome of a single delete.
type DeleteResult struct {
	// VersionID of the removed version, or of the created delete marker.
	VersionID string
	// DeleteMarker is true when the delete created a marker instead of
	// removing data.
	DeleteMarker bool
}

// DeleteItem identifies one object in a batch delete.
type DeleteItem struct {
	Key       string
	VersionID string
}

// DeleteItemResult is the per-item outcome of a batch delete. Err is nil
// for items that were deleted (or marker-deleted) successfully.
type DeleteItemResult struct {
	Key          string
	VersionID    string
	DeleteMarker bool
	Err          error
}

// UploadInfo is the info.json record of an in-progress multipart upload.
type UploadInfo struct {
	UploadID     string                `json:"upload_id"`
	Bucket       string                `json:"bucket"`
	Key          string                `json:"key"`
	Owner        string                `json:"owner,omitempty"`
	ContentType  string                `json:"content_type,omitempty"`
	StorageClass metadata.StorageClass `json:"storage_class,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	Tags         map[string]string     `json:"tags,omitempty"`
	SSEAlgorithm string                `json:"sse_algorithm,omitempty"`
	SSEKeyID     string                `json:"sse_key_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Part is one staged multipart part.
type Part struct {
	PartNumber   int       `json:"part_number"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
}

// CompletePart is the caller-supplied (number, etag) pair of a complete
// request.
type CompletePart struct {
	PartNumber int
	ETag       string
}

// IntegrityResult is the outcome of an integrity verification.
type IntegrityResult struct {
	Bucket         string
	Key            string
	VersionID      string
	IsValid        bool
	BitrotDetected bool
	StoredChecksum string
	ActualChecksum string
	CheckedAt      time.Time
}

// newVersionID mints a version ID. UUIDs keep IDs unique without any
// coordination; dashes are stripped so IDs stay path-safe and compact.
func newVersionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewUploadID mints a multipart upload ID.
func NewUploadID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
