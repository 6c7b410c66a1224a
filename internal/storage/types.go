package storage

import "errors"

// Common storage errors
var (
	ErrInvalidPath    = errors.New("invalid object path")
	ErrInvalidKey     = errors.New("invalid object key")
	ErrInvalidRange   = errors.New("invalid range")
	ErrObjectNotFound = errors.New("object data not found")
)

// NullVersionID is the sentinel version maintained when versioning is not Enabled.
const NullVersionID = "null"

// Reserved sidecar and bookkeeping file names inside a bucket directory.
// None of these are addressable as object keys.
const (
	BucketMetadataFile = ".bucket_metadata"
	BucketACLFile      = ".bucket_acl"
	BucketPolicyFile   = ".bucket_policy"
	VersioningFile     = "versioning.json"
	PolicyFile         = "policy.json"
	UploadsDir         = ".uploads"
	UploadInfoFile     = "info.json"

	MetadataSuffix = ".metadata"
	ACLSuffix      = ".acl"
)

// WriteResult describes a completed streaming write.
type WriteResult struct {
	Size   int64
	SHA256 string
}
