package metadata

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrBucketAlreadyExists = errors.New("bucket already exists")
	ErrBucketNotEmpty      = errors.New("bucket not empty")
	ErrObjectNotFound      = errors.New("object not found")
	ErrVersionNotFound     = errors.New("version not found")
	ErrInvalidBucketName   = errors.New("invalid bucket name")
	ErrNoSuchBucketPolicy  = errors.New("no such bucket policy")
	ErrCorruptSidecar      = errors.New("corrupt metadata sidecar")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Store is the persistent sidecar index consulted by the storage façade.
type Store interface {
	// ==================== Bucket Operations ====================

	CreateBucket(ctx context.Context, bucket *BucketMetadata) error
	GetBucket(ctx context.Context, name string) (*BucketMetadata, error)
	UpdateBucket(ctx context.Context, bucket *BucketMetadata) error

	// DeleteBucket removes a bucket directory. It fails with
	// ErrBucketNotEmpty while any non-reserved entry remains.
	DeleteBucket(ctx context.Context, name string) error

	ListBuckets(ctx context.Context) ([]*BucketMetadata, error)
	BucketExists(ctx context.Context, name string) (bool, error)

	// ==================== Object Metadata ====================

	// GetObject returns the record for a specific version, delete markers
	// included. With an empty versionID it resolves the latest record and
	// fails ErrObjectNotFound when that record is a delete marker.
	GetObject(ctx context.Context, bucket, key, versionID string) (*ObjectMetadata, error)

	// GetLatest returns whichever record is latest, delete marker or not.
	GetLatest(ctx context.Context, bucket, key string) (*ObjectMetadata, error)

	// SaveObject persists a version record. When obj.IsLatest is set, the
	// prior latest of the same key is demoted in the same critical section.
	SaveObject(ctx context.Context, obj *ObjectMetadata) error

	// DeleteObject removes one version record (and its ACL sidecar). If the
	// removed record was latest, the next most recent version is promoted.
	DeleteObject(ctx context.Context, bucket, key, versionID string) error

	// ListKeyVersions returns every record for one key, newest first.
	ListKeyVersions(ctx context.Context, bucket, key string) ([]*ObjectMetadata, error)

	// ==================== Listing ====================

	ListObjects(ctx context.Context, opts ListOptions) (*ListResult, error)
	ListObjectVersions(ctx context.Context, opts ListVersionsOptions) (*ListVersionsResult, error)

	// ==================== Bucket Configs ====================

	GetVersioning(ctx context.Context, bucket string) (*VersioningMetadata, error)
	PutVersioning(ctx context.Context, bucket string, cfg *VersioningMetadata) error

	GetBucketACL(ctx context.Context, bucket string) (*ACLMetadata, error)
	PutBucketACL(ctx context.Context, bucket string, acl *ACLMetadata) error

	GetBucketPolicy(ctx context.Context, bucket string) (*PolicyDocument, error)
	PutBucketPolicy(ctx context.Context, bucket string, policy *PolicyDocument) error
	// DeleteBucketPolicy is an idempotent no-op when no policy exists.
	DeleteBucketPolicy(ctx context.Context, bucket string) error

	GetObjectACL(ctx context.Context, bucket, key, versionID string) (*ACLMetadata, error)
	PutObjectACL(ctx context.Context, bucket, key, versionID string, acl *ACLMetadata) error
}

// ListOptions are the inputs to ListObjects.
type ListOptions struct {
	Bucket            string
	Prefix            string
	Delimiter         string
	Marker            string
	ContinuationToken string
	MaxKeys           int
}

// ListResult is the output of ListObjects.
type ListResult struct {
	Objects               []*ObjectMetadata
	CommonPrefixes        []string
	IsTruncated           bool
	NextMarker            string
	NextContinuationToken string
}

// ListVersionsOptions are the inputs to ListObjectVersions.
type ListVersionsOptions struct {
	Bucket          string
	Prefix          string
	Delimiter       string
	KeyMarker       string
	VersionIDMarker string
	MaxKeys         int
}

// ListVersionsResult is the output of ListObjectVersions.
type ListVersionsResult struct {
	Versions            []*ObjectMetadata
	CommonPrefixes      []string
	IsTruncated         bool
	NextKeyMarker       string
	NextVersionIDMarker string
}
