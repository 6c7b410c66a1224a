package metadata

import "time"

// VersioningStatus is the bucket versioning state.
type VersioningStatus string

const (
	VersioningNotEnabled VersioningStatus = ""
	VersioningEnabled    VersioningStatus = "Enabled"
	VersioningSuspended  VersioningStatus = "Suspended"
)

// RetentionMode is the object-lock retention mode.
type RetentionMode string

const (
	RetentionGovernance RetentionMode = "GOVERNANCE"
	RetentionCompliance RetentionMode = "COMPLIANCE"
)

// LegalHoldStatus is the object legal-hold state.
type LegalHoldStatus string

const (
	LegalHoldOn  LegalHoldStatus = "ON"
	LegalHoldOff LegalHoldStatus = "OFF"
)

// StorageClass mirrors the S3 storage class names.
type StorageClass string

const (
	StorageClassStandard   StorageClass = "STANDARD"
	StorageClassStandardIA StorageClass = "STANDARD_IA"
	StorageClassGlacier    StorageClass = "GLACIER"
)

// ObjectMetadata is the sidecar record for one object version.
type ObjectMetadata struct {
	Bucket       string       `json:"bucket"`
	Key          string       `json:"key"`
	VersionID    string       `json:"version_id"`
	Size         int64        `json:"size"`
	LastModified time.Time    `json:"last_modified"`
	ETag         string       `json:"etag"`
	ContentType  string       `json:"content_type,omitempty"`
	StorageClass StorageClass `json:"storage_class,omitempty"`
	Owner        string       `json:"owner,omitempty"`

	IsLatest       bool `json:"is_latest"`
	IsDeleteMarker bool `json:"is_delete_marker,omitempty"`

	// Custom user metadata (keys case-insensitive, stored lowercased)
	Metadata map[string]string `json:"metadata,omitempty"`

	// Tags
	Tags map[string]string `json:"tags,omitempty"`

	// Optional recorded checksum for integrity verification
	Checksum *ChecksumMetadata `json:"checksum,omitempty"`

	// Object Lock
	Retention *RetentionMetadata `json:"retention,omitempty"`
	LegalHold LegalHoldStatus    `json:"legal_hold,omitempty"`

	// Server-side encryption descriptor (recorded only)
	SSEAlgorithm string `json:"sse_algorithm,omitempty"`
	SSEKeyID     string `json:"sse_key_id,omitempty"`
}

// ChecksumMetadata records a content checksum for later verification.
type ChecksumMetadata struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// RetentionMetadata is the per-object retention record.
type RetentionMetadata struct {
	Mode            RetentionMode `json:"mode"`
	RetainUntilDate time.Time     `json:"retain_until_date"`
}

// BucketMetadata is the .bucket_metadata record plus attached configs.
type BucketMetadata struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ObjectLock    *ObjectLockMetadata    `json:"object_lock,omitempty"`
	Lifecycle     *LifecycleMetadata     `json:"lifecycle,omitempty"`
	Replication   *ReplicationMetadata   `json:"replication,omitempty"`
	Notifications *NotificationMetadata  `json:"notifications,omitempty"`
	VPC           *VPCMetadata           `json:"vpc,omitempty"`
	Tags          map[string]string      `json:"tags,omitempty"`
}

// VersioningMetadata is the versioning.json record.
type VersioningMetadata struct {
	Status    VersioningStatus `json:"status"`
	MFADelete bool             `json:"mfa_delete,omitempty"`
}

// Enabled reports whether new puts create fresh version IDs.
func (v *VersioningMetadata) Enabled() bool {
	return v != nil && v.Status == VersioningEnabled
}

// ObjectLockMetadata is the bucket object-lock default configuration.
type ObjectLockMetadata struct {
	Enabled          bool              `json:"enabled"`
	DefaultRetention *DefaultRetention `json:"default_retention,omitempty"`
}

// DefaultRetention is the duration-based retention applied to new
// versions of a locked bucket. Exactly one of Days or Years is set.
type DefaultRetention struct {
	Mode  RetentionMode `json:"mode"`
	Days  int           `json:"days,omitempty"`
	Years int           `json:"years,omitempty"`
}

// LifecycleMetadata is the bucket lifecycle configuration.
type LifecycleMetadata struct {
	Rules []LifecycleRule `json:"rules"`
}

// LifecycleRule is a single lifecycle rule.
type LifecycleRule struct {
	ID                             string                `json:"id"`
	Status                         string                `json:"status"` // "Enabled" or "Disabled"
	Prefix                         string                `json:"prefix,omitempty"`
	ExpirationDays                 int                   `json:"expiration_days,omitempty"`
	NoncurrentExpirationDays       int                   `json:"noncurrent_expiration_days,omitempty"`
	Transitions                    []LifecycleTransition `json:"transitions,omitempty"`
	AbortIncompleteMultipartDays   int                   `json:"abort_incomplete_multipart_days,omitempty"`
}

// LifecycleTransition is a storage class transition rule.
type LifecycleTransition struct {
	Days         int          `json:"days"`
	StorageClass StorageClass `json:"storage_class"`
}

// ReplicationMetadata is the bucket replication configuration.
type ReplicationMetadata struct {
	Rules []ReplicationRule `json:"rules"`
}

// ReplicationRule routes qualifying writes to a remote destination.
type ReplicationRule struct {
	ID           string `json:"id"`
	Enabled      bool   `json:"enabled"`
	Prefix       string `json:"prefix,omitempty"`
	Endpoint     string `json:"endpoint"`
	Region       string `json:"region,omitempty"`
	TargetBucket string `json:"target_bucket"`
	AccessKey    string `json:"access_key,omitempty"`
	SecretKey    string `json:"secret_key,omitempty"`
}

// NotificationMetadata is the bucket notification configuration.
type NotificationMetadata struct {
	Rules     []NotificationRule `json:"rules"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SinkKind identifies the downstream event sink family.
type SinkKind string

const (
	SinkWebhook  SinkKind = "webhook"
	SinkTopic    SinkKind = "topic"
	SinkQueue    SinkKind = "queue"
	SinkFunction SinkKind = "function"
)

// NotificationRule is a single notification rule.
type NotificationRule struct {
	ID           string   `json:"id"`
	Enabled      bool     `json:"enabled"`
	Sink         SinkKind `json:"sink"`
	Target       string   `json:"target"` // URL, subject or topic depending on sink
	Events       []string `json:"events"`
	FilterPrefix string   `json:"filter_prefix,omitempty"`
	FilterSuffix string   `json:"filter_suffix,omitempty"`
}

// VPCMetadata is the bucket CIDR allow-list.
type VPCMetadata struct {
	AllowedCIDRs []string `json:"allowed_cidrs"`
}

// ACLMetadata is a bucket or object ACL.
type ACLMetadata struct {
	Owner  Owner   `json:"owner"`
	Grants []Grant `json:"grants,omitempty"`
}

// Owner identifies a principal owning a resource.
type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Grant is a single ACL grant.
type Grant struct {
	Grantee    Grantee `json:"grantee"`
	Permission string  `json:"permission"` // READ, WRITE, READ_ACP, WRITE_ACP, FULL_CONTROL
}

// Grantee is the entity receiving a grant.
type Grantee struct {
	Type        string `json:"type"` // CanonicalUser or Group
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// PolicyDocument is the raw bucket policy stored in policy.json.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is a single policy statement; evaluation happens outside
// the storage core, so shapes stay permissive.
type PolicyStatement struct {
	Sid       string      `json:"Sid,omitempty"`
	Effect    string      `json:"Effect"`
	Principal interface{} `json:"Principal,omitempty"`
	Action    interface{} `json:"Action"`
	Resource  interface{} `json:"Resource"`
}
