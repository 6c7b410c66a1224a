package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/storage"
)

// SidecarStore implements Store with JSON sidecar files colocated with the
// object data, following the on-disk layout the resolver defines.
type SidecarStore struct {
	resolver *storage.Resolver
	logger   *logrus.Logger
}

// NewSidecarStore creates a sidecar metadata store over the given resolver.
func NewSidecarStore(resolver *storage.Resolver, logger *logrus.Logger) *SidecarStore {
	if logger == nil {
		logger = logrus.New()
	}
	return &SidecarStore{resolver: resolver, logger: logger}
}

// compile-time interface check
var _ Store = (*SidecarStore)(nil)

// ==================== Bucket Operations ====================

func (s *SidecarStore) CreateBucket(ctx context.Context, bucket *BucketMetadata) error {
	dir := s.resolver.BucketDir(bucket.Name)
	metaPath := filepath.Join(dir, storage.BucketMetadataFile)

	if _, err := os.Stat(metaPath); err == nil {
		return ErrBucketAlreadyExists
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	if bucket.CreatedAt.IsZero() {
		bucket.CreatedAt = time.Now().UTC()
	}
	bucket.UpdatedAt = bucket.CreatedAt

	return writeJSON(metaPath, bucket)
}

func (s *SidecarStore) GetBucket(ctx context.Context, name string) (*BucketMetadata, error) {
	metaPath := filepath.Join(s.resolver.BucketDir(name), storage.BucketMetadataFile)

	var bucket BucketMetadata
	if err := readJSON(metaPath, &bucket); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBucketNotFound
		}
		return nil, err
	}
	return &bucket, nil
}

func (s *SidecarStore) UpdateBucket(ctx context.Context, bucket *BucketMetadata) error {
	if _, err := s.GetBucket(ctx, bucket.Name); err != nil {
		return err
	}
	bucket.UpdatedAt = time.Now().UTC()
	metaPath := filepath.Join(s.resolver.BucketDir(bucket.Name), storage.BucketMetadataFile)
	return writeJSON(metaPath, bucket)
}

func (s *SidecarStore) DeleteBucket(ctx context.Context, name string) error {
	dir := s.resolver.BucketDir(name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrBucketNotFound
		}
		return fmt.Errorf("failed to read bucket directory: %w", err)
	}

	for _, entry := range entries {
		switch entry.Name() {
		case storage.BucketMetadataFile, storage.BucketACLFile, storage.BucketPolicyFile,
			storage.VersioningFile, storage.PolicyFile, storage.UploadsDir:
			continue
		}
		return ErrBucketNotEmpty
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove bucket directory: %w", err)
	}
	return nil
}

func (s *SidecarStore) ListBuckets(ctx context.Context) ([]*BucketMetadata, error) {
	entries, err := os.ReadDir(s.resolver.Root())
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	var buckets []*BucketMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		bucket, err := s.GetBucket(ctx, entry.Name())
		if err != nil {
			// Directories without a bucket record are not buckets.
			continue
		}
		buckets = append(buckets, bucket)
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Name < buckets[j].Name })
	return buckets, nil
}

func (s *SidecarStore) BucketExists(ctx context.Context, name string) (bool, error) {
	metaPath := filepath.Join(s.resolver.BucketDir(name), storage.BucketMetadataFile)
	if _, err := os.Stat(metaPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat bucket: %w", err)
	}
	return true, nil
}

// ==================== Object Metadata ====================

func (s *SidecarStore) GetObject(ctx context.Context, bucket, key, versionID string) (*ObjectMetadata, error) {
	if versionID == "" {
		obj, err := s.GetLatest(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		if obj.IsDeleteMarker {
			return nil, ErrObjectNotFound
		}
		return obj, nil
	}

	metaPath := s.resolver.MetadataPath(bucket, key, versionID)
	var obj ObjectMetadata
	if err := readJSON(metaPath, &obj); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return &obj, nil
}

func (s *SidecarStore) GetLatest(ctx context.Context, bucket, key string) (*ObjectMetadata, error) {
	versions, err := s.ListKeyVersions(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.IsLatest {
			return v, nil
		}
	}
	return nil, ErrObjectNotFound
}

func (s *SidecarStore) SaveObject(ctx context.Context, obj *ObjectMetadata) error {
	if obj.IsLatest {
		// Demote the prior latest of the same key. The façade holds the
		// per-key write lock, so this read-modify-write is not racy.
		versions, err := s.ListKeyVersions(ctx, obj.Bucket, obj.Key)
		if err != nil && err != ErrObjectNotFound {
			return err
		}
		for _, v := range versions {
			if v.IsLatest && v.VersionID != obj.VersionID {
				v.IsLatest = false
				prevPath := s.resolver.MetadataPath(v.Bucket, v.Key, v.VersionID)
				if err := writeJSON(prevPath, v); err != nil {
					return fmt.Errorf("failed to demote prior latest: %w", err)
				}
			}
		}
	}

	metaPath := s.resolver.MetadataPath(obj.Bucket, obj.Key, obj.VersionID)
	return writeJSON(metaPath, obj)
}

func (s *SidecarStore) DeleteObject(ctx context.Context, bucket, key, versionID string) error {
	metaPath := s.resolver.MetadataPath(bucket, key, versionID)

	var removed ObjectMetadata
	if err := readJSON(metaPath, &removed); err != nil {
		if os.IsNotExist(err) {
			return ErrVersionNotFound
		}
		return err
	}

	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata sidecar: %w", err)
	}
	// ACL sidecar rides along with the record.
	os.Remove(s.resolver.ACLPath(bucket, key, versionID))

	if removed.IsLatest {
		versions, err := s.ListKeyVersions(ctx, bucket, key)
		if err != nil && err != ErrObjectNotFound {
			return err
		}
		if len(versions) > 0 {
			// Versions are ordered newest first.
			next := versions[0]
			next.IsLatest = true
			nextPath := s.resolver.MetadataPath(next.Bucket, next.Key, next.VersionID)
			if err := writeJSON(nextPath, next); err != nil {
				return fmt.Errorf("failed to promote next latest: %w", err)
			}
		}
	}

	s.pruneEmptyDirs(bucket, filepath.Dir(metaPath))
	return nil
}

// pruneEmptyDirs removes directories a delete left empty, walking up to
// (never including) the bucket root. A bucket whose last nested object
// is gone must read as empty to DeleteBucket.
func (s *SidecarStore) pruneEmptyDirs(bucket, dir string) {
	root := s.resolver.BucketDir(bucket)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			// Not empty, or already gone.
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *SidecarStore) ListKeyVersions(ctx context.Context, bucket, key string) ([]*ObjectMetadata, error) {
	nullPath := s.resolver.ObjectPath(bucket, key, storage.NullVersionID)
	dir := filepath.Dir(nullPath)
	base := filepath.Base(nullPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var versions []*ObjectMetadata
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, storage.MetadataSuffix) {
			continue
		}
		stem := strings.TrimSuffix(name, storage.MetadataSuffix)
		if stem != base && !strings.HasPrefix(stem, base+"@") {
			continue
		}

		var obj ObjectMetadata
		if err := readJSON(filepath.Join(dir, name), &obj); err != nil {
			s.logger.WithError(err).WithField("sidecar", name).Warn("Skipping unreadable metadata sidecar")
			continue
		}
		if obj.Key != key {
			// Prefix collision (key containing '@'); the record is the truth.
			continue
		}
		versions = append(versions, &obj)
	}

	if len(versions) == 0 {
		return nil, ErrObjectNotFound
	}

	sortVersionsNewestFirst(versions)
	return versions, nil
}

// sortVersionsNewestFirst orders by lastModified descending, then by
// versionID ascending for identical timestamps.
func sortVersionsNewestFirst(versions []*ObjectMetadata) {
	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].LastModified.Equal(versions[j].LastModified) {
			return versions[i].LastModified.After(versions[j].LastModified)
		}
		return versions[i].VersionID < versions[j].VersionID
	})
}

// ==================== Bucket Configs ====================

func (s *SidecarStore) GetVersioning(ctx context.Context, bucket string) (*VersioningMetadata, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	cfgPath := filepath.Join(s.resolver.BucketDir(bucket), storage.VersioningFile)

	var cfg VersioningMetadata
	if err := readJSON(cfgPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			return &VersioningMetadata{Status: VersioningNotEnabled}, nil
		}
		return nil, err
	}
	return &cfg, nil
}

func (s *SidecarStore) PutVersioning(ctx context.Context, bucket string, cfg *VersioningMetadata) error {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}
	cfgPath := filepath.Join(s.resolver.BucketDir(bucket), storage.VersioningFile)
	return writeJSON(cfgPath, cfg)
}

func (s *SidecarStore) GetBucketACL(ctx context.Context, bucket string) (*ACLMetadata, error) {
	meta, err := s.GetBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	aclPath := filepath.Join(s.resolver.BucketDir(bucket), storage.BucketACLFile)

	var acl ACLMetadata
	if err := readJSON(aclPath, &acl); err != nil {
		if os.IsNotExist(err) {
			// Default private ACL owned by the bucket owner.
			return &ACLMetadata{
				Owner:  Owner{ID: meta.Owner},
				Grants: []Grant{{Grantee: Grantee{Type: "CanonicalUser", ID: meta.Owner}, Permission: "FULL_CONTROL"}},
			}, nil
		}
		return nil, err
	}
	return &acl, nil
}

func (s *SidecarStore) PutBucketACL(ctx context.Context, bucket string, acl *ACLMetadata) error {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}
	aclPath := filepath.Join(s.resolver.BucketDir(bucket), storage.BucketACLFile)
	return writeJSON(aclPath, acl)
}

func (s *SidecarStore) GetBucketPolicy(ctx context.Context, bucket string) (*PolicyDocument, error) {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	policyPath := filepath.Join(s.resolver.BucketDir(bucket), storage.PolicyFile)

	var policy PolicyDocument
	if err := readJSON(policyPath, &policy); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSuchBucketPolicy
		}
		return nil, err
	}
	return &policy, nil
}

func (s *SidecarStore) PutBucketPolicy(ctx context.Context, bucket string, policy *PolicyDocument) error {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}
	policyPath := filepath.Join(s.resolver.BucketDir(bucket), storage.PolicyFile)
	return writeJSON(policyPath, policy)
}

func (s *SidecarStore) DeleteBucketPolicy(ctx context.Context, bucket string) error {
	if err := s.requireBucket(ctx, bucket); err != nil {
		return err
	}
	policyPath := filepath.Join(s.resolver.BucketDir(bucket), storage.PolicyFile)
	if err := os.Remove(policyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove bucket policy: %w", err)
	}
	return nil
}

func (s *SidecarStore) GetObjectACL(ctx context.Context, bucket, key, versionID string) (*ACLMetadata, error) {
	obj, err := s.GetObject(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	aclPath := s.resolver.ACLPath(bucket, key, obj.VersionID)

	var acl ACLMetadata
	if err := readJSON(aclPath, &acl); err != nil {
		if os.IsNotExist(err) {
			return &ACLMetadata{
				Owner:  Owner{ID: obj.Owner},
				Grants: []Grant{{Grantee: Grantee{Type: "CanonicalUser", ID: obj.Owner}, Permission: "FULL_CONTROL"}},
			}, nil
		}
		return nil, err
	}
	return &acl, nil
}

func (s *SidecarStore) PutObjectACL(ctx context.Context, bucket, key, versionID string, acl *ACLMetadata) error {
	obj, err := s.GetObject(ctx, bucket, key, versionID)
	if err != nil {
		return err
	}
	aclPath := s.resolver.ACLPath(bucket, key, obj.VersionID)
	return writeJSON(aclPath, acl)
}

// ==================== Helpers ====================

func (s *SidecarStore) requireBucket(ctx context.Context, bucket string) error {
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return ErrBucketNotFound
	}
	return nil
}

// writeJSON replaces a sidecar atomically: the record goes to a temp
// file in the same directory and is renamed into place, so lock-free
// readers see either the old record or the new one, never a torn write.
func writeJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create sidecar directory: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp_")
	if err != nil {
		return fmt.Errorf("failed to create temporary sidecar: %w", err)
	}
	tempName := tempFile.Name()
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("failed to close sidecar: %w", err)
	}
	if err := os.Chmod(tempName, 0644); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("failed to chmod sidecar: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("failed to move sidecar into place: %w", err)
	}
	return nil
}

// readJSON preserves os.IsNotExist for callers; other failures are wrapped
// except decode errors, which surface as ErrCorruptSidecar.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s", ErrCorruptSidecar, path)
	}
	return nil
}
