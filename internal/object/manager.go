package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/acl"
	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/storage"
)

// Manager implements the object lifecycle: put, get, delete, copy,
// versioning and delete markers. Callers are expected to serialize
// conflicting writes per key; the manager itself does no locking.
type Manager struct {
	resolver *storage.Resolver
	engine   *storage.Engine
	store    metadata.Store
	logger   *logrus.Logger
}

// NewManager creates an object manager.
func NewManager(resolver *storage.Resolver, engine *storage.Engine, store metadata.Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		resolver: resolver,
		engine:   engine,
		store:    store,
		logger:   logger,
	}
}

// Put streams data into (bucket, key) and records its version metadata.
// On versioning-enabled buckets each put creates a new version; otherwise
// the null version is replaced in place.
func (m *Manager) Put(ctx context.Context, bucket, key string, data io.Reader, owner string, opts PutOptions) (*metadata.ObjectMetadata, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := validateSSE(opts.SSEAlgorithm); err != nil {
		return nil, err
	}
	var grants []metadata.Grant
	if opts.ACL != "" {
		// Resolve the canned ACL before any data is written so a bad
		// name fails the whole put.
		if grants = acl.CannedGrants(opts.ACL, owner); grants == nil {
			return nil, fmt.Errorf("%w: unknown canned acl %q", metadata.ErrInvalidArgument, opts.ACL)
		}
	}

	bucketMeta, err := m.store.GetBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	versioning, err := m.store.GetVersioning(ctx, bucket)
	if err != nil {
		return nil, err
	}

	versionID := storage.NullVersionID
	if versioning.Enabled() {
		versionID = newVersionID()
	} else {
		// Replacing the null version overwrites data, so the existing
		// record must not be locked.
		if existing, err := m.store.GetLatest(ctx, bucket, key); err == nil && !existing.IsDeleteMarker {
			if err := checkLock(existing, false); err != nil {
				return nil, err
			}
		}
	}

	path := m.resolver.ObjectPath(bucket, key, versionID)
	result, err := m.engine.Write(ctx, path, data)
	if err != nil {
		return nil, err
	}

	obj := &metadata.ObjectMetadata{
		Bucket:       bucket,
		Key:          key,
		VersionID:    versionID,
		Size:         result.Size,
		LastModified: time.Now().UTC(),
		ETag:         result.SHA256,
		ContentType:  opts.ContentType,
		StorageClass: defaultStorageClass(opts.StorageClass),
		Owner:        owner,
		IsLatest:     true,
		Metadata:     lowercaseKeys(opts.Metadata),
		Tags:         opts.Tags,
		Checksum: &metadata.ChecksumMetadata{
			Algorithm: "SHA256",
			Value:     result.SHA256,
		},
		SSEAlgorithm: opts.SSEAlgorithm,
		SSEKeyID:     opts.SSEKeyID,
	}
	applyDefaultRetention(obj, bucketMeta.ObjectLock)

	if err := m.store.SaveObject(ctx, obj); err != nil {
		// Keep data and metadata consistent: roll the data file back.
		if rmErr := m.engine.Remove(path); rmErr != nil {
			m.logger.WithError(rmErr).WithFields(logrus.Fields{
				"bucket": bucket,
				"key":    key,
			}).Error("Failed to remove data file after metadata write failure")
		}
		return nil, fmt.Errorf("failed to save object metadata: %w", err)
	}

	if grants != nil {
		objACL := &metadata.ACLMetadata{Owner: metadata.Owner{ID: owner}, Grants: grants}
		if err := m.store.PutObjectACL(ctx, bucket, key, versionID, objACL); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"bucket": bucket,
				"key":    key,
			}).Error("Failed to write object ACL")
		}
	}

	m.logger.WithFields(logrus.Fields{
		"bucket":     bucket,
		"key":        key,
		"version_id": versionID,
		"size":       result.Size,
	}).Info("Object stored")
	return obj, nil
}

// Get returns the metadata and a data stream for an object. With an empty
// versionID the latest version is resolved; a latest delete marker reads
// as not found, while a version-addressed marker is a method error.
// A nil rng streams the whole object.
func (m *Manager) Get(ctx context.Context, bucket, key, versionID string, rng *Range) (*metadata.ObjectMetadata, io.ReadCloser, int64, error) {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return nil, nil, 0, err
	}

	path := m.resolver.ObjectPath(bucket, key, obj.VersionID)
	var (
		reader io.ReadCloser
		length int64
	)
	if rng != nil {
		reader, length, err = m.engine.OpenRange(path, rng.Start, rng.End)
	} else {
		reader, length, err = m.engine.Open(path)
	}
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			// Metadata exists without data: surface as an internal fault,
			// not a clean 404.
			m.logger.WithFields(logrus.Fields{
				"bucket":     bucket,
				"key":        key,
				"version_id": obj.VersionID,
			}).Error("Object metadata present but data file missing")
			return nil, nil, 0, fmt.Errorf("%w: data file missing for %s/%s", ErrInternal, bucket, key)
		}
		return nil, nil, 0, err
	}
	return obj, reader, length, nil
}

// Head returns object metadata without opening the data file.
func (m *Manager) Head(ctx context.Context, bucket, key, versionID string) (*metadata.ObjectMetadata, error) {
	return m.head(ctx, bucket, key, versionID)
}

func (m *Manager) head(ctx context.Context, bucket, key, versionID string) (*metadata.ObjectMetadata, error) {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	obj, err := m.store.GetObject(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	if obj.IsDeleteMarker {
		return nil, ErrMethodNotAllowed
	}
	return obj, nil
}

// Delete removes an object or creates a delete marker.
//
// With a versionID, that exact version (marker or not) is permanently
// removed, subject to object lock. Without one, versioning-enabled
// buckets get a delete marker as the new latest; other buckets have
// their null version unlinked. Deleting an absent key succeeds.
func (m *Manager) Delete(ctx context.Context, bucket, key, versionID string, bypassGovernance bool) (*DeleteResult, error) {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	if versionID != "" {
		return m.deleteVersion(ctx, bucket, key, versionID, bypassGovernance)
	}

	versioning, err := m.store.GetVersioning(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if versioning.Enabled() {
		marker := &metadata.ObjectMetadata{
			Bucket:         bucket,
			Key:            key,
			VersionID:      newVersionID(),
			LastModified:   time.Now().UTC(),
			IsLatest:       true,
			IsDeleteMarker: true,
		}
		if err := m.store.SaveObject(ctx, marker); err != nil {
			return nil, fmt.Errorf("failed to save delete marker: %w", err)
		}
		m.logger.WithFields(logrus.Fields{
			"bucket":     bucket,
			"key":        key,
			"version_id": marker.VersionID,
		}).Info("Delete marker created")
		return &DeleteResult{VersionID: marker.VersionID, DeleteMarker: true}, nil
	}

	res, err := m.deleteVersion(ctx, bucket, key, storage.NullVersionID, bypassGovernance)
	if errors.Is(err, metadata.ErrVersionNotFound) || errors.Is(err, metadata.ErrObjectNotFound) {
		// Deletes are idempotent.
		return &DeleteResult{}, nil
	}
	return res, err
}

func (m *Manager) deleteVersion(ctx context.Context, bucket, key, versionID string, bypassGovernance bool) (*DeleteResult, error) {
	obj, err := m.store.GetObject(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	if !obj.IsDeleteMarker {
		if err := checkLock(obj, bypassGovernance); err != nil {
			return nil, err
		}
		path := m.resolver.ObjectPath(bucket, key, obj.VersionID)
		if err := m.engine.Remove(path); err != nil {
			return nil, err
		}
	}
	if err := m.store.DeleteObject(ctx, bucket, key, obj.VersionID); err != nil {
		return nil, fmt.Errorf("failed to delete object metadata: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"bucket":     bucket,
		"key":        key,
		"version_id": obj.VersionID,
	}).Info("Object version deleted")
	return &DeleteResult{VersionID: obj.VersionID, DeleteMarker: obj.IsDeleteMarker}, nil
}

// DeleteObjects deletes a batch of objects, one result per item. A
// failing item never aborts the batch.
func (m *Manager) DeleteObjects(ctx context.Context, bucket string, items []DeleteItem, bypassGovernance bool) ([]DeleteItemResult, error) {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	results := make([]DeleteItemResult, 0, len(items))
	for _, item := range items {
		res, err := m.Delete(ctx, bucket, item.Key, item.VersionID, bypassGovernance)
		out := DeleteItemResult{Key: item.Key, VersionID: item.VersionID, Err: err}
		if err == nil {
			out.DeleteMarker = res.DeleteMarker
			if out.VersionID == "" {
				out.VersionID = res.VersionID
			}
		}
		results = append(results, out)
	}
	return results, nil
}

// Copy server-side copies a source object (or one of its versions) to a
// destination key, re-streaming the bytes so the destination gets its
// own verified checksum.
func (m *Manager) Copy(ctx context.Context, srcBucket, srcKey, srcVersionID, dstBucket, dstKey, owner string, opts CopyOptions) (*metadata.ObjectMetadata, error) {
	src, reader, _, err := m.Get(ctx, srcBucket, srcKey, srcVersionID, nil)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	putOpts := PutOptions{
		ContentType:  src.ContentType,
		StorageClass: src.StorageClass,
		Metadata:     src.Metadata,
		Tags:         src.Tags,
		SSEAlgorithm: src.SSEAlgorithm,
		SSEKeyID:     src.SSEKeyID,
	}
	if opts.ReplaceMetadata {
		putOpts.ContentType = opts.ContentType
		putOpts.Metadata = opts.Metadata
	}
	if opts.Tags != nil {
		putOpts.Tags = opts.Tags
	}

	dst, err := m.Put(ctx, dstBucket, dstKey, reader, owner, putOpts)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"src_bucket": srcBucket,
		"src_key":    srcKey,
		"dst_bucket": dstBucket,
		"dst_key":    dstKey,
		"version_id": dst.VersionID,
	}).Info("Object copied")
	return dst, nil
}

// ListVersions returns every version record of one key, newest first.
func (m *Manager) ListVersions(ctx context.Context, bucket, key string) ([]*metadata.ObjectMetadata, error) {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	return m.store.ListKeyVersions(ctx, bucket, key)
}

// ==================== Tagging ====================

// GetTags returns the tag set of an object version.
func (m *Manager) GetTags(ctx context.Context, bucket, key, versionID string) (map[string]string, error) {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	return obj.Tags, nil
}

// PutTags replaces the tag set of an object version.
func (m *Manager) PutTags(ctx context.Context, bucket, key, versionID string, tags map[string]string) error {
	return m.updateObject(ctx, bucket, key, versionID, func(obj *metadata.ObjectMetadata) error {
		obj.Tags = tags
		return nil
	})
}

// DeleteTags removes all tags of an object version.
func (m *Manager) DeleteTags(ctx context.Context, bucket, key, versionID string) error {
	return m.updateObject(ctx, bucket, key, versionID, func(obj *metadata.ObjectMetadata) error {
		obj.Tags = nil
		return nil
	})
}

// SetStorageClass rewrites the storage class recorded on an object
// version. The data file stays where it is; the class is a placement
// descriptor for outer layers.
func (m *Manager) SetStorageClass(ctx context.Context, bucket, key, versionID string, class metadata.StorageClass) error {
	switch class {
	case metadata.StorageClassStandard, metadata.StorageClassStandardIA, metadata.StorageClassGlacier:
	default:
		return fmt.Errorf("%w: unknown storage class %q", metadata.ErrInvalidArgument, class)
	}
	return m.updateObject(ctx, bucket, key, versionID, func(obj *metadata.ObjectMetadata) error {
		obj.StorageClass = class
		return nil
	})
}

// ==================== ACL ====================

// GetACL returns the ACL of an object version.
func (m *Manager) GetACL(ctx context.Context, bucket, key, versionID string) (*metadata.ACLMetadata, error) {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	return m.store.GetObjectACL(ctx, bucket, key, obj.VersionID)
}

// PutACL replaces the ACL of an object version.
func (m *Manager) PutACL(ctx context.Context, bucket, key, versionID string, doc *metadata.ACLMetadata) error {
	if err := acl.Validate(doc); err != nil {
		return err
	}
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return err
	}
	return m.store.PutObjectACL(ctx, bucket, key, obj.VersionID, doc)
}

// ==================== Helpers ====================

// updateObject loads, mutates and rewrites one version record.
func (m *Manager) updateObject(ctx context.Context, bucket, key, versionID string, mutate func(*metadata.ObjectMetadata) error) error {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return err
	}
	if err := mutate(obj); err != nil {
		return err
	}
	return m.store.SaveObject(ctx, obj)
}

func (m *Manager) requireBucket(ctx context.Context, bucket string) error {
	exists, err := m.store.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return metadata.ErrBucketNotFound
	}
	return nil
}

func validateSSE(algorithm string) error {
	switch algorithm {
	case "", SSEAlgorithmAES256, SSEAlgorithmKMS:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidEncryption, algorithm)
}

func defaultStorageClass(sc metadata.StorageClass) metadata.StorageClass {
	if sc == "" {
		return metadata.StorageClassStandard
	}
	return sc
}

func lowercaseKeys(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// applyDefaultRetention stamps the bucket's default object-lock retention
// onto a new version.
func applyDefaultRetention(obj *metadata.ObjectMetadata, lock *metadata.ObjectLockMetadata) {
	if lock == nil || !lock.Enabled || lock.DefaultRetention == nil {
		return
	}
	until := retainUntil(obj.LastModified, lock.DefaultRetention)
	if until.IsZero() {
		return
	}
	obj.Retention = &metadata.RetentionMetadata{
		Mode:            lock.DefaultRetention.Mode,
		RetainUntilDate: until,
	}
}

// retainUntil converts a duration-based default retention into an
// absolute date counted from the version's creation.
func retainUntil(from time.Time, d *metadata.DefaultRetention) time.Time {
	switch {
	case d.Days > 0:
		return from.AddDate(0, 0, d.Days)
	case d.Years > 0:
		return from.AddDate(d.Years, 0, 0)
	}
	return time.Time{}
}
