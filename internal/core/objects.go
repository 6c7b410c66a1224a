package core

import (
	"context"
	"io"
	"time"

	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/notifications"
	"github.com/stratafs/stratafs/internal/object"
)

// PutObject stores an object version. Writes to the same key are
// serialized; the event and audit hand-off happen after the lock drops.
func (c *Core) PutObject(ctx context.Context, bucketName, key string, data io.Reader, actor string, opts object.PutOptions) (*metadata.ObjectMetadata, error) {
	start := time.Now()

	release := c.bucketLocks.rlock(bucketName)
	unlock := c.keyLocks.lock(bucketName, key)
	obj, err := c.objects.Put(ctx, bucketName, key, data, actor, opts)
	unlock()
	release()

	versionID := ""
	if obj != nil {
		versionID = obj.VersionID
	}
	c.finish(ctx, "PutObject", actor, bucketName, key, versionID, start, err)
	if err != nil {
		return nil, err
	}

	c.metrics.AddBytesWritten(obj.Size)
	c.emit(ctx, notifications.EventObjectCreatedPut, obj, false)
	return obj, nil
}

// GetObject returns metadata and a data stream. Reads take no locks;
// the atomic rename on write keeps concurrent readers on a consistent
// file.
func (c *Core) GetObject(ctx context.Context, bucketName, key, versionID, actor string, rng *object.Range) (*metadata.ObjectMetadata, io.ReadCloser, int64, error) {
	start := time.Now()
	obj, reader, length, err := c.objects.Get(ctx, bucketName, key, versionID, rng)
	c.finish(ctx, "GetObject", actor, bucketName, key, versionID, start, err)
	if err != nil {
		return nil, nil, 0, err
	}
	c.metrics.AddBytesRead(length)
	return obj, reader, length, nil
}

// HeadObject returns object metadata only.
func (c *Core) HeadObject(ctx context.Context, bucketName, key, versionID, actor string) (*metadata.ObjectMetadata, error) {
	start := time.Now()
	obj, err := c.objects.Head(ctx, bucketName, key, versionID)
	c.finish(ctx, "HeadObject", actor, bucketName, key, versionID, start, err)
	return obj, err
}

// DeleteObject deletes a version or creates a delete marker.
func (c *Core) DeleteObject(ctx context.Context, bucketName, key, versionID, actor string, bypassGovernance bool) (*object.DeleteResult, error) {
	start := time.Now()

	release := c.bucketLocks.rlock(bucketName)
	unlock := c.keyLocks.lock(bucketName, key)
	res, err := c.objects.Delete(ctx, bucketName, key, versionID, bypassGovernance)
	unlock()
	release()

	resultVersion := versionID
	if res != nil && res.VersionID != "" {
		resultVersion = res.VersionID
	}
	c.finish(ctx, "DeleteObject", actor, bucketName, key, resultVersion, start, err)
	if err != nil {
		return nil, err
	}

	eventName := notifications.EventObjectRemovedDelete
	if res.DeleteMarker {
		eventName = notifications.EventObjectRemovedDeleteMarker
	}
	c.emit(ctx, eventName, &metadata.ObjectMetadata{
		Bucket:    bucketName,
		Key:       key,
		VersionID: res.VersionID,
		Owner:     actor,
	}, !res.DeleteMarker)
	return res, nil
}

// DeleteObjects deletes a batch of objects with per-item outcomes.
func (c *Core) DeleteObjects(ctx context.Context, bucketName string, items []object.DeleteItem, actor string, bypassGovernance bool) ([]object.DeleteItemResult, error) {
	start := time.Now()

	results := make([]object.DeleteItemResult, 0, len(items))
	var firstErr error
	for _, item := range items {
		res, err := c.DeleteObject(ctx, bucketName, item.Key, item.VersionID, actor, bypassGovernance)
		out := object.DeleteItemResult{Key: item.Key, VersionID: item.VersionID, Err: err}
		if err == nil {
			out.DeleteMarker = res.DeleteMarker
			if out.VersionID == "" {
				out.VersionID = res.VersionID
			}
		} else if firstErr == nil {
			firstErr = err
		}
		results = append(results, out)
	}

	c.finish(ctx, "DeleteObjects", actor, bucketName, "", "", start, firstErr)
	return results, nil
}

// CopyObject server-side copies a source object to a destination key.
func (c *Core) CopyObject(ctx context.Context, srcBucket, srcKey, srcVersionID, dstBucket, dstKey, actor string, opts object.CopyOptions) (*metadata.ObjectMetadata, error) {
	start := time.Now()

	release := c.bucketLocks.rlock(dstBucket)
	unlock := c.keyLocks.lock(dstBucket, dstKey)
	obj, err := c.objects.Copy(ctx, srcBucket, srcKey, srcVersionID, dstBucket, dstKey, actor, opts)
	unlock()
	release()

	versionID := ""
	if obj != nil {
		versionID = obj.VersionID
	}
	c.finish(ctx, "CopyObject", actor, dstBucket, dstKey, versionID, start, err)
	if err != nil {
		return nil, err
	}

	c.metrics.AddBytesWritten(obj.Size)
	c.emit(ctx, notifications.EventObjectCreatedCopy, obj, false)
	return obj, nil
}

// ListObjects lists the latest visible versions under a prefix.
func (c *Core) ListObjects(ctx context.Context, opts metadata.ListOptions, actor string) (*metadata.ListResult, error) {
	start := time.Now()
	if opts.MaxKeys <= 0 || opts.MaxKeys > c.cfg.Storage.DefaultMaxKeys {
		opts.MaxKeys = c.cfg.Storage.DefaultMaxKeys
	}
	res, err := c.store.ListObjects(ctx, opts)
	c.finish(ctx, "ListObjects", actor, opts.Bucket, "", "", start, err)
	return res, err
}

// ListObjectVersions lists every version under a prefix.
func (c *Core) ListObjectVersions(ctx context.Context, opts metadata.ListVersionsOptions, actor string) (*metadata.ListVersionsResult, error) {
	start := time.Now()
	if opts.MaxKeys <= 0 || opts.MaxKeys > c.cfg.Storage.DefaultMaxKeys {
		opts.MaxKeys = c.cfg.Storage.DefaultMaxKeys
	}
	res, err := c.store.ListObjectVersions(ctx, opts)
	c.finish(ctx, "ListObjectVersions", actor, opts.Bucket, "", "", start, err)
	return res, err
}

// ==================== Tagging ====================

func (c *Core) GetObjectTagging(ctx context.Context, bucketName, key, versionID, actor string) (map[string]string, error) {
	start := time.Now()
	tags, err := c.objects.GetTags(ctx, bucketName, key, versionID)
	c.finish(ctx, "GetObjectTagging", actor, bucketName, key, versionID, start, err)
	return tags, err
}

func (c *Core) PutObjectTagging(ctx context.Context, bucketName, key, versionID, actor string, tags map[string]string) error {
	start := time.Now()

	unlock := c.keyLocks.lock(bucketName, key)
	err := c.objects.PutTags(ctx, bucketName, key, versionID, tags)
	unlock()

	c.finish(ctx, "PutObjectTagging", actor, bucketName, key, versionID, start, err)
	if err == nil {
		c.emit(ctx, notifications.EventObjectTagging, &metadata.ObjectMetadata{
			Bucket:    bucketName,
			Key:       key,
			VersionID: versionID,
			Owner:     actor,
		}, false)
	}
	return err
}

func (c *Core) DeleteObjectTagging(ctx context.Context, bucketName, key, versionID, actor string) error {
	start := time.Now()

	unlock := c.keyLocks.lock(bucketName, key)
	err := c.objects.DeleteTags(ctx, bucketName, key, versionID)
	unlock()

	c.finish(ctx, "DeleteObjectTagging", actor, bucketName, key, versionID, start, err)
	return err
}

// PutObjectStorageClass changes the storage class recorded on an object
// version.
func (c *Core) PutObjectStorageClass(ctx context.Context, bucketName, key, versionID, actor string, class metadata.StorageClass) error {
	start := time.Now()

	unlock := c.keyLocks.lock(bucketName, key)
	err := c.objects.SetStorageClass(ctx, bucketName, key, versionID, class)
	unlock()

	c.finish(ctx, "PutObjectStorageClass", actor, bucketName, key, versionID, start, err)
	return err
}

// PublishEvent hands an externally constructed event to the dispatcher,
// for callers that observe state changes the core does not emit itself.
// obj is optional; when present its size, eTag and version land on the
// event's object record.
func (c *Core) PublishEvent(ctx context.Context, bucketName, eventType, key, principal, sourceIP string, obj *metadata.ObjectMetadata) {
	ref := notifications.ObjectRef{Key: key}
	if obj != nil {
		ref.Size = obj.Size
		ref.ETag = obj.ETag
		ref.VersionID = obj.VersionID
	}
	c.dispatcher.Publish(notifications.Event{
		EventName:   eventType,
		EventTime:   time.Now().UTC(),
		PrincipalID: principal,
		SourceIP:    sourceIP,
		Bucket: notifications.BucketRef{
			Name: bucketName,
			ARN:  notifications.BucketARN(bucketName),
		},
		Object: ref,
	})
}

// ==================== Object lock ====================

func (c *Core) GetObjectRetention(ctx context.Context, bucketName, key, versionID, actor string) (*metadata.RetentionMetadata, error) {
	start := time.Now()
	r, err := c.objects.GetRetention(ctx, bucketName, key, versionID)
	c.finish(ctx, "GetObjectRetention", actor, bucketName, key, versionID, start, err)
	return r, err
}

func (c *Core) PutObjectRetention(ctx context.Context, bucketName, key, versionID, actor string, retention *metadata.RetentionMetadata, bypassGovernance bool) error {
	start := time.Now()

	unlock := c.keyLocks.lock(bucketName, key)
	err := c.objects.PutRetention(ctx, bucketName, key, versionID, retention, bypassGovernance)
	unlock()

	c.finish(ctx, "PutObjectRetention", actor, bucketName, key, versionID, start, err)
	return err
}

func (c *Core) GetObjectLegalHold(ctx context.Context, bucketName, key, versionID, actor string) (metadata.LegalHoldStatus, error) {
	start := time.Now()
	s, err := c.objects.GetLegalHold(ctx, bucketName, key, versionID)
	c.finish(ctx, "GetObjectLegalHold", actor, bucketName, key, versionID, start, err)
	return s, err
}

func (c *Core) PutObjectLegalHold(ctx context.Context, bucketName, key, versionID, actor string, status metadata.LegalHoldStatus) error {
	start := time.Now()

	unlock := c.keyLocks.lock(bucketName, key)
	err := c.objects.PutLegalHold(ctx, bucketName, key, versionID, status)
	unlock()

	c.finish(ctx, "PutObjectLegalHold", actor, bucketName, key, versionID, start, err)
	return err
}

// ==================== Object ACL ====================

func (c *Core) GetObjectACL(ctx context.Context, bucketName, key, versionID, actor string) (*metadata.ACLMetadata, error) {
	start := time.Now()
	acl, err := c.objects.GetACL(ctx, bucketName, key, versionID)
	c.finish(ctx, "GetObjectAcl", actor, bucketName, key, versionID, start, err)
	return acl, err
}

func (c *Core) PutObjectACL(ctx context.Context, bucketName, key, versionID, actor string, acl *metadata.ACLMetadata) error {
	start := time.Now()

	unlock := c.keyLocks.lock(bucketName, key)
	err := c.objects.PutACL(ctx, bucketName, key, versionID, acl)
	unlock()

	c.finish(ctx, "PutObjectAcl", actor, bucketName, key, versionID, start, err)
	if err == nil {
		c.emit(ctx, notifications.EventObjectACLPut, &metadata.ObjectMetadata{
			Bucket:    bucketName,
			Key:       key,
			VersionID: versionID,
			Owner:     actor,
		}, false)
	}
	return err
}

// ==================== Integrity ====================

// VerifyObjectIntegrity re-hashes stored data against its recorded
// checksum.
func (c *Core) VerifyObjectIntegrity(ctx context.Context, bucketName, key, versionID, actor string) (*object.IntegrityResult, error) {
	start := time.Now()
	res, err := c.objects.VerifyIntegrity(ctx, bucketName, key, versionID)
	c.finish(ctx, "VerifyObjectIntegrity", actor, bucketName, key, versionID, start, err)
	return res, err
}
