package core

import (
	"context"
	"io"
	"time"

	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/notifications"
	"github.com/stratafs/stratafs/internal/object"
)

// CreateMultipartUpload stages a new multipart upload.
func (c *Core) CreateMultipartUpload(ctx context.Context, bucketName, key, actor string, opts object.PutOptions) (*object.UploadInfo, error) {
	start := time.Now()
	info, err := c.objects.CreateMultipartUpload(ctx, bucketName, key, actor, opts)
	c.finish(ctx, "CreateMultipartUpload", actor, bucketName, key, "", start, err)
	return info, err
}

// UploadPart streams one part into an upload.
func (c *Core) UploadPart(ctx context.Context, bucketName, uploadID string, partNumber int, data io.Reader, actor string) (*object.Part, error) {
	start := time.Now()
	part, err := c.objects.UploadPart(ctx, bucketName, uploadID, partNumber, data)
	c.finish(ctx, "UploadPart", actor, bucketName, "", "", start, err)
	if err == nil {
		c.metrics.AddBytesWritten(part.Size)
	}
	return part, err
}

// UploadPartCopy stages a part from an existing object.
func (c *Core) UploadPartCopy(ctx context.Context, bucketName, uploadID string, partNumber int, srcBucket, srcKey, srcVersionID, actor string, rng *object.Range) (*object.Part, error) {
	start := time.Now()
	part, err := c.objects.UploadPartCopy(ctx, bucketName, uploadID, partNumber, srcBucket, srcKey, srcVersionID, rng)
	c.finish(ctx, "UploadPartCopy", actor, bucketName, "", "", start, err)
	return part, err
}

// ListParts lists the staged parts of an upload.
func (c *Core) ListParts(ctx context.Context, bucketName, uploadID, actor string, partNumberMarker, maxParts int) ([]*object.Part, bool, error) {
	start := time.Now()
	parts, truncated, err := c.objects.ListParts(ctx, bucketName, uploadID, partNumberMarker, maxParts)
	c.finish(ctx, "ListParts", actor, bucketName, "", "", start, err)
	return parts, truncated, err
}

// ListMultipartUploads lists the in-progress uploads of a bucket.
func (c *Core) ListMultipartUploads(ctx context.Context, bucketName, prefix, actor string) ([]*object.UploadInfo, error) {
	start := time.Now()
	uploads, err := c.objects.ListMultipartUploads(ctx, bucketName, prefix)
	c.finish(ctx, "ListMultipartUploads", actor, bucketName, "", "", start, err)
	return uploads, err
}

// CompleteMultipartUpload assembles an upload into its final object.
// The destination key is serialized like any other write.
func (c *Core) CompleteMultipartUpload(ctx context.Context, bucketName, uploadID, key, actor string, parts []object.CompletePart) (*metadata.ObjectMetadata, error) {
	start := time.Now()

	release := c.bucketLocks.rlock(bucketName)
	unlock := c.keyLocks.lock(bucketName, key)
	obj, err := c.objects.CompleteMultipartUpload(ctx, bucketName, uploadID, key, parts)
	unlock()
	release()

	versionID := ""
	if obj != nil {
		versionID = obj.VersionID
	}
	c.finish(ctx, "CompleteMultipartUpload", actor, bucketName, key, versionID, start, err)
	if err != nil {
		return nil, err
	}

	c.emit(ctx, notifications.EventObjectCreatedCompleteMultipart, obj, false)
	return obj, nil
}

// AbortMultipartUpload discards an upload and its staged parts.
func (c *Core) AbortMultipartUpload(ctx context.Context, bucketName, uploadID, actor string) error {
	start := time.Now()
	err := c.objects.AbortMultipartUpload(ctx, bucketName, uploadID)
	c.finish(ctx, "AbortMultipartUpload", actor, bucketName, "", "", start, err)
	return err
}
