package core

import (
	"context"
	"time"

	"github.com/stratafs/stratafs/internal/metadata"
)

// CreateBucket creates a bucket owned by actor.
func (c *Core) CreateBucket(ctx context.Context, name, actor string) (*metadata.BucketMetadata, error) {
	start := time.Now()

	unlock := c.bucketLocks.lock(name)
	b, err := c.buckets.Create(ctx, name, actor)
	unlock()

	c.finish(ctx, "CreateBucket", actor, name, "", "", start, err)
	return b, err
}

// DeleteBucket removes an empty bucket.
func (c *Core) DeleteBucket(ctx context.Context, name, actor string) error {
	start := time.Now()

	unlock := c.bucketLocks.lock(name)
	err := c.buckets.Delete(ctx, name)
	unlock()

	c.finish(ctx, "DeleteBucket", actor, name, "", "", start, err)
	return err
}

// HeadBucket checks bucket existence.
func (c *Core) HeadBucket(ctx context.Context, name, actor string) (*metadata.BucketMetadata, error) {
	start := time.Now()
	b, err := c.buckets.Head(ctx, name)
	c.finish(ctx, "HeadBucket", actor, name, "", "", start, err)
	return b, err
}

// ListBuckets lists every bucket, sorted by name.
func (c *Core) ListBuckets(ctx context.Context, actor string) ([]*metadata.BucketMetadata, error) {
	start := time.Now()
	bs, err := c.buckets.List(ctx)
	c.finish(ctx, "ListBuckets", actor, "", "", "", start, err)
	return bs, err
}

// getConfig runs a read-locked bucket config getter with instrumentation.
func getConfig[T any](ctx context.Context, c *Core, op, name, actor string, get func(context.Context, string) (T, error)) (T, error) {
	start := time.Now()
	release := c.bucketLocks.rlock(name)
	v, err := get(ctx, name)
	release()
	c.finish(ctx, op, actor, name, "", "", start, err)
	return v, err
}

// setConfig runs a write-locked bucket config setter with
// instrumentation.
func (c *Core) setConfig(ctx context.Context, op, name, actor string, set func(context.Context, string) error) error {
	start := time.Now()
	unlock := c.bucketLocks.lock(name)
	err := set(ctx, name)
	unlock()
	c.finish(ctx, op, actor, name, "", "", start, err)
	return err
}

// ==================== Versioning ====================

func (c *Core) GetBucketVersioning(ctx context.Context, name, actor string) (*metadata.VersioningMetadata, error) {
	return getConfig(ctx, c, "GetBucketVersioning", name, actor, c.buckets.GetVersioning)
}

func (c *Core) PutBucketVersioning(ctx context.Context, name, actor string, cfg *metadata.VersioningMetadata) error {
	return c.setConfig(ctx, "PutBucketVersioning", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetVersioning(ctx, name, cfg)
	})
}

// ==================== Policy ====================

func (c *Core) GetBucketPolicy(ctx context.Context, name, actor string) (*metadata.PolicyDocument, error) {
	return getConfig(ctx, c, "GetBucketPolicy", name, actor, c.buckets.GetPolicy)
}

func (c *Core) PutBucketPolicy(ctx context.Context, name, actor string, policy *metadata.PolicyDocument) error {
	return c.setConfig(ctx, "PutBucketPolicy", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetPolicy(ctx, name, policy)
	})
}

func (c *Core) DeleteBucketPolicy(ctx context.Context, name, actor string) error {
	return c.setConfig(ctx, "DeleteBucketPolicy", name, actor, c.buckets.DeletePolicy)
}

// ==================== ACL ====================

func (c *Core) GetBucketACL(ctx context.Context, name, actor string) (*metadata.ACLMetadata, error) {
	return getConfig(ctx, c, "GetBucketAcl", name, actor, c.buckets.GetACL)
}

func (c *Core) PutBucketACL(ctx context.Context, name, actor string, acl *metadata.ACLMetadata) error {
	return c.setConfig(ctx, "PutBucketAcl", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetACL(ctx, name, acl)
	})
}

// ==================== Lifecycle ====================

func (c *Core) GetBucketLifecycle(ctx context.Context, name, actor string) (*metadata.LifecycleMetadata, error) {
	return getConfig(ctx, c, "GetBucketLifecycle", name, actor, c.buckets.GetLifecycle)
}

func (c *Core) PutBucketLifecycle(ctx context.Context, name, actor string, cfg *metadata.LifecycleMetadata) error {
	return c.setConfig(ctx, "PutBucketLifecycle", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetLifecycle(ctx, name, cfg)
	})
}

// ==================== Replication ====================

func (c *Core) GetBucketReplication(ctx context.Context, name, actor string) (*metadata.ReplicationMetadata, error) {
	return getConfig(ctx, c, "GetBucketReplication", name, actor, c.buckets.GetReplication)
}

func (c *Core) PutBucketReplication(ctx context.Context, name, actor string, cfg *metadata.ReplicationMetadata) error {
	return c.setConfig(ctx, "PutBucketReplication", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetReplication(ctx, name, cfg)
	})
}

// ==================== Notifications ====================

func (c *Core) GetBucketNotifications(ctx context.Context, name, actor string) (*metadata.NotificationMetadata, error) {
	return getConfig(ctx, c, "GetBucketNotification", name, actor, c.buckets.GetNotifications)
}

func (c *Core) PutBucketNotifications(ctx context.Context, name, actor string, cfg *metadata.NotificationMetadata) error {
	return c.setConfig(ctx, "PutBucketNotification", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetNotifications(ctx, name, cfg)
	})
}

// ==================== VPC ====================

func (c *Core) GetBucketVPC(ctx context.Context, name, actor string) (*metadata.VPCMetadata, error) {
	return getConfig(ctx, c, "GetBucketVpc", name, actor, c.buckets.GetVPC)
}

func (c *Core) PutBucketVPC(ctx context.Context, name, actor string, cfg *metadata.VPCMetadata) error {
	return c.setConfig(ctx, "PutBucketVpc", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetVPC(ctx, name, cfg)
	})
}

// ==================== Tags ====================

func (c *Core) GetBucketTagging(ctx context.Context, name, actor string) (map[string]string, error) {
	return getConfig(ctx, c, "GetBucketTagging", name, actor, c.buckets.GetTags)
}

func (c *Core) PutBucketTagging(ctx context.Context, name, actor string, tags map[string]string) error {
	return c.setConfig(ctx, "PutBucketTagging", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetTags(ctx, name, tags)
	})
}

// ==================== Object lock ====================

func (c *Core) GetBucketObjectLock(ctx context.Context, name, actor string) (*metadata.ObjectLockMetadata, error) {
	return getConfig(ctx, c, "GetObjectLockConfiguration", name, actor, c.buckets.GetObjectLock)
}

func (c *Core) PutBucketObjectLock(ctx context.Context, name, actor string, cfg *metadata.ObjectLockMetadata) error {
	return c.setConfig(ctx, "PutObjectLockConfiguration", name, actor, func(ctx context.Context, name string) error {
		return c.buckets.SetObjectLock(ctx, name, cfg)
	})
}
