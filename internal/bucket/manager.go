package bucket

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/acl"
	"github.com/stratafs/stratafs/internal/metadata"
)

// Manager handles bucket lifecycle and per-bucket configuration.
type Manager struct {
	store  metadata.Store
	logger *logrus.Logger
}

// NewManager creates a bucket manager over the metadata store.
func NewManager(store metadata.Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{store: store, logger: logger}
}

// Create creates a bucket owned by owner.
func (m *Manager) Create(ctx context.Context, name, owner string) (*metadata.BucketMetadata, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	bucket := &metadata.BucketMetadata{
		Name:      name,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}
	if err := m.store.PutBucketACL(ctx, name, acl.Default(owner)); err != nil {
		m.logger.WithError(err).WithField("bucket", name).Error("Failed to write default bucket ACL")
	}

	m.logger.WithFields(logrus.Fields{
		"bucket": name,
		"owner":  owner,
	}).Info("Bucket created")
	return bucket, nil
}

// Delete removes an empty bucket.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := m.store.DeleteBucket(ctx, name); err != nil {
		return err
	}
	m.logger.WithField("bucket", name).Info("Bucket deleted")
	return nil
}

// Head checks bucket existence.
func (m *Manager) Head(ctx context.Context, name string) (*metadata.BucketMetadata, error) {
	return m.store.GetBucket(ctx, name)
}

// List returns every bucket sorted by name.
func (m *Manager) List(ctx context.Context) ([]*metadata.BucketMetadata, error) {
	return m.store.ListBuckets(ctx)
}

// ==================== Configuration ====================

func (m *Manager) GetVersioning(ctx context.Context, name string) (*metadata.VersioningMetadata, error) {
	return m.store.GetVersioning(ctx, name)
}

// SetVersioning transitions the bucket versioning status. Once versioning
// has been enabled a bucket can only move between Enabled and Suspended.
func (m *Manager) SetVersioning(ctx context.Context, name string, cfg *metadata.VersioningMetadata) error {
	if cfg.Status != metadata.VersioningEnabled && cfg.Status != metadata.VersioningSuspended {
		return metadata.ErrInvalidArgument
	}
	if err := m.store.PutVersioning(ctx, name, cfg); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"bucket": name,
		"status": cfg.Status,
	}).Info("Bucket versioning updated")
	return nil
}

func (m *Manager) GetPolicy(ctx context.Context, name string) (*metadata.PolicyDocument, error) {
	return m.store.GetBucketPolicy(ctx, name)
}

func (m *Manager) SetPolicy(ctx context.Context, name string, policy *metadata.PolicyDocument) error {
	if err := ValidatePolicy(policy); err != nil {
		return err
	}
	return m.store.PutBucketPolicy(ctx, name, policy)
}

func (m *Manager) DeletePolicy(ctx context.Context, name string) error {
	return m.store.DeleteBucketPolicy(ctx, name)
}

func (m *Manager) GetACL(ctx context.Context, name string) (*metadata.ACLMetadata, error) {
	return m.store.GetBucketACL(ctx, name)
}

func (m *Manager) SetACL(ctx context.Context, name string, doc *metadata.ACLMetadata) error {
	if err := acl.Validate(doc); err != nil {
		return err
	}
	return m.store.PutBucketACL(ctx, name, doc)
}

// updateConfig loads, mutates and saves the bucket record in one step.
func (m *Manager) updateConfig(ctx context.Context, name string, mutate func(*metadata.BucketMetadata)) error {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return err
	}
	mutate(bucket)
	return m.store.UpdateBucket(ctx, bucket)
}

func (m *Manager) GetLifecycle(ctx context.Context, name string) (*metadata.LifecycleMetadata, error) {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return bucket.Lifecycle, nil
}

func (m *Manager) SetLifecycle(ctx context.Context, name string, cfg *metadata.LifecycleMetadata) error {
	return m.updateConfig(ctx, name, func(b *metadata.BucketMetadata) { b.Lifecycle = cfg })
}

func (m *Manager) GetReplication(ctx context.Context, name string) (*metadata.ReplicationMetadata, error) {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return bucket.Replication, nil
}

func (m *Manager) SetReplication(ctx context.Context, name string, cfg *metadata.ReplicationMetadata) error {
	return m.updateConfig(ctx, name, func(b *metadata.BucketMetadata) { b.Replication = cfg })
}

func (m *Manager) GetNotifications(ctx context.Context, name string) (*metadata.NotificationMetadata, error) {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return bucket.Notifications, nil
}

func (m *Manager) SetNotifications(ctx context.Context, name string, cfg *metadata.NotificationMetadata) error {
	if cfg != nil {
		cfg.UpdatedAt = time.Now().UTC()
	}
	return m.updateConfig(ctx, name, func(b *metadata.BucketMetadata) { b.Notifications = cfg })
}

func (m *Manager) GetVPC(ctx context.Context, name string) (*metadata.VPCMetadata, error) {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return bucket.VPC, nil
}

func (m *Manager) SetVPC(ctx context.Context, name string, cfg *metadata.VPCMetadata) error {
	if err := ValidateVPC(cfg); err != nil {
		return err
	}
	return m.updateConfig(ctx, name, func(b *metadata.BucketMetadata) { b.VPC = cfg })
}

func (m *Manager) GetTags(ctx context.Context, name string) (map[string]string, error) {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return bucket.Tags, nil
}

func (m *Manager) SetTags(ctx context.Context, name string, tags map[string]string) error {
	return m.updateConfig(ctx, name, func(b *metadata.BucketMetadata) { b.Tags = tags })
}

func (m *Manager) GetObjectLock(ctx context.Context, name string) (*metadata.ObjectLockMetadata, error) {
	bucket, err := m.store.GetBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	return bucket.ObjectLock, nil
}

func (m *Manager) SetObjectLock(ctx context.Context, name string, cfg *metadata.ObjectLockMetadata) error {
	return m.updateConfig(ctx, name, func(b *metadata.BucketMetadata) { b.ObjectLock = cfg })
}
