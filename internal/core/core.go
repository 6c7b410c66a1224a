package core

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/audit"
	"github.com/stratafs/stratafs/internal/batch"
	"github.com/stratafs/stratafs/internal/bucket"
	"github.com/stratafs/stratafs/internal/config"
	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/metrics"
	"github.com/stratafs/stratafs/internal/notifications"
	"github.com/stratafs/stratafs/internal/object"
	"github.com/stratafs/stratafs/internal/replication"
	"github.com/stratafs/stratafs/internal/storage"
)

// Core is the storage façade. It owns the write locks that serialize
// conflicting mutations and hands completed operations off to the audit
// ledger, event dispatcher and replicator after the locks are released.
type Core struct {
	cfg    *config.Config
	logger *logrus.Logger

	resolver *storage.Resolver
	engine   *storage.Engine
	store    metadata.Store

	buckets *bucket.Manager
	objects *object.Manager

	dispatcher *notifications.Dispatcher
	auditLog   *audit.Store
	jobs       *batch.Store
	runner     *batch.Runner
	replicator *replication.Replicator
	metrics    *metrics.Metrics
	sweeper    *object.Sweeper

	keyLocks    keyLocks
	bucketLocks *bucketLocks

	cancel context.CancelFunc
}

// New wires the storage core from configuration.
func New(cfg *config.Config, logger *logrus.Logger) (*Core, error) {
	if logger == nil {
		logger = logrus.New()
	}

	resolver := storage.NewResolver(cfg.Storage.Root)
	engine := storage.NewEngine(cfg.Storage.ChunkSize)
	store := metadata.NewSidecarStore(resolver, logger)
	objects := object.NewManager(resolver, engine, store, logger)

	auditLog, err := audit.Open(cfg.Audit.DBPath, logger)
	if err != nil {
		return nil, err
	}
	jobs, err := batch.Open(cfg.Batch.Dir, logger)
	if err != nil {
		auditLog.Close()
		return nil, err
	}

	dispatcher := notifications.NewDispatcher(store, notifications.Config{
		QueueSize:     cfg.Events.QueueSize,
		SinkTimeout:   cfg.Events.SinkTimeout,
		NATSServerURL: cfg.Events.NATSServerURL,
		KafkaBrokers:  cfg.Events.KafkaBrokers,
		TestMode:      cfg.Storage.TestMode,
	}, logger)

	c := &Core{
		cfg:         cfg,
		logger:      logger,
		resolver:    resolver,
		engine:      engine,
		store:       store,
		buckets:     bucket.NewManager(store, logger),
		objects:     objects,
		dispatcher:  dispatcher,
		auditLog:    auditLog,
		jobs:        jobs,
		metrics:     metrics.New(),
		bucketLocks: newBucketLocks(),
		sweeper: object.NewSweeper(resolver, cfg.Storage.OrphanUploadAge,
			cfg.Storage.SweepInterval, logger),
	}

	c.replicator = replication.NewReplicator(blobSource{objects}, replication.Config{
		QueueSize:   cfg.Replication.QueueSize,
		PushTimeout: cfg.Replication.PushTimeout,
		MaxRetries:  cfg.Replication.MaxRetries,
		TestMode:    cfg.Storage.TestMode,
	}, logger)
	c.runner = batch.NewRunner(jobs, batch.ExecutorFunc(c.executeJobItem), logger)
	return c, nil
}

// Start launches the background workers.
func (c *Core) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.dispatcher.Start()
	c.replicator.Start()
	go c.sweeper.Run(ctx)
	go c.auditLog.RunRetention(ctx, c.cfg.Audit.RetentionDays)
	if c.cfg.Metrics.Enable {
		go c.metrics.RunSystemCollector(ctx, c.cfg.Storage.Root, c.logger)
	}
	c.logger.WithField("root", c.cfg.Storage.Root).Info("Storage core started")
}

// Stop halts the workers and closes the ledgers.
func (c *Core) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.replicator.Stop()
	c.dispatcher.Stop()
	if err := c.jobs.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close job ledger")
	}
	if err := c.auditLog.Close(); err != nil {
		c.logger.WithError(err).Warn("Failed to close audit ledger")
	}
	c.logger.Info("Storage core stopped")
}

// Metrics exposes the Prometheus instrument set.
func (c *Core) Metrics() *metrics.Metrics {
	return c.metrics
}

// Dispatcher exposes the event dispatcher, mainly for test-mode
// inspection.
func (c *Core) Dispatcher() *notifications.Dispatcher {
	return c.dispatcher
}

// Replicator exposes the replication worker, mainly for test-mode
// inspection.
func (c *Core) Replicator() *replication.Replicator {
	return c.replicator
}

// ==================== Cross-cutting hand-off ====================

// finish records metrics and the audit entry for one completed
// operation. Called after every lock is released.
func (c *Core) finish(ctx context.Context, op, actor, bucketName, key, versionID string, start time.Time, err error) {
	elapsed := time.Since(start)
	c.metrics.ObserveOp(op, err, elapsed)

	entry := &audit.Entry{
		Actor:     actor,
		Action:    op,
		Bucket:    bucketName,
		Key:       key,
		VersionID: versionID,
		Outcome:   audit.OutcomeSuccess,
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.ErrorCode = err.Error()
	}
	if recErr := c.auditLog.Record(ctx, entry); recErr != nil {
		c.logger.WithError(recErr).WithField("action", op).Warn("Failed to record audit entry")
	}
}

// emit publishes a storage event and queues replication for it when the
// bucket's replication rules cover the key.
func (c *Core) emit(ctx context.Context, eventName string, obj *metadata.ObjectMetadata, isDelete bool) {
	bucketMeta, bucketErr := c.store.GetBucket(ctx, obj.Bucket)

	event := notifications.Event{
		EventName:   eventName,
		EventTime:   time.Now().UTC(),
		RequestID:   strings.ReplaceAll(uuid.New().String(), "-", ""),
		PrincipalID: obj.Owner,
		Bucket: notifications.BucketRef{
			Name: obj.Bucket,
			ARN:  notifications.BucketARN(obj.Bucket),
		},
		Object: notifications.ObjectRef{
			Key:       obj.Key,
			Size:      obj.Size,
			ETag:      obj.ETag,
			VersionID: obj.VersionID,
			Sequencer: notifications.NewSequencer(),
		},
	}
	if bucketErr == nil {
		event.Bucket.OwnerID = bucketMeta.Owner
	}
	c.dispatcher.Publish(event)

	if bucketErr != nil || bucketMeta.Replication == nil {
		return
	}
	for _, rule := range replication.MatchRules(bucketMeta.Replication, obj.Key) {
		c.replicator.Enqueue(replication.Task{
			Bucket:    obj.Bucket,
			Key:       obj.Key,
			VersionID: obj.VersionID,
			Delete:    isDelete,
			Rule:      rule,
		})
	}
}

// blobSource adapts the object manager to the replicator's reader
// interface.
type blobSource struct {
	objects *object.Manager
}

func (b blobSource) OpenForReplication(ctx context.Context, bucketName, key, versionID string) (*metadata.ObjectMetadata, io.ReadCloser, error) {
	obj, reader, _, err := b.objects.Get(ctx, bucketName, key, versionID, nil)
	return obj, reader, err
}
