package replication

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/metadata"
)

const (
	defaultQueueSize   = 256
	defaultPushTimeout = 60 * time.Second
	defaultMaxRetries  = 3
)

// Task is one pending replication push or delete.
type Task struct {
	Bucket    string
	Key       string
	VersionID string
	Delete    bool
	Rule      metadata.ReplicationRule
	attempts  int
}

// BlobSource supplies object bytes and metadata to the replicator. The
// object engine satisfies it; tests plug in fakes.
type BlobSource interface {
	OpenForReplication(ctx context.Context, bucket, key, versionID string) (*metadata.ObjectMetadata, io.ReadCloser, error)
}

// Config controls replicator queueing and retry behavior.
type Config struct {
	QueueSize   int
	PushTimeout time.Duration
	MaxRetries  int

	// TestMode records tasks instead of pushing to remote endpoints.
	TestMode bool
}

// Replicator asynchronously mirrors qualifying writes to remote S3
// destinations. Failures retry with backoff up to MaxRetries, then the
// task is dropped with an error log.
type Replicator struct {
	source BlobSource
	cfg    Config
	logger *logrus.Logger
	queue  chan Task

	clientsMu sync.Mutex
	clients   map[string]*s3.Client

	wg     sync.WaitGroup
	cancel context.CancelFunc

	recordedMu sync.Mutex
	recorded   []Task

	lastErrMu sync.Mutex
	lastErr   string
}

// NewReplicator creates a replicator over the given blob source.
func NewReplicator(source BlobSource, cfg Config, logger *logrus.Logger) *Replicator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Replicator{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan Task, cfg.QueueSize),
		clients: make(map[string]*s3.Client),
	}
}

// Start launches the push worker.
func (r *Replicator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)
	r.logger.WithField("queue_size", r.cfg.QueueSize).Info("Replicator started")
}

// Stop halts the push worker.
func (r *Replicator) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("Replicator stopped")
}

// MatchRules returns the enabled rules of a bucket's replication config
// whose prefix covers the key.
func MatchRules(cfg *metadata.ReplicationMetadata, key string) []metadata.ReplicationRule {
	if cfg == nil {
		return nil
	}
	var out []metadata.ReplicationRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(key, rule.Prefix) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// Enqueue queues a task. A full queue drops the task with a warning;
// replication here is best-effort bookkeeping, not a durability layer.
func (r *Replicator) Enqueue(task Task) {
	if r.cfg.TestMode {
		r.recordedMu.Lock()
		r.recorded = append(r.recorded, task)
		r.recordedMu.Unlock()
		return
	}
	select {
	case r.queue <- task:
	default:
		r.logger.WithFields(logrus.Fields{
			"bucket": task.Bucket,
			"key":    task.Key,
			"rule":   task.Rule.ID,
		}).Warn("Replication queue full, dropping task")
	}
}

// Recorded returns the tasks captured in test mode.
func (r *Replicator) Recorded() []Task {
	r.recordedMu.Lock()
	defer r.recordedMu.Unlock()
	out := make([]Task, len(r.recorded))
	copy(out, r.recorded)
	return out
}

// Pending returns the number of queued tasks.
func (r *Replicator) Pending() int {
	return len(r.queue)
}

// LastError returns the most recent push failure, empty if none.
func (r *Replicator) LastError() string {
	r.lastErrMu.Lock()
	defer r.lastErrMu.Unlock()
	return r.lastErr
}

func (r *Replicator) setLastError(err error) {
	r.lastErrMu.Lock()
	r.lastErr = err.Error()
	r.lastErrMu.Unlock()
}

func (r *Replicator) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-r.queue:
			if err := r.push(ctx, task); err != nil {
				r.setLastError(err)
				task.attempts++
				if task.attempts < r.cfg.MaxRetries {
					r.logger.WithError(err).WithFields(logrus.Fields{
						"bucket":  task.Bucket,
						"key":     task.Key,
						"rule":    task.Rule.ID,
						"attempt": task.attempts,
					}).Warn("Replication push failed, will retry")
					time.Sleep(time.Duration(task.attempts) * time.Second)
					r.Enqueue(task)
					continue
				}
				r.logger.WithError(err).WithFields(logrus.Fields{
					"bucket": task.Bucket,
					"key":    task.Key,
					"rule":   task.Rule.ID,
				}).Error("Replication push abandoned after retries")
			}
		}
	}
}

// push mirrors one object (or delete) to the rule's destination.
func (r *Replicator) push(ctx context.Context, task Task) error {
	client := r.client(task.Rule)
	pushCtx, cancel := context.WithTimeout(ctx, r.cfg.PushTimeout)
	defer cancel()

	if task.Delete {
		_, err := client.DeleteObject(pushCtx, &s3.DeleteObjectInput{
			Bucket: aws.String(task.Rule.TargetBucket),
			Key:    aws.String(task.Key),
		})
		return err
	}

	obj, reader, err := r.source.OpenForReplication(pushCtx, task.Bucket, task.Key, task.VersionID)
	if err != nil {
		return err
	}
	defer reader.Close()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(task.Rule.TargetBucket),
		Key:           aws.String(task.Key),
		Body:          reader,
		ContentLength: aws.Int64(obj.Size),
		Metadata:      obj.Metadata,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if _, err := client.PutObject(pushCtx, input); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"bucket":        task.Bucket,
		"key":           task.Key,
		"version_id":    task.VersionID,
		"target_bucket": task.Rule.TargetBucket,
		"endpoint":      task.Rule.Endpoint,
	}).Info("Object replicated")
	return nil
}

// client returns the cached client for a rule's destination.
func (r *Replicator) client(rule metadata.ReplicationRule) *s3.Client {
	key := rule.Endpoint + "|" + rule.Region + "|" + rule.AccessKey
	r.clientsMu.Lock()
	defer r.clientsMu.Unlock()
	if c, ok := r.clients[key]; ok {
		return c
	}
	c := newS3Client(rule)
	r.clients[key] = c
	return c
}
