package notifications

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/metadata"
)

const (
	defaultQueueSize   = 1024
	defaultSinkTimeout = 30 * time.Second
)

// Config controls dispatcher queueing and sink connectivity.
type Config struct {
	QueueSize     int
	SinkTimeout   time.Duration
	NATSServerURL string
	KafkaBrokers  []string

	// TestMode records events instead of delivering them.
	TestMode bool
}

// Dispatcher fans storage events out to the sinks configured on each
// bucket. Publishing never blocks the storage path: events go through a
// bounded queue that drops the oldest entry on overflow, and delivery
// failures are logged, never propagated.
type Dispatcher struct {
	store   metadata.Store
	cfg     Config
	logger  *logrus.Logger
	queue   chan Event
	sinks   map[string]Sink
	sinksMu sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc

	recordedMu sync.Mutex
	recorded   []Event
}

// NewDispatcher creates an event dispatcher reading per-bucket rules
// from the metadata store.
func NewDispatcher(store metadata.Store, cfg Config, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	return &Dispatcher{
		store:  store,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		sinks:  make(map[string]Sink),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
	d.logger.WithField("queue_size", d.cfg.QueueSize).Info("Event dispatcher started")
}

// Stop drains the worker and closes every sink connection.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	d.sinksMu.Lock()
	defer d.sinksMu.Unlock()
	for key, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			d.logger.WithError(err).WithField("sink", key).Warn("Failed to close event sink")
		}
		delete(d.sinks, key)
	}
	d.logger.Info("Event dispatcher stopped")
}

// Publish enqueues an event. When the queue is full the oldest queued
// event is dropped to make room.
func (d *Dispatcher) Publish(event Event) {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}
	if event.Object.Sequencer == "" {
		event.Object.Sequencer = NewSequencer()
	}
	if event.Bucket.ARN == "" {
		event.Bucket.ARN = BucketARN(event.Bucket.Name)
	}
	if d.cfg.TestMode {
		d.recordedMu.Lock()
		d.recorded = append(d.recorded, event)
		d.recordedMu.Unlock()
		return
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	select {
	case dropped := <-d.queue:
		d.logger.WithFields(logrus.Fields{
			"event":  dropped.EventName,
			"bucket": dropped.Bucket.Name,
			"key":    dropped.Object.Key,
		}).Warn("Event queue full, dropping oldest event")
	default:
	}
	select {
	case d.queue <- event:
	default:
		d.logger.WithFields(logrus.Fields{
			"event":  event.EventName,
			"bucket": event.Bucket.Name,
			"key":    event.Object.Key,
		}).Warn("Event queue full, dropping event")
	}
}

// Recorded returns the events captured in test mode.
func (d *Dispatcher) Recorded() []Event {
	d.recordedMu.Lock()
	defer d.recordedMu.Unlock()
	out := make([]Event, len(d.recorded))
	copy(out, d.recorded)
	return out
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			d.dispatch(ctx, event)
		}
	}
}

// dispatch matches one event against the bucket's rules and delivers it
// to every matching sink.
func (d *Dispatcher) dispatch(ctx context.Context, event Event) {
	bucket, err := d.store.GetBucket(ctx, event.Bucket.Name)
	if err != nil {
		// The bucket may have been deleted between emit and delivery.
		return
	}
	if bucket.Notifications == nil {
		return
	}

	for _, rule := range bucket.Notifications.Rules {
		if !ruleMatches(rule, event) {
			continue
		}
		sink, err := d.sink(rule)
		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"rule":   rule.ID,
				"sink":   rule.Sink,
				"target": rule.Target,
			}).Warn("Failed to build event sink")
			continue
		}

		deliverCtx, cancel := context.WithTimeout(ctx, d.cfg.SinkTimeout)
		err = sink.Deliver(deliverCtx, event)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"rule":   rule.ID,
				"sink":   rule.Sink,
				"target": rule.Target,
				"event":  event.EventName,
				"bucket": event.Bucket.Name,
				"key":    event.Object.Key,
			}).Warn("Event delivery failed")
		}
	}
}

// ruleMatches checks a rule's enabled flag, event patterns and key
// filters against an event.
func ruleMatches(rule metadata.NotificationRule, event Event) bool {
	if !rule.Enabled {
		return false
	}
	if rule.FilterPrefix != "" && !strings.HasPrefix(event.Object.Key, rule.FilterPrefix) {
		return false
	}
	if rule.FilterSuffix != "" && !strings.HasSuffix(event.Object.Key, rule.FilterSuffix) {
		return false
	}
	for _, pattern := range rule.Events {
		if matchEventName(pattern, event.EventName) {
			return true
		}
	}
	return false
}

// sink returns the cached sink for a rule, creating it on first use.
func (d *Dispatcher) sink(rule metadata.NotificationRule) (Sink, error) {
	key := string(rule.Sink) + "|" + rule.Target
	d.sinksMu.Lock()
	defer d.sinksMu.Unlock()
	if s, ok := d.sinks[key]; ok {
		return s, nil
	}
	s, err := d.newSink(rule)
	if err != nil {
		return nil, err
	}
	d.sinks[key] = s
	return s, nil
}
