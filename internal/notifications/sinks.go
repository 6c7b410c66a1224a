package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"

	"github.com/stratafs/stratafs/internal/metadata"
)

// Sink delivers one event to a downstream system.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
	Close() error
}

// newSink builds the sink implementation for a rule.
func (d *Dispatcher) newSink(rule metadata.NotificationRule) (Sink, error) {
	switch rule.Sink {
	case metadata.SinkWebhook, metadata.SinkFunction:
		return &httpSink{url: rule.Target, client: &http.Client{Timeout: d.cfg.SinkTimeout}}, nil
	case metadata.SinkTopic:
		nc, err := nats.Connect(d.cfg.NATSServerURL, nats.Name("stratafs-events"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		return &natsSink{conn: nc, subject: rule.Target}, nil
	case metadata.SinkQueue:
		if len(d.cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("no kafka brokers configured")
		}
		writer := &kafka.Writer{
			Addr:     kafka.TCP(d.cfg.KafkaBrokers...),
			Topic:    rule.Target,
			Balancer: &kafka.LeastBytes{},
		}
		return &kafkaSink{writer: writer}, nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", rule.Sink)
}

// httpSink POSTs the event as JSON to a webhook or function endpoint,
// retrying a bounded number of times within the delivery deadline.
type httpSink struct {
	url    string
	client *http.Client
}

const httpSinkAttempts = 3

func (s *httpSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < httpSinkAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		if lastErr = s.post(ctx, body); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (s *httpSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *httpSink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// natsSink publishes events to a NATS subject.
type natsSink struct {
	conn    *nats.Conn
	subject string
}

func (s *natsSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, body); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

func (s *natsSink) Close() error {
	return s.conn.Drain()
}

// kafkaSink writes events to a Kafka topic, keyed by bucket/key so
// per-object ordering survives partitioning.
type kafkaSink struct {
	writer *kafka.Writer
}

func (s *kafkaSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.Bucket.Name + "/" + event.Object.Key),
		Value: body,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to kafka: %w", err)
	}
	return nil
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
