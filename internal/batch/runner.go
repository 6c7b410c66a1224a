package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Executor performs a job's operation on a single key.
type Executor interface {
	ExecuteItem(ctx context.Context, job *Job, key string) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job *Job, key string) error

func (f ExecutorFunc) ExecuteItem(ctx context.Context, job *Job, key string) error {
	return f(ctx, job, key)
}

// Runner drives a job through its lifecycle, one item at a time.
type Runner struct {
	store  *Store
	exec   Executor
	logger *logrus.Logger

	// pausePoll is how often a paused job is re-checked.
	pausePoll time.Duration
}

// NewRunner creates a job runner.
func NewRunner(store *Store, exec Executor, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{store: store, exec: exec, logger: logger, pausePoll: 250 * time.Millisecond}
}

// Run executes one job to completion: Pending → Preparing → Ready →
// Active, then one item at a time. A cancelled context or an externally
// requested Cancelling both land the job in Cancelled; a Paused job
// blocks until resumed. Per-item failures are counted, and a job with
// nothing but failures ends up Failed.
func (r *Runner) Run(ctx context.Context, id string) (*Job, error) {
	job, err := r.store.Transition(id, StatusPreparing, "")
	if err != nil {
		return nil, err
	}
	if _, err := r.store.Transition(id, StatusReady, ""); err != nil {
		return nil, err
	}
	if _, err := r.store.Transition(id, StatusActive, ""); err != nil {
		return nil, err
	}

	var processed, failed int64
	var reasons []string
	for _, key := range job.Keys {
		if stopped, err := r.checkpoint(ctx, id, processed, failed, reasons); stopped || err != nil {
			if err != nil {
				return nil, err
			}
			return r.store.Get(id)
		}

		if err := r.exec.ExecuteItem(ctx, job, key); err != nil {
			failed++
			if len(reasons) < maxFailureReasons {
				reasons = append(reasons, fmt.Sprintf("%s: %v", key, err))
			}
			r.logger.WithError(err).WithFields(logrus.Fields{
				"job_id":    id,
				"bucket":    job.Bucket,
				"key":       key,
				"operation": job.Operation,
			}).Warn("Batch job item failed")
		} else {
			processed++
		}
	}

	if _, err := r.store.RecordProgress(id, processed, failed, reasons...); err != nil {
		return nil, err
	}
	final, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	if final.Status == StatusCancelling {
		// Cancel arrived after the last item; honor it.
		return r.store.Transition(id, StatusCancelled, "")
	}
	if failed > 0 && processed == 0 && len(job.Keys) > 0 {
		return r.store.Transition(id, StatusFailed, fmt.Sprintf("all %d items failed", failed))
	}
	return r.store.Transition(id, StatusComplete, "")
}

// checkpoint handles cancellation and pausing between items. It returns
// stopped=true once the job has been moved to a terminal state.
func (r *Runner) checkpoint(ctx context.Context, id string, processed, failed int64, reasons []string) (bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return true, r.cancel(id, processed, failed, reasons, err.Error())
		}

		job, err := r.store.Get(id)
		if err != nil {
			return false, err
		}
		switch job.Status {
		case StatusCancelling:
			return true, r.cancel(id, processed, failed, reasons, "")
		case StatusPaused:
			select {
			case <-ctx.Done():
			case <-time.After(r.pausePoll):
			}
			continue
		default:
			return false, nil
		}
	}
}

func (r *Runner) cancel(id string, processed, failed int64, reasons []string, reason string) error {
	if _, err := r.store.RecordProgress(id, processed, failed, reasons...); err != nil {
		r.logger.WithError(err).WithField("job_id", id).Warn("Failed to record job progress")
	}
	job, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status == StatusActive {
		if _, err := r.store.Transition(id, StatusCancelling, reason); err != nil {
			return err
		}
	}
	_, err = r.store.Transition(id, StatusCancelled, reason)
	return err
}
