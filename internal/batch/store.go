package batch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const jobKeyPrefix = "job:"

// Store is the Badger-backed batch-job ledger. Every mutation goes
// through a transaction so the status machine is enforced atomically.
type Store struct {
	db     *badger.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the job ledger at dir.
func Open(dir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open job ledger: %w", err)
	}
	logger.WithField("dir", dir).Info("Batch job ledger opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a new job in the Pending state and returns it.
func (s *Store) Create(job *Job) (*Job, error) {
	if job.ID == "" {
		job.ID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	job.Status = StatusPending
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	job.Progress.Total = int64(len(job.Keys))

	if err := s.put(job); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"bucket":    job.Bucket,
		"operation": job.Operation,
	}).Info("Batch job created")
	return job, nil
}

// Get returns one job by ID.
func (s *Store) Get(id string) (*Job, error) {
	var job *Job
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = getJob(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns every job, newest first. A non-empty bucket filters by
// bucket.
func (s *Store) List(bucket string) ([]*Job, error) {
	var jobs []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var job Job
				if err := json.Unmarshal(val, &job); err != nil {
					s.logger.WithError(err).Warn("Skipping undecodable job record")
					return nil
				}
				if bucket == "" || job.Bucket == bucket {
					jobs = append(jobs, &job)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// Transition moves a job to a new status, rejecting illegal moves.
// A failure reason may accompany the Failed state.
func (s *Store) Transition(id string, to Status, reason string) (*Job, error) {
	var job *Job
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		job, err = getJob(txn, id)
		if err != nil {
			return err
		}
		if !CanTransition(job.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
		}
		job.Status = to
		job.Error = reason
		job.UpdatedAt = time.Now().UTC()
		return putJob(txn, job)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"job_id": id,
		"status": to,
	}).Info("Batch job transitioned")
	return job, nil
}

// RecordProgress adds completed item counts to an active job. Per-item
// failure reasons are kept up to a small cap.
func (s *Store) RecordProgress(id string, processed, failed int64, reasons ...string) (*Job, error) {
	var job *Job
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		job, err = getJob(txn, id)
		if err != nil {
			return err
		}
		if job.Status != StatusActive && job.Status != StatusCancelling {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, job.Status)
		}
		job.Progress.Processed += processed
		job.Progress.Failed += failed
		for _, reason := range reasons {
			if len(job.FailureReasons) >= maxFailureReasons {
				break
			}
			job.FailureReasons = append(job.FailureReasons, reason)
		}
		job.UpdatedAt = time.Now().UTC()
		return putJob(txn, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Delete removes a job record. Only terminal jobs can be deleted.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		job, err := getJob(txn, id)
		if err != nil {
			return err
		}
		if !job.Status.Terminal() {
			return fmt.Errorf("%w: cannot delete %s job", ErrInvalidTransition, job.Status)
		}
		return txn.Delete([]byte(jobKeyPrefix + id))
	})
}

func (s *Store) put(job *Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putJob(txn, job)
	})
}

func putJob(txn *badger.Txn, job *Job) error {
	val, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return txn.Set([]byte(jobKeyPrefix+job.ID), val)
}

func getJob(txn *badger.Txn, id string) (*Job, error) {
	item, err := txn.Get([]byte(jobKeyPrefix + id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}
	var job Job
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &job) }); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}
