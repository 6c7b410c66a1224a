package object

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/storage"
)

// Sweeper periodically removes orphaned multipart uploads: staging
// directories whose upload was never completed or aborted within the
// configured age, plus directories with an unreadable info record.
type Sweeper struct {
	resolver *storage.Resolver
	maxAge   time.Duration
	interval time.Duration
	logger   *logrus.Logger
}

// NewSweeper creates an orphan-upload sweeper.
func NewSweeper(resolver *storage.Resolver, maxAge, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sweeper{
		resolver: resolver,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{
		"interval": s.interval,
		"max_age":  s.maxAge,
	}).Info("Orphan upload sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Orphan upload sweeper stopped")
			return
		case <-ticker.C:
			removed := s.SweepOnce()
			if removed > 0 {
				s.logger.WithField("removed", removed).Info("Orphan upload sweep completed")
			}
		}
	}
}

// SweepOnce scans every bucket and returns the number of staging
// directories removed.
func (s *Sweeper) SweepOnce() int {
	entries, err := os.ReadDir(s.resolver.Root())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).Warn("Failed to read storage root during sweep")
		}
		return 0
	}

	removed := 0
	cutoff := time.Now().UTC().Add(-s.maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		removed += s.sweepBucket(entry.Name(), cutoff)
	}
	return removed
}

func (s *Sweeper) sweepBucket(bucket string, cutoff time.Time) int {
	uploadsDir := filepath.Join(s.resolver.BucketDir(bucket), storage.UploadsDir)
	entries, err := os.ReadDir(uploadsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WithField("bucket", bucket).Warn("Failed to read uploads directory during sweep")
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uploadID := entry.Name()

		var info UploadInfo
		err := readJSONFile(s.resolver.UploadInfoPath(bucket, uploadID), &info)
		switch {
		case err != nil:
			// No readable info record means nothing can ever complete
			// this upload.
			s.logger.WithError(err).WithFields(logrus.Fields{
				"bucket":    bucket,
				"upload_id": uploadID,
			}).Warn("Removing multipart upload with unreadable info record")
		case info.CreatedAt.Before(cutoff):
			s.logger.WithFields(logrus.Fields{
				"bucket":     bucket,
				"upload_id":  uploadID,
				"key":        info.Key,
				"created_at": info.CreatedAt,
			}).Info("Removing expired multipart upload")
		default:
			continue
		}

		if err := os.RemoveAll(filepath.Join(uploadsDir, uploadID)); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"bucket":    bucket,
				"upload_id": uploadID,
			}).Warn("Failed to remove multipart upload")
			continue
		}
		removed++
	}
	return removed
}
