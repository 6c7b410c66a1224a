package core

import (
	"context"
	"fmt"
	"time"

	"github.com/stratafs/stratafs/internal/audit"
	"github.com/stratafs/stratafs/internal/batch"
	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/object"
)

// SubmitJob records a batch job and runs it in the background. Jobs
// with a prefix and no explicit keys get their manifest expanded from
// the current listing at submission time.
func (c *Core) SubmitJob(ctx context.Context, job *batch.Job, actor string) (*batch.Job, error) {
	start := time.Now()
	job.Submitter = actor

	if len(job.Keys) == 0 && job.Prefix != "" {
		keys, err := c.expandPrefix(ctx, job.Bucket, job.Prefix)
		if err != nil {
			c.finish(ctx, "SubmitJob", actor, job.Bucket, "", "", start, err)
			return nil, err
		}
		job.Keys = keys
	}

	created, err := c.jobs.Create(job)
	c.finish(ctx, "SubmitJob", actor, job.Bucket, "", "", start, err)
	if err != nil {
		return nil, err
	}

	go func() {
		if _, err := c.runner.Run(context.Background(), created.ID); err != nil {
			c.logger.WithError(err).WithField("job_id", created.ID).Warn("Batch job run failed")
		}
	}()
	return created, nil
}

// GetJob returns one job record.
func (c *Core) GetJob(id string) (*batch.Job, error) {
	return c.jobs.Get(id)
}

// ListJobs lists jobs, newest first, optionally filtered by bucket.
func (c *Core) ListJobs(bucket string) ([]*batch.Job, error) {
	return c.jobs.List(bucket)
}

// CancelJob asks an active job to stop. The runner finishes the move to
// Cancelled at its next checkpoint.
func (c *Core) CancelJob(ctx context.Context, id, actor string) (*batch.Job, error) {
	start := time.Now()
	job, err := c.jobs.Transition(id, batch.StatusCancelling, "cancelled by "+actor)
	bucketName := ""
	if job != nil {
		bucketName = job.Bucket
	}
	c.finish(ctx, "CancelJob", actor, bucketName, "", "", start, err)
	return job, err
}

// PauseJob suspends an active job before its next item.
func (c *Core) PauseJob(ctx context.Context, id, actor string) (*batch.Job, error) {
	start := time.Now()
	job, err := c.jobs.Transition(id, batch.StatusPaused, "paused by "+actor)
	bucketName := ""
	if job != nil {
		bucketName = job.Bucket
	}
	c.finish(ctx, "PauseJob", actor, bucketName, "", "", start, err)
	return job, err
}

// ResumeJob returns a paused job to Active.
func (c *Core) ResumeJob(ctx context.Context, id, actor string) (*batch.Job, error) {
	start := time.Now()
	job, err := c.jobs.Transition(id, batch.StatusActive, "")
	bucketName := ""
	if job != nil {
		bucketName = job.Bucket
	}
	c.finish(ctx, "ResumeJob", actor, bucketName, "", "", start, err)
	return job, err
}

// DeleteJob removes a terminal job record.
func (c *Core) DeleteJob(ctx context.Context, id, actor string) error {
	start := time.Now()
	err := c.jobs.Delete(id)
	c.finish(ctx, "DeleteJob", actor, "", "", "", start, err)
	return err
}

// executeJobItem applies a job's operation to one key.
func (c *Core) executeJobItem(ctx context.Context, job *batch.Job, key string) error {
	switch job.Operation {
	case batch.OperationDelete:
		_, err := c.DeleteObject(ctx, job.Bucket, key, "", job.Submitter, false)
		return err
	case batch.OperationCopy:
		target := job.Params["target_bucket"]
		if target == "" {
			return fmt.Errorf("%w: copy job needs a target_bucket param", metadata.ErrInvalidArgument)
		}
		_, err := c.CopyObject(ctx, job.Bucket, key, "", target, key, job.Submitter, object.CopyOptions{})
		return err
	case batch.OperationRetag:
		return c.PutObjectTagging(ctx, job.Bucket, key, "", job.Submitter, job.Params)
	case batch.OperationRetention:
		mode := metadata.RetentionMode(job.Params["mode"])
		until, err := time.Parse(time.RFC3339, job.Params["retain_until"])
		if err != nil {
			return fmt.Errorf("%w: bad retain_until param: %v", metadata.ErrInvalidArgument, err)
		}
		return c.PutObjectRetention(ctx, job.Bucket, key, "", job.Submitter,
			&metadata.RetentionMetadata{Mode: mode, RetainUntilDate: until}, false)
	}
	return fmt.Errorf("%w: unknown job operation %q", metadata.ErrInvalidArgument, job.Operation)
}

// expandPrefix walks the listing to build a job manifest.
func (c *Core) expandPrefix(ctx context.Context, bucketName, prefix string) ([]string, error) {
	var keys []string
	opts := metadata.ListOptions{Bucket: bucketName, Prefix: prefix, MaxKeys: c.cfg.Storage.DefaultMaxKeys}
	for {
		page, err := c.store.ListObjects(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated {
			return keys, nil
		}
		opts.ContinuationToken = page.NextContinuationToken
	}
}

// AuditLog queries the audit ledger.
func (c *Core) AuditLog(ctx context.Context, filter audit.Filter) (*audit.Page, error) {
	return c.auditLog.List(ctx, filter)
}
