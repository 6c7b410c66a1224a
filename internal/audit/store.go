package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const defaultPageSize = 100

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  DATETIME NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	action     TEXT NOT NULL,
	bucket     TEXT NOT NULL DEFAULT '',
	key        TEXT NOT NULL DEFAULT '',
	version_id TEXT NOT NULL DEFAULT '',
	outcome    TEXT NOT NULL,
	error_code TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
CREATE INDEX IF NOT EXISTS idx_audit_bucket ON audit_log(bucket);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
`

// Store is the SQLite-backed audit ledger.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens (creating if needed) the audit database at path.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// A single writer keeps SQLite happy under concurrency.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	logger.WithField("path", path).Info("Audit ledger opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one entry to the ledger.
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeSuccess
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (timestamp, actor, action, bucket, key, version_id, outcome, error_code, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Actor, entry.Action, entry.Bucket, entry.Key,
		entry.VersionID, entry.Outcome, entry.ErrorCode, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns a page of entries matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) (*Page, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultPageSize
	}

	var (
		conds []string
		args  []interface{}
	)
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Bucket != "" {
		conds = append(conds, "bucket = ?")
		args = append(args, filter.Bucket)
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.Until)
	}
	if filter.Cursor != "" {
		lastID, err := strconv.ParseInt(filter.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", filter.Cursor)
		}
		conds = append(conds, "id < ?")
		args = append(args, lastID)
	}

	query := "SELECT id, timestamp, actor, action, bucket, key, version_id, outcome, error_code, detail FROM audit_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	// One extra row decides truncation.
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Bucket,
			&e.Key, &e.VersionID, &e.Outcome, &e.ErrorCode, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		page.Entries = append(page.Entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}

	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.NextCursor = strconv.FormatInt(page.Entries[limit-1].ID, 10)
	}
	return page, nil
}

// Purge deletes entries older than cutoff and returns how many went.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed": n,
			"cutoff":  cutoff,
		}).Info("Audit ledger purged")
	}
	return n, nil
}

// RunRetention purges expired entries once a day until ctx is done.
// retentionDays <= 0 disables the job.
func (s *Store) RunRetention(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			if _, err := s.Purge(ctx, cutoff); err != nil {
				s.logger.WithError(err).Warn("Audit retention purge failed")
			}
		}
	}
}
