package object

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/metadata"
)

// checkLock decides whether a version may be removed or overwritten.
// A legal hold always blocks. COMPLIANCE retention blocks until the
// retain-until date passes; GOVERNANCE retention blocks unless the
// caller explicitly bypasses it.
func checkLock(obj *metadata.ObjectMetadata, bypassGovernance bool) error {
	if obj.LegalHold == metadata.LegalHoldOn {
		return fmt.Errorf("%w: object is under legal hold", ErrAccessDenied)
	}
	r := obj.Retention
	if r == nil || !time.Now().UTC().Before(r.RetainUntilDate) {
		return nil
	}
	switch r.Mode {
	case metadata.RetentionCompliance:
		return fmt.Errorf("%w: object is under COMPLIANCE retention until %s",
			ErrAccessDenied, r.RetainUntilDate.Format(time.RFC3339))
	case metadata.RetentionGovernance:
		if bypassGovernance {
			return nil
		}
		return fmt.Errorf("%w: object is under GOVERNANCE retention until %s",
			ErrAccessDenied, r.RetainUntilDate.Format(time.RFC3339))
	}
	return nil
}

// GetRetention returns the retention record of an object version, nil
// when none is set.
func (m *Manager) GetRetention(ctx context.Context, bucket, key, versionID string) (*metadata.RetentionMetadata, error) {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}
	return obj.Retention, nil
}

// PutRetention sets or extends the retention of an object version.
// COMPLIANCE retention can never be shortened or downgraded; shortening
// GOVERNANCE retention requires the bypass flag.
func (m *Manager) PutRetention(ctx context.Context, bucket, key, versionID string, retention *metadata.RetentionMetadata, bypassGovernance bool) error {
	if retention != nil {
		if retention.Mode != metadata.RetentionGovernance && retention.Mode != metadata.RetentionCompliance {
			return fmt.Errorf("%w: unknown retention mode %q", metadata.ErrInvalidArgument, retention.Mode)
		}
		if !retention.RetainUntilDate.After(time.Now().UTC()) {
			return fmt.Errorf("%w: retain until date must be in the future", metadata.ErrInvalidArgument)
		}
	}

	err := m.updateObject(ctx, bucket, key, versionID, func(obj *metadata.ObjectMetadata) error {
		if err := checkRetentionChange(obj.Retention, retention, bypassGovernance); err != nil {
			return err
		}
		obj.Retention = retention
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"bucket":     bucket,
		"key":        key,
		"version_id": versionID,
	}).Info("Object retention updated")
	return nil
}

// checkRetentionChange validates a transition between retention records.
func checkRetentionChange(current, next *metadata.RetentionMetadata, bypassGovernance bool) error {
	if current == nil || !time.Now().UTC().Before(current.RetainUntilDate) {
		return nil
	}
	switch current.Mode {
	case metadata.RetentionCompliance:
		if next == nil || next.Mode != metadata.RetentionCompliance || next.RetainUntilDate.Before(current.RetainUntilDate) {
			return fmt.Errorf("%w: COMPLIANCE retention cannot be shortened or removed", ErrAccessDenied)
		}
	case metadata.RetentionGovernance:
		if bypassGovernance {
			return nil
		}
		if next == nil || next.RetainUntilDate.Before(current.RetainUntilDate) {
			return fmt.Errorf("%w: shortening GOVERNANCE retention requires bypass", ErrAccessDenied)
		}
	}
	return nil
}

// GetLegalHold returns the legal-hold status of an object version,
// defaulting to OFF.
func (m *Manager) GetLegalHold(ctx context.Context, bucket, key, versionID string) (metadata.LegalHoldStatus, error) {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return "", err
	}
	if obj.LegalHold == "" {
		return metadata.LegalHoldOff, nil
	}
	return obj.LegalHold, nil
}

// PutLegalHold flips the legal-hold status of an object version.
func (m *Manager) PutLegalHold(ctx context.Context, bucket, key, versionID string, status metadata.LegalHoldStatus) error {
	if status != metadata.LegalHoldOn && status != metadata.LegalHoldOff {
		return fmt.Errorf("%w: legal hold status must be ON or OFF", metadata.ErrInvalidArgument)
	}
	err := m.updateObject(ctx, bucket, key, versionID, func(obj *metadata.ObjectMetadata) error {
		obj.LegalHold = status
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"bucket":     bucket,
		"key":        key,
		"version_id": versionID,
		"status":     status,
	}).Info("Object legal hold updated")
	return nil
}
