package object

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/storage"
)

// VerifyIntegrity re-hashes the stored data of an object version and
// compares it against the recorded checksum. Multipart objects carry a
// composite ETag, so verification relies on the checksum record written
// at assembly time.
func (m *Manager) VerifyIntegrity(ctx context.Context, bucket, key, versionID string) (*IntegrityResult, error) {
	obj, err := m.head(ctx, bucket, key, versionID)
	if err != nil {
		return nil, err
	}

	stored := ""
	if obj.Checksum != nil {
		stored = obj.Checksum.Value
	} else if !strings.Contains(obj.ETag, "-") {
		stored = obj.ETag
	}

	path := m.resolver.ObjectPath(bucket, key, obj.VersionID)
	actual, err := m.engine.Hash(path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return &IntegrityResult{
				Bucket:         bucket,
				Key:            key,
				VersionID:      obj.VersionID,
				BitrotDetected: true,
				StoredChecksum: stored,
				CheckedAt:      time.Now().UTC(),
			}, nil
		}
		return nil, err
	}

	result := &IntegrityResult{
		Bucket:         bucket,
		Key:            key,
		VersionID:      obj.VersionID,
		StoredChecksum: stored,
		ActualChecksum: actual,
		CheckedAt:      time.Now().UTC(),
	}
	if stored == "" {
		// Nothing recorded to compare against; report the fresh hash.
		result.IsValid = true
		return result, nil
	}
	result.IsValid = stored == actual
	result.BitrotDetected = !result.IsValid

	if result.BitrotDetected {
		m.logger.WithFields(logrus.Fields{
			"bucket":     bucket,
			"key":        key,
			"version_id": obj.VersionID,
			"stored":     stored,
			"actual":     actual,
		}).Warn("Object integrity check failed")
	}
	return result, nil
}
