package object

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/storage"
)

// Multipart limits, matching the S3 protocol.
const (
	MinPartNumber = 1
	MaxPartNumber = 10000
)

// CreateMultipartUpload stages a new multipart upload and returns its
// upload ID.
func (m *Manager) CreateMultipartUpload(ctx context.Context, bucket, key, owner string, opts PutOptions) (*UploadInfo, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := validateSSE(opts.SSEAlgorithm); err != nil {
		return nil, err
	}
	if err := m.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	info := &UploadInfo{
		UploadID:     NewUploadID(),
		Bucket:       bucket,
		Key:          key,
		Owner:        owner,
		ContentType:  opts.ContentType,
		StorageClass: defaultStorageClass(opts.StorageClass),
		Metadata:     lowercaseKeys(opts.Metadata),
		Tags:         opts.Tags,
		SSEAlgorithm: opts.SSEAlgorithm,
		SSEKeyID:     opts.SSEKeyID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := writeJSONFile(m.resolver.UploadInfoPath(bucket, info.UploadID), info); err != nil {
		return nil, fmt.Errorf("failed to create multipart upload: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"bucket":    bucket,
		"key":       key,
		"upload_id": info.UploadID,
	}).Info("Multipart upload created")
	return info, nil
}

// UploadPart streams one part into the upload's staging directory.
// Re-uploading a part number replaces the earlier part.
func (m *Manager) UploadPart(ctx context.Context, bucket, uploadID string, partNumber int, data io.Reader) (*Part, error) {
	if partNumber < MinPartNumber || partNumber > MaxPartNumber {
		return nil, fmt.Errorf("%w: part number must be between %d and %d",
			metadata.ErrInvalidArgument, MinPartNumber, MaxPartNumber)
	}
	if _, err := m.getUpload(bucket, uploadID); err != nil {
		return nil, err
	}

	path := m.resolver.PartPath(bucket, uploadID, partNumber)
	result, err := m.engine.Write(ctx, path, data)
	if err != nil {
		return nil, err
	}

	part := &Part{
		PartNumber:   partNumber,
		Size:         result.Size,
		ETag:         result.SHA256,
		LastModified: time.Now().UTC(),
	}
	if err := writeJSONFile(path+storage.MetadataSuffix, part); err != nil {
		return nil, fmt.Errorf("failed to record part: %w", err)
	}
	return part, nil
}

// UploadPartCopy stages a part from an existing object, optionally
// restricted to a byte range.
func (m *Manager) UploadPartCopy(ctx context.Context, bucket, uploadID string, partNumber int, srcBucket, srcKey, srcVersionID string, rng *Range) (*Part, error) {
	_, reader, _, err := m.Get(ctx, srcBucket, srcKey, srcVersionID, rng)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return m.UploadPart(ctx, bucket, uploadID, partNumber, reader)
}

// ListParts returns the staged parts of an upload, ascending by part
// number, starting after partNumberMarker.
func (m *Manager) ListParts(ctx context.Context, bucket, uploadID string, partNumberMarker, maxParts int) ([]*Part, bool, error) {
	if _, err := m.getUpload(bucket, uploadID); err != nil {
		return nil, false, err
	}
	if maxParts <= 0 || maxParts > MaxPartNumber {
		maxParts = MaxPartNumber
	}

	parts, err := m.stagedParts(bucket, uploadID)
	if err != nil {
		return nil, false, err
	}

	out := make([]*Part, 0, len(parts))
	truncated := false
	for _, p := range parts {
		if p.PartNumber <= partNumberMarker {
			continue
		}
		if len(out) == maxParts {
			truncated = true
			break
		}
		out = append(out, p)
	}
	return out, truncated, nil
}

// ListMultipartUploads returns the in-progress uploads of a bucket whose
// keys match prefix, ordered by key then upload ID.
func (m *Manager) ListMultipartUploads(ctx context.Context, bucket, prefix string) ([]*UploadInfo, error) {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.resolver.BucketDir(bucket), storage.UploadsDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read uploads directory: %w", err)
	}

	uploads := make([]*UploadInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var info UploadInfo
		if err := readJSONFile(m.resolver.UploadInfoPath(bucket, entry.Name()), &info); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"bucket":    bucket,
				"upload_id": entry.Name(),
			}).Warn("Skipping unreadable multipart upload")
			continue
		}
		if !strings.HasPrefix(info.Key, prefix) {
			continue
		}
		uploads = append(uploads, &info)
	}

	sort.Slice(uploads, func(i, j int) bool {
		if uploads[i].Key != uploads[j].Key {
			return uploads[i].Key < uploads[j].Key
		}
		return uploads[i].UploadID < uploads[j].UploadID
	})
	return uploads, nil
}

// CompleteMultipartUpload assembles the listed parts, in order, into the
// final object and removes the staging directory. The object's ETag is
// the SHA-256 of the whole assembly suffixed with the part count.
func (m *Manager) CompleteMultipartUpload(ctx context.Context, bucket, uploadID, key string, parts []CompletePart) (*metadata.ObjectMetadata, error) {
	info, err := m.getUpload(bucket, uploadID)
	if err != nil {
		return nil, err
	}
	if key != "" && key != info.Key {
		return nil, fmt.Errorf("%w: upload %s belongs to key %q", metadata.ErrInvalidArgument, uploadID, info.Key)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: at least one part is required", metadata.ErrInvalidArgument)
	}

	staged, err := m.stagedParts(bucket, uploadID)
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]*Part, len(staged))
	for _, p := range staged {
		byNumber[p.PartNumber] = p
	}

	sources := make([]string, 0, len(parts))
	var totalSize int64
	prev := 0
	for _, cp := range parts {
		if cp.PartNumber <= prev {
			return nil, fmt.Errorf("%w: part %d after part %d", ErrInvalidPartOrder, cp.PartNumber, prev)
		}
		prev = cp.PartNumber

		p, ok := byNumber[cp.PartNumber]
		if !ok {
			return nil, fmt.Errorf("%w: part %d was never uploaded", ErrInvalidPart, cp.PartNumber)
		}
		if trimETag(cp.ETag) != p.ETag {
			return nil, fmt.Errorf("%w: part %d etag mismatch", ErrInvalidPart, cp.PartNumber)
		}
		sources = append(sources, m.resolver.PartPath(bucket, uploadID, cp.PartNumber))
		totalSize += p.Size
	}

	bucketMeta, err := m.store.GetBucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	versioning, err := m.store.GetVersioning(ctx, bucket)
	if err != nil {
		return nil, err
	}
	versionID := storage.NullVersionID
	if versioning.Enabled() {
		versionID = newVersionID()
	} else if existing, err := m.store.GetLatest(ctx, bucket, info.Key); err == nil && !existing.IsDeleteMarker {
		if err := checkLock(existing, false); err != nil {
			return nil, err
		}
	}

	dst := m.resolver.ObjectPath(bucket, info.Key, versionID)
	result, err := m.engine.Concat(ctx, dst, sources)
	if err != nil {
		// A failed assembly leaves the upload intact for a retry.
		return nil, err
	}
	if result.Size != totalSize {
		m.engine.Remove(dst)
		return nil, fmt.Errorf("%w: assembled %d bytes, expected %d", ErrInternal, result.Size, totalSize)
	}

	obj := &metadata.ObjectMetadata{
		Bucket:       bucket,
		Key:          info.Key,
		VersionID:    versionID,
		Size:         result.Size,
		LastModified: time.Now().UTC(),
		ETag:         fmt.Sprintf("%s-%d", result.SHA256, len(parts)),
		ContentType:  info.ContentType,
		StorageClass: info.StorageClass,
		Owner:        info.Owner,
		IsLatest:     true,
		Metadata:     info.Metadata,
		Tags:         info.Tags,
		Checksum: &metadata.ChecksumMetadata{
			Algorithm: "SHA256",
			Value:     result.SHA256,
		},
		SSEAlgorithm: info.SSEAlgorithm,
		SSEKeyID:     info.SSEKeyID,
	}
	applyDefaultRetention(obj, bucketMeta.ObjectLock)

	if err := m.store.SaveObject(ctx, obj); err != nil {
		m.engine.Remove(dst)
		return nil, fmt.Errorf("failed to save object metadata: %w", err)
	}

	if err := os.RemoveAll(m.resolver.UploadDir(bucket, uploadID)); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"bucket":    bucket,
			"upload_id": uploadID,
		}).Warn("Failed to remove completed upload staging directory")
	}

	m.logger.WithFields(logrus.Fields{
		"bucket":     bucket,
		"key":        info.Key,
		"upload_id":  uploadID,
		"version_id": versionID,
		"parts":      len(parts),
		"size":       result.Size,
	}).Info("Multipart upload completed")
	return obj, nil
}

// AbortMultipartUpload discards an upload and all staged parts. Aborting
// an unknown upload succeeds.
func (m *Manager) AbortMultipartUpload(ctx context.Context, bucket, uploadID string) error {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return err
	}
	if err := os.RemoveAll(m.resolver.UploadDir(bucket, uploadID)); err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"bucket":    bucket,
		"upload_id": uploadID,
	}).Info("Multipart upload aborted")
	return nil
}

// getUpload loads an upload's info record.
func (m *Manager) getUpload(bucket, uploadID string) (*UploadInfo, error) {
	var info UploadInfo
	if err := readJSONFile(m.resolver.UploadInfoPath(bucket, uploadID), &info); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUploadNotFound
		}
		m.logger.WithError(err).WithFields(logrus.Fields{
			"bucket":    bucket,
			"upload_id": uploadID,
		}).Warn("Unreadable multipart upload info")
		return nil, ErrUploadNotFound
	}
	return &info, nil
}

// stagedParts reads the part records of an upload, ascending by number.
func (m *Manager) stagedParts(bucket, uploadID string) ([]*Part, error) {
	dir := m.resolver.UploadDir(bucket, uploadID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to read upload directory: %w", err)
	}

	parts := make([]*Part, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, storage.MetadataSuffix) {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSuffix(name, storage.MetadataSuffix)); err != nil {
			continue
		}
		var part Part
		if err := readJSONFile(filepath.Join(dir, name), &part); err != nil {
			m.logger.WithError(err).WithField("part", name).Warn("Skipping unreadable part record")
			continue
		}
		parts = append(parts, &part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func writeJSONFile(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
