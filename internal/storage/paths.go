package storage

import (
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

// Resolver maps (bucket, key, versionID) tuples to deterministic paths
// below the storage root. All key handling uses forward slashes; the
// resolver converts to the platform separator at the boundary.
type Resolver struct {
	root string
}

// NewResolver creates a path resolver rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the storage root directory.
func (r *Resolver) Root() string {
	return r.root
}

// BucketDir returns the directory holding a bucket's data and sidecars.
func (r *Resolver) BucketDir(bucket string) string {
	return filepath.Join(r.root, bucket)
}

// ObjectPath resolves the data file for (bucket, key, versionID).
// The "null" version (and an empty versionID) lives at <root>/<bucket>/<key>;
// any other version at <root>/<bucket>/<dir(key)>/<base(key)>@<versionID>.
func (r *Resolver) ObjectPath(bucket, key, versionID string) string {
	rel := key
	if versionID != "" && versionID != NullVersionID {
		dir := path.Dir(key)
		base := path.Base(key) + "@" + versionID
		if dir == "." {
			rel = base
		} else {
			rel = dir + "/" + base
		}
	}
	return filepath.Join(r.root, bucket, filepath.FromSlash(rel))
}

// MetadataPath returns the sidecar metadata file for an object version.
func (r *Resolver) MetadataPath(bucket, key, versionID string) string {
	return r.ObjectPath(bucket, key, versionID) + MetadataSuffix
}

// ACLPath returns the sidecar ACL file for an object version.
func (r *Resolver) ACLPath(bucket, key, versionID string) string {
	return r.ObjectPath(bucket, key, versionID) + ACLSuffix
}

// UploadDir returns the staging directory for a multipart upload.
func (r *Resolver) UploadDir(bucket, uploadID string) string {
	return filepath.Join(r.root, bucket, UploadsDir, uploadID)
}

// UploadInfoPath returns the info.json path for a multipart upload.
func (r *Resolver) UploadInfoPath(bucket, uploadID string) string {
	return filepath.Join(r.UploadDir(bucket, uploadID), UploadInfoFile)
}

// PartPath returns the data file for a multipart upload part.
func (r *Resolver) PartPath(bucket, uploadID string, partNumber int) string {
	return filepath.Join(r.UploadDir(bucket, uploadID), strconv.Itoa(partNumber))
}

// ValidateKey rejects keys that would escape the bucket directory or
// collide with reserved sidecar files.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, comp := range strings.Split(key, "/") {
		if comp == ".." || comp == "." {
			return ErrInvalidKey
		}
	}
	if IsReservedName(key) {
		return ErrInvalidKey
	}
	return nil
}

// IsReservedName reports whether a key (or any of its path components)
// names a sidecar or bookkeeping file.
func IsReservedName(key string) bool {
	if strings.HasSuffix(key, MetadataSuffix) || strings.HasSuffix(key, ACLSuffix) {
		return true
	}
	first := key
	if idx := strings.Index(key, "/"); idx >= 0 {
		first = key[:idx]
	}
	switch first {
	case BucketMetadataFile, BucketACLFile, BucketPolicyFile, VersioningFile, PolicyFile, UploadsDir:
		return true
	}
	base := path.Base(key)
	switch base {
	case BucketMetadataFile, BucketACLFile, BucketPolicyFile, VersioningFile, PolicyFile:
		return true
	}
	return false
}

// SplitVersionedName splits an on-disk file name into (base, versionID).
// Names without an "@" are the null version.
func SplitVersionedName(name string) (string, string) {
	idx := strings.LastIndex(name, "@")
	if idx < 0 {
		return name, NullVersionID
	}
	return name[:idx], name[idx+1:]
}
