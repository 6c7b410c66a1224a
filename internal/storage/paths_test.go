package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateKey(t *testing.T) {
	valid := []string{
		"file.txt",
		"photos/2024/trip.jpg",
		"a",
		"deep/nested/path/with/many/segments/object.bin",
		"spaces are fine.txt",
		"metadata", // only the suffix is reserved
	}
	for _, key := range valid {
		t.Run("valid/"+key, func(t *testing.T) {
			assert.NoError(t, ValidateKey(key))
		})
	}

	invalid := []string{
		"",
		"/leading-slash",
		"../escape",
		"a/../b",
		"a/./b",
		"file.metadata",
		"dir/file.acl",
		".bucket_metadata",
		".uploads/sneaky",
		"dir/.bucket_acl",
		"versioning.json",
		"policy.json",
	}
	for _, key := range invalid {
		t.Run("invalid/"+key, func(t *testing.T) {
			assert.ErrorIs(t, ValidateKey(key), ErrInvalidKey)
		})
	}
}

func TestIsReservedName(t *testing.T) {
	assert.True(t, IsReservedName(".bucket_metadata"))
	assert.True(t, IsReservedName(".uploads/abc/1"))
	assert.True(t, IsReservedName("any/path/file.metadata"))
	assert.False(t, IsReservedName("uploads/file.txt"))
	assert.False(t, IsReservedName("policy.json.bak"))
}

func TestResolverObjectPath(t *testing.T) {
	r := NewResolver("/data")

	t.Run("null version is the bare key", func(t *testing.T) {
		assert.Equal(t, filepath.Join("/data", "photos", "a", "b.jpg"),
			r.ObjectPath("photos", "a/b.jpg", NullVersionID))
		assert.Equal(t, r.ObjectPath("photos", "a/b.jpg", ""),
			r.ObjectPath("photos", "a/b.jpg", NullVersionID))
	})

	t.Run("explicit version suffixes the base name", func(t *testing.T) {
		assert.Equal(t, filepath.Join("/data", "photos", "a", "b.jpg@v123"),
			r.ObjectPath("photos", "a/b.jpg", "v123"))
		assert.Equal(t, filepath.Join("/data", "photos", "top.txt@v9"),
			r.ObjectPath("photos", "top.txt", "v9"))
	})

	t.Run("sidecars sit next to the data file", func(t *testing.T) {
		assert.Equal(t, r.ObjectPath("b", "k", "v1")+MetadataSuffix, r.MetadataPath("b", "k", "v1"))
		assert.Equal(t, r.ObjectPath("b", "k", "v1")+ACLSuffix, r.ACLPath("b", "k", "v1"))
	})

	t.Run("upload paths", func(t *testing.T) {
		assert.Equal(t, filepath.Join("/data", "b", UploadsDir, "u1"), r.UploadDir("b", "u1"))
		assert.Equal(t, filepath.Join("/data", "b", UploadsDir, "u1", UploadInfoFile), r.UploadInfoPath("b", "u1"))
		assert.Equal(t, filepath.Join("/data", "b", UploadsDir, "u1", "7"), r.PartPath("b", "u1", 7))
	})
}

func TestSplitVersionedName(t *testing.T) {
	base, vid := SplitVersionedName("report.pdf@abc123")
	assert.Equal(t, "report.pdf", base)
	assert.Equal(t, "abc123", vid)

	base, vid = SplitVersionedName("plain.txt")
	assert.Equal(t, "plain.txt", base)
	assert.Equal(t, NullVersionID, vid)

	// "@" in the key itself: last separator wins
	base, vid = SplitVersionedName("user@example.com@v1")
	assert.Equal(t, "user@example.com", base)
	assert.Equal(t, "v1", vid)
}
