package metadata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafs/stratafs/internal/storage"
)

func newTestStore(t *testing.T) *SidecarStore {
	t.Helper()
	return NewSidecarStore(storage.NewResolver(t.TempDir()), nil)
}

func mustCreateBucket(t *testing.T, s *SidecarStore, name string) {
	t.Helper()
	require.NoError(t, s.CreateBucket(context.Background(), &BucketMetadata{Name: name, Owner: "tester"}))
}

func saveObject(t *testing.T, s *SidecarStore, bucket, key, versionID string, modified time.Time, latest, marker bool) *ObjectMetadata {
	t.Helper()
	obj := &ObjectMetadata{
		Bucket:         bucket,
		Key:            key,
		VersionID:      versionID,
		Size:           int64(len(key)),
		LastModified:   modified,
		ETag:           "etag-" + versionID,
		IsLatest:       latest,
		IsDeleteMarker: marker,
	}
	require.NoError(t, s.SaveObject(context.Background(), obj))
	return obj
}

func TestBucketLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		mustCreateBucket(t, s, "alpha")
		b, err := s.GetBucket(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, "alpha", b.Name)
		assert.Equal(t, "tester", b.Owner)
		assert.False(t, b.CreatedAt.IsZero())
	})

	t.Run("duplicate create fails", func(t *testing.T) {
		err := s.CreateBucket(ctx, &BucketMetadata{Name: "alpha"})
		assert.ErrorIs(t, err, ErrBucketAlreadyExists)
	})

	t.Run("missing bucket", func(t *testing.T) {
		_, err := s.GetBucket(ctx, "nope")
		assert.ErrorIs(t, err, ErrBucketNotFound)

		exists, err := s.BucketExists(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("list is sorted", func(t *testing.T) {
		mustCreateBucket(t, s, "zeta")
		mustCreateBucket(t, s, "beta")

		buckets, err := s.ListBuckets(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(buckets))
		for _, b := range buckets {
			names = append(names, b.Name)
		}
		assert.Equal(t, []string{"alpha", "beta", "zeta"}, names)
	})

	t.Run("delete refuses non-empty", func(t *testing.T) {
		saveObject(t, s, "beta", "doc.txt", storage.NullVersionID, time.Now(), true, false)
		assert.ErrorIs(t, s.DeleteBucket(ctx, "beta"), ErrBucketNotEmpty)

		require.NoError(t, s.DeleteObject(ctx, "beta", "doc.txt", storage.NullVersionID))
		// The data file would be gone too in real use; only sidecars exist here.
		require.NoError(t, s.DeleteBucket(ctx, "beta"))
		_, err := s.GetBucket(ctx, "beta")
		assert.ErrorIs(t, err, ErrBucketNotFound)
	})

	t.Run("delete ignores reserved bookkeeping files", func(t *testing.T) {
		mustCreateBucket(t, s, "gamma")
		require.NoError(t, s.PutVersioning(ctx, "gamma", &VersioningMetadata{Status: VersioningEnabled}))
		require.NoError(t, s.PutBucketPolicy(ctx, "gamma", &PolicyDocument{Version: "2012-10-17",
			Statement: []PolicyStatement{{Effect: "Allow", Action: "s3:*", Resource: "*"}}}))
		assert.NoError(t, s.DeleteBucket(ctx, "gamma"))
	})
}

func TestObjectVersionRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateBucket(t, s, "docs")
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("save and get by version", func(t *testing.T) {
		saveObject(t, s, "docs", "a/report.pdf", "v1", base, true, false)

		obj, err := s.GetObject(ctx, "docs", "a/report.pdf", "v1")
		require.NoError(t, err)
		assert.Equal(t, "v1", obj.VersionID)
		assert.True(t, obj.IsLatest)
	})

	t.Run("new latest demotes prior latest", func(t *testing.T) {
		saveObject(t, s, "docs", "a/report.pdf", "v2", base.Add(time.Minute), true, false)

		v1, err := s.GetObject(ctx, "docs", "a/report.pdf", "v1")
		require.NoError(t, err)
		assert.False(t, v1.IsLatest)

		latest, err := s.GetLatest(ctx, "docs", "a/report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "v2", latest.VersionID)
	})

	t.Run("versions come back newest first", func(t *testing.T) {
		versions, err := s.ListKeyVersions(ctx, "docs", "a/report.pdf")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, "v2", versions[0].VersionID)
		assert.Equal(t, "v1", versions[1].VersionID)
	})

	t.Run("latest delete marker hides the key", func(t *testing.T) {
		saveObject(t, s, "docs", "a/report.pdf", "v3", base.Add(2*time.Minute), true, true)

		_, err := s.GetObject(ctx, "docs", "a/report.pdf", "")
		assert.ErrorIs(t, err, ErrObjectNotFound)

		// GetLatest still surfaces the marker record.
		latest, err := s.GetLatest(ctx, "docs", "a/report.pdf")
		require.NoError(t, err)
		assert.True(t, latest.IsDeleteMarker)

		// The marker is version-addressable.
		marker, err := s.GetObject(ctx, "docs", "a/report.pdf", "v3")
		require.NoError(t, err)
		assert.True(t, marker.IsDeleteMarker)
	})

	t.Run("deleting the latest promotes the next", func(t *testing.T) {
		require.NoError(t, s.DeleteObject(ctx, "docs", "a/report.pdf", "v3"))

		latest, err := s.GetLatest(ctx, "docs", "a/report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "v2", latest.VersionID)
		assert.True(t, latest.IsLatest)
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := s.GetObject(ctx, "docs", "a/report.pdf", "v99")
		assert.ErrorIs(t, err, ErrVersionNotFound)
		assert.ErrorIs(t, s.DeleteObject(ctx, "docs", "a/report.pdf", "v99"), ErrVersionNotFound)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := s.GetLatest(ctx, "docs", "missing.txt")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("corrupt sidecar is reported", func(t *testing.T) {
		saveObject(t, s, "docs", "broken.bin", storage.NullVersionID, base, true, false)
		metaPath := filepath.Join(s.resolver.BucketDir("docs"), "broken.bin.metadata")
		require.NoError(t, os.WriteFile(metaPath, []byte("{not json"), 0644))

		_, err := s.GetObject(ctx, "docs", "broken.bin", storage.NullVersionID)
		assert.ErrorIs(t, err, ErrCorruptSidecar)
	})
}

func TestBucketConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateBucket(t, s, "cfg")

	t.Run("versioning defaults to not enabled", func(t *testing.T) {
		v, err := s.GetVersioning(ctx, "cfg")
		require.NoError(t, err)
		assert.Equal(t, VersioningNotEnabled, v.Status)
		assert.False(t, v.Enabled())
	})

	t.Run("versioning round trip", func(t *testing.T) {
		require.NoError(t, s.PutVersioning(ctx, "cfg", &VersioningMetadata{Status: VersioningEnabled}))
		v, err := s.GetVersioning(ctx, "cfg")
		require.NoError(t, err)
		assert.True(t, v.Enabled())

		require.NoError(t, s.PutVersioning(ctx, "cfg", &VersioningMetadata{Status: VersioningSuspended}))
		v, err = s.GetVersioning(ctx, "cfg")
		require.NoError(t, err)
		assert.Equal(t, VersioningSuspended, v.Status)
		assert.False(t, v.Enabled())
	})

	t.Run("policy lifecycle", func(t *testing.T) {
		_, err := s.GetBucketPolicy(ctx, "cfg")
		assert.ErrorIs(t, err, ErrNoSuchBucketPolicy)

		policy := &PolicyDocument{Version: "2012-10-17",
			Statement: []PolicyStatement{{Effect: "Deny", Action: "s3:DeleteObject", Resource: "*"}}}
		require.NoError(t, s.PutBucketPolicy(ctx, "cfg", policy))

		got, err := s.GetBucketPolicy(ctx, "cfg")
		require.NoError(t, err)
		assert.Equal(t, "Deny", got.Statement[0].Effect)

		require.NoError(t, s.DeleteBucketPolicy(ctx, "cfg"))
		_, err = s.GetBucketPolicy(ctx, "cfg")
		assert.ErrorIs(t, err, ErrNoSuchBucketPolicy)

		// Idempotent on a bucket with no policy.
		assert.NoError(t, s.DeleteBucketPolicy(ctx, "cfg"))
	})

	t.Run("default bucket acl is private", func(t *testing.T) {
		acl, err := s.GetBucketACL(ctx, "cfg")
		require.NoError(t, err)
		assert.Equal(t, "tester", acl.Owner.ID)
		require.Len(t, acl.Grants, 1)
		assert.Equal(t, "FULL_CONTROL", acl.Grants[0].Permission)
	})

	t.Run("config ops on a missing bucket", func(t *testing.T) {
		_, err := s.GetVersioning(ctx, "ghost")
		assert.ErrorIs(t, err, ErrBucketNotFound)
		_, err = s.GetBucketPolicy(ctx, "ghost")
		assert.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestDeleteBucketAfterNestedDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateBucket(t, s, "nested")

	saveObject(t, s, "nested", "a/b/c/deep.txt", storage.NullVersionID, time.Now(), true, false)
	require.NoError(t, s.DeleteObject(ctx, "nested", "a/b/c/deep.txt", storage.NullVersionID))

	// The directories the key created must not keep the bucket "non-empty".
	assert.NoError(t, s.DeleteBucket(ctx, "nested"))
}

func TestDeletePrunesOnlyEmptyDirs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateBucket(t, s, "shared")

	now := time.Now()
	saveObject(t, s, "shared", "dir/one.txt", storage.NullVersionID, now, true, false)
	saveObject(t, s, "shared", "dir/two.txt", storage.NullVersionID, now, true, false)
	require.NoError(t, s.DeleteObject(ctx, "shared", "dir/one.txt", storage.NullVersionID))

	// dir/ still holds two.txt and must survive the prune.
	obj, err := s.GetLatest(ctx, "shared", "dir/two.txt")
	require.NoError(t, err)
	assert.Equal(t, "dir/two.txt", obj.Key)
	assert.ErrorIs(t, s.DeleteBucket(ctx, "shared"), ErrBucketNotEmpty)
}

func TestSidecarRewriteKeepsReadersConsistent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateBucket(t, s, "atomic")

	obj := saveObject(t, s, "atomic", "state.json", storage.NullVersionID, time.Now(), true, false)
	metaPath := filepath.Join(s.resolver.BucketDir("atomic"), "state.json.metadata")

	// A reader holding the old file open across a rewrite keeps seeing the
	// complete old record, never a truncated one.
	old, err := os.Open(metaPath)
	require.NoError(t, err)
	defer old.Close()

	obj.ContentType = "application/json"
	require.NoError(t, s.SaveObject(ctx, obj))

	var stale ObjectMetadata
	require.NoError(t, json.NewDecoder(old).Decode(&stale))
	assert.Equal(t, "state.json", stale.Key)
	assert.Empty(t, stale.ContentType)

	fresh, err := s.GetObject(ctx, "atomic", "state.json", storage.NullVersionID)
	require.NoError(t, err)
	assert.Equal(t, "application/json", fresh.ContentType)

	// No temp files linger after the rename.
	entries, err := os.ReadDir(s.resolver.BucketDir("atomic"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp_"), "leftover temp file %s", e.Name())
	}
}

func TestObjectACL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreateBucket(t, s, "aclb")
	obj := saveObject(t, s, "aclb", "file.txt", storage.NullVersionID, time.Now(), true, false)
	obj.Owner = "tester"
	require.NoError(t, s.SaveObject(ctx, obj))

	acl, err := s.GetObjectACL(ctx, "aclb", "file.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "tester", acl.Owner.ID)

	custom := &ACLMetadata{Owner: Owner{ID: "tester"},
		Grants: []Grant{{Grantee: Grantee{Type: "Group", URI: "http://acs.amazonaws.com/groups/global/AllUsers"}, Permission: "READ"}}}
	require.NoError(t, s.PutObjectACL(ctx, "aclb", "file.txt", "", custom))

	got, err := s.GetObjectACL(ctx, "aclb", "file.txt", "")
	require.NoError(t, err)
	require.Len(t, got.Grants, 1)
	assert.Equal(t, "READ", got.Grants[0].Permission)
}
