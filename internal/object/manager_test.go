package object

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratafs/stratafs/internal/acl"
	"github.com/stratafs/stratafs/internal/metadata"
	"github.com/stratafs/stratafs/internal/storage"
)

type testEnv struct {
	manager  *Manager
	store    metadata.Store
	resolver *storage.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	resolver := storage.NewResolver(t.TempDir())
	engine := storage.NewEngine(16)
	store := metadata.NewSidecarStore(resolver, nil)
	return &testEnv{
		manager:  NewManager(resolver, engine, store, nil),
		store:    store,
		resolver: resolver,
	}
}

func (e *testEnv) createBucket(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, e.store.CreateBucket(context.Background(), &metadata.BucketMetadata{Name: name, Owner: "tester"}))
}

func (e *testEnv) enableVersioning(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, e.store.PutVersioning(context.Background(), name,
		&metadata.VersioningMetadata{Status: metadata.VersioningEnabled}))
}

func (e *testEnv) put(t *testing.T, bucket, key, body string) *metadata.ObjectMetadata {
	t.Helper()
	obj, err := e.manager.Put(context.Background(), bucket, key, strings.NewReader(body), "tester", PutOptions{})
	require.NoError(t, err)
	return obj
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestPutGetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "b")

	obj, err := env.manager.Put(ctx, "b", "dir/file.txt", strings.NewReader("payload"), "tester", PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"X-Custom": "val"},
		Tags:        map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, storage.NullVersionID, obj.VersionID)
	assert.Equal(t, int64(7), obj.Size)
	assert.Len(t, obj.ETag, 64) // lowercase hex sha-256
	assert.True(t, obj.IsLatest)
	assert.Equal(t, "val", obj.Metadata["x-custom"]) // user metadata keys lowercased
	assert.Equal(t, metadata.StorageClassStandard, obj.StorageClass)

	got, reader, length, err := env.manager.Get(ctx, "b", "dir/file.txt", "", nil)
	require.NoError(t, err)
	assert.Equal(t, obj.ETag, got.ETag)
	assert.Equal(t, int64(7), length)
	assert.Equal(t, "payload", readAll(t, reader))

	t.Run("range read", func(t *testing.T) {
		_, reader, length, err := env.manager.Get(ctx, "b", "dir/file.txt", "", &Range{Start: 1, End: 3})
		require.NoError(t, err)
		assert.Equal(t, int64(3), length)
		assert.Equal(t, "ayl", readAll(t, reader))
	})

	t.Run("invalid range", func(t *testing.T) {
		_, _, _, err := env.manager.Get(ctx, "b", "dir/file.txt", "", &Range{Start: 100, End: 200})
		assert.ErrorIs(t, err, storage.ErrInvalidRange)
	})

	t.Run("missing key", func(t *testing.T) {
		_, _, _, err := env.manager.Get(ctx, "b", "nope.txt", "", nil)
		assert.ErrorIs(t, err, metadata.ErrObjectNotFound)
	})

	t.Run("missing bucket", func(t *testing.T) {
		_, err := env.manager.Put(ctx, "ghost", "k", strings.NewReader("x"), "tester", PutOptions{})
		assert.ErrorIs(t, err, metadata.ErrBucketNotFound)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := env.manager.Put(ctx, "b", "../escape", strings.NewReader("x"), "tester", PutOptions{})
		assert.ErrorIs(t, err, storage.ErrInvalidKey)
	})

	t.Run("invalid sse algorithm", func(t *testing.T) {
		_, err := env.manager.Put(ctx, "b", "k", strings.NewReader("x"), "tester", PutOptions{SSEAlgorithm: "ROT13"})
		assert.ErrorIs(t, err, ErrInvalidEncryption)
	})

	t.Run("metadata and data stay consistent", func(t *testing.T) {
		// Both the data file and its sidecar must exist.
		_, err := os.Stat(env.resolver.ObjectPath("b", "dir/file.txt", storage.NullVersionID))
		assert.NoError(t, err)
		_, err = os.Stat(env.resolver.MetadataPath("b", "dir/file.txt", storage.NullVersionID))
		assert.NoError(t, err)
	})
}

func TestVersionedWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "vb")
	env.enableVersioning(t, "vb")

	first := env.put(t, "vb", "doc.txt", "one")
	second := env.put(t, "vb", "doc.txt", "two")
	require.NotEqual(t, first.VersionID, second.VersionID)
	assert.NotEqual(t, storage.NullVersionID, first.VersionID)

	t.Run("latest wins unversioned reads", func(t *testing.T) {
		got, reader, _, err := env.manager.Get(ctx, "vb", "doc.txt", "", nil)
		require.NoError(t, err)
		assert.Equal(t, second.VersionID, got.VersionID)
		assert.Equal(t, "two", readAll(t, reader))
	})

	t.Run("old versions stay readable", func(t *testing.T) {
		got, reader, _, err := env.manager.Get(ctx, "vb", "doc.txt", first.VersionID, nil)
		require.NoError(t, err)
		assert.Equal(t, first.VersionID, got.VersionID)
		assert.False(t, got.IsLatest)
		assert.Equal(t, "one", readAll(t, reader))
	})

	t.Run("both data files exist on disk", func(t *testing.T) {
		for _, v := range []string{first.VersionID, second.VersionID} {
			_, err := os.Stat(env.resolver.ObjectPath("vb", "doc.txt", v))
			assert.NoError(t, err)
		}
	})
}

func TestDeleteSemantics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("unversioned delete unlinks data and metadata", func(t *testing.T) {
		env.createBucket(t, "plain")
		env.put(t, "plain", "f.txt", "data")

		res, err := env.manager.Delete(ctx, "plain", "f.txt", "", false)
		require.NoError(t, err)
		assert.False(t, res.DeleteMarker)

		_, _, _, err = env.manager.Get(ctx, "plain", "f.txt", "", nil)
		assert.ErrorIs(t, err, metadata.ErrObjectNotFound)
		_, statErr := os.Stat(env.resolver.ObjectPath("plain", "f.txt", storage.NullVersionID))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("deleting a missing key succeeds", func(t *testing.T) {
		res, err := env.manager.Delete(ctx, "plain", "never-there.txt", "", false)
		require.NoError(t, err)
		assert.False(t, res.DeleteMarker)
	})

	t.Run("versioned delete creates a marker", func(t *testing.T) {
		env.createBucket(t, "vdel")
		env.enableVersioning(t, "vdel")
		obj := env.put(t, "vdel", "doc.txt", "content")

		res, err := env.manager.Delete(ctx, "vdel", "doc.txt", "", false)
		require.NoError(t, err)
		assert.True(t, res.DeleteMarker)
		assert.NotEmpty(t, res.VersionID)

		// Unversioned read sees nothing...
		_, _, _, err = env.manager.Get(ctx, "vdel", "doc.txt", "", nil)
		assert.ErrorIs(t, err, metadata.ErrObjectNotFound)

		// ...the old version is still there...
		_, reader, _, err := env.manager.Get(ctx, "vdel", "doc.txt", obj.VersionID, nil)
		require.NoError(t, err)
		assert.Equal(t, "content", readAll(t, reader))

		// ...and reading the marker version is a method error.
		_, _, _, err = env.manager.Get(ctx, "vdel", "doc.txt", res.VersionID, nil)
		assert.ErrorIs(t, err, ErrMethodNotAllowed)

		t.Run("removing the marker restores the key", func(t *testing.T) {
			_, err := env.manager.Delete(ctx, "vdel", "doc.txt", res.VersionID, false)
			require.NoError(t, err)

			got, reader, _, err := env.manager.Get(ctx, "vdel", "doc.txt", "", nil)
			require.NoError(t, err)
			assert.Equal(t, obj.VersionID, got.VersionID)
			assert.Equal(t, "content", readAll(t, reader))
		})
	})

	t.Run("batch delete reports per-item outcomes", func(t *testing.T) {
		env.createBucket(t, "batchb")
		env.put(t, "batchb", "one.txt", "1")
		env.put(t, "batchb", "two.txt", "2")

		results, err := env.manager.DeleteObjects(ctx, "batchb", []DeleteItem{
			{Key: "one.txt"},
			{Key: "two.txt", VersionID: "bogus"},
		}, false)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.NoError(t, results[0].Err)
		assert.ErrorIs(t, results[1].Err, metadata.ErrVersionNotFound)
	})
}

func TestObjectLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "locked")
	env.enableVersioning(t, "locked")
	obj := env.put(t, "locked", "held.txt", "precious")

	future := time.Now().UTC().Add(24 * time.Hour)

	t.Run("governance blocks delete without bypass", func(t *testing.T) {
		require.NoError(t, env.manager.PutRetention(ctx, "locked", "held.txt", obj.VersionID,
			&metadata.RetentionMetadata{Mode: metadata.RetentionGovernance, RetainUntilDate: future}, false))

		_, err := env.manager.Delete(ctx, "locked", "held.txt", obj.VersionID, false)
		assert.ErrorIs(t, err, ErrAccessDenied)

		// Marker creation is still fine: no data is destroyed.
		res, err := env.manager.Delete(ctx, "locked", "held.txt", "", false)
		require.NoError(t, err)
		assert.True(t, res.DeleteMarker)
		_, err = env.manager.Delete(ctx, "locked", "held.txt", res.VersionID, false)
		require.NoError(t, err)
	})

	t.Run("governance yields to bypass", func(t *testing.T) {
		other := env.put(t, "locked", "bypass.txt", "x")
		require.NoError(t, env.manager.PutRetention(ctx, "locked", "bypass.txt", other.VersionID,
			&metadata.RetentionMetadata{Mode: metadata.RetentionGovernance, RetainUntilDate: future}, false))

		_, err := env.manager.Delete(ctx, "locked", "bypass.txt", other.VersionID, true)
		assert.NoError(t, err)
	})

	t.Run("compliance cannot be bypassed or shortened", func(t *testing.T) {
		comp := env.put(t, "locked", "comp.txt", "x")
		require.NoError(t, env.manager.PutRetention(ctx, "locked", "comp.txt", comp.VersionID,
			&metadata.RetentionMetadata{Mode: metadata.RetentionCompliance, RetainUntilDate: future}, false))

		_, err := env.manager.Delete(ctx, "locked", "comp.txt", comp.VersionID, true)
		assert.ErrorIs(t, err, ErrAccessDenied)

		err = env.manager.PutRetention(ctx, "locked", "comp.txt", comp.VersionID,
			&metadata.RetentionMetadata{Mode: metadata.RetentionCompliance, RetainUntilDate: future.Add(-time.Hour)}, true)
		assert.ErrorIs(t, err, ErrAccessDenied)

		// Extending is allowed.
		err = env.manager.PutRetention(ctx, "locked", "comp.txt", comp.VersionID,
			&metadata.RetentionMetadata{Mode: metadata.RetentionCompliance, RetainUntilDate: future.Add(time.Hour)}, false)
		assert.NoError(t, err)
	})

	t.Run("legal hold blocks until released", func(t *testing.T) {
		held := env.put(t, "locked", "hold.txt", "x")
		require.NoError(t, env.manager.PutLegalHold(ctx, "locked", "hold.txt", held.VersionID, metadata.LegalHoldOn))

		_, err := env.manager.Delete(ctx, "locked", "hold.txt", held.VersionID, true)
		assert.ErrorIs(t, err, ErrAccessDenied)

		require.NoError(t, env.manager.PutLegalHold(ctx, "locked", "hold.txt", held.VersionID, metadata.LegalHoldOff))
		_, err = env.manager.Delete(ctx, "locked", "hold.txt", held.VersionID, false)
		assert.NoError(t, err)
	})

	t.Run("retention validation", func(t *testing.T) {
		err := env.manager.PutRetention(ctx, "locked", "held.txt", obj.VersionID,
			&metadata.RetentionMetadata{Mode: "SOMETHING", RetainUntilDate: future}, false)
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)

		err = env.manager.PutRetention(ctx, "locked", "held.txt", obj.VersionID,
			&metadata.RetentionMetadata{Mode: metadata.RetentionGovernance, RetainUntilDate: time.Now().Add(-time.Hour)}, false)
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
	})
}

func TestDefaultRetentionApplied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.CreateBucket(ctx, &metadata.BucketMetadata{
		Name:  "worm",
		Owner: "tester",
		ObjectLock: &metadata.ObjectLockMetadata{
			Enabled:          true,
			DefaultRetention: &metadata.DefaultRetention{Mode: metadata.RetentionGovernance, Days: 30},
		},
	}))

	obj := env.put(t, "worm", "record.log", "entry")
	require.NotNil(t, obj.Retention)
	assert.Equal(t, metadata.RetentionGovernance, obj.Retention.Mode)
	assert.WithinDuration(t, obj.LastModified.AddDate(0, 0, 30), obj.Retention.RetainUntilDate, time.Second)
}

func TestCopyObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "src")
	env.createBucket(t, "dst")

	srcObj, err := env.manager.Put(ctx, "src", "orig.txt", strings.NewReader("copy me"), "tester", PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"origin": "src"},
	})
	require.NoError(t, err)

	t.Run("copy preserves metadata by default", func(t *testing.T) {
		dst, err := env.manager.Copy(ctx, "src", "orig.txt", "", "dst", "copied.txt", "tester", CopyOptions{})
		require.NoError(t, err)
		assert.Equal(t, srcObj.ETag, dst.ETag) // same bytes, same hash
		assert.Equal(t, "text/plain", dst.ContentType)
		assert.Equal(t, "src", dst.Metadata["origin"])

		_, reader, _, err := env.manager.Get(ctx, "dst", "copied.txt", "", nil)
		require.NoError(t, err)
		assert.Equal(t, "copy me", readAll(t, reader))
	})

	t.Run("replace swaps metadata", func(t *testing.T) {
		dst, err := env.manager.Copy(ctx, "src", "orig.txt", "", "dst", "replaced.txt", "tester", CopyOptions{
			ReplaceMetadata: true,
			ContentType:     "application/octet-stream",
			Metadata:        map[string]string{"fresh": "yes"},
		})
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", dst.ContentType)
		assert.Equal(t, "yes", dst.Metadata["fresh"])
		assert.Empty(t, dst.Metadata["origin"])
	})

	t.Run("copy from missing source", func(t *testing.T) {
		_, err := env.manager.Copy(ctx, "src", "ghost.txt", "", "dst", "x", "tester", CopyOptions{})
		assert.ErrorIs(t, err, metadata.ErrObjectNotFound)
	})
}

func TestTagging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "tb")
	env.put(t, "tb", "f.txt", "x")

	require.NoError(t, env.manager.PutTags(ctx, "tb", "f.txt", "", map[string]string{"team": "storage"}))
	tags, err := env.manager.GetTags(ctx, "tb", "f.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "storage", tags["team"])

	require.NoError(t, env.manager.DeleteTags(ctx, "tb", "f.txt", ""))
	tags, err = env.manager.GetTags(ctx, "tb", "f.txt", "")
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestVerifyIntegrity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "ib")
	env.put(t, "ib", "sound.bin", "intact bytes")

	t.Run("intact object verifies", func(t *testing.T) {
		res, err := env.manager.VerifyIntegrity(ctx, "ib", "sound.bin", "")
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.False(t, res.BitrotDetected)
		assert.Equal(t, res.StoredChecksum, res.ActualChecksum)
	})

	t.Run("flipped bytes are detected", func(t *testing.T) {
		path := env.resolver.ObjectPath("ib", "sound.bin", storage.NullVersionID)
		require.NoError(t, os.WriteFile(path, []byte("corrupted!!!"), 0644))

		res, err := env.manager.VerifyIntegrity(ctx, "ib", "sound.bin", "")
		require.NoError(t, err)
		assert.False(t, res.IsValid)
		assert.True(t, res.BitrotDetected)
	})

	t.Run("missing data file is bitrot", func(t *testing.T) {
		env.put(t, "ib", "gone.bin", "x")
		require.NoError(t, os.Remove(env.resolver.ObjectPath("ib", "gone.bin", storage.NullVersionID)))

		res, err := env.manager.VerifyIntegrity(ctx, "ib", "gone.bin", "")
		require.NoError(t, err)
		assert.True(t, res.BitrotDetected)
	})
}

func TestSetStorageClass(t *testing.T) {
	env := newTestEnv(t)
	env.createBucket(t, "b")
	env.put(t, "b", "k.txt", "data")
	ctx := context.Background()

	require.NoError(t, env.manager.SetStorageClass(ctx, "b", "k.txt", "", metadata.StorageClassStandardIA))

	obj, err := env.manager.Head(ctx, "b", "k.txt", "")
	require.NoError(t, err)
	assert.Equal(t, metadata.StorageClassStandardIA, obj.StorageClass)

	t.Run("unknown class rejected", func(t *testing.T) {
		err := env.manager.SetStorageClass(ctx, "b", "k.txt", "", "FROZEN")
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
	})

	t.Run("missing key", func(t *testing.T) {
		err := env.manager.SetStorageClass(ctx, "b", "nope.txt", "", metadata.StorageClassGlacier)
		assert.ErrorIs(t, err, metadata.ErrObjectNotFound)
	})
}

func TestDeleteLastNestedObjectEmptiesBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "b")
	env.put(t, "b", "a/b.txt", "payload")

	res, err := env.manager.Delete(ctx, "b", "a/b.txt", "", false)
	require.NoError(t, err)
	assert.False(t, res.DeleteMarker)

	// The intermediate "a/" directory must not survive as phantom
	// bucket contents.
	assert.NoError(t, env.store.DeleteBucket(ctx, "b"))
}

func TestPutWithCannedACL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBucket(t, "b")

	t.Run("public-read", func(t *testing.T) {
		_, err := env.manager.Put(ctx, "b", "open.txt", strings.NewReader("x"), "tester", PutOptions{ACL: acl.CannedPublicRead})
		require.NoError(t, err)

		doc, err := env.manager.GetACL(ctx, "b", "open.txt", "")
		require.NoError(t, err)
		assert.Equal(t, "tester", doc.Owner.ID)
		require.Len(t, doc.Grants, 2)
		assert.Equal(t, acl.GroupAllUsers, doc.Grants[1].Grantee.URI)
		assert.Equal(t, acl.PermissionRead, doc.Grants[1].Permission)
	})

	t.Run("unknown canned name fails before writing", func(t *testing.T) {
		_, err := env.manager.Put(ctx, "b", "bad.txt", strings.NewReader("x"), "tester", PutOptions{ACL: "world-writable"})
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
		_, _, _, err = env.manager.Get(ctx, "b", "bad.txt", "", nil)
		assert.ErrorIs(t, err, metadata.ErrObjectNotFound)
	})

	t.Run("put acl rejects malformed documents", func(t *testing.T) {
		env.put(t, "b", "doc.txt", "x")
		err := env.manager.PutACL(ctx, "b", "doc.txt", "", &metadata.ACLMetadata{
			Owner:  metadata.Owner{ID: "tester"},
			Grants: []metadata.Grant{{Grantee: metadata.Grantee{Type: "Robot"}, Permission: acl.PermissionRead}},
		})
		assert.ErrorIs(t, err, metadata.ErrInvalidArgument)
	})
}
