package metadata

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stratafs/stratafs/internal/storage"
)

const defaultMaxKeys = 1000

// ListObjects implements prefix/delimiter grouping with marker or
// continuation-token pagination. Output keys are strictly lexicographic.
func (s *SidecarStore) ListObjects(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if err := s.requireBucket(ctx, opts.Bucket); err != nil {
		return nil, err
	}
	maxKeys := normalizeMaxKeys(opts.MaxKeys)

	start := opts.Marker
	if opts.ContinuationToken != "" {
		start = opts.ContinuationToken
	}

	keys, err := s.collectKeys(opts.Bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}

	result := &ListResult{}
	emitted := 0
	last := ""
	lastPrefix := ""

	for _, key := range keys {
		if key <= start {
			continue
		}

		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(key, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				cp := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				if cp <= start || cp == lastPrefix {
					continue
				}
				if emitted == maxKeys {
					result.IsTruncated = true
					break
				}
				result.CommonPrefixes = append(result.CommonPrefixes, cp)
				lastPrefix = cp
				last = cp
				emitted++
				continue
			}
		}

		latest := s.latestVisible(ctx, opts.Bucket, key)
		if latest == nil {
			continue
		}
		if emitted == maxKeys {
			result.IsTruncated = true
			break
		}
		result.Objects = append(result.Objects, latest)
		last = key
		emitted++
	}

	if result.IsTruncated {
		result.NextMarker = last
		result.NextContinuationToken = last
	}
	return result, nil
}

// ListObjectVersions emits every version of each matching key, keys
// ascending and versions newest first within a key.
func (s *SidecarStore) ListObjectVersions(ctx context.Context, opts ListVersionsOptions) (*ListVersionsResult, error) {
	if err := s.requireBucket(ctx, opts.Bucket); err != nil {
		return nil, err
	}
	maxKeys := normalizeMaxKeys(opts.MaxKeys)

	keys, err := s.collectKeys(opts.Bucket, opts.Prefix)
	if err != nil {
		return nil, err
	}

	result := &ListVersionsResult{}
	emitted := 0
	lastKey := ""
	lastVersion := ""
	lastPrefix := ""

	for _, key := range keys {
		if opts.KeyMarker != "" && key < opts.KeyMarker {
			continue
		}

		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(key, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				cp := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				if (opts.KeyMarker != "" && cp <= opts.KeyMarker) || cp == lastPrefix {
					continue
				}
				if emitted == maxKeys {
					result.IsTruncated = true
					break
				}
				result.CommonPrefixes = append(result.CommonPrefixes, cp)
				lastPrefix = cp
				lastKey = cp
				lastVersion = ""
				emitted++
				continue
			}
		}

		skipping := key == opts.KeyMarker
		if skipping && opts.VersionIDMarker == "" {
			continue
		}

		// Records are decoded per key only once the key is reachable
		// from the marker, so a large bucket never materializes.
		versions, err := s.ListKeyVersions(ctx, opts.Bucket, key)
		if err != nil {
			// Candidate name without a record of its own.
			continue
		}

		truncated := false
		for _, v := range versions {
			if skipping {
				if v.VersionID == opts.VersionIDMarker {
					skipping = false
				}
				continue
			}
			if emitted == maxKeys {
				truncated = true
				break
			}
			result.Versions = append(result.Versions, v)
			lastKey = v.Key
			lastVersion = v.VersionID
			emitted++
		}
		if truncated {
			result.IsTruncated = true
			break
		}
	}

	if result.IsTruncated {
		result.NextKeyMarker = lastKey
		result.NextVersionIDMarker = lastVersion
	}
	return result, nil
}

// collectKeys walks the bucket directory once, pruning subtrees outside
// the prefix, and returns the candidate keys sorted byte-wise ascending.
// Only file names are gathered; no record is decoded here, so memory
// stays proportional to the number of keys, not the number of records.
//
// A name containing "@" is ambiguous (null version of a key with "@",
// or a versioned file): both readings become candidates, and the lazy
// per-key decode discards the one with no record.
func (s *SidecarStore) collectKeys(bucket, prefix string) ([]string, error) {
	root := s.resolver.BucketDir(bucket)
	seen := make(map[string]struct{})

	add := func(key string) {
		if strings.HasPrefix(key, prefix) {
			seen[key] = struct{}{}
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == storage.UploadsDir {
				return filepath.SkipDir
			}
			// Prune subtrees that cannot contain the prefix.
			dirPrefix := rel + "/"
			if !strings.HasPrefix(dirPrefix, prefix) && !strings.HasPrefix(prefix, dirPrefix) {
				return filepath.SkipDir
			}
			return nil
		}

		name := filepath.Base(rel)
		if !strings.HasSuffix(name, storage.MetadataSuffix) {
			return nil
		}
		stem := strings.TrimSuffix(rel, storage.MetadataSuffix)
		if storage.IsReservedName(stem) {
			return nil
		}

		dir := ""
		base := stem
		if idx := strings.LastIndex(stem, "/"); idx >= 0 {
			dir, base = stem[:idx+1], stem[idx+1:]
		}
		add(dir + base)
		if split, vid := storage.SplitVersionedName(base); vid != storage.NullVersionID {
			add(dir + split)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// latestVisible decodes one key's records and returns the latest unless
// it is a delete marker (which hides the key from plain listings) or the
// candidate has no record at all.
func (s *SidecarStore) latestVisible(ctx context.Context, bucket, key string) *ObjectMetadata {
	versions, err := s.ListKeyVersions(ctx, bucket, key)
	if err != nil {
		return nil
	}
	for _, v := range versions {
		if v.IsLatest {
			if v.IsDeleteMarker {
				return nil
			}
			return v
		}
	}
	return nil
}

func normalizeMaxKeys(n int) int {
	if n <= 0 || n > defaultMaxKeys {
		return defaultMaxKeys
	}
	return n
}
