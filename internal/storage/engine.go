package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Engine performs chunked streaming I/O against the local filesystem.
// Writes go through a temp file with a streaming SHA-256 and are moved
// into place atomically; partial writes never become visible.
type Engine struct {
	chunkSize int
}

// NewEngine creates a streaming engine with the given chunk size.
func NewEngine(chunkSize int) *Engine {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &Engine{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size in bytes.
func (e *Engine) ChunkSize() int {
	return e.chunkSize
}

// Write streams data into path, returning the byte count and the
// lowercase hex SHA-256 of everything written. On any error (including
// context cancellation) the partial file is unlinked before returning.
func (e *Engine) Write(ctx context.Context, path string, data io.Reader) (*WriteResult, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempName := tempFile.Name()

	cleanup := func() {
		tempFile.Close()
		os.Remove(tempName)
	}

	hasher := sha256.New()
	buf := make([]byte, e.chunkSize)
	var size int64

	for {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}

		n, readErr := data.Read(buf)
		if n > 0 {
			if _, err := tempFile.Write(buf[:n]); err != nil {
				cleanup()
				return nil, fmt.Errorf("failed to write data: %w", err)
			}
			hasher.Write(buf[:n])
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			return nil, fmt.Errorf("failed to read data: %w", readErr)
		}
	}

	if err := tempFile.Sync(); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("failed to move file to final location: %w", err)
	}

	return &WriteResult{
		Size:   size,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open opens path for a full streaming read.
func (e *Engine) Open(path string) (io.ReadCloser, int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, 0, ErrObjectNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	return file, info.Size(), nil
}

// OpenRange opens path for a range-limited read of [start, end].
// end is clamped to size-1; a start beyond EOF or past end is rejected.
// The returned length is the exact number of bytes the stream yields.
func (e *Engine) OpenRange(path string, start, end int64) (io.ReadCloser, int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, 0, ErrObjectNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat file: %w", err)
	}

	size := info.Size()
	if start < 0 || end < start || start >= size {
		return nil, 0, ErrInvalidRange
	}
	if end >= size {
		end = size - 1
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("failed to seek: %w", err)
	}

	length := end - start + 1
	return &rangeReader{file: file, remaining: length}, length, nil
}

// Hash re-reads path and returns its lowercase hex SHA-256.
func (e *Engine) Hash(path string) (string, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", ErrObjectNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	buf := make([]byte, e.chunkSize)
	if _, err := io.CopyBuffer(hasher, file, buf); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Remove unlinks a data file. Missing files are not an error.
func (e *Engine) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Concat streams the given source files, in order, into dst while
// computing a rolling SHA-256 over the concatenation. Used by multipart
// assembly. On error the partial destination is unlinked.
func (e *Engine) Concat(ctx context.Context, dst string, sources []string) (*WriteResult, error) {
	readers := make([]io.Reader, 0, len(sources))
	files := make([]*os.File, 0, len(sources))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for _, src := range sources {
		f, err := os.Open(src)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrObjectNotFound
			}
			return nil, fmt.Errorf("failed to open part: %w", err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	result, err := e.Write(ctx, dst, io.MultiReader(readers...))
	if err != nil {
		logrus.WithError(err).WithField("dst", dst).Warn("Multipart assembly write failed")
		return nil, err
	}
	return result, nil
}

// rangeReader limits reads to the requested window and reports EOF once
// the window is exhausted, never returning partial chunks silently.
type rangeReader struct {
	file      *os.File
	remaining int64
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.file.Read(p)
	r.remaining -= int64(n)
	if err == io.EOF && r.remaining > 0 {
		// Underlying file ended before the promised window.
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (r *rangeReader) Close() error {
	return r.file.Close()
}
