package object

import "errors"

// Common errors
var (
	// ErrMethodNotAllowed is returned when a version-addressed read lands
	// on a delete marker.
	ErrMethodNotAllowed = errors.New("method not allowed against delete marker")

	// ErrAccessDenied is returned when object lock forbids the operation.
	ErrAccessDenied = errors.New("access denied by object lock")

	// ErrInvalidPart is returned when a completing part does not exist or
	// its ETag does not match what was uploaded.
	ErrInvalidPart = errors.New("invalid part")

	// ErrInvalidPartOrder is returned when the completing part list is not
	// strictly ascending by part number.
	ErrInvalidPartOrder = errors.New("invalid part order")

	// ErrUploadNotFound is returned for an unknown or already finished
	// multipart upload.
	ErrUploadNotFound = errors.New("multipart upload not found")

	// ErrInvalidEncryption is returned for an unsupported SSE algorithm.
	ErrInvalidEncryption = errors.New("invalid encryption algorithm")

	// ErrInternal flags data/metadata inconsistency discovered at read time.
	ErrInternal = errors.New("internal storage inconsistency")
)
