package db

import "errors"

// Domain errors surfaced by the datastore. Handlers map these onto HTTP
// status codes; gorm errors never escape this package.
var (
	// ErrBucketNotFound is returned when an operation references a bucket
	// id that does not exist.
	ErrBucketNotFound = errors.New("no such bucket")

	// ErrBucketExists is returned by CreateBucket when the bucket id is
	// already taken.
	ErrBucketExists = errors.New("bucket already exists")

	// ErrEventNotFound is returned when an event id lookup misses.
	ErrEventNotFound = errors.New("no such event")

	// ErrKeyNotFound is returned for missing settings keys.
	ErrKeyNotFound = errors.New("no such key")

	// ErrAPIKeyNotFound is returned when revoking an unknown API key id.
	ErrAPIKeyNotFound = errors.New("no such API key")

	// ErrUnauthorized is returned by VerifyAPIKey when no active key
	// matches the presented secret.
	ErrUnauthorized = errors.New("invalid or revoked API key")

	// ErrValidation is returned for malformed input (negative duration,
	// empty bucket id) before any store mutation happens.
	ErrValidation = errors.New("validation failed")
)
