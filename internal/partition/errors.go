package partition

import "errors"

// ErrEntryNotFound is returned when no entry is stored under a request key.
var ErrEntryNotFound = errors.New("cache entry not found")

// ErrEntryCorrupted is returned when a stored entry fails checksum verification.
var ErrEntryCorrupted = errors.New("cache entry is corrupted")

// ErrUnknownPartition is returned when an operation names a partition that does not exist.
var ErrUnknownPartition = errors.New("unknown cache partition")

// ErrUnknownRole is returned when a partition role outside the fixed set is used.
var ErrUnknownRole = errors.New("unknown partition role")

// ErrNotCacheable is returned when a request cannot be stored (non-GET or non-http scheme).
var ErrNotCacheable = errors.New("request is not cacheable")
