// Package offline provides the offline caching and synchronization engine.
// This file contains the engine's public error types.
package offline

import (
	"errors"
)

// Sentinel errors for engine lifecycle and control operations.
// They can be checked with errors.Is.
var (
	// ErrEngineClosed indicates that the engine has been closed and no
	// further operations will be served.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrNotInstalled indicates that Activate was called before Install
	// created the cache partitions.
	ErrNotInstalled = errors.New("engine is not installed")

	// ErrUnknownCache indicates that a control message named a cache
	// partition the store does not hold.
	ErrUnknownCache = errors.New("unknown cache partition")

	// ErrUnknownStore indicates a write-queue store name outside the
	// fixed set (StoreTickets, StoreComments).
	ErrUnknownStore = errors.New("unknown queue store")

	// ErrUnknownResource indicates a mutation resource outside the fixed
	// set (ResourceTicket, ResourceComment).
	ErrUnknownResource = errors.New("unknown mutation resource")
)

// EngineError wraps a failure with the engine operation that produced it and,
// when one is involved, the request URL. It supports errors.Is and errors.As
// through Unwrap.
type EngineError struct {
	// Op is the operation that failed (e.g. "install", "activate", "fetch").
	Op string

	// URL is the request URL being processed, empty for lifecycle failures.
	URL string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.URL == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.URL + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}
