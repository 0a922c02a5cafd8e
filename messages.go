// Package offline provides the offline caching and synchronization engine.
// This file contains the control-message channel.
package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ashour158/Desk-sub003/internal/logging"
	"github.com/Ashour158/Desk-sub003/internal/partition"
)

// MessageType identifies a control message.
type MessageType string

const (
	// MessageSkipWaiting activates the engine immediately instead of
	// waiting for the host's own activation moment.
	MessageSkipWaiting MessageType = "SKIP_WAITING"

	// MessageCacheURLs caches the listed URLs into the dynamic partition
	// on a best-effort basis.
	MessageCacheURLs MessageType = "CACHE_URLS"

	// MessageClearCache purges one named cache partition.
	MessageClearCache MessageType = "CLEAR_CACHE"

	// MessageGetCacheSize asks for the total cache entry count.
	MessageGetCacheSize MessageType = "GET_CACHE_SIZE"
)

// Message is one control message posted by the host application.
type Message struct {
	// Type selects the action.
	Type MessageType `json:"type"`

	// URLs lists the URLs to cache for MessageCacheURLs.
	URLs []string `json:"urls,omitempty"`

	// CacheName names the partition to purge for MessageClearCache.
	CacheName string `json:"cacheName,omitempty"`
}

// MessageReply carries the answer to a message that produces one.
type MessageReply struct {
	// CacheSize is the total entry count across all partitions.
	CacheSize int `json:"cacheSize"`
}

// HandleMessage processes one control message. Messages that produce an
// answer return a non-nil reply; unrecognized types are silently ignored.
func (e *Engine) HandleMessage(ctx context.Context, msg Message) (*MessageReply, error) {
	if e.closed() {
		return nil, ErrEngineClosed
	}

	switch msg.Type {
	case MessageSkipWaiting:
		return nil, e.Activate(ctx)

	case MessageCacheURLs:
		e.cacheURLs(ctx, msg.URLs)
		return nil, nil

	case MessageClearCache:
		if err := e.store.Purge(ctx, msg.CacheName); err != nil {
			if errors.Is(err, partition.ErrUnknownPartition) {
				return nil, fmt.Errorf("%w: %q", ErrUnknownCache, msg.CacheName)
			}
			return nil, &EngineError{Op: "purge", Err: err}
		}
		return nil, nil

	case MessageGetCacheSize:
		return &MessageReply{CacheSize: e.store.EntryCount()}, nil

	default:
		e.logger.WithOperation(logging.OpMessage).Debug(ctx,
			"ignoring unknown control message", "type", string(msg.Type))
		return nil, nil
	}
}

// cacheURLs fetches each URL and stores the response in the dynamic
// partition. Per-URL failures are logged and skipped.
func (e *Engine) cacheURLs(ctx context.Context, urls []string) {
	for _, raw := range urls {
		if err := e.precacheURL(ctx, partition.RoleDynamic, raw); err != nil {
			e.logger.WithOperation(logging.OpMessage).WithURL(raw).Warn(ctx,
				"skipping uncacheable url", "error", err.Error())
		}
	}
}
