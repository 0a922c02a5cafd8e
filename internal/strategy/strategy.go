// Package strategy implements the four caching policies that govern request
// handling: cache-first, network-first-with-timeout, stale-while-revalidate,
// and the default network-first. Every policy degrades through the offline
// fallback resolver, so executing a strategy always produces a response.
package strategy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/Ashour158/Desk-sub003/internal/logging"
	"github.com/Ashour158/Desk-sub003/internal/partition"
	"github.com/Ashour158/Desk-sub003/internal/route"
)

// Cache is the partition store surface the executors work against.
// *partition.Store satisfies it.
type Cache interface {
	Match(ctx context.Context, role partition.Role, req *http.Request) (*http.Response, bool)
	Put(ctx context.Context, role partition.Role, req *http.Request, res *http.Response) error
}

// Fetcher performs the network leg of a strategy. *http.Client satisfies it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fallback produces the degraded response when both the network and the
// cache have nothing to offer.
type Fallback interface {
	Resolve(ctx context.Context, req *http.Request) *http.Response
}

// Executor dispatches requests to policy implementations. Background
// revalidation fetches are deduplicated per request key, so a burst of hits
// on the same stale entry triggers a single refresh.
type Executor struct {
	cache    Cache
	fetcher  Fetcher
	fallback Fallback
	logger   *logging.Logger

	refreshGroup singleflight.Group
	refreshWG    sync.WaitGroup
}

// NewExecutor creates a strategy executor.
func NewExecutor(cache Cache, fetcher Fetcher, fallback Fallback, logger *logging.Logger) (*Executor, error) {
	if cache == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "cache cannot be nil")
	}
	if fetcher == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "fetcher cannot be nil")
	}
	if fallback == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "fallback resolver cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Executor{
		cache:    cache,
		fetcher:  fetcher,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Do executes the request under the decided policy and always returns a
// response: total failure is absorbed by the fallback resolver.
func (e *Executor) Do(ctx context.Context, decision route.Decision, req *http.Request) *http.Response {
	switch decision.Policy {
	case route.PolicyCacheFirst:
		return e.cacheFirst(ctx, decision, req)
	case route.PolicyNetworkFirst:
		return e.networkFirst(ctx, decision, req)
	case route.PolicyStaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, decision, req)
	default:
		return e.networkDefault(ctx, decision, req)
	}
}

// Wait blocks until all in-flight background refreshes have settled. It is
// called on engine shutdown so fire-and-forget fetches do not outlive the
// process teardown.
func (e *Executor) Wait() {
	e.refreshWG.Wait()
}

// cacheFirst serves from the cache when possible and only fetches on a miss.
// A stored non-2xx response still counts as found.
func (e *Executor) cacheFirst(ctx context.Context, decision route.Decision, req *http.Request) *http.Response {
	if cached, ok := e.cache.Match(ctx, decision.Role, req); ok {
		return cached
	}

	res, err := e.fetch(ctx, req)
	if err != nil {
		e.logFetchFailure(ctx, decision, req, err)
		return e.fallback.Resolve(ctx, req)
	}

	if isSuccess(res) {
		e.putCached(ctx, decision.Role, req, res)
	}
	return res
}

// networkFirst races the fetch against the rule's timeout. The cache backs
// up a slow or failing network; a real non-2xx response beats the synthetic
// fallback when the cache has nothing.
func (e *Executor) networkFirst(ctx context.Context, decision route.Decision, req *http.Request) *http.Response {
	timeout := decision.Timeout
	if timeout <= 0 {
		timeout = route.DefaultNetworkTimeout
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := e.fetch(fetchCtx, req)
	if err == nil && isSuccess(res) {
		e.putCached(ctx, decision.Role, req, res)
		return res
	}

	if err == nil {
		// Transport succeeded but the server answered non-2xx: prefer a
		// cached value, otherwise return the response as-is (uncached).
		if cached, ok := e.cache.Match(ctx, decision.Role, req); ok {
			closeBody(res)
			return cached
		}
		return res
	}

	e.logFetchFailure(ctx, decision, req, err)
	if cached, ok := e.cache.Match(ctx, decision.Role, req); ok {
		return cached
	}
	return e.fallback.Resolve(ctx, req)
}

// staleWhileRevalidate returns a cached value immediately and refreshes it
// in the background. On a miss it behaves like a plain fetch.
func (e *Executor) staleWhileRevalidate(ctx context.Context, decision route.Decision, req *http.Request) *http.Response {
	if cached, ok := e.cache.Match(ctx, decision.Role, req); ok {
		e.refreshAsync(ctx, decision, req)
		return cached
	}

	res, err := e.fetch(ctx, req)
	if err != nil {
		e.logFetchFailure(ctx, decision, req, err)
		return e.fallback.Resolve(ctx, req)
	}

	if isSuccess(res) {
		e.putCached(ctx, decision.Role, req, res)
	}
	return res
}

// networkDefault is the catch-all policy: fetch without a timeout, fall
// back to the cache, then to the fallback resolver.
func (e *Executor) networkDefault(ctx context.Context, decision route.Decision, req *http.Request) *http.Response {
	res, err := e.fetch(ctx, req)
	if err == nil && isSuccess(res) {
		e.putCached(ctx, decision.Role, req, res)
		return res
	}

	if err == nil {
		if cached, ok := e.cache.Match(ctx, decision.Role, req); ok {
			closeBody(res)
			return cached
		}
		return res
	}

	e.logFetchFailure(ctx, decision, req, err)
	if cached, ok := e.cache.Match(ctx, decision.Role, req); ok {
		return cached
	}
	return e.fallback.Resolve(ctx, req)
}

// refreshAsync revalidates a cached entry without blocking the caller. The
// fetch runs on a context detached from the request so a completed request
// does not cancel it, and concurrent refreshes of the same key collapse
// into one. Only 2xx results are stored; failures are logged and swallowed.
func (e *Executor) refreshAsync(ctx context.Context, decision route.Decision, req *http.Request) {
	detached := context.WithoutCancel(ctx)
	refreshReq := req.Clone(detached)
	key := string(decision.Role) + " " + partition.Key(req.Method, req.URL)
	logger := e.logger.WithURL(refreshReq.URL.String())

	e.refreshWG.Add(1)
	go func() {
		defer e.refreshWG.Done()

		_, _, _ = e.refreshGroup.Do(key, func() (any, error) {
			start := time.Now()

			res, err := e.fetcher.Do(refreshReq)
			if err != nil {
				logging.LogOperation(detached, logger, logging.OpRefresh, time.Since(start), false,
					classifyFetchError(err))
				return nil, nil //nolint:nilerr // refresh failures are swallowed
			}

			if isSuccess(res) {
				e.putCached(detached, decision.Role, refreshReq, res)
			}
			closeBody(res)

			logging.LogOperation(detached, logger, logging.OpRefresh, time.Since(start), true, nil,
				"status", res.StatusCode)
			return nil, nil
		})
	}()
}

// fetch performs the network call with the given context attached.
func (e *Executor) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return e.fetcher.Do(req.Clone(ctx))
}

// putCached stores a response, logging storage failures instead of failing
// the request path.
func (e *Executor) putCached(ctx context.Context, role partition.Role, req *http.Request, res *http.Response) {
	if err := e.cache.Put(ctx, role, req, res); err != nil {
		e.logger.WithOperation(logging.OpPut).WithURL(req.URL.String()).Warn(ctx,
			"failed to cache response",
			"partition_role", string(role),
			"error", err.Error())
	}
}

func (e *Executor) logFetchFailure(ctx context.Context, decision route.Decision, req *http.Request, err error) {
	classified := classifyFetchError(err)
	e.logger.WithOperation(logging.OpFetch).WithURL(req.URL.String()).Debug(ctx,
		"network fetch failed",
		"policy", string(decision.Policy),
		"code", string(platformerrors.GetCode(classified)),
		"retryable", platformerrors.IsRetryable(classified),
		"error", classified.Error())
}

// classifyFetchError maps transport failures to platform error codes:
// deadline overruns become timeouts, everything else a network error.
func classifyFetchError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, "network fetch timed out")
	}
	if errors.Is(err, context.Canceled) {
		return platformerrors.Wrap(err, platformerrors.CodeUnavailable, "network fetch cancelled")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return platformerrors.Wrap(err, platformerrors.CodeTimeout, "network fetch timed out")
	}

	return platformerrors.Wrap(err, platformerrors.CodeNetwork, "network fetch failed")
}

// isSuccess reports whether the response carries a 2xx status.
func isSuccess(res *http.Response) bool {
	return res != nil && res.StatusCode >= 200 && res.StatusCode < 300
}

// closeBody releases a response body we are not handing to the caller.
func closeBody(res *http.Response) {
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
}
