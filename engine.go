// Package offline provides the offline caching and synchronization engine.
// This file contains the main engine interface and implementation.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"

	"github.com/Ashour158/Desk-sub003/internal/api"
	"github.com/Ashour158/Desk-sub003/internal/fallback"
	"github.com/Ashour158/Desk-sub003/internal/logging"
	"github.com/Ashour158/Desk-sub003/internal/outbox"
	"github.com/Ashour158/Desk-sub003/internal/partition"
	"github.com/Ashour158/Desk-sub003/internal/replay"
	"github.com/Ashour158/Desk-sub003/internal/route"
	"github.com/Ashour158/Desk-sub003/internal/strategy"
)

// Write-queue store names accepted by Enqueue.
const (
	StoreTickets  = "tickets"
	StoreComments = "comments"
)

// Mutation resource types accepted by Enqueue.
const (
	ResourceTicket  = "ticket"
	ResourceComment = "comment"
)

// Sync tags recognized by HandleSync. Each tag drains one queue store.
const (
	SyncTagTickets  = "ticket-sync"
	SyncTagComments = "comment-sync"
)

// Mutation is one write deferred while offline.
type Mutation struct {
	// ID identifies the record. When empty, Enqueue generates one and
	// returns it. Re-enqueueing an existing ID overwrites the stored
	// record.
	ID string

	// Resource is the kind of object the mutation creates, ResourceTicket
	// or ResourceComment.
	Resource string

	// Payload is the JSON request body submitted on replay. Comment
	// payloads must carry a ticket_id field.
	Payload json.RawMessage

	// Token is the bearer token captured when the mutation was made.
	Token string
}

// EngineState is the lifecycle state of an Engine.
type EngineState string

const (
	// StateNew is the state before Install has created the partitions.
	StateNew EngineState = "new"

	// StateInstalled means the partitions exist and the shell is precached;
	// the engine is waiting to claim request handling.
	StateInstalled EngineState = "installed"

	// StateActive means the engine serves requests through the cache.
	StateActive EngineState = "active"

	// StateClosed means the engine has been shut down.
	StateClosed EngineState = "closed"
)

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	// State is the engine lifecycle state.
	State EngineState `json:"state"`

	// CacheEntries is the total entry count across all partitions.
	CacheEntries int `json:"cache_entries"`

	// CacheHits and CacheMisses count cache lookups.
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// CacheHitRate is hits over total lookups.
	CacheHitRate float64 `json:"cache_hit_rate"`

	// ReplayPasses counts completed drain passes. Replayed and
	// ReplayFailed count per-record outcomes across them.
	ReplayPasses int64 `json:"replay_passes"`
	Replayed     int64 `json:"replayed"`
	ReplayFailed int64 `json:"replay_failed"`
}

// Engine is the offline caching and background-synchronization engine. It
// owns the versioned cache partitions, the routing table, the strategy
// executors, and the durable write queue, and is driven by the host through
// an explicit lifecycle: Install, Activate, HandleRequest, HandleSync,
// HandleMessage, Close. The engine is safe for concurrent use.
type Engine struct {
	// options contains the engine configuration
	options *EngineOptions

	// store owns the versioned cache partitions
	store *partition.Store

	// routes decides the policy and partition for each request
	routes *route.Table

	// executor runs the caching policies
	executor *strategy.Executor

	// queue persists mutations made while offline
	queue *outbox.Queue

	// replay drains the queue against the remote API; nil when no API base
	// URL is configured
	replay *replay.Coordinator

	// client performs all network fetches
	client *http.Client

	logger *logging.Logger

	// mu guards the lifecycle state
	mu    sync.RWMutex
	state EngineState
}

// New creates a new Engine with default configuration.
func New() (*Engine, error) {
	return NewWithOptions()
}

// NewWithOptions creates a new Engine with custom configuration.
// It accepts functional options to customize storage, routing, manifests,
// and the remote API.
//
// Example usage:
//
//	engine, err := NewWithOptions(
//	    WithVersion("2.0.0"),
//	    WithStaticManifest(
//	        "https://app.example.com/",
//	        "https://app.example.com/offline.html",
//	    ),
//	    WithOfflineURL("https://app.example.com/offline.html"),
//	    WithAPIBaseURL("https://desk.example.com"),
//	)
//	if err != nil {
//	    return err
//	}
func NewWithOptions(opts ...EngineOption) (*Engine, error) {
	options := DefaultEngineOptions()

	// Apply functional options
	for _, opt := range opts {
		opt(options)
	}

	if err := validateEngineOptions(options); err != nil {
		return nil, fmt.Errorf("invalid engine options: %w", err)
	}

	// Ensure filesystem and network defaults
	if options.FS == nil {
		options.FS = billy.NewLocal()
	}
	if options.HTTPClient == nil {
		options.HTTPClient = &http.Client{}
	}

	// An injected slog logger wins; otherwise LogLevel selects the
	// built-in stderr logger. With neither, logging is disabled.
	logger := logging.NewNopLogger()
	switch {
	case options.Logger != nil:
		logger = logging.NewSlogLogger(options.Logger)
	case options.LogLevel != "":
		// Validated above, so the parse cannot fail.
		level, _ := logging.ParseLogLevel(options.LogLevel)
		config := logging.DefaultLogConfig()
		config.Level = level
		logger = logging.NewLogger(config)
	}

	routes, err := routeTable(options)
	if err != nil {
		return nil, fmt.Errorf("invalid routing rules: %w", err)
	}

	ctx := context.Background()

	store, err := partition.NewStore(ctx, partition.Config{
		Prefix:            options.CachePrefix,
		Version:           options.Version,
		MaxDynamicEntries: options.MaxDynamicEntries,
	}, options.FS, options.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}

	resolver, err := fallback.NewResolver(store, options.OfflineURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fallback resolver: %w", err)
	}

	executor, err := strategy.NewExecutor(store, options.HTTPClient, resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize strategy executor: %w", err)
	}

	queue, err := outbox.NewQueue(ctx, options.QueuePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open write queue: %w", err)
	}

	engine := &Engine{
		options:  options,
		store:    store,
		routes:   routes,
		executor: executor,
		queue:    queue,
		client:   options.HTTPClient,
		logger:   logger,
		state:    StateNew,
	}

	if options.APIBaseURL != "" {
		apiClient, err := api.NewClient(options.HTTPClient, options.APIBaseURL, logger)
		if err != nil {
			_ = queue.Close()
			return nil, fmt.Errorf("failed to initialize API client: %w", err)
		}

		coordinator, err := replay.NewCoordinator(queue, apiClient, logger)
		if err != nil {
			_ = queue.Close()
			return nil, fmt.Errorf("failed to initialize replay coordinator: %w", err)
		}
		engine.replay = coordinator
	}

	return engine, nil
}

// routeTable builds the route table. Custom rules are used verbatim; the
// default table gets the shell rule prepended so precached shell paths are
// served cache-first from the static partition.
func routeTable(opts *EngineOptions) (*route.Table, error) {
	if len(opts.Rules) > 0 {
		rules := make([]route.Rule, 0, len(opts.Rules))
		for i, r := range opts.Rules {
			pattern, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, r.Pattern, err)
			}
			rules = append(rules, route.Rule{
				Pattern: pattern,
				Policy:  route.Policy(r.Policy),
				Role:    partition.Role(r.Role),
				Timeout: r.Timeout,
			})
		}
		return route.NewTable(rules)
	}

	rules := route.DefaultRules(opts.NetworkTimeout)
	if shell := shellRule(opts.StaticManifest); shell != nil {
		rules = append([]route.Rule{*shell}, rules...)
	}
	return route.NewTable(rules)
}

// shellRule routes the static manifest paths to cache-first against the
// static partition, where Install precached them. Returns nil when the
// manifest is empty.
func shellRule(manifest []string) *route.Rule {
	quoted := make([]string, 0, len(manifest))
	for _, raw := range manifest {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		quoted = append(quoted, regexp.QuoteMeta(path))
	}
	if len(quoted) == 0 {
		return nil
	}

	return &route.Rule{
		Pattern: regexp.MustCompile("^(?:" + strings.Join(quoted, "|") + ")$"),
		Policy:  route.PolicyCacheFirst,
		Role:    partition.RoleStatic,
	}
}

// Install creates the cache partitions for the configured version and
// precaches the manifests: every static manifest entry must precache
// successfully (the application shell has to be complete to be useful
// offline), while API manifest entries are best-effort. Install is
// idempotent and leaves existing entries untouched.
func (e *Engine) Install(ctx context.Context) error {
	if e.closed() {
		return ErrEngineClosed
	}

	start := time.Now()
	if err := e.store.Install(ctx); err != nil {
		return &EngineError{Op: "install", Err: err}
	}

	for _, raw := range e.options.StaticManifest {
		if err := e.precacheURL(ctx, partition.RoleStatic, raw); err != nil {
			return &EngineError{Op: "precache", URL: raw, Err: err}
		}
	}

	for _, raw := range e.options.APIManifest {
		if err := e.precacheURL(ctx, partition.RoleAPI, raw); err != nil {
			e.logger.WithOperation(logging.OpPrecache).WithURL(raw).Warn(ctx,
				"skipping api manifest entry", "error", err.Error())
		}
	}

	e.mu.Lock()
	if e.state == StateNew {
		e.state = StateInstalled
	}
	e.mu.Unlock()

	e.logger.WithOperation(logging.OpInstall).WithDuration(time.Since(start)).Info(ctx,
		"engine installed",
		"version", e.options.Version,
		"static", len(e.options.StaticManifest),
		"api", len(e.options.APIManifest))
	return nil
}

// precacheURL fetches one manifest URL and stores the 2xx response under
// the given partition role.
func (e *Engine) precacheURL(ctx context.Context, role partition.Role, raw string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidInput,
			"invalid manifest URL")
	}

	res, err := e.client.Do(req)
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeNetwork,
			"manifest fetch failed")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return platformerrors.Newf(platformerrors.CodeNetwork,
			"manifest fetch returned status %d", res.StatusCode)
	}

	return e.store.Precache(ctx, role, req, res)
}

// Activate sweeps every partition that does not belong to the configured
// version and claims request handling, so requests arriving after Activate
// are governed by this engine without a reload. Activating before Install
// returns ErrNotInstalled.
func (e *Engine) Activate(ctx context.Context) error {
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()

	switch state {
	case StateClosed:
		return ErrEngineClosed
	case StateNew:
		return ErrNotInstalled
	}

	start := time.Now()
	dropped, err := e.store.Activate(ctx)
	if err != nil {
		return &EngineError{Op: "activate", Err: err}
	}

	e.mu.Lock()
	if e.state == StateInstalled {
		e.state = StateActive
	}
	e.mu.Unlock()

	e.logger.WithOperation(logging.OpActivate).WithDuration(time.Since(start)).Info(ctx,
		"engine activated",
		"version", e.options.Version,
		"dropped", dropped)
	return nil
}

// HandleRequest serves one request through the engine. GET requests over
// http(s) are routed to a caching policy once the engine is active; total
// network failure degrades through the offline fallback tiers, so a routed
// request always yields a response. Everything else, including requests
// arriving before activation, passes straight through to the network.
func (e *Engine) HandleRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, platformerrors.New(platformerrors.CodeInvalidInput,
			"request cannot be nil")
	}

	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()
	if state == StateClosed {
		return nil, ErrEngineClosed
	}

	// http.Client.Do rejects requests carrying RequestURI, which
	// handler-sourced requests do.
	out := req.Clone(ctx)
	out.RequestURI = ""

	if state != StateActive || !interceptable(out) {
		return e.passThrough(out)
	}

	decision := e.routes.Resolve(out)
	return e.executor.Do(ctx, decision, out), nil
}

// interceptable reports whether a request is eligible for cache handling:
// only GET over http(s) is.
func interceptable(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	scheme := req.URL.Scheme
	return scheme == "http" || scheme == "https"
}

// passThrough sends the request straight to the network with no cache
// involvement on either side.
func (e *Engine) passThrough(req *http.Request) (*http.Response, error) {
	res, err := e.client.Do(req)
	if err != nil {
		return nil, &EngineError{Op: "fetch", URL: req.URL.String(), Err: err}
	}
	return res, nil
}

// HandleSync drains the write queue selected by the sync tag (SyncTagTickets
// or SyncTagComments) against the remote API, in submission order with
// per-record failure isolation. Unknown tags are ignored; a signal arriving
// while a drain is in flight is absorbed by it. Requires WithAPIBaseURL.
func (e *Engine) HandleSync(ctx context.Context, tag string) error {
	if e.closed() {
		return ErrEngineClosed
	}
	if e.replay == nil {
		return platformerrors.New(platformerrors.CodeInvalidConfig,
			"background sync requires an API base URL")
	}
	return e.replay.Drain(ctx, tag)
}

// Enqueue records a mutation made while offline in the durable write queue
// and returns the record id. The engine does not decide when a write is
// offline; the consuming application enqueues after its own submission
// fails. Records survive restarts and remain queued until a drain confirms
// their submission.
func (e *Engine) Enqueue(ctx context.Context, store string, mutation Mutation) (string, error) {
	if e.closed() {
		return "", ErrEngineClosed
	}
	if !outbox.Store(store).Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStore, store)
	}
	if !outbox.Resource(mutation.Resource).Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, mutation.Resource)
	}

	return e.queue.Enqueue(ctx, outbox.Store(store), outbox.Record{
		ID:       mutation.ID,
		Resource: outbox.Resource(mutation.Resource),
		Payload:  mutation.Payload,
		Token:    mutation.Token,
	})
}

// Pending reports the number of queued mutations across all stores.
func (e *Engine) Pending(ctx context.Context) (int, error) {
	if e.closed() {
		return 0, ErrEngineClosed
	}

	total := 0
	for _, store := range outbox.Stores() {
		n, err := e.queue.Len(ctx, store)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Stats returns a combined snapshot of cache and replay activity.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	state := e.state
	e.mu.RUnlock()

	snapshot := e.store.Stats()
	stats := Stats{
		State:        state,
		CacheEntries: e.store.EntryCount(),
		CacheHits:    snapshot.Hits,
		CacheMisses:  snapshot.Misses,
		CacheHitRate: snapshot.HitRate,
	}

	if e.replay != nil {
		replayStats := e.replay.Stats()
		stats.ReplayPasses = replayStats.Passes
		stats.Replayed = replayStats.Replayed
		stats.ReplayFailed = replayStats.Failed
	}
	return stats
}

// State returns the engine lifecycle state.
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateClosed
}

// Close shuts the engine down: it waits for in-flight background refreshes
// to settle, closes the write queue, and persists the cache index. Close is
// idempotent; every operation on a closed engine returns ErrEngineClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.state = StateClosed
	e.mu.Unlock()

	// Background refreshes write into the store; let them settle first.
	e.executor.Wait()

	var errs []error
	if err := e.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
