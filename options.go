// Package offline provides the offline caching and synchronization engine.
// This file contains functional options for configuration.
package offline

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmgilman/go/fs/core"

	"github.com/Ashour158/Desk-sub003/internal/logging"
)

// Policy selects how a routed request balances the cache against the network.
type Policy string

const (
	// PolicyCacheFirst serves from the cache and only fetches on a miss.
	PolicyCacheFirst Policy = "cache-first"

	// PolicyNetworkFirst fetches with a timeout and falls back to the cache
	// when the network is slow or down.
	PolicyNetworkFirst Policy = "network-first"

	// PolicyStaleWhileRevalidate serves a cached response immediately and
	// refreshes it in the background.
	PolicyStaleWhileRevalidate Policy = "stale-while-revalidate"

	// PolicyDefault fetches without a timeout and falls back to the cache.
	PolicyDefault Policy = "default"
)

// Role identifies the cache partition a routed request is served from.
type Role string

const (
	// RoleCore is the umbrella partition for requests no other role claims.
	RoleCore Role = "core"

	// RoleStatic holds the precached application shell assets.
	RoleStatic Role = "static"

	// RoleDynamic holds responses cached opportunistically at runtime.
	RoleDynamic Role = "dynamic"

	// RoleAPI holds cached API responses used when the network is down.
	RoleAPI Role = "api"
)

// Rule binds a URL path pattern to a caching policy and a partition role.
// Rules are evaluated in order; the first match wins.
type Rule struct {
	// Pattern is a regular expression matched against the request URL path.
	Pattern string

	// Policy is the caching policy applied on a match.
	Policy Policy

	// Role is the cache partition the policy works against.
	Role Role

	// Timeout bounds the network leg of PolicyNetworkFirst. Zero means the
	// engine's network timeout.
	Timeout time.Duration
}

// EngineOptions contains configuration options for the Engine.
type EngineOptions struct {
	// Version is the cache version string. Changing it supersedes every
	// partition created under the previous version at the next activation.
	Version string

	// CachePrefix is the partition name prefix shared by all partitions.
	CachePrefix string

	// CachePath is the directory that holds the cache partitions.
	CachePath string

	// QueuePath is the file that holds the durable write queue. It must not
	// live inside CachePath, which is swept on activation.
	QueuePath string

	// FS provides filesystem operations for cache storage.
	// If nil, a default OS-backed filesystem will be used.
	FS core.FS

	// HTTPClient performs all network fetches. If nil, a default client
	// will be used.
	HTTPClient *http.Client

	// Logger receives structured engine logs. If nil, logging is disabled.
	Logger *slog.Logger

	// LogLevel selects the built-in stderr logger's minimum level when no
	// Logger is injected: "debug", "info", "warn", or "error". Empty
	// leaves logging disabled.
	LogLevel string

	// Rules replaces the built-in help-desk routing rules.
	// If empty, the default table is used.
	Rules []Rule

	// StaticManifest lists the application shell URLs precached at install.
	// Any failure to precache one of them fails Install.
	StaticManifest []string

	// APIManifest lists bootstrap API URLs precached at install on a
	// best-effort basis. Failures are logged and skipped.
	APIManifest []string

	// OfflineURL is the page served to navigations when the network and the
	// cache both come up empty. It must be listed in StaticManifest so that
	// it is guaranteed cached. If empty, navigations fall through to the
	// synthesized 503 like any other request.
	OfflineURL string

	// APIBaseURL is the remote help-desk API the write queue drains
	// against. If empty, HandleSync is disabled.
	APIBaseURL string

	// NetworkTimeout bounds the network leg of the default table's
	// network-first rule. Zero means the built-in default.
	NetworkTimeout time.Duration

	// MaxDynamicEntries bounds the dynamic partition; after a put, the
	// oldest entries beyond the limit are dropped. Zero means unlimited.
	MaxDynamicEntries int
}

// EngineOption is a functional option for configuring the Engine.
type EngineOption func(*EngineOptions)

// DefaultEngineOptions returns the default engine options. The cache and the
// queue live under the user cache directory.
func DefaultEngineOptions() *EngineOptions {
	dataDir := defaultDataDir()
	return &EngineOptions{
		Version:     "1.0.0",
		CachePrefix: "helpdesk",
		CachePath:   filepath.Join(dataDir, "cache"),
		QueuePath:   filepath.Join(dataDir, "outbox.db"),
		FS:          nil, // Filled by constructor if unset
		HTTPClient:  nil, // Filled by constructor if unset
	}
}

// defaultDataDir returns the base directory for engine state, preferring the
// user cache directory and degrading to the temp directory.
func defaultDataDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "helpdesk-offline")
}

// WithVersion sets the cache version string.
func WithVersion(version string) EngineOption {
	return func(opts *EngineOptions) {
		opts.Version = version
	}
}

// WithCachePrefix sets the partition name prefix.
func WithCachePrefix(prefix string) EngineOption {
	return func(opts *EngineOptions) {
		opts.CachePrefix = prefix
	}
}

// WithCachePath sets the directory that holds the cache partitions.
func WithCachePath(path string) EngineOption {
	return func(opts *EngineOptions) {
		opts.CachePath = path
	}
}

// WithQueuePath sets the file that holds the durable write queue.
func WithQueuePath(path string) EngineOption {
	return func(opts *EngineOptions) {
		opts.QueuePath = path
	}
}

// WithFilesystem injects a custom filesystem implementation used for cache
// storage. Tests typically pass an in-memory filesystem.
func WithFilesystem(fsys core.FS) EngineOption {
	return func(opts *EngineOptions) {
		opts.FS = fsys
	}
}

// WithHTTPClient injects the HTTP client used for all network fetches.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(opts *EngineOptions) {
		opts.HTTPClient = client
	}
}

// WithLogger enables structured logging through the given slog logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(opts *EngineOptions) {
		opts.Logger = logger
	}
}

// WithLogLevel enables the built-in stderr logger at the given minimum
// level ("debug", "info", "warn", "error"). An injected Logger takes
// precedence over the built-in one.
func WithLogLevel(level string) EngineOption {
	return func(opts *EngineOptions) {
		opts.LogLevel = level
	}
}

// WithRules replaces the built-in routing rules. Rules are evaluated in
// order and the first match wins; include a catch-all pattern last, because
// requests no rule claims are served with PolicyDefault against RoleCore.
func WithRules(rules ...Rule) EngineOption {
	return func(opts *EngineOptions) {
		opts.Rules = rules
	}
}

// WithStaticManifest sets the application shell URLs precached at install.
func WithStaticManifest(urls ...string) EngineOption {
	return func(opts *EngineOptions) {
		opts.StaticManifest = urls
	}
}

// WithAPIManifest sets the bootstrap API URLs precached at install.
func WithAPIManifest(urls ...string) EngineOption {
	return func(opts *EngineOptions) {
		opts.APIManifest = urls
	}
}

// WithOfflineURL sets the page served to navigations when both the network
// and the cache come up empty. The URL must also be listed in the static
// manifest.
func WithOfflineURL(rawURL string) EngineOption {
	return func(opts *EngineOptions) {
		opts.OfflineURL = rawURL
	}
}

// WithAPIBaseURL sets the remote help-desk API base URL (e.g.
// "https://desk.example.com") that queued mutations are submitted to.
func WithAPIBaseURL(rawURL string) EngineOption {
	return func(opts *EngineOptions) {
		opts.APIBaseURL = rawURL
	}
}

// WithNetworkTimeout bounds the network leg of the default table's
// network-first rule.
func WithNetworkTimeout(timeout time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.NetworkTimeout = timeout
	}
}

// WithMaxDynamicEntries bounds the dynamic partition entry count. Zero means
// unlimited.
func WithMaxDynamicEntries(limit int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxDynamicEntries = limit
	}
}

// validateEngineOptions validates the engine options for correctness. Rule
// patterns and the partition configuration are validated separately when the
// route table and the store are built.
func validateEngineOptions(opts *EngineOptions) error {
	if opts == nil {
		return fmt.Errorf("engine options cannot be nil")
	}
	if opts.CachePath == "" {
		return fmt.Errorf("cache path cannot be empty")
	}
	if opts.QueuePath == "" {
		return fmt.Errorf("queue path cannot be empty")
	}
	if opts.LogLevel != "" {
		if _, err := logging.ParseLogLevel(opts.LogLevel); err != nil {
			return err
		}
	}

	for i, raw := range opts.StaticManifest {
		if err := validateManifestURL(raw); err != nil {
			return fmt.Errorf("static manifest entry %d: %w", i, err)
		}
	}
	for i, raw := range opts.APIManifest {
		if err := validateManifestURL(raw); err != nil {
			return fmt.Errorf("api manifest entry %d: %w", i, err)
		}
	}

	if opts.OfflineURL != "" {
		if err := validateManifestURL(opts.OfflineURL); err != nil {
			return fmt.Errorf("offline page URL: %w", err)
		}
		found := false
		for _, raw := range opts.StaticManifest {
			if raw == opts.OfflineURL {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("offline page URL %q must be listed in the static manifest", opts.OfflineURL)
		}
	}

	return nil
}

// validateManifestURL checks that a manifest entry is an absolute http(s)
// URL, the only kind the cache can store.
func validateManifestURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("URL %q must be absolute http(s)", raw)
	}
	return nil
}
