package partition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmgilman/go/fs/core"

	"github.com/Ashour158/Desk-sub003/internal/logging"
)

// partsDir is the directory under the store root that holds one
// subdirectory per cache partition.
const partsDir = "parts"

// entryExt is the file extension for serialized response snapshots.
const entryExt = ".entry"

// Store manages the versioned cache partitions for a single engine instance.
// It provides lifecycle operations (Install, Activate) and entry operations
// (Put, Match, Purge) over a filesystem abstraction, with per-entry checksum
// verification and an atomic JSON index for fast lookups.
type Store struct {
	mu      sync.RWMutex
	config  Config
	fs      core.FS
	root    string
	storage *entryStorage
	index   *storeIndex
	metrics *Metrics
	logger  *logging.Logger
}

// NewStore creates a cache store rooted at cachePath on the given filesystem.
// It loads the persisted index when one exists and sweeps any temp files left
// behind by an interrupted write. A corrupted index is discarded and rebuilt
// empty so that startup never fails on bad cache state; orphaned entries
// simply become misses.
func NewStore(
	ctx context.Context,
	config Config,
	fsys core.FS,
	cachePath string,
	logger *logging.Logger,
) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid partition config: %w", err)
	}

	// Apply defaults
	config.SetDefaults()

	// Initialize logger (use no-op logger if none provided)
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	// Initialize storage layer
	storage, err := newEntryStorage(fsys, cachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize entry storage: %w", err)
	}

	store := &Store{
		config:  config,
		fs:      fsys,
		root:    cachePath,
		storage: storage,
		metrics: NewMetrics(),
		logger:  logger,
	}

	// Load existing index if available. A parse failure means the index file
	// was corrupted; start fresh rather than refusing to serve.
	index, err := loadOrCreateIndex(fsys, indexPath(cachePath))
	if err != nil {
		logger.Warn(ctx, "discarding corrupted cache index", "error", err)
		store.metrics.RecordCorrupted()
		index = &storeIndex{
			Version:    indexVersion,
			Partitions: make(map[string]*PartitionMeta),
		}
	}
	store.index = index

	// Sweep temp files from interrupted writes (best-effort).
	if err := storage.cleanupTemp(ctx); err != nil {
		logger.Warn(ctx, "failed to clean up temp files", "error", err)
	}

	return store, nil
}

// Install creates the partition set for the configured version. It is
// idempotent: partitions that already exist are left untouched, including
// their entries. Install performs no network access; precaching is driven
// by the caller through Precache.
func (s *Store) Install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("install cancelled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := time.Now().UTC()

	for _, role := range Roles() {
		name := s.config.PartitionName(role)

		dirPath := filepath.Join(s.root, partsDir, name)
		if err := s.fs.MkdirAll(dirPath, 0o755); err != nil {
			s.metrics.RecordError()
			return fmt.Errorf("failed to create partition directory %s: %w", name, err)
		}

		s.index.ensurePartition(&PartitionMeta{
			Name:      name,
			Role:      role,
			Version:   s.config.Version,
			CreatedAt: now,
			Entries:   make(map[string]*EntryMeta),
		})
	}

	if err := s.saveIndex(ctx); err != nil {
		s.metrics.RecordError()
		logging.LogOperation(ctx, s.logger, logging.OpInstall, time.Since(start), false, err)
		return err
	}

	logging.LogOperation(ctx, s.logger, logging.OpInstall, time.Since(start), true, nil,
		"version", s.config.Version)
	return nil
}

// Activate drops every partition whose name is not part of the configured
// version's partition set and returns the names of the dropped partitions.
// Directories on disk that the index does not know about are swept as well,
// so a crash between versions cannot leak storage.
func (s *Store) Activate(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("activate cancelled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	current := s.config.CurrentSet()

	var dropped []string
	for _, name := range s.index.partitionNames() {
		if _, ok := current[name]; ok {
			continue
		}

		entries, _ := s.index.dropPartition(name)
		if err := s.storage.removeDir(ctx, filepath.Join(partsDir, name)); err != nil {
			s.metrics.RecordError()
			return dropped, fmt.Errorf("failed to remove partition %s: %w", name, err)
		}

		s.metrics.RecordPartitionDrop()
		logging.LogPartitionDrop(ctx, s.logger, name, entries)
		dropped = append(dropped, name)
	}

	// Sweep unindexed partition directories left by interrupted installs.
	names, err := s.storage.listDirs(ctx, partsDir)
	if err == nil {
		for _, name := range names {
			if _, ok := current[name]; ok {
				continue
			}
			if s.index.partition(name) != nil {
				continue
			}
			if err := s.storage.removeDir(ctx, filepath.Join(partsDir, name)); err != nil {
				s.logger.Warn(ctx, "failed to sweep orphaned partition", "partition", name, "error", err)
				continue
			}
			s.metrics.RecordPartitionDrop()
			logging.LogPartitionDrop(ctx, s.logger, name, 0)
			dropped = append(dropped, name)
		}
	}

	if err := s.saveIndex(ctx); err != nil {
		s.metrics.RecordError()
		logging.LogOperation(ctx, s.logger, logging.OpActivate, time.Since(start), false, err)
		return dropped, err
	}

	logging.LogOperation(ctx, s.logger, logging.OpActivate, time.Since(start), true, nil,
		"dropped", len(dropped))
	return dropped, nil
}

// Put stores a response snapshot for the request in the partition with the
// given role, overwriting any existing entry for the same key. The response
// body is drained and replaced, so it remains readable by the caller.
func (s *Store) Put(ctx context.Context, role Role, req *http.Request, res *http.Response) error {
	return s.put(ctx, role, req, res, false)
}

// Precache stores a response like Put but records it as a precached entry in
// the store metrics. It is intended for install-time manifest warming and for
// explicit cache-ahead requests.
func (s *Store) Precache(ctx context.Context, role Role, req *http.Request, res *http.Response) error {
	return s.put(ctx, role, req, res, true)
}

func (s *Store) put(ctx context.Context, role Role, req *http.Request, res *http.Response, precache bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put cancelled: %w", err)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if !cacheableRequest(req) {
		return fmt.Errorf("%w: %s %s", ErrNotCacheable, req.Method, req.URL)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	name := s.config.PartitionName(role)
	if s.index.partition(name) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, name)
	}

	key := Key(req.Method, req.URL)
	logger := s.logger.WithPartition(name).With("key", key)

	data, err := snapshotResponse(res)
	if err != nil {
		s.metrics.RecordError()
		return err
	}

	file := entryFileName(key)
	if err := s.storage.writeAtomically(ctx, filepath.Join(partsDir, name, file), data); err != nil {
		s.metrics.RecordError()
		logging.LogOperation(ctx, logger, logging.OpPut, time.Since(start), false, err)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if err := s.index.setEntry(name, &EntryMeta{
		Key:      key,
		URL:      req.URL.String(),
		File:     file,
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
	}); err != nil {
		s.metrics.RecordError()
		return err
	}

	s.trimPartition(ctx, role, name)

	if err := s.saveIndex(ctx); err != nil {
		s.metrics.RecordError()
		logging.LogOperation(ctx, logger, logging.OpPut, time.Since(start), false, err)
		return err
	}

	s.metrics.RecordPut(precache)
	s.metrics.RecordLatency(string(logging.OpPut), time.Since(start))

	op := logging.OpPut
	if precache {
		op = logging.OpPrecache
	}
	logging.LogOperation(ctx, logger, op, time.Since(start), true, nil,
		"size", len(data))
	return nil
}

// Match looks up a stored response for the request in the partition with the
// given role. It never fails the request path: lookup problems, missing
// files, and corrupted entries all degrade to a miss, with corrupted entries
// evicted so they cannot fail again.
func (s *Store) Match(ctx context.Context, role Role, req *http.Request) (*http.Response, bool) {
	if ctx.Err() != nil || !role.Valid() || !cacheableRequest(req) {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	name := s.config.PartitionName(role)
	key := Key(req.Method, req.URL)

	entry, ok := s.index.entry(name, key)
	if !ok {
		s.metrics.RecordMiss()
		logging.LogCacheMiss(ctx, s.logger, name, key, "not-indexed")
		return nil, false
	}

	entryPath := filepath.Join(partsDir, name, entry.File)
	data, err := s.storage.readVerified(ctx, entryPath)
	if err != nil {
		s.evictBroken(ctx, name, key, entryPath, err)
		return nil, false
	}

	res, err := restoreResponse(data, req)
	if err != nil {
		s.evictBroken(ctx, name, key, entryPath, fmt.Errorf("%w: %v", ErrEntryCorrupted, err))
		return nil, false
	}

	s.metrics.RecordHit()
	s.metrics.RecordLatency(string(logging.OpMatch), time.Since(start))
	logging.LogCacheHit(ctx, s.logger, name, key)
	return res, true
}

// evictBroken removes an entry whose backing file is missing or corrupted so
// that subsequent lookups miss cleanly instead of re-reading bad data.
func (s *Store) evictBroken(ctx context.Context, name, key, entryPath string, cause error) {
	logger := s.logger.WithPartition(name).With("key", key)
	if err := s.storage.remove(ctx, entryPath); err != nil {
		logger.Warn(ctx, "failed to remove broken cache entry", "error", err)
	}
	s.index.deleteEntry(name, key)
	if err := s.saveIndex(ctx); err != nil {
		logger.Warn(ctx, "failed to persist index after eviction", "error", err)
	}

	s.metrics.RecordMiss()
	switch {
	case isCorruption(cause):
		s.metrics.RecordCorrupted()
		logging.LogCacheMiss(ctx, s.logger, name, key, "corrupted")
	default:
		logging.LogCacheMiss(ctx, s.logger, name, key, "unreadable")
	}
	logger.Debug(ctx, "evicted broken cache entry", "cause", cause)
}

// trimPartition enforces the dynamic partition's entry cap by evicting the
// oldest entries first. Roles other than dynamic are unbounded, as is the
// dynamic partition when no cap is configured.
func (s *Store) trimPartition(ctx context.Context, role Role, name string) {
	if role != RoleDynamic || s.config.MaxDynamicEntries <= 0 {
		return
	}

	entries := s.index.oldestEntries(name)
	excess := len(entries) - s.config.MaxDynamicEntries
	if excess <= 0 {
		return
	}

	logger := s.logger.WithOperation(logging.OpTrim).WithPartition(name)
	for _, entry := range entries[:excess] {
		if err := s.storage.remove(ctx, filepath.Join(partsDir, name, entry.File)); err != nil {
			logger.Warn(ctx, "failed to remove trimmed entry", "key", entry.Key, "error", err)
		}
		s.index.deleteEntry(name, entry.Key)
	}

	s.metrics.RecordTrim(excess)
	logger.Debug(ctx, "trimmed dynamic partition",
		"evicted", excess, "limit", s.config.MaxDynamicEntries)
}

// Purge deletes the named partition and all of its entries. It returns
// ErrUnknownPartition when no partition with that name exists.
func (s *Store) Purge(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("purge cancelled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if s.index.partition(name) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownPartition, name)
	}

	entries, _ := s.index.dropPartition(name)
	if err := s.storage.removeDir(ctx, filepath.Join(partsDir, name)); err != nil {
		s.metrics.RecordError()
		return fmt.Errorf("failed to remove partition %s: %w", name, err)
	}

	if err := s.saveIndex(ctx); err != nil {
		s.metrics.RecordError()
		return err
	}

	s.metrics.RecordPartitionDrop()
	logging.LogPartitionDrop(ctx, s.logger, name, entries)
	logging.LogOperation(ctx, s.logger, logging.OpPurge, time.Since(start), true, nil,
		"partition", name)
	return nil
}

// EntryCount reports the total number of entries across all partitions.
func (s *Store) EntryCount() int {
	return s.index.entryCount()
}

// Names returns the names of all partitions known to the store, sorted.
func (s *Store) Names() []string {
	return s.index.partitionNames()
}

// Stats returns a point-in-time snapshot of the store metrics.
func (s *Store) Stats() MetricsSnapshot {
	return s.metrics.GetSnapshot()
}

// Close persists the index. The store holds no background goroutines or open
// handles, so Close is cheap and idempotent.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveIndex(ctx); err != nil {
		return fmt.Errorf("failed to persist cache index: %w", err)
	}
	return nil
}

func (s *Store) saveIndex(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("index save cancelled: %w", err)
	}
	return s.index.save(s.fs, indexPath(s.root))
}

// cacheableRequest reports whether a request can be stored: only GET
// requests over http(s) are cacheable.
func cacheableRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if req.Method != http.MethodGet {
		return false
	}
	scheme := req.URL.Scheme
	return scheme == "http" || scheme == "https"
}

// entryFileName derives the on-disk file name for a cache key. Hashing keeps
// arbitrary URLs out of the filesystem namespace.
func entryFileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + entryExt
}

// isCorruption reports whether an entry read failed integrity verification
// rather than plain IO.
func isCorruption(err error) bool {
	return errors.Is(err, ErrEntryCorrupted)
}
