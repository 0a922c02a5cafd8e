package partition

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jmgilman/go/fs/core"
)

const indexVersion = "1"

// indexFileName is the index location relative to the cache root.
const indexFileName = "index.json"

// storeIndex tracks every partition and its entries.
// It provides thread-safe access with JSON persistence.
type storeIndex struct {
	Version    string                    `json:"version"`
	Partitions map[string]*PartitionMeta `json:"partitions"`
	mu         sync.RWMutex
}

// loadOrCreateIndex loads an existing index from disk or creates a new one.
// If the index file does not exist, a new empty index is returned.
// If the file exists but is corrupted, an error is returned.
func loadOrCreateIndex(fsys core.FS, path string) (*storeIndex, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to check index file: %w", err)
	}
	if !exists {
		return &storeIndex{
			Version:    indexVersion,
			Partitions: make(map[string]*PartitionMeta),
		}, nil
	}

	file, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var index storeIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse index file: %w", err)
	}

	if index.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version: %s (expected %s)", index.Version, indexVersion)
	}

	if index.Partitions == nil {
		index.Partitions = make(map[string]*PartitionMeta)
	}
	for _, part := range index.Partitions {
		if part.Entries == nil {
			part.Entries = make(map[string]*EntryMeta)
		}
	}

	return &index, nil
}

// save writes the index to disk atomically via write-to-temp + rename.
func (idx *storeIndex) save(fsys core.FS, path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	tmpPath := path + ".tmp"
	tmpFile, err := fsys.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary index file: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary index file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary index file: %w", err)
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		_ = fsys.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return nil
}

// partition retrieves partition metadata by name. Returns nil if absent.
func (idx *storeIndex) partition(name string) *PartitionMeta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.Partitions[name]
}

// ensurePartition stores partition metadata if not already present and
// returns the stored value.
func (idx *storeIndex) ensurePartition(meta *PartitionMeta) *PartitionMeta {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if existing, ok := idx.Partitions[meta.Name]; ok {
		return existing
	}
	if meta.Entries == nil {
		meta.Entries = make(map[string]*EntryMeta)
	}
	idx.Partitions[meta.Name] = meta
	return meta
}

// dropPartition removes partition metadata by name and reports the number
// of entries it held.
func (idx *storeIndex) dropPartition(name string) (int, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	part, ok := idx.Partitions[name]
	if !ok {
		return 0, false
	}
	delete(idx.Partitions, name)
	return len(part.Entries), true
}

// setEntry stores or overwrites entry metadata inside a partition.
func (idx *storeIndex) setEntry(partitionName string, entry *EntryMeta) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	part, ok := idx.Partitions[partitionName]
	if !ok {
		return ErrUnknownPartition
	}
	part.Entries[entry.Key] = entry
	return nil
}

// entry retrieves entry metadata by partition name and request key.
func (idx *storeIndex) entry(partitionName, key string) (*EntryMeta, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	part, ok := idx.Partitions[partitionName]
	if !ok {
		return nil, false
	}
	entry, ok := part.Entries[key]
	return entry, ok
}

// deleteEntry removes entry metadata by partition name and request key.
func (idx *storeIndex) deleteEntry(partitionName, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	part, ok := idx.Partitions[partitionName]
	if !ok {
		return
	}
	delete(part.Entries, key)
}

// partitionNames returns all partition names sorted for stable iteration.
func (idx *storeIndex) partitionNames() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	names := make([]string, 0, len(idx.Partitions))
	for name := range idx.Partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// entryCount returns the total number of entries across all partitions.
func (idx *storeIndex) entryCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	total := 0
	for _, part := range idx.Partitions {
		total += len(part.Entries)
	}
	return total
}

// oldestEntries returns entry metadata for a partition sorted oldest-first.
func (idx *storeIndex) oldestEntries(partitionName string) []*EntryMeta {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	part, ok := idx.Partitions[partitionName]
	if !ok {
		return nil
	}
	entries := make([]*EntryMeta, 0, len(part.Entries))
	for _, entry := range part.Entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].StoredAt.Equal(entries[j].StoredAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].StoredAt.Before(entries[j].StoredAt)
	})
	return entries
}

// indexPath returns the index file path under the cache root.
func indexPath(root string) string {
	return filepath.Join(root, indexFileName)
}
