package partition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jmgilman/go/fs/core"
)

// entryStorage provides atomic, corruption-resistant filesystem operations
// for partition entries. It uses core.FS for filesystem abstraction,
// supporting both OS and in-memory filesystems.
type entryStorage struct {
	fs         core.FS
	rootPath   string
	tempDir    string
	fileLocks  *sync.Map // map[string]*sync.Mutex for per-file locking
	globalLock sync.RWMutex
}

// newEntryStorage creates a storage instance rooted at rootPath.
func newEntryStorage(fsys core.FS, rootPath string) (*entryStorage, error) {
	if fsys == nil {
		return nil, fmt.Errorf("filesystem cannot be nil")
	}
	if rootPath == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}

	if err := fsys.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}

	// Temp directory for atomic write-then-rename
	tempDir := filepath.Join(rootPath, ".temp")
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &entryStorage{
		fs:        fsys,
		rootPath:  rootPath,
		tempDir:   tempDir,
		fileLocks: &sync.Map{},
	}, nil
}

// getFileLock returns a mutex for the given file path, creating one if necessary.
// Per-file locks serialize conflicting writes to the same key (last write wins).
func (s *entryStorage) getFileLock(path string) *sync.Mutex {
	lock, _ := s.fileLocks.LoadOrStore(path, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// createTempDir creates a temporary directory, using TempFS when available.
func (s *entryStorage) createTempDir(dir, pattern string) (string, error) {
	if tfs, ok := s.fs.(core.TempFS); ok {
		return tfs.TempDir(dir, pattern)
	}
	// Fallback: derive a unique name; retry on collision
	for i := 0; i < 10; i++ {
		hasher := sha256.New()
		fmt.Fprintf(hasher, "%s-%d-%d", pattern, os.Getpid(), i)
		uniqueName := pattern + hex.EncodeToString(hasher.Sum(nil)[:8])
		path := filepath.Join(dir, uniqueName)

		if _, err := s.fs.Stat(path); err == nil {
			continue
		}
		if err := s.fs.MkdirAll(path, 0o755); err == nil {
			return path, nil
		} else if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("failed to create unique temp directory after 10 attempts")
}

// writeAtomically writes data to a file atomically using a temporary file
// and rename, so readers never observe partial entries.
func (s *entryStorage) writeAtomically(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, path)
	dir := filepath.Dir(fullPath)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.Lock()
	err := s.fs.MkdirAll(dir, 0o755)
	s.globalLock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	s.globalLock.Lock()
	tempDirName, err := s.createTempDir(s.tempDir, "entry_")
	s.globalLock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	tempFile := filepath.Join(tempDirName, "temp")

	if err := s.writeWithChecksum(tempFile, data); err != nil {
		s.globalLock.Lock()
		_ = s.fs.Remove(tempFile)
		_ = s.fs.Remove(tempDirName)
		s.globalLock.Unlock()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Rename is atomic on POSIX filesystems
	s.globalLock.Lock()
	err = s.fs.Rename(tempFile, fullPath)
	s.globalLock.Unlock()
	if err != nil {
		s.globalLock.Lock()
		_ = s.fs.Remove(tempFile)
		_ = s.fs.Remove(tempDirName)
		s.globalLock.Unlock()
		return fmt.Errorf("failed to rename temp file to %q: %w", fullPath, err)
	}

	s.globalLock.Lock()
	_ = s.fs.Remove(tempDirName)
	s.globalLock.Unlock()

	return nil
}

// readVerified reads a file and verifies its checksum.
// Returns ErrEntryCorrupted when the stored checksum does not match.
func (s *entryStorage) readVerified(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, path)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.RLock()
	exists, err := s.fs.Exists(fullPath)
	s.globalLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to check file existence: %w", err)
	}
	if !exists {
		return nil, ErrEntryNotFound
	}

	return s.readWithChecksum(fullPath)
}

// remove deletes a single entry file. Missing files are not an error.
func (s *entryStorage) remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, path)

	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	s.globalLock.Lock()
	err := s.fs.Remove(fullPath)
	s.globalLock.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file %q: %w", fullPath, err)
	}

	return nil
}

// removeDir deletes a directory tree rooted below the storage root.
// A missing directory is not an error.
func (s *entryStorage) removeDir(ctx context.Context, dirPath string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, dirPath)

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.fs.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("failed to remove directory %q: %w", fullPath, err)
	}

	return nil
}

// listDirs returns the directory names directly under the given path.
func (s *entryStorage) listDirs(ctx context.Context, dirPath string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	fullPath := filepath.Join(s.rootPath, dirPath)

	s.globalLock.RLock()
	defer s.globalLock.RUnlock()

	exists, err := s.fs.Exists(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check directory existence: %w", err)
	}
	if !exists {
		return []string{}, nil
	}

	entries, err := s.fs.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %q: %w", fullPath, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}

	return dirs, nil
}

// cleanupTemp removes leftover temporary files from failed operations. The
// temp directory itself is recreated so later writes find it in place.
func (s *entryStorage) cleanupTemp(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	s.globalLock.Lock()
	defer s.globalLock.Unlock()

	if err := s.fs.RemoveAll(s.tempDir); err != nil {
		return fmt.Errorf("failed to remove temp directory: %w", err)
	}
	if err := s.fs.MkdirAll(s.tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate temp directory: %w", err)
	}

	return nil
}

// writeWithChecksum writes data to a file with its SHA256 checksum as the
// first line.
func (s *entryStorage) writeWithChecksum(path string, data []byte) error {
	s.globalLock.Lock()
	file, err := s.fs.Create(path)
	s.globalLock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to create file %q: %w", path, err)
	}
	defer file.Close()

	hasher := sha256.New()
	hasher.Write(data)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	if _, err := file.Write([]byte(checksum + "\n")); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	return nil
}

// readWithChecksum reads a file and verifies its checksum line.
func (s *entryStorage) readWithChecksum(path string) ([]byte, error) {
	s.globalLock.RLock()
	file, err := s.fs.Open(path)
	s.globalLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %q: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	idx := strings.IndexByte(string(data), '\n')
	if idx < 0 {
		return nil, ErrEntryCorrupted
	}

	expectedChecksum := string(data[:idx])
	actualData := data[idx+1:]

	hasher := sha256.New()
	hasher.Write(actualData)
	actualChecksum := hex.EncodeToString(hasher.Sum(nil))

	if expectedChecksum != actualChecksum {
		return nil, ErrEntryCorrupted
	}

	return actualData, nil
}
