// internal/storage/file_storage.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// FileStorage stores JSON files under BaseDir with per-file locking and
// atomic writes. Reads go through a small expiring LRU.
type FileStorage struct {
	BaseDir string

	fileLocks sync.Map // path -> *sync.RWMutex
	cache     *expirable.LRU[string, []byte]
}

// NewFileStorage creates the base directory if needed.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &FileStorage{
		BaseDir: baseDir,
		cache:   expirable.NewLRU[string, []byte](256, nil, 5*time.Minute),
	}, nil
}

func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

func (fs *FileStorage) fullPath(dirPath, filename string) (string, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	return filepath.Join(fs.BaseDir, dirPath, filename), nil
}

// SaveTextFile writes content atomically (tmp file + rename).
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullPath, err := fs.fullPath(dirPath, filename)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	return fs.writeLocked(fullPath, content)
}

func (fs *FileStorage) writeLocked(fullPath string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to save file: %w", err)
	}

	fs.cache.Remove(fullPath)
	return nil
}

// SaveJSONFile encodes data and saves it.
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return fs.SaveTextFile(dirPath, filename, content)
}

// LoadTextFile reads a file, serving from cache when possible. A missing
// file yields an error satisfying os.IsNotExist.
func (fs *FileStorage) LoadTextFile(dirPath, filename string) ([]byte, error) {
	fullPath, err := fs.fullPath(dirPath, filename)
	if err != nil {
		return nil, err
	}

	if data, ok := fs.cache.Get(fullPath); ok {
		return data, nil
	}

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	return fs.readLocked(fullPath)
}

func (fs *FileStorage) readLocked(fullPath string) ([]byte, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, err
	}
	fs.cache.Add(fullPath, content)
	return content, nil
}

// LoadJSONFile reads and decodes a JSON file into v.
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	content, err := fs.LoadTextFile(dirPath, filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	return nil
}

// UpdateJSONFile runs a read-modify-write cycle under the file's write lock.
// mutate receives the decoded value and returns the value to store.
func (fs *FileStorage) UpdateJSONFile(dirPath, filename string, v interface{}, mutate func() error) error {
	fullPath, err := fs.fullPath(dirPath, filename)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	content, err := fs.readLocked(fullPath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("failed to decode JSON: %w", err)
	}
	if err := mutate(); err != nil {
		return err
	}

	updated, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return fs.writeLocked(fullPath, updated)
}

// FileExists reports whether the file is present.
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	fullPath, err := fs.fullPath(dirPath, filename)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// DeleteFile removes a file; a missing file satisfies os.IsNotExist.
func (fs *FileStorage) DeleteFile(dirPath, filename string) error {
	fullPath, err := fs.fullPath(dirPath, filename)
	if err != nil {
		return err
	}

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(fullPath); err != nil {
		return err
	}
	fs.cache.Remove(fullPath)
	return nil
}

// ListFiles returns the names of files in dirPath with the given extension.
func (fs *FileStorage) ListFiles(dirPath, ext string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ext {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}
