package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aosp-pb/system-vold/internal/debug"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700
)

// FileSystemStore implements Store on the local filesystem. Blob paths are
// resolved relative to basePath unless absolute; parent directories are
// created on demand with owner-only permissions.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	if err := os.MkdirAll(basePath, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create base directory %s: %w", basePath, err)
	}
	return &FileSystemStore{basePath: basePath}, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig
func NewFileSystemStoreFromConfig(config StoreConfig) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath)
}

func (fs *FileSystemStore) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("blob path cannot be empty")
	}
	if strings.ContainsAny(path, "\x00") {
		return "", fmt.Errorf("blob path contains invalid characters")
	}
	// Clean first: Join would fold ".." elements into basePath and hide
	// the traversal. A relative path that escapes its root always cleans
	// to one with a leading ".." element.
	cleanPath := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return "", fmt.Errorf("blob path contains directory traversal")
		}
	}
	if !filepath.IsAbs(cleanPath) {
		cleanPath = filepath.Join(fs.basePath, cleanPath)
	}
	return cleanPath, nil
}

func (fs *FileSystemStore) Read(path string) ([]byte, error) {
	fullPath, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}

	debug.Print("Read: %d bytes from %s\n", len(data), fullPath)
	return data, nil
}

func (fs *FileSystemStore) Exists(path string) (bool, error) {
	fullPath, err := fs.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// WriteAtomically writes the blob to tmpPath, syncs it, then renames it over
// path. tmpPath must live on the same filesystem as path for the rename to be
// atomic.
func (fs *FileSystemStore) WriteAtomically(path, tmpPath string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("blob data is required")
	}

	fullPath, err := fs.resolve(path)
	if err != nil {
		return err
	}
	fullTmp, err := fs.resolve(tmpPath)
	if err != nil {
		return err
	}

	for _, dir := range []string{filepath.Dir(fullPath), filepath.Dir(fullTmp)} {
		if err = os.MkdirAll(dir, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	debug.Print("WriteAtomically: staging %d bytes at %s for %s\n", len(data), fullTmp, fullPath)

	tmpFile, err := os.OpenFile(fullTmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(fullTmp)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(fullTmp)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(fullTmp)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(fullTmp, fullPath); err != nil {
		_ = os.Remove(fullTmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (fs *FileSystemStore) Delete(path string) error {
	fullPath, err := fs.resolve(path)
	if err != nil {
		return err
	}

	if err = os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("failed to delete blob %s: %w", path, err)
	}

	debug.Print("Delete: removed %s\n", fullPath)
	return nil
}

func (fs *FileSystemStore) Ping() error {
	_, err := os.Stat(fs.basePath)
	return err
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}
