package persist

import "errors"

// ErrNotFound is returned when no blob exists at the requested path.
// Callers branch on it with errors.Is.
var ErrNotFound = errors.New("key blob not found")

// Store persists sealed key blobs. Everything handed to this interface is
// already encrypted by the layer above; a store never sees raw key material.
type Store interface {

	// Read returns the blob stored at path, or ErrNotFound.
	Read(path string) ([]byte, error)

	// Exists reports whether a blob is present at path.
	Exists(path string) (bool, error)

	// WriteAtomically stages the blob at tmpPath and promotes it to path in
	// one step, so a crash mid-write never leaves a torn blob visible at
	// path. Backends whose writes are already atomic may ignore tmpPath.
	WriteAtomically(path, tmpPath string, data []byte) error

	// Delete removes the blob at path. Returns ErrNotFound if nothing is
	// stored there.
	Delete(path string) error

	// Ping tests the connectivity for remote backends.
	Ping() error

	// Close closes the store and releases any resources it holds.
	Close() error

	// GetType retrieves the type of store being used (e.g. "filesystem", "s3").
	GetType() string
}

// StoreConfig provides configuration for the different storage backends.
//
// Example usage:
//
//	config := StoreConfig{
//	    Type:   StoreTypeFileSystem,
//	    Config: map[string]interface{}{"base_path": "/data/misc/keys"},
//	}
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	// This field must be one of the predefined StoreType constants.
	Type StoreType `json:"type"`

	// Config contains configuration settings specific to the chosen storage
	// backend. The keys depend on the backend: filesystem takes "base_path";
	// s3 takes the fields of S3Config.
	Config map[string]interface{} `json:"config"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

// Supported storage types.
const (
	// StoreTypeFileSystem keeps key blobs on the local filesystem.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 escrows key blobs to an S3-compatible object store.
	StoreTypeS3 StoreType = "s3"
)
