// Package storage provides a blob storage abstraction used by the
// sibling-group store's cold tier.
package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage defines the interface for blob storage operations, keyed by
// an opaque string key (the sibling-group store uses the decimal parent
// Morton code as the key).
type Storage interface {
	// Upload uploads data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// UploadFile uploads a local file to the specified key.
	UploadFile(ctx context.Context, key string, localPath string) error

	// Download downloads data from the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// DownloadFile downloads data from the specified key to a local file.
	DownloadFile(ctx context.Context, key string, localPath string) error

	// Delete deletes the object at the specified key.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

// StorageTypeLocal is the only supported backend: the spec excludes
// networked storage outright.
const StorageTypeLocal StorageType = "local"

// Config configures the blob storage backend.
type Config struct {
	Type      string
	LocalPath string
}

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg Config) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return NewLocalStorage(cfg.LocalPath)
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg Config) error {
	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}
	if storageType != StorageTypeLocal {
		return fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if cfg.LocalPath == "" {
		return fmt.Errorf("local storage path is required")
	}
	return nil
}
