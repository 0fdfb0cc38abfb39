package storage

import (
	"fmt"

	"github.com/timmy/safetrip/internal/config"
)

// NewStorage creates the snapshot archive selected by cfg.Type.
// Parameters:
//   - cfg: storage configuration.
// Returns:
//   - ObjectStorage: "s3" (any S3-compatible endpoint) or "local".
//   - error: non-nil for an unknown type or a failed client setup.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "s3", "r2", "s3compatible":
		return NewS3Storage(&S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
		})
	case "local", "":
		return NewLocalStorage(cfg.LocalPath)
	}
	return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
}
