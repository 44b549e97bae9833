package storage

import (
	"context"
	"fmt"

	"github.com/smallbiznis/fiscalsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(New),
)

// New selects the content store driver from configuration.
func New(cfg config.Config, log *zap.Logger) (ContentStore, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverS3:
		store, err := NewS3Store(context.Background(), cfg.Storage)
		if err != nil {
			return nil, err
		}
		log.Info("content store ready", zap.String("driver", "s3"), zap.String("bucket", cfg.Storage.S3Bucket))
		return store, nil
	case config.StorageDriverFS, "":
		store, err := NewFSStore(cfg.Storage.Root)
		if err != nil {
			return nil, err
		}
		log.Info("content store ready", zap.String("driver", "fs"), zap.String("root", cfg.Storage.Root))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
