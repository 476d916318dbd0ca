package blobstore

import (
	"context"

	"github.com/observalabs/mirador/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Store holds verbatim raw payload bytes for replay. Write-once per
// location, read-many.
type Store interface {
	// Put writes the payload under a deterministic key
	// <data_type>_<epoch_ms>.json and returns its location.
	Put(ctx context.Context, dataType string, epochMillis int64, payload []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

var Module = fx.Module("blobstore",
	fx.Provide(Provide),
)

func Provide(cfg config.Config, log *zap.Logger) (Store, error) {
	switch cfg.BlobDriver {
	case "s3":
		return NewS3(cfg, log)
	default:
		return NewLocal(cfg.BlobRoot), nil
	}
}
