package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/observalabs/mirador/internal/apperr"
)

// Local stores raw blobs on the filesystem under a configurable root.
type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

func (l *Local) Put(ctx context.Context, dataType string, epochMillis int64, payload []byte) (string, error) {
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindTransientIO, "blob root unavailable", err)
	}
	name := fmt.Sprintf("%s_%d.json", dataType, epochMillis)
	location := filepath.Join(l.root, name)
	if err := os.WriteFile(location, payload, 0o644); err != nil {
		return "", apperr.Wrap(apperr.KindTransientIO, "blob write failed", err)
	}
	return location, nil
}

func (l *Local) Get(ctx context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.KindNotFound, "blob missing", err)
		}
		return nil, apperr.Wrap(apperr.KindTransientIO, "blob read failed", err)
	}
	return data, nil
}
