// Package artifact stores opaque binary blobs (model bundles, batch
// prediction outputs) by key.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KaramelBytes/tabforge/internal/config"
)

// ErrNotFound is returned when no blob exists under a key.
var ErrNotFound = errors.New("artifact not found")

// Store is implemented by every artifact backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// Stat returns the blob size in bytes.
	Stat(ctx context.Context, key string) (int64, error)
}

// ModelKey is the key of a trained model bundle.
func ModelKey(jobID, modelID string) string {
	return fmt.Sprintf("models/%s/%s.msgpack", jobID, modelID)
}

// PredictionKey is the key of a batch prediction output.
func PredictionKey(predictionID string) string {
	return fmt.Sprintf("predictions/%s.csv", predictionID)
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	return nil
}

// Open builds the store selected by cfg.Backend ("local" or "minio").
func Open(ctx context.Context, cfg config.Artifacts) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return NewLocalStore(cfg.Dir)
	case "minio":
		return NewMinioStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.Backend)
	}
}
