package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/honorarium/pkg/types"
)

// DefaultChangesLimit is used by ListConfigChanges callers that don't specify a limit.
const DefaultChangesLimit = 50

// Database defines the interface for persisting the estimator configuration.
type Database interface {
	// Config
	// GetConfig returns the stored config and its version. When nothing has
	// been stored yet it returns a zero Config and version 0.
	GetConfig(ctx context.Context) (types.Config, int, error)
	SetConfig(ctx context.Context, cfg types.Config, version int) error

	// Audit
	InsertConfigChange(ctx context.Context, change types.ConfigChange) error
	// ListConfigChanges returns up to limit changes, newest first.
	ListConfigChanges(ctx context.Context, limit int) ([]types.ConfigChange, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "memory", "Storage provider to use (available: memory, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "memory":
			p.Database = NewMemory()
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
