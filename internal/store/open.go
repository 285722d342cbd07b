package store

import (
	"context"
	"fmt"

	"github.com/comigor/chatbot-go/internal/config"
)

// Open constructs the backend selected by cfg.Driver. The caller owns the
// returned store and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.DriverMongo:
		return NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
