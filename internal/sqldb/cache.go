package sqldb

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefresh is how long a saved schema file stays fresh.
const DefaultRefresh = 24 * time.Hour

// SchemaCache keeps the database schema in a JSON file and refreshes it from
// the database once it is older than Refresh.
type SchemaCache struct {
	Path    string
	Refresh time.Duration
	Fetch   func(ctx context.Context) (Schema, error)
	Now     func() time.Time
	Logger  *zap.Logger

	mu      sync.Mutex
	schema  Schema
	fetched time.Time
}

// NewSchemaCache caches db's schema in path.
func NewSchemaCache(db *DB, path string, refresh time.Duration, logger *zap.Logger) *SchemaCache {
	return &SchemaCache{Path: path, Refresh: refresh, Fetch: db.FetchSchema, Logger: logger}
}

// Get returns the cached schema, refreshing it when missing or stale.
// A failed refresh falls back to a stale copy when one exists.
func (c *SchemaCache) Get(ctx context.Context) (Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	refresh := c.Refresh
	if refresh <= 0 {
		refresh = DefaultRefresh
	}

	if c.schema == nil {
		if info, err := os.Stat(c.Path); err == nil {
			if schema, err := LoadSchema(c.Path); err == nil {
				c.schema, c.fetched = schema, info.ModTime()
			} else {
				c.logger().Warn("ignoring unreadable schema file", zap.String("path", c.Path), zap.Error(err))
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if c.schema != nil && now.Sub(c.fetched) < refresh {
		return c.schema, nil
	}
	return c.refreshLocked(ctx, now)
}

// Invalidate forces the next Get to fetch from the database.
func (c *SchemaCache) Invalidate(ctx context.Context) (Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx, c.now())
}

func (c *SchemaCache) refreshLocked(ctx context.Context, now time.Time) (Schema, error) {
	schema, err := c.Fetch(ctx)
	if err != nil {
		if c.schema != nil {
			c.logger().Warn("schema refresh failed, using stale copy", zap.Error(err))
			return c.schema, nil
		}
		return nil, err
	}
	if err := SaveSchema(c.Path, schema); err != nil {
		c.logger().Warn("could not save schema file", zap.String("path", c.Path), zap.Error(err))
	}
	c.schema, c.fetched = schema, now
	c.logger().Info("database schema refreshed", zap.Int("tables", len(schema)))
	return schema, nil
}

func (c *SchemaCache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *SchemaCache) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}
