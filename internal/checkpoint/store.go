// Package checkpoint persists immutable system-state snapshots. A
// checkpoint blob is written once under a fresh id and never updated;
// retention is handled by deleting whole blobs.
package checkpoint

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	rostrumErrors "github.com/rostrum-oss/rostrum/internal/errors"
)

// Meta describes a stored checkpoint without its payload.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the interface checkpoint backends implement.
type Store interface {
	// Write stores a new checkpoint blob. Writing an id that already
	// exists fails: checkpoints are immutable.
	Write(ctx context.Context, id string, blob []byte) error
	// Read returns the blob for id.
	Read(ctx context.Context, id string) ([]byte, error)
	// ListRecent returns checkpoint metadata newest-first. A non-positive
	// limit returns everything.
	ListRecent(ctx context.Context, limit int) ([]Meta, error)
	// Delete removes one checkpoint.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Driver        string        // memory, file, sqlite, or redis
	Dir           string        // file: checkpoint directory
	Path          string        // sqlite: database file
	RedisAddr     string        // redis: host:port
	RedisPassword string
	RedisDB       int
	TTL           time.Duration // redis: value retention, 0 keeps forever
}

// Open creates the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.TTL), nil
	default:
		return nil, rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeConfigInvalid,
			"unsupported checkpoint driver: %s", cfg.Driver).
			WithSuggestion("Use one of: memory, file, sqlite, redis")
	}
}

// IsNotFound reports whether err is a missing-checkpoint error.
func IsNotFound(err error) bool {
	return rostrumErrors.AsCode(err) == rostrumErrors.CodeCheckpointMissing
}

func errNotFound(id string) error {
	return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeCheckpointMissing,
		"checkpoint not found: %s", id)
}

func errExists(id string) error {
	return rostrumErrors.Newf(rostrumErrors.KindValidation, rostrumErrors.CodeCheckpointExists,
		"checkpoint already exists: %s", id)
}
