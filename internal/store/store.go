// Package store opens the world-state backend named by a state URL.
package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/coins/internal/store/badgerstore"
	"github.com/MarkoPoloResearchLab/coins/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coins/internal/store/memorystore"
	"github.com/MarkoPoloResearchLab/coins/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/coins/internal/store/redisstore"
	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Backend names returned by ResolveBackend.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendPgx      = "pgx"
	BackendRedis    = "redis"

	defaultSQLiteFile = "coins.db"
)

// Options tunes backend construction.
type Options struct {
	Logger         *zap.Logger
	RedisKeyPrefix string
}

// Backend is a resolved state URL.
type Backend struct {
	Name string
	// Target is the driver-specific location: a directory, a file path or a connection URL.
	Target string
}

// Open resolves stateURL and returns a ready world state plus its cleanup function.
func Open(ctx context.Context, stateURL string, options Options) (ledger.WorldState, func() error, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend, err := ResolveBackend(stateURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("opening world state", zap.String("backend", backend.Name))
	switch backend.Name {
	case BackendMemory:
		return memorystore.New(), func() error { return nil }, nil
	case BackendBadger:
		if backend.Target != "" {
			if err := os.MkdirAll(backend.Target, 0o755); err != nil {
				return nil, nil, err
			}
		}
		state, err := badgerstore.Open(backend.Target, logger)
		if err != nil {
			return nil, nil, err
		}
		return state, state.Close, nil
	case BackendSQLite, BackendPostgres:
		return openGorm(ctx, backend)
	case BackendPgx:
		pool, err := pgxpool.New(ctx, backend.Target)
		if err != nil {
			return nil, nil, fmt.Errorf("pgx pool: %w", err)
		}
		state := pgstore.New(pool)
		if err := state.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return state, func() error { pool.Close(); return nil }, nil
	case BackendRedis:
		redisOptions, err := redis.ParseURL(backend.Target)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOptions)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		prefix := options.RedisKeyPrefix
		if prefix == "" {
			prefix = redisstore.DefaultKeyPrefix
		}
		return redisstore.New(client, prefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported state backend %q", backend.Name)
	}
}

func openGorm(ctx context.Context, backend Backend) (ledger.WorldState, func() error, error) {
	config := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var (
		db  *gorm.DB
		err error
	)
	if backend.Name == BackendPostgres {
		db, err = gorm.Open(postgres.Open(backend.Target), config)
	} else {
		db, err = gorm.Open(sqlite.Open(backend.Target), config)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if backend.Name == BackendSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	state := gormstore.New(db)
	if err := state.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return state, sqlDB.Close, nil
}

// ResolveBackend maps a state URL onto a backend. Anything without a known scheme is a SQLite path.
func ResolveBackend(stateURL string) (Backend, error) {
	trimmed := strings.TrimSpace(stateURL)
	switch {
	case trimmed == "":
		return Backend{}, fmt.Errorf("state url is required")
	case strings.HasPrefix(trimmed, "memory://"):
		return Backend{Name: BackendMemory}, nil
	case strings.HasPrefix(trimmed, "badger://"):
		return Backend{Name: BackendBadger, Target: strings.TrimPrefix(trimmed, "badger://")}, nil
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return Backend{Name: BackendPostgres, Target: trimmed}, nil
	case strings.HasPrefix(trimmed, "pgx://"):
		return Backend{Name: BackendPgx, Target: "postgres://" + strings.TrimPrefix(trimmed, "pgx://")}, nil
	case strings.HasPrefix(trimmed, "redis://"), strings.HasPrefix(trimmed, "rediss://"):
		return Backend{Name: BackendRedis, Target: trimmed}, nil
	case strings.HasPrefix(trimmed, "sqlite://"):
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return Backend{}, fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Host + parsed.Path
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return Backend{Name: BackendSQLite, Target: sqlitePath}, err
	default:
		sqlitePath, err := normalizeSQLitePath(trimmed)
		return Backend{Name: BackendSQLite, Target: sqlitePath}, err
	}
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
