// Package pg implements the store interfaces on PostgreSQL (pgx pool).
package pg

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/kitsadaphon/approvald/internal/store/core"
	migrations "github.com/kitsadaphon/approvald/migrations/postgres"
)

type Tuning struct {
	MaxOpenConns    int
	MinIdleConns    int
	ConnMaxLifetime string
}

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, t Tuning, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if t.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(t.MaxOpenConns)
	}
	if t.MinIdleConns > 0 {
		pcfg.MinConns = int32(t.MinIdleConns)
	}
	if t.ConnMaxLifetime != "" {
		if d, err := time.ParseDuration(t.ConnMaxLifetime); err == nil {
			pcfg.MaxConnLifetime = d
			pcfg.MaxConnIdleTime = d
		}
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	// Non-blocking startup: the app may come up before the database does;
	// the orchestrator's WaitReady covers the gap.
	if err := pool.Ping(ctx); err != nil {
		log.Warn("postgres not reachable at startup", zap.Error(err))
	} else {
		log.Info("postgres pool ready", zap.Int32("max_conns", pcfg.MaxConns))
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := s.pool.Ping(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("postgres not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Requests() core.RequestRepository  { return &requestRepo{pool: s.pool} }
func (s *Store) Settings() core.SettingsRepository { return &settingsRepo{pool: s.pool} }
func (s *Store) Users() core.UserRepository        { return &userRepo{pool: s.pool} }
func (s *Store) Sessions() core.SessionRepository  { return &sessionRepo{pool: s.pool} }

// Migrate applies the embedded schema files in lexical order, tracking them
// in schema_migrations under an advisory lock.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	const lockID = int64(7344001)
	var acquired bool
	if err := s.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("acquire migration lock: %w", err)
	}
	if !acquired {
		if err := s.pool.QueryRow(ctx, "SELECT pg_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
			return 0, fmt.Errorf("wait for migration lock: %w", err)
		}
	}
	defer func() {
		_, _ = s.pool.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name).Scan(&exists); err != nil {
			return applied, err
		}
		if exists {
			continue
		}
		sql, err := migrations.FS.ReadFile(name)
		if err != nil {
			return applied, err
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO schema_migrations (name) VALUES ($1)", name); err != nil {
			return applied, err
		}
		applied++
		s.log.Info("migration applied", zap.String("name", name))
	}
	return applied, nil
}
