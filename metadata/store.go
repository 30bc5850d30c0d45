package metadata

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

//go:embed schema.sql
var schemaSQL string

// Store is the metadata store's repository layer: a pgxpool for the
// transactional hot-path tables and a GORM handle for the append-only audit
// log, mirroring the teacher's own split between db/postgres_pgx.go and
// db/postgres.go.
type Store struct {
	pool *pgxpool.Pool
	gdb  *gorm.DB
}

// Config configures the two underlying connections. Both normally point at
// the same database; they are kept separate because GORM owns the audit
// table's migrations independently of schema.sql.
type Config struct {
	PgxURL string
	GormDSN string
}

// Open dials both connections and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.PgxURL)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping metadata store: %w", err)
	}

	dsn := cfg.GormDSN
	if dsn == "" {
		dsn = cfg.PgxURL
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm connection: %w", err)
	}

	s := &Store{pool: pool, gdb: gdb}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an already-open pool and gorm handle, used by tests
// against a test database.
func NewWithPool(pool *pgxpool.Pool, gdb *gorm.DB) *Store {
	return &Store{pool: pool, gdb: gdb}
}

// Migrate applies schema.sql and the GORM audit-log model.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply metadata schema: %w", err)
	}
	if err := s.gdb.AutoMigrate(&auditRow{}); err != nil {
		return fmt.Errorf("migrate audit log: %w", err)
	}
	return nil
}

// Close releases both underlying connections.
func (s *Store) Close() {
	s.pool.Close()
	if sqlDB, err := s.gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

// Pool exposes the pgxpool for callers that need a transaction spanning
// multiple repository calls (e.g. ingestion's file+task insert).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
