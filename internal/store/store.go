// Package store implements the broker's durable key→value state store:
// the agent-version claim and the per-coordinate revision-dedup state
// that change detection depends on. Modeled on a db + repositories split: a
// *gorm.DB opened against modernc's pure-Go sqlite driver, migrated on
// startup from an embedded migrations directory, exposed through a narrow
// interface so callers never import gorm directly.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/Masterminds/semver"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	// modernc pure-Go SQLite driver — no CGO required. Registers itself as
	// "sqlite" in database/sql.
	_ "modernc.org/sqlite"

	"github.com/fossas/broker/internal/brokererr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Coordinate is the state store's primary key.
type Coordinate struct {
	IntegrationKind string
	RemoteID        string
	ReferenceID     string
}

// ErrOutdated wraps a stale-agent-version failure; callers render it via
// brokererr with KindAgentOutdated.
var ErrOutdated = errors.New("store: stored agent version is newer than the running agent")

// Store is the narrow surface the pipeline and supervisor depend on.
// Implementations must be safe for many concurrent callers; no multi-key
// transactions are required.
type Store interface {
	// AgentVersion reads the single claimed version row, if any.
	AgentVersion(ctx context.Context, name string) (string, bool, error)
	// ClaimAgentVersion reconciles the stored agent version against the
	// running one: no stored row inserts running; a lesser stored row is
	// overwritten; a greater stored row fails with ErrOutdated; an equal
	// row is a no-op.
	ClaimAgentVersion(ctx context.Context, name, running string) error
	// State performs a point lookup.
	State(ctx context.Context, coord Coordinate) ([]byte, bool, error)
	// SetState upserts a coordinate's state.
	SetState(ctx context.Context, coord Coordinate, state []byte, isBranch bool) error
	// DeleteStates bulk-deletes all rows for (remoteID, isBranch), used
	// when branch or tag import is disabled for a remote.
	DeleteStates(ctx context.Context, remoteID string, isBranch bool) error
	// Healthcheck answers a trivial query; a failure here is treated as
	// fatal by the supervisor.
	Healthcheck(ctx context.Context) error
	// Close releases the underlying connection.
	Close() error
}

// Config configures a Store backed by a local sqlite file.
type Config struct {
	// Path is the filesystem path of the sqlite database file. It is
	// created on demand.
	Path   string
	Logger *zap.Logger
}

// gormStore is the sole Store implementation: depend on the interface,
// not on gorm, outside this package.
type gormStore struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite database at cfg.Path,
// applies pending migrations, and returns a ready Store.
func Open(cfg Config) (Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: logger is required")
	}

	sqlDB, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open sqlite: %w", err)
	}
	// SQLite allows exactly one writer; serializing through a single
	// connection is how the "safe for many concurrent callers" contract
	// is satisfied without a connection-pool-level mutex.
	sqlDB.SetMaxOpenConns(1)

	gormDB, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: failed to initialize gorm: %w", err)
	}

	if err := runMigrations(sqlDB, cfg.Logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrations failed: %w", err)
	}

	return &gormStore{db: gormDB}, nil
}

func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Debug("store migrations applied")
	return nil
}

func (s *gormStore) AgentVersion(ctx context.Context, name string) (string, bool, error) {
	var row AgentVersion
	err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: agent_version: %w", err)
	}
	return row.Version, true, nil
}

func (s *gormStore) ClaimAgentVersion(ctx context.Context, name, running string) error {
	runningVer, err := semver.NewVersion(running)
	if err != nil {
		return fmt.Errorf("store: invalid running version %q: %w", running, err)
	}

	stored, ok, err := s.AgentVersion(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return s.db.WithContext(ctx).Create(&AgentVersion{Name: name, Version: running}).Error
	}

	storedVer, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("store: corrupted stored version %q: %w", stored, err)
	}

	switch {
	case storedVer.GreaterThan(runningVer):
		return brokererr.New("store.claim_agent_version", brokererr.KindAgentOutdated, ErrOutdated,
			fmt.Sprintf("the persisted agent version %s is newer than the running version %s", stored, running))
	case storedVer.LessThan(runningVer):
		return s.db.WithContext(ctx).Model(&AgentVersion{}).
			Where("name = ?", name).
			Update("version", running).Error
	default:
		return nil
	}
}

func (s *gormStore) State(ctx context.Context, coord Coordinate) ([]byte, bool, error) {
	var row RepoState
	err := s.db.WithContext(ctx).First(&row, "integration_kind = ? AND remote_id = ? AND reference_id = ?",
		coord.IntegrationKind, coord.RemoteID, coord.ReferenceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: state: %w", err)
	}
	return row.State, true, nil
}

func (s *gormStore) SetState(ctx context.Context, coord Coordinate, state []byte, isBranch bool) error {
	row := RepoState{
		IntegrationKind: coord.IntegrationKind,
		RemoteID:        coord.RemoteID,
		ReferenceID:     coord.ReferenceID,
		State:           state,
		IsBranch:        isBranch,
	}
	// A plain Save would Create-or-Update based solely on whether the
	// primary key fields are zero valued, which for a composite string key
	// silently no-ops an Update against a coordinate that was never
	// inserted. Clauses(OnConflict) makes the upsert explicit.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "integration_kind"}, {Name: "remote_id"}, {Name: "reference_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: set_state: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteStates(ctx context.Context, remoteID string, isBranch bool) error {
	err := s.db.WithContext(ctx).
		Where("remote_id = ? AND is_branch = ?", remoteID, isBranch).
		Delete(&RepoState{}).Error
	if err != nil {
		return fmt.Errorf("store: delete_states: %w", err)
	}
	return nil
}

func (s *gormStore) Healthcheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: healthcheck: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("store: healthcheck: %w", err)
	}
	return nil
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}
