// Package store persists per-entity scheduler state (schedule tables, preset
// temperatures, enable state and, optionally, the active override) in a
// SQLite database so it survives restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iret33/ha-climate-scheduler/internal/schedule"
)

// ErrNotFound is returned when an entity has no persisted state.
var ErrNotFound = errors.New("entity not found")

// EntityState is the persisted state of one scheduler entity.
type EntityState struct {
	Entity       string
	Schedule     schedule.Schedule
	Temperatures schedule.Temperatures
	Enabled      bool
	LastPreset   schedule.Preset
	Override     *schedule.Override
}

type Store struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS entity_state (
		entity       TEXT PRIMARY KEY,
		schedule     TEXT NOT NULL,
		temperatures TEXT NOT NULL,
		enabled      INTEGER NOT NULL,
		last_preset  TEXT NOT NULL,
		override     TEXT,
		updated_at   TIMESTAMP NOT NULL
	)
`

// Open opens/creates the SQLite database and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// SQLite is not great with many writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const upsertSQL = `
	INSERT INTO entity_state (entity, schedule, temperatures, enabled, last_preset, override, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity) DO UPDATE SET
		schedule=excluded.schedule,
		temperatures=excluded.temperatures,
		enabled=excluded.enabled,
		last_preset=excluded.last_preset,
		override=excluded.override,
		updated_at=excluded.updated_at
`

// Save inserts or updates the state for one entity.
func (s *Store) Save(ctx context.Context, state EntityState) error {
	scheduleJSON, err := json.Marshal(state.Schedule)
	if err != nil {
		return err
	}
	temperaturesJSON, err := json.Marshal(state.Temperatures)
	if err != nil {
		return err
	}
	var override sql.NullString
	if state.Override != nil {
		overrideJSON, err := json.Marshal(state.Override)
		if err != nil {
			return err
		}
		override = sql.NullString{String: string(overrideJSON), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		state.Entity,
		string(scheduleJSON),
		string(temperaturesJSON),
		state.Enabled,
		state.LastPreset.String(),
		override,
		time.Now().UTC(),
	)
	return err
}

const selectSQL = `
	SELECT entity, schedule, temperatures, enabled, last_preset, override
	FROM entity_state
`

// Get loads the persisted state for one entity.
func (s *Store) Get(ctx context.Context, entity string) (EntityState, error) {
	row := s.db.QueryRowContext(ctx, selectSQL+" WHERE entity=?", entity)
	state, err := scanEntityState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return EntityState{}, fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return state, err
}

// All loads the persisted state for all entities.
func (s *Store) All(ctx context.Context) ([]EntityState, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL+" ORDER BY entity")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var states []EntityState
	for rows.Next() {
		state, err := scanEntityState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// Delete removes the persisted state for one entity.
func (s *Store) Delete(ctx context.Context, entity string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entity_state WHERE entity=?`, entity)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntityState(row scanner) (EntityState, error) {
	var (
		state            EntityState
		scheduleJSON     string
		temperaturesJSON string
		lastPreset       string
		override         sql.NullString
	)
	if err := row.Scan(&state.Entity, &scheduleJSON, &temperaturesJSON, &state.Enabled, &lastPreset, &override); err != nil {
		return EntityState{}, err
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &state.Schedule); err != nil {
		return EntityState{}, fmt.Errorf("invalid schedule for %q: %w", state.Entity, err)
	}
	if err := json.Unmarshal([]byte(temperaturesJSON), &state.Temperatures); err != nil {
		return EntityState{}, fmt.Errorf("invalid temperatures for %q: %w", state.Entity, err)
	}
	state.LastPreset = schedule.Preset(lastPreset)
	if override.Valid {
		state.Override = &schedule.Override{}
		if err := json.Unmarshal([]byte(override.String), state.Override); err != nil {
			return EntityState{}, fmt.Errorf("invalid override for %q: %w", state.Entity, err)
		}
	}
	return state, nil
}
