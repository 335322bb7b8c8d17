// Package store implements the persistence backend: one opaque snapshot
// blob per account name, stable across versions within a major release,
// backed by a migration-versioned sqlite schema (a schema_version table
// plus CREATE TABLE IF NOT EXISTS / ON CONFLICT upserts).
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zillionare-go/backtest/internal/account"
	"github.com/zillionare-go/backtest/internal/bterrors"
	"github.com/zillionare-go/backtest/internal/logger"
)

// currentSchemaVersion is bumped only on a breaking snapshot-format
// change within a major release.
const currentSchemaVersion = 1

// Store wraps a SQLite database holding one row per saved account.
type Store struct {
	sql *sql.DB
}

// Open opens (or creates) the sqlite database at path and runs migrations.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	s := &Store{sql: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Success("Store", fmt.Sprintf("opened %s", path))
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	var version int
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS backtests (
				name           TEXT PRIMARY KEY,
				description    TEXT NOT NULL DEFAULT '',
				payload        TEXT NOT NULL,
				schema_version INTEGER NOT NULL,
				updated_at     TEXT NOT NULL
			);
		`)
		if err != nil {
			return err
		}
		if _, err := s.sql.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
	}
	return nil
}

// Save serializes acct's full state under name, upserting so a repeated
// save simply overwrites the prior snapshot.
func (s *Store) Save(name, description string, acct *account.Account) error {
	payload, err := json.Marshal(acct.Snapshot())
	if err != nil {
		return bterrors.InfraErr(bterrors.Persistence, err.Error())
	}

	_, err = s.sql.Exec(`
		INSERT INTO backtests (name, description, payload, schema_version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			payload = excluded.payload,
			schema_version = excluded.schema_version,
			updated_at = excluded.updated_at`,
		name, description, string(payload), currentSchemaVersion, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return bterrors.InfraErr(bterrors.Persistence, err.Error())
	}
	return nil
}

// Load restores the account state saved under name, returning NOT_FOUND
// when no snapshot exists.
func (s *Store) Load(name string) (*account.Account, string, error) {
	var payload, description string
	err := s.sql.QueryRow(`SELECT payload, description FROM backtests WHERE name = ?`, name).
		Scan(&payload, &description)
	if err == sql.ErrNoRows {
		return nil, "", bterrors.AccountErr(bterrors.NotFound, "no saved backtest named "+name)
	}
	if err != nil {
		return nil, "", bterrors.InfraErr(bterrors.Persistence, err.Error())
	}

	var state account.State
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, "", bterrors.InfraErr(bterrors.Persistence, err.Error())
	}
	acct, err := account.Restore(state)
	if err != nil {
		return nil, "", bterrors.InfraErr(bterrors.Persistence, err.Error())
	}
	return acct, description, nil
}
