package telemetry

import (
	"database/sql"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
)

const (
	SchemaVersion = 2

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS history (
	       key          TEXT PRIMARY KEY,
	       key_num      REAL,
	       temperature  REAL NOT NULL,
	       humidity     REAL NOT NULL,
	       gas          REAL NOT NULL,
	       received_at  INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS history_key_num ON history (key_num);`

	recordVersionSQL = `INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`

	currentVersionSQL = `SELECT version FROM schema_versions ORDER BY version DESC LIMIT 1`

	tableExistsSQL = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`

	insertEntrySQL = `
    INSERT INTO history (key, key_num, temperature, humidity, gas, received_at)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT (key) DO UPDATE SET
        temperature = excluded.temperature,
        humidity    = excluded.humidity,
        gas         = excluded.gas,
        received_at = excluded.received_at`

	// Mirrors KeyLess, newest first: text keys, then numeric keys by value.
	lastEntriesSQL = `
    SELECT key, temperature, humidity, gas
    FROM history
    ORDER BY key_num IS NULL DESC, key_num DESC, key DESC
    LIMIT ?`
)

// phaseError is attached as error data to schema failures
type phaseError struct {
	Phase  string
	Target string `json:",omitempty"`
	Error  string
}

func schemaFailure(code errors.ErrorCode, phase, target string, err error) error {
	return errors.New().WithData(code, phaseError{Phase: phase, Target: target, Error: err.Error()})
}

// inTx runs fn in a transaction, rolling back unless fn and the commit succeed
func inTx(db *sql.DB, code errors.ErrorCode, log logger.Logger, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.New().Wrap(code, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(code, err)
	}
	return nil
}

// InitSchema creates the history tables and records SchemaVersion
func InitSchema(db *sql.DB, log logger.Logger) error {
	log.Debug().Msg("Creating history schema")

	err := inTx(db, ErrSchemaInitFailed, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return schemaFailure(ErrSchemaInitFailed, "create_tables", "", err)
		}
		if _, err := tx.Exec(recordVersionSQL, SchemaVersion); err != nil {
			return schemaFailure(ErrSchemaInitFailed, "record_version", "", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Int("version", SchemaVersion).Msg("History schema ready")
	return nil
}

// GetSchemaVersion returns the recorded schema version, 0 for a new database
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := TableExists(db, "schema_versions")
	if err != nil || !exists {
		return 0, err
	}

	var version int
	switch err := db.QueryRow(currentVersionSQL).Scan(&version); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, schemaFailure(ErrSchemaValidationFailed, "get_version", "", err)
	}
	return version, nil
}

// TableExists reports whether name is a table in db
func TableExists(db *sql.DB, name string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, name).Scan(&exists); err != nil {
		return false, schemaFailure(ErrSchemaValidationFailed, "check_table_exists", name, err)
	}
	return exists, nil
}
