package telemetry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
	"github.com/arqiarkaan/enviro-dashboard/internal/logger"
)

var historyTables = []string{"history", "schema_versions"}

// ValidateAndUpdateSchema recreates the schema when the recorded version
// differs from SchemaVersion. A populated database of another version is
// copied into backupDir first unless backupDir is empty.
func ValidateAndUpdateSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	if version == SchemaVersion {
		log.Debug().Int("version", version).Msg("History schema is current")
		return nil
	}
	log.Debug().Int("found", version).Int("want", SchemaVersion).Msg("History schema needs rebuild")

	if version != 0 && backupDir != "" {
		if _, err := backupDatabase(db, backupDir, version, log); err != nil {
			return err
		}
	}

	err = inTx(db, ErrSchemaMigrationFailed, log, func(tx *sql.Tx) error {
		for _, table := range historyTables {
			if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return schemaFailure(ErrSchemaMigrationFailed, "drop_table", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return InitSchema(db, log)
}

// backupDatabase snapshots db with VACUUM INTO, which must run outside a
// transaction
func backupDatabase(db *sql.DB, dir string, version int, log logger.Logger) (string, error) {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", schemaFailure(ErrSchemaMigrationFailed, "create_backup_dir", dir, err)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	path := filepath.Join(dir, fmt.Sprintf("history_v%d_%s.db", version, stamp))

	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return "", schemaFailure(ErrSchemaMigrationFailed, "create_backup", path, err)
	}

	log.Info().Str("path", path).Int("version", version).Msg("History backup written")
	return path, nil
}
