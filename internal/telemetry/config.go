package telemetry

import (
	"path/filepath"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm  = 0o755
	defaultDBPath   = "/var/lib/enviro/history.db"
	memoryDBPath    = ":memory:"
	backupDirName   = "backups"
	defaultBatching = 5
)

type Config struct {
	DBPath          string
	Enabled         bool
	BatchSize       int
	BatchTimeout    int // seconds
	BackupOnMigrate bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:          defaultDBPath,
		Enabled:         true,
		BatchSize:       1,
		BatchTimeout:    defaultBatching,
		BackupOnMigrate: true,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if persistence is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{c.BatchSize, c.BatchTimeout})
	}
	return nil
}

func (c Config) inMemory() bool {
	return c.DBPath == memoryDBPath
}

func (c Config) backupDir() string {
	if c.inMemory() || !c.BackupOnMigrate {
		return ""
	}
	return filepath.Join(filepath.Dir(c.DBPath), backupDirName)
}
