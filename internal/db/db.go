package db

import (
	"errors"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pulsetrack/internal/config"
)

// Store wraps the GORM handle together with the per-bucket heartbeat
// locks. All datastore operations hang off it.
type Store struct {
	gdb *gorm.DB

	// hb serializes the heartbeat read-decide-write sequence per bucket.
	hb *keyedLock
}

// Connect opens the database named by PT_DATABASE_URL and migrates the
// schema. A postgres:// (or postgresql://) URL selects PostgreSQL;
// anything else is treated as a SQLite file path.
func Connect(cfg *config.Config) (*Store, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("PT_DATABASE_URL is required (postgres URL or sqlite path)")
	}

	var dial gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dial = postgres.Open(dsn)
	} else {
		dial = sqlite.Open(dsn + "?_busy_timeout=5000&_journal_mode=WAL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	gdb, err := gorm.Open(dial, &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}

	// Auto-migrate the core tables.
	if err := gdb.AutoMigrate(&Bucket{}, &Event{}, &KeyValue{}, &APIKey{}, &ActivityRollup{}); err != nil {
		return nil, err
	}

	return &Store{gdb: gdb, hb: newKeyedLock()}, nil
}

// isUniqueViolation recognizes unique-index violations from drivers that
// predate gorm.ErrDuplicatedKey translation (sqlite reports
// "UNIQUE constraint failed", postgres "duplicate key").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}
