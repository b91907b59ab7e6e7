package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	"genforge/pkg/logx"
)

// DB is the singleton database manager.
// All database access from the CLI and server goes through this instance.
//
//nolint:gochecknoglobals // Intentional singleton pattern for database access
var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
)

// Initialize sets up the singleton database connection.
// Subsequent calls are no-ops until Reset.
func Initialize(dbPath string) error {
	var initErr error

	globalDBOnce.Do(func() {
		db, err := InitializeDatabase(dbPath)
		if err != nil {
			initErr = err
			return
		}

		globalDBMu.Lock()
		globalDB = db
		globalDBMu.Unlock()
		logx.NewLogger("persistence").Info("📦 Database initialized: %s", dbPath)
	})

	return initErr
}

// GetDB returns the singleton database connection.
// Panics if Initialize has not been called.
func GetDB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("persistence.Initialize must be called before GetDB")
	}
	return globalDB
}

// Ops returns a DatabaseOperations instance using the singleton connection.
func Ops() *DatabaseOperations {
	return NewDatabaseOperations(GetDB())
}

// IsInitialized returns true if the database has been initialized.
func IsInitialized() bool {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()
	return globalDB != nil
}

// Close closes the database connection. Should be called during shutdown.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// Reset closes the database and resets the singleton for testing.
func Reset() error {
	if err := Close(); err != nil {
		return err
	}
	globalDBOnce = sync.Once{}
	return nil
}
