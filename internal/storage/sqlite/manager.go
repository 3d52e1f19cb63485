package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/dispatch/internal/common"
	"github.com/ternarybob/dispatch/internal/interfaces"
)

// StorageManager bundles the primary database storages used by the
// coordinator process
type StorageManager struct {
	db      *SQLiteDB
	Jobs    interfaces.JobStorage
	Workers interfaces.WorkerStorage
}

// NewStorageManager opens the primary database and wires the storages
func NewStorageManager(logger arbor.ILogger, config *common.SQLiteConfig) (*StorageManager, error) {
	db, err := NewSQLiteDB(logger, config, schemaSQL)
	if err != nil {
		return nil, err
	}

	return &StorageManager{
		db:      db,
		Jobs:    NewJobStorage(db, logger),
		Workers: NewWorkerStorage(db, logger),
	}, nil
}

// DB exposes the underlying connection for tests
func (m *StorageManager) DB() *SQLiteDB {
	return m.db
}

// Close closes the primary database
func (m *StorageManager) Close() error {
	return m.db.Close()
}
