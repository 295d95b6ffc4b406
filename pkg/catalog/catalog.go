package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	// ErrNotFound indicates a missing inode, share, version or lock.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a name collision or constraint violation.
	ErrConflict = errors.New("conflict")
)

// Catalog is the repository over the relational schema. A Catalog value
// is either bound to the root connection or, inside Tx, to an ambient
// transaction; helper methods never commit or roll back on their own.
type Catalog struct {
	db *gorm.DB

	// lockSweep guards the once-per-instance purge of expired locks,
	// shared across transaction-bound copies.
	lockSweep *sync.Once
}

// Open connects to the configured database and migrates the schema.
// Supported drivers: "sqlite" and "postgres".
func Open(driver, dsn string) (*Catalog, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown catalog driver: %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	if err := db.AutoMigrate(
		&Inode{},
		&FileVersion{},
		&InodeShare{},
		&InodeProp{},
		&InodeLock{},
		&ChunkedUpload{},
		&ChunkedUploadPart{},
		&Thumbnail{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate catalog schema: %w", err)
	}

	return &Catalog{db: db, lockSweep: new(sync.Once)}, nil
}

// Tx runs fn inside one database transaction. The Catalog passed to fn
// is bound to that transaction; any error from fn rolls it back.
func (c *Catalog) Tx(ctx context.Context, fn func(tx *Catalog) error) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Catalog{db: tx, lockSweep: c.lockSweep})
	})
}

// handle returns the context-bound gorm handle.
func (c *Catalog) handle(ctx context.Context) *gorm.DB {
	return c.db.WithContext(ctx)
}
