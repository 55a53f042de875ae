package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Locker is implemented by backends whose state can be shared with another
// process, such as the store CLI running next to the bot. Store.Update holds
// the lock from Load through Save.
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

const (
	lockRetryDelay   = 10 * time.Millisecond
	mysqlLockName    = "ticketbooth_store"
	mysqlLockTimeout = 30 // seconds
)

// lockFile takes an exclusive advisory lock on path, creating it if needed.
func lockFile(ctx context.Context, path string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create lock dir: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("store: lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("store: lock %s: not acquired", path)
	}
	return fl.Unlock, nil
}

// lockNamed takes a MySQL named lock on a dedicated connection. The lock is
// released when the connection ends, so a crashed holder cannot wedge it.
func lockNamed(ctx context.Context, db *sql.DB) (func() error, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: lock connection: %w", err)
	}
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", mysqlLockName, mysqlLockTimeout).Scan(&got); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: get lock: %w", err)
	}
	if !got.Valid || got.Int64 != 1 {
		conn.Close()
		return nil, fmt.Errorf("store: timed out waiting for lock %s", mysqlLockName)
	}
	return func() error {
		defer conn.Close()
		var released sql.NullInt64
		if err := conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", mysqlLockName).Scan(&released); err != nil {
			return fmt.Errorf("store: release lock: %w", err)
		}
		return nil
	}, nil
}
