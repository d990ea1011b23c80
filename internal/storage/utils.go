package storage

import (
	"time"

	"github.com/pkg/errors"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// InitStore connects to Postgres, retrying briefly while the database starts up.
func InitStore(dbConnStr string) (*PostgresStore, error) {
	var lastErr error
	for i := 0; i < connectAttempts; i++ {
		store, err := NewPostgresStore(dbConnStr)
		if err == nil {
			return store, nil
		}
		lastErr = err
		time.Sleep(connectBackoff * time.Duration(i+1))
	}
	return nil, errors.Wrapf(lastErr, "connect after %d attempts", connectAttempts)
}
