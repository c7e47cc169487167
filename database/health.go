package database

import (
	"context"
	"database/sql"
	"time"
)

// Ping checks the pool within a short deadline.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
