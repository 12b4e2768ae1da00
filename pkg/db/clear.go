package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearJournal removes journal rows. With a zero before every row is
// removed and the table is truncated; otherwise only rows started before
// it are deleted. It returns the number of rows deleted, or -1 after a
// truncate.
func ClearJournal(ctx context.Context, pool *pgxpool.Pool, before time.Time) (int64, error) {
	if before.IsZero() {
		slog.Info(fmt.Sprintf("%s - Truncating invocation journal", clearLogPrefix))
		if _, err := pool.Exec(ctx, `TRUNCATE TABLE invocation_journal`); err != nil {
			return 0, fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
		}
		return -1, nil
	}

	slog.Info(fmt.Sprintf("%s - Deleting journal rows started before %s", clearLogPrefix, before.Format(time.RFC3339)))
	tag, err := pool.Exec(ctx, `DELETE FROM invocation_journal WHERE started < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("%s - delete failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Deleted %d journal rows", clearLogPrefix, tag.RowsAffected()))
	return tag.RowsAffected(), nil
}
