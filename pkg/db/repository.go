package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

var journalColumns = []string{
	"id", "service_id", "method", "mode", "status", "code", "host", "error", "started", "duration_ms",
}

// Repository provides database access for the invocation journal.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertInvocations stores records with COPY. It returns the number of
// rows written.
func (r *Repository) InsertInvocations(ctx context.Context, records []InvocationRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	slog.Debug(fmt.Sprintf("%s - InsertInvocations count=%d", repoLogPrefix, len(records)))

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"invocation_journal"},
		journalColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			id, err := uuid.Parse(rec.ID)
			if err != nil {
				return nil, fmt.Errorf("record %d: invalid id %q: %w", i, rec.ID, err)
			}
			return []any{
				id, rec.ServiceID, rec.Method, rec.Mode, rec.Status,
				rec.Code, rec.Host, rec.Error, rec.Started, rec.DurationMs,
			}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("%s - copy invocations: %w", repoLogPrefix, err)
	}
	return n, nil
}

// ListInvocations returns journal rows, newest first, and the total count
// matching the filter.
func (r *Repository) ListInvocations(ctx context.Context, params ListInvocationsParams) ([]InvocationRecord, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if params.ServiceID != "" {
		where += fmt.Sprintf(` AND service_id = $%d`, argIdx)
		args = append(args, params.ServiceID)
		argIdx++
	}
	if params.Method != "" {
		where += fmt.Sprintf(` AND method = $%d`, argIdx)
		args = append(args, params.Method)
		argIdx++
	}
	if params.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, params.Status)
		argIdx++
	}
	if !params.Since.IsZero() {
		where += fmt.Sprintf(` AND started >= $%d`, argIdx)
		args = append(args, params.Since)
		argIdx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invocation_journal`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - count invocations: %w", repoLogPrefix, err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, service_id, method, mode, status, code, host, error, started, duration_ms, created
		 FROM invocation_journal` + where +
		fmt.Sprintf(` ORDER BY started DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - list invocations: %w", repoLogPrefix, err)
	}
	records, err := pgx.CollectRows(rows, scanInvocation)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - scan invocations: %w", repoLogPrefix, err)
	}
	return records, total, nil
}

// Stats counts journal rows per status.
func (r *Repository) Stats(ctx context.Context) (*JournalStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM invocation_journal GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("%s - journal stats: %w", repoLogPrefix, err)
	}
	defer rows.Close()

	stats := &JournalStats{ByStatus: make(map[string]int64)}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%s - scan stats: %w", repoLogPrefix, err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanInvocation(row pgx.CollectableRow) (InvocationRecord, error) {
	var rec InvocationRecord
	err := row.Scan(
		&rec.ID, &rec.ServiceID, &rec.Method, &rec.Mode, &rec.Status,
		&rec.Code, &rec.Host, &rec.Error, &rec.Started, &rec.DurationMs, &rec.Created,
	)
	return rec, err
}
