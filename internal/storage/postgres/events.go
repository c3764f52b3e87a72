package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kaadipranav/lynex-sub000/internal/storage"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver
)

// EventRepo writes and reads enriched events in the hot storage table.
type EventRepo struct {
	db *sql.DB
}

// Open builds the shared *sql.DB used by every repo in this package.
func Open(connString string, maxConns, minConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpsertBatch writes a batch in one statement. The conflict target
// (project_id, event_id) makes redelivered events overwrite themselves, which
// is what keeps at-least-once delivery from double-counting anything. The
// returned flags line up with the input: true means first-time insert, false
// means the row already existed, so callers can skip re-running side effects
// for redeliveries.
func (r *EventRepo) UpsertBatch(ctx context.Context, rows []storage.EventRow) ([]bool, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	const numFields = 14
	var sb strings.Builder
	vals := make([]interface{}, 0, len(rows)*numFields)

	for i, e := range rows {
		p := i * numFields
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13, p+14)

		vals = append(vals,
			e.ProjectID, e.EventID, e.Type, nullStr(e.TraceID), nullStr(e.ParentEventID),
			e.Timestamp, e.SDKName, e.SDKVersion, nullJSON(e.Context), nullJSON(e.Body),
			e.QueuedAt, e.ProcessedAt, e.QueueLatencyMs, e.EstimatedCostUSD,
		)
	}

	query := fmt.Sprintf(`INSERT INTO events
		(project_id, event_id, type, trace_id, parent_event_id, timestamp,
		 sdk_name, sdk_version, context, body, queued_at, processed_at,
		 queue_latency_ms, estimated_cost_usd)
		VALUES %s
		ON CONFLICT (project_id, event_id) DO UPDATE SET
		 processed_at = EXCLUDED.processed_at,
		 queue_latency_ms = EXCLUDED.queue_latency_ms,
		 estimated_cost_usd = EXCLUDED.estimated_cost_usd
		RETURNING (xmax = 0)`, sb.String())

	res, err := r.db.QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	inserted := make([]bool, 0, len(rows))
	for res.Next() {
		var fresh bool
		if err := res.Scan(&fresh); err != nil {
			return nil, err
		}
		inserted = append(inserted, fresh)
	}
	return inserted, res.Err()
}

// ListByTrace returns the flat event set for one trace, tenant-scoped.
func (r *EventRepo) ListByTrace(ctx context.Context, projectID, traceID string) ([]storage.EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT
		project_id, event_id, type, COALESCE(trace_id, ''), COALESCE(parent_event_id, ''),
		timestamp, sdk_name, sdk_version, COALESCE(context, 'null'), COALESCE(body, 'null'),
		queued_at, processed_at, queue_latency_ms, estimated_cost_usd
		FROM events WHERE project_id = $1 AND trace_id = $2
		ORDER BY timestamp ASC, event_id ASC`, projectID, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.EventRow
	for rows.Next() {
		var e storage.EventRow
		if err := rows.Scan(
			&e.ProjectID, &e.EventID, &e.Type, &e.TraceID, &e.ParentEventID,
			&e.Timestamp, &e.SDKName, &e.SDKVersion, &e.Context, &e.Body,
			&e.QueuedAt, &e.ProcessedAt, &e.QueueLatencyMs, &e.EstimatedCostUSD,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListTraceSummaries aggregates per trace, most recent first. Keyset
// pagination on end_time: pass the previous page's oldest end_time as before.
func (r *EventRepo) ListTraceSummaries(ctx context.Context, projectID string, limit int, before time.Time) ([]storage.TraceSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if before.IsZero() {
		before = time.Now().Add(time.Hour)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT
		trace_id, project_id,
		MIN(timestamp) AS start_time, MAX(timestamp) AS end_time,
		COUNT(*) AS event_count,
		COALESCE(SUM(estimated_cost_usd), 0) AS total_cost,
		COUNT(*) FILTER (WHERE type = 'error') AS error_count
		FROM events
		WHERE project_id = $1 AND trace_id IS NOT NULL
		GROUP BY trace_id, project_id
		HAVING MAX(timestamp) < $2
		ORDER BY end_time DESC
		LIMIT $3`, projectID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TraceSummary
	for rows.Next() {
		var s storage.TraceSummary
		if err := rows.Scan(
			&s.TraceID, &s.ProjectID, &s.StartTime, &s.EndTime,
			&s.EventCount, &s.TotalCostUSD, &s.ErrorCount,
		); err != nil {
			return nil, err
		}
		s.DurationMs = s.EndTime.Sub(s.StartTime).Milliseconds()
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
