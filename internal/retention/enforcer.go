// Package retention implements the scheduled jobs that run against the
// event store: the free-tier data sweep and the package-count sync.
package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the database surface the jobs need. Both *pgxpool.Pool and
// pgx.Tx satisfy it, so a caller can compose a sweep into its own
// transaction instead of letting the job run standalone.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Result is the structured outcome of one sweep. The job never raises to
// its caller; the scheduler alerts on Success=false.
type Result struct {
	Success       bool     `json:"success"`
	TotalDeleted  int64    `json:"total_deleted"`
	UsersAffected int      `json:"users_affected"`
	CutoffDate    string   `json:"cutoff_date"`
	Errors        []string `json:"errors"`
}

// DataStats describes free-tier event volume relative to the cutoff.
type DataStats struct {
	TotalEvents     int64  `json:"total_events"`
	OldEvents       int64  `json:"old_events"`
	RetentionCutoff string `json:"retention_cutoff"`
	RetentionDays   int    `json:"retention_days"`
}

// Enforcer deletes events older than the retention window for every tenant
// whose owning user is on the free tier, regardless of subscription status.
// Paid-tier tenants are never touched. Idempotent: an immediate re-run
// deletes zero rows.
type Enforcer struct {
	db            Querier
	retentionDays int
	now           func() time.Time
}

// NewEnforcer builds a sweep over db. now is injectable for tests; nil
// means wall clock.
func NewEnforcer(db Querier, retentionDays int, now func() time.Time) *Enforcer {
	if now == nil {
		now = time.Now
	}
	return &Enforcer{db: db, retentionDays: retentionDays, now: now}
}

// Run executes one sweep. Concurrent ingestion cannot race with it: the
// delete only touches rows strictly older than now minus the retention
// window, and in-flight inserts carry current timestamps.
func (e *Enforcer) Run(ctx context.Context) Result {
	cutoff := e.now().UTC().AddDate(0, 0, -e.retentionDays)
	res := Result{
		CutoffDate: cutoff.Format(time.RFC3339),
		Errors:     []string{},
	}

	log.Printf("retention: starting free-tier sweep (retention=%dd cutoff=%s)",
		e.retentionDays, res.CutoffDate)

	keys, err := e.freeTierKeys(ctx)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	if len(keys) == 0 {
		log.Printf("retention: no free-tier keys found, skipping sweep")
		res.Success = true
		return res
	}

	tag, err := e.db.Exec(ctx, `
		DELETE FROM analytics_events
		WHERE api_key = ANY($1)
		  AND event_timestamp < $2
	`, keys, cutoff)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("delete failed: %v", err))
		return res
	}

	res.Success = true
	res.TotalDeleted = tag.RowsAffected()
	res.UsersAffected = len(keys)

	log.Printf("retention: sweep deleted %d events across %d free-tier keys",
		res.TotalDeleted, res.UsersAffected)
	return res
}

// Stats reports free-tier event volume and how much of it is past the
// cutoff, without deleting anything.
func (e *Enforcer) Stats(ctx context.Context) (DataStats, error) {
	cutoff := e.now().UTC().AddDate(0, 0, -e.retentionDays)
	stats := DataStats{
		RetentionCutoff: cutoff.Format(time.RFC3339),
		RetentionDays:   e.retentionDays,
	}

	err := e.db.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE ae.event_timestamp < $1)
		FROM analytics_events ae
		JOIN api_keys ak ON ae.api_key = ak.key
		JOIN users u ON ak.user_id = u.id
		WHERE u.subscription_tier = 'free'
	`, cutoff).Scan(&stats.TotalEvents, &stats.OldEvents)
	if err != nil {
		return DataStats{}, err
	}
	return stats, nil
}

// freeTierKeys resolves every api key owned by a free-tier user.
func (e *Enforcer) freeTierKeys(ctx context.Context) ([]string, error) {
	rows, err := e.db.Query(ctx, `
		SELECT ak.key
		FROM api_keys ak
		JOIN users u ON ak.user_id = u.id
		WHERE u.subscription_tier = 'free'
	`)
	if err != nil {
		return nil, fmt.Errorf("resolve free-tier keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("resolve free-tier keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
