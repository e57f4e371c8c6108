package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KeyStats is the headline stat row for one api key.
type KeyStats struct {
	TotalEvents   int64
	TotalSessions int64
	ActiveDays    int64
}

// DimensionCount is one pre-grouped bucket of a distribution query.
type DimensionCount struct {
	Name          string
	TotalEvents   int64
	TotalSessions int64
}

// DailyStat is one date×package row of the daily timeseries.
type DailyStat struct {
	Date          time.Time
	PackageName   string
	TotalEvents   int64
	TotalSessions int64
}

// DailyUsers is one day of the distinct-user timeseries.
type DailyUsers struct {
	Date        time.Time
	UniqueUsers int64
}

// RetentionStats buckets users by distinct-session count in a window.
type RetentionStats struct {
	TotalUsers         int64
	SingleSessionUsers int64
	MultiSessionUsers  int64
	PowerUsers         int64
	AvgSessionsPerUser float64
}

// DimensionUsers is one bucket of the unique-users-by-dimension cross-tab.
type DimensionUsers struct {
	Name          string
	UniqueUsers   int64
	TotalSessions int64
}

// EventTypeCount is one discovered custom event type with its total.
type EventTypeCount struct {
	EventType  string
	TotalCount int64
}

// EventTypeDaily is one date×type row of the custom-event timeseries.
type EventTypeDaily struct {
	Date      time.Time
	EventType string
	Count     int64
}

// EventProperties is one sampled raw extra_data payload.
type EventProperties struct {
	Properties map[string]any
	Timestamp  time.Time
}

// SampleEvent is one recent event, used for operational sampling.
type SampleEvent struct {
	EventTimestamp time.Time
	ReceivedAt     time.Time
	PackageName    string
}

// Repo is the aggregation repository: a fixed catalogue of parameterized
// read queries over analytics_events. Every query is scoped by an explicit
// api-key list and an inclusive [start, end] window; callers own range
// defaulting. No caller-supplied identifier ever reaches SQL text except
// through the Dimension enum.
type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// fail logs a query failure with enough context to trace it (operation,
// tenant count, window) and propagates the error unchanged in meaning.
// Aggregation reads are never retried here.
func fail(op string, nkeys int, start, end time.Time, err error) error {
	log.Printf("analytics: %s failed (keys=%d range=%s..%s): %v",
		op, nkeys, start.Format("2006-01-02"), end.Format("2006-01-02"), err)
	return fmt.Errorf("%s: %w", op, err)
}

// StatsForKey returns total events, distinct sessions and distinct active
// calendar days for one key within [start, end].
func (r *Repo) StatsForKey(ctx context.Context, key string, start, end time.Time) (KeyStats, error) {
	var s KeyStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT session_id),
		       COUNT(DISTINCT event_timestamp::date)
		FROM analytics_events
		WHERE api_key = $1
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
	`, key, start, end).Scan(&s.TotalEvents, &s.TotalSessions, &s.ActiveDays)
	if err != nil {
		return KeyStats{}, fail("stats_for_key", 1, start, end, err)
	}
	return s, nil
}

// PythonVersionDistribution groups events by minor runtime version.
// The SQL groups by the raw version string; buckets are then merged by
// MinorVersion so "3.11.0" and "3.11.5" land in "3.11".
func (r *Repo) PythonVersionDistribution(ctx context.Context, keys []string, start, end time.Time) ([]DimensionCount, error) {
	raw, err := r.distribution(ctx, "python_version", keys, start, end)
	if err != nil {
		return nil, fail("python_version_distribution", len(keys), start, end, err)
	}

	merged := map[string]*DimensionCount{}
	order := []string{}
	for _, row := range raw {
		minor := MinorVersion(row.Name)
		b, ok := merged[minor]
		if !ok {
			b = &DimensionCount{Name: minor}
			merged[minor] = b
			order = append(order, minor)
		}
		b.TotalEvents += row.TotalEvents
		b.TotalSessions += row.TotalSessions
	}

	out := make([]DimensionCount, 0, len(order))
	for _, name := range order {
		out = append(out, *merged[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalEvents > out[j].TotalEvents })
	return out, nil
}

// OSDistribution groups events by raw os_type, no normalization.
func (r *Repo) OSDistribution(ctx context.Context, keys []string, start, end time.Time) ([]DimensionCount, error) {
	out, err := r.distribution(ctx, "os_type", keys, start, end)
	if err != nil {
		return nil, fail("os_distribution", len(keys), start, end, err)
	}
	return out, nil
}

// PackageVersionDistribution groups one key's events by exact package
// version string (unlike runtime versions, no truncation).
func (r *Repo) PackageVersionDistribution(ctx context.Context, key string, start, end time.Time) ([]DimensionCount, error) {
	out, err := r.distribution(ctx, "package_version", []string{key}, start, end)
	if err != nil {
		return nil, fail("package_version_distribution", 1, start, end, err)
	}
	return out, nil
}

// distribution runs the shared group-by-count query. col is always one of
// the fixed literals passed by the methods above, never caller input.
func (r *Repo) distribution(ctx context.Context, col string, keys []string, start, end time.Time) ([]DimensionCount, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s,
		       COUNT(*) AS total_events,
		       COUNT(DISTINCT session_id) AS total_sessions
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
		GROUP BY %s
		ORDER BY total_events DESC
	`, col, col), keys, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DimensionCount
	for rows.Next() {
		var d DimensionCount
		if err := rows.Scan(&d.Name, &d.TotalEvents, &d.TotalSessions); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DailyTimeseries returns one row per date×package; callers sum across
// packages for the combined series.
func (r *Repo) DailyTimeseries(ctx context.Context, keys []string, start, end time.Time) ([]DailyStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_timestamp::date AS day,
		       package_name,
		       COUNT(*) AS total_events,
		       COUNT(DISTINCT session_id) AS total_sessions
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
		GROUP BY day, package_name
		ORDER BY day
	`, keys, start, end)
	if err != nil {
		return nil, fail("daily_timeseries", len(keys), start, end, err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Date, &d.PackageName, &d.TotalEvents, &d.TotalSessions); err != nil {
			return nil, fail("daily_timeseries", len(keys), start, end, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TotalEventCount counts all events for a key set, any age. Used to decide
// whether a sparse window should be auto-extended.
func (r *Repo) TotalEventCount(ctx context.Context, keys []string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM analytics_events WHERE api_key = ANY($1)
	`, keys).Scan(&n)
	if err != nil {
		return 0, fail("total_event_count", len(keys), time.Time{}, time.Time{}, err)
	}
	return n, nil
}

// EventCountInRange counts events for a key set within [start, end].
func (r *Repo) EventCountInRange(ctx context.Context, keys []string, start, end time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
	`, keys, start, end).Scan(&n)
	if err != nil {
		return 0, fail("event_count_in_range", len(keys), start, end, err)
	}
	return n, nil
}

// UniquePythonVersionsCount counts distinct raw runtime versions for one
// key since a point in time.
func (r *Repo) UniquePythonVersionsCount(ctx context.Context, key string, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT python_version)
		FROM analytics_events
		WHERE api_key = $1 AND event_timestamp >= $2
	`, key, since).Scan(&n)
	if err != nil {
		return 0, fail("unique_python_versions_count", 1, since, time.Time{}, err)
	}
	return n, nil
}

// UniqueOSCount counts distinct os types for one key since a point in time.
func (r *Repo) UniqueOSCount(ctx context.Context, key string, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT os_type)
		FROM analytics_events
		WHERE api_key = $1 AND event_timestamp >= $2
	`, key, since).Scan(&n)
	if err != nil {
		return 0, fail("unique_os_count", 1, since, time.Time{}, err)
	}
	return n, nil
}

// UniqueUsersCount counts distinct user identifiers within [start, end].
// Exact distinct by design: correctness over scale at the expected row
// counts, and events without an identifier never contribute.
func (r *Repo) UniqueUsersCount(ctx context.Context, keys []string, start, end time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_identifier)
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND user_identifier IS NOT NULL
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
	`, keys, start, end).Scan(&n)
	if err != nil {
		return 0, fail("unique_users_count", len(keys), start, end, err)
	}
	return n, nil
}

// ActiveUsersByPeriod counts distinct user identifiers active in an
// arbitrary period (the DAU/WAU/MAU primitive).
func (r *Repo) ActiveUsersByPeriod(ctx context.Context, keys []string, start, end time.Time) (int64, error) {
	return r.UniqueUsersCount(ctx, keys, start, end)
}

// NewUsersCount counts users whose globally-earliest event falls inside
// [start, end]. A user is "new" in exactly one period.
func (r *Repo) NewUsersCount(ctx context.Context, keys []string, start, end time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM (
			SELECT user_identifier, MIN(event_timestamp) AS first_seen
			FROM analytics_events
			WHERE api_key = ANY($1)
			  AND user_identifier IS NOT NULL
			GROUP BY user_identifier
		) firsts
		WHERE first_seen >= $2
		  AND first_seen <= $3
	`, keys, start, end).Scan(&n)
	if err != nil {
		return 0, fail("new_users_count", len(keys), start, end, err)
	}
	return n, nil
}

// DailyActiveUsersTimeseries returns distinct users per calendar day.
func (r *Repo) DailyActiveUsersTimeseries(ctx context.Context, keys []string, start, end time.Time) ([]DailyUsers, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_timestamp::date AS day,
		       COUNT(DISTINCT user_identifier) AS unique_users
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND user_identifier IS NOT NULL
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
		GROUP BY day
		ORDER BY day
	`, keys, start, end)
	if err != nil {
		return nil, fail("daily_active_users_timeseries", len(keys), start, end, err)
	}
	defer rows.Close()

	var out []DailyUsers
	for rows.Next() {
		var d DailyUsers
		if err := rows.Scan(&d.Date, &d.UniqueUsers); err != nil {
			return nil, fail("daily_active_users_timeseries", len(keys), start, end, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UserRetentionStats buckets users by distinct-session count within the
// window: single (1), multi (2..9) and power (>=10), plus the mean.
func (r *Repo) UserRetentionStats(ctx context.Context, keys []string, start, end time.Time) (RetentionStats, error) {
	var s RetentionStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE sessions = 1),
		       COUNT(*) FILTER (WHERE sessions BETWEEN 2 AND 9),
		       COUNT(*) FILTER (WHERE sessions >= 10),
		       COALESCE(AVG(sessions), 0)::float8
		FROM (
			SELECT user_identifier, COUNT(DISTINCT session_id) AS sessions
			FROM analytics_events
			WHERE api_key = ANY($1)
			  AND user_identifier IS NOT NULL
			  AND event_timestamp >= $2
			  AND event_timestamp <= $3
			GROUP BY user_identifier
		) per_user
	`, keys, start, end).Scan(
		&s.TotalUsers, &s.SingleSessionUsers, &s.MultiSessionUsers, &s.PowerUsers, &s.AvgSessionsPerUser)
	if err != nil {
		return RetentionStats{}, fail("user_retention_stats", len(keys), start, end, err)
	}
	return s, nil
}

// UniqueUsersByDimension cross-tabulates distinct users and sessions by an
// allow-listed dimension. The column reference comes from the closed enum;
// dim must have passed ParseDimension.
func (r *Repo) UniqueUsersByDimension(ctx context.Context, keys []string, dim Dimension, start, end time.Time) ([]DimensionUsers, error) {
	col := dim.Column()
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT COALESCE(%s::text, 'unknown') AS dimension_name,
		       COUNT(DISTINCT user_identifier) AS unique_users,
		       COUNT(DISTINCT session_id) AS total_sessions
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND user_identifier IS NOT NULL
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
		GROUP BY dimension_name
		ORDER BY unique_users DESC
	`, col), keys, start, end)
	if err != nil {
		return nil, fail("unique_users_by_dimension", len(keys), start, end, err)
	}
	defer rows.Close()

	var out []DimensionUsers
	for rows.Next() {
		var d DimensionUsers
		if err := rows.Scan(&d.Name, &d.UniqueUsers, &d.TotalSessions); err != nil {
			return nil, fail("unique_users_by_dimension", len(keys), start, end, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CustomEventTypes lists event types: events where entry_point names the
// type and extra_data is populated.
func (r *Repo) CustomEventTypes(ctx context.Context, keys []string, start, end time.Time) ([]EventTypeCount, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT entry_point, COUNT(*) AS total_count
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND entry_point IS NOT NULL
		  AND extra_data IS NOT NULL
		  AND event_timestamp >= $2
		  AND event_timestamp <= $3
		GROUP BY entry_point
		ORDER BY total_count DESC
	`, keys, start, end)
	if err != nil {
		return nil, fail("custom_event_types", len(keys), start, end, err)
	}
	defer rows.Close()

	var out []EventTypeCount
	for rows.Next() {
		var e EventTypeCount
		if err := rows.Scan(&e.EventType, &e.TotalCount); err != nil {
			return nil, fail("custom_event_types", len(keys), start, end, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CustomEventsTimeseries returns per-day counts for a validated set of
// event types.
func (r *Repo) CustomEventsTimeseries(ctx context.Context, keys, eventTypes []string, start, end time.Time) ([]EventTypeDaily, error) {
	if err := ValidateEventTypes(eventTypes); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT event_timestamp::date AS day,
		       entry_point,
		       COUNT(*) AS cnt
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND entry_point = ANY($2)
		  AND extra_data IS NOT NULL
		  AND event_timestamp >= $3
		  AND event_timestamp <= $4
		GROUP BY day, entry_point
		ORDER BY day
	`, keys, eventTypes, start, end)
	if err != nil {
		return nil, fail("custom_events_timeseries", len(keys), start, end, err)
	}
	defer rows.Close()

	var out []EventTypeDaily
	for rows.Next() {
		var e EventTypeDaily
		if err := rows.Scan(&e.Date, &e.EventType, &e.Count); err != nil {
			return nil, fail("custom_events_timeseries", len(keys), start, end, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CustomEventProperties returns the most recent raw payloads for one
// validated event type, for schema discovery in the UI.
func (r *Repo) CustomEventProperties(ctx context.Context, keys []string, eventType string, start, end time.Time, limit int) ([]EventProperties, error) {
	if err := ValidateEventType(eventType); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT extra_data, event_timestamp
		FROM analytics_events
		WHERE api_key = ANY($1)
		  AND entry_point = $2
		  AND extra_data IS NOT NULL
		  AND event_timestamp >= $3
		  AND event_timestamp <= $4
		ORDER BY event_timestamp DESC
		LIMIT $5
	`, keys, eventType, start, end, limit)
	if err != nil {
		return nil, fail("custom_event_properties", len(keys), start, end, err)
	}
	defer rows.Close()

	var out []EventProperties
	for rows.Next() {
		var raw []byte
		var e EventProperties
		if err := rows.Scan(&raw, &e.Timestamp); err != nil {
			return nil, fail("custom_event_properties", len(keys), start, end, err)
		}
		if err := json.Unmarshal(raw, &e.Properties); err != nil {
			return nil, fail("custom_event_properties", len(keys), start, end, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SampleEvents returns the most recently received events for a key set.
// Ordered by received_at: this is operational sampling, not analytics.
func (r *Repo) SampleEvents(ctx context.Context, keys []string, limit int) ([]SampleEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_timestamp, received_at, package_name
		FROM analytics_events
		WHERE api_key = ANY($1)
		ORDER BY received_at DESC
		LIMIT $2
	`, keys, limit)
	if err != nil {
		return nil, fail("sample_events", len(keys), time.Time{}, time.Time{}, err)
	}
	defer rows.Close()

	var out []SampleEvent
	for rows.Next() {
		var s SampleEvent
		if err := rows.Scan(&s.EventTimestamp, &s.ReceivedAt, &s.PackageName); err != nil {
			return nil, fail("sample_events", len(keys), time.Time{}, time.Time{}, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
