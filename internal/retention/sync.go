package retention

import (
	"context"
	"fmt"
	"log"
)

// UsageReporter receives per-user package counts. The billing provider
// client implements this; the service only depends on the interface.
type UsageReporter interface {
	ReportPackageCount(ctx context.Context, userID int64, count int64) error
}

// LogReporter is the default reporter: it just logs the counts. Used when
// no billing provider is configured.
type LogReporter struct{}

func (LogReporter) ReportPackageCount(_ context.Context, userID int64, count int64) error {
	log.Printf("sync: user %d has %d packages", userID, count)
	return nil
}

// SyncResult summarizes one package-count sync run.
type SyncResult struct {
	TotalUsers int      `json:"total_users"`
	Synced     int      `json:"synced"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors"`
}

// Syncer pushes every user's package count to the usage reporter, one
// grouped query for the counts and one reporter call per user. A failing
// user is recorded and skipped; the run continues.
type Syncer struct {
	db       Querier
	reporter UsageReporter
}

func NewSyncer(db Querier, reporter UsageReporter) *Syncer {
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Syncer{db: db, reporter: reporter}
}

// Run executes one sync pass.
func (s *Syncer) Run(ctx context.Context) SyncResult {
	res := SyncResult{Errors: []string{}}

	rows, err := s.db.Query(ctx, `
		SELECT user_id, COUNT(*) AS package_count
		FROM api_keys
		GROUP BY user_id
		ORDER BY user_id
	`)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("count query failed: %v", err))
		return res
	}
	defer rows.Close()

	type userCount struct {
		userID int64
		count  int64
	}
	var counts []userCount
	for rows.Next() {
		var uc userCount
		if err := rows.Scan(&uc.userID, &uc.count); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("scan failed: %v", err))
			return res
		}
		counts = append(counts, uc)
	}
	if err := rows.Err(); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	res.TotalUsers = len(counts)
	for _, uc := range counts {
		if err := s.reporter.ReportPackageCount(ctx, uc.userID, uc.count); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("user %d: %v", uc.userID, err))
			continue
		}
		res.Synced++
	}

	if res.Failed > 0 {
		log.Printf("sync: completed with %d failures out of %d users", res.Failed, res.TotalUsers)
	}
	return res
}
