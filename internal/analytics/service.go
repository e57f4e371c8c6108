package analytics

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkgsight/pkgsight/internal/models"
)

// Store is the aggregation query surface the service depends on. *Repo
// satisfies it; tests substitute a fake.
type Store interface {
	StatsForKey(ctx context.Context, key string, start, end time.Time) (KeyStats, error)
	PythonVersionDistribution(ctx context.Context, keys []string, start, end time.Time) ([]DimensionCount, error)
	OSDistribution(ctx context.Context, keys []string, start, end time.Time) ([]DimensionCount, error)
	PackageVersionDistribution(ctx context.Context, key string, start, end time.Time) ([]DimensionCount, error)
	DailyTimeseries(ctx context.Context, keys []string, start, end time.Time) ([]DailyStat, error)
	TotalEventCount(ctx context.Context, keys []string) (int64, error)
	EventCountInRange(ctx context.Context, keys []string, start, end time.Time) (int64, error)
	UniquePythonVersionsCount(ctx context.Context, key string, since time.Time) (int64, error)
	UniqueOSCount(ctx context.Context, key string, since time.Time) (int64, error)
	UniqueUsersCount(ctx context.Context, keys []string, start, end time.Time) (int64, error)
	ActiveUsersByPeriod(ctx context.Context, keys []string, start, end time.Time) (int64, error)
	NewUsersCount(ctx context.Context, keys []string, start, end time.Time) (int64, error)
	DailyActiveUsersTimeseries(ctx context.Context, keys []string, start, end time.Time) ([]DailyUsers, error)
	UserRetentionStats(ctx context.Context, keys []string, start, end time.Time) (RetentionStats, error)
	UniqueUsersByDimension(ctx context.Context, keys []string, dim Dimension, start, end time.Time) ([]DimensionUsers, error)
	CustomEventTypes(ctx context.Context, keys []string, start, end time.Time) ([]EventTypeCount, error)
	CustomEventsTimeseries(ctx context.Context, keys, eventTypes []string, start, end time.Time) ([]EventTypeDaily, error)
	CustomEventProperties(ctx context.Context, keys []string, eventType string, start, end time.Time, limit int) ([]EventProperties, error)
	SampleEvents(ctx context.Context, keys []string, limit int) ([]SampleEvent, error)
}

// Scoper resolves a user to the api keys they own. *tenant.Resolver
// satisfies it.
type Scoper interface {
	KeysForUser(ctx context.Context, userID int64, packageName string) ([]models.APIKey, error)
	ActiveKeysForUser(ctx context.Context, userID int64) ([]models.APIKey, error)
	KeyForPackage(ctx context.Context, userID int64, packageName string) (*models.APIKey, error)
}

const (
	defaultRangeDays  = 30
	extendedRangeDays = 90
	samplePropsLimit  = 10
	recentEventsLimit = 50
)

// Service turns repository rows into dashboard-ready aggregates. It owns
// all derived-metric arithmetic and the default-range policy. Stateless:
// every call is independently re-derivable from the event table.
type Service struct {
	store Store
	scope Scoper
	now   func() time.Time
}

// NewService wires the service. now is injectable for tests; nil means
// wall clock.
func NewService(store Store, scope Scoper, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, scope: scope, now: now}
}

// resolveRange applies the default trailing-30-day window. start/end are
// calendar dates; zero values mean "not supplied".
func (s *Service) resolveRange(start, end time.Time) (time.Time, time.Time) {
	if end.IsZero() {
		end = s.now().UTC()
	}
	end = dateOnly(end)
	if start.IsZero() {
		start = end.AddDate(0, 0, -defaultRangeDays)
	}
	return dateOnly(start), end
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dayStart/dayEnd expand a calendar date to the inclusive timestamp window
// used by every repository query.
func dayStart(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func dayEnd(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 999999999, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// percentage is count/total*100 rounded to 2 decimals, 0 when total is 0.
func percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(float64(count) / float64(total) * 100)
}

const dateLayout = "2006-01-02"

// dateRangeStrings enumerates every calendar date in [start, end].
func dateRangeStrings(start, end time.Time) []string {
	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

// PackageOverview assembles the per-package overview list. Absent explicit
// dates the window is the trailing 30 days; a window with zero events for a
// tenant set that has any history at all is silently retried at 90 days.
// One stats round-trip per key is accepted: key counts are tier-limited.
func (s *Service) PackageOverview(ctx context.Context, userID int64, packageName string) ([]models.PackageOverview, error) {
	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.PackageOverview{}, nil
	}
	tokens := tokensOf(keys)

	endDate := dateOnly(s.now())
	startDate := endDate.AddDate(0, 0, -defaultRangeDays)
	startDT, endDT := dayStart(startDate), dayEnd(endDate)

	inRange, err := s.store.EventCountInRange(ctx, tokens, startDT, endDT)
	if err != nil {
		return nil, err
	}
	if inRange == 0 {
		total, err := s.store.TotalEventCount(ctx, tokens)
		if err != nil {
			return nil, err
		}
		if total > 0 {
			startDate = endDate.AddDate(0, 0, -extendedRangeDays)
			startDT = dayStart(startDate)
			log.Printf("analytics: no events in %dd range for user %d, extending to %dd",
				defaultRangeDays, userID, extendedRangeDays)
		}
	}

	overview := make([]models.PackageOverview, 0, len(keys))
	for _, k := range keys {
		stats, err := s.store.StatsForKey(ctx, k.Key, startDT, endDT)
		if err != nil {
			return nil, err
		}
		uniqueUsers, err := s.store.UniqueUsersCount(ctx, []string{k.Key}, startDT, endDT)
		if err != nil {
			return nil, err
		}
		pyCount, err := s.store.UniquePythonVersionsCount(ctx, k.Key, startDT)
		if err != nil {
			return nil, err
		}
		osCount, err := s.store.UniqueOSCount(ctx, k.Key, startDT)
		if err != nil {
			return nil, err
		}

		activeDays := stats.ActiveDays
		if activeDays < 1 {
			activeDays = 1
		}
		overview = append(overview, models.PackageOverview{
			PackageName:           k.PackageName,
			APIKey:                k.Key,
			TotalEvents:           stats.TotalEvents,
			TotalSessions:         stats.TotalSessions,
			TotalUniqueUsers:      uniqueUsers,
			AvgDailyEvents:        round2(float64(stats.TotalEvents) / float64(activeDays)),
			ActiveDays:            stats.ActiveDays,
			PythonVersionsCount:   pyCount,
			OperatingSystemsCount: osCount,
			DateRangeStart:        startDate.Format(dateLayout),
			DateRangeEnd:          endDate.Format(dateLayout),
		})
	}
	return overview, nil
}

// Timeseries builds the combined daily series, gap-filled with zeros over
// the whole requested range.
func (s *Service) Timeseries(ctx context.Context, userID int64, packageName string, start, end time.Time) (*models.TimeSeriesData, error) {
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &models.TimeSeriesData{
			Dates: []string{}, Events: []int64{}, Sessions: []int64{},
			UniqueUsers: []int64{}, Packages: []string{},
		}, nil
	}
	tokens := tokensOf(keys)
	startDT, endDT := dayStart(startDate), dayEnd(endDate)

	daily, err := s.store.DailyTimeseries(ctx, tokens, startDT, endDT)
	if err != nil {
		return nil, err
	}
	dailyUsers, err := s.store.DailyActiveUsersTimeseries(ctx, tokens, startDT, endDT)
	if err != nil {
		return nil, err
	}

	usersByDate := make(map[string]int64, len(dailyUsers))
	for _, u := range dailyUsers {
		usersByDate[u.Date.Format(dateLayout)] = u.UniqueUsers
	}

	type dayTotals struct {
		events   int64
		sessions int64
	}
	totals := map[string]dayTotals{}
	packageData := map[string]map[string]models.PackageDayStat{}
	packageSet := map[string]bool{}

	for _, d := range daily {
		ds := d.Date.Format(dateLayout)
		packageSet[d.PackageName] = true

		t := totals[ds]
		t.events += d.TotalEvents
		t.sessions += d.TotalSessions
		totals[ds] = t

		if packageData[ds] == nil {
			packageData[ds] = map[string]models.PackageDayStat{}
		}
		packageData[ds][d.PackageName] = models.PackageDayStat{
			Events:   d.TotalEvents,
			Sessions: d.TotalSessions,
		}
	}

	dates := dateRangeStrings(startDate, endDate)
	events := make([]int64, len(dates))
	sessions := make([]int64, len(dates))
	uniqueUsers := make([]int64, len(dates))
	for i, ds := range dates {
		t := totals[ds]
		events[i] = t.events
		sessions[i] = t.sessions
		uniqueUsers[i] = usersByDate[ds]
	}

	packages := make([]string, 0, len(packageSet))
	for name := range packageSet {
		packages = append(packages, name)
	}

	return &models.TimeSeriesData{
		Dates:       dates,
		Events:      events,
		Sessions:    sessions,
		UniqueUsers: uniqueUsers,
		Packages:    packages,
		PackageData: packageData,
	}, nil
}

// PythonVersionDistribution returns minor-version buckets with percentages.
func (s *Service) PythonVersionDistribution(ctx context.Context, userID int64, packageName string, start, end time.Time) ([]models.Distribution, error) {
	return s.distribution(ctx, userID, packageName, start, end, s.store.PythonVersionDistribution)
}

// OSDistribution returns raw os_type buckets with percentages.
func (s *Service) OSDistribution(ctx context.Context, userID int64, packageName string, start, end time.Time) ([]models.Distribution, error) {
	return s.distribution(ctx, userID, packageName, start, end, s.store.OSDistribution)
}

func (s *Service) distribution(
	ctx context.Context, userID int64, packageName string, start, end time.Time,
	query func(context.Context, []string, time.Time, time.Time) ([]DimensionCount, error),
) ([]models.Distribution, error) {
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.Distribution{}, nil
	}

	rows, err := query(ctx, tokensOf(keys), dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}
	return withPercentages(rows), nil
}

// PackageVersionAdoption returns exact package-version buckets for one
// owned package. This is the one path where an unowned package is a
// not-found error rather than an empty result.
func (s *Service) PackageVersionAdoption(ctx context.Context, userID int64, packageName string, start, end time.Time) ([]models.Distribution, error) {
	startDate, endDate := s.resolveRange(start, end)

	key, err := s.scope.KeyForPackage(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.PackageVersionDistribution(ctx, key.Key, dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}
	return withPercentages(rows), nil
}

// withPercentages derives event/session percentages over the response
// totals, zero-guarded.
func withPercentages(rows []DimensionCount) []models.Distribution {
	var totalEvents, totalSessions int64
	for _, r := range rows {
		totalEvents += r.TotalEvents
		totalSessions += r.TotalSessions
	}

	out := make([]models.Distribution, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Distribution{
			Name:              r.Name,
			EventCount:        r.TotalEvents,
			SessionCount:      r.TotalSessions,
			EventPercentage:   percentage(r.TotalEvents, totalEvents),
			SessionPercentage: percentage(r.TotalSessions, totalSessions),
		})
	}
	return out
}

// UniqueUsersOverview summarizes unique-user activity: range total, DAU,
// WAU, MAU (anchored at now), new users today/week/month, and growth rates
// against the immediately preceding period (nil when that period had no
// active users).
func (s *Service) UniqueUsersOverview(ctx context.Context, userID int64, packageName string, start, end time.Time) (*models.UniqueUsersOverview, error) {
	startDate, endDate := s.resolveRange(start, end)

	label := packageName
	if label == "" {
		label = "all_packages"
	}
	empty := &models.UniqueUsersOverview{
		PackageName:    label,
		DateRangeStart: startDate.Format(dateLayout),
		DateRangeEnd:   endDate.Format(dateLayout),
	}

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return empty, nil
	}
	tokens := tokensOf(keys)
	now := s.now().UTC()

	total, err := s.store.UniqueUsersCount(ctx, tokens, dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}

	dau, err := s.store.ActiveUsersByPeriod(ctx, tokens, now.AddDate(0, 0, -1), now)
	if err != nil {
		return nil, err
	}
	wau, err := s.store.ActiveUsersByPeriod(ctx, tokens, now.AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	mau, err := s.store.ActiveUsersByPeriod(ctx, tokens, now.AddDate(0, 0, -30), now)
	if err != nil {
		return nil, err
	}

	today := dateOnly(now)
	newToday, err := s.store.NewUsersCount(ctx, tokens, dayStart(today), dayEnd(today))
	if err != nil {
		return nil, err
	}
	newWeek, err := s.store.NewUsersCount(ctx, tokens, dayStart(today).AddDate(0, 0, -7), now)
	if err != nil {
		return nil, err
	}
	newMonth, err := s.store.NewUsersCount(ctx, tokens, dayStart(today).AddDate(0, 0, -30), now)
	if err != nil {
		return nil, err
	}

	dailyGrowth, err := s.growthRate(ctx, tokens, dau, now.AddDate(0, 0, -2), now.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	weeklyGrowth, err := s.growthRate(ctx, tokens, wau, now.AddDate(0, 0, -14), now.AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	monthlyGrowth, err := s.growthRate(ctx, tokens, mau, now.AddDate(0, 0, -60), now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	return &models.UniqueUsersOverview{
		PackageName:        label,
		TotalUniqueUsers:   total,
		DailyActiveUsers:   dau,
		WeeklyActiveUsers:  wau,
		MonthlyActiveUsers: mau,
		NewUsersToday:      newToday,
		NewUsersThisWeek:   newWeek,
		NewUsersThisMonth:  newMonth,
		GrowthRateDaily:    dailyGrowth,
		GrowthRateWeekly:   weeklyGrowth,
		GrowthRateMonthly:  monthlyGrowth,
		DateRangeStart:     startDate.Format(dateLayout),
		DateRangeEnd:       endDate.Format(dateLayout),
	}, nil
}

// growthRate compares current against the active-user count of the
// previous period. Nil when the previous period had zero active users.
func (s *Service) growthRate(ctx context.Context, tokens []string, current int64, prevStart, prevEnd time.Time) (*float64, error) {
	prev, err := s.store.ActiveUsersByPeriod(ctx, tokens, prevStart, prevEnd)
	if err != nil {
		return nil, err
	}
	if prev == 0 {
		return nil, nil
	}
	rate := round2(float64(current-prev) / float64(prev) * 100)
	return &rate, nil
}

// ActiveUsersTimeseries returns per-day active users with rolling 7- and
// 30-day windows anchored at each day. One window query per day is
// accepted for the same reason as the overview fan-out.
func (s *Service) ActiveUsersTimeseries(ctx context.Context, userID int64, packageName string, start, end time.Time) (*models.ActiveUsersTimeSeries, error) {
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &models.ActiveUsersTimeSeries{
			Dates: []string{}, DailyActiveUsers: []int64{}, WeeklyActiveUsers: []int64{},
			MonthlyActiveUsers: []int64{}, NewUsers: []int64{}, ReturningUsers: []int64{},
		}, nil
	}
	tokens := tokensOf(keys)

	daily, err := s.store.DailyActiveUsersTimeseries(ctx, tokens, dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}

	out := &models.ActiveUsersTimeSeries{
		Dates:              make([]string, 0, len(daily)),
		DailyActiveUsers:   make([]int64, 0, len(daily)),
		WeeklyActiveUsers:  make([]int64, 0, len(daily)),
		MonthlyActiveUsers: make([]int64, 0, len(daily)),
		NewUsers:           make([]int64, 0, len(daily)),
		ReturningUsers:     make([]int64, 0, len(daily)),
	}

	for _, day := range daily {
		dEnd := dayEnd(day.Date)

		wau, err := s.store.ActiveUsersByPeriod(ctx, tokens, dEnd.AddDate(0, 0, -7), dEnd)
		if err != nil {
			return nil, err
		}
		mau, err := s.store.ActiveUsersByPeriod(ctx, tokens, dEnd.AddDate(0, 0, -30), dEnd)
		if err != nil {
			return nil, err
		}
		newUsers, err := s.store.NewUsersCount(ctx, tokens, dayStart(day.Date), dEnd)
		if err != nil {
			return nil, err
		}

		returning := day.UniqueUsers - newUsers
		if returning < 0 {
			returning = 0
		}

		out.Dates = append(out.Dates, day.Date.Format(dateLayout))
		out.DailyActiveUsers = append(out.DailyActiveUsers, day.UniqueUsers)
		out.WeeklyActiveUsers = append(out.WeeklyActiveUsers, wau)
		out.MonthlyActiveUsers = append(out.MonthlyActiveUsers, mau)
		out.NewUsers = append(out.NewUsers, newUsers)
		out.ReturningUsers = append(out.ReturningUsers, returning)
	}
	return out, nil
}

// UserRetentionMetrics buckets the range's users by engagement depth.
func (s *Service) UserRetentionMetrics(ctx context.Context, userID int64, packageName string, start, end time.Time) (*models.UserRetentionMetrics, error) {
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &models.UserRetentionMetrics{}, nil
	}
	tokens := tokensOf(keys)
	startDT, endDT := dayStart(startDate), dayEnd(endDate)

	stats, err := s.store.UserRetentionStats(ctx, tokens, startDT, endDT)
	if err != nil {
		return nil, err
	}
	newUsers, err := s.store.NewUsersCount(ctx, tokens, startDT, endDT)
	if err != nil {
		return nil, err
	}

	returning := stats.TotalUsers - newUsers
	if returning < 0 {
		returning = 0
	}

	return &models.UserRetentionMetrics{
		TotalUsers:         stats.TotalUsers,
		NewUsers:           newUsers,
		ReturningUsers:     returning,
		RetentionRate:      percentage(returning, stats.TotalUsers),
		AvgSessionsPerUser: round2(stats.AvgSessionsPerUser),
		SingleSessionUsers: stats.SingleSessionUsers,
		MultiSessionUsers:  stats.MultiSessionUsers,
		PowerUsers:         stats.PowerUsers,
	}, nil
}

// UniqueUsersByOS breaks unique users down by operating system.
func (s *Service) UniqueUsersByOS(ctx context.Context, userID int64, packageName string, start, end time.Time) ([]models.UniqueUsersByDimension, error) {
	return s.uniqueUsersByDimension(ctx, userID, DimensionOSType, packageName, start, end)
}

// UniqueUsersByPythonVersion breaks unique users down by runtime version.
func (s *Service) UniqueUsersByPythonVersion(ctx context.Context, userID int64, packageName string, start, end time.Time) ([]models.UniqueUsersByDimension, error) {
	return s.uniqueUsersByDimension(ctx, userID, DimensionPythonVersion, packageName, start, end)
}

// UniqueUsersByDimensionName is the generic entry point; the dimension name
// is validated against the closed allow-list before any query is issued.
func (s *Service) UniqueUsersByDimensionName(ctx context.Context, userID int64, dimension, packageName string, start, end time.Time) ([]models.UniqueUsersByDimension, error) {
	dim, err := ParseDimension(dimension)
	if err != nil {
		return nil, err
	}
	return s.uniqueUsersByDimension(ctx, userID, dim, packageName, start, end)
}

func (s *Service) uniqueUsersByDimension(ctx context.Context, userID int64, dim Dimension, packageName string, start, end time.Time) ([]models.UniqueUsersByDimension, error) {
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.UniqueUsersByDimension{}, nil
	}

	rows, err := s.store.UniqueUsersByDimension(ctx, tokensOf(keys), dim, dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}

	var totalUsers int64
	for _, r := range rows {
		totalUsers += r.UniqueUsers
	}

	out := make([]models.UniqueUsersByDimension, 0, len(rows))
	for _, r := range rows {
		avgSessions := 0.0
		if r.UniqueUsers > 0 {
			avgSessions = round2(float64(r.TotalSessions) / float64(r.UniqueUsers))
		}
		out = append(out, models.UniqueUsersByDimension{
			DimensionName:      r.Name,
			UniqueUsers:        r.UniqueUsers,
			Percentage:         percentage(r.UniqueUsers, totalUsers),
			AvgSessionsPerUser: avgSessions,
		})
	}
	return out, nil
}

// CustomEventTypes lists the user's custom event types with counts.
func (s *Service) CustomEventTypes(ctx context.Context, userID int64, packageName string, start, end time.Time) ([]models.CustomEventType, error) {
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.CustomEventType{}, nil
	}

	rows, err := s.store.CustomEventTypes(ctx, tokensOf(keys), dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}

	out := make([]models.CustomEventType, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.CustomEventType{EventType: r.EventType, TotalCount: r.TotalCount})
	}
	return out, nil
}

// CustomEventsTimeseries returns per-type daily series for a validated
// event-type list, zero-filled over the whole range.
func (s *Service) CustomEventsTimeseries(ctx context.Context, userID int64, eventTypes []string, packageName string, start, end time.Time) (*models.CustomEventTimeSeries, error) {
	if err := ValidateEventTypes(eventTypes); err != nil {
		return nil, err
	}
	startDate, endDate := s.resolveRange(start, end)

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &models.CustomEventTimeSeries{
			Dates: []string{}, EventTypes: eventTypes, SeriesData: map[string][]int64{},
		}, nil
	}

	raw, err := s.store.CustomEventsTimeseries(ctx, tokensOf(keys), eventTypes, dayStart(startDate), dayEnd(endDate))
	if err != nil {
		return nil, err
	}

	byType := map[string]map[string]int64{}
	for _, row := range raw {
		if byType[row.EventType] == nil {
			byType[row.EventType] = map[string]int64{}
		}
		byType[row.EventType][row.Date.Format(dateLayout)] = row.Count
	}

	dates := dateRangeStrings(startDate, endDate)
	series := make(map[string][]int64, len(eventTypes))
	for _, et := range eventTypes {
		counts := make([]int64, len(dates))
		for i, ds := range dates {
			counts[i] = byType[et][ds]
		}
		series[et] = counts
	}

	return &models.CustomEventTimeSeries{
		Dates:      dates,
		EventTypes: eventTypes,
		SeriesData: series,
	}, nil
}

// CustomEventDetails describes one validated event type: its total and the
// most recent sample payloads for schema discovery.
func (s *Service) CustomEventDetails(ctx context.Context, userID int64, eventType, packageName string, start, end time.Time) (*models.CustomEventDetails, error) {
	if err := ValidateEventType(eventType); err != nil {
		return nil, err
	}
	startDate, endDate := s.resolveRange(start, end)

	empty := &models.CustomEventDetails{
		EventType:        eventType,
		SampleProperties: []models.CustomEventProperty{},
	}

	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return empty, nil
	}
	tokens := tokensOf(keys)
	startDT, endDT := dayStart(startDate), dayEnd(endDate)

	types, err := s.store.CustomEventTypes(ctx, tokens, startDT, endDT)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, t := range types {
		if t.EventType == eventType {
			total = t.TotalCount
			break
		}
	}

	props, err := s.store.CustomEventProperties(ctx, tokens, eventType, startDT, endDT, samplePropsLimit)
	if err != nil {
		return nil, err
	}

	samples := make([]models.CustomEventProperty, 0, len(props))
	for _, p := range props {
		samples = append(samples, models.CustomEventProperty{
			Properties: p.Properties,
			Timestamp:  p.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	return &models.CustomEventDetails{
		EventType:        eventType,
		TotalCount:       total,
		SampleProperties: samples,
	}, nil
}

// RecentEvents returns the latest received events across the user's
// packages, newest first. Ordered by arrival, not event time.
func (s *Service) RecentEvents(ctx context.Context, userID int64, packageName string) ([]models.RecentEvent, error) {
	keys, err := s.scope.KeysForUser(ctx, userID, packageName)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []models.RecentEvent{}, nil
	}

	rows, err := s.store.SampleEvents(ctx, tokensOf(keys), recentEventsLimit)
	if err != nil {
		return nil, err
	}

	out := make([]models.RecentEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RecentEvent{
			PackageName:    r.PackageName,
			EventTimestamp: r.EventTimestamp.UTC().Format(time.RFC3339),
			ReceivedAt:     r.ReceivedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// Summary is the whole-account rollup: all-time event total plus recent
// per-package stats for active keys.
func (s *Service) Summary(ctx context.Context, userID int64) (*models.AnalyticsSummary, error) {
	keys, err := s.scope.ActiveKeysForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return &models.AnalyticsSummary{Packages: []models.PackageSummary{}}, nil
	}

	totalEvents, err := s.store.TotalEventCount(ctx, tokensOf(keys))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	startDT := now.AddDate(0, 0, -defaultRangeDays)

	var totalSessions int64
	packages := make([]models.PackageSummary, 0, len(keys))
	for _, k := range keys {
		stats, err := s.store.StatsForKey(ctx, k.Key, startDT, now)
		if err != nil {
			return nil, err
		}
		totalSessions += stats.TotalSessions
		packages = append(packages, models.PackageSummary{
			PackageName: k.PackageName,
			APIKey:      k.Key,
			Events:      stats.TotalEvents,
			Sessions:    stats.TotalSessions,
			ActiveDays:  stats.ActiveDays,
		})
	}

	return &models.AnalyticsSummary{
		TotalPackages: int64(len(keys)),
		TotalEvents:   totalEvents,
		TotalSessions: totalSessions,
		Packages:      packages,
	}, nil
}

func tokensOf(keys []models.APIKey) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Key)
	}
	return out
}
