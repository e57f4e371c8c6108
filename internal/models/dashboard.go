package models

// Dashboard response shapes. All counts are within the resolved date range
// unless noted; percentages are rounded to 2 decimals and derived by the
// analytics service, never by the repository.

// PackageOverview is one entry of the per-package overview list.
type PackageOverview struct {
	PackageName           string  `json:"package_name"`
	APIKey                string  `json:"api_key"`
	TotalEvents           int64   `json:"total_events"`
	TotalSessions         int64   `json:"total_sessions"`
	TotalUniqueUsers      int64   `json:"total_unique_users"`
	AvgDailyEvents        float64 `json:"avg_daily_events"`
	ActiveDays            int64   `json:"active_days"`
	PythonVersionsCount   int64   `json:"python_versions_count"`
	OperatingSystemsCount int64   `json:"operating_systems_count"`
	DateRangeStart        string  `json:"date_range_start"`
	DateRangeEnd          string  `json:"date_range_end"`
}

// PackageDayStat is the per-package breakdown inside a timeseries day.
type PackageDayStat struct {
	Events   int64 `json:"events"`
	Sessions int64 `json:"sessions"`
}

// TimeSeriesData is the combined daily series for charts. Slices are
// parallel to Dates and gap-filled with zeros.
type TimeSeriesData struct {
	Dates       []string                             `json:"dates"`
	Events      []int64                              `json:"events"`
	Sessions    []int64                              `json:"sessions"`
	UniqueUsers []int64                              `json:"unique_users"`
	Packages    []string                             `json:"packages"`
	PackageData map[string]map[string]PackageDayStat `json:"package_data,omitempty"`
}

// Distribution is a single bucket of a dimension distribution
// (python minor version, os type, or package version).
type Distribution struct {
	Name              string  `json:"name"`
	EventCount        int64   `json:"event_count"`
	SessionCount      int64   `json:"session_count"`
	EventPercentage   float64 `json:"event_percentage"`
	SessionPercentage float64 `json:"session_percentage"`
}

// UniqueUsersOverview summarizes unique-user activity. Growth rates are
// nil when the previous period had zero active users.
type UniqueUsersOverview struct {
	PackageName        string   `json:"package_name"`
	TotalUniqueUsers   int64    `json:"total_unique_users"`
	DailyActiveUsers   int64    `json:"daily_active_users"`
	WeeklyActiveUsers  int64    `json:"weekly_active_users"`
	MonthlyActiveUsers int64    `json:"monthly_active_users"`
	NewUsersToday      int64    `json:"new_users_today"`
	NewUsersThisWeek   int64    `json:"new_users_this_week"`
	NewUsersThisMonth  int64    `json:"new_users_this_month"`
	GrowthRateDaily    *float64 `json:"growth_rate_daily"`
	GrowthRateWeekly   *float64 `json:"growth_rate_weekly"`
	GrowthRateMonthly  *float64 `json:"growth_rate_monthly"`
	DateRangeStart     string   `json:"date_range_start"`
	DateRangeEnd       string   `json:"date_range_end"`
}

// ActiveUsersTimeSeries carries per-day active-user series with rolling
// WAU/MAU windows anchored at each day.
type ActiveUsersTimeSeries struct {
	Dates              []string `json:"dates"`
	DailyActiveUsers   []int64  `json:"daily_active_users"`
	WeeklyActiveUsers  []int64  `json:"weekly_active_users"`
	MonthlyActiveUsers []int64  `json:"monthly_active_users"`
	NewUsers           []int64  `json:"new_users"`
	ReturningUsers     []int64  `json:"returning_users"`
}

// UserRetentionMetrics buckets users by session count within the range.
type UserRetentionMetrics struct {
	TotalUsers         int64   `json:"total_users"`
	NewUsers           int64   `json:"new_users"`
	ReturningUsers     int64   `json:"returning_users"`
	RetentionRate      float64 `json:"retention_rate"`
	AvgSessionsPerUser float64 `json:"avg_sessions_per_user"`
	SingleSessionUsers int64   `json:"single_session_users"`
	MultiSessionUsers  int64   `json:"multi_session_users"`
	PowerUsers         int64   `json:"power_users"`
}

// UniqueUsersByDimension is one bucket of a unique-user dimension breakdown.
type UniqueUsersByDimension struct {
	DimensionName      string  `json:"dimension_name"`
	UniqueUsers        int64   `json:"unique_users"`
	Percentage         float64 `json:"percentage"`
	AvgSessionsPerUser float64 `json:"avg_sessions_per_user"`
}

// CustomEventType is one discovered custom event type with its count.
type CustomEventType struct {
	EventType  string `json:"event_type"`
	TotalCount int64  `json:"total_count"`
}

// CustomEventTimeSeries carries per-type daily series, zero-filled over
// the full date range.
type CustomEventTimeSeries struct {
	Dates      []string           `json:"dates"`
	EventTypes []string           `json:"event_types"`
	SeriesData map[string][]int64 `json:"series_data"`
}

// CustomEventProperty is one sampled raw payload for schema discovery.
type CustomEventProperty struct {
	Properties map[string]any `json:"properties"`
	Timestamp  string         `json:"timestamp"`
}

// CustomEventDetails describes a single custom event type.
type CustomEventDetails struct {
	EventType        string                `json:"event_type"`
	TotalCount       int64                 `json:"total_count"`
	SampleProperties []CustomEventProperty `json:"sample_properties"`
}

// RecentEvent is one entry of the live arrival feed.
type RecentEvent struct {
	PackageName    string `json:"package_name"`
	EventTimestamp string `json:"event_timestamp"`
	ReceivedAt     string `json:"received_at"`
}

// PackageSummary is the per-package slice of the account summary.
type PackageSummary struct {
	PackageName string `json:"package_name"`
	APIKey      string `json:"api_key"`
	Events      int64  `json:"events"`
	Sessions    int64  `json:"sessions"`
	ActiveDays  int64  `json:"active_days"`
}

// AnalyticsSummary is the whole-account rollup.
type AnalyticsSummary struct {
	TotalPackages int64            `json:"total_packages"`
	TotalEvents   int64            `json:"total_events"`
	TotalSessions int64            `json:"total_sessions"`
	Packages      []PackageSummary `json:"packages"`
}
