package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////
// INTEGRATION TEST SUITE
//
// These tests validate the service end-to-end:
//
//   SDK / Dashboard → HTTP API → Auth → Postgres → Aggregation → Response
//
// The service must already be running (for example via docker compose), with
// two seeded dashboard users and a configured admin token:
//
//   - one user on an unlimited tier (pro/enterprise) so package creation
//     never hits the tier limit
//   - one user on the free tier, so the retention sweep's tier join runs
//     against real data
//
// Optional environment overrides:
//
//   BASE_URL        default http://localhost:8080
//   DASH_TOKEN      default dash-token-123        (paid-tier user)
//   FREE_DASH_TOKEN default free-dash-token-123   (free-tier user)
//   ADMIN_TOKEN     default admin-token-123
//
////////////////////////////////////////////////////////////////////////////////

func baseURL() string {
	if v := os.Getenv("BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// dashToken returns the dashboard bearer token for the seeded user.
func dashToken() string {
	if v := os.Getenv("DASH_TOKEN"); v != "" {
		return v
	}
	return "dash-token-123"
}

// freeDashToken returns the dashboard bearer token for the seeded
// free-tier user.
func freeDashToken() string {
	if v := os.Getenv("FREE_DASH_TOKEN"); v != "" {
		return v
	}
	return "free-dash-token-123"
}

// adminToken returns the operational bearer token.
func adminToken() string {
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		return v
	}
	return "admin-token-123"
}

// unique generates a unique string so tests never collide with previous runs.
func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

////////////////////////////////////////////////////////////////////////////////
// SERVICE READINESS HELPER
//
// waitReady polls /ready until DB + server are ready.
// Prevents flaky failures when containers are still booting.
////////////////////////////////////////////////////////////////////////////////

func waitReady(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}

	t.Fatalf("service not ready after 30s")
}

////////////////////////////////////////////////////////////////////////////////
// GENERIC HTTP HELPERS
////////////////////////////////////////////////////////////////////////////////

// httpGet performs a GET request with an optional bearer token.
func httpGet(t *testing.T, token, path string) (int, []byte) {
	t.Helper()

	req, _ := http.NewRequest("GET", baseURL()+path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

// postJSON performs a POST with a JSON body and an optional bearer token.
func postJSON(t *testing.T, token, path string, payload any) (int, []byte) {
	t.Helper()

	b, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", baseURL()+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

// createPackage registers a tracked package for the paid dashboard user
// and returns its tracking key.
func createPackage(t *testing.T, name string) string {
	t.Helper()
	return createPackageAs(t, dashToken(), name)
}

func createPackageAs(t *testing.T, token, name string) string {
	t.Helper()

	s, b := postJSON(t, token, "/api/v1/packages", map[string]any{
		"package_name": name,
	})
	if s != http.StatusCreated {
		t.Fatalf("create package expected 201 got %d: %s", s, b)
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(b, &out); err != nil || out.Key == "" {
		t.Fatalf("invalid create-package response: %s", b)
	}
	return out.Key
}

// freePackageKey returns the free-tier user's tracked package, creating it
// on first use. The free tier allows a single package, so repeated runs
// reuse the one that already exists.
func freePackageKey(t *testing.T) (string, string) {
	t.Helper()

	s, b := httpGet(t, freeDashToken(), "/api/v1/packages")
	if s != http.StatusOK {
		t.Fatalf("list packages expected 200 got %d: %s", s, b)
	}

	var out []struct {
		PackageName string `json:"package_name"`
		Key         string `json:"key"`
		IsActive    bool   `json:"is_active"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid packages JSON: %s", b)
	}
	for _, p := range out {
		if p.IsActive {
			return p.PackageName, p.Key
		}
	}

	name := unique("freepkg")
	return name, createPackageAs(t, freeDashToken(), name)
}

// usageEvent builds a valid ingest payload. Caller overrides fields as needed.
func usageEvent(pkg string, ts time.Time) map[string]any {
	return map[string]any{
		"session_id":      uuid.NewString(),
		"package_name":    pkg,
		"package_version": "1.0.0",
		"python_version":  "3.11.5",
		"os_type":         "Linux",
		"event_timestamp": ts.UTC().Format(time.RFC3339),
	}
}

// postEvent submits one usage event and asserts acceptance.
func postEvent(t *testing.T, key string, payload map[string]any) {
	t.Helper()

	s, b := postJSON(t, key, "/api/v1/events", payload)
	if s != http.StatusCreated {
		t.Fatalf("ingest expected 201 got %d: %s", s, b)
	}
}

// dashGet performs a dashboard GET as the paid user with query params.
func dashGet(t *testing.T, path string, params map[string]string) (int, []byte) {
	t.Helper()
	return dashGetAs(t, dashToken(), path, params)
}

func dashGetAs(t *testing.T, token, path string, params map[string]string) (int, []byte) {
	t.Helper()

	u, _ := url.Parse(baseURL() + path)
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return httpGet(t, token, u.Path+"?"+u.RawQuery)
}

////////////////////////////////////////////////////////////////////////////////
// HEALTH & READINESS TESTS
////////////////////////////////////////////////////////////////////////////////

// Health endpoint = liveness check (server process running).
func TestHealth_ReturnsOK(t *testing.T) {
	s, _ := httpGet(t, "", "/health")
	if s != http.StatusOK {
		t.Fatalf("health expected 200 got %d", s)
	}
}

// Ready endpoint = dependency readiness (DB reachable).
func TestReady_ReturnsOK(t *testing.T) {
	waitReady(t)
	s, _ := httpGet(t, "", "/ready")
	if s != http.StatusOK {
		t.Fatalf("ready expected 200 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// INGEST CONTRACT TESTS
////////////////////////////////////////////////////////////////////////////////

// Request without a tracking key must be rejected.
func TestIngest_UnauthorizedWithoutKey(t *testing.T) {
	waitReady(t)

	s, _ := postJSON(t, "", "/api/v1/events", usageEvent("any", time.Now()))
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

// Missing python_version should return 400.
func TestIngest_BadRequestOnInvalidPayload(t *testing.T) {
	waitReady(t)

	key := createPackage(t, unique("pkg"))
	payload := usageEvent("broken", time.Now())
	delete(payload, "python_version")

	s, _ := postJSON(t, key, "/api/v1/events", payload)
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

// A valid event is accepted and acknowledged with its assigned id.
func TestIngest_AcceptsValidEvent(t *testing.T) {
	waitReady(t)

	pkg := unique("pkg")
	key := createPackage(t, pkg)

	s, b := postJSON(t, key, "/api/v1/events", usageEvent(pkg, time.Now()))
	if s != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", s, b)
	}

	var out struct {
		Success bool   `json:"success"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid ingest response: %s", b)
	}
	if !out.Success || out.EventID == "" {
		t.Fatalf("ingest not acknowledged: %s", b)
	}
}

////////////////////////////////////////////////////////////////////////////////
// DASHBOARD AGGREGATION TESTS
////////////////////////////////////////////////////////////////////////////////

// Ingested events must show up in the overview with exact session and
// unique-user counts.
func TestOverview_CountsEventsSessionsAndUsers(t *testing.T) {
	waitReady(t)

	pkg := unique("pkg")
	key := createPackage(t, pkg)
	now := time.Now().UTC()

	// Two sessions, two distinct installations, three events total.
	session := uuid.NewString()
	ev1 := usageEvent(pkg, now)
	ev1["session_id"] = session
	ev1["installation_id"] = "install-a"
	postEvent(t, key, ev1)

	ev2 := usageEvent(pkg, now)
	ev2["session_id"] = session
	ev2["installation_id"] = "install-a"
	postEvent(t, key, ev2)

	ev3 := usageEvent(pkg, now)
	ev3["installation_id"] = "install-b"
	postEvent(t, key, ev3)

	s, b := dashGet(t, "/api/v1/dashboard/overview", map[string]string{"package_name": pkg})
	if s != http.StatusOK {
		t.Fatalf("overview expected 200 got %d: %s", s, b)
	}

	var out []struct {
		PackageName   string `json:"package_name"`
		TotalEvents   int64  `json:"total_events"`
		TotalSessions int64  `json:"total_sessions"`
		UniqueUsers   int64  `json:"total_unique_users"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid overview JSON: %s", b)
	}
	if len(out) != 1 || out[0].PackageName != pkg {
		t.Fatalf("overview = %s", b)
	}
	if out[0].TotalEvents != 3 || out[0].TotalSessions != 2 || out[0].UniqueUsers != 2 {
		t.Fatalf("counts = %+v, want 3 events / 2 sessions / 2 users", out[0])
	}
}

// Python versions are bucketed by minor version with percentages that
// close to 100.
func TestPythonVersions_MinorBucketsAndPercentages(t *testing.T) {
	waitReady(t)

	pkg := unique("pkg")
	key := createPackage(t, pkg)
	now := time.Now().UTC()

	for _, v := range []string{"3.11.5", "3.11.2", "3.12.0"} {
		ev := usageEvent(pkg, now)
		ev["python_version"] = v
		postEvent(t, key, ev)
	}

	s, b := dashGet(t, "/api/v1/dashboard/python-versions", map[string]string{"package_name": pkg})
	if s != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", s, b)
	}

	var out []struct {
		Name            string  `json:"name"`
		EventCount      int64   `json:"event_count"`
		EventPercentage float64 `json:"event_percentage"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid distribution JSON: %s", b)
	}

	counts := map[string]int64{}
	var pctSum float64
	for _, d := range out {
		counts[d.Name] = d.EventCount
		pctSum += d.EventPercentage
	}
	if counts["3.11"] != 2 || counts["3.12"] != 1 {
		t.Fatalf("buckets = %v, want 3.11:2 3.12:1", counts)
	}
	if pctSum < 99.9 || pctSum > 100.1 {
		t.Fatalf("percentages sum to %v, want ~100", pctSum)
	}
}

// Version adoption for a package the user does not own is 404, not an
// empty result.
func TestPackageVersions_UnknownPackageIs404(t *testing.T) {
	waitReady(t)

	s, _ := dashGet(t, "/api/v1/dashboard/package-versions",
		map[string]string{"package_name": unique("ghost")})
	if s != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", s)
	}
}

// Dimensions outside the allow-list are rejected up front.
func TestUsersByDimension_RejectsUnknownDimension(t *testing.T) {
	waitReady(t)

	s, _ := dashGet(t, "/api/v1/dashboard/users/by-dimension",
		map[string]string{"dimension": "password"})
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

// A user is "new" only in the period containing their first-ever event:
// a second event days later counts them as active, not new.
func TestNewUsers_CountedOnlyInFirstSeenPeriod(t *testing.T) {
	waitReady(t)

	pkg := unique("pkg")
	key := createPackage(t, pkg)
	install := unique("install")

	firstDay := time.Now().UTC().AddDate(0, 0, -10)
	laterDay := time.Now().UTC().AddDate(0, 0, -5)

	for _, day := range []time.Time{firstDay, laterDay} {
		ev := usageEvent(pkg, day)
		ev["installation_id"] = install
		postEvent(t, key, ev)
	}

	retentionFor := func(day time.Time) (total, newUsers int64) {
		d := day.Format("2006-01-02")
		s, b := dashGet(t, "/api/v1/dashboard/users/retention",
			map[string]string{"package_name": pkg, "start_date": d, "end_date": d})
		if s != http.StatusOK {
			t.Fatalf("retention expected 200 got %d: %s", s, b)
		}
		var out struct {
			TotalUsers int64 `json:"total_users"`
			NewUsers   int64 `json:"new_users"`
		}
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("invalid retention JSON: %s", b)
		}
		return out.TotalUsers, out.NewUsers
	}

	total, newUsers := retentionFor(firstDay)
	if total != 1 || newUsers != 1 {
		t.Fatalf("first-seen day: total=%d new=%d, want 1 active / 1 new", total, newUsers)
	}
	total, newUsers = retentionFor(laterDay)
	if total != 1 || newUsers != 0 {
		t.Fatalf("later day: total=%d new=%d, want 1 active / 0 new", total, newUsers)
	}
}

// A custom event (entry_point + extra_data) becomes discoverable under its
// type with its payload sampled.
func TestCustomEvents_TypeDiscoveryAndDetails(t *testing.T) {
	waitReady(t)

	pkg := unique("pkg")
	key := createPackage(t, pkg)
	eventType := unique("deploy_hook")

	ev := usageEvent(pkg, time.Now())
	ev["entry_point"] = eventType
	ev["extra_data"] = map[string]any{"plan": "pro", "seats": 5}
	postEvent(t, key, ev)

	s, b := dashGet(t, "/api/v1/dashboard/events/types", map[string]string{"package_name": pkg})
	if s != http.StatusOK {
		t.Fatalf("types expected 200 got %d: %s", s, b)
	}
	var types []struct {
		EventType  string `json:"event_type"`
		TotalCount int64  `json:"total_count"`
	}
	if err := json.Unmarshal(b, &types); err != nil {
		t.Fatalf("invalid types JSON: %s", b)
	}
	if len(types) != 1 || types[0].EventType != eventType || types[0].TotalCount != 1 {
		t.Fatalf("types = %s", b)
	}

	s, b = dashGet(t, "/api/v1/dashboard/events/details",
		map[string]string{"package_name": pkg, "event_type": eventType})
	if s != http.StatusOK {
		t.Fatalf("details expected 200 got %d: %s", s, b)
	}
	var details struct {
		TotalCount       int64 `json:"total_count"`
		SampleProperties []struct {
			Properties map[string]any `json:"properties"`
		} `json:"sample_properties"`
	}
	if err := json.Unmarshal(b, &details); err != nil {
		t.Fatalf("invalid details JSON: %s", b)
	}
	if details.TotalCount != 1 || len(details.SampleProperties) != 1 {
		t.Fatalf("details = %s", b)
	}
	if details.SampleProperties[0].Properties["plan"] != "pro" {
		t.Fatalf("sampled payload = %s", b)
	}
}

////////////////////////////////////////////////////////////////////////////////
// ADMIN & RETENTION TESTS
////////////////////////////////////////////////////////////////////////////////

// Operational endpoints require the admin token.
func TestAdmin_UnauthorizedWithoutToken(t *testing.T) {
	waitReady(t)

	s, _ := postJSON(t, "", "/api/v1/admin/retention/run", nil)
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
	s, _ = postJSON(t, dashToken(), "/api/v1/admin/retention/run", nil)
	if s != http.StatusUnauthorized {
		t.Fatalf("dashboard token on admin route expected 401 got %d", s)
	}
}

// Two back-to-back sweeps succeed, and the second deletes nothing: the
// first already removed everything past the cutoff.
func TestRetention_SweepIsIdempotent(t *testing.T) {
	waitReady(t)

	s, b := postJSON(t, adminToken(), "/api/v1/admin/retention/run", nil)
	if s != http.StatusOK {
		t.Fatalf("first sweep expected 200 got %d: %s", s, b)
	}

	s, b = postJSON(t, adminToken(), "/api/v1/admin/retention/run", nil)
	if s != http.StatusOK {
		t.Fatalf("second sweep expected 200 got %d: %s", s, b)
	}
	var res struct {
		Success      bool  `json:"success"`
		TotalDeleted int64 `json:"total_deleted"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("invalid sweep JSON: %s", b)
	}
	if !res.Success || res.TotalDeleted != 0 {
		t.Fatalf("second sweep = %s, want success with 0 deleted", b)
	}
}

// Stats report the configured window and a parseable cutoff without
// deleting anything.
func TestRetention_StatsReportWindow(t *testing.T) {
	waitReady(t)

	s, b := httpGet(t, adminToken(), "/api/v1/admin/retention/stats")
	if s != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", s, b)
	}

	var stats struct {
		RetentionDays   int    `json:"retention_days"`
		RetentionCutoff string `json:"retention_cutoff"`
	}
	if err := json.Unmarshal(b, &stats); err != nil {
		t.Fatalf("invalid stats JSON: %s", b)
	}
	if stats.RetentionDays <= 0 {
		t.Fatalf("retention days = %d", stats.RetentionDays)
	}
	if _, err := time.Parse(time.RFC3339, stats.RetentionCutoff); err != nil {
		t.Fatalf("cutoff %q not RFC3339: %v", stats.RetentionCutoff, err)
	}
}

// retentionDays reads the configured window from the admin stats endpoint.
func retentionDays(t *testing.T) int {
	t.Helper()

	s, b := httpGet(t, adminToken(), "/api/v1/admin/retention/stats")
	if s != http.StatusOK {
		t.Fatalf("stats expected 200 got %d: %s", s, b)
	}
	var stats struct {
		RetentionDays int `json:"retention_days"`
	}
	if err := json.Unmarshal(b, &stats); err != nil || stats.RetentionDays <= 0 {
		t.Fatalf("invalid stats JSON: %s", b)
	}
	return stats.RetentionDays
}

// A free-tier event older than the cutoff is actually removed by the sweep,
// and is no longer visible on its day afterwards.
func TestRetention_FreeTierOldEventsAreSwept(t *testing.T) {
	waitReady(t)

	pkg, key := freePackageKey(t)
	oldDay := time.Now().UTC().AddDate(0, 0, -(retentionDays(t) + 10))
	postEvent(t, key, usageEvent(pkg, oldDay))

	s, b := postJSON(t, adminToken(), "/api/v1/admin/retention/run", nil)
	if s != http.StatusOK {
		t.Fatalf("sweep expected 200 got %d: %s", s, b)
	}
	var res struct {
		Success      bool  `json:"success"`
		TotalDeleted int64 `json:"total_deleted"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("invalid sweep JSON: %s", b)
	}
	if !res.Success || res.TotalDeleted < 1 {
		t.Fatalf("sweep = %s, want success with the old event deleted", b)
	}

	d := oldDay.Format("2006-01-02")
	s, b = dashGetAs(t, freeDashToken(), "/api/v1/dashboard/timeseries",
		map[string]string{"package_name": pkg, "start_date": d, "end_date": d})
	if s != http.StatusOK {
		t.Fatalf("timeseries expected 200 got %d: %s", s, b)
	}
	var series struct {
		Events []int64 `json:"events"`
	}
	if err := json.Unmarshal(b, &series); err != nil {
		t.Fatalf("invalid timeseries JSON: %s", b)
	}
	for _, n := range series.Events {
		if n != 0 {
			t.Fatalf("free-tier event survived the sweep: %s", b)
		}
	}
}

// Paid-tier data survives a sweep: events just ingested for this (non-free)
// user are still visible afterwards.
func TestRetention_PaidTierDataSurvivesSweep(t *testing.T) {
	waitReady(t)

	pkg := unique("pkg")
	key := createPackage(t, pkg)
	postEvent(t, key, usageEvent(pkg, time.Now()))

	s, b := postJSON(t, adminToken(), "/api/v1/admin/retention/run", nil)
	if s != http.StatusOK {
		t.Fatalf("sweep expected 200 got %d: %s", s, b)
	}

	s, b = dashGet(t, "/api/v1/dashboard/overview", map[string]string{"package_name": pkg})
	if s != http.StatusOK {
		t.Fatalf("overview expected 200 got %d", s)
	}
	var out []struct {
		TotalEvents int64 `json:"total_events"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("invalid overview JSON: %s", b)
	}
	if len(out) != 1 || out[0].TotalEvents != 1 {
		t.Fatalf("event lost after sweep: %s", b)
	}
}

// Package-count sync completes over all users.
func TestSync_ReportsAllUsers(t *testing.T) {
	waitReady(t)

	s, b := postJSON(t, adminToken(), "/api/v1/admin/sync/packages", nil)
	if s != http.StatusOK {
		t.Fatalf("sync expected 200 got %d: %s", s, b)
	}

	var res struct {
		TotalUsers int `json:"total_users"`
		Synced     int `json:"synced"`
		Failed     int `json:"failed"`
	}
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatalf("invalid sync JSON: %s", b)
	}
	if res.Failed != 0 || res.Synced != res.TotalUsers {
		t.Fatalf("sync = %s", b)
	}
}
