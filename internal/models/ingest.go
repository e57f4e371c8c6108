package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ingestion bounds for the extra_data payload.
const (
	MaxExtraDataKeys  = 50
	MaxExtraDataBytes = 10 * 1024
	MaxExtraDataDepth = 5
)

var (
	extraDataKeyRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)
	versionPartRe  = regexp.MustCompile(`^\d+$`)
)

// validOSTypes is the closed set accepted at ingestion; anything else is
// normalized to "Other" rather than rejected.
var validOSTypes = map[string]bool{
	"Linux":   true,
	"Windows": true,
	"Darwin":  true,
	"FreeBSD": true,
	"OpenBSD": true,
	"Other":   true,
}

// EventIngestRequest is the POST /api/v1/events payload sent by client SDKs.
type EventIngestRequest struct {
	SessionID      string `json:"session_id"`
	PackageName    string `json:"package_name"`
	PackageVersion string `json:"package_version"`
	PythonVersion  string `json:"python_version"`
	OSType         string `json:"os_type"`
	EventTimestamp string `json:"event_timestamp"`

	PythonImplementation *string `json:"python_implementation,omitempty"`
	OSVersion            *string `json:"os_version,omitempty"`
	OSRelease            *string `json:"os_release,omitempty"`
	Architecture         *string `json:"architecture,omitempty"`

	InstallationMethod *string `json:"installation_method,omitempty"`
	VirtualEnv         bool    `json:"virtual_env,omitempty"`
	VirtualEnvType     *string `json:"virtual_env_type,omitempty"`

	CPUCount      *int    `json:"cpu_count,omitempty"`
	TotalMemoryGB *int    `json:"total_memory_gb,omitempty"`
	EntryPoint    *string `json:"entry_point,omitempty"`

	InstallationID  *string `json:"installation_id,omitempty"`
	FingerprintHash *string `json:"fingerprint_hash,omitempty"`

	ExtraData map[string]any `json:"extra_data,omitempty"`
}

// EventIngestResponse is returned by POST /api/v1/events.
type EventIngestResponse struct {
	Success    bool   `json:"success"`
	EventID    string `json:"event_id"`
	ReceivedAt string `json:"received_at"`
}

// ToEvent validates the request and builds the Event row for insertion.
// The api key comes from the authenticated request, never the payload.
func (r *EventIngestRequest) ToEvent(apiKey string, now time.Time) (*Event, error) {
	if r.PackageName == "" || len(r.PackageName) > 100 {
		return nil, errors.New("package_name required (max 100 chars)")
	}
	if r.PackageVersion == "" || len(r.PackageVersion) > 50 {
		return nil, errors.New("package_version required (max 50 chars)")
	}
	if err := validatePythonVersion(r.PythonVersion); err != nil {
		return nil, err
	}

	sessionID, err := uuid.Parse(r.SessionID)
	if err != nil {
		return nil, errors.New("session_id must be a valid UUID")
	}

	ts, err := time.Parse(time.RFC3339, r.EventTimestamp)
	if err != nil {
		return nil, errors.New("event_timestamp must be RFC3339")
	}

	osType := r.OSType
	if !validOSTypes[osType] {
		osType = "Other"
	}

	if err := ValidateExtraData(r.ExtraData); err != nil {
		return nil, err
	}

	ev := &Event{
		ID:        uuid.New(),
		APIKey:    apiKey,
		SessionID: sessionID,

		PackageName:    r.PackageName,
		PackageVersion: r.PackageVersion,

		PythonVersion:        r.PythonVersion,
		PythonImplementation: r.PythonImplementation,

		OSType:       osType,
		OSVersion:    r.OSVersion,
		OSRelease:    r.OSRelease,
		Architecture: r.Architecture,

		InstallationMethod: r.InstallationMethod,
		VirtualEnv:         r.VirtualEnv,
		VirtualEnvType:     r.VirtualEnvType,

		CPUCount:      r.CPUCount,
		TotalMemoryGB: r.TotalMemoryGB,
		EntryPoint:    r.EntryPoint,

		InstallationID:  r.InstallationID,
		FingerprintHash: r.FingerprintHash,

		ExtraData: r.ExtraData,

		EventTimestamp: ts.UTC(),
		ReceivedAt:     now.UTC(),
	}

	// Coalesce the counting identity: installation id wins, fingerprint is
	// the fallback. Events with neither never contribute to unique-user
	// metrics.
	switch {
	case r.InstallationID != nil && *r.InstallationID != "":
		ev.UserIdentifier = r.InstallationID
	case r.FingerprintHash != nil && *r.FingerprintHash != "":
		ev.UserIdentifier = r.FingerprintHash
	}

	return ev, nil
}

// validatePythonVersion accepts dot-separated numeric components with at
// least a major and minor part, e.g. "3.11" or "3.11.5".
func validatePythonVersion(v string) error {
	if v == "" {
		return errors.New("python_version required")
	}
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return errors.New("invalid python_version format")
	}
	for _, p := range parts {
		if !versionPartRe.MatchString(p) {
			return errors.New("invalid python_version format")
		}
	}
	return nil
}

// ValidateExtraData enforces the ingestion bounds on the custom payload:
// key count, key pattern, serialized size and nesting depth. A nil map is
// valid.
func ValidateExtraData(data map[string]any) error {
	if data == nil {
		return nil
	}
	if len(data) > MaxExtraDataKeys {
		return fmt.Errorf("extra_data exceeds %d keys", MaxExtraDataKeys)
	}
	for k := range data {
		if !extraDataKeyRe.MatchString(k) {
			return fmt.Errorf("extra_data key %q invalid", k)
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return errors.New("extra_data is not serializable")
	}
	if len(raw) > MaxExtraDataBytes {
		return fmt.Errorf("extra_data exceeds %d bytes", MaxExtraDataBytes)
	}

	for _, v := range data {
		if depth(v) > MaxExtraDataDepth-1 {
			return fmt.Errorf("extra_data exceeds %d nesting levels", MaxExtraDataDepth)
		}
	}
	return nil
}

// depth reports the nesting depth of a decoded JSON value. Scalars are 0.
func depth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		max := 0
		for _, c := range t {
			if d := depth(c); d > max {
				max = d
			}
		}
		return max + 1
	case []any:
		max := 0
		for _, c := range t {
			if d := depth(c); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 0
	}
}
