package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is one row of the analytics_events fact table: a single
// package-runtime initialization reported by a client SDK.
//
// Rows are written once at ingestion and never mutated; the retention
// sweep is the only path that removes them.
type Event struct {
	ID        uuid.UUID
	APIKey    string
	SessionID uuid.UUID

	PackageName    string
	PackageVersion string

	PythonVersion        string
	PythonImplementation *string

	OSType       string
	OSVersion    *string
	OSRelease    *string
	Architecture *string

	InstallationMethod *string
	VirtualEnv         bool
	VirtualEnvType     *string

	CPUCount      *int
	TotalMemoryGB *int

	// EntryPoint records how the package was invoked. When ExtraData is
	// populated it instead names the custom event type.
	EntryPoint *string

	// InstallationID is a persistent pseudonymous device/install id;
	// FingerprintHash is the fallback identity when no installation id is
	// present. UserIdentifier is the coalesced value of the two and is the
	// sole dedup key for unique-user counting.
	InstallationID  *string
	FingerprintHash *string
	UserIdentifier  *string

	ExtraData map[string]any

	// EventTimestamp is the client-reported occurrence time and the only
	// time axis for reporting. ReceivedAt is server ingestion time, used
	// for operational sampling only.
	EventTimestamp time.Time
	ReceivedAt     time.Time
}

// APIKey is one tracked package, owned by exactly one user. The key value
// is the public tracking token stored on every event.
type APIKey struct {
	ID          int64
	UserID      int64
	PackageName string
	Key         string
	Description *string
	IsActive    bool
	CreatedAt   time.Time
}

// User is a subscription holder. Tier and status are written by the billing
// webhook handler; this service only reads them for retention and limits.
type User struct {
	ID                 int64
	Email              string
	SubscriptionTier   *string
	SubscriptionStatus *string
}
