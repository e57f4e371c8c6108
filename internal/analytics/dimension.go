// Package analytics contains the aggregation repository (parameterized read
// queries over the event table) and the aggregation service (derived
// metrics, default-range policy, response shaping).
package analytics

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidDimension rejects a dimension name outside the allow-list
// before any query is built.
var ErrInvalidDimension = errors.New("invalid dimension field")

// ErrInvalidEventType rejects a custom event-type name that does not match
// the allowed pattern.
var ErrInvalidEventType = errors.New("invalid event type")

// Dimension is a closed enum of event columns that breakdown queries may
// group by. Dimension breakdowns are driven by a string argument from the
// API, so the set is fixed here and every column reference goes through
// Column(); nothing caller-supplied ever reaches the SQL text.
type Dimension string

const (
	DimensionOSType               Dimension = "os_type"
	DimensionPythonVersion        Dimension = "python_version"
	DimensionArchitecture         Dimension = "architecture"
	DimensionOSRelease            Dimension = "os_release"
	DimensionPythonImplementation Dimension = "python_implementation"
	DimensionVirtualEnvType       Dimension = "virtual_env_type"
	DimensionInstallationMethod   Dimension = "installation_method"
)

var dimensionColumns = map[Dimension]string{
	DimensionOSType:               "os_type",
	DimensionPythonVersion:        "python_version",
	DimensionArchitecture:         "architecture",
	DimensionOSRelease:            "os_release",
	DimensionPythonImplementation: "python_implementation",
	DimensionVirtualEnvType:       "virtual_env_type",
	DimensionInstallationMethod:   "installation_method",
}

// ParseDimension validates a caller-supplied dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(s)
	if _, ok := dimensionColumns[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDimension, s)
	}
	return d, nil
}

// Column returns the vetted column name for SQL interpolation. Panics on an
// unmapped value so a bypassed ParseDimension cannot fail silently.
func (d Dimension) Column() string {
	col, ok := dimensionColumns[d]
	if !ok {
		panic(fmt.Sprintf("analytics: unmapped dimension %q", string(d)))
	}
	return col
}

// eventTypeRe bounds custom event-type names used in IN filters.
var eventTypeRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,200}$`)

// ValidateEventType checks one custom event-type name.
func ValidateEventType(name string) error {
	if !eventTypeRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, name)
	}
	return nil
}

// ValidateEventTypes checks a caller-supplied event-type list.
func ValidateEventTypes(names []string) error {
	for _, n := range names {
		if err := ValidateEventType(n); err != nil {
			return err
		}
	}
	return nil
}
