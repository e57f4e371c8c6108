package analytics

import (
	"errors"
	"strings"
	"testing"
)

func TestParseDimension_AllowList(t *testing.T) {
	allowed := []string{
		"os_type", "python_version", "architecture", "os_release",
		"python_implementation", "virtual_env_type", "installation_method",
	}
	for _, name := range allowed {
		d, err := ParseDimension(name)
		if err != nil {
			t.Fatalf("ParseDimension(%q) unexpected error: %v", name, err)
		}
		if d.Column() != name {
			t.Errorf("Column() = %q, want %q", d.Column(), name)
		}
	}
}

func TestParseDimension_RejectsUnknownColumns(t *testing.T) {
	for _, name := range []string{"password", "api_key", "user_identifier", "", "os_type; DROP TABLE"} {
		if _, err := ParseDimension(name); !errors.Is(err, ErrInvalidDimension) {
			t.Errorf("ParseDimension(%q) = %v, want ErrInvalidDimension", name, err)
		}
	}
}

func TestValidateEventType(t *testing.T) {
	for _, ok := range []string{"signup", "page.view", "api_call-v2", "A1"} {
		if err := ValidateEventType(ok); err != nil {
			t.Errorf("ValidateEventType(%q) unexpected error: %v", ok, err)
		}
	}

	bad := []string{"", "has space", "semi;colon", strings.Repeat("a", 201)}
	for _, name := range bad {
		if err := ValidateEventType(name); !errors.Is(err, ErrInvalidEventType) {
			t.Errorf("ValidateEventType(%q) = %v, want ErrInvalidEventType", name, err)
		}
	}
}
