package analytics

import "testing"

// Runtime versions bucket by their first two numeric components; anything
// else passes through unchanged.
func TestMinorVersion(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"3.11.5", "3.11"},
		{"3.11.0", "3.11"},
		{"3.11", "3.11"},
		{"3.12.0rc1", "3.12"},
		{"10.2.1", "10.2"},
		{"pypy-7.3", "pypy-7.3"},
		{"3", "3"},
		{"", ""},
	}

	for _, c := range cases {
		if got := MinorVersion(c.in); got != c.want {
			t.Errorf("MinorVersion(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
