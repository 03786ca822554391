package suite

import (
	"fmt"
	"strings"
)

// Domain is the closed set of test categories.
type Domain string

const (
	Generic  Domain = "GENERIC"
	Routing  Domain = "ROUTING"
	Segments Domain = "SEGMENTS"
	Weather  Domain = "WEATHER"
	Safety   Domain = "SAFETY"
)

// Domains lists every valid domain.
var Domains = []Domain{Generic, Routing, Segments, Weather, Safety}

// ParseDomain maps a name to a Domain, case-insensitively. Unknown names are
// rejected rather than coerced.
func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Domains {
		if d == known {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

func (d Domain) String() string { return string(d) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Domain) UnmarshalText(b []byte) error {
	v, err := ParseDomain(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Domain) MarshalText() ([]byte, error) { return []byte(d), nil }
