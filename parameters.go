package wire

import (
	"regexp"

	"github.com/lib/pq/oid"
)

// positionalParameter matches both the PostgreSQL "$1" style placeholder and
// the driver-agnostic "?" placeholder used by some SQL dialects.
var positionalParameter = regexp.MustCompile(`\$\d+|\?`)

// ParseParameters scans the given query for positional parameter
// placeholders and returns one oid.Oid per placeholder found, left
// unspecified (oid 0) so the client is free to send any compatible type. It
// is a convenience for statement handlers that don't need to constrain
// parameter types up front.
func ParseParameters(query string) []oid.Oid {
	matches := positionalParameter.FindAllString(query, -1)
	if len(matches) == 0 {
		return nil
	}

	return make([]oid.Oid, len(matches))
}
