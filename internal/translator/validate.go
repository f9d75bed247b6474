package translator

import "strings"

func containsToVector(sql string) bool {
	return strings.Contains(sql, "TO_VECTOR(")
}

// hasVectorBrackets reports whether every TO_VECTOR( call in sql is given a
// bracketed literal or parameter — a regression guard against accidental
// bracket-stripping upstream of the vector rewrite stage.
func hasVectorBrackets(sql string) bool {
	idx := 0
	for {
		pos := strings.Index(sql[idx:], "TO_VECTOR(")
		if pos == -1 {
			return true
		}
		start := idx + pos + len("TO_VECTOR(")
		end := strings.IndexByte(sql[start:], ')')
		if end == -1 {
			return false
		}
		arg := sql[start : start+end]
		if !strings.Contains(arg, "[") && !strings.HasPrefix(strings.TrimSpace(arg), "$") {
			return false
		}
		idx = start + end
	}
}
