package translator

import (
	"regexp"
)

var beginPattern = regexp.MustCompile(`(?i)^\s*BEGIN(\s+WORK|\s+TRANSACTION)?\b`)

// RewriteTransactionVerbs rewrites BEGIN / BEGIN WORK / BEGIN TRANSACTION to
// START TRANSACTION, preserving any trailing modifiers verbatim. COMMIT and
// ROLLBACK pass through untouched.
func RewriteTransactionVerbs(sql string) string {
	return mapCode(sql, func(code string) string {
		loc := beginPattern.FindStringSubmatchIndex(code)
		if loc == nil {
			return code
		}

		leading := code[:loc[0]]
		rest := code[loc[1]:]

		return leading + "START TRANSACTION" + rest
	})
}
