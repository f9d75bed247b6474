package translator

import (
	"regexp"
	"strings"
)

// datePattern matches a quoted literal that is exactly 'YYYY-MM-DD' with
// components in legal ranges. It deliberately does not match literals that
// merely contain a date substring.
var datePattern = regexp.MustCompile(`^'(\d{4})-(\d{2})-(\d{2})'$`)

// RewriteDateLiterals rewrites every standalone 'YYYY-MM-DD' string literal
// into TO_DATE('YYYY-MM-DD','YYYY-MM-DD'). Literals inside comments are
// never visited because the scanner already classified them separately.
func RewriteDateLiterals(sql string) string {
	tokens := scan(sql)

	var out strings.Builder
	var lastCode string

	for _, tok := range tokens {
		if tok.kind != tokenString {
			out.WriteString(tok.text)
			lastCode = tok.text
			continue
		}

		m := datePattern.FindStringSubmatch(tok.text)
		alreadyWrapped := strings.HasSuffix(strings.TrimRight(lastCode, " \t\r\n"), "TO_DATE(")
		if m == nil || !legalDate(m[1], m[2], m[3]) || alreadyWrapped {
			out.WriteString(tok.text)
			lastCode = ""
			continue
		}

		out.WriteString("TO_DATE(")
		out.WriteString(tok.text)
		out.WriteString(",'YYYY-MM-DD')")
		lastCode = ""
	}

	return out.String()
}

func legalDate(year, month, day string) bool {
	m := atoi2(month)
	d := atoi2(day)
	if m < 1 || m > 12 {
		return false
	}
	if d < 1 || d > 31 {
		return false
	}
	return true
}

func atoi2(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
