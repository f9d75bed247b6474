package translator

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// vectorFuncs maps each pgvector operator to the backend function that
// implements it.
var vectorFuncs = map[string]string{
	"<->": "VECTOR_COSINE",
	"<=>": "VECTOR_L2",
	"<#>": "VECTOR_DOT_PRODUCT",
}

// stringPlaceholderPrefix starts a sentinel inserted in place of a string literal
// while the operator regex runs, then substituted back. It cannot collide
// with real SQL text because SQL identifiers never contain NUL bytes.
const stringPlaceholderPrefix = "\x00STR"

// operand matches a bare identifier/column reference, a `$n` parameter
// placeholder, or a previously-substituted string placeholder.
const operandPattern = `((?:[A-Za-z_][A-Za-z0-9_.]*)|(?:\$\d+)|(?:` + regexp.QuoteMeta(stringPlaceholderPrefix) + `\d+\x00))`

var operatorExpr = regexp.MustCompile(operandPattern + `\s*(<->|<=>|<#>)\s*` + operandPattern)

// RewriteVectorOperators rewrites `a <-> v`, `a <=> v`, `a <#> v` into calls
// to the backend's vector distance functions, wrapping the right-hand
// operand in TO_VECTOR(..., FLOAT) and preserving any bracketed literal's
// brackets. Must run after FoldIdentifiers so the generated function calls
// are also uppercase.
func RewriteVectorOperators(sql string) string {
	tokens := scan(sql)

	var placeholders []string
	var buf strings.Builder
	for _, tok := range tokens {
		if tok.kind == tokenString {
			idx := len(placeholders)
			placeholders = append(placeholders, tok.text)
			buf.WriteString(stringPlaceholderPrefix)
			buf.WriteString(strconv.Itoa(idx))
			buf.WriteByte(0)
			continue
		}
		buf.WriteString(tok.text)
	}

	rewritten := operatorExpr.ReplaceAllStringFunc(buf.String(), func(m string) string {
		sub := operatorExpr.FindStringSubmatch(m)
		left, op, right := sub[1], sub[2], sub[3]
		fn, ok := vectorFuncs[op]
		if !ok {
			return m
		}
		return fn + "(" + left + ", TO_VECTOR(" + resolveOperand(right, placeholders) + ",FLOAT))"
	})

	// Restore any placeholders that survived untouched (outside an operator match).
	for i, lit := range placeholders {
		rewritten = strings.ReplaceAll(rewritten, stringPlaceholderPrefix+strconv.Itoa(i)+"\x00", lit)
	}

	return rewritten
}

// bindParamOperand matches a bare `$n` placeholder operand.
var bindParamOperand = regexp.MustCompile(`^\$(\d+)$`)

// VectorParamPositions reports the 1-based positions of `$n` parameter
// placeholders bound directly against a pgvector operator in sql. It must
// run on the untranslated query text, since Bind-time inlining (spec.md
// §4.4 rule 4) happens before RewriteVectorOperators does.
func VectorParamPositions(sql string) []int {
	tokens := scan(sql)

	var placeholders []string
	var buf strings.Builder
	for _, tok := range tokens {
		if tok.kind == tokenString {
			idx := len(placeholders)
			placeholders = append(placeholders, tok.text)
			buf.WriteString(stringPlaceholderPrefix)
			buf.WriteString(strconv.Itoa(idx))
			buf.WriteByte(0)
			continue
		}
		buf.WriteString(tok.text)
	}

	seen := map[int]bool{}
	var positions []int
	for _, m := range operatorExpr.FindAllStringSubmatch(buf.String(), -1) {
		for _, operand := range []string{m[1], m[3]} {
			sub := bindParamOperand.FindStringSubmatch(operand)
			if sub == nil {
				continue
			}
			n, err := strconv.Atoi(sub[1])
			if err != nil || seen[n] {
				continue
			}
			seen[n] = true
			positions = append(positions, n)
		}
	}

	sort.Ints(positions)
	return positions
}

func resolveOperand(operand string, placeholders []string) string {
	if strings.HasPrefix(operand, stringPlaceholderPrefix) {
		idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(operand, stringPlaceholderPrefix), "\x00"))
		if err == nil && idx >= 0 && idx < len(placeholders) {
			return placeholders[idx]
		}
	}
	return operand
}
