package translator

import "strings"

// FoldIdentifiers uppercases every unquoted identifier in sql. Quoted
// identifiers ("Foo") retain their exact case; schema-qualified references
// fold each unquoted component independently. String literals and comments
// are untouched because mapCode never sees them.
func FoldIdentifiers(sql string) string {
	return mapCode(sql, foldCode)
}

func foldCode(code string) string {
	var out strings.Builder
	out.Grow(len(code))

	i := 0
	for i < len(code) {
		c := code[i]
		if isIdentStart(c) {
			j := i + 1
			for j < len(code) && isIdentByte(code[j]) {
				j++
			}
			out.WriteString(strings.ToUpper(code[i:j]))
			i = j
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.String()
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
