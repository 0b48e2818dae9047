// Package query is the read-only SQL boundary: it validates statements,
// executes them with a row limit, exposes schema metadata for SQL
// generation, and defines the natural-language-to-SQL Generator contract.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotReadOnly rejects SQL that is not a plain SELECT or WITH query.
var ErrNotReadOnly = errors.New("query is not read-only")

// forbiddenKeywords are statement types that never appear in a read-only
// query. Matched as whole words, so identifiers like last_updated pass.
// INTO catches SELECT ... INTO table, which creates a table despite the
// SELECT prefix.
var forbiddenKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {},
	"CREATE": {}, "TRUNCATE": {}, "REPLACE": {}, "MERGE": {}, "GRANT": {},
	"REVOKE": {}, "EXEC": {}, "EXECUTE": {}, "COPY": {}, "VACUUM": {},
	"INTO": {},
}

// IsDirectSQL reports whether user input looks like SQL rather than a
// natural-language question.
func IsDirectSQL(text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// ValidateReadOnly checks that sql is a single SELECT or WITH statement
// containing no write keywords. Keywords inside string literals, quoted
// identifiers and comments are ignored.
func ValidateReadOnly(sql string) error {
	words, statements := lexWords(sql)
	if len(words) == 0 {
		return fmt.Errorf("%w: empty statement", ErrNotReadOnly)
	}
	if first := words[0]; first != "SELECT" && first != "WITH" {
		return fmt.Errorf("%w: statement must start with SELECT or WITH, got %s", ErrNotReadOnly, first)
	}
	if statements > 1 {
		return fmt.Errorf("%w: multiple statements are not allowed", ErrNotReadOnly)
	}
	for _, w := range words {
		if _, bad := forbiddenKeywords[w]; bad {
			return fmt.Errorf("%w: %s statements are not allowed", ErrNotReadOnly, w)
		}
	}
	return nil
}

// lexWords extracts uppercased bare words from sql, skipping string
// literals, quoted identifiers, and both comment forms. It also counts
// semicolon-separated statements that contain any words.
func lexWords(sql string) (words []string, statements int) {
	inStatement := false
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'':
			// String literal; '' escapes a quote.
			i++
			for i < len(sql) {
				if sql[i] == '\'' {
					if i+1 < len(sql) && sql[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '"':
			i++
			for i < len(sql) && sql[i] != '"' {
				i++
			}
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i += 2
			for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
				i++
			}
			i += 2
		case c == ';':
			if inStatement {
				statements++
				inStatement = false
			}
			i++
		case isWordByte(c):
			start := i
			for i < len(sql) && isWordByte(sql[i]) {
				i++
			}
			words = append(words, strings.ToUpper(sql[start:i]))
			inStatement = true
		default:
			i++
		}
	}
	if inStatement {
		statements++
	}
	return words, statements
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
