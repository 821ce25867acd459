// Package sql validates generated SQL before it reaches a database:
// normalization, structural syntax checks with byte offsets, a read-only
// policy gate, and an injection scan over string literals.
package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
)

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize checks SQL for multiple statements and strips the
// trailing semicolon.
//
// The validation order is:
// 1. Strip trailing semicolon and whitespace (normalize)
// 2. Check for multiple statements (any remaining semicolons outside string literals)
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)

	if sqlQuery == "" {
		return ValidationResult{NormalizedSQL: sqlQuery}
	}

	normalized := stripTrailingSemicolon(sqlQuery)

	if offset := semicolonOutsideStrings(normalized); offset >= 0 {
		return ValidationResult{Error: ErrMultipleStatements}
	}

	return ValidationResult{NormalizedSQL: normalized}
}

// SyntaxError is a structural problem found without a database round trip.
// Offset is the byte position of the problem, -1 when it has no single
// location.
type SyntaxError struct {
	Message string
	Offset  int
}

func (e *SyntaxError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("syntax error at byte %d: %s", e.Offset, e.Message)
	}
	return "syntax error: " + e.Message
}

// CheckSyntax runs structural checks on a normalized statement: non-empty,
// starts like a statement, balanced quotes and parentheses, no unterminated
// comments. It is deliberately shallow; the database remains the authority
// on full syntax.
func CheckSyntax(sqlQuery, dialect string) *SyntaxError {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return &SyntaxError{Message: "empty statement", Offset: 0}
	}

	first := firstWord(trimmed)
	if !statementKeywords[strings.ToUpper(first)] {
		return &SyntaxError{
			Message: fmt.Sprintf("%q does not begin a SQL statement", first),
			Offset:  0,
		}
	}

	return scanStructure(sqlQuery, dialect)
}

// statementKeywords are words that may begin a statement. The read-only
// policy narrows this further; syntax checking only asks "is this SQL".
var statementKeywords = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true,
	"DELETE": true, "CREATE": true, "DROP": true, "ALTER": true,
	"TRUNCATE": true, "GRANT": true, "REVOKE": true, "MERGE": true,
	"EXPLAIN": true, "SHOW": true,
}

// scanStructure walks the statement tracking quote and comment state and
// parenthesis depth.
func scanStructure(sqlQuery, dialect string) *SyntaxError {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBracket
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	stateStart := 0
	depth := 0
	var openParens []int

	bytes := []byte(sqlQuery)
	for i := 0; i < len(bytes); i++ {
		c := bytes[i]

		switch state {
		case stateNormal:
			switch {
			case c == '\'':
				state, stateStart = stateSingleQuote, i
			case c == '"':
				state, stateStart = stateDoubleQuote, i
			case c == '[' && dialect == "tsql":
				state, stateStart = stateBracket, i
			case c == '-' && i+1 < len(bytes) && bytes[i+1] == '-':
				state = stateLineComment
				i++
			case c == '/' && i+1 < len(bytes) && bytes[i+1] == '*':
				state, stateStart = stateBlockComment, i
				i++
			case c == '(':
				depth++
				openParens = append(openParens, i)
			case c == ')':
				if depth == 0 {
					return &SyntaxError{Message: "unmatched closing parenthesis", Offset: i}
				}
				depth--
				openParens = openParens[:len(openParens)-1]
			}
		case stateSingleQuote:
			if c == '\'' {
				// Doubled quote is the SQL escape; stay inside the literal.
				if i+1 < len(bytes) && bytes[i+1] == '\'' {
					i++
				} else {
					state = stateNormal
				}
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			}
		case stateBracket:
			if c == ']' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(bytes) && bytes[i+1] == '/' {
				state = stateNormal
				i++
			}
		}
	}

	switch state {
	case stateSingleQuote:
		return &SyntaxError{Message: "unterminated string literal", Offset: stateStart}
	case stateDoubleQuote:
		return &SyntaxError{Message: "unterminated quoted identifier", Offset: stateStart}
	case stateBracket:
		return &SyntaxError{Message: "unterminated bracketed identifier", Offset: stateStart}
	case stateBlockComment:
		return &SyntaxError{Message: "unterminated block comment", Offset: stateStart}
	}
	if depth > 0 {
		return &SyntaxError{Message: "unclosed parenthesis", Offset: openParens[0]}
	}
	return nil
}

// semicolonOutsideStrings returns the byte offset of the first semicolon
// outside string literals and comments, or -1.
func semicolonOutsideStrings(sqlQuery string) int {
	masked := maskNonCode(sqlQuery, "")
	return strings.IndexByte(masked, ';')
}

// maskNonCode replaces the contents of string literals, quoted identifiers,
// and comments with spaces, preserving byte offsets, so keyword scans never
// fire on literal text.
func maskNonCode(sqlQuery, dialect string) string {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
		stateBracket
		stateLineComment
		stateBlockComment
	)

	out := []byte(sqlQuery)
	state := stateNormal

	for i := 0; i < len(out); i++ {
		c := out[i]

		switch state {
		case stateNormal:
			switch {
			case c == '\'':
				state = stateSingleQuote
			case c == '"':
				state = stateDoubleQuote
			case c == '[' && dialect == "tsql":
				state = stateBracket
			case c == '-' && i+1 < len(out) && out[i+1] == '-':
				state = stateLineComment
				out[i], out[i+1] = ' ', ' '
				i++
			case c == '/' && i+1 < len(out) && out[i+1] == '*':
				state = stateBlockComment
				out[i], out[i+1] = ' ', ' '
				i++
			}
		case stateSingleQuote:
			if c == '\'' {
				if i+1 < len(out) && out[i+1] == '\'' {
					out[i+1] = ' '
					i++
				} else {
					state = stateNormal
				}
			} else {
				out[i] = ' '
			}
		case stateDoubleQuote:
			if c == '"' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateBracket:
			if c == ']' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
			} else {
				out[i] = ' '
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(out) && out[i+1] == '/' {
				state = stateNormal
				out[i], out[i+1] = ' ', ' '
				i++
			} else {
				out[i] = ' '
			}
		}
	}

	return string(out)
}

func firstWord(s string) string {
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' {
			return s[:i]
		}
	}
	return s
}

func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")

	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}

	return sqlQuery
}
