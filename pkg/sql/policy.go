package sql

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// PolicyError means the statement is not a read. It is never retried: a
// model that emits writes is violating its instructions, not making a
// repairable mistake.
type PolicyError struct {
	Keyword string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("statement is not read-only: contains %s", e.Keyword)
}

// forbiddenKeywords are write or DDL words that must not appear anywhere
// in code (outside literals and comments). INTO covers SELECT INTO, which
// creates a table in both supported dialects.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER",
	"TRUNCATE", "GRANT", "REVOKE", "MERGE", "EXEC", "EXECUTE",
	"CALL", "INTO", "VACUUM", "COPY",
}

var forbiddenPattern = regexp.MustCompile(
	`(?i)\b(` + strings.Join(forbiddenKeywords, "|") + `)\b`)

// CheckReadOnly verifies that a statement only reads. The first keyword
// must be SELECT or WITH and no write keyword may appear in code position
// anywhere, which also catches writes smuggled into CTE bodies.
func CheckReadOnly(sqlQuery, dialect string) error {
	trimmed := strings.TrimSpace(sqlQuery)
	first := strings.ToUpper(firstWord(trimmed))
	if first != "SELECT" && first != "WITH" {
		return &PolicyError{Keyword: first}
	}

	masked := maskNonCode(sqlQuery, dialect)
	if m := forbiddenPattern.FindString(masked); m != "" {
		return &PolicyError{Keyword: strings.ToUpper(m)}
	}
	return nil
}

// InjectionFinding is one string literal flagged by libinjection.
type InjectionFinding struct {
	// Literal is the flagged content, without quotes.
	Literal string
	// Fingerprint is libinjection's pattern fingerprint.
	Fingerprint string
	// Offset is the byte position of the opening quote.
	Offset int
}

// ScanLiterals runs libinjection over every single-quoted literal in the
// statement. Findings are advisory: generated SQL legitimately contains
// literals, but a literal that itself parses as SQL is worth logging.
func ScanLiterals(sqlQuery string) []InjectionFinding {
	var findings []InjectionFinding

	for _, lit := range extractLiterals(sqlQuery) {
		if lit.content == "" {
			continue
		}
		isSQLi, fingerprint := libinjection.IsSQLi(lit.content)
		if isSQLi {
			findings = append(findings, InjectionFinding{
				Literal:     lit.content,
				Fingerprint: string(fingerprint),
				Offset:      lit.offset,
			})
		}
	}
	return findings
}

type literal struct {
	content string
	offset  int
}

func extractLiterals(sqlQuery string) []literal {
	var (
		literals []literal
		inside   bool
		start    int
		content  []byte
	)

	bytes := []byte(sqlQuery)
	for i := 0; i < len(bytes); i++ {
		c := bytes[i]
		if !inside {
			if c == '\'' {
				inside = true
				start = i
				content = content[:0]
			}
			continue
		}
		if c == '\'' {
			if i+1 < len(bytes) && bytes[i+1] == '\'' {
				content = append(content, '\'')
				i++
				continue
			}
			inside = false
			literals = append(literals, literal{content: string(content), offset: start})
			continue
		}
		content = append(content, c)
	}
	return literals
}
