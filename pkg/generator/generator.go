// Package generator calls the LLM and isolates a SQL statement from its
// output.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/llm"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/prompts"
)

// ParseError means the model's output contained no recognizable SQL.
type ParseError struct {
	// RawOutput is the full model output that failed to parse.
	RawOutput string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no SQL statement found in model output (%d chars)", len(e.RawOutput))
}

// Generator produces SQL text from prompts.
type Generator struct {
	client      llm.Client
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

// New creates a generator over the given client. timeout bounds a single
// inference call; zero means no per-call bound.
func New(client llm.Client, temperature float64, maxTokens int, timeout time.Duration, logger *zap.Logger) *Generator {
	return &Generator{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		logger:      logger.Named("generator"),
	}
}

// Generate sends one prompt and extracts the SQL from the response. The
// raw output is returned alongside so callers can surface it; on a
// ParseError the raw output is still returned.
func (g *Generator) Generate(ctx context.Context, prompt string) (raw, sql string, err error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	raw, err = g.client.GenerateResponse(ctx, prompt, prompts.SystemMessage, g.temperature, g.maxTokens)
	if err != nil {
		return "", "", fmt.Errorf("generate SQL: %w", err)
	}

	sql, ok := ExtractSQL(raw)
	if !ok {
		g.logger.Warn("model output contained no SQL",
			zap.Int("output_chars", len(raw)))
		return raw, "", &ParseError{RawOutput: raw}
	}

	g.logger.Debug("generated SQL candidate",
		zap.Int("sql_chars", len(sql)),
		zap.String("model", g.client.GetModel()))
	return raw, sql, nil
}

var (
	sqlFencePattern  = regexp.MustCompile("(?s)```sql\\s*\\n(.*?)```")
	bareFencePattern = regexp.MustCompile("(?s)```\\s*\\n(.*?)```")
	// SELECT is unambiguous enough to pick up mid-line after prose like
	// "Sure: SELECT ...". WITH is an ordinary English word, so it only
	// counts at the start of a line.
	queryKeyword = regexp.MustCompile(`(?im)\bSELECT\b|^[ \t]*WITH\b`)
	// anyStatement recognizes fenced content as SQL even when it is not a
	// read statement, so write attempts reach the policy check instead of
	// being misreported as unparseable output.
	anyStatement = regexp.MustCompile(`(?i)^\s*(SELECT|WITH|INSERT|UPDATE|DELETE|CREATE|DROP|ALTER|TRUNCATE|GRANT|REVOKE|MERGE|EXPLAIN|SHOW)\b`)
)

// ExtractSQL isolates a SQL statement from model output. It prefers a
// ```sql fence, then any bare fence, then falls back to scanning for a
// line starting with a query keyword and taking the rest of the text.
func ExtractSQL(output string) (string, bool) {
	if m := sqlFencePattern.FindStringSubmatch(output); m != nil {
		return cleanStatement(m[1])
	}
	if m := bareFencePattern.FindStringSubmatch(output); m != nil {
		if sql, ok := cleanStatement(m[1]); ok {
			return sql, true
		}
	}

	if loc := queryKeyword.FindStringIndex(output); loc != nil {
		return cleanStatement(output[loc[0]:])
	}
	return "", false
}

// cleanStatement trims whitespace and rejects text that does not look like
// a statement at all.
func cleanStatement(text string) (string, bool) {
	sql := strings.TrimSpace(text)
	if sql == "" {
		return "", false
	}
	if !anyStatement.MatchString(sql) {
		return "", false
	}
	return sql, true
}
