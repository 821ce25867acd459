package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/llm"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{
			name:   "sql fence",
			output: "Here is the query:\n```sql\nSELECT * FROM orders;\n```\nHope that helps.",
			want:   "SELECT * FROM orders;",
			ok:     true,
		},
		{
			name:   "bare fence",
			output: "```\nSELECT COUNT(*) FROM users\n```",
			want:   "SELECT COUNT(*) FROM users",
			ok:     true,
		},
		{
			name:   "no fence leading keyword",
			output: "SELECT id, name\nFROM users\nWHERE active = true;",
			want:   "SELECT id, name\nFROM users\nWHERE active = true;",
			ok:     true,
		},
		{
			name:   "keyword mid text",
			output: "The answer is:\nselect 1;",
			want:   "select 1;",
			ok:     true,
		},
		{
			name:   "keyword after prose on same line",
			output: "Sure: SELECT 1;",
			want:   "SELECT 1;",
			ok:     true,
		},
		{
			name:   "with as english word is not a statement",
			output: "I cannot help with that.",
			ok:     false,
		},
		{
			name:   "cte",
			output: "```sql\nWITH t AS (SELECT 1) SELECT * FROM t;\n```",
			want:   "WITH t AS (SELECT 1) SELECT * FROM t;",
			ok:     true,
		},
		{
			name:   "write statement in fence still extracted",
			output: "```sql\nDELETE FROM orders;\n```",
			want:   "DELETE FROM orders;",
			ok:     true,
		},
		{
			name:   "sql fence preferred over bare fence",
			output: "```\nnot sql\n```\n```sql\nSELECT 1;\n```",
			want:   "SELECT 1;",
			ok:     true,
		},
		{
			name:   "prose only",
			output: "I cannot answer this question from the given schema.",
			ok:     false,
		},
		{
			name:   "empty fence",
			output: "```sql\n\n```",
			ok:     false,
		},
		{
			name:   "empty output",
			output: "",
			ok:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractSQL(tt.output)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	mock := &llm.MockClient{
		GenerateResponseFunc: func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
			assert.NotEmpty(t, system)
			assert.Equal(t, 0.1, temperature)
			assert.Equal(t, 2048, maxTokens)
			return "```sql\nSELECT 1;\n```", nil
		},
	}
	g := New(mock, 0.1, 2048, 0, zap.NewNop())

	raw, sql, err := g.Generate(context.Background(), "prompt text")
	require.NoError(t, err)
	assert.Equal(t, "```sql\nSELECT 1;\n```", raw)
	assert.Equal(t, "SELECT 1;", sql)
	assert.Equal(t, 1, mock.GenerateResponseCalls)
}

func TestGenerateAppliesTimeout(t *testing.T) {
	mock := &llm.MockClient{
		GenerateResponseFunc: func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "inference call must carry the configured deadline")
			return "```sql\nSELECT 1;\n```", nil
		},
	}
	g := New(mock, 0.1, 1024, 30*time.Second, zap.NewNop())

	_, _, err := g.Generate(context.Background(), "prompt")
	require.NoError(t, err)

	// Without a configured timeout the caller's context is untouched.
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return "```sql\nSELECT 1;\n```", nil
	}
	g = New(mock, 0.1, 1024, 0, zap.NewNop())
	_, _, err = g.Generate(context.Background(), "prompt")
	require.NoError(t, err)
}

func TestGenerateClientError(t *testing.T) {
	mock := &llm.MockClient{
		GenerateResponseFunc: func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	g := New(mock, 0.1, 1024, 0, zap.NewNop())

	_, _, err := g.Generate(context.Background(), "prompt")
	require.Error(t, err)

	var parseErr *ParseError
	assert.False(t, errors.As(err, &parseErr), "transport failures are not parse errors")
}

func TestGenerateParseError(t *testing.T) {
	mock := &llm.MockClient{
		GenerateResponseFunc: func(ctx context.Context, prompt, system string, temperature float64, maxTokens int) (string, error) {
			return "no sql here, sorry", nil
		},
	}
	g := New(mock, 0.1, 1024, 0, zap.NewNop())

	raw, sql, err := g.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, "no sql here, sorry", raw, "raw output preserved for diagnostics")
	assert.Empty(t, sql)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "no sql here, sorry", parseErr.RawOutput)
}
