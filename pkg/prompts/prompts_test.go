package prompts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

func testContext() *models.RetrievedContext {
	return &models.RetrievedContext{
		Question: "total order amount this month",
		Chunks: []models.ScoredChunk{
			{
				Chunk:  models.KnowledgeChunk{ID: "table_orders", TableName: "orders", Text: "## Table: orders\nCREATE TABLE orders (id bigint, amount numeric, created_at timestamptz);"},
				Score:  0.9,
				Pinned: true,
			},
			{
				Chunk: models.KnowledgeChunk{ID: "table_users", TableName: "users", Text: "## Table: users\nCREATE TABLE users (id bigint, name text);"},
				Score: 0.6,
			},
		},
	}
}

func TestInitialPrompt(t *testing.T) {
	b := New("postgres", 0, zap.NewNop())
	intent := models.QueryIntent{
		Question:    "total order amount this month",
		Aggregation: []models.AggregationHint{models.AggSum},
		TimeRange: &models.TimeRange{
			Phrase: "this month",
			Start:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			End:    time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	prompt := b.Initial(intent, testContext())

	assert.Contains(t, prompt, "## Table: orders")
	assert.Contains(t, prompt, "## Table: users")
	assert.Contains(t, prompt, "Dialect: postgres")
	assert.Contains(t, prompt, "Question: total order amount this month")
	assert.Contains(t, prompt, "2025-06-01T00:00:00Z")
	assert.Contains(t, prompt, "SUM")
	assert.Contains(t, prompt, "# Example")
}

func TestInitialPromptNoContext(t *testing.T) {
	b := New("tsql", 0, zap.NewNop())
	prompt := b.Initial(models.QueryIntent{Question: "q"}, nil)

	assert.Contains(t, prompt, "(no schema context retrieved)")
	assert.Contains(t, prompt, "Dialect: tsql")
}

func TestRepairPromptEmbedsLastFailureOnly(t *testing.T) {
	b := New("postgres", 0, zap.NewNop())
	intent := models.QueryIntent{Question: "q"}

	last := models.AttemptRecord{
		Candidate: models.SQLCandidate{SQL: "SELECT amont FROM orders", Attempt: 1},
		Outcome: models.ValidationOutcome{
			Kind:    models.OutcomeExecutionError,
			Message: `column "amont" does not exist`,
			Offset:  -1,
		},
	}

	prompt := b.Repair(intent, testContext(), last)

	assert.Contains(t, prompt, "SELECT amont FROM orders")
	assert.Contains(t, prompt, `column "amont" does not exist`)
	assert.Contains(t, prompt, "corrected SQL statement")
	assert.NotContains(t, prompt, "# Example", "repair prompts omit few-shot examples")
}

func TestRepairPromptSyntaxOffset(t *testing.T) {
	b := New("postgres", 0, zap.NewNop())

	prompt := b.Repair(models.QueryIntent{Question: "q"}, testContext(), models.AttemptRecord{
		Candidate: models.SQLCandidate{SQL: "SELECT FROM ("},
		Outcome: models.ValidationOutcome{
			Kind:    models.OutcomeSyntaxError,
			Message: "unbalanced parentheses",
			Offset:  12,
		},
	})

	assert.Contains(t, prompt, "Syntax error: unbalanced parentheses")
	assert.Contains(t, prompt, "byte offset 12")
}

func TestBudgetTrimsUnpinnedFirst(t *testing.T) {
	long := strings.Repeat("x", 400)
	retrieved := &models.RetrievedContext{
		Chunks: []models.ScoredChunk{
			{Chunk: models.KnowledgeChunk{ID: "table_a", Text: "pinned " + long}, Score: 0.9, Pinned: true},
			{Chunk: models.KnowledgeChunk{ID: "table_b", Text: "strong " + long}, Score: 0.8},
			{Chunk: models.KnowledgeChunk{ID: "table_c", Text: "weak " + long}, Score: 0.3},
		},
	}

	// Budget fits two chunks; the weakest unpinned one must go.
	b := New("postgres", 900, zap.NewNop())
	prompt := b.Initial(models.QueryIntent{Question: "q"}, retrieved)

	assert.Contains(t, prompt, "pinned ")
	assert.Contains(t, prompt, "strong ")
	assert.NotContains(t, prompt, "weak ")
}

func TestBudgetNeverDropsPinned(t *testing.T) {
	long := strings.Repeat("x", 400)
	retrieved := &models.RetrievedContext{
		Chunks: []models.ScoredChunk{
			{Chunk: models.KnowledgeChunk{ID: "table_a", Text: "alpha " + long}, Score: 0.9, Pinned: true},
			{Chunk: models.KnowledgeChunk{ID: "table_b", Text: "beta " + long}, Score: 0.8, Pinned: true},
		},
	}

	b := New("postgres", 100, zap.NewNop())
	prompt := b.Initial(models.QueryIntent{Question: "q"}, retrieved)

	require.Contains(t, prompt, "alpha ")
	require.Contains(t, prompt, "beta ")
}

func TestSystemMessageConstraints(t *testing.T) {
	assert.Contains(t, SystemMessage, "read-only")
	assert.Contains(t, SystemMessage, "```sql")
}
