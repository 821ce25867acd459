// Package prompts renders the generation and repair prompts sent to the
// model. Context is trimmed to a character budget, dropping the least
// relevant unpinned chunks first.
package prompts

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// SystemMessage frames every generation request.
const SystemMessage = "You are an expert SQL engineer. You translate natural-language questions " +
	"into a single read-only SQL statement using only the tables and columns provided. " +
	"Reply with exactly one SQL statement inside a ```sql code fence and nothing else. " +
	"Never emit INSERT, UPDATE, DELETE, DDL, or multiple statements."

// Builder renders prompts for a fixed dialect within a context budget.
type Builder struct {
	dialect     string
	budgetChars int
	logger      *zap.Logger
}

// New creates a prompt builder. budgetChars bounds the rendered schema
// context; values below one disable trimming.
func New(dialect string, budgetChars int, logger *zap.Logger) *Builder {
	return &Builder{
		dialect:     dialect,
		budgetChars: budgetChars,
		logger:      logger.Named("prompts"),
	}
}

// Initial renders the first-attempt prompt from the question's intent and
// retrieved context.
func (b *Builder) Initial(intent models.QueryIntent, retrieved *models.RetrievedContext) string {
	var p strings.Builder

	p.WriteString("# Database Schema\n\n")
	p.WriteString(b.renderContext(retrieved))

	b.writeHints(&p, intent)
	b.writeExamples(&p, intent)

	fmt.Fprintf(&p, "\n# Task\nDialect: %s\n", b.dialect)
	fmt.Fprintf(&p, "Question: %s\n", intent.Question)
	p.WriteString("\nWrite one SQL statement that answers the question.\n")

	return p.String()
}

// Repair renders a correction prompt for the next attempt. Only the most
// recent failure is embedded; older attempts add noise without signal.
func (b *Builder) Repair(intent models.QueryIntent, retrieved *models.RetrievedContext, last models.AttemptRecord) string {
	var p strings.Builder

	p.WriteString("# Database Schema\n\n")
	p.WriteString(b.renderContext(retrieved))

	b.writeHints(&p, intent)

	fmt.Fprintf(&p, "\n# Task\nDialect: %s\n", b.dialect)
	fmt.Fprintf(&p, "Question: %s\n", intent.Question)

	p.WriteString("\n# Previous Attempt Failed\n")
	p.WriteString("```sql\n")
	p.WriteString(last.Candidate.SQL)
	p.WriteString("\n```\n")

	switch last.Outcome.Kind {
	case models.OutcomeSyntaxError:
		fmt.Fprintf(&p, "Syntax error: %s\n", last.Outcome.Message)
		if last.Outcome.Offset >= 0 {
			fmt.Fprintf(&p, "Error position: byte offset %d\n", last.Outcome.Offset)
		}
	case models.OutcomeExecutionError:
		fmt.Fprintf(&p, "The database rejected the statement: %s\n", last.Outcome.Message)
	default:
		fmt.Fprintf(&p, "Failure: %s\n", last.Outcome.Message)
	}

	p.WriteString("\nWrite a corrected SQL statement that fixes this error and answers the question.\n")

	return p.String()
}

// renderContext joins chunk texts within the character budget. Pinned
// chunks always survive; unpinned chunks are dropped lowest score first.
func (b *Builder) renderContext(retrieved *models.RetrievedContext) string {
	if retrieved == nil || len(retrieved.Chunks) == 0 {
		return "(no schema context retrieved)\n"
	}

	chunks := retrieved.Chunks
	if b.budgetChars > 0 {
		chunks = b.trimToBudget(chunks)
	}

	var parts []string
	for _, sc := range chunks {
		parts = append(parts, sc.Chunk.Text)
	}
	return strings.Join(parts, "\n---\n\n")
}

// trimToBudget drops unpinned chunks from the bottom of the ranking until
// the joined text fits. Chunks arrive ordered pinned-first then by score,
// so dropping from the tail removes the weakest match each time.
func (b *Builder) trimToBudget(chunks []models.ScoredChunk) []models.ScoredChunk {
	kept := make([]models.ScoredChunk, len(chunks))
	copy(kept, chunks)

	for len(kept) > 0 && totalChars(kept) > b.budgetChars {
		dropped := false
		for i := len(kept) - 1; i >= 0; i-- {
			if !kept[i].Pinned {
				b.logger.Debug("dropping chunk over context budget",
					zap.String("chunk_id", kept[i].Chunk.ID),
					zap.Float64("score", kept[i].Score))
				kept = append(kept[:i], kept[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			// Only pinned chunks remain; keep them all even over budget.
			break
		}
	}
	return kept
}

func totalChars(chunks []models.ScoredChunk) int {
	total := 0
	for _, sc := range chunks {
		total += len(sc.Chunk.Text)
	}
	return total
}

// writeHints renders analyzer signals so the model does not re-derive them
// from scratch.
func (b *Builder) writeHints(p *strings.Builder, intent models.QueryIntent) {
	var hints []string
	if tr := intent.TimeRange; tr != nil {
		hints = append(hints, fmt.Sprintf(
			"The question's %q refers to the range [%s, %s).",
			tr.Phrase,
			tr.Start.Format(time.RFC3339),
			tr.End.Format(time.RFC3339)))
	}
	if len(intent.Aggregation) > 0 {
		var names []string
		for _, agg := range intent.Aggregation {
			names = append(names, strings.ToUpper(string(agg)))
		}
		hints = append(hints, fmt.Sprintf("The question likely needs %s.", strings.Join(names, " or ")))
	}
	if len(hints) == 0 {
		return
	}

	p.WriteString("\n# Hints\n")
	for _, hint := range hints {
		fmt.Fprintf(p, "- %s\n", hint)
	}
}

// fewShot is one worked example shown for a class of question.
type fewShot struct {
	question string
	sql      string
}

var aggregationExamples = map[models.AggregationHint]fewShot{
	models.AggSum: {
		question: "What is the total order amount this month?",
		sql: "SELECT SUM(amount) AS total_amount\nFROM orders\n" +
			"WHERE created_at >= date_trunc('month', CURRENT_DATE);",
	},
	models.AggCount: {
		question: "How many users signed up yesterday?",
		sql: "SELECT COUNT(*) AS signups\nFROM users\n" +
			"WHERE created_at >= CURRENT_DATE - INTERVAL '1 day'\n  AND created_at < CURRENT_DATE;",
	},
	models.AggAvg: {
		question: "What is the average order amount per user?",
		sql: "SELECT AVG(user_total) AS avg_per_user\nFROM (\n" +
			"  SELECT user_id, SUM(amount) AS user_total FROM orders GROUP BY user_id\n) t;",
	},
}

// writeExamples adds at most one worked example matching the question's
// aggregation intent. Repair prompts skip examples to keep the failure
// front and center.
func (b *Builder) writeExamples(p *strings.Builder, intent models.QueryIntent) {
	for _, agg := range intent.Aggregation {
		example, ok := aggregationExamples[agg]
		if !ok {
			continue
		}
		p.WriteString("\n# Example\n")
		fmt.Fprintf(p, "Question: %s\n```sql\n%s\n```\n", example.question, example.sql)
		return
	}
}
