package models

import (
	"time"

	"github.com/google/uuid"
)

// AggregationHint is the aggregate function a question appears to ask for.
type AggregationHint string

const (
	AggSum   AggregationHint = "sum"
	AggAvg   AggregationHint = "avg"
	AggMax   AggregationHint = "max"
	AggMin   AggregationHint = "min"
	AggCount AggregationHint = "count"
)

// TimeRange is a resolved time window mentioned in a question.
type TimeRange struct {
	// Phrase is the text that matched, e.g. "本月" or "last week".
	Phrase string    `json:"phrase"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// QueryIntent is the structured reading of a natural-language question.
type QueryIntent struct {
	Question string `json:"question"`
	// Entities are table names mentioned verbatim (or as singular/plural
	// variants) in the question. Their chunks are pinned during retrieval.
	Entities []string `json:"entities,omitempty"`
	// Terms are business glossary keys recognized in the question.
	Terms       []string          `json:"terms,omitempty"`
	TimeRange   *TimeRange        `json:"time_range,omitempty"`
	Aggregation []AggregationHint `json:"aggregation,omitempty"`
	// SearchText is the retrieval query: the question enriched with matched
	// entities and terms for better recall.
	SearchText string `json:"search_text"`
}

// SQLCandidate is one generated statement inside the repair loop.
type SQLCandidate struct {
	// RawOutput is the model's full text, which may include prose.
	RawOutput string `json:"raw_output"`
	// SQL is the statement isolated from RawOutput.
	SQL     string `json:"sql"`
	Dialect string `json:"dialect"`
	// Attempt numbers from 1; the first generation is attempt 1.
	Attempt int `json:"attempt"`
}

// OutcomeKind tags a ValidationOutcome.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeSyntaxError    OutcomeKind = "syntax_error"
	OutcomeExecutionError OutcomeKind = "execution_error"
	// OutcomePolicyViolation marks a non-read statement rejected before
	// execution. It is not retried: it indicates a generation-safety
	// violation, not a repairable mistake.
	OutcomePolicyViolation OutcomeKind = "policy_violation"
)

// ValidationOutcome is the tagged result of validating (and optionally
// executing) one candidate.
type ValidationOutcome struct {
	Kind OutcomeKind `json:"kind"`
	// Message is the parser diagnostic or engine-reported error.
	Message string `json:"message,omitempty"`
	// Offset is the byte position of a syntax error, -1 when unknown.
	Offset int `json:"offset,omitempty"`
	// Rows and RowsAffected are set on execution success.
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rows_affected,omitempty"`
	Columns      []string         `json:"columns,omitempty"`
}

// OK reports whether the outcome is a success.
func (o *ValidationOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// AttemptRecord pairs a candidate with its outcome for history inspection.
type AttemptRecord struct {
	Candidate SQLCandidate      `json:"candidate"`
	Outcome   ValidationOutcome `json:"outcome"`
}

// QueryResult is the final answer for one question.
type QueryResult struct {
	RunID    uuid.UUID `json:"run_id"`
	Question string    `json:"question"`
	// SQL is the final statement, empty when every attempt was exhausted
	// without a syntactically usable candidate.
	SQL     string      `json:"sql,omitempty"`
	Outcome OutcomeKind `json:"outcome"`
	// Error carries the last failure message when Outcome is not success.
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
	// Execution payload on success (empty in validate-only mode).
	Rows    []map[string]any `json:"rows,omitempty"`
	Columns []string         `json:"columns,omitempty"`

	// Intermediate artifacts, populated only when explicitly requested.
	Intent    *QueryIntent      `json:"intent,omitempty"`
	Retrieved *RetrievedContext `json:"retrieved,omitempty"`
	Prompt    string            `json:"prompt,omitempty"`
	History   []AttemptRecord   `json:"history,omitempty"`
}
