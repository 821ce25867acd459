package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/analyzer"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/datasource"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/generator"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/prompts"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/retriever"
	sqlcheck "github.com/sqlforge-ai/sqlforge-engine/pkg/sql"
)

// QueryOptions tune a single query run.
type QueryOptions struct {
	// ValidateOnly stops after syntax and policy checks; nothing is
	// executed even when execution is configured.
	ValidateOnly bool
	// IncludeArtifacts attaches intent, retrieved context, the final
	// prompt, and the full attempt history to the result.
	IncludeArtifacts bool
}

// QueryService runs the online pipeline: analyze, retrieve, generate,
// validate, repair.
type QueryService struct {
	knowledge *KnowledgeService
	analyzer  *analyzer.Analyzer
	retriever *retriever.Retriever
	prompts   *prompts.Builder
	generator *generator.Generator
	// executor is nil when execution is disabled; candidates are then
	// accepted on syntax and policy alone.
	executor    datasource.Executor
	dialect     string
	maxAttempts int
	logger      *zap.Logger
}

// NewQueryService creates the online pipeline service. executor may be nil
// to run in validate-only mode globally.
func NewQueryService(
	knowledge *KnowledgeService,
	analyze *analyzer.Analyzer,
	retrieve *retriever.Retriever,
	promptBuilder *prompts.Builder,
	gen *generator.Generator,
	executor datasource.Executor,
	dialect string,
	maxAttempts int,
	logger *zap.Logger,
) *QueryService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &QueryService{
		knowledge:   knowledge,
		analyzer:    analyze,
		retriever:   retrieve,
		prompts:     promptBuilder,
		generator:   gen,
		executor:    executor,
		dialect:     dialect,
		maxAttempts: maxAttempts,
		logger:      logger.Named("query"),
	}
}

// Query answers a natural-language question. The generate/validate loop
// runs at most maxAttempts times; the first generation is attempt 1. An
// exhausted run still returns a result carrying the last candidate and its
// failure, with a non-nil error.
func (s *QueryService) Query(ctx context.Context, question string, opts QueryOptions) (*models.QueryResult, error) {
	runID := uuid.New()
	log := s.logger.With(zap.String("run_id", runID.String()))

	result := &models.QueryResult{
		RunID:    runID,
		Question: question,
	}

	tables, err := s.knowledge.TableNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list known tables: %w", err)
	}

	intent := s.analyzer.Analyze(question, tables)
	retrieved, err := s.retriever.Retrieve(ctx, intent)
	if err != nil {
		return nil, err
	}

	if opts.IncludeArtifacts {
		result.Intent = &intent
		result.Retrieved = retrieved
	}

	var history []models.AttemptRecord

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("query cancelled before attempt %d: %w", attempt, err)
		}

		var prompt string
		if len(history) == 0 {
			prompt = s.prompts.Initial(intent, retrieved)
		} else {
			prompt = s.prompts.Repair(intent, retrieved, history[len(history)-1])
		}
		if opts.IncludeArtifacts {
			result.Prompt = prompt
		}

		candidate, outcome, err := s.runAttempt(ctx, log, prompt, attempt, opts)
		if err != nil {
			return nil, err
		}

		record := models.AttemptRecord{Candidate: candidate, Outcome: outcome}
		history = append(history, record)
		result.Attempts = attempt

		switch outcome.Kind {
		case models.OutcomeSuccess:
			result.SQL = candidate.SQL
			result.Outcome = models.OutcomeSuccess
			result.Rows = outcome.Rows
			result.Columns = outcome.Columns
			s.finish(result, history, opts)
			log.Info("query answered",
				zap.Int("attempts", attempt),
				zap.Int("rows", len(outcome.Rows)))
			return result, nil

		case models.OutcomePolicyViolation:
			// Not a repairable mistake; retrying would re-prompt a model
			// that already ignored its safety instructions.
			result.SQL = candidate.SQL
			result.Outcome = models.OutcomePolicyViolation
			result.Error = outcome.Message
			s.finish(result, history, opts)
			log.Warn("candidate rejected by read-only policy",
				zap.String("message", outcome.Message))
			return result, fmt.Errorf("read-only policy violation: %s", outcome.Message)

		default:
			log.Debug("attempt failed",
				zap.Int("attempt", attempt),
				zap.String("kind", string(outcome.Kind)),
				zap.String("message", outcome.Message))
		}
	}

	last := history[len(history)-1]
	result.SQL = last.Candidate.SQL
	result.Outcome = last.Outcome.Kind
	result.Error = last.Outcome.Message
	s.finish(result, history, opts)

	log.Warn("attempts exhausted",
		zap.Int("max_attempts", s.maxAttempts),
		zap.String("last_error", last.Outcome.Message))
	return result, fmt.Errorf("exhausted %d attempts: %s", s.maxAttempts, last.Outcome.Message)
}

// Validate checks a caller-supplied statement without generating or
// executing anything.
func (s *QueryService) Validate(sqlText string) models.ValidationOutcome {
	return s.validateCandidate(sqlText)
}

// runAttempt performs one generate-and-validate cycle. The returned error
// is fatal (transport failure, cancellation); validation failures come
// back in the outcome instead.
func (s *QueryService) runAttempt(ctx context.Context, log *zap.Logger, prompt string, attempt int, opts QueryOptions) (models.SQLCandidate, models.ValidationOutcome, error) {
	raw, sqlText, err := s.generator.Generate(ctx, prompt)

	candidate := models.SQLCandidate{
		RawOutput: raw,
		SQL:       sqlText,
		Dialect:   s.dialect,
		Attempt:   attempt,
	}

	if err != nil {
		var parseErr *generator.ParseError
		if errors.As(err, &parseErr) {
			// Unparseable output is repairable: the next prompt tells the
			// model its reply contained no SQL.
			return candidate, models.ValidationOutcome{
				Kind:    models.OutcomeSyntaxError,
				Message: "output contained no SQL statement",
				Offset:  -1,
			}, nil
		}
		// A per-call inference timeout consumes an attempt like any other
		// failed generation. Caller cancellation stays fatal.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return candidate, models.ValidationOutcome{
				Kind:    models.OutcomeSyntaxError,
				Message: "model inference timed out",
				Offset:  -1,
			}, nil
		}
		return candidate, models.ValidationOutcome{}, err
	}

	outcome := s.validateCandidate(sqlText)
	if !outcome.OK() || opts.ValidateOnly || s.executor == nil {
		if outcome.OK() {
			log.Debug("candidate validated without execution", zap.Int("attempt", attempt))
		}
		return candidate, outcome, nil
	}
	// Normalization may have stripped a trailing semicolon.
	candidate.SQL = outcomeSQL(candidate.SQL)

	if err := ctx.Err(); err != nil {
		return candidate, models.ValidationOutcome{}, fmt.Errorf("query cancelled before execution: %w", err)
	}

	execResult, err := s.executor.Execute(ctx, candidate.SQL)
	if err != nil {
		var execErr *datasource.ExecutionError
		if errors.As(err, &execErr) {
			offset := -1
			if execErr.Position > 0 {
				offset = execErr.Position
			}
			return candidate, models.ValidationOutcome{
				Kind:    models.OutcomeExecutionError,
				Message: execErr.Message,
				Offset:  offset,
			}, nil
		}
		return candidate, models.ValidationOutcome{}, fmt.Errorf("execute candidate: %w", err)
	}

	return candidate, models.ValidationOutcome{
		Kind:         models.OutcomeSuccess,
		Rows:         execResult.Rows,
		Columns:      execResult.Columns,
		RowsAffected: execResult.RowsAffected,
	}, nil
}

// validateCandidate runs normalization, the structural syntax check, and
// the read-only policy gate. Injection findings on literals are logged but
// do not fail the candidate.
func (s *QueryService) validateCandidate(sqlText string) models.ValidationOutcome {
	normalized := sqlcheck.ValidateAndNormalize(sqlText)
	if normalized.Error != nil {
		return models.ValidationOutcome{
			Kind:    models.OutcomeSyntaxError,
			Message: normalized.Error.Error(),
			Offset:  -1,
		}
	}

	if synErr := sqlcheck.CheckSyntax(normalized.NormalizedSQL, s.dialect); synErr != nil {
		return models.ValidationOutcome{
			Kind:    models.OutcomeSyntaxError,
			Message: synErr.Message,
			Offset:  synErr.Offset,
		}
	}

	if err := sqlcheck.CheckReadOnly(normalized.NormalizedSQL, s.dialect); err != nil {
		return models.ValidationOutcome{
			Kind:    models.OutcomePolicyViolation,
			Message: err.Error(),
			Offset:  -1,
		}
	}

	for _, finding := range sqlcheck.ScanLiterals(normalized.NormalizedSQL) {
		s.logger.Warn("suspicious string literal in generated SQL",
			zap.String("fingerprint", finding.Fingerprint),
			zap.Int("offset", finding.Offset))
	}

	return models.ValidationOutcome{Kind: models.OutcomeSuccess}
}

func (s *QueryService) finish(result *models.QueryResult, history []models.AttemptRecord, opts QueryOptions) {
	if opts.IncludeArtifacts {
		result.History = history
	}
}

func outcomeSQL(sqlText string) string {
	normalized := sqlcheck.ValidateAndNormalize(sqlText)
	if normalized.Error != nil {
		return sqlText
	}
	return normalized.NormalizedSQL
}
