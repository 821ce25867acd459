package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/analyzer"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/chunker"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/datasource"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/embedding"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/generator"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/llm"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/prompts"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/retriever"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/rules"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/vectorstore"
)

// fakeExtractor serves a fixed schema.
type fakeExtractor struct {
	tables []models.TableMetadata
	err    error
}

func (f *fakeExtractor) ExtractTables(context.Context) ([]models.TableMetadata, error) {
	return f.tables, f.err
}

func (f *fakeExtractor) Close() error { return nil }

// fakeExecutor scripts per-statement outcomes.
type fakeExecutor struct {
	results  map[string]*datasource.ExecResult
	errs     map[string]error
	executed []string
}

func (f *fakeExecutor) Execute(_ context.Context, query string) (*datasource.ExecResult, error) {
	f.executed = append(f.executed, query)
	if err, ok := f.errs[query]; ok {
		return nil, err
	}
	if res, ok := f.results[query]; ok {
		return res, nil
	}
	return &datasource.ExecResult{Columns: []string{"n"}, Rows: []map[string]any{{"n": 1}}}, nil
}

func (f *fakeExecutor) Close() error { return nil }

// hashEmbedding gives every distinct text a deterministic nonzero vector.
func hashEmbedding(text string) []float32 {
	var a, b, c float32 = 1, 1, 1
	for i, r := range text {
		switch i % 3 {
		case 0:
			a += float32(r % 13)
		case 1:
			b += float32(r % 7)
		case 2:
			c += float32(r % 5)
		}
	}
	return []float32{a, b, c}
}

func embedderForTests(embedErr error) embedding.Embedder {
	mock := &llm.MockClient{
		CreateEmbeddingFunc: func(_ context.Context, input, _ string) ([]float32, error) {
			if embedErr != nil {
				return nil, embedErr
			}
			return hashEmbedding(input), nil
		},
		CreateEmbeddingsFunc: func(_ context.Context, inputs []string, _ string) ([][]float32, error) {
			if embedErr != nil {
				return nil, embedErr
			}
			out := make([][]float32, len(inputs))
			for i, in := range inputs {
				out[i] = hashEmbedding(in)
			}
			return out, nil
		},
	}
	return embedding.New(mock, "test-embed", 1, zap.NewNop())
}

func schemaFixture() []models.TableMetadata {
	return []models.TableMetadata{
		{
			Name:    "orders",
			Comment: "订单",
			Columns: []models.ColumnMetadata{
				{Name: "id", DataType: "bigint"},
				{Name: "amount", DataType: "numeric"},
				{Name: "status", DataType: "smallint", Comment: "状态: 1=已支付, 2=已退款"},
			},
			PrimaryKeys: []string{"id"},
		},
		{
			Name: "users",
			Columns: []models.ColumnMetadata{
				{Name: "id", DataType: "bigint"},
				{Name: "name", DataType: "text"},
			},
			PrimaryKeys: []string{"id"},
		},
	}
}

func newKnowledgeService(t *testing.T, extractor datasource.SchemaExtractor, embedErr error) (*KnowledgeService, *vectorstore.MemoryStore) {
	t.Helper()
	store := vectorstore.NewMemoryStore(zap.NewNop())
	ruleStore := rules.NewStore()
	require.NoError(t, ruleStore.LoadYAML([]byte(`
general_terms:
  "GMV": "商品交易总额"
`)))
	svc := NewKnowledgeService(
		extractor,
		chunker.New(ruleStore, zap.NewNop()),
		embedderForTests(embedErr),
		store,
		zap.NewNop(),
	)
	return svc, store
}

func TestBuildPublishesAllChunks(t *testing.T) {
	ctx := context.Background()
	svc, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)

	stats, err := svc.Build(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Tables)
	assert.Equal(t, 3, stats.Chunks, "two tables plus the business rules chunk")
	assert.False(t, stats.Skipped)

	all, err := store.All(ctx)
	require.NoError(t, err)
	for _, chunk := range all {
		assert.NotEmpty(t, chunk.Embedding, "published chunk %q must be embedded", chunk.ID)
	}
}

func TestBuildSkipsWhenAlreadyBuilt(t *testing.T) {
	ctx := context.Background()
	svc, _ := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)

	_, err := svc.Build(ctx, false)
	require.NoError(t, err)

	stats, err := svc.Build(ctx, false)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
}

func TestRebuildIsIdempotentAndRemovesStaleTables(t *testing.T) {
	ctx := context.Background()
	extractor := &fakeExtractor{tables: schemaFixture()}
	svc, store := newKnowledgeService(t, extractor, nil)

	_, err := svc.Build(ctx, false)
	require.NoError(t, err)

	// Same schema again: same chunk count, nothing removed.
	stats, err := svc.Build(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 0, stats.Removed)

	// Drop the users table from the source: its chunk must disappear.
	extractor.tables = schemaFixture()[:1]
	stats, err = svc.Build(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	_, ok, err := store.Get(ctx, "table_users")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuildFailureLeavesStoreIntact(t *testing.T) {
	ctx := context.Background()
	svc, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := svc.Build(ctx, false)
	require.NoError(t, err)
	before, err := store.All(ctx)
	require.NoError(t, err)

	// Rebuild with a failing embedder: nothing may change.
	failing, _ := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, errors.New("embedding down"))
	failingSvc := NewKnowledgeService(
		&fakeExtractor{tables: schemaFixture()},
		failing.chunker,
		embedderForTests(errors.New("embedding down")),
		store,
		zap.NewNop(),
	)
	_, err = failingSvc.Build(ctx, true)
	require.Error(t, err)

	after, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed build must not touch the published knowledge base")
}

func TestBuildExtractionError(t *testing.T) {
	svc, _ := newKnowledgeService(t, &fakeExtractor{err: errors.New("connection refused")}, nil)
	_, err := svc.Build(context.Background(), false)
	assert.ErrorContains(t, err, "extract schema")
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := svc.Build(ctx, false)
	require.NoError(t, err)

	exported, err := svc.Export(ctx)
	require.NoError(t, err)
	require.Len(t, exported, 3)

	fresh, _ := newKnowledgeService(t, &fakeExtractor{}, nil)
	require.NoError(t, fresh.Import(ctx, exported))

	stats, err := fresh.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks)
	assert.ElementsMatch(t, []string{"orders", "users"}, stats.Tables)

	// Chunks without embeddings are rejected.
	err = fresh.Import(ctx, []models.KnowledgeChunk{{ID: "table_x", Text: "x"}})
	assert.ErrorContains(t, err, "no embedding")
}

// A rule added after the build must be retrievable without rebuilding.
func TestAddRuleRepublishesBusinessChunk(t *testing.T) {
	ctx := context.Background()
	svc, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := svc.Build(ctx, false)
	require.NoError(t, err)

	before, found, err := store.Get(ctx, models.BusinessRulesChunkID)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, svc.AddRule(ctx, models.BusinessRule{
		Scope: models.ScopeGeneral,
		Kind:  models.RuleKindMetric,
		Key:   "客单价",
		Value: "SUM(amount) / COUNT(DISTINCT id)",
	}))

	after, found, err := store.Get(ctx, models.BusinessRulesChunkID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, after.Text, "客单价")
	assert.Contains(t, after.Text, "SUM(amount) / COUNT(DISTINCT id)")
	assert.NotEqual(t, before.Text, after.Text)
	assert.NotEmpty(t, after.Embedding, "republished chunk must be re-embedded")
}

func TestAddRuleTableScopeUpdatesTableChunk(t *testing.T) {
	ctx := context.Background()
	svc, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := svc.Build(ctx, false)
	require.NoError(t, err)

	require.NoError(t, svc.AddRule(ctx, models.BusinessRule{
		Scope: "orders",
		Kind:  models.RuleKindTerm,
		Key:   "有效订单",
		Value: "status = 1 的订单",
	}))

	chunk, found, err := store.Get(ctx, models.TableChunkID("orders"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, chunk.Text, "有效订单")
}

func TestAddRuleValidation(t *testing.T) {
	svc, _ := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)

	err := svc.AddRule(context.Background(), models.BusinessRule{Kind: models.RuleKindTerm})
	assert.ErrorContains(t, err, "key and value are required")
}

func TestAddRuleBeforeBuildIsDeferred(t *testing.T) {
	ctx := context.Background()
	svc, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)

	require.NoError(t, svc.AddRule(ctx, models.BusinessRule{
		Scope: models.ScopeGeneral, Kind: models.RuleKindTerm, Key: "新客", Value: "首次下单的用户",
	}))
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "no chunk published before the first build")

	// The next build picks the rule up.
	_, err = svc.Build(ctx, false)
	require.NoError(t, err)
	chunk, found, err := store.Get(ctx, models.BusinessRulesChunkID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, chunk.Text, "新客")
}

// newQueryService builds the full online pipeline over an already-built
// knowledge base. responses scripts the generation client call by call.
func newQueryService(t *testing.T, responses []string, executor datasource.Executor, maxAttempts int) (*QueryService, *llm.MockClient) {
	t.Helper()
	ctx := context.Background()

	knowledge, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := knowledge.Build(ctx, false)
	require.NoError(t, err)

	call := 0
	genMock := &llm.MockClient{
		GenerateResponseFunc: func(context.Context, string, string, float64, int) (string, error) {
			if call >= len(responses) {
				return "", fmt.Errorf("unexpected generation call %d", call+1)
			}
			resp := responses[call]
			call++
			return resp, nil
		},
	}

	ruleStore := rules.NewStore()
	svc := NewQueryService(
		knowledge,
		analyzer.New(ruleStore, zap.NewNop()),
		retriever.New(embedderForTests(nil), store, 5, 0.0, zap.NewNop()),
		prompts.New("postgres", 12000, zap.NewNop()),
		generator.New(genMock, 0.1, 1024, 0, zap.NewNop()),
		executor,
		"postgres",
		maxAttempts,
		zap.NewNop(),
	)
	return svc, genMock
}

func fenced(sql string) string {
	return "```sql\n" + sql + "\n```"
}

func TestQuerySucceedsFirstAttempt(t *testing.T) {
	executor := &fakeExecutor{
		results: map[string]*datasource.ExecResult{
			"SELECT COUNT(*) FROM orders": {
				Columns: []string{"count"},
				Rows:    []map[string]any{{"count": 42}},
			},
		},
	}
	svc, mock := newQueryService(t, []string{fenced("SELECT COUNT(*) FROM orders;")}, executor, 3)

	result, err := svc.Query(context.Background(), "how many orders are there", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "SELECT COUNT(*) FROM orders", result.SQL)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, []map[string]any{{"count": 42}}, result.Rows)
	assert.Equal(t, 1, mock.GenerateResponseCalls)
}

func TestQueryRepairsAfterExecutionError(t *testing.T) {
	executor := &fakeExecutor{
		errs: map[string]error{
			"SELECT amont FROM orders": &datasource.ExecutionError{
				Message:  `column "amont" does not exist`,
				Position: 8,
			},
		},
	}
	svc, mock := newQueryService(t, []string{
		fenced("SELECT amont FROM orders"),
		fenced("SELECT amount FROM orders"),
	}, executor, 3)

	result, err := svc.Query(context.Background(), "order amounts", QueryOptions{IncludeArtifacts: true})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, "SELECT amount FROM orders", result.SQL)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, mock.GenerateResponseCalls)

	// The repair prompt embeds the failed SQL and the engine diagnostic.
	require.Len(t, mock.Prompts, 2)
	assert.Contains(t, mock.Prompts[1], "SELECT amont FROM orders")
	assert.Contains(t, mock.Prompts[1], `column "amont" does not exist`)

	require.Len(t, result.History, 2)
	assert.Equal(t, models.OutcomeExecutionError, result.History[0].Outcome.Kind)
	assert.Equal(t, models.OutcomeSuccess, result.History[1].Outcome.Kind)
}

func TestQueryRepairsAfterSyntaxError(t *testing.T) {
	svc, mock := newQueryService(t, []string{
		fenced("SELECT * FROM (SELECT 1"),
		fenced("SELECT * FROM orders"),
	}, &fakeExecutor{}, 3)

	result, err := svc.Query(context.Background(), "list orders", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Contains(t, mock.Prompts[1], "unclosed parenthesis")
}

// The loop must terminate at maxAttempts and still surface the last
// candidate with its failure.
func TestQueryExhaustsAttempts(t *testing.T) {
	executor := &fakeExecutor{
		errs: map[string]error{
			"SELECT bad FROM orders": &datasource.ExecutionError{Message: "column does not exist", Position: -1},
		},
	}
	svc, mock := newQueryService(t, []string{
		fenced("SELECT bad FROM orders"),
		fenced("SELECT bad FROM orders"),
		fenced("SELECT bad FROM orders"),
	}, executor, 3)

	result, err := svc.Query(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "exhausted 3 attempts")
	require.NotNil(t, result, "exhausted runs still return the last candidate")
	assert.Equal(t, "SELECT bad FROM orders", result.SQL)
	assert.Equal(t, models.OutcomeExecutionError, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, mock.GenerateResponseCalls, "no generation past the attempt budget")
}

// A write statement stops the loop immediately and never reaches the
// database.
func TestQueryRejectsWriteStatement(t *testing.T) {
	executor := &fakeExecutor{}
	svc, mock := newQueryService(t, []string{fenced("DELETE FROM orders")}, executor, 3)

	result, err := svc.Query(context.Background(), "remove all orders", QueryOptions{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "read-only policy")
	require.NotNil(t, result)
	assert.Equal(t, models.OutcomePolicyViolation, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, executor.executed, "rejected statement must not execute")
	assert.Equal(t, 1, mock.GenerateResponseCalls, "policy violations are not retried")
}

func TestQueryUnparseableOutputIsRetried(t *testing.T) {
	svc, _ := newQueryService(t, []string{
		"I cannot answer that.",
		fenced("SELECT 1"),
	}, &fakeExecutor{}, 3)

	result, err := svc.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
}

func TestQueryValidateOnlySkipsExecution(t *testing.T) {
	executor := &fakeExecutor{}
	svc, _ := newQueryService(t, []string{fenced("SELECT * FROM orders")}, executor, 3)

	result, err := svc.Query(context.Background(), "q", QueryOptions{ValidateOnly: true})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Empty(t, result.Rows)
	assert.Empty(t, executor.executed)
}

func TestQueryTransportErrorIsFatal(t *testing.T) {
	knowledge, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := knowledge.Build(context.Background(), false)
	require.NoError(t, err)

	genMock := &llm.MockClient{
		GenerateResponseFunc: func(context.Context, string, string, float64, int) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	svc := NewQueryService(
		knowledge,
		analyzer.New(rules.NewStore(), zap.NewNop()),
		retriever.New(embedderForTests(nil), store, 5, 0.0, zap.NewNop()),
		prompts.New("postgres", 0, zap.NewNop()),
		generator.New(genMock, 0.1, 1024, 0, zap.NewNop()),
		nil,
		"postgres",
		3,
		zap.NewNop(),
	)

	result, err := svc.Query(context.Background(), "q", QueryOptions{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, genMock.GenerateResponseCalls, "transport failures are not retried by the repair loop")
}

// An inference timeout is a failed attempt, not a fatal error: the loop
// retries while budget remains.
func TestQueryInferenceTimeoutConsumesAttempt(t *testing.T) {
	knowledge, store := newKnowledgeService(t, &fakeExtractor{tables: schemaFixture()}, nil)
	_, err := knowledge.Build(context.Background(), false)
	require.NoError(t, err)

	call := 0
	genMock := &llm.MockClient{
		GenerateResponseFunc: func(context.Context, string, string, float64, int) (string, error) {
			call++
			if call == 1 {
				return "", fmt.Errorf("chat completion: %w", context.DeadlineExceeded)
			}
			return fenced("SELECT 1"), nil
		},
	}
	svc := NewQueryService(
		knowledge,
		analyzer.New(rules.NewStore(), zap.NewNop()),
		retriever.New(embedderForTests(nil), store, 5, 0.0, zap.NewNop()),
		prompts.New("postgres", 0, zap.NewNop()),
		generator.New(genMock, 0.1, 1024, 0, zap.NewNop()),
		&fakeExecutor{},
		"postgres",
		3,
		zap.NewNop(),
	)

	result, err := svc.Query(context.Background(), "q", QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, genMock.GenerateResponseCalls)
}

func TestQueryPinsNamedTable(t *testing.T) {
	svc, mock := newQueryService(t, []string{fenced("SELECT * FROM users")}, &fakeExecutor{}, 3)

	result, err := svc.Query(context.Background(), "list all users", QueryOptions{IncludeArtifacts: true})
	require.NoError(t, err)
	require.NotNil(t, result.Retrieved)
	assert.True(t, result.Retrieved.Contains("table_users"))

	require.NotEmpty(t, mock.Prompts)
	assert.Contains(t, mock.Prompts[0], "CREATE TABLE users")
}

// scenarioPipeline wires the full offline+online pipeline over a given
// schema and rules document, with a scripted generation client.
func scenarioPipeline(t *testing.T, tables []models.TableMetadata, rulesYAML string, responses []string, executor datasource.Executor) (*QueryService, *llm.MockClient) {
	t.Helper()
	ctx := context.Background()

	ruleStore := rules.NewStore()
	if rulesYAML != "" {
		require.NoError(t, ruleStore.LoadYAML([]byte(rulesYAML)))
	}

	store := vectorstore.NewMemoryStore(zap.NewNop())
	knowledge := NewKnowledgeService(
		&fakeExtractor{tables: tables},
		chunker.New(ruleStore, zap.NewNop()),
		embedderForTests(nil),
		store,
		zap.NewNop(),
	)
	_, err := knowledge.Build(ctx, false)
	require.NoError(t, err)

	call := 0
	genMock := &llm.MockClient{
		GenerateResponseFunc: func(context.Context, string, string, float64, int) (string, error) {
			if call >= len(responses) {
				return "", fmt.Errorf("unexpected generation call %d", call+1)
			}
			resp := responses[call]
			call++
			return resp, nil
		},
	}

	svc := NewQueryService(
		knowledge,
		analyzer.New(ruleStore, zap.NewNop()),
		retriever.New(embedderForTests(nil), store, 5, 0.0, zap.NewNop()),
		prompts.New("postgres", 12000, zap.NewNop()),
		generator.New(genMock, 0.1, 1024, 0, zap.NewNop()),
		executor,
		"postgres",
		3,
		zap.NewNop(),
	)
	return svc, genMock
}

func TestQueryCountPerUserScenario(t *testing.T) {
	tables := []models.TableMetadata{
		{
			Name:    "orders",
			Comment: "订单表",
			Columns: []models.ColumnMetadata{
				{Name: "id", DataType: "bigint"},
				{Name: "user_id", DataType: "bigint"},
				{Name: "payment_amount", DataType: "numeric"},
				{Name: "order_status", DataType: "smallint"},
			},
			PrimaryKeys: []string{"id"},
		},
	}
	svc, mock := scenarioPipeline(t, tables, "", []string{
		fenced("SELECT user_id, COUNT(*) FROM orders GROUP BY user_id"),
	}, &fakeExecutor{})

	result, err := svc.Query(context.Background(), "统计每个用户的订单数量", QueryOptions{IncludeArtifacts: true})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)

	require.NotNil(t, result.Retrieved)
	assert.True(t, result.Retrieved.Contains(models.TableChunkID("orders")))

	require.NotEmpty(t, mock.Prompts)
	assert.Contains(t, mock.Prompts[0], "订单表")
	assert.Contains(t, mock.Prompts[0], "CREATE TABLE orders")

	assert.Contains(t, result.SQL, "COUNT")
	assert.Contains(t, result.SQL, "GROUP BY user_id")
}

func TestQueryMetricRuleScenario(t *testing.T) {
	tables := []models.TableMetadata{
		{
			Name: "orders",
			Columns: []models.ColumnMetadata{
				{Name: "id", DataType: "bigint"},
				{Name: "payment_amount", DataType: "numeric"},
				{Name: "created_at", DataType: "timestamptz"},
			},
			PrimaryKeys: []string{"id"},
		},
	}
	rulesYAML := `
metrics:
  "GMV": "SUM(payment_amount)"
`
	svc, mock := scenarioPipeline(t, tables, rulesYAML, []string{
		fenced("SELECT SUM(payment_amount) FROM orders WHERE created_at >= date_trunc('month', now())"),
	}, &fakeExecutor{})

	result, err := svc.Query(context.Background(), "本月GMV是多少", QueryOptions{IncludeArtifacts: true})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)

	// The metric definition must reach the model through the prompt so the
	// generated expression can use it.
	require.NotEmpty(t, mock.Prompts)
	assert.Contains(t, mock.Prompts[0], "GMV")
	assert.Contains(t, mock.Prompts[0], "SUM(payment_amount)")

	require.NotNil(t, result.Intent)
	assert.NotNil(t, result.Intent.TimeRange, "本月 should resolve to a concrete time range")
	assert.Contains(t, result.SQL, "SUM(payment_amount)")
}

func TestValidateStandalone(t *testing.T) {
	svc, _ := newQueryService(t, nil, nil, 1)

	outcome := svc.Validate("SELECT 1;")
	assert.Equal(t, models.OutcomeSuccess, outcome.Kind)

	outcome = svc.Validate("SELECT * FROM (")
	assert.Equal(t, models.OutcomeSyntaxError, outcome.Kind)
	assert.Equal(t, 14, outcome.Offset)

	outcome = svc.Validate("DROP TABLE orders")
	assert.Equal(t, models.OutcomePolicyViolation, outcome.Kind)
}
