package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/config"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/logging"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// PostgresExtractor extracts schema metadata from a PostgreSQL database.
type PostgresExtractor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresExtractor connects to PostgreSQL and returns an extractor.
// If logger is nil, a no-op logger is used.
func NewPostgresExtractor(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*PostgresExtractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, NewExtractionError("connect", err)
	}

	logger.Info("connected to postgres datasource",
		zap.String("conn", logging.SanitizeConnectionString(cfg.ConnectionString())))

	return &PostgresExtractor{
		pool:   pool,
		logger: logger.Named("pg-extractor"),
	}, nil
}

// Close releases the connection pool.
func (e *PostgresExtractor) Close() error {
	e.pool.Close()
	return nil
}

// ExtractTables returns metadata for all user tables, excluding system
// schemas.
func (e *PostgresExtractor) ExtractTables(ctx context.Context) ([]models.TableMetadata, error) {
	const tablesQuery = `
		SELECT
			t.table_name,
			COALESCE(obj_description(c.oid, 'pg_class'), '') AS table_comment,
			COALESCE(c.reltuples::bigint, 0) AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_class c ON c.relname = t.table_name
		LEFT JOIN pg_namespace n ON n.oid = c.relnamespace AND n.nspname = t.table_schema
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY t.table_name
	`

	rows, err := e.pool.Query(ctx, tablesQuery)
	if err != nil {
		return nil, NewExtractionError("tables", err)
	}
	defer rows.Close()

	now := time.Now()
	var tables []models.TableMetadata
	for rows.Next() {
		var t models.TableMetadata
		if err := rows.Scan(&t.Name, &t.Comment, &t.RowCount); err != nil {
			return nil, NewExtractionError("tables", err)
		}
		t.ExtractedAt = now
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, NewExtractionError("tables", err)
	}

	for i := range tables {
		if err := e.fillColumns(ctx, &tables[i]); err != nil {
			return nil, err
		}
		if err := e.fillKeys(ctx, &tables[i]); err != nil {
			return nil, err
		}
	}

	e.logger.Info("extracted schema metadata", zap.Int("tables", len(tables)))
	return tables, nil
}

func (e *PostgresExtractor) fillColumns(ctx context.Context, table *models.TableMetadata) error {
	const columnsQuery = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			COALESCE(col_description(pc.oid, c.ordinal_position), '')
		FROM information_schema.columns c
		LEFT JOIN pg_class pc ON pc.relname = c.table_name
		LEFT JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
		WHERE c.table_name = $1
		  AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY c.ordinal_position
	`

	rows, err := e.pool.Query(ctx, columnsQuery, table.Name)
	if err != nil {
		return NewExtractionError("columns", err)
	}
	defer rows.Close()

	for rows.Next() {
		var col models.ColumnMetadata
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.Comment); err != nil {
			return NewExtractionError("columns", err)
		}
		table.Columns = append(table.Columns, col)
	}
	return rows.Err()
}

func (e *PostgresExtractor) fillKeys(ctx context.Context, table *models.TableMetadata) error {
	const pkQuery = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_name = $1
		ORDER BY kcu.ordinal_position
	`

	rows, err := e.pool.Query(ctx, pkQuery, table.Name)
	if err != nil {
		return NewExtractionError("keys", err)
	}
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			rows.Close()
			return NewExtractionError("keys", err)
		}
		table.PrimaryKeys = append(table.PrimaryKeys, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return NewExtractionError("keys", err)
	}

	const fkQuery = `
		SELECT
			kcu.column_name,
			ccu.table_name AS referenced_table,
			ccu.column_name AS referenced_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_name = $1
	`

	rows, err = e.pool.Query(ctx, fkQuery, table.Name)
	if err != nil {
		return NewExtractionError("keys", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fk models.ForeignKeyRef
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return NewExtractionError("keys", err)
		}
		table.ForeignKeys = append(table.ForeignKeys, fk)
	}
	return rows.Err()
}

// PostgresExecutor runs generated SQL against PostgreSQL.
type PostgresExecutor struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	maxRows int
	logger  *zap.Logger
}

// NewPostgresExecutor connects to PostgreSQL and returns an executor.
func NewPostgresExecutor(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*PostgresExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &PostgresExecutor{
		pool:    pool,
		timeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		maxRows: cfg.MaxRows,
		logger:  logger.Named("pg-executor"),
	}, nil
}

// Close releases the connection pool.
func (e *PostgresExecutor) Close() error {
	e.pool.Close()
	return nil
}

// Execute runs a query with the configured timeout and row cap.
// Engine failures come back as *ExecutionError with the reported position
// when PostgreSQL supplies one.
func (e *PostgresExecutor) Execute(ctx context.Context, query string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("executing query", zap.String("sql", logging.TruncateQuery(query)))

	rows, err := e.pool.Query(ctx, query)
	if err != nil {
		return nil, e.asExecutionError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &ExecResult{Columns: columns}
	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, e.asExecutionError(err)
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, e.asExecutionError(err)
	}

	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}

func (e *PostgresExecutor) asExecutionError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &ExecutionError{
			Message:  pgErr.Message,
			Position: int(pgErr.Position),
			Cause:    err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionError{Message: "query timed out", Cause: err}
	}
	return &ExecutionError{Message: err.Error(), Cause: err}
}
