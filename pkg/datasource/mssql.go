package datasource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/config"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/logging"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// MSSQLExtractor extracts schema metadata from SQL Server.
type MSSQLExtractor struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMSSQLExtractor connects to SQL Server and returns an extractor.
func NewMSSQLExtractor(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*MSSQLExtractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", cfg.MSSQLConnectionString())
	if err != nil {
		return nil, NewExtractionError("connect", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, NewExtractionError("connect", err)
	}

	logger.Info("connected to mssql datasource",
		zap.String("conn", logging.SanitizeConnectionString(cfg.MSSQLConnectionString())))

	return &MSSQLExtractor{
		db:     db,
		logger: logger.Named("mssql-extractor"),
	}, nil
}

// Close releases the database handle.
func (e *MSSQLExtractor) Close() error {
	return e.db.Close()
}

// ExtractTables returns metadata for all user tables.
func (e *MSSQLExtractor) ExtractTables(ctx context.Context) ([]models.TableMetadata, error) {
	const tablesQuery = `
	SET NOCOUNT ON;
	SELECT
	    t.name AS table_name,
	    ISNULL(CAST(ep.value AS nvarchar(4000)), '') AS table_comment,
	    ISNULL(SUM(p.rows), 0) AS row_count
	FROM sys.tables t
	LEFT JOIN sys.extended_properties ep
	  ON ep.major_id = t.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE p.index_id IN (0, 1)
	  AND t.is_ms_shipped = 0
	GROUP BY t.name, CAST(ep.value AS nvarchar(4000))
	ORDER BY t.name
	`

	rows, err := e.db.QueryContext(ctx, tablesQuery)
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

func (e *MSSQLExtractor) fillColumns(ctx context.Context, table *models.TableMetadata) error {
	const columnsQuery = `
	SET NOCOUNT ON;
	SELECT
	    c.name,
	    ty.name AS data_type,
	    c.is_nullable,
	    ISNULL(CAST(ep.value AS nvarchar(4000)), '') AS column_comment
	FROM sys.columns c
	INNER JOIN sys.tables t ON c.object_id = t.object_id
	INNER JOIN sys.types ty ON c.user_type_id = ty.user_type_id
	LEFT JOIN sys.extended_properties ep
	  ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description'
	WHERE t.name = @p1
	ORDER BY c.column_id
	`

	rows, err := e.db.QueryContext(ctx, columnsQuery, table.Name)
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

func (e *MSSQLExtractor) fillKeys(ctx context.Context, table *models.TableMetadata) error {
	const pkQuery = `
	SET NOCOUNT ON;
	SELECT c.name
	FROM sys.index_columns ic
	INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	INNER JOIN sys.columns c ON ic.object_id = c.object_id AND ic.column_id = c.column_id
	INNER JOIN sys.tables t ON ic.object_id = t.object_id
	WHERE i.is_primary_key = 1 AND t.name = @p1
	ORDER BY ic.key_ordinal
	`

	rows, err := e.db.QueryContext(ctx, pkQuery, table.Name)
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
	SET NOCOUNT ON;
	SELECT
	    pc.name AS column_name,
	    rt.name AS referenced_table,
	    rc.name AS referenced_column
	FROM sys.foreign_key_columns fkc
	INNER JOIN sys.tables pt ON fkc.parent_object_id = pt.object_id
	INNER JOIN sys.columns pc ON fkc.parent_object_id = pc.object_id AND fkc.parent_column_id = pc.column_id
	INNER JOIN sys.tables rt ON fkc.referenced_object_id = rt.object_id
	INNER JOIN sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id
	WHERE pt.name = @p1
	`

	rows, err = e.db.QueryContext(ctx, fkQuery, table.Name)
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

// MSSQLExecutor runs generated SQL against SQL Server.
type MSSQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
	maxRows int
	logger  *zap.Logger
}

// NewMSSQLExecutor connects to SQL Server and returns an executor.
func NewMSSQLExecutor(ctx context.Context, cfg *config.DatasourceConfig, logger *zap.Logger) (*MSSQLExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", cfg.MSSQLConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to mssql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to mssql: %w", err)
	}

	return &MSSQLExecutor{
		db:      db,
		timeout: time.Duration(cfg.QueryTimeoutSeconds) * time.Second,
		maxRows: cfg.MaxRows,
		logger:  logger.Named("mssql-executor"),
	}, nil
}

// Close releases the database handle.
func (e *MSSQLExecutor) Close() error {
	return e.db.Close()
}

// Execute runs a query with the configured timeout and row cap.
func (e *MSSQLExecutor) Execute(ctx context.Context, query string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.logger.Debug("executing query", zap.String("sql", logging.TruncateQuery(query)))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, e.asExecutionError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, e.asExecutionError(err)
	}

	result := &ExecResult{Columns: columns}
	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
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

func (e *MSSQLExecutor) asExecutionError(err error) error {
	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		return &ExecutionError{
			Message: sqlErr.Message,
			Cause:   err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionError{Message: "query timed out", Cause: err}
	}
	return &ExecutionError{Message: err.Error(), Cause: err}
}
