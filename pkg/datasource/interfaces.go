// Package datasource provides metadata extraction and read-only SQL execution
// against the target database.
package datasource

import (
	"context"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// SchemaExtractor yields structural snapshots of the target database.
// Implementations exist for live PostgreSQL and SQL Server connections and
// for a file-backed schema description feed.
// Each implementation owns its connection and must be closed when done.
type SchemaExtractor interface {
	// ExtractTables returns metadata for all user tables.
	ExtractTables(ctx context.Context) ([]models.TableMetadata, error)

	// Close releases the underlying connection.
	Close() error
}

// Executor runs generated SQL against the target database.
// Callers are responsible for enforcing the read-only policy before calling
// Execute; the executor additionally bounds result size and duration.
type Executor interface {
	// Execute runs a query and returns bounded results. Engine failures are
	// returned as *ExecutionError so the repair loop can classify them.
	Execute(ctx context.Context, query string) (*ExecResult, error)

	// Close releases the underlying connection.
	Close() error
}

// ExecResult contains the results of a SQL query execution.
type ExecResult struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
	Truncated    bool             `json:"truncated"`
}
