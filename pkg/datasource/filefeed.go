package datasource

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// FileExtractor reads a structural description feed instead of a live
// connection: a YAML document listing tables, columns, and keys. Useful for
// air-gapped builds and for tests.
type FileExtractor struct {
	path   string
	logger *zap.Logger
}

// schemaFeed is the on-disk shape of a schema description document.
type schemaFeed struct {
	Tables []feedTable `yaml:"tables"`
}

type feedTable struct {
	Name        string       `yaml:"name"`
	Comment     string       `yaml:"comment"`
	Columns     []feedColumn `yaml:"columns"`
	PrimaryKeys []string     `yaml:"primary_keys"`
	ForeignKeys []feedFK     `yaml:"foreign_keys"`
}

type feedColumn struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable"`
	Comment  string `yaml:"comment"`
}

type feedFK struct {
	Column           string `yaml:"column"`
	ReferencedTable  string `yaml:"referenced_table"`
	ReferencedColumn string `yaml:"referenced_column"`
}

// NewFileExtractor creates an extractor over a schema description file.
func NewFileExtractor(path string, logger *zap.Logger) *FileExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileExtractor{
		path:   path,
		logger: logger.Named("file-extractor"),
	}
}

// Close is a no-op; the file is read per extraction.
func (e *FileExtractor) Close() error {
	return nil
}

// ExtractTables parses the feed document into table metadata.
func (e *FileExtractor) ExtractTables(ctx context.Context) ([]models.TableMetadata, error) {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, NewExtractionError("feed", err)
	}

	var feed schemaFeed
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, NewExtractionError("feed", fmt.Errorf("parse %s: %w", e.path, err))
	}
	if len(feed.Tables) == 0 {
		return nil, NewExtractionError("feed", fmt.Errorf("%s contains no tables", e.path))
	}

	now := time.Now()
	tables := make([]models.TableMetadata, 0, len(feed.Tables))
	for _, ft := range feed.Tables {
		if ft.Name == "" {
			return nil, NewExtractionError("feed", fmt.Errorf("table entry without a name"))
		}
		t := models.TableMetadata{
			Name:        ft.Name,
			Comment:     ft.Comment,
			PrimaryKeys: ft.PrimaryKeys,
			ExtractedAt: now,
		}
		for _, fc := range ft.Columns {
			t.Columns = append(t.Columns, models.ColumnMetadata{
				Name:     fc.Name,
				DataType: fc.Type,
				Nullable: fc.Nullable,
				Comment:  fc.Comment,
			})
		}
		for _, fk := range ft.ForeignKeys {
			t.ForeignKeys = append(t.ForeignKeys, models.ForeignKeyRef{
				Column:           fk.Column,
				ReferencedTable:  fk.ReferencedTable,
				ReferencedColumn: fk.ReferencedColumn,
			})
		}
		tables = append(tables, t)
	}

	e.logger.Info("loaded schema feed", zap.String("path", e.path), zap.Int("tables", len(tables)))
	return tables, nil
}

// Ensure implementations satisfy the interfaces at compile time.
var (
	_ SchemaExtractor = (*FileExtractor)(nil)
	_ SchemaExtractor = (*PostgresExtractor)(nil)
	_ SchemaExtractor = (*MSSQLExtractor)(nil)
	_ Executor        = (*PostgresExecutor)(nil)
	_ Executor        = (*MSSQLExecutor)(nil)
)
