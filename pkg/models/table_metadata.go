package models

import "time"

// TableMetadata is an immutable structural snapshot of one table, produced per
// extraction run. A later extraction supersedes (never merges into) an
// earlier one.
type TableMetadata struct {
	Name        string           `json:"name"`
	Comment     string           `json:"comment,omitempty"`
	Columns     []ColumnMetadata `json:"columns"`
	PrimaryKeys []string         `json:"primary_keys,omitempty"`
	ForeignKeys []ForeignKeyRef  `json:"foreign_keys,omitempty"`
	RowCount    int64            `json:"row_count,omitempty"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

// ColumnMetadata describes one column in declaration order.
type ColumnMetadata struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
	Comment  string `json:"comment,omitempty"`
}

// ForeignKeyRef describes a foreign key from one column of this table to a
// referenced table/column.
type ForeignKeyRef struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Column returns the column with the given name, or nil.
func (t *TableMetadata) Column(name string) *ColumnMetadata {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// IsPrimaryKey reports whether the named column is part of the primary key.
func (t *TableMetadata) IsPrimaryKey(column string) bool {
	for _, pk := range t.PrimaryKeys {
		if pk == column {
			return true
		}
	}
	return false
}

// ForeignKeyFor returns the FK originating at the named column, or nil.
func (t *TableMetadata) ForeignKeyFor(column string) *ForeignKeyRef {
	for i := range t.ForeignKeys {
		if t.ForeignKeys[i].Column == column {
			return &t.ForeignKeys[i]
		}
	}
	return nil
}
