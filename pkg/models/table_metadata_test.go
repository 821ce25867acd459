package models

import "testing"

func sampleTable() TableMetadata {
	return TableMetadata{
		Name:    "orders",
		Comment: "订单表",
		Columns: []ColumnMetadata{
			{Name: "id", DataType: "bigint", Nullable: false},
			{Name: "user_id", DataType: "bigint", Nullable: false},
			{Name: "payment_amount", DataType: "numeric(10,2)", Nullable: true},
		},
		PrimaryKeys: []string{"id"},
		ForeignKeys: []ForeignKeyRef{
			{Column: "user_id", ReferencedTable: "users", ReferencedColumn: "id"},
		},
	}
}

func TestTableMetadata_Column(t *testing.T) {
	tbl := sampleTable()

	col := tbl.Column("payment_amount")
	if col == nil {
		t.Fatal("expected column, got nil")
	}
	if col.DataType != "numeric(10,2)" {
		t.Errorf("unexpected data type %q", col.DataType)
	}

	if tbl.Column("missing") != nil {
		t.Error("expected nil for unknown column")
	}
}

func TestTableMetadata_IsPrimaryKey(t *testing.T) {
	tbl := sampleTable()
	if !tbl.IsPrimaryKey("id") {
		t.Error("id should be a primary key")
	}
	if tbl.IsPrimaryKey("user_id") {
		t.Error("user_id should not be a primary key")
	}
}

func TestTableMetadata_ForeignKeyFor(t *testing.T) {
	tbl := sampleTable()

	fk := tbl.ForeignKeyFor("user_id")
	if fk == nil {
		t.Fatal("expected foreign key, got nil")
	}
	if fk.ReferencedTable != "users" || fk.ReferencedColumn != "id" {
		t.Errorf("unexpected reference %s.%s", fk.ReferencedTable, fk.ReferencedColumn)
	}

	if tbl.ForeignKeyFor("id") != nil {
		t.Error("expected nil for non-FK column")
	}
}
