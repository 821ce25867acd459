package models

import "testing"

func TestTableChunkID_Deterministic(t *testing.T) {
	if TableChunkID("orders") != "table_orders" {
		t.Errorf("unexpected id %q", TableChunkID("orders"))
	}
	if TableChunkID("orders") != TableChunkID("orders") {
		t.Error("id must be deterministic")
	}
}

func TestRetrievedContext_TableNames(t *testing.T) {
	ctx := RetrievedContext{
		Chunks: []ScoredChunk{
			{Chunk: KnowledgeChunk{ID: "table_orders", TableName: "orders"}, Score: 0.9},
			{Chunk: KnowledgeChunk{ID: BusinessRulesChunkID}, Score: 0.8},
			{Chunk: KnowledgeChunk{ID: "table_users", TableName: "users"}, Score: 0.7},
		},
	}

	names := ctx.TableNames()
	if len(names) != 2 || names[0] != "orders" || names[1] != "users" {
		t.Errorf("unexpected table names %v", names)
	}
}

func TestRetrievedContext_Contains(t *testing.T) {
	ctx := RetrievedContext{
		Chunks: []ScoredChunk{
			{Chunk: KnowledgeChunk{ID: "table_orders"}},
		},
	}
	if !ctx.Contains("table_orders") {
		t.Error("expected context to contain table_orders")
	}
	if ctx.Contains("table_users") {
		t.Error("did not expect table_users")
	}
}
