package models

// Chunk metadata keys used for vector store filtering.
const (
	ChunkMetaType  = "type"
	ChunkMetaTable = "table_name"
)

// Chunk type values stored under ChunkMetaType.
const (
	ChunkTypeTable    = "table"
	ChunkTypeBusiness = "business"
)

// TableChunkID returns the deterministic chunk id for a table document.
// Stable ids make rebuilds update in place instead of duplicating.
func TableChunkID(table string) string {
	return "table_" + table
}

// BusinessRulesChunkID is the id of the cross-table business rules document.
const BusinessRulesChunkID = "business_rules"

// KnowledgeChunk is one self-contained retrievable document: a chunk of
// schema/business knowledge about one table, or about cross-table rules.
// The Text must carry enough context for a model that sees only this chunk
// to reference the table correctly in SQL.
type KnowledgeChunk struct {
	ID string `json:"id"`
	// TableName is empty for cross-table chunks.
	TableName string            `json:"table_name,omitempty"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk pairs a chunk with its retrieval relevance.
type ScoredChunk struct {
	Chunk KnowledgeChunk `json:"chunk"`
	Score float64        `json:"score"`
	// Pinned marks chunks force-included because the question named their
	// table explicitly; pinned chunks rank first and survive prompt trimming.
	Pinned bool `json:"pinned,omitempty"`
}

// RetrievedContext is the ordered, id-deduplicated retrieval result for one
// question, capped at the configured top-k.
type RetrievedContext struct {
	Question string        `json:"question"`
	Chunks   []ScoredChunk `json:"chunks"`
}

// TableNames lists the distinct tables represented in the context, in rank
// order.
func (c *RetrievedContext) TableNames() []string {
	seen := make(map[string]bool, len(c.Chunks))
	var names []string
	for _, sc := range c.Chunks {
		name := sc.Chunk.TableName
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Contains reports whether a chunk with the given id is in the context.
func (c *RetrievedContext) Contains(id string) bool {
	for _, sc := range c.Chunks {
		if sc.Chunk.ID == id {
			return true
		}
	}
	return false
}
