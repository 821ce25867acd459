// Package chunker turns extracted table metadata and business rules into
// the text chunks that get embedded into the knowledge base. Chunk ids and
// text are deterministic for a given input so rebuilds are idempotent.
package chunker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/rules"
)

// enumGlossPattern matches value glosses embedded in column comments,
// e.g. "订单状态: 1=已支付, 2=已退款" or "status: 0=inactive, 1=active".
var enumGlossPattern = regexp.MustCompile(`(\w+)\s*=\s*([^,;，；]+)`)

// Chunker renders table metadata into knowledge chunks.
type Chunker struct {
	rules  *rules.Store
	logger *zap.Logger
}

// New creates a chunker backed by the given rule store.
func New(ruleStore *rules.Store, logger *zap.Logger) *Chunker {
	return &Chunker{
		rules:  ruleStore,
		logger: logger.Named("chunker"),
	}
}

// BuildChunks produces one chunk per table plus, when any general rules
// exist, a single consolidated business-rules chunk. Output order follows
// the sorted table names with the business chunk last.
func (c *Chunker) BuildChunks(tables []models.TableMetadata) []models.KnowledgeChunk {
	sorted := make([]models.TableMetadata, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	chunks := make([]models.KnowledgeChunk, 0, len(sorted)+1)
	for _, table := range sorted {
		chunks = append(chunks, c.TableChunk(table))
	}

	if business, ok := c.BusinessChunk(); ok {
		chunks = append(chunks, business)
	}

	c.logger.Debug("built knowledge chunks",
		zap.Int("tables", len(sorted)),
		zap.Int("chunks", len(chunks)))
	return chunks
}

// Rules exposes the backing rule store so callers that add rules at
// runtime can reuse it.
func (c *Chunker) Rules() *rules.Store {
	return c.rules
}

// TableChunk renders the chunk for a single table.
func (c *Chunker) TableChunk(table models.TableMetadata) models.KnowledgeChunk {
	var b strings.Builder

	fmt.Fprintf(&b, "## Table: %s\n", table.Name)
	if table.Comment != "" {
		fmt.Fprintf(&b, "Description: %s\n", table.Comment)
	}
	if table.RowCount > 0 {
		fmt.Fprintf(&b, "Approximate rows: %d\n", table.RowCount)
	}

	b.WriteString("\n```sql\n")
	b.WriteString(renderDDL(table))
	b.WriteString("```\n")

	c.writeColumnNotes(&b, table)
	c.writeEnumGlosses(&b, table)
	c.writeTableRules(&b, table.Name)

	return models.KnowledgeChunk{
		ID:        models.TableChunkID(table.Name),
		TableName: table.Name,
		Text:      b.String(),
		Metadata: map[string]string{
			models.ChunkMetaType:  models.ChunkTypeTable,
			models.ChunkMetaTable: table.Name,
		},
	}
}

// renderDDL emits a CREATE TABLE statement reconstructed from metadata.
// It is documentation for the model, not executable DDL, so vendor details
// like identity clauses are omitted.
func renderDDL(table models.TableMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", table.Name)

	for i, col := range table.Columns {
		fmt.Fprintf(&b, "    %s %s", col.Name, col.DataType)
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(table.Columns)-1 || len(table.PrimaryKeys) > 0 || len(table.ForeignKeys) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	if len(table.PrimaryKeys) > 0 {
		fmt.Fprintf(&b, "    PRIMARY KEY (%s)", strings.Join(table.PrimaryKeys, ", "))
		if len(table.ForeignKeys) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	for i, fk := range table.ForeignKeys {
		fmt.Fprintf(&b, "    FOREIGN KEY (%s) REFERENCES %s(%s)",
			fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		if i < len(table.ForeignKeys)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	b.WriteString(");\n")
	return b.String()
}

func (c *Chunker) writeColumnNotes(b *strings.Builder, table models.TableMetadata) {
	var notes []string
	for _, col := range table.Columns {
		if col.Comment == "" {
			continue
		}
		notes = append(notes, fmt.Sprintf("- %s: %s", col.Name, col.Comment))
	}
	if len(notes) == 0 {
		return
	}
	b.WriteString("\nColumns:\n")
	for _, note := range notes {
		b.WriteString(note)
		b.WriteString("\n")
	}
}

// writeEnumGlosses extracts value glosses from column comments so the model
// can map business terms like "已支付" to literal values in predicates.
func (c *Chunker) writeEnumGlosses(b *strings.Builder, table models.TableMetadata) {
	var lines []string
	for _, col := range table.Columns {
		glosses := ParseEnumGlosses(col.Comment)
		if len(glosses) == 0 {
			continue
		}
		var pairs []string
		for _, g := range glosses {
			pairs = append(pairs, fmt.Sprintf("%s means %s", g.Value, g.Gloss))
		}
		lines = append(lines, fmt.Sprintf("- %s.%s: %s", table.Name, col.Name, strings.Join(pairs, "; ")))
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("\nEnum values:\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (c *Chunker) writeTableRules(b *strings.Builder, table string) {
	if c.rules == nil {
		return
	}
	scoped := c.rules.ForTable(table)
	if len(scoped) == 0 {
		return
	}
	b.WriteString("\nBusiness terms:\n")
	for _, rule := range scoped {
		fmt.Fprintf(b, "- %s: %s\n", rule.Key, rule.Value)
	}
}

// BusinessChunk renders all general-scope rules into one chunk. The
// second return is false when there are no general rules to publish.
func (c *Chunker) BusinessChunk() (models.KnowledgeChunk, bool) {
	if c.rules == nil {
		return models.KnowledgeChunk{}, false
	}
	general := c.rules.General()
	if len(general) == 0 {
		return models.KnowledgeChunk{}, false
	}

	var b strings.Builder
	b.WriteString("## Business Rules\n")

	writeSection := func(title string, kind models.RuleKind) {
		var lines []string
		for _, rule := range general {
			if rule.Kind == kind {
				lines = append(lines, fmt.Sprintf("- %s: %s", rule.Key, rule.Value))
			}
		}
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s:\n", title)
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	writeSection("Terms", models.RuleKindTerm)
	writeSection("Metrics", models.RuleKindMetric)
	writeSection("Calculations", models.RuleKindCalculation)
	writeSection("Enum values", models.RuleKindEnumValue)

	return models.KnowledgeChunk{
		ID:   models.BusinessRulesChunkID,
		Text: b.String(),
		Metadata: map[string]string{
			models.ChunkMetaType: models.ChunkTypeBusiness,
		},
	}, true
}

// EnumGloss is one value-to-meaning pair parsed from a column comment.
type EnumGloss struct {
	Value string
	Gloss string
}

// ParseEnumGlosses pulls "value=gloss" pairs out of a column comment.
// Comments without such pairs yield nil.
func ParseEnumGlosses(comment string) []EnumGloss {
	if comment == "" || !strings.Contains(comment, "=") {
		return nil
	}
	matches := enumGlossPattern.FindAllStringSubmatch(comment, -1)
	if len(matches) == 0 {
		return nil
	}
	glosses := make([]EnumGloss, 0, len(matches))
	for _, m := range matches {
		glosses = append(glosses, EnumGloss{
			Value: strings.TrimSpace(m[1]),
			Gloss: strings.TrimSpace(m[2]),
		})
	}
	return glosses
}
