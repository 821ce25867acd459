package models

// ScopeGeneral marks a rule that applies to every table.
const ScopeGeneral = "general"

// RuleKind classifies what a business rule defines.
type RuleKind string

const (
	RuleKindTerm        RuleKind = "term"        // Domain vocabulary definition
	RuleKindMetric      RuleKind = "metric"      // Named metric formula, e.g. GMV = SUM(payment_amount)
	RuleKindEnumValue   RuleKind = "enum_value"  // Gloss for an encoded column value
	RuleKindCalculation RuleKind = "calculation" // Reusable SQL expression fragment
)

// BusinessRule is one unit of user-supplied domain knowledge.
// Rules are keyed by (Scope, Kind, Key); a later write with the same key
// overwrites the prior value — no history is retained.
type BusinessRule struct {
	// Scope is ScopeGeneral or a table name.
	Scope string   `json:"scope"`
	Kind  RuleKind `json:"kind"`
	// Key is the term, metric name, or column being defined.
	Key string `json:"key"`
	// Value is a natural-language definition or SQL expression fragment.
	Value string `json:"value"`
}

// RuleKey identifies a rule for overwrite semantics.
type RuleKey struct {
	Scope string
	Kind  RuleKind
	Key   string
}

// Identity returns the overwrite key for this rule.
func (r *BusinessRule) Identity() RuleKey {
	return RuleKey{Scope: r.Scope, Kind: r.Kind, Key: r.Key}
}
