// Package rules holds user-supplied domain knowledge: term definitions,
// metric formulas, enum-value glosses, and reusable calculations.
package rules

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
)

// Store keeps business rules keyed by (scope, kind, key).
// A later Put with the same key overwrites the prior value; no history is
// retained. Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	rules map[models.RuleKey]models.BusinessRule
}

// NewStore creates an empty rule store.
func NewStore() *Store {
	return &Store{
		rules: make(map[models.RuleKey]models.BusinessRule),
	}
}

// rulesDocument is the serialized form of a business rules file.
// Top-level sections map keys to natural-language or SQL-fragment values.
type rulesDocument struct {
	GeneralTerms map[string]string            `yaml:"general_terms"`
	Metrics      map[string]string            `yaml:"metrics"`
	TableTerms   map[string]map[string]string `yaml:"table_terms"`
	Calculations map[string]string            `yaml:"calculations"`
}

// LoadFile reads a business rules YAML document into the store.
// Existing rules with the same keys are overwritten; others are kept.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	return s.LoadYAML(data)
}

// LoadYAML parses a serialized rules document into the store.
func (s *Store) LoadYAML(data []byte) error {
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse rules document: %w", err)
	}

	for key, value := range doc.GeneralTerms {
		s.Put(models.BusinessRule{
			Scope: models.ScopeGeneral, Kind: models.RuleKindTerm, Key: key, Value: value,
		})
	}
	for key, value := range doc.Metrics {
		s.Put(models.BusinessRule{
			Scope: models.ScopeGeneral, Kind: models.RuleKindMetric, Key: key, Value: value,
		})
	}
	for table, terms := range doc.TableTerms {
		for key, value := range terms {
			s.Put(models.BusinessRule{
				Scope: table, Kind: models.RuleKindTerm, Key: key, Value: value,
			})
		}
	}
	for key, value := range doc.Calculations {
		s.Put(models.BusinessRule{
			Scope: models.ScopeGeneral, Kind: models.RuleKindCalculation, Key: key, Value: value,
		})
	}

	return nil
}

// Put adds or overwrites one rule.
func (s *Store) Put(rule models.BusinessRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.Identity()] = rule
}

// Get returns the rule for an exact (scope, kind, key), if present.
func (s *Store) Get(scope string, kind models.RuleKind, key string) (models.BusinessRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[models.RuleKey{Scope: scope, Kind: kind, Key: key}]
	return rule, ok
}

// General returns all rules with global scope, sorted by kind then key for
// deterministic rendering.
func (s *Store) General() []models.BusinessRule {
	return s.forScope(models.ScopeGeneral)
}

// ForTable returns table-scoped rules for the named table, sorted by kind
// then key. General rules are not included; callers combine scopes.
func (s *Store) ForTable(table string) []models.BusinessRule {
	return s.forScope(table)
}

func (s *Store) forScope(scope string) []models.BusinessRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.BusinessRule
	for _, rule := range s.rules {
		if rule.Scope == scope {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Keys returns every distinct rule key across all scopes, sorted.
// The query analyzer matches these against question text.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.rules))
	var keys []string
	for id := range s.rules {
		if !seen[id.Key] {
			seen[id.Key] = true
			keys = append(keys, id.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
