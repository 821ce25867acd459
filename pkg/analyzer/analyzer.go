// Package analyzer extracts structured signals from natural-language
// questions: referenced tables, business terms, time ranges, and
// aggregation hints. The output steers retrieval and prompt building.
package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/models"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/rules"
)

// Analyzer inspects question text. It holds no per-question state and is
// safe for concurrent use.
type Analyzer struct {
	rules  *rules.Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates an analyzer backed by the given rule store.
func New(ruleStore *rules.Store, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		rules:  ruleStore,
		logger: logger.Named("analyzer"),
		now:    time.Now,
	}
}

// Analyze extracts intent signals from a question given the tables the
// knowledge base currently knows about.
func (a *Analyzer) Analyze(question string, knownTables []string) models.QueryIntent {
	intent := models.QueryIntent{Question: question}

	intent.Entities = a.matchEntities(question, knownTables)
	intent.Terms = a.matchTerms(question)
	intent.TimeRange = a.matchTimeRange(question)
	intent.Aggregation = matchAggregation(question)
	intent.SearchText = a.buildSearchText(intent)

	a.logger.Debug("analyzed question",
		zap.Strings("entities", intent.Entities),
		zap.Strings("terms", intent.Terms),
		zap.Int("aggregation_hints", len(intent.Aggregation)))
	return intent
}

// matchEntities finds known table names mentioned in the question. A table
// matches on its exact name, its singular or plural form, or the name with
// underscores replaced by spaces.
func (a *Analyzer) matchEntities(question string, knownTables []string) []string {
	lower := strings.ToLower(question)

	var entities []string
	for _, table := range knownTables {
		if tableMentioned(lower, table) {
			entities = append(entities, table)
		}
	}
	return entities
}

func tableMentioned(lowerQuestion, table string) bool {
	lowerTable := strings.ToLower(table)
	candidates := []string{
		lowerTable,
		inflection.Singular(lowerTable),
		inflection.Plural(lowerTable),
	}
	if strings.Contains(lowerTable, "_") {
		candidates = append(candidates, strings.ReplaceAll(lowerTable, "_", " "))
	}
	for _, candidate := range candidates {
		if candidate != "" && strings.Contains(lowerQuestion, candidate) {
			return true
		}
	}
	return false
}

// matchTerms finds business rule keys that appear verbatim in the question.
func (a *Analyzer) matchTerms(question string) []string {
	if a.rules == nil {
		return nil
	}
	lower := strings.ToLower(question)

	var terms []string
	for _, key := range a.rules.Keys() {
		if strings.Contains(lower, strings.ToLower(key)) {
			terms = append(terms, key)
		}
	}
	return terms
}

// timePattern pairs a phrase matcher with a range resolver relative to now.
type timePattern struct {
	re      *regexp.Regexp
	resolve func(now time.Time, match []string) (start, end time.Time)
}

var timePatterns = []timePattern{
	{
		re: regexp.MustCompile(`今天|today`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			start := startOfDay(now)
			return start, start.AddDate(0, 0, 1)
		},
	},
	{
		re: regexp.MustCompile(`昨天|yesterday`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			end := startOfDay(now)
			return end.AddDate(0, 0, -1), end
		},
	},
	{
		re: regexp.MustCompile(`本周|这周|this week`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			start := startOfWeek(now)
			return start, start.AddDate(0, 0, 7)
		},
	},
	{
		re: regexp.MustCompile(`上周|last week`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			end := startOfWeek(now)
			return end.AddDate(0, 0, -7), end
		},
	},
	{
		re: regexp.MustCompile(`本月|这个月|this month`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			start := startOfMonth(now)
			return start, start.AddDate(0, 1, 0)
		},
	},
	{
		re: regexp.MustCompile(`上月|上个月|last month`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			end := startOfMonth(now)
			return end.AddDate(0, -1, 0), end
		},
	},
	{
		re: regexp.MustCompile(`今年|this year`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			start := startOfYear(now)
			return start, start.AddDate(1, 0, 0)
		},
	},
	{
		re: regexp.MustCompile(`去年|last year`),
		resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
			end := startOfYear(now)
			return end.AddDate(-1, 0, 0), end
		},
	},
	{
		re: regexp.MustCompile(`最近\s*(\d+)\s*天|last\s+(\d+)\s+days`),
		resolve: func(now time.Time, match []string) (time.Time, time.Time) {
			days := 0
			for _, group := range match[1:] {
				if group != "" {
					days, _ = strconv.Atoi(group)
					break
				}
			}
			end := startOfDay(now).AddDate(0, 0, 1)
			return end.AddDate(0, 0, -days), end
		},
	},
}

// matchTimeRange resolves the first recognized time phrase to a concrete
// half-open range [start, end). Questions without one yield nil.
func (a *Analyzer) matchTimeRange(question string) *models.TimeRange {
	lower := strings.ToLower(question)
	now := a.now()

	for _, pattern := range timePatterns {
		match := pattern.re.FindStringSubmatch(lower)
		if match == nil {
			continue
		}
		start, end := pattern.resolve(now, match)
		return &models.TimeRange{
			Phrase: match[0],
			Start:  start,
			End:    end,
		}
	}
	return nil
}

var aggregationPatterns = []struct {
	re   *regexp.Regexp
	hint models.AggregationHint
}{
	{regexp.MustCompile(`总额|总和|合计|总共|sum\b|total\b`), models.AggSum},
	{regexp.MustCompile(`平均|均值|average|avg\b`), models.AggAvg},
	{regexp.MustCompile(`最大|最高|maximum|highest|max\b`), models.AggMax},
	{regexp.MustCompile(`最小|最低|minimum|lowest|min\b`), models.AggMin},
	{regexp.MustCompile(`多少|数量|几个|count\b|how many`), models.AggCount},
}

func matchAggregation(question string) []models.AggregationHint {
	lower := strings.ToLower(question)
	var hints []models.AggregationHint
	for _, pattern := range aggregationPatterns {
		if pattern.re.MatchString(lower) {
			hints = append(hints, pattern.hint)
		}
	}
	return hints
}

// buildSearchText enriches the question with matched entities and term
// definitions so retrieval sees more than the literal phrasing.
func (a *Analyzer) buildSearchText(intent models.QueryIntent) string {
	parts := []string{intent.Question}
	parts = append(parts, intent.Entities...)

	if a.rules != nil {
		// A matched key may be a term, a metric, or a calculation; all of
		// their definitions sharpen the search.
		kinds := []models.RuleKind{models.RuleKindTerm, models.RuleKindMetric, models.RuleKindCalculation}
		for _, term := range intent.Terms {
			for _, kind := range kinds {
				if rule, ok := a.rules.Get(models.ScopeGeneral, kind, term); ok {
					parts = append(parts, rule.Value)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek treats Monday as the first day of the week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func startOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
}
