/*
Package scoring computes monthly KPI scores for one operator.

PURPOSE:
  A KPI template lists indicators, each with a weight and either a formula
  or a direct-entry rule. The engine scores every indicator from the
  operator's aggregate and the figures the operator entered, then sums the
  scores into process and management subtotals.

RULES (per template item):
  1. Not auto-calculated and its field key has no entered value:
     the indicator is reported as missing and zero stands in for the value.
  2. Management category: the score is the value entered under the field key.
  3. Formula present: the formula is evaluated over weight, avg_score,
     total_salary, quit_store_count and sales_total. A failed evaluation
     scores 0 and is logged.
  4. Otherwise the entered value under the field key is the score.

  Grand total = process subtotal + management subtotal. Items in the
  "other" category count toward neither.

PURITY:
  Score has no hidden state. Identical inputs give identical results, so
  callers recompute after every edit.

SEE ALSO:
  - expr.go:     formula interpreter
  - category.go: label classification
  - template.go: YAML template import
*/
package scoring

import (
	"fmt"
	"strings"

	"github.com/geekane/1127jixiao/etl"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TemplateItem is one indicator of an operator's KPI template.
type TemplateItem struct {
	PersonName       string
	Indicator        string
	CategoryLabel    string // free text shown to users
	Category         Category
	KpiDescription   string
	Weight           decimal.Decimal
	Formula          string
	EditableFieldKey string
	IsAutoCalculated bool
}

// category returns the item's tag, classifying the label when the tag was
// never set.
func (it TemplateItem) category() Category {
	if it.Category != "" {
		return it.Category
	}
	return Classify(it.CategoryLabel)
}

// Figures are the values an operator entered, keyed by field name.
type Figures map[string]string

// Has reports whether key carries a non-blank value.
func (f Figures) Has(key string) bool {
	if key == "" {
		return false
	}
	return strings.TrimSpace(f[key]) != ""
}

// Number parses the value under key, returning 0 when it is absent or not
// numeric.
func (f Figures) Number(key string) float64 {
	d, err := etl.ParseDecimal(f[key])
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// ItemScore is the score of one indicator.
type ItemScore struct {
	Indicator string
	Category  Category
	Score     float64
	Missing   bool
	Error     string // formula failure, empty on success
}

// ScoreResult is the full scoring outcome for one operator and month.
type ScoreResult struct {
	Items              []ItemScore
	Scores             map[string]float64
	ProcessSubtotal    float64
	ManagementSubtotal float64
	GrandTotal         float64
	Missing            []string // indicators lacking a required entry, each once
}

// FormulaError reports a formula that could not be compiled or evaluated.
type FormulaError struct {
	Indicator string
	Formula   string
	Err       error
}

func (e *FormulaError) Error() string {
	return fmt.Sprintf("formula for %q (%s): %v", e.Indicator, e.Formula, e.Err)
}

func (e *FormulaError) Unwrap() error { return e.Err }

// Engine scores KPI templates.
type Engine struct {
	log *zap.Logger
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// Score evaluates every template item against the operator's figures and
// aggregate.
func (e *Engine) Score(template []TemplateItem, figures Figures, summary etl.OperatorSummary) ScoreResult {
	res := ScoreResult{
		Items:   make([]ItemScore, 0, len(template)),
		Scores:  make(map[string]float64, len(template)),
		Missing: []string{},
	}
	reported := make(map[string]bool)

	for _, item := range template {
		is := ItemScore{Indicator: item.Indicator, Category: item.category()}

		if !item.IsAutoCalculated && !figures.Has(item.EditableFieldKey) {
			is.Missing = true
			if !reported[item.Indicator] {
				reported[item.Indicator] = true
				res.Missing = append(res.Missing, item.Indicator)
			}
		}

		switch {
		case is.Category == CategoryManagement:
			is.Score = figures.Number(item.EditableFieldKey)
		case strings.TrimSpace(item.Formula) != "":
			score, err := e.evalFormula(item, figures, summary)
			if err != nil {
				e.log.Warn("formula evaluation failed, scoring 0",
					zap.String("person", item.PersonName),
					zap.String("indicator", item.Indicator),
					zap.Error(err))
				is.Error = err.Error()
			}
			is.Score = score
		default:
			is.Score = figures.Number(item.EditableFieldKey)
		}

		switch is.Category {
		case CategoryProcess:
			res.ProcessSubtotal += is.Score
		case CategoryManagement:
			res.ManagementSubtotal += is.Score
		}
		res.Items = append(res.Items, is)
		res.Scores[item.Indicator] = is.Score
	}

	res.GrandTotal = res.ProcessSubtotal + res.ManagementSubtotal
	return res
}

func (e *Engine) evalFormula(item TemplateItem, figures Figures, summary etl.OperatorSummary) (float64, error) {
	expr, err := Compile(item.Formula)
	if err != nil {
		return 0, &FormulaError{Indicator: item.Indicator, Formula: item.Formula, Err: err}
	}
	v, err := expr.Eval(Vars{
		Weight:         item.Weight.InexactFloat64(),
		AvgScore:       summary.AvgScore.InexactFloat64(),
		TotalSalary:    summary.TotalVerifiedAmount.InexactFloat64(),
		QuitStoreCount: figures.Number(VarQuitStoreCount),
		SalesTotal:     figures.Number(VarSalesTotal),
	})
	if err != nil {
		return 0, &FormulaError{Indicator: item.Indicator, Formula: item.Formula, Err: err}
	}
	return v, nil
}
