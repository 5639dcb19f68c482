package scoring

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// PersonTemplate is the ordered KPI template of one operator.
type PersonTemplate struct {
	PersonName string
	Items      []TemplateItem
}

type templateDoc struct {
	PersonName string            `yaml:"person_name"`
	Items      []templateItemDoc `yaml:"items"`
}

type templateItemDoc struct {
	Indicator        string `yaml:"indicator"`
	Category         string `yaml:"category"`
	KpiDescription   string `yaml:"kpi_description"`
	Weight           any    `yaml:"weight"`
	Formula          string `yaml:"formula"`
	EditableFieldKey string `yaml:"editable_field_key"`
	IsAutoCalculated bool   `yaml:"is_auto_calculated"`
}

// ParseTemplates reads a YAML list of person templates:
//
//	- person_name: 张三
//	  items:
//	    - indicator: 门店经营分
//	      category: 过程指标
//	      weight: 30
//	      formula: weight * avg_score / 76
//	      is_auto_calculated: true
//
// Category labels are classified into tags and every formula is compiled,
// so a template that parses here never fails to compile while scoring.
func ParseTemplates(r io.Reader) ([]PersonTemplate, error) {
	var docs []templateDoc
	if err := yaml.NewDecoder(r).Decode(&docs); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode templates: %w", err)
	}

	out := make([]PersonTemplate, 0, len(docs))
	for i, doc := range docs {
		person := strings.TrimSpace(doc.PersonName)
		if person == "" {
			return nil, fmt.Errorf("template %d: person_name is required", i)
		}
		pt := PersonTemplate{PersonName: person}
		for j, d := range doc.Items {
			item, err := d.toItem(person)
			if err != nil {
				return nil, fmt.Errorf("template %q item %d: %w", person, j, err)
			}
			pt.Items = append(pt.Items, item)
		}
		out = append(out, pt)
	}
	return out, nil
}

func (d templateItemDoc) toItem(person string) (TemplateItem, error) {
	indicator := strings.TrimSpace(d.Indicator)
	if indicator == "" {
		return TemplateItem{}, fmt.Errorf("indicator is required")
	}
	weight, err := parseWeight(d.Weight)
	if err != nil {
		return TemplateItem{}, err
	}
	formula := strings.TrimSpace(d.Formula)
	if formula != "" {
		if _, err := Compile(formula); err != nil {
			return TemplateItem{}, &FormulaError{Indicator: indicator, Formula: formula, Err: err}
		}
	}
	return TemplateItem{
		PersonName:       person,
		Indicator:        indicator,
		CategoryLabel:    d.Category,
		Category:         Classify(d.Category),
		KpiDescription:   d.KpiDescription,
		Weight:           weight,
		Formula:          formula,
		EditableFieldKey: strings.TrimSpace(d.EditableFieldKey),
		IsAutoCalculated: d.IsAutoCalculated,
	}, nil
}

func parseWeight(v any) (decimal.Decimal, error) {
	var w decimal.Decimal
	switch val := v.(type) {
	case nil:
		return decimal.Zero, nil
	case int:
		w = decimal.NewFromInt(int64(val))
	case float64:
		w = decimal.NewFromFloat(val)
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, fmt.Errorf("weight %q is not a number", val)
		}
		w = d
	default:
		return decimal.Zero, fmt.Errorf("weight has unsupported type %T", v)
	}
	if w.IsNegative() {
		return decimal.Zero, fmt.Errorf("weight must not be negative, got %s", w)
	}
	return w, nil
}
