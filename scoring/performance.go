package scoring

import (
	"encoding/json"
	"strconv"
	"time"
)

// DefaultDepartment is assigned to performance records created implicitly.
const DefaultDepartment = "客服组"

// PerformanceFields is the allow-list of operator-editable fields on a
// monthly performance record.
var PerformanceFields = []string{
	"quit_store_count",
	"sales_total",
	"manage_last_month_1", "manage_remarks_1",
	"manage_last_month_2", "manage_remarks_2",
	"manage_last_month_3", "manage_remarks_3",
	"manage_last_month_4", "manage_remarks_4",
	"manage_last_month_5", "manage_remarks_5",
	"egp_score",
	"egp_remarks",
	"final_score",
	"employee_signature",
	"manager_signature",
	"finance_signature",
	"ceo_signature",
}

var performanceFieldSet = func() map[string]bool {
	m := make(map[string]bool, len(PerformanceFields))
	for _, f := range PerformanceFields {
		m[f] = true
	}
	return m
}()

// IsPerformanceField reports whether name is on the allow-list.
func IsPerformanceField(name string) bool {
	return performanceFieldSet[name]
}

// PerformanceRecord holds one operator's editable figures for one month.
type PerformanceRecord struct {
	Month      string
	PersonName string
	Department string
	Fields     Figures
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FilterUpdate keeps the allowed, non-null entries of a decoded update body
// and renders each as text. Unknown keys, nulls and nested values are
// dropped.
func FilterUpdate(raw map[string]any) Figures {
	out := make(Figures)
	for k, v := range raw {
		if !IsPerformanceField(k) || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(val)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}
