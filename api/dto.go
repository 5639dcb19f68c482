/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

NUMBERS:
  Decimal amounts and scores are rendered as JSON numbers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/review"
	"github.com/geekane/1127jixiao/scoring"
)

// =============================================================================
// OPERATOR SUMMARIES
// =============================================================================

// RangeDTO describes the date range a summary was computed for.
type RangeDTO struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Source string `json:"source"`
}

// OperatorSummaryDTO is one operator's aggregated facts.
type OperatorSummaryDTO struct {
	OperatorName string  `json:"operator_name"`
	GroupName    string  `json:"group_name"`
	StoreCount   int     `json:"store_count"`
	AvgScore     float64 `json:"avg_score"`
	TotalSalary  float64 `json:"total_salary"`
}

// OperatorSummariesResponse is returned by GET /api/operators.
type OperatorSummariesResponse struct {
	Range           RangeDTO             `json:"range"`
	UpdateTriggered bool                 `json:"update_triggered"`
	Data            []OperatorSummaryDTO `json:"data"`
}

func toSummariesResponse(r review.SummaryReport) OperatorSummariesResponse {
	data := make([]OperatorSummaryDTO, len(r.Summaries))
	for i, s := range r.Summaries {
		data[i] = OperatorSummaryDTO{
			OperatorName: s.OperatorName,
			GroupName:    s.GroupID,
			StoreCount:   s.StoreCount,
			AvgScore:     s.AvgScore.Round(2).InexactFloat64(),
			TotalSalary:  s.TotalVerifiedAmount.InexactFloat64(),
		}
	}
	return OperatorSummariesResponse{
		Range: RangeDTO{
			Start:  r.Range.StartString(),
			End:    r.Range.EndString(),
			Source: r.Source,
		},
		UpdateTriggered: r.UpdateTriggered,
		Data:            data,
	}
}

// =============================================================================
// TEMPLATES
// =============================================================================

// TemplateItemDTO is one KPI template row.
type TemplateItemDTO struct {
	PersonName       string  `json:"person_name"`
	Indicator        string  `json:"indicator"`
	Category         string  `json:"category"`
	CategoryTag      string  `json:"category_tag"`
	KpiDescription   string  `json:"kpi_description"`
	Weight           float64 `json:"weight"`
	Formula          string  `json:"formula,omitempty"`
	EditableFieldKey string  `json:"editable_field_key,omitempty"`
	IsAutoCalculated bool    `json:"is_auto_calculated"`
}

func toTemplateDTOs(items []scoring.TemplateItem) []TemplateItemDTO {
	out := make([]TemplateItemDTO, len(items))
	for i, it := range items {
		out[i] = TemplateItemDTO{
			PersonName:       it.PersonName,
			Indicator:        it.Indicator,
			Category:         it.CategoryLabel,
			CategoryTag:      string(it.Category),
			KpiDescription:   it.KpiDescription,
			Weight:           it.Weight.InexactFloat64(),
			Formula:          it.Formula,
			EditableFieldKey: it.EditableFieldKey,
			IsAutoCalculated: it.IsAutoCalculated,
		}
	}
	return out
}

// =============================================================================
// PERFORMANCE AND SCORES
// =============================================================================

// PerformanceDTO is a monthly performance record. Fields holds the entered
// values keyed by allow-listed field name.
type PerformanceDTO struct {
	PerformanceMonth string            `json:"performance_month"`
	PersonName       string            `json:"person_name"`
	Department       string            `json:"department"`
	Fields           map[string]string `json:"fields"`
	CreatedAt        string            `json:"created_at,omitempty"`
	UpdatedAt        string            `json:"updated_at,omitempty"`
}

func toPerformanceDTO(rec *scoring.PerformanceRecord) PerformanceDTO {
	fields := map[string]string{}
	for k, v := range rec.Fields {
		fields[k] = v
	}
	dto := PerformanceDTO{
		PerformanceMonth: rec.Month,
		PersonName:       rec.PersonName,
		Department:       rec.Department,
		Fields:           fields,
	}
	if !rec.CreatedAt.IsZero() {
		dto.CreatedAt = rec.CreatedAt.Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		dto.UpdatedAt = rec.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

// ItemScoreDTO is the score of one indicator.
type ItemScoreDTO struct {
	Indicator string  `json:"indicator"`
	Category  string  `json:"category"`
	Score     float64 `json:"score"`
	Missing   bool    `json:"missing,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ScoreDTO is a scoring outcome.
type ScoreDTO struct {
	Items              []ItemScoreDTO     `json:"items"`
	Scores             map[string]float64 `json:"scores"`
	ProcessSubtotal    float64            `json:"process_subtotal"`
	ManagementSubtotal float64            `json:"management_subtotal"`
	GrandTotal         float64            `json:"grand_total"`
	Missing            []string           `json:"missing"`
}

func toScoreDTO(r scoring.ScoreResult) ScoreDTO {
	items := make([]ItemScoreDTO, len(r.Items))
	for i, it := range r.Items {
		items[i] = ItemScoreDTO{
			Indicator: it.Indicator,
			Category:  string(it.Category),
			Score:     it.Score,
			Missing:   it.Missing,
			Error:     it.Error,
		}
	}
	scores := r.Scores
	if scores == nil {
		scores = map[string]float64{}
	}
	missing := r.Missing
	if missing == nil {
		missing = []string{}
	}
	return ScoreDTO{
		Items:              items,
		Scores:             scores,
		ProcessSubtotal:    r.ProcessSubtotal,
		ManagementSubtotal: r.ManagementSubtotal,
		GrandTotal:         r.GrandTotal,
		Missing:            missing,
	}
}

// UpdatePerformanceResponse is returned by POST /api/performance.
type UpdatePerformanceResponse struct {
	Message string    `json:"message"`
	Score   *ScoreDTO `json:"score,omitempty"`
}

// =============================================================================
// REFRESH
// =============================================================================

// RefreshResponse is returned by POST /api/refresh.
type RefreshResponse struct {
	RunID        string `json:"run_id"`
	PeriodStart  string `json:"period_start"`
	PeriodEnd    string `json:"period_end"`
	MonthlyCount int    `json:"monthly_count"`
	DailyCount   int    `json:"daily_count"`
}

// RefreshRunDTO is a refresh run record.
type RefreshRunDTO struct {
	ID           string  `json:"id"`
	Trigger      string  `json:"trigger"`
	PeriodStart  string  `json:"period_start"`
	PeriodEnd    string  `json:"period_end"`
	Status       string  `json:"status"`
	MonthlyCount int     `json:"monthly_count"`
	DailyCount   int     `json:"daily_count"`
	Error        string  `json:"error,omitempty"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}

func toRunDTO(r etl.RefreshRun) RefreshRunDTO {
	dto := RefreshRunDTO{
		ID:           r.ID,
		Trigger:      string(r.Trigger),
		PeriodStart:  r.PeriodStart,
		PeriodEnd:    r.PeriodEnd,
		Status:       string(r.Status),
		MonthlyCount: r.MonthlyCount,
		DailyCount:   r.DailyCount,
		Error:        r.Error,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
	}
	if r.CompletedAt != nil {
		s := r.CompletedAt.Format(time.RFC3339)
		dto.CompletedAt = &s
	}
	return dto
}

// =============================================================================
// ASSIGNMENTS AND ERRORS
// =============================================================================

// UploadAssignmentsResponse is returned by POST /api/assignments.
type UploadAssignmentsResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status            string `json:"status"`
	RefreshInProgress bool   `json:"refresh_in_progress"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
