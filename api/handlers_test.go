/*
handlers_test.go - HTTP tests for the review API

Drives the chi router end to end over an in-memory SQLite store and a fake
export service.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geekane/1127jixiao/api"
	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/review"
	"github.com/geekane/1127jixiao/scoring"
	"github.com/geekane/1127jixiao/store/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type fakeExport struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *fakeExport) Extract(_ context.Context, start, end string) ([]byte, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, &etl.ExtractionError{Step: etl.StepSubmit, Reason: etl.ReasonNoTaskID}
	}
	return []byte(start + "|" + end), nil
}

func exportRows(raw []byte) (etl.RowSource, error) {
	parts := strings.SplitN(string(raw), "|", 2)
	if parts[0] == parts[1] {
		return etl.NewSliceRows([]etl.Row{
			{etl.FieldStoreID: "S1", etl.FieldOperationScore: "70"},
			{etl.FieldStoreID: "S2", etl.FieldOperationScore: "82"},
		}), nil
	}
	dr := parts[0] + "~" + parts[1]
	return etl.NewSliceRows([]etl.Row{
		{etl.FieldDateRange: dr, etl.FieldStoreID: "S1", etl.FieldVerifyAmount: "800"},
		{etl.FieldDateRange: dr, etl.FieldStoreID: "S2", etl.FieldVerifyAmount: "900"},
	}), nil
}

type testServer struct {
	router    *chi.Mux
	store     *sqlite.Store
	export    *fakeExport
	refresher *etl.Refresher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := func() time.Time { return time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC) }
	gate := etl.NewGate(store, now, nil)
	export := &fakeExport{}
	refresher := etl.NewRefresher(etl.RefresherDeps{
		Extractor: export,
		Transform: exportRows,
		Loader:    etl.NewLoader(store, nil),
		Gate:      gate,
		Runs:      store,
		Now:       now,
	})
	t.Cleanup(refresher.Wait)

	require.NoError(t, store.ReplaceAssignments(context.Background(), []etl.StoreAssignment{
		{GroupID: "1组", StoreID: "S1", StoreName: "一号店", Person: "A"},
		{GroupID: "1组", StoreID: "S2", StoreName: "二号店", Person: "A"},
	}))

	svc := review.New(review.Deps{Store: store, Refresher: refresher, Gate: gate})
	return &testServer{
		router:    api.NewRouter(api.NewHandler(svc, nil), nil),
		store:     store,
		export:    export,
		refresher: refresher,
	}
}

func (s *testServer) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodGet, target, nil, "")
}

func (s *testServer) postJSON(t *testing.T, target, body string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodPost, target, []byte(body), "application/json")
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// OPERATORS
// =============================================================================

func TestGetOperatorSummaries_StaleDefaultRangeTriggersRefresh(t *testing.T) {
	// GIVEN: no facts loaded yet
	// WHEN: the summaries are read without a range
	// THEN: zeros are served at once and a refresh is flagged as triggered

	s := newTestServer(t)

	rec := s.get(t, "/api/operators")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.OperatorSummariesResponse](t, rec)
	assert.True(t, resp.UpdateTriggered)
	assert.Equal(t, api.RangeDTO{Start: "2025-09-01", End: "2025-09-30", Source: "auto_last_month"}, resp.Range)
	require.Len(t, resp.Data, 1)

	s.refresher.Wait()

	resp = decode[api.OperatorSummariesResponse](t, s.get(t, "/api/operators"))
	assert.False(t, resp.UpdateTriggered)
	assert.Equal(t, []api.OperatorSummaryDTO{
		{OperatorName: "A", GroupName: "1组", StoreCount: 2, AvgScore: 76, TotalSalary: 1700},
	}, resp.Data)
}

func TestGetOperatorSummaries_PinnedRange(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/operators?start_date=2025-08-01&end_date=2025-08-31")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.OperatorSummariesResponse](t, rec)
	assert.Equal(t, "request", resp.Range.Source)
	assert.False(t, resp.UpdateTriggered)
	assert.EqualValues(t, 0, s.export.calls.Load())
}

func TestGetOperatorSummaries_InvalidRange(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/operators?start_date=2025-09-30&end_date=2025-09-01")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
}

// =============================================================================
// TEMPLATES, PERFORMANCE, SCORES
// =============================================================================

func TestGetKpiTemplate(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/kpi-template").Code)

	rec := s.get(t, "/api/kpi-template?person=nobody")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetPerformance_CreatesBareRecord(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/performance?person=A").Code)

	rec := s.get(t, "/api/performance?month=2025-09&person=A")
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[api.PerformanceDTO](t, rec)
	assert.Equal(t, "客服组", dto.Department)
	assert.Equal(t, "2025-09", dto.PerformanceMonth)
	assert.Empty(t, dto.Fields)
}

func TestUpdatePerformance_StatusCodes(t *testing.T) {
	s := newTestServer(t)

	rec := s.postJSON(t, "/api/performance",
		`{"performance_month":"2025-09","person_name":"A","quit_store_count":2,"bogus":"x"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[api.UpdatePerformanceResponse](t, rec)
	require.NotNil(t, created.Score)

	rec = s.postJSON(t, "/api/performance",
		`{"performance_month":"2025-09","person_name":"A","egp_remarks":"良好"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Performance record updated", decode[api.UpdatePerformanceResponse](t, rec).Message)

	rec = s.postJSON(t, "/api/performance",
		`{"performance_month":"2025-09","person_name":"A","final_score":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	nothing := decode[api.UpdatePerformanceResponse](t, rec)
	assert.Equal(t, "Nothing to update", nothing.Message)
	assert.Nil(t, nothing.Score)

	dto := decode[api.PerformanceDTO](t, s.get(t, "/api/performance?month=2025-09&person=A"))
	assert.Equal(t, map[string]string{"quit_store_count": "2", "egp_remarks": "良好"}, dto.Fields)

	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/performance", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, s.postJSON(t, "/api/performance", `{"person_name":"A","sales_total":1}`).Code)
}

func TestGetScore(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.refresher.RunFullRefresh(ctx, etl.TriggerManual)
	require.NoError(t, err)
	templates, err := scoring.ParseTemplates(strings.NewReader(`
- person_name: A
  items:
    - indicator: 门店经营分
      category: 过程指标
      weight: 30
      formula: weight * avg_score / 76
      is_auto_calculated: true
    - indicator: 日常管理
      category: 管理指标
      weight: 20
      editable_field_key: manage_last_month_1
`))
	require.NoError(t, err)
	require.Len(t, templates, 1)
	require.NoError(t, s.store.ReplaceTemplate(ctx, "A", templates[0].Items))

	rec := s.get(t, "/api/performance/score?month=2025-09&person=A&start_date=2025-09-01&end_date=2025-09-30")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	score := decode[api.ScoreDTO](t, rec)
	assert.InDelta(t, 30, score.ProcessSubtotal, 1e-9)
	assert.InDelta(t, 30, score.GrandTotal, 1e-9)
	assert.Equal(t, []string{"日常管理"}, score.Missing)
	require.Len(t, score.Items, 2)
	assert.True(t, score.Items[1].Missing)

	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/performance/score?person=A").Code)
}

// =============================================================================
// REFRESH
// =============================================================================

func TestRunRefresh(t *testing.T) {
	s := newTestServer(t)

	rec := s.postJSON(t, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.RefreshResponse](t, rec)
	assert.Equal(t, 2, resp.MonthlyCount)
	assert.Equal(t, 2, resp.DailyCount)
	assert.Equal(t, "2025-09-01", resp.PeriodStart)

	rec = s.get(t, "/api/refresh/runs/" + resp.RunID)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[api.RefreshRunDTO](t, rec)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "manual", run.Trigger)
	assert.NotNil(t, run.CompletedAt)
}

func TestRunRefresh_ExtractionFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t)
	s.export.fail.Store(true)

	rec := s.postJSON(t, "/api/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[api.ErrorResponse](t, rec).Details, "no_task_id")

	runs := decode[[]api.RefreshRunDTO](t, s.get(t, "/api/refresh/runs"))
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Status)
}

func TestRefreshRuns_NotFoundAndBadLimit(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.get(t, "/api/refresh/runs/missing").Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/api/refresh/runs?limit=-1").Code)

	rec := s.get(t, "/api/refresh/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

// =============================================================================
// ASSIGNMENTS AND HEALTH
// =============================================================================

func upload(t *testing.T, s *testServer, filename string, rows [][]any) *httptest.ResponseRecorder {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	data, err := f.WriteToBuffer()
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return s.do(t, http.MethodPost, "/api/assignments", body.Bytes(), mw.FormDataContentType())
}

func TestUploadAssignments(t *testing.T) {
	s := newTestServer(t)
	header := []any{"小组", "门店名称", "门店id", "人员"}

	rec := upload(t, s, "assign.xlsx", [][]any{header, {"2组", "三号店", "S3", "B,C，D"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[api.UploadAssignmentsResponse](t, rec).Count)

	rec = upload(t, s, "empty.xlsx", [][]any{header})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[api.UploadAssignmentsResponse](t, rec).Count)

	got, err := s.store.ListAssignments(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 3)

	rec = s.do(t, http.MethodPost, "/api/assignments", nil, "multipart/form-data; boundary=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, api.HealthResponse{Status: "ok"}, decode[api.HealthResponse](t, rec))

	require.NoError(t, s.store.Close())
	assert.Equal(t, http.StatusServiceUnavailable, s.get(t, "/api/health").Code)
}

// =============================================================================
// SCHEDULER
// =============================================================================

type stubRefresher struct {
	calls atomic.Int32
	stale bool
}

func (s *stubRefresher) RefreshIfStale(context.Context) bool {
	s.calls.Add(1)
	return s.stale
}

func TestRefreshScheduler_ChecksOnStartAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	stub := &stubRefresher{}
	sched := api.NewRefreshScheduler(stub, nil)
	sched.CheckInterval = time.Hour

	sched.Start()
	sched.Start()
	require.Eventually(t, func() bool { return stub.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	sched.Stop()
	sched.Stop()

	assert.EqualValues(t, 1, stub.calls.Load())
}

func TestRefreshScheduler_Disabled(t *testing.T) {
	stub := &stubRefresher{stale: true}
	sched := api.NewRefreshScheduler(stub, nil)
	sched.Enabled = false

	sched.Start()
	sched.Stop()
	assert.EqualValues(t, 0, stub.calls.Load())
	assert.True(t, sched.RunNow())
}
