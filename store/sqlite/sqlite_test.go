package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/scoring"
	"github.com/geekane/1127jixiao/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// ASSIGNMENTS AND FACTS
// =============================================================================

func TestAssignments_ReplaceWholeTable(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.ReplaceAssignments(ctx, []etl.StoreAssignment{
		{GroupID: "1组", StoreID: "S1", StoreName: "一号店", Person: "张三"},
		{GroupID: "1组", StoreID: "S2", StoreName: "二号店", Person: "李四"},
	}))
	require.NoError(t, store.ReplaceAssignments(ctx, []etl.StoreAssignment{
		{GroupID: "2组", StoreID: "S3", StoreName: "三号店", Person: "王五"},
	}))

	got, err := store.ListAssignments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []etl.StoreAssignment{
		{GroupID: "2组", StoreID: "S3", StoreName: "三号店", Person: "王五"},
	}, got)
}

func TestFacts_ReplaceAndMaxDailyDate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	latest, err := store.MaxDailyDate(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest, "empty table has no snapshot")

	require.NoError(t, store.ReplaceDailyFacts(ctx, []etl.DailyScoreFact{
		{DateRange: "2025-09-30", StoreID: "S1", OperationScore: dec("70.5")},
	}))
	require.NoError(t, store.ReplaceMonthlyFacts(ctx, []etl.MonthlyVerificationFact{
		{DateRange: "2025-09-01~2025-09-30", StoreID: "S1", StoreName: "一号店", VerifyAmount: dec("800.25")},
	}))

	latest, err = store.MaxDailyDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-09-30", latest)

	monthly, err := store.MonthlyFacts(ctx)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.True(t, monthly[0].VerifyAmount.Equal(dec("800.25")))

	daily, err := store.DailyFacts(ctx)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.True(t, daily[0].OperationScore.Equal(dec("70.5")))
}

func TestFacts_FailedReplaceKeepsOldRows(t *testing.T) {
	// GIVEN: stored facts and a cancelled context for the next replace
	// WHEN: the replace fails
	// THEN: the old rows are still there

	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.ReplaceMonthlyFacts(ctx, []etl.MonthlyVerificationFact{
		{DateRange: "r", StoreID: "S1", VerifyAmount: dec("1")},
	}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := store.ReplaceMonthlyFacts(cancelled, []etl.MonthlyVerificationFact{
		{DateRange: "r", StoreID: "S2", VerifyAmount: dec("2")},
	})
	require.Error(t, err)

	monthly, err := store.MonthlyFacts(ctx)
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, "S1", monthly[0].StoreID)
}

func TestAggregationInput_JoinsByStoreAndKey(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.ReplaceAssignments(ctx, []etl.StoreAssignment{
		{GroupID: "1组", StoreID: "S1", Person: "A"},
		{GroupID: "1组", StoreID: "S2", Person: "A"},
		{GroupID: "2组", StoreID: "S3", Person: "B"},
	}))
	require.NoError(t, store.ReplaceMonthlyFacts(ctx, []etl.MonthlyVerificationFact{
		{DateRange: "2025-09-01~2025-09-30", StoreID: "S1", VerifyAmount: dec("800")},
		{DateRange: "2025-09-01~2025-09-30", StoreID: "S2", VerifyAmount: dec("900")},
		{DateRange: "2025-08-01~2025-08-31", StoreID: "S3", VerifyAmount: dec("5")},
		{DateRange: "2025-09-01~2025-09-30", StoreID: "S9", VerifyAmount: dec("7")},
	}))
	require.NoError(t, store.ReplaceDailyFacts(ctx, []etl.DailyScoreFact{
		{DateRange: "2025-09-30", StoreID: "S1", OperationScore: dec("70")},
		{DateRange: "2025-09-30", StoreID: "S2", OperationScore: dec("82")},
	}))

	in, err := store.AggregationInput(ctx, "2025-09-01~2025-09-30", "2025-09-30")
	require.NoError(t, err)

	assert.Len(t, in.Operators, 3)
	require.Len(t, in.Amounts, 2, "other ranges and unassigned stores are excluded")
	assert.Equal(t, "A", in.Amounts[0].Person)
	require.Len(t, in.Scores, 2)

	got := etl.Summarize(in)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].OperatorName)
	assert.Equal(t, 2, got[0].StoreCount)
	assert.True(t, got[0].TotalVerifiedAmount.Equal(dec("1700")))
	assert.True(t, got[0].AvgScore.Equal(dec("76")))
	assert.Equal(t, "B", got[1].OperatorName)
	assert.Equal(t, 0, got[1].StoreCount)
	assert.True(t, got[1].AvgScore.IsZero())
}

func TestAggregationInput_BlankStoreIDsNeverJoin(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.ReplaceAssignments(ctx, []etl.StoreAssignment{
		{GroupID: "1组", StoreID: "S1", Person: "A"},
		{GroupID: "2组", StoreID: "", Person: "B"},
	}))
	require.NoError(t, store.ReplaceMonthlyFacts(ctx, []etl.MonthlyVerificationFact{
		{DateRange: "2025-09-01~2025-09-30", StoreID: "S1", VerifyAmount: dec("800")},
		{DateRange: "2025-09-01~2025-09-30", StoreID: "", StoreName: "合计", VerifyAmount: dec("99999")},
	}))
	require.NoError(t, store.ReplaceDailyFacts(ctx, []etl.DailyScoreFact{
		{DateRange: "2025-09-30", StoreID: "", StoreName: "合计", OperationScore: dec("60")},
	}))

	in, err := store.AggregationInput(ctx, "2025-09-01~2025-09-30", "2025-09-30")
	require.NoError(t, err)

	assert.Len(t, in.Operators, 2)
	require.Len(t, in.Amounts, 1)
	assert.Equal(t, "A", in.Amounts[0].Person)
	assert.Empty(t, in.Scores)
}

// =============================================================================
// TEMPLATES AND PERFORMANCE
// =============================================================================

func TestTemplates_ReplaceAndGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	items := []scoring.TemplateItem{
		{Indicator: "门店经营分", CategoryLabel: "过程指标", Category: scoring.CategoryProcess,
			Weight: dec("30"), Formula: "weight * avg_score / 76", IsAutoCalculated: true},
		{Indicator: "日常管理", CategoryLabel: "管理指标", Weight: dec("20.5"),
			EditableFieldKey: "manage_last_month_1"},
	}
	require.NoError(t, store.ReplaceTemplate(ctx, "张三", items))
	require.NoError(t, store.ReplaceTemplate(ctx, "张三", items))

	got, err := store.GetTemplate(ctx, "张三")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "门店经营分", got[0].Indicator)
	assert.Equal(t, "张三", got[0].PersonName)
	assert.True(t, got[0].IsAutoCalculated)
	assert.True(t, got[0].Weight.Equal(dec("30")))
	assert.Equal(t, scoring.CategoryManagement, got[1].Category, "unset tag is classified on write")
	assert.True(t, got[1].Weight.Equal(dec("20.5")))

	none, err := store.GetTemplate(ctx, "nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestPerformance_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.GetPerformance(ctx, "2025-09", "张三")
	assert.ErrorIs(t, err, etl.ErrNotFound)

	rec, created, err := store.GetOrCreatePerformance(ctx, "2025-09", "张三", scoring.DefaultDepartment)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "客服组", rec.Department)
	assert.Empty(t, rec.Fields)

	_, created, err = store.GetOrCreatePerformance(ctx, "2025-09", "张三", "其他")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestPerformance_UpdateCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	created, err := store.UpdatePerformance(ctx, "2025-09", "张三", scoring.DefaultDepartment,
		scoring.Figures{"quit_store_count": "1", "egp_remarks": "良好"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.UpdatePerformance(ctx, "2025-09", "张三", scoring.DefaultDepartment,
		scoring.Figures{"quit_store_count": "2"})
	require.NoError(t, err)
	assert.False(t, created)

	rec, err := store.GetPerformance(ctx, "2025-09", "张三")
	require.NoError(t, err)
	assert.Equal(t, scoring.Figures{"quit_store_count": "2", "egp_remarks": "良好"}, rec.Fields)
	assert.Equal(t, "客服组", rec.Department)
}

func TestPerformance_UpdateRejectsUnknownField(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := store.UpdatePerformance(ctx, "2025-09", "张三", scoring.DefaultDepartment,
		scoring.Figures{"department = 'x'; --": "1"})
	assert.True(t, etl.IsClientError(err))

	_, err = store.UpdatePerformance(ctx, "2025-09", "张三", scoring.DefaultDepartment, scoring.Figures{})
	assert.True(t, etl.IsClientError(err))
}

func TestPerformance_EveryAllowedFieldIsAColumn(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	fields := scoring.Figures{}
	for _, f := range scoring.PerformanceFields {
		fields[f] = "v-" + f
	}
	_, err := store.UpdatePerformance(ctx, "2025-09", "张三", scoring.DefaultDepartment, fields)
	require.NoError(t, err)

	rec, err := store.GetPerformance(ctx, "2025-09", "张三")
	require.NoError(t, err)
	assert.Equal(t, fields, rec.Fields)
}

// =============================================================================
// REFRESH RUNS
// =============================================================================

func TestRefreshRuns_SaveListGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	started := time.Date(2025, 10, 2, 8, 0, 0, 0, time.UTC)
	run := etl.RefreshRun{
		ID: "run-1", Trigger: etl.TriggerManual,
		PeriodStart: "2025-09-01", PeriodEnd: "2025-09-30",
		Status: etl.RunRunning, StartedAt: started,
	}
	require.NoError(t, store.SaveRefreshRun(ctx, run))

	completed := started.Add(time.Minute)
	run.Status = etl.RunFailed
	run.Error = "extraction submit: no_task_id"
	run.MonthlyCount = 3
	run.CompletedAt = &completed
	require.NoError(t, store.SaveRefreshRun(ctx, run))

	require.NoError(t, store.SaveRefreshRun(ctx, etl.RefreshRun{
		ID: "run-2", Trigger: etl.TriggerBackground,
		PeriodStart: "2025-09-01", PeriodEnd: "2025-09-30",
		Status: etl.RunRunning, StartedAt: started.Add(time.Hour),
	}))

	runs, err := store.ListRefreshRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID, "newest first")

	limited, err := store.ListRefreshRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	got, err := store.GetRefreshRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, etl.RunFailed, got.Status)
	assert.Equal(t, etl.TriggerManual, got.Trigger)
	assert.Equal(t, 3, got.MonthlyCount)
	assert.Equal(t, "extraction submit: no_task_id", got.Error)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	assert.True(t, got.StartedAt.Equal(started))

	_, err = store.GetRefreshRun(ctx, "missing")
	assert.ErrorIs(t, err, etl.ErrNotFound)
}
