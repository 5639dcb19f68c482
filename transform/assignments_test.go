package transform_test

import (
	"testing"

	"github.com/geekane/1127jixiao/etl"
	"github.com/geekane/1127jixiao/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssignments_SplitsMultiPersonCells(t *testing.T) {
	// GIVEN: a store shared by three operators using mixed separators
	// WHEN: parsing the sheet
	// THEN: one assignment per operator, blank names dropped

	raw := workbook(t, [][]any{
		{"小组", "门店名称", "门店ID", "人员"},
		{"1组", "一号店", "S1", "张三"},
		{"1组", "二号店", "S2", "张三, 李四、王五，"},
		{"2组", "三号店", "S3", ""},
	})

	got, err := transform.ParseAssignments(raw, "groups.xlsx")
	require.NoError(t, err)

	assert.Equal(t, []etl.StoreAssignment{
		{GroupID: "1组", StoreID: "S1", StoreName: "一号店", Person: "张三"},
		{GroupID: "1组", StoreID: "S2", StoreName: "二号店", Person: "张三"},
		{GroupID: "1组", StoreID: "S2", StoreName: "二号店", Person: "李四"},
		{GroupID: "1组", StoreID: "S2", StoreName: "二号店", Person: "王五"},
	}, got)
}

func TestParseAssignments_LowercaseStoreIDHeader(t *testing.T) {
	raw := workbook(t, [][]any{
		{"人员", "门店id"},
		{"张三", "S9"},
	})

	got, err := transform.ParseAssignments(raw, "groups.xlsx")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "S9", got[0].StoreID)
	assert.Empty(t, got[0].GroupID)
}

func TestParseAssignments_NoRecords(t *testing.T) {
	raw := workbook(t, [][]any{{"小组", "门店名称", "门店ID", "人员"}})

	got, err := transform.ParseAssignments(raw, "groups.xlsx")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseAssignments_BadLegacyWorkbook(t *testing.T) {
	_, err := transform.ParseAssignments([]byte("garbage"), "groups.xls")
	assert.Error(t, err)
}
