package transform

import (
	"strings"

	"github.com/geekane/1127jixiao/etl"
)

// Assignment sheet header labels.
const (
	headerGroup     = "小组"
	headerStoreName = "门店名称"
	headerStoreID   = "门店id"
	headerPerson    = "人员"
)

// ParseAssignments reads a store-to-operator sheet. A person cell naming
// several operators separated by "," "、" or "，" yields one assignment per
// operator; blank names are dropped. The header row is matched
// case-insensitively, so "门店ID" is accepted too.
func ParseAssignments(data []byte, filename string) ([]etl.StoreAssignment, error) {
	rows, err := ReadRows(data, filename)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := map[string]int{}
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := func(row []string, header string) string {
		i, ok := idx[header]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []etl.StoreAssignment
	for _, row := range rows[1:] {
		for _, person := range splitPersons(col(row, headerPerson)) {
			out = append(out, etl.StoreAssignment{
				GroupID:   col(row, headerGroup),
				StoreID:   col(row, headerStoreID),
				StoreName: col(row, headerStoreName),
				Person:    person,
			})
		}
	}
	return out, nil
}

func splitPersons(cell string) []string {
	parts := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == '、' || r == '，'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
