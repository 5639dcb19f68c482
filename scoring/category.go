package scoring

import "strings"

// Category is the closed set of indicator groupings used for subtotals.
type Category string

const (
	CategoryProcess    Category = "process"
	CategoryManagement Category = "management"
	CategoryOther      Category = "other"
)

// Marker words matched against free-text category labels. Management is
// checked first so a label naming both counts as management.
var (
	managementMarkers = []string{"管理", "management"}
	processMarkers    = []string{"过程", "流程", "process", "operation"}
)

// Classify maps a free-text category label to a Category by substring
// match, case-insensitively.
func Classify(label string) Category {
	l := strings.ToLower(label)
	for _, m := range managementMarkers {
		if strings.Contains(l, m) {
			return CategoryManagement
		}
	}
	for _, m := range processMarkers {
		if strings.Contains(l, m) {
			return CategoryProcess
		}
	}
	return CategoryOther
}

// ParseCategory parses a stored category tag.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryProcess, CategoryManagement, CategoryOther:
		return c, true
	}
	return "", false
}
