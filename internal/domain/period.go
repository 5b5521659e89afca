package domain

import "fmt"

// YearBounds returns the first and last day of year as YYYY-MM-DD.
func YearBounds(year int) (string, string) {
	return fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year)
}

// ActiveInYear reports whether [start, end] overlaps the calendar year.
// Nil bounds are open.
func ActiveInYear(start, end *string, year int) bool {
	first, last := YearBounds(year)
	if start != nil && *start != "" && datePart(*start) > last {
		return false
	}
	if end != nil && *end != "" && datePart(*end) < first {
		return false
	}
	return true
}

func datePart(v string) string {
	if len(v) > 10 {
		return v[:10]
	}
	return v
}

// ValidPeriod reports whether start is not after end. Open bounds are valid.
func ValidPeriod(start, end *string) bool {
	if start == nil || end == nil || *start == "" || *end == "" {
		return true
	}
	return datePart(*start) <= datePart(*end)
}
