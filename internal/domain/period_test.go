package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(s string) *string { return &s }

func TestActiveInYear(t *testing.T) {
	tests := []struct {
		name       string
		start, end *string
		want       bool
	}{
		{"open both ends", nil, nil, true},
		{"starts inside", ptr("2023-06-01"), nil, true},
		{"starts next year", ptr("2024-01-01"), nil, false},
		{"ends previous year", nil, ptr("2022-12-31"), false},
		{"ends on first day", nil, ptr("2023-01-01"), true},
		{"starts on last day", ptr("2023-12-31"), nil, true},
		{"spans the year", ptr("2020-01-01"), ptr("2030-01-01"), true},
		{"timestamp bounds", ptr("2023-12-31T23:00:00Z"), ptr("2024-02-01T00:00:00Z"), true},
		{"empty strings are open", ptr(""), ptr(""), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActiveInYear(tt.start, tt.end, 2023))
		})
	}
}

func TestYearBounds(t *testing.T) {
	first, last := YearBounds(2024)
	assert.Equal(t, "2024-01-01", first)
	assert.Equal(t, "2024-12-31", last)
}

func TestValidPeriod(t *testing.T) {
	assert.True(t, ValidPeriod(nil, nil))
	assert.True(t, ValidPeriod(ptr("2023-01-01"), nil))
	assert.True(t, ValidPeriod(ptr("2023-01-01"), ptr("2023-01-01")))
	assert.False(t, ValidPeriod(ptr("2023-02-01"), ptr("2023-01-31")))
}
