package export

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
)

func sampleRows() []engine.ExportRow {
	threshold := int64(5000)
	return []engine.ExportRow{
		{
			CountryCode: "AT",
			CountryName: "Austria",
			Year:        2024,
			Status:      "final",
			Calculation: calc.Calculation{
				Count:          calc.Count{Contributions: 3, JRCMembers: 2, SmallMeetings: 1, NationalWebsites: 1},
				ServicesBySize: calc.ServicesBySize{Small: 1},
				Costs:          calc.Costs{Roles: 2000, Events: 500, Outreach: 500, Services: 2000},
			},
			OperationalCost:          5000,
			OperationalCostThreshold: &threshold,
		},
		{CountryCode: "HR", CountryName: "Croatia", Year: 2024, Status: "draft"},
	}
}

func TestRecordMatchesHeader(t *testing.T) {
	for _, r := range sampleRows() {
		assert.Len(t, Record(r), len(Header))
	}
	rec := Record(sampleRows()[0])
	assert.Equal(t, "Austria", rec[0])
	assert.Equal(t, "5000", rec[len(rec)-2])
	assert.Equal(t, "5000", rec[len(rec)-1])
	assert.Equal(t, "", Record(sampleRows()[1])[len(Header)-1])
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleRows()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "Country", sheet.Rows[0].Cells[0].Value)
	assert.Equal(t, "Austria", sheet.Rows[1].Cells[0].Value)
	assert.Equal(t, "2000", sheet.Rows[1].Cells[19].Value)
	assert.Equal(t, "Croatia", sheet.Rows[2].Cells[0].Value)
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overview.xlsx")
	require.NoError(t, Save(path, sampleRows()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	assert.Equal(t, SheetName, f.Sheets[0].Name)
}
