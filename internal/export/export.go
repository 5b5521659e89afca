// Package export writes the yearly consortium overview as a spreadsheet.
package export

import (
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
)

// SheetName is the name of the overview sheet.
const SheetName = "Operational cost"

// Header lists the overview columns in order.
var Header = []string{
	"Country", "Code", "Year", "Status",
	"Contributions", "National coordinators", "JRC members", "WG chairs", "Partner institutions",
	"Small meetings", "Medium meetings", "Large meetings", "DARIAH commissioned events",
	"National websites", "Social media",
	"Small services", "Medium services", "Large services", "Core services",
	"Roles cost", "Events cost", "Outreach cost", "Services cost",
	"Operational cost", "Threshold",
}

// Record flattens a row into cells matching Header.
func Record(r engine.ExportRow) []string {
	c := r.Calculation.Count
	s := r.Calculation.ServicesBySize
	k := r.Calculation.Costs
	threshold := ""
	if r.OperationalCostThreshold != nil {
		threshold = strconv.FormatInt(*r.OperationalCostThreshold, 10)
	}
	ints := []int{
		c.Contributions, c.NationalCoordinators, c.JRCMembers, c.WGChairs, c.PartnerInstitutions,
		c.SmallMeetings, c.MediumMeetings, c.LargeMeetings, c.DariahCommissionedEvents,
		c.NationalWebsites, c.SocialMedia,
		s.Small, s.Medium, s.Large, s.Core,
	}
	rec := []string{r.CountryName, r.CountryCode, strconv.Itoa(r.Year), r.Status}
	for _, v := range ints {
		rec = append(rec, strconv.Itoa(v))
	}
	for _, v := range []int64{k.Roles, k.Events, k.Outreach, k.Services, r.OperationalCost} {
		rec = append(rec, strconv.FormatInt(v, 10))
	}
	return append(rec, threshold)
}

// Workbook builds the overview workbook. Numeric columns are stored as
// numbers.
func Workbook(rows []engine.ExportRow) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: add sheet")
	}
	head := sheet.AddRow()
	for _, h := range Header {
		head.AddCell().SetString(h)
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for i, v := range Record(r) {
			cell := row.AddCell()
			if i < 2 || i == 3 || v == "" {
				cell.SetString(v)
				continue
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				cell.SetString(v)
				continue
			}
			cell.SetInt64(n)
		}
	}
	return f, nil
}

// Write streams the overview workbook to w.
func Write(w io.Writer, rows []engine.ExportRow) error {
	f, err := Workbook(rows)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write")
	}
	return nil
}

// Save writes the overview workbook to path.
func Save(path string, rows []engine.ExportRow) error {
	f, err := Workbook(rows)
	if err != nil {
		return err
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}
