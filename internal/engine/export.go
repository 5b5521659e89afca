package engine

import (
	"context"
	"sort"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

// ExportRow is one country report of a year in the consortium overview.
type ExportRow struct {
	CountryCode              string           `json:"country_code"`
	CountryName              string           `json:"country_name"`
	Year                     int              `json:"year"`
	Status                   string           `json:"status"`
	Calculation              calc.Calculation `json:"calculation"`
	OperationalCost          int64            `json:"operational_cost"`
	OperationalCostThreshold *int64           `json:"operational_cost_threshold,omitempty"`
}

// ExportYear returns a row per report of year, restricted to countryID when
// set. Confirmed reports use their stored breakdown.
func (e Engine) ExportYear(ctx context.Context, year int, countryID string) ([]ExportRow, error) {
	reports, err := e.Repo.ListReports(ctx, repo.ReportFilters{Year: year, CountryID: countryID})
	if err != nil {
		return nil, err
	}
	countries, err := e.Repo.ListCountries(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Country, len(countries))
	for _, c := range countries {
		byID[c.ID] = c
	}
	rows := make([]ExportRow, 0, len(reports))
	for _, rep := range reports {
		result, ok := StoredCalculation(rep)
		if !ok || rep.Status != domain.ReportFinal {
			result, err = e.calculate(ctx, rep)
			if err != nil {
				return nil, err
			}
		}
		c := byID[rep.CountryID]
		rows = append(rows, ExportRow{
			CountryCode:              c.Code,
			CountryName:              c.Name,
			Year:                     rep.Year,
			Status:                   rep.Status,
			Calculation:              result,
			OperationalCost:          result.OperationalCost,
			OperationalCostThreshold: rep.OperationalCostThreshold,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CountryName < rows[j].CountryName })
	return rows, nil
}
