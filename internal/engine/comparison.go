package engine

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

// Delta compares a value with the same value of the previous year.
// Previous and Change are unset when there is nothing to compare with.
type Delta struct {
	Current  int64  `json:"current"`
	Previous *int64 `json:"previous,omitempty"`
	Change   *int64 `json:"change,omitempty"`
}

func newDelta(current int64, previous *int64) Delta {
	d := Delta{Current: current}
	if previous != nil {
		p := *previous
		c := current - p
		d.Previous = &p
		d.Change = &c
	}
	return d
}

type KPIDelta struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Delta Delta  `json:"delta"`
}

type Comparison struct {
	ReportID            string           `json:"report_id"`
	Year                int              `json:"year"`
	PreviousReportID    string           `json:"previous_report_id,omitempty"`
	Contributions       Delta            `json:"contributions"`
	Events              map[string]Delta `json:"events"`
	Outreach            []KPIDelta       `json:"outreach"`
	Services            []KPIDelta       `json:"services"`
	ProjectFundingTotal Delta            `json:"project_funding_total"`
	OperationalCost     Delta            `json:"operational_cost"`
}

// CompareWithPreviousYear compares a report with the country's report of the
// year before. A final report uses its stored operational cost; a draft is
// calculated.
func (e Engine) CompareWithPreviousYear(ctx context.Context, countryID, reportID string) (Comparison, error) {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return Comparison{}, err
	}
	prev, err := e.previousReport(ctx, rep)
	if err != nil {
		return Comparison{}, err
	}
	cmp := Comparison{ReportID: rep.ID, Year: rep.Year, PreviousReportID: idOf(prev)}

	cur, err := e.contributionsCount(ctx, rep)
	if err != nil {
		return Comparison{}, err
	}
	var prevCount *int64
	if prev != nil {
		n, err := e.contributionsCount(ctx, *prev)
		if err != nil {
			return Comparison{}, err
		}
		prevCount = int64Of(n)
	}
	cmp.Contributions = newDelta(*int64Of(cur), prevCount)

	ev, err := e.Repo.GetEventReport(ctx, rep.ID)
	if err != nil {
		return Comparison{}, err
	}
	var pev *domain.EventReport
	if prev != nil {
		v, err := e.Repo.GetEventReport(ctx, prev.ID)
		if err != nil {
			return Comparison{}, err
		}
		pev = &v
	}
	cmp.Events = eventDeltas(ev, pev)

	cmp.Outreach, err = e.outreachDeltas(ctx, rep, prev)
	if err != nil {
		return Comparison{}, err
	}
	cmp.Services, err = e.serviceDeltas(ctx, rep, prev)
	if err != nil {
		return Comparison{}, err
	}

	funding, err := e.Repo.ListProjectFunding(ctx, rep.ID)
	if err != nil {
		return Comparison{}, err
	}
	var prevFunding *int64
	if prev != nil {
		items, err := e.Repo.ListProjectFunding(ctx, prev.ID)
		if err != nil {
			return Comparison{}, err
		}
		t := summaryFunding(items).Total
		prevFunding = &t
	}
	cmp.ProjectFundingTotal = newDelta(summaryFunding(funding).Total, prevFunding)

	cost, err := e.operationalCost(ctx, rep)
	if err != nil {
		return Comparison{}, err
	}
	var prevCost *int64
	if prev != nil {
		c, err := e.operationalCost(ctx, *prev)
		if err != nil {
			return Comparison{}, err
		}
		prevCost = &c
	}
	cmp.OperationalCost = newDelta(cost, prevCost)
	return cmp, nil
}

// operationalCost returns the stored cost of a confirmed report or calculates
// it for a draft.
func (e Engine) operationalCost(ctx context.Context, rep domain.Report) (int64, error) {
	if rep.Status == domain.ReportFinal && rep.OperationalCost != nil {
		return *rep.OperationalCost, nil
	}
	result, err := e.calculate(ctx, rep)
	if err != nil {
		return 0, err
	}
	return result.OperationalCost, nil
}

// StoredCalculation decodes the breakdown stored when a report was confirmed.
// The threshold is the report's current one, which may have changed since.
func StoredCalculation(rep domain.Report) (calc.Calculation, bool) {
	if rep.OperationalCostDetail == nil {
		return calc.Calculation{}, false
	}
	var c calc.Calculation
	if err := json.Unmarshal([]byte(*rep.OperationalCostDetail), &c); err != nil {
		return calc.Calculation{}, false
	}
	c.OperationalCostThreshold = rep.OperationalCostThreshold
	return c, true
}

func int64Of(n *int) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}

func eventDeltas(cur domain.EventReport, prev *domain.EventReport) map[string]Delta {
	counts := func(ev domain.EventReport) map[string]int64 {
		return map[string]int64{
			domain.EventSmall:              int64(ev.SmallMeetings),
			domain.EventMedium:             int64(ev.MediumMeetings),
			domain.EventLarge:              int64(ev.LargeMeetings),
			domain.EventDariahCommissioned: int64(calc.DariahCommissionedCount(ev.DariahCommissionedEvent)),
		}
	}
	c := counts(cur)
	var p map[string]int64
	if prev != nil {
		p = counts(*prev)
	}
	res := make(map[string]Delta, len(c))
	for k, v := range c {
		var pv *int64
		if p != nil {
			x := p[k]
			pv = &x
		}
		res[k] = newDelta(v, pv)
	}
	return res
}

// kpiDeltas pairs KPIs by (entity, unit). Units reported only last year
// appear with a zero current value.
func kpiDeltas(names map[string]string, cur, prev map[string][]domain.KPI, hasPrev bool) []KPIDelta {
	type key struct{ id, unit string }
	values := map[key]*KPIDelta{}
	get := func(id, unit string) *KPIDelta {
		k := key{id, unit}
		if d, ok := values[k]; ok {
			return d
		}
		d := &KPIDelta{ID: id, Name: names[id], Unit: unit}
		if hasPrev {
			zero := int64(0)
			d.Delta.Previous = &zero
		}
		values[k] = d
		return d
	}
	for id, kpis := range cur {
		if _, ok := names[id]; !ok {
			continue
		}
		for _, k := range kpis {
			get(id, k.Unit).Delta.Current = k.Value
		}
	}
	if hasPrev {
		for id, kpis := range prev {
			if _, ok := names[id]; !ok {
				continue
			}
			for _, k := range kpis {
				v := k.Value
				get(id, k.Unit).Delta.Previous = &v
			}
		}
	}
	res := make([]KPIDelta, 0, len(values))
	for _, d := range values {
		d.Delta = newDelta(d.Delta.Current, d.Delta.Previous)
		res = append(res, *d)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		if res[i].ID != res[j].ID {
			return res[i].ID < res[j].ID
		}
		return res[i].Unit < res[j].Unit
	})
	return res
}

func (e Engine) outreachDeltas(ctx context.Context, rep domain.Report, prev *domain.Report) ([]KPIDelta, error) {
	items, err := e.Repo.ListOutreach(ctx, repo.OutreachFilters{CountryID: rep.CountryID})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(items))
	for _, o := range items {
		names[o.ID] = o.Name
	}
	cur, err := kpisByID(ctx, rep.ID, e.outreachKPIs)
	if err != nil {
		return nil, err
	}
	old, err := kpisByID(ctx, idOf(prev), e.outreachKPIs)
	if err != nil {
		return nil, err
	}
	return kpiDeltas(names, cur, old, prev != nil), nil
}

func (e Engine) serviceDeltas(ctx context.Context, rep domain.Report, prev *domain.Report) ([]KPIDelta, error) {
	items, err := e.Repo.ListServices(ctx, repo.ServiceFilters{CountryID: rep.CountryID})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(items))
	for _, s := range items {
		names[s.ID] = s.Name
	}
	cur, err := kpisByID(ctx, rep.ID, e.serviceKPIs)
	if err != nil {
		return nil, err
	}
	old, err := kpisByID(ctx, idOf(prev), e.serviceKPIs)
	if err != nil {
		return nil, err
	}
	return kpiDeltas(names, cur, old, prev != nil), nil
}
