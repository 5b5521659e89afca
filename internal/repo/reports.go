package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

const reportColumns = `id,country_id,year,status,comments_json,contributions_count,operational_cost,operational_cost_threshold,operational_cost_detail,created_at,updated_at`

// ReportFilters narrows report listings.
type ReportFilters struct {
	CountryID string
	Year      int
	Status    string
}

func scanReport(row rowScanner) (domain.Report, error) {
	var rep domain.Report
	var comments string
	var count, cost, threshold sql.NullInt64
	var detail sql.NullString
	err := row.Scan(&rep.ID, &rep.CountryID, &rep.Year, &rep.Status, &comments, &count, &cost, &threshold, &detail, &rep.CreatedAt, &rep.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	rep.Comments = map[string]string{}
	if comments != "" {
		_ = json.Unmarshal([]byte(comments), &rep.Comments)
	}
	rep.ContributionsCount = intPtr(count)
	rep.OperationalCost = int64Ptr(cost)
	rep.OperationalCostThreshold = int64Ptr(threshold)
	rep.OperationalCostDetail = stringPtr(detail)
	return rep, nil
}

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	if rep.Comments == nil {
		rep.Comments = map[string]string{}
	}
	comments, err := json.Marshal(rep.Comments)
	if err != nil {
		return err
	}
	if rep.CreatedAt == "" {
		rep.CreatedAt = nowString()
	}
	if rep.UpdatedAt == "" {
		rep.UpdatedAt = rep.CreatedAt
	}
	_, err = r.exec(ctx, tx, `INSERT INTO reports(id,country_id,year,status,comments_json,contributions_count,operational_cost,operational_cost_threshold,operational_cost_detail,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.CountryID, rep.Year, rep.Status, string(comments), nullableIntPtr(rep.ContributionsCount),
		nullableInt64Ptr(rep.OperationalCost), nullableInt64Ptr(rep.OperationalCostThreshold), nullableStringPtr(rep.OperationalCostDetail),
		rep.CreatedAt, rep.UpdatedAt)
	return wrapErr(err)
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return scanReport(r.queryRow(ctx, nil, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id))
}

func (r Repo) GetReportByCountryYear(ctx context.Context, countryID string, year int) (domain.Report, error) {
	return scanReport(r.queryRow(ctx, nil, `SELECT `+reportColumns+` FROM reports WHERE country_id=? AND year=?`, countryID, year))
}

// PreviousReport returns the latest report of the country before year.
func (r Repo) PreviousReport(ctx context.Context, countryID string, year int) (domain.Report, error) {
	return scanReport(r.queryRow(ctx, nil, `SELECT `+reportColumns+` FROM reports WHERE country_id=? AND year<? ORDER BY year DESC LIMIT 1`, countryID, year))
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	q := r.builder().Select(reportColumns).From("reports").OrderBy("year DESC", "country_id")
	if f.CountryID != "" {
		q = q.Where(squirrel.Eq{"country_id": f.CountryID})
	}
	if f.Year > 0 {
		q = q.Where(squirrel.Eq{"year": f.Year})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// ReportUpdate is a partial report update; nil fields are left unchanged.
type ReportUpdate struct {
	Status                   *string
	ContributionsCount       *int
	ClearContributionsCount  bool
	OperationalCostThreshold *int64
	Comments                 map[string]string
}

func (r Repo) UpdateReport(ctx context.Context, tx *sql.Tx, id string, u ReportUpdate) error {
	q := r.builder().Update("reports").Set("updated_at", nowString()).Where(squirrel.Eq{"id": id})
	if u.Status != nil {
		q = q.Set("status", *u.Status)
	}
	if u.ContributionsCount != nil {
		q = q.Set("contributions_count", *u.ContributionsCount)
	} else if u.ClearContributionsCount {
		q = q.Set("contributions_count", nil)
	}
	if u.OperationalCostThreshold != nil {
		q = q.Set("operational_cost_threshold", *u.OperationalCostThreshold)
	}
	if u.Comments != nil {
		b, err := json.Marshal(u.Comments)
		if err != nil {
			return err
		}
		q = q.Set("comments_json", string(b))
	}
	res, err := r.execBuilder(ctx, tx, q)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StoreOperationalCost persists the calculation snapshot of a report.
func (r Repo) StoreOperationalCost(ctx context.Context, tx *sql.Tx, id string, cost int64, detailJSON string) error {
	return r.execAffecting(ctx, tx, `UPDATE reports SET operational_cost=?, operational_cost_detail=?, updated_at=? WHERE id=?`,
		cost, detailJSON, nowString(), id)
}

func (r Repo) DeleteReport(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM reports WHERE id=?`, id)
}

// GetEventReport returns the event counts of a report. A report without
// a stored row yields zero counts.
func (r Repo) GetEventReport(ctx context.Context, reportID string) (domain.EventReport, error) {
	ev := domain.EventReport{ReportID: reportID}
	var commissioned, outcomes sql.NullString
	err := r.queryRow(ctx, nil, `SELECT small_meetings,medium_meetings,large_meetings,dariah_commissioned_event,reusable_outcomes,updated_at FROM event_reports WHERE report_id=?`, reportID).
		Scan(&ev.SmallMeetings, &ev.MediumMeetings, &ev.LargeMeetings, &commissioned, &outcomes, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, nil
	}
	if err != nil {
		return ev, err
	}
	ev.DariahCommissionedEvent = commissioned.String
	ev.ReusableOutcomes = outcomes.String
	return ev, nil
}

func (r Repo) UpsertEventReport(ctx context.Context, tx *sql.Tx, ev domain.EventReport) error {
	if ev.UpdatedAt == "" {
		ev.UpdatedAt = nowString()
	}
	_, err := r.exec(ctx, tx, `INSERT INTO event_reports(report_id,small_meetings,medium_meetings,large_meetings,dariah_commissioned_event,reusable_outcomes,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(report_id) DO UPDATE SET small_meetings=excluded.small_meetings, medium_meetings=excluded.medium_meetings, large_meetings=excluded.large_meetings,
dariah_commissioned_event=excluded.dariah_commissioned_event, reusable_outcomes=excluded.reusable_outcomes, updated_at=excluded.updated_at`,
		ev.ReportID, ev.SmallMeetings, ev.MediumMeetings, ev.LargeMeetings, nullable(ev.DariahCommissionedEvent), nullable(ev.ReusableOutcomes), ev.UpdatedAt)
	return err
}

func (r Repo) ListProjectFunding(ctx context.Context, reportID string) ([]domain.ProjectFundingLeverage, error) {
	rows, err := r.query(ctx, nil, `SELECT id,report_id,name,amount,COALESCE(funders,''),project_months,start_date,COALESCE(scope,''),created_at FROM project_funding_leverages WHERE report_id=? ORDER BY created_at, name`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ProjectFundingLeverage{}
	for rows.Next() {
		var p domain.ProjectFundingLeverage
		var amount, months sql.NullInt64
		var start sql.NullString
		if err := rows.Scan(&p.ID, &p.ReportID, &p.Name, &amount, &p.Funders, &months, &start, &p.Scope, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Amount = int64Ptr(amount)
		p.ProjectMonths = intPtr(months)
		p.StartDate = stringPtr(start)
		res = append(res, p)
	}
	return res, rows.Err()
}

// ReplaceProjectFunding swaps the funding items of a report for items.
func (r Repo) ReplaceProjectFunding(ctx context.Context, tx *sql.Tx, reportID string, items []domain.ProjectFundingLeverage) error {
	if _, err := r.exec(ctx, tx, `DELETE FROM project_funding_leverages WHERE report_id=?`, reportID); err != nil {
		return err
	}
	now := nowString()
	for _, p := range items {
		if p.CreatedAt == "" {
			p.CreatedAt = now
		}
		if _, err := r.exec(ctx, tx, `INSERT INTO project_funding_leverages(id,report_id,name,amount,funders,project_months,start_date,scope,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			p.ID, reportID, p.Name, nullableInt64Ptr(p.Amount), nullable(p.Funders), nullableIntPtr(p.ProjectMonths),
			nullableStringPtr(p.StartDate), nullable(p.Scope), p.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetCampaign(ctx context.Context, year int) (domain.ReportCampaign, error) {
	var c domain.ReportCampaign
	err := r.queryRow(ctx, nil, `SELECT year,status,created_at FROM report_campaigns WHERE year=?`, year).Scan(&c.Year, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCampaigns(ctx context.Context) ([]domain.ReportCampaign, error) {
	rows, err := r.query(ctx, nil, `SELECT year,status,created_at FROM report_campaigns ORDER BY year DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReportCampaign{}
	for rows.Next() {
		var c domain.ReportCampaign
		if err := rows.Scan(&c.Year, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCampaign(ctx context.Context, tx *sql.Tx, c domain.ReportCampaign) error {
	if c.CreatedAt == "" {
		c.CreatedAt = nowString()
	}
	_, err := r.exec(ctx, tx, `INSERT INTO report_campaigns(year,status,created_at) VALUES (?,?,?)
ON CONFLICT(year) DO UPDATE SET status=excluded.status`, c.Year, c.Status, c.CreatedAt)
	return err
}
