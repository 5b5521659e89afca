package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/events"
	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

// reportOf loads a report and checks that it belongs to countryID.
func (e Engine) reportOf(ctx context.Context, countryID, reportID string) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Report{}, ErrReportNotFound
	}
	if err != nil {
		return domain.Report{}, err
	}
	if countryID != "" && rep.CountryID != countryID {
		return domain.Report{}, ErrReportNotFound
	}
	return rep, nil
}

// GetReport returns a report of countryID, or of any country when countryID
// is empty.
func (e Engine) GetReport(ctx context.Context, countryID, reportID string) (domain.Report, error) {
	return e.reportOf(ctx, countryID, reportID)
}

// ensureEditable rejects writes to final reports and reports whose campaign
// is not open.
func (e Engine) ensureEditable(ctx context.Context, rep domain.Report) error {
	if rep.Status == domain.ReportFinal {
		return ErrReportFinal
	}
	return e.ensureCampaignOpen(ctx, rep.Year)
}

func (e Engine) ensureCampaignOpen(ctx context.Context, year int) error {
	c, err := e.Repo.GetCampaign(ctx, year)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrCampaignClosed
	}
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignOpen {
		return ErrCampaignClosed
	}
	return nil
}

// CampaignOptions opens or closes the reporting campaign of a year.
type CampaignOptions struct {
	Year   int
	Status string
	// CreateReports adds draft reports for every member country active in
	// the year when the campaign is opened.
	CreateReports bool
	ActorID       string
}

// CampaignResult is the campaign and the reports created alongside it.
type CampaignResult struct {
	Campaign domain.ReportCampaign `json:"campaign"`
	Created  []domain.Report       `json:"created"`
}

func (e Engine) SetCampaignStatus(ctx context.Context, opts CampaignOptions) (CampaignResult, error) {
	if opts.Year < 2000 || opts.Year > 2100 {
		return CampaignResult{}, forms.Invalid("year", "Must be between 2000 and 2100")
	}
	if opts.Status != domain.CampaignOpen && opts.Status != domain.CampaignClosed {
		return CampaignResult{}, forms.Invalid("status", "Must be one of: open, closed")
	}
	created := []domain.Report{}
	if opts.CreateReports && opts.Status == domain.CampaignOpen {
		all, err := e.Repo.ListCountries(ctx)
		if err != nil {
			return CampaignResult{}, err
		}
		for _, c := range all {
			if c.Type != domain.CountryMember || !domain.ActiveInYear(c.StartDate, c.EndDate, opts.Year) {
				continue
			}
			rep, ok, err := e.planReport(ctx, c.ID, opts.Year)
			if err != nil {
				return CampaignResult{}, err
			}
			if ok {
				created = append(created, rep)
			}
		}
	}
	m := mutation{
		Type:       events.CampaignChanged,
		EntityKind: "campaign",
		EntityID:   fmt.Sprint(opts.Year),
		ActorID:    opts.ActorID,
		Payload:    events.EventPayload{"status": opts.Status},
	}
	err := e.inTx(ctx, m, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertCampaign(ctx, tx, domain.ReportCampaign{Year: opts.Year, Status: opts.Status, CreatedAt: e.nowString()}); err != nil {
			return err
		}
		for _, rep := range created {
			if err := e.insertReport(ctx, tx, rep, opts.ActorID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CampaignResult{}, err
	}
	campaign, err := e.Repo.GetCampaign(ctx, opts.Year)
	if err != nil {
		return CampaignResult{}, err
	}
	return CampaignResult{Campaign: campaign, Created: created}, nil
}

// planReport builds the draft report of (country, year), or reports false
// when one already exists. The threshold is carried over from the country's
// previous report.
func (e Engine) planReport(ctx context.Context, countryID string, year int) (domain.Report, bool, error) {
	if _, err := e.Repo.GetReportByCountryYear(ctx, countryID, year); err == nil {
		return domain.Report{}, false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Report{}, false, err
	}
	now := e.nowString()
	rep := domain.Report{
		ID:        newID(),
		CountryID: countryID,
		Year:      year,
		Status:    domain.ReportDraft,
		Comments:  map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	prev, err := e.Repo.PreviousReport(ctx, countryID, year)
	switch {
	case err == nil:
		rep.OperationalCostThreshold = prev.OperationalCostThreshold
	case !errors.Is(err, repo.ErrNotFound):
		return domain.Report{}, false, err
	}
	return rep, true, nil
}

func (e Engine) insertReport(ctx context.Context, tx *sql.Tx, rep domain.Report, actorID string) error {
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, events.ReportCreated, rep.CountryID, "report", rep.ID, actorID, events.EventPayload{"year": rep.Year})
}

// CreateReportOptions creates the draft report of a country for a year.
type CreateReportOptions struct {
	CountryID string `json:"country_id" validate:"required"`
	Year      int    `json:"year" validate:"required,gte=2000,lte=2100"`
	ActorID   string `json:"-"`
}

func (e Engine) CreateReport(ctx context.Context, opts CreateReportOptions) (domain.Report, error) {
	if err := forms.Validate(opts); err != nil {
		return domain.Report{}, err
	}
	if _, err := e.Repo.GetCountry(ctx, opts.CountryID); err != nil {
		return domain.Report{}, err
	}
	if err := e.ensureCampaignOpen(ctx, opts.Year); err != nil {
		return domain.Report{}, err
	}
	rep, ok, err := e.planReport(ctx, opts.CountryID, opts.Year)
	if err != nil {
		return domain.Report{}, err
	}
	if !ok {
		return domain.Report{}, forms.Invalid("year", "A report for this country and year already exists")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()
	if err := e.insertReport(ctx, tx, rep, opts.ActorID); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return e.Repo.GetReport(ctx, rep.ID)
}

// SetThresholdOptions changes the operational cost threshold of a report.
type SetThresholdOptions struct {
	CountryID string
	ReportID  string
	Threshold int64
	ActorID   string
}

func (e Engine) SetOperationalCostThreshold(ctx context.Context, opts SetThresholdOptions) (domain.Report, error) {
	if opts.Threshold < 0 {
		return domain.Report{}, forms.Invalid("operational_cost_threshold", "Must be at least 0")
	}
	rep, err := e.reportOf(ctx, opts.CountryID, opts.ReportID)
	if err != nil {
		return domain.Report{}, err
	}
	m := mutation{
		Type:       events.ReportUpdated,
		CountryID:  rep.CountryID,
		EntityKind: "report",
		EntityID:   rep.ID,
		ActorID:    opts.ActorID,
		Payload:    events.EventPayload{"operational_cost_threshold": opts.Threshold},
	}
	err = e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.UpdateReport(ctx, tx, rep.ID, repo.ReportUpdate{OperationalCostThreshold: &opts.Threshold})
	})
	if err != nil {
		return domain.Report{}, err
	}
	return e.Repo.GetReport(ctx, rep.ID)
}

// ConfirmReport calculates the operational cost, stores it with its
// breakdown and marks the report final.
func (e Engine) ConfirmReport(ctx context.Context, countryID, reportID, actorID string) (domain.Report, calc.Calculation, error) {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return domain.Report{}, calc.Calculation{}, err
	}
	return e.confirm(ctx, rep, nil, actorID)
}

// confirm stores the confirm-step comment, when given, together with the
// cost snapshot. Nothing is written if the calculation fails.
func (e Engine) confirm(ctx context.Context, rep domain.Report, comment *string, actorID string) (domain.Report, calc.Calculation, error) {
	if err := e.ensureEditable(ctx, rep); err != nil {
		return domain.Report{}, calc.Calculation{}, err
	}
	result, err := e.calculate(ctx, rep)
	if err != nil {
		return domain.Report{}, calc.Calculation{}, err
	}
	detail, err := json.Marshal(result)
	if err != nil {
		return domain.Report{}, calc.Calculation{}, err
	}
	final := domain.ReportFinal
	m := mutation{
		Type:       events.ReportConfirmed,
		CountryID:  rep.CountryID,
		EntityKind: "report",
		EntityID:   rep.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"operational_cost": result.OperationalCost, "year": rep.Year},
	}
	err = e.inTx(ctx, m, func(tx *sql.Tx) error {
		if err := e.Repo.StoreOperationalCost(ctx, tx, rep.ID, result.OperationalCost, string(detail)); err != nil {
			return err
		}
		upd := repo.ReportUpdate{Status: &final}
		if comment != nil {
			upd.Comments = withComment(rep.Comments, StepConfirm, *comment)
		}
		return e.Repo.UpdateReport(ctx, tx, rep.ID, upd)
	})
	if err != nil {
		return domain.Report{}, calc.Calculation{}, err
	}
	rep, err = e.Repo.GetReport(ctx, rep.ID)
	return rep, result, err
}

// ReopenReport puts a final report back into draft.
func (e Engine) ReopenReport(ctx context.Context, countryID, reportID, actorID string) (domain.Report, error) {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if rep.Status == domain.ReportDraft {
		return rep, nil
	}
	if err := e.ensureCampaignOpen(ctx, rep.Year); err != nil {
		return domain.Report{}, err
	}
	draft := domain.ReportDraft
	m := mutation{
		Type:       events.ReportReopened,
		CountryID:  rep.CountryID,
		EntityKind: "report",
		EntityID:   rep.ID,
		ActorID:    actorID,
	}
	err = e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.UpdateReport(ctx, tx, rep.ID, repo.ReportUpdate{Status: &draft})
	})
	if err != nil {
		return domain.Report{}, err
	}
	return e.Repo.GetReport(ctx, rep.ID)
}

// DeleteReport removes a draft report and everything reported with it.
func (e Engine) DeleteReport(ctx context.Context, countryID, reportID, actorID string) error {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return err
	}
	if rep.Status == domain.ReportFinal {
		return ErrReportFinal
	}
	m := mutation{
		Type:       events.ReportUpdated,
		CountryID:  rep.CountryID,
		EntityKind: "report",
		EntityID:   rep.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"op": "delete"},
	}
	return e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.DeleteReport(ctx, tx, rep.ID)
	})
}
