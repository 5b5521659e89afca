package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

// CalculateOperationalCost computes the operational cost of a report of
// countryID. It reads only; ConfirmReport stores the result.
func (e Engine) CalculateOperationalCost(ctx context.Context, countryID, reportID string) (calc.Calculation, error) {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return calc.Calculation{}, err
	}
	return e.calculate(ctx, rep)
}

// ReportCalculation returns the breakdown stored when a report was confirmed,
// or a fresh calculation for drafts.
func (e Engine) ReportCalculation(ctx context.Context, countryID, reportID string) (calc.Calculation, error) {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return calc.Calculation{}, err
	}
	if rep.Status == domain.ReportFinal {
		if stored, ok := StoredCalculation(rep); ok {
			return stored, nil
		}
	}
	return e.calculate(ctx, rep)
}

func (e Engine) calculate(ctx context.Context, rep domain.Report) (calc.Calculation, error) {
	in, err := e.calculationInputs(ctx, rep)
	if err != nil {
		return calc.Calculation{}, err
	}
	return calc.Calculate(in)
}

// calculationInputs fetches every input of the calculation concurrently.
func (e Engine) calculationInputs(ctx context.Context, rep domain.Report) (calc.Inputs, error) {
	in := calc.Inputs{
		ContributionsOverride:    rep.ContributionsCount,
		OperationalCostThreshold: rep.OperationalCostThreshold,
		Thresholds:               e.thresholds(),
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		items, err := e.Repo.ListContributions(egCtx, repo.ContributionFilters{CountryID: rep.CountryID, Year: rep.Year})
		if err != nil {
			return fmt.Errorf("contributions: %w", err)
		}
		in.Contributions = items
		return nil
	})
	eg.Go(func() error {
		n, err := e.Repo.CountInstitutions(egCtx, rep.CountryID, domain.InstitutionPartner, rep.Year)
		if err != nil {
			return fmt.Errorf("partner institutions: %w", err)
		}
		in.PartnerInstitutions = n
		return nil
	})
	eg.Go(func() error {
		items, err := e.Repo.ListServices(egCtx, repo.ServiceFilters{CountryID: rep.CountryID, Status: domain.ServiceLive})
		if err != nil {
			return fmt.Errorf("services: %w", err)
		}
		in.Services = items
		return nil
	})
	eg.Go(func() error {
		items, err := e.Repo.ListServiceReports(egCtx, rep.ID)
		if err != nil {
			return fmt.Errorf("service reports: %w", err)
		}
		in.ServiceReports = items
		return nil
	})
	eg.Go(func() error {
		items, err := e.Repo.ListOutreach(egCtx, repo.OutreachFilters{CountryID: rep.CountryID, Year: rep.Year})
		if err != nil {
			return fmt.Errorf("outreach: %w", err)
		}
		in.Outreach = items
		return nil
	})
	eg.Go(func() error {
		ev, err := e.Repo.GetEventReport(egCtx, rep.ID)
		if err != nil {
			return fmt.Errorf("event report: %w", err)
		}
		in.EventReport = ev
		return nil
	})
	eg.Go(func() error {
		roles, err := e.Repo.ListRoles(egCtx)
		if err != nil {
			return fmt.Errorf("roles: %w", err)
		}
		in.Roles = roles
		return nil
	})
	eg.Go(func() error {
		values, err := e.Repo.ListReferenceValues(egCtx, domain.ValueEventSize)
		if err != nil {
			return fmt.Errorf("event sizes: %w", err)
		}
		in.EventValues = values
		return nil
	})
	eg.Go(func() error {
		values, err := e.Repo.ListReferenceValues(egCtx, domain.ValueOutreachType)
		if err != nil {
			return fmt.Errorf("outreach type values: %w", err)
		}
		in.OutreachValues = values
		return nil
	})
	eg.Go(func() error {
		values, err := e.Repo.ListReferenceValues(egCtx, domain.ValueServiceSize)
		if err != nil {
			return fmt.Errorf("service sizes: %w", err)
		}
		in.ServiceValues = values
		return nil
	})
	if err := eg.Wait(); err != nil {
		return calc.Inputs{}, err
	}
	return in, nil
}
