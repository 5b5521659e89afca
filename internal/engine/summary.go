package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
	"github.com/DARIAH-ERIC/dariah-unr/internal/zotero"
)

// nciSuffix marks the national coordinating institution in summaries.
const nciSuffix = " (NCI)"

type SummaryContributor struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	RoleType     string `json:"role_type"`
	WorkingGroup string `json:"working_group,omitempty"`
}

type SummaryOutreach struct {
	NationalWebsites []string `json:"national_websites"`
	SocialMedia      []string `json:"social_media"`
}

type SummaryEvents struct {
	SmallMeetings           int    `json:"small_meetings"`
	MediumMeetings          int    `json:"medium_meetings"`
	LargeMeetings           int    `json:"large_meetings"`
	DariahCommissionedEvent string `json:"dariah_commissioned_event,omitempty"`
	ReusableOutcomes        string `json:"reusable_outcomes,omitempty"`
}

type SummaryService struct {
	Name   string `json:"name"`
	Size   string `json:"size"`
	Visits *int64 `json:"visits,omitempty"`
}

type SummaryFunding struct {
	Items     []domain.ProjectFundingLeverage `json:"items"`
	Total     int64                           `json:"total"`
	TotalText string                          `json:"total_text"`
}

// Summary is the human-readable roll-up shown on the summary step.
type Summary struct {
	ReportID            string               `json:"report_id"`
	CountryID           string               `json:"country_id"`
	CountryName         string               `json:"country_name"`
	Year                int                  `json:"year"`
	Status              string               `json:"status"`
	Calculation         calc.Calculation     `json:"calculation"`
	OperationalCostText string               `json:"operational_cost_text"`
	ThresholdText       string               `json:"threshold_text,omitempty"`
	AboveThreshold      *bool                `json:"above_threshold,omitempty"`
	Contributors        []SummaryContributor `json:"contributors"`
	Institutions        []string             `json:"institutions"`
	Outreach            SummaryOutreach      `json:"outreach"`
	Events              SummaryEvents        `json:"events"`
	Services            []SummaryService     `json:"services"`
	Software            []string             `json:"software"`
	ProjectFunding      SummaryFunding       `json:"project_funding"`
	Publications        []zotero.Publication `json:"publications"`
	PublicationsError   string               `json:"publications_error,omitempty"`
	Comments            map[string]string    `json:"comments"`
}

// FormatEuro renders an integer euro amount with thousands separators.
func FormatEuro(v int64) string {
	return message.NewPrinter(language.English).Sprintf("€%d", v)
}

// CreateReportSummary builds the summary of a report from a calculation made
// for it. Publication lookup failures are reported in PublicationsError and
// do not fail the summary.
func (e Engine) CreateReportSummary(ctx context.Context, countryID, reportID string, result calc.Calculation) (Summary, error) {
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return Summary{}, err
	}
	country, err := e.Repo.GetCountry(ctx, rep.CountryID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{
		ReportID:            rep.ID,
		CountryID:           rep.CountryID,
		CountryName:         country.Name,
		Year:                rep.Year,
		Status:              rep.Status,
		Calculation:         result,
		OperationalCostText: FormatEuro(result.OperationalCost),
		Comments:            rep.Comments,
		Publications:        []zotero.Publication{},
	}
	if t := result.OperationalCostThreshold; t != nil {
		s.ThresholdText = FormatEuro(*t)
		above := result.OperationalCost >= *t
		s.AboveThreshold = &above
	}

	var (
		contributions []domain.ContributionDetail
		institutions  []domain.Institution
		outreach      []domain.Outreach
		services      []domain.Service
		serviceReps   []domain.ServiceReport
		software      []domain.Software
		funding       []domain.ProjectFundingLeverage
		ev            domain.EventReport
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		contributions, err = e.Repo.ListContributions(egCtx, repo.ContributionFilters{CountryID: rep.CountryID, Year: rep.Year})
		return err
	})
	eg.Go(func() (err error) {
		institutions, err = e.Repo.ListInstitutions(egCtx, repo.InstitutionFilters{CountryID: rep.CountryID, Year: rep.Year})
		return err
	})
	eg.Go(func() (err error) {
		outreach, err = e.Repo.ListOutreach(egCtx, repo.OutreachFilters{CountryID: rep.CountryID, Year: rep.Year})
		return err
	})
	eg.Go(func() (err error) {
		services, err = e.Repo.ListServices(egCtx, repo.ServiceFilters{CountryID: rep.CountryID, Status: domain.ServiceLive})
		return err
	})
	eg.Go(func() (err error) {
		serviceReps, err = e.Repo.ListServiceReports(egCtx, rep.ID)
		return err
	})
	eg.Go(func() (err error) {
		software, err = e.Repo.ListSoftware(egCtx, rep.CountryID)
		return err
	})
	eg.Go(func() (err error) {
		funding, err = e.Repo.ListProjectFunding(egCtx, rep.ID)
		return err
	})
	eg.Go(func() (err error) {
		ev, err = e.Repo.GetEventReport(egCtx, rep.ID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return Summary{}, err
	}

	s.Contributors = make([]SummaryContributor, 0, len(contributions))
	for _, c := range contributions {
		s.Contributors = append(s.Contributors, SummaryContributor{
			Name:         c.PersonName,
			Role:         c.RoleName,
			RoleType:     c.RoleType,
			WorkingGroup: c.WorkingGroupName,
		})
	}
	s.Institutions = partnerInstitutionNames(institutions)
	s.Outreach = SummaryOutreach{NationalWebsites: []string{}, SocialMedia: []string{}}
	for _, o := range outreach {
		switch o.Type {
		case domain.OutreachNationalWebsite:
			s.Outreach.NationalWebsites = append(s.Outreach.NationalWebsites, o.URL)
		case domain.OutreachSocialMedia:
			s.Outreach.SocialMedia = append(s.Outreach.SocialMedia, o.URL)
		}
	}
	s.Events = SummaryEvents{
		SmallMeetings:           ev.SmallMeetings,
		MediumMeetings:          ev.MediumMeetings,
		LargeMeetings:           ev.LargeMeetings,
		DariahCommissionedEvent: ev.DariahCommissionedEvent,
		ReusableOutcomes:        ev.ReusableOutcomes,
	}
	s.Services = summaryServices(services, serviceReps, e.thresholds())
	s.Software = make([]string, 0, len(software))
	for _, sw := range software {
		s.Software = append(s.Software, sw.Name)
	}
	s.ProjectFunding = summaryFunding(funding)

	s.Publications, s.PublicationsError = e.publications(ctx, country, rep.Year)
	return s, nil
}

// partnerInstitutionNames lists partner institutions, marking the national
// coordinating institution.
func partnerInstitutionNames(items []domain.Institution) []string {
	names := []string{}
	for _, in := range items {
		if !in.HasType(domain.InstitutionPartner) && !in.HasType(domain.InstitutionNationalCoordinating) {
			continue
		}
		name := in.Name
		if in.HasType(domain.InstitutionNationalCoordinating) {
			name += nciSuffix
		}
		names = append(names, name)
	}
	return names
}

func summaryServices(services []domain.Service, reports []domain.ServiceReport, th calc.Thresholds) []SummaryService {
	byService := make(map[string]*domain.ServiceReport, len(reports))
	for i := range reports {
		byService[reports[i].ServiceID] = &reports[i]
	}
	res := make([]SummaryService, 0, len(services))
	for _, svc := range services {
		r := byService[svc.ID]
		item := SummaryService{Name: svc.Name, Size: calc.ServiceSize(svc, r, th)}
		if r != nil {
			if v, ok := r.KPI(domain.KPIVisits); ok {
				item.Visits = &v
			}
		}
		res = append(res, item)
	}
	order := map[string]int{domain.SizeCore: 0, domain.SizeLarge: 1, domain.SizeMedium: 2, domain.SizeSmall: 3}
	sort.SliceStable(res, func(i, j int) bool { return order[res[i].Size] < order[res[j].Size] })
	return res
}

func summaryFunding(items []domain.ProjectFundingLeverage) SummaryFunding {
	total := decimal.Zero
	for _, it := range items {
		if it.Amount != nil {
			total = total.Add(decimal.NewFromInt(*it.Amount))
		}
	}
	if items == nil {
		items = []domain.ProjectFundingLeverage{}
	}
	return SummaryFunding{Items: items, Total: total.IntPart(), TotalText: FormatEuro(total.IntPart())}
}
