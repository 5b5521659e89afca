package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/events"
	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
	"github.com/DARIAH-ERIC/dariah-unr/internal/zotero"
)

// Wizard step ids in order.
const (
	StepWelcome        = "welcome"
	StepInstitutions   = "institutions"
	StepContributors   = "contributors"
	StepEvents         = "events"
	StepOutreach       = "outreach"
	StepServices       = "services"
	StepSoftware       = "software"
	StepPublications   = "publications"
	StepProjectFunding = "project-funding-leverage"
	StepConfirm        = "confirm"
	StepSummary        = "summary"
)

// ErrStepNotFound is returned for an unknown wizard step.
var ErrStepNotFound = errors.New("step not found")

type Step struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Steps is the report wizard in order.
var Steps = []Step{
	{ID: StepWelcome, Title: "Welcome"},
	{ID: StepInstitutions, Title: "Institutions"},
	{ID: StepContributors, Title: "Contributors"},
	{ID: StepEvents, Title: "Events"},
	{ID: StepOutreach, Title: "Outreach"},
	{ID: StepServices, Title: "Services"},
	{ID: StepSoftware, Title: "Software"},
	{ID: StepPublications, Title: "Publications"},
	{ID: StepProjectFunding, Title: "Project funding leverage"},
	{ID: StepConfirm, Title: "Confirm"},
	{ID: StepSummary, Title: "Summary"},
}

func stepIndex(id string) int {
	for i, s := range Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// LookupStep returns the step with id.
func LookupStep(id string) (Step, bool) {
	i := stepIndex(id)
	if i < 0 {
		return Step{}, false
	}
	return Steps[i], true
}

// NextStep returns the step after id, if any.
func NextStep(id string) (Step, bool) {
	i := stepIndex(id)
	if i < 0 || i+1 >= len(Steps) {
		return Step{}, false
	}
	return Steps[i+1], true
}

// PreviousStep returns the step before id, if any.
func PreviousStep(id string) (Step, bool) {
	i := stepIndex(id)
	if i <= 0 {
		return Step{}, false
	}
	return Steps[i-1], true
}

type OutreachEntry struct {
	Outreach     domain.Outreach `json:"outreach"`
	KPIs         []domain.KPI    `json:"kpis"`
	PreviousKPIs []domain.KPI    `json:"previous_kpis"`
}

type ServiceEntry struct {
	Service      domain.Service `json:"service"`
	Size         string         `json:"size"`
	KPIs         []domain.KPI   `json:"kpis"`
	PreviousKPIs []domain.KPI   `json:"previous_kpis"`
}

// StepData is what a wizard step shows. Only the fields of the step are set.
type StepData struct {
	Step                   Step                            `json:"step"`
	Previous               string                          `json:"previous,omitempty"`
	Next                   string                          `json:"next,omitempty"`
	Report                 domain.Report                   `json:"report"`
	Comment                string                          `json:"comment,omitempty"`
	PreviousReportID       string                          `json:"previous_report_id,omitempty"`
	Institutions           []domain.Institution            `json:"institutions,omitempty"`
	Contributions          []domain.ContributionDetail     `json:"contributions,omitempty"`
	PreviousContributions  *int                            `json:"previous_contributions_count,omitempty"`
	Events                 *domain.EventReport             `json:"events,omitempty"`
	PreviousEvents         *domain.EventReport             `json:"previous_events,omitempty"`
	Outreach               []OutreachEntry                 `json:"outreach,omitempty"`
	Services               []ServiceEntry                  `json:"services,omitempty"`
	Software               []domain.Software               `json:"software,omitempty"`
	Publications           []zotero.Publication            `json:"publications,omitempty"`
	PublicationsError      string                          `json:"publications_error,omitempty"`
	ProjectFunding         []domain.ProjectFundingLeverage `json:"project_funding,omitempty"`
	PreviousProjectFunding []domain.ProjectFundingLeverage `json:"previous_project_funding,omitempty"`
	Calculation            *calc.Calculation               `json:"calculation,omitempty"`
	Summary                *Summary                        `json:"summary,omitempty"`
}

// previousReport returns the country's report of the year before, or nil.
func (e Engine) previousReport(ctx context.Context, rep domain.Report) (*domain.Report, error) {
	prev, err := e.Repo.GetReportByCountryYear(ctx, rep.CountryID, rep.Year-1)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prev, nil
}

// LoadStep returns the data of one wizard step, with last year's values
// where the step is pre-filled from them.
func (e Engine) LoadStep(ctx context.Context, countryID, reportID, stepID string) (StepData, error) {
	step, ok := LookupStep(stepID)
	if !ok {
		return StepData{}, ErrStepNotFound
	}
	rep, err := e.reportOf(ctx, countryID, reportID)
	if err != nil {
		return StepData{}, err
	}
	data := StepData{Step: step, Report: rep, Comment: rep.Comments[step.ID]}
	if s, ok := PreviousStep(step.ID); ok {
		data.Previous = s.ID
	}
	if s, ok := NextStep(step.ID); ok {
		data.Next = s.ID
	}
	prev, err := e.previousReport(ctx, rep)
	if err != nil {
		return StepData{}, err
	}
	if prev != nil {
		data.PreviousReportID = prev.ID
	}

	switch step.ID {
	case StepInstitutions:
		data.Institutions, err = e.Repo.ListInstitutions(ctx, repo.InstitutionFilters{CountryID: rep.CountryID, Year: rep.Year})
	case StepContributors:
		data.Contributions, err = e.Repo.ListContributions(ctx, repo.ContributionFilters{CountryID: rep.CountryID, Year: rep.Year})
		if err == nil && prev != nil {
			data.PreviousContributions, err = e.contributionsCount(ctx, *prev)
		}
	case StepEvents:
		var ev domain.EventReport
		ev, err = e.Repo.GetEventReport(ctx, rep.ID)
		data.Events = &ev
		if err == nil && prev != nil {
			var pev domain.EventReport
			pev, err = e.Repo.GetEventReport(ctx, prev.ID)
			data.PreviousEvents = &pev
		}
	case StepOutreach:
		data.Outreach, err = e.outreachEntries(ctx, rep, prev)
	case StepServices:
		data.Services, err = e.serviceEntries(ctx, rep, prev)
	case StepSoftware:
		data.Software, err = e.Repo.ListSoftware(ctx, rep.CountryID)
	case StepPublications:
		var country domain.Country
		country, err = e.Repo.GetCountry(ctx, rep.CountryID)
		if err == nil {
			data.Publications, data.PublicationsError = e.publications(ctx, country, rep.Year)
		}
	case StepProjectFunding:
		data.ProjectFunding, err = e.Repo.ListProjectFunding(ctx, rep.ID)
		if err == nil && prev != nil {
			data.PreviousProjectFunding, err = e.Repo.ListProjectFunding(ctx, prev.ID)
		}
	case StepConfirm:
		var result calc.Calculation
		result, err = e.calculate(ctx, rep)
		data.Calculation = &result
	case StepSummary:
		var result calc.Calculation
		result, err = e.calculate(ctx, rep)
		if err == nil {
			var s Summary
			s, err = e.CreateReportSummary(ctx, rep.CountryID, rep.ID, result)
			data.Summary = &s
		}
	}
	if err != nil {
		return StepData{}, err
	}
	return data, nil
}

func (e Engine) contributionsCount(ctx context.Context, rep domain.Report) (*int, error) {
	if rep.ContributionsCount != nil {
		return rep.ContributionsCount, nil
	}
	items, err := e.Repo.ListContributions(ctx, repo.ContributionFilters{CountryID: rep.CountryID, Year: rep.Year})
	if err != nil {
		return nil, err
	}
	n := len(items)
	return &n, nil
}

func kpisByID(ctx context.Context, reportID string, list func(context.Context, string) (map[string][]domain.KPI, error)) (map[string][]domain.KPI, error) {
	if reportID == "" {
		return map[string][]domain.KPI{}, nil
	}
	return list(ctx, reportID)
}

func (e Engine) outreachKPIs(ctx context.Context, reportID string) (map[string][]domain.KPI, error) {
	items, err := e.Repo.ListOutreachReports(ctx, reportID)
	if err != nil {
		return nil, err
	}
	res := make(map[string][]domain.KPI, len(items))
	for _, it := range items {
		res[it.OutreachID] = it.KPIs
	}
	return res, nil
}

func (e Engine) serviceKPIs(ctx context.Context, reportID string) (map[string][]domain.KPI, error) {
	items, err := e.Repo.ListServiceReports(ctx, reportID)
	if err != nil {
		return nil, err
	}
	res := make(map[string][]domain.KPI, len(items))
	for _, it := range items {
		res[it.ServiceID] = it.KPIs
	}
	return res, nil
}

func idOf(rep *domain.Report) string {
	if rep == nil {
		return ""
	}
	return rep.ID
}

func orEmpty(kpis []domain.KPI) []domain.KPI {
	if kpis == nil {
		return []domain.KPI{}
	}
	return kpis
}

func (e Engine) outreachEntries(ctx context.Context, rep domain.Report, prev *domain.Report) ([]OutreachEntry, error) {
	items, err := e.Repo.ListOutreach(ctx, repo.OutreachFilters{CountryID: rep.CountryID, Year: rep.Year})
	if err != nil {
		return nil, err
	}
	current, err := kpisByID(ctx, rep.ID, e.outreachKPIs)
	if err != nil {
		return nil, err
	}
	previous, err := kpisByID(ctx, idOf(prev), e.outreachKPIs)
	if err != nil {
		return nil, err
	}
	res := make([]OutreachEntry, 0, len(items))
	for _, o := range items {
		res = append(res, OutreachEntry{Outreach: o, KPIs: orEmpty(current[o.ID]), PreviousKPIs: orEmpty(previous[o.ID])})
	}
	return res, nil
}

func (e Engine) serviceEntries(ctx context.Context, rep domain.Report, prev *domain.Report) ([]ServiceEntry, error) {
	items, err := e.Repo.ListServices(ctx, repo.ServiceFilters{CountryID: rep.CountryID})
	if err != nil {
		return nil, err
	}
	current, err := kpisByID(ctx, rep.ID, e.serviceKPIs)
	if err != nil {
		return nil, err
	}
	previous, err := kpisByID(ctx, idOf(prev), e.serviceKPIs)
	if err != nil {
		return nil, err
	}
	th := e.thresholds()
	res := make([]ServiceEntry, 0, len(items))
	for _, s := range items {
		sr := domain.ServiceReport{ServiceID: s.ID, KPIs: current[s.ID]}
		res = append(res, ServiceEntry{
			Service:      s,
			Size:         calc.ServiceSize(s, &sr, th),
			KPIs:         orEmpty(current[s.ID]),
			PreviousKPIs: orEmpty(previous[s.ID]),
		})
	}
	return res, nil
}

// publications looks up the country's publications of year. A lookup
// failure is returned as a message, never as an error.
func (e Engine) publications(ctx context.Context, country domain.Country, year int) ([]zotero.Publication, string) {
	if e.Zotero == nil {
		return []zotero.Publication{}, "bibliography not configured"
	}
	pubs, err := e.Zotero.Publications(ctx, country.Code, year)
	if err != nil {
		zap.L().Warn("publications lookup failed", zap.String("country", country.Code), zap.Int("year", year), zap.Error(err))
		return []zotero.Publication{}, err.Error()
	}
	return pubs, ""
}

type EventsInput struct {
	SmallMeetings           int    `json:"small_meetings" validate:"gte=0"`
	MediumMeetings          int    `json:"medium_meetings" validate:"gte=0"`
	LargeMeetings           int    `json:"large_meetings" validate:"gte=0"`
	DariahCommissionedEvent string `json:"dariah_commissioned_event,omitempty" validate:"max=2000"`
	ReusableOutcomes        string `json:"reusable_outcomes,omitempty" validate:"max=10000"`
}

// KPIInput sets the KPIs of one outreach channel or service.
type KPIInput struct {
	ID   string       `json:"id" validate:"required"`
	KPIs []domain.KPI `json:"kpis" validate:"dive"`
}

// StepSubmission is the body of a wizard step submit. Each step reads the
// fields it owns; Comment is stored for any step.
type StepSubmission struct {
	Comment            *string                         `json:"comment,omitempty" validate:"omitempty,max=10000"`
	ContributionsCount *int                            `json:"contributions_count,omitempty" validate:"omitempty,gte=0"`
	Events             *EventsInput                    `json:"events,omitempty"`
	Outreach           []KPIInput                      `json:"outreach,omitempty" validate:"dive"`
	Services           []KPIInput                      `json:"services,omitempty" validate:"dive"`
	ProjectFunding     []domain.ProjectFundingLeverage `json:"project_funding,omitempty" validate:"dive"`
}

type SubmitStepOptions struct {
	CountryID string
	ReportID  string
	Step      string
	Input     StepSubmission
	ActorID   string
}

// SubmitStep validates and stores the submission of one wizard step.
// Invalid input yields a failed ActionResult and a nil error.
func (e Engine) SubmitStep(ctx context.Context, opts SubmitStepOptions) (forms.ActionResult, error) {
	step, ok := LookupStep(opts.Step)
	if !ok {
		return forms.ActionResult{}, ErrStepNotFound
	}
	in := opts.Input
	in.Outreach = normalizeKPIs(in.Outreach)
	in.Services = normalizeKPIs(in.Services)
	if res, ok := forms.Check(in); !ok {
		return res, nil
	}
	rep, err := e.reportOf(ctx, opts.CountryID, opts.ReportID)
	if err != nil {
		return forms.ActionResult{}, err
	}
	if err := e.ensureEditable(ctx, rep); err != nil {
		return forms.ActionResult{}, err
	}

	switch step.ID {
	case StepSummary:
		return forms.Failure("The summary step has nothing to submit"), nil
	case StepConfirm:
		if _, _, err := e.confirm(ctx, rep, in.Comment, opts.ActorID); err != nil {
			return forms.ActionResult{}, err
		}
		return forms.Success("Report confirmed"), nil
	case StepEvents:
		if in.Events == nil {
			return forms.FieldFailure("events", "Required"), nil
		}
	case StepOutreach:
		if res, ok, err := e.checkOwned(ctx, "outreach", in.Outreach, e.countryOutreachIDs(rep)); err != nil || !ok {
			return res, err
		}
	case StepServices:
		if res, ok, err := e.checkOwned(ctx, "services", in.Services, e.countryServiceIDs(rep)); err != nil || !ok {
			return res, err
		}
	}

	if err := e.storeStep(ctx, rep, step, in, opts.ActorID); err != nil {
		return forms.ActionResult{}, err
	}
	return forms.Success(step.Title + " saved"), nil
}

func (e Engine) countryOutreachIDs(rep domain.Report) func(context.Context) (map[string]bool, error) {
	return func(ctx context.Context) (map[string]bool, error) {
		items, err := e.Repo.ListOutreach(ctx, repo.OutreachFilters{CountryID: rep.CountryID})
		if err != nil {
			return nil, err
		}
		ids := make(map[string]bool, len(items))
		for _, o := range items {
			ids[o.ID] = true
		}
		return ids, nil
	}
}

func (e Engine) countryServiceIDs(rep domain.Report) func(context.Context) (map[string]bool, error) {
	return func(ctx context.Context) (map[string]bool, error) {
		items, err := e.Repo.ListServices(ctx, repo.ServiceFilters{CountryID: rep.CountryID})
		if err != nil {
			return nil, err
		}
		ids := make(map[string]bool, len(items))
		for _, s := range items {
			ids[s.ID] = true
		}
		return ids, nil
	}
}

// checkOwned rejects KPI inputs that name an entity of another country.
func (e Engine) checkOwned(ctx context.Context, field string, inputs []KPIInput, owned func(context.Context) (map[string]bool, error)) (forms.ActionResult, bool, error) {
	if len(inputs) == 0 {
		return forms.ActionResult{}, true, nil
	}
	ids, err := owned(ctx)
	if err != nil {
		return forms.ActionResult{}, false, err
	}
	res := forms.ActionResult{Status: forms.StatusError, FieldErrors: map[string][]string{}}
	for i, in := range inputs {
		if !ids[in.ID] {
			key := fmt.Sprintf("%s[%d].id", field, i)
			res.FieldErrors[key] = append(res.FieldErrors[key], "Unknown for this country")
		}
		seen := map[string]bool{}
		for j, k := range in.KPIs {
			if seen[k.Unit] {
				key := fmt.Sprintf("%s[%d].kpis[%d].unit", field, i, j)
				res.FieldErrors[key] = append(res.FieldErrors[key], "Duplicate unit")
			}
			seen[k.Unit] = true
		}
	}
	if len(res.FieldErrors) > 0 {
		return res, false, nil
	}
	return forms.ActionResult{}, true, nil
}

func normalizeKPIs(inputs []KPIInput) []KPIInput {
	if inputs == nil {
		return nil
	}
	out := make([]KPIInput, len(inputs))
	for i, in := range inputs {
		kpis := make([]domain.KPI, len(in.KPIs))
		for j, k := range in.KPIs {
			kpis[j] = domain.KPI{Unit: domain.NormalizeKPIUnit(k.Unit), Value: k.Value}
		}
		out[i] = KPIInput{ID: in.ID, KPIs: kpis}
	}
	return out
}

// withComment returns a copy of comments with the comment of stepID set, or
// removed when blank.
func withComment(comments map[string]string, stepID, comment string) map[string]string {
	out := make(map[string]string, len(comments)+1)
	for k, v := range comments {
		out[k] = v
	}
	if c := strings.TrimSpace(comment); c == "" {
		delete(out, stepID)
	} else {
		out[stepID] = c
	}
	return out
}

// storeStep writes the fields of a step submission in one transaction.
func (e Engine) storeStep(ctx context.Context, rep domain.Report, step Step, in StepSubmission, actorID string) error {
	m := mutation{
		Type:       events.ReportUpdated,
		CountryID:  rep.CountryID,
		EntityKind: "report",
		EntityID:   rep.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"step": step.ID},
	}
	return e.inTx(ctx, m, func(tx *sql.Tx) error {
		var upd repo.ReportUpdate
		dirty := false
		if in.Comment != nil {
			upd.Comments = withComment(rep.Comments, step.ID, *in.Comment)
			dirty = true
		}
		if step.ID == StepContributors {
			upd.ContributionsCount = in.ContributionsCount
			upd.ClearContributionsCount = in.ContributionsCount == nil
			dirty = true
		}
		if dirty {
			if err := e.Repo.UpdateReport(ctx, tx, rep.ID, upd); err != nil {
				return err
			}
		}
		switch step.ID {
		case StepEvents:
			ev := in.Events
			if err := e.Repo.UpsertEventReport(ctx, tx, domain.EventReport{
				ReportID:                rep.ID,
				SmallMeetings:           ev.SmallMeetings,
				MediumMeetings:          ev.MediumMeetings,
				LargeMeetings:           ev.LargeMeetings,
				DariahCommissionedEvent: strings.TrimSpace(ev.DariahCommissionedEvent),
				ReusableOutcomes:        ev.ReusableOutcomes,
				UpdatedAt:               e.nowString(),
			}); err != nil {
				return err
			}
		case StepOutreach:
			for _, o := range in.Outreach {
				if _, err := e.Repo.UpsertOutreachKPIs(ctx, tx, rep.ID, o.ID, o.KPIs); err != nil {
					return err
				}
			}
		case StepServices:
			for _, s := range in.Services {
				if _, err := e.Repo.UpsertServiceKPIs(ctx, tx, rep.ID, s.ID, s.KPIs); err != nil {
					return err
				}
			}
		case StepProjectFunding:
			items := make([]domain.ProjectFundingLeverage, len(in.ProjectFunding))
			for i, p := range in.ProjectFunding {
				p.ID = newID()
				p.ReportID = rep.ID
				items[i] = p
			}
			if err := e.Repo.ReplaceProjectFunding(ctx, tx, rep.ID, items); err != nil {
				return err
			}
		}
		return nil
	})
}
