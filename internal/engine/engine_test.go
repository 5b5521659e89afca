package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/config"
	"github.com/DARIAH-ERIC/dariah-unr/internal/db"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
	"github.com/DARIAH-ERIC/dariah-unr/internal/migrate"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
	"github.com/DARIAH-ERIC/dariah-unr/internal/sshomp"
	"github.com/DARIAH-ERIC/dariah-unr/internal/zotero"
)

const actor = "tester"

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Country domain.Country
	Roles   map[string]domain.Role
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, "sqlite")
	require.NoError(t, err)

	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	env := testEnv{Engine: eng, Ctx: context.Background(), Roles: map[string]domain.Role{}}

	start := "2014-08-06"
	env.Country, err = eng.SaveCountry(env.Ctx, domain.Country{Code: "AT", Name: "Austria", Type: domain.CountryMember, StartDate: &start}, actor)
	require.NoError(t, err)

	for typ, value := range map[string]int64{
		domain.RoleNationalCoordinator: 8000,
		domain.RoleJRCMember:           1000,
		domain.RoleWGChair:             4000,
	} {
		r, err := eng.SaveRole(env.Ctx, domain.Role{Name: typ, Type: typ, AnnualValue: value}, actor)
		require.NoError(t, err)
		env.Roles[typ] = r
	}
	return env
}

func (env testEnv) seedValues(t *testing.T) {
	t.Helper()
	values := map[string]map[string]int64{
		domain.ValueEventSize: {
			domain.EventSmall: 500, domain.EventMedium: 1000, domain.EventLarge: 2500, domain.EventDariahCommissioned: 3000,
		},
		domain.ValueOutreachType: {
			domain.OutreachNationalWebsite: 500, domain.OutreachSocialMedia: 200,
		},
		domain.ValueServiceSize: {
			domain.SizeSmall: 2000, domain.SizeMedium: 5000, domain.SizeLarge: 10000, domain.SizeCore: 15000,
		},
	}
	for kind, byType := range values {
		for typ, v := range byType {
			_, err := env.Engine.SetReferenceValue(env.Ctx, kind, domain.ReferenceValue{Type: typ, AnnualValue: v}, actor)
			require.NoError(t, err)
		}
	}
}

// openReport opens the campaign of year and returns the country's report.
func (env testEnv) openReport(t *testing.T, year int) domain.Report {
	t.Helper()
	res, err := env.Engine.SetCampaignStatus(env.Ctx, engine.CampaignOptions{Year: year, Status: domain.CampaignOpen, CreateReports: true, ActorID: actor})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	return res.Created[0]
}

func (env testEnv) addJRCMembers(t *testing.T, n int) {
	t.Helper()
	start := "2020-01-01"
	for i := 0; i < n; i++ {
		p, err := env.Engine.SavePerson(env.Ctx, domain.Person{Name: "Member " + string(rune('A'+i))}, actor)
		require.NoError(t, err)
		_, err = env.Engine.SaveContribution(env.Ctx, domain.Contribution{
			PersonID:  p.ID,
			RoleID:    env.Roles[domain.RoleJRCMember].ID,
			CountryID: &env.Country.ID,
			StartDate: &start,
		}, actor)
		require.NoError(t, err)
	}
}

func (env testEnv) addWebsite(t *testing.T) domain.Outreach {
	t.Helper()
	o, err := env.Engine.SaveOutreach(env.Ctx, domain.Outreach{
		CountryID: &env.Country.ID,
		Name:      "DARIAH-AT",
		URL:       "https://dariah.at",
		Type:      domain.OutreachNationalWebsite,
	}, actor)
	require.NoError(t, err)
	return o
}

func (env testEnv) submit(t *testing.T, rep domain.Report, step string, in engine.StepSubmission) forms.ActionResult {
	t.Helper()
	res, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		CountryID: env.Country.ID,
		ReportID:  rep.ID,
		Step:      step,
		Input:     in,
		ActorID:   actor,
	})
	require.NoError(t, err)
	return res
}

// scenario seeds two JRC members, one small meeting and a national website.
func (env testEnv) scenario(t *testing.T, year int) domain.Report {
	t.Helper()
	env.seedValues(t)
	rep := env.openReport(t, year)
	env.addJRCMembers(t, 2)
	env.addWebsite(t)
	res := env.submit(t, rep, engine.StepEvents, engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: 1}})
	require.True(t, res.OK(), "%+v", res)
	return rep
}

func TestCalculateOperationalCostFromStore(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)

	end := "2019-12-31"
	p, err := env.Engine.SavePerson(env.Ctx, domain.Person{Name: "Former"}, actor)
	require.NoError(t, err)
	_, err = env.Engine.SaveContribution(env.Ctx, domain.Contribution{
		PersonID: p.ID, RoleID: env.Roles[domain.RoleNationalCoordinator].ID, CountryID: &env.Country.ID, EndDate: &end,
	}, actor)
	require.NoError(t, err)

	result, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count.JRCMembers)
	assert.Zero(t, result.Count.NationalCoordinators)
	assert.Equal(t, 1, result.Count.SmallMeetings)
	assert.Equal(t, 1, result.Count.NationalWebsites)
	assert.Equal(t, calc.Costs{Roles: 2000, Events: 500, Outreach: 500}, result.Costs)
	assert.Equal(t, int64(3000), result.OperationalCost)

	again, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, result, again)
}

func TestCalculateRequiresReferenceValues(t *testing.T) {
	env := newTestEnv(t)
	rep := env.openReport(t, 2024)

	_, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	var missing calc.MissingReferenceValueError
	require.ErrorAs(t, err, &missing)
}

func TestReportOfOtherCountryIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)
	other, err := env.Engine.SaveCountry(env.Ctx, domain.Country{Code: "HR", Name: "Croatia", Type: domain.CountryMember}, actor)
	require.NoError(t, err)

	_, err = env.Engine.CalculateOperationalCost(env.Ctx, other.ID, rep.ID)
	assert.ErrorIs(t, err, engine.ErrReportNotFound)
}

func TestConfirmStoresCostAndFreezesReport(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)

	threshold := int64(2500)
	_, err := env.Engine.SetOperationalCostThreshold(env.Ctx, engine.SetThresholdOptions{CountryID: env.Country.ID, ReportID: rep.ID, Threshold: threshold, ActorID: actor})
	require.NoError(t, err)

	res := env.submit(t, rep, engine.StepConfirm, engine.StepSubmission{})
	require.True(t, res.OK(), "%+v", res)

	final, err := env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportFinal, final.Status)
	require.NotNil(t, final.OperationalCost)
	assert.Equal(t, int64(3000), *final.OperationalCost)
	stored, ok := engine.StoredCalculation(final)
	require.True(t, ok)
	assert.Equal(t, 2, stored.Count.JRCMembers)
	require.NotNil(t, stored.OperationalCostThreshold)
	assert.Equal(t, threshold, *stored.OperationalCostThreshold)

	_, err = env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		CountryID: env.Country.ID,
		ReportID:  rep.ID,
		Step:      engine.StepEvents,
		Input:     engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: 9}},
	})
	assert.ErrorIs(t, err, engine.ErrReportFinal)
	assert.ErrorIs(t, env.Engine.DeleteReport(env.Ctx, env.Country.ID, rep.ID, actor), engine.ErrReportFinal)

	reopened, err := env.Engine.ReopenReport(env.Ctx, env.Country.ID, rep.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportDraft, reopened.Status)

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityID: rep.ID, Limit: 20})
	require.NoError(t, err)
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.Type] = true
	}
	assert.True(t, types["report.confirmed"])
	assert.True(t, types["report.reopened"])
}

func TestThresholdChangeAfterConfirm(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)
	_, err := env.Engine.SetOperationalCostThreshold(env.Ctx, engine.SetThresholdOptions{CountryID: env.Country.ID, ReportID: rep.ID, Threshold: 2500, ActorID: actor})
	require.NoError(t, err)
	_, _, err = env.Engine.ConfirmReport(env.Ctx, env.Country.ID, rep.ID, actor)
	require.NoError(t, err)

	_, err = env.Engine.SetOperationalCostThreshold(env.Ctx, engine.SetThresholdOptions{CountryID: env.Country.ID, ReportID: rep.ID, Threshold: 9000, ActorID: actor})
	require.NoError(t, err)

	result, err := env.Engine.ReportCalculation(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.OperationalCost)
	require.NotNil(t, result.OperationalCostThreshold)
	assert.Equal(t, int64(9000), *result.OperationalCostThreshold)

	env.Engine.Zotero = fakeZotero{}
	summary, err := env.Engine.CreateReportSummary(env.Ctx, env.Country.ID, rep.ID, result)
	require.NoError(t, err)
	require.NotNil(t, summary.AboveThreshold)
	assert.False(t, *summary.AboveThreshold)
	assert.Equal(t, "€9,000", summary.ThresholdText)

	rows, err := env.Engine.ExportYear(env.Ctx, 2024, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].Calculation.OperationalCostThreshold)
	assert.Equal(t, int64(9000), *rows[0].Calculation.OperationalCostThreshold)
	assert.Equal(t, int64(9000), *rows[0].OperationalCostThreshold)
}

func TestFailedConfirmWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	rep := env.openReport(t, 2024)
	comment := "final words"

	_, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		CountryID: env.Country.ID,
		ReportID:  rep.ID,
		Step:      engine.StepConfirm,
		Input:     engine.StepSubmission{Comment: &comment},
		ActorID:   actor,
	})
	var missing calc.MissingReferenceValueError
	require.ErrorAs(t, err, &missing)

	got, err := env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportDraft, got.Status)
	assert.NotContains(t, got.Comments, engine.StepConfirm)
	assert.Nil(t, got.OperationalCost)

	events, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{EntityID: rep.ID, Limit: 20})
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotEqual(t, "report.updated", ev.Type)
		assert.NotEqual(t, "report.confirmed", ev.Type)
	}

	env.seedValues(t)
	res := env.submit(t, rep, engine.StepConfirm, engine.StepSubmission{Comment: &comment})
	require.True(t, res.OK(), "%+v", res)
	got, err = env.Engine.Repo.GetReport(env.Ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReportFinal, got.Status)
	assert.Equal(t, "final words", got.Comments[engine.StepConfirm])
}

func TestClosedCampaignRejectsEdits(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)

	_, err := env.Engine.SetCampaignStatus(env.Ctx, engine.CampaignOptions{Year: 2024, Status: domain.CampaignClosed, ActorID: actor})
	require.NoError(t, err)

	_, err = env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{
		CountryID: env.Country.ID,
		ReportID:  rep.ID,
		Step:      engine.StepEvents,
		Input:     engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: 2}},
	})
	assert.ErrorIs(t, err, engine.ErrCampaignClosed)
	_, _, err = env.Engine.ConfirmReport(env.Ctx, env.Country.ID, rep.ID, actor)
	assert.ErrorIs(t, err, engine.ErrCampaignClosed)

	_, err = env.Engine.CreateReport(env.Ctx, engine.CreateReportOptions{CountryID: env.Country.ID, Year: 2030})
	assert.ErrorIs(t, err, engine.ErrCampaignClosed)
}

func TestCampaignCreatesReportsOnce(t *testing.T) {
	env := newTestEnv(t)
	left := "2010-12-31"
	_, err := env.Engine.SaveCountry(env.Ctx, domain.Country{Code: "XX", Name: "Former", Type: domain.CountryMember, EndDate: &left}, actor)
	require.NoError(t, err)
	_, err = env.Engine.SaveCountry(env.Ctx, domain.Country{Code: "CH", Name: "Switzerland", Type: domain.CountryCooperating}, actor)
	require.NoError(t, err)

	env.openReport(t, 2024)
	res, err := env.Engine.SetCampaignStatus(env.Ctx, engine.CampaignOptions{Year: 2024, Status: domain.CampaignOpen, CreateReports: true})
	require.NoError(t, err)
	assert.Empty(t, res.Created)

	_, err = env.Engine.CreateReport(env.Ctx, engine.CreateReportOptions{CountryID: env.Country.ID, Year: 2024})
	var verr forms.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "year")
}

func TestSubmitStepValidation(t *testing.T) {
	env := newTestEnv(t)
	rep := env.openReport(t, 2024)

	res := env.submit(t, rep, engine.StepEvents, engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: -1}})
	assert.False(t, res.OK())
	assert.Contains(t, res.FieldErrors, "events.small_meetings")

	res = env.submit(t, rep, engine.StepEvents, engine.StepSubmission{})
	assert.Equal(t, []string{"Required"}, res.FieldErrors["events"])

	res = env.submit(t, rep, engine.StepOutreach, engine.StepSubmission{
		Outreach: []engine.KPIInput{{ID: "missing", KPIs: []domain.KPI{{Unit: "visits", Value: 1}}}},
	})
	assert.Contains(t, res.FieldErrors, "outreach[0].id")

	o := env.addWebsite(t)
	res = env.submit(t, rep, engine.StepOutreach, engine.StepSubmission{
		Outreach: []engine.KPIInput{{ID: o.ID, KPIs: []domain.KPI{{Unit: "visits", Value: 1}, {Unit: "visits", Value: 2}}}},
	})
	assert.Contains(t, res.FieldErrors, "outreach[0].kpis[1].unit")

	res = env.submit(t, rep, engine.StepSummary, engine.StepSubmission{})
	assert.False(t, res.OK())

	_, err := env.Engine.SubmitStep(env.Ctx, engine.SubmitStepOptions{CountryID: env.Country.ID, ReportID: rep.ID, Step: "nope"})
	assert.ErrorIs(t, err, engine.ErrStepNotFound)
}

func TestWizardNavigation(t *testing.T) {
	next, ok := engine.NextStep(engine.StepWelcome)
	require.True(t, ok)
	assert.Equal(t, engine.StepInstitutions, next.ID)

	_, ok = engine.PreviousStep(engine.StepWelcome)
	assert.False(t, ok)
	_, ok = engine.NextStep(engine.StepSummary)
	assert.False(t, ok)

	prev, ok := engine.PreviousStep(engine.StepSummary)
	require.True(t, ok)
	assert.Equal(t, engine.StepConfirm, prev.ID)
	assert.Equal(t, engine.StepProjectFunding, engine.Steps[8].ID)
}

func TestLoadStepCarriesPreviousYear(t *testing.T) {
	env := newTestEnv(t)
	env.seedValues(t)
	old := env.openReport(t, 2023)
	cur := env.openReport(t, 2024)

	res := env.submit(t, old, engine.StepEvents, engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: 2, DariahCommissionedEvent: " Summer school "}})
	require.True(t, res.OK())
	comment := "Numbers from the annual meeting"
	res = env.submit(t, cur, engine.StepEvents, engine.StepSubmission{Events: &engine.EventsInput{MediumMeetings: 1}, Comment: &comment})
	require.True(t, res.OK())

	data, err := env.Engine.LoadStep(env.Ctx, env.Country.ID, cur.ID, engine.StepEvents)
	require.NoError(t, err)
	assert.Equal(t, old.ID, data.PreviousReportID)
	assert.Equal(t, engine.StepContributors, data.Previous)
	assert.Equal(t, engine.StepOutreach, data.Next)
	assert.Equal(t, comment, data.Comment)
	require.NotNil(t, data.Events)
	assert.Equal(t, 1, data.Events.MediumMeetings)
	require.NotNil(t, data.PreviousEvents)
	assert.Equal(t, 2, data.PreviousEvents.SmallMeetings)
	assert.Equal(t, "Summer school", data.PreviousEvents.DariahCommissionedEvent)

	_, err = env.Engine.LoadStep(env.Ctx, env.Country.ID, cur.ID, "unknown")
	assert.ErrorIs(t, err, engine.ErrStepNotFound)
}

func TestContributionsOverride(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)

	n := 7
	res := env.submit(t, rep, engine.StepContributors, engine.StepSubmission{ContributionsCount: &n})
	require.True(t, res.OK())
	result, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Count.Contributions)
	assert.Equal(t, int64(2000), result.Costs.Roles)

	res = env.submit(t, rep, engine.StepContributors, engine.StepSubmission{})
	require.True(t, res.OK())
	result, err = env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count.Contributions)
}

func TestServiceKPIsDriveSize(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)
	svc, err := env.Engine.SaveService(env.Ctx, domain.Service{
		Name: "Repository", Type: domain.ServiceRegular, Status: domain.ServiceLive, CountryIDs: []string{env.Country.ID},
	}, actor)
	require.NoError(t, err)

	res := env.submit(t, rep, engine.StepServices, engine.StepSubmission{
		Services: []engine.KPIInput{{ID: svc.ID, KPIs: []domain.KPI{{Unit: domain.KPIVisits, Value: 7000}}}},
	})
	require.True(t, res.OK(), "%+v", res)

	result, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ServicesBySize.Medium)
	assert.Equal(t, int64(5000), result.Costs.Services)

	data, err := env.Engine.LoadStep(env.Ctx, env.Country.ID, rep.ID, engine.StepServices)
	require.NoError(t, err)
	require.Len(t, data.Services, 1)
	assert.Equal(t, domain.SizeMedium, data.Services[0].Size)
}

func TestServiceKPIUnitsAreNormalized(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)
	var inputs []engine.KPIInput
	for _, unit := range []string{"visits", " visits", "Visits"} {
		svc, err := env.Engine.SaveService(env.Ctx, domain.Service{
			Name:       "Service " + unit,
			Type:       domain.ServiceRegular,
			Status:     domain.ServiceLive,
			CountryIDs: []string{env.Country.ID},
		}, actor)
		require.NoError(t, err)
		inputs = append(inputs, engine.KPIInput{ID: svc.ID, KPIs: []domain.KPI{{Unit: unit, Value: 200000}}})
	}

	res := env.submit(t, rep, engine.StepServices, engine.StepSubmission{Services: inputs})
	require.True(t, res.OK(), "%+v", res)

	result, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, calc.ServicesBySize{Large: 3}, result.ServicesBySize)

	res = env.submit(t, rep, engine.StepServices, engine.StepSubmission{
		Services: []engine.KPIInput{{ID: inputs[0].ID, KPIs: []domain.KPI{{Unit: "clicks", Value: 1}}}},
	})
	assert.False(t, res.OK())
	assert.Contains(t, res.FieldErrors, "services[0].kpis[0].unit")

	res = env.submit(t, rep, engine.StepServices, engine.StepSubmission{
		Services: []engine.KPIInput{{ID: inputs[0].ID, KPIs: []domain.KPI{{Unit: "visits", Value: 1}, {Unit: "VISITS ", Value: 2}}}},
	})
	assert.Contains(t, res.FieldErrors, "services[0].kpis[1].unit")
}

type fakeZotero struct {
	pubs []zotero.Publication
	err  error
}

func (f fakeZotero) Publications(_ context.Context, countryCode string, year int) ([]zotero.Publication, error) {
	return f.pubs, f.err
}

func TestCreateReportSummary(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)
	amount := int64(125000)
	res := env.submit(t, rep, engine.StepProjectFunding, engine.StepSubmission{
		ProjectFunding: []domain.ProjectFundingLeverage{{Name: "CLARIAH-AT", Amount: &amount, Scope: "national"}},
	})
	require.True(t, res.OK(), "%+v", res)
	_, err := env.Engine.SaveInstitution(env.Ctx, domain.Institution{
		Name: "Austrian Academy of Sciences", Types: []string{domain.InstitutionNationalCoordinating}, CountryIDs: []string{env.Country.ID},
	}, actor)
	require.NoError(t, err)

	env.Engine.Zotero = fakeZotero{pubs: []zotero.Publication{{Key: "K1", Title: "Digital editions"}}}
	result, err := env.Engine.CalculateOperationalCost(env.Ctx, env.Country.ID, rep.ID)
	require.NoError(t, err)
	summary, err := env.Engine.CreateReportSummary(env.Ctx, env.Country.ID, rep.ID, result)
	require.NoError(t, err)
	assert.Equal(t, "Austria", summary.CountryName)
	assert.Equal(t, "€3,000", summary.OperationalCostText)
	assert.Equal(t, []string{"Austrian Academy of Sciences (NCI)"}, summary.Institutions)
	assert.Equal(t, []string{"https://dariah.at"}, summary.Outreach.NationalWebsites)
	assert.Len(t, summary.Contributors, 2)
	assert.Equal(t, int64(125000), summary.ProjectFunding.Total)
	assert.Equal(t, "€125,000", summary.ProjectFunding.TotalText)
	require.Len(t, summary.Publications, 1)
	assert.Empty(t, summary.PublicationsError)

	env.Engine.Zotero = fakeZotero{err: errors.New("zotero unavailable")}
	summary, err = env.Engine.CreateReportSummary(env.Ctx, env.Country.ID, rep.ID, result)
	require.NoError(t, err)
	assert.Empty(t, summary.Publications)
	assert.Equal(t, "zotero unavailable", summary.PublicationsError)
}

func TestCompareWithPreviousYear(t *testing.T) {
	env := newTestEnv(t)
	env.seedValues(t)
	old := env.openReport(t, 2023)
	cur := env.openReport(t, 2024)
	o := env.addWebsite(t)

	require.True(t, env.submit(t, old, engine.StepEvents, engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: 3}}).OK())
	require.True(t, env.submit(t, cur, engine.StepEvents, engine.StepSubmission{Events: &engine.EventsInput{SmallMeetings: 1}}).OK())
	require.True(t, env.submit(t, old, engine.StepOutreach, engine.StepSubmission{
		Outreach: []engine.KPIInput{{ID: o.ID, KPIs: []domain.KPI{{Unit: "visits", Value: 100}}}},
	}).OK())
	require.True(t, env.submit(t, cur, engine.StepOutreach, engine.StepSubmission{
		Outreach: []engine.KPIInput{{ID: o.ID, KPIs: []domain.KPI{{Unit: "visits", Value: 150}}}},
	}).OK())

	cmp, err := env.Engine.CompareWithPreviousYear(env.Ctx, env.Country.ID, cur.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, cmp.PreviousReportID)
	small := cmp.Events[domain.EventSmall]
	assert.Equal(t, int64(1), small.Current)
	require.NotNil(t, small.Change)
	assert.Equal(t, int64(-2), *small.Change)
	require.Len(t, cmp.Outreach, 1)
	require.NotNil(t, cmp.Outreach[0].Delta.Change)
	assert.Equal(t, int64(50), *cmp.Outreach[0].Delta.Change)
	require.NotNil(t, cmp.OperationalCost.Change)
	assert.Equal(t, int64(-1000), *cmp.OperationalCost.Change)

	first, err := env.Engine.CompareWithPreviousYear(env.Ctx, env.Country.ID, old.ID)
	require.NoError(t, err)
	assert.Empty(t, first.PreviousReportID)
	assert.Nil(t, first.Contributions.Previous)
}

type fakeMarketplace struct {
	items []sshomp.Item
	calls int
}

func (f *fakeMarketplace) ActorItems(_ context.Context, actorID int64) ([]sshomp.Item, error) {
	f.calls++
	return f.items, nil
}

func softwareItem(t *testing.T, id, label string) sshomp.Item {
	t.Helper()
	var it sshomp.Item
	raw := `{"persistentId":"` + id + `","category":"tool-or-service","label":"` + label + `","status":"approved",
		"properties":[{"type":{"code":"resource-category"},"concept":{"code":"software","label":"Software"}}]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &it))
	require.True(t, it.IsSoftware())
	return it
}

func TestIngestMarketplace(t *testing.T) {
	env := newTestEnv(t)
	actorID := int64(42)
	country := env.Country
	country.MarketplaceID = &actorID
	_, err := env.Engine.SaveCountry(env.Ctx, country, actor)
	require.NoError(t, err)

	env.Engine.Marketplace = nil
	_, err = env.Engine.IngestMarketplace(env.Ctx, env.Country.ID, actor)
	assert.ErrorIs(t, err, engine.ErrNotConfigured)

	mp := &fakeMarketplace{items: []sshomp.Item{
		{PersistentID: "svc1", Category: sshomp.CategoryToolOrService, Label: "Corpus service", AccessibleAt: []string{"https://corpus.example"}, Status: "approved"},
		softwareItem(t, "sw1", "Editor"),
		{PersistentID: "wf1", Category: "workflow", Label: "A workflow"},
	}}
	env.Engine.Marketplace = mp

	res, err := env.Engine.IngestMarketplace(env.Ctx, env.Country.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CreatedServices)
	assert.Equal(t, 1, res.CreatedSoftware)
	assert.Equal(t, 1, res.Skipped)

	services, err := env.Engine.Repo.ListServices(env.Ctx, repo.ServiceFilters{CountryID: env.Country.ID})
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, domain.ServiceNeedsReview, services[0].Status)
	assert.Equal(t, "https://corpus.example", services[0].URL)

	mp.items[0].Label = "Corpus service v2"
	res, err = env.Engine.IngestMarketplace(env.Ctx, env.Country.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedServices)
	assert.Equal(t, 1, res.UpdatedSoftware)
	assert.Zero(t, res.CreatedServices)

	svc, err := env.Engine.Repo.GetService(env.Ctx, services[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Corpus service v2", svc.Name)
	assert.Equal(t, domain.ServiceNeedsReview, svc.Status)

	all, err := env.Engine.IngestAllMarketplace(env.Ctx, actor)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, mp.calls)
}

func TestUsersLoginAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{
		Name: "Coordinator", Email: "nc@example.org", Password: "secret-pass", Role: domain.UserNationalCoordinator, CountryID: &env.Country.ID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.PasswordHash)

	_, p, err := env.Engine.Login(env.Ctx, "NC@example.org", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, env.Country.ID, p.CountryID)
	assert.True(t, p.Has(auth.PermReportConfirm))
	assert.False(t, p.Has(auth.PermUserManage))

	_, _, err = env.Engine.Login(env.Ctx, "nc@example.org", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, _, err = env.Engine.Login(env.Ctx, "nobody@example.org", "secret-pass")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	key, err := env.Engine.CreateAPIKey(env.Ctx, u.ID, "ci", actor)
	require.NoError(t, err)
	assert.NotEmpty(t, key.Key)
	kp, err := env.Engine.PrincipalForAPIKey(env.Ctx, key.Key)
	require.NoError(t, err)
	assert.Equal(t, u.ID, kp.UserID)
	assert.Equal(t, "api_key", kp.Source)
	_, err = env.Engine.PrincipalForAPIKey(env.Ctx, "unr_bogus")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{Name: "X", Email: "x@example.org", Password: "secret-pass", Role: domain.UserContributor})
	var verr forms.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "country_id")

	_, err = env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{Name: "Dup", Email: "nc@example.org", Password: "secret-pass", Role: domain.UserAdmin})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "email")
}

func TestUpdateAndDeleteUser(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{
		Name: "Contributor", Email: "c@example.org", Password: "secret-pass", Role: domain.UserContributor, CountryID: &env.Country.ID,
	})
	require.NoError(t, err)
	key, err := env.Engine.CreateAPIKey(env.Ctx, u.ID, "ci", actor)
	require.NoError(t, err)

	users, err := env.Engine.ListUsers(env.Ctx, env.Country.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)

	unverified := "unverified"
	_, err = env.Engine.UpdateUser(env.Ctx, engine.UpdateUserOptions{UserID: u.ID, Status: &unverified, ActorID: actor})
	require.NoError(t, err)
	_, _, err = env.Engine.Login(env.Ctx, "c@example.org", "secret-pass")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = env.Engine.PrincipalForAPIKey(env.Ctx, key.Key)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	empty := ""
	_, err = env.Engine.UpdateUser(env.Ctx, engine.UpdateUserOptions{UserID: u.ID, CountryID: &empty, ActorID: actor})
	var verr forms.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "country_id")

	admin := domain.UserAdmin
	updated, err := env.Engine.UpdateUser(env.Ctx, engine.UpdateUserOptions{UserID: u.ID, Role: &admin, CountryID: &empty, ActorID: actor})
	require.NoError(t, err)
	assert.Equal(t, domain.UserAdmin, updated.Role)
	assert.Nil(t, updated.CountryID)

	err = env.Engine.DeleteUser(env.Ctx, u.ID, u.ID)
	require.ErrorAs(t, err, &verr)
	require.NoError(t, env.Engine.DeleteUser(env.Ctx, u.ID, actor))
	_, err = env.Engine.Repo.GetUser(env.Ctx, u.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.PrincipalForAPIKey(env.Ctx, key.Key)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestReferenceValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.SaveOutreach(env.Ctx, domain.Outreach{Name: "Bad", URL: "not a url", Type: domain.OutreachSocialMedia}, actor)
	var verr forms.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "url")

	start, end := "2024-05-01", "2024-01-01"
	_, err = env.Engine.SaveWorkingGroup(env.Ctx, domain.WorkingGroup{Name: "WG", StartDate: &start, EndDate: &end}, actor)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "end_date")

	_, err = env.Engine.SetReferenceValue(env.Ctx, domain.ValueEventSize, domain.ReferenceValue{Type: "huge", AnnualValue: 1}, actor)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Result.FieldErrors, "type")
}

func TestExportYear(t *testing.T) {
	env := newTestEnv(t)
	rep := env.scenario(t, 2024)
	_, _, err := env.Engine.ConfirmReport(env.Ctx, env.Country.ID, rep.ID, actor)
	require.NoError(t, err)

	rows, err := env.Engine.ExportYear(env.Ctx, 2024, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "AT", rows[0].CountryCode)
	assert.Equal(t, domain.ReportFinal, rows[0].Status)
	assert.Equal(t, int64(3000), rows[0].OperationalCost)

	rows, err = env.Engine.ExportYear(env.Ctx, 2023, "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
