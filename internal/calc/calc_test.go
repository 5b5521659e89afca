package calc_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

func baseInputs() calc.Inputs {
	return calc.Inputs{
		Roles: []domain.Role{
			{Type: domain.RoleNationalCoordinator, AnnualValue: 1000},
			{Type: domain.RoleJRCMember, AnnualValue: 500},
			{Type: domain.RoleWGChair, AnnualValue: 2000},
			{Type: domain.RoleOther, AnnualValue: 99999},
		},
		EventValues: []domain.ReferenceValue{
			{Type: domain.EventSmall, AnnualValue: 100},
			{Type: domain.EventMedium, AnnualValue: 300},
			{Type: domain.EventLarge, AnnualValue: 800},
			{Type: domain.EventDariahCommissioned, AnnualValue: 1500},
		},
		OutreachValues: []domain.ReferenceValue{
			{Type: domain.OutreachNationalWebsite, AnnualValue: 250},
			{Type: domain.OutreachSocialMedia, AnnualValue: 150},
		},
		ServiceValues: []domain.ReferenceValue{
			{Type: domain.SizeSmall, AnnualValue: 1000},
			{Type: domain.SizeMedium, AnnualValue: 3000},
			{Type: domain.SizeLarge, AnnualValue: 6000},
			{Type: domain.SizeCore, AnnualValue: 12000},
		},
		Thresholds: calc.DefaultThresholds,
	}
}

func contribution(roleType string) domain.ContributionDetail {
	return domain.ContributionDetail{RoleType: roleType}
}

func TestCalculateEmptyIsZero(t *testing.T) {
	out, err := calc.Calculate(baseInputs())
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.OperationalCost)
	assert.Equal(t, calc.Costs{}, out.Costs)
	assert.Equal(t, calc.ServicesBySize{}, out.ServicesBySize)
}

func TestCalculateExampleScenario(t *testing.T) {
	in := baseInputs()
	in.Contributions = []domain.ContributionDetail{
		contribution(domain.RoleNationalCoordinator),
		contribution(domain.RoleJRCMember),
		contribution(domain.RoleJRCMember),
		contribution(domain.RoleOther),
	}
	in.PartnerInstitutions = 3
	in.EventReport = domain.EventReport{SmallMeetings: 2, MediumMeetings: 1, DariahCommissionedEvent: "Summer school"}
	in.Outreach = []domain.Outreach{
		{ID: "w1", Type: domain.OutreachNationalWebsite},
		{ID: "w2", Type: domain.OutreachNationalWebsite},
		{ID: "s1", Type: domain.OutreachSocialMedia},
	}
	in.Services = []domain.Service{
		{ID: "core", Type: domain.ServiceCore, Status: domain.ServiceLive},
		{ID: "busy", Type: domain.ServiceRegular, Status: domain.ServiceLive},
		{ID: "quiet", Type: domain.ServiceCommunity, Status: domain.ServiceLive},
		{ID: "gone", Type: domain.ServiceRegular, Status: domain.ServiceDiscontinued},
	}
	in.ServiceReports = []domain.ServiceReport{
		{ServiceID: "busy", KPIs: []domain.KPI{{Unit: domain.KPIVisits, Value: 20000}}},
		{ServiceID: "gone", KPIs: []domain.KPI{{Unit: domain.KPIVisits, Value: 500000}}},
	}
	threshold := int64(40000)
	in.OperationalCostThreshold = &threshold

	out, err := calc.Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 4, out.Count.Contributions)
	assert.Equal(t, 1, out.Count.NationalCoordinators)
	assert.Equal(t, 2, out.Count.JRCMembers)
	assert.Equal(t, 0, out.Count.WGChairs)
	assert.Equal(t, 3, out.Count.PartnerInstitutions)
	assert.Equal(t, 1, out.Count.DariahCommissionedEvents)
	assert.Equal(t, 2, out.Count.NationalWebsites)
	assert.Equal(t, calc.ServicesBySize{Small: 1, Medium: 1, Core: 1}, out.ServicesBySize)

	assert.Equal(t, int64(1000+2*500), out.Costs.Roles)
	assert.Equal(t, int64(2*100+300+1500), out.Costs.Events)
	assert.Equal(t, int64(250+150), out.Costs.Outreach)
	assert.Equal(t, int64(12000+3000+1000), out.Costs.Services)
	assert.Equal(t, int64(2000+2000+400+16000), out.OperationalCost)
	require.NotNil(t, out.OperationalCostThreshold)
	assert.Equal(t, threshold, *out.OperationalCostThreshold)
}

func TestCalculateIsLinearInCounts(t *testing.T) {
	in := baseInputs()
	in.EventReport = domain.EventReport{LargeMeetings: 1}
	one, err := calc.Calculate(in)
	require.NoError(t, err)

	in.EventReport = domain.EventReport{LargeMeetings: 5}
	five, err := calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 5*one.OperationalCost, five.OperationalCost)
}

func TestOutreachChargedOncePerType(t *testing.T) {
	in := baseInputs()
	for i := 0; i < 7; i++ {
		in.Outreach = append(in.Outreach, domain.Outreach{Type: domain.OutreachSocialMedia})
	}
	out, err := calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Count.SocialMedia)
	assert.Equal(t, int64(150), out.OperationalCost)
}

func TestContributionsOverride(t *testing.T) {
	in := baseInputs()
	in.Contributions = []domain.ContributionDetail{contribution(domain.RoleWGChair)}
	n := 12
	in.ContributionsOverride = &n
	out, err := calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 12, out.Count.Contributions)
	assert.Equal(t, int64(2000), out.OperationalCost)
}

func TestDariahCommissionedCount(t *testing.T) {
	assert.Equal(t, 0, calc.DariahCommissionedCount(""))
	assert.Equal(t, 0, calc.DariahCommissionedCount("  \n\t"))
	assert.Equal(t, 1, calc.DariahCommissionedCount(" Workshop "))
}

func TestSizeForVisitsBoundaries(t *testing.T) {
	th := calc.DefaultThresholds
	cases := []struct {
		visits int64
		want   string
	}{
		{0, domain.SizeSmall},
		{6999, domain.SizeSmall},
		{7000, domain.SizeMedium},
		{169999, domain.SizeMedium},
		{170000, domain.SizeLarge},
		{1 << 40, domain.SizeLarge},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, calc.SizeForVisits(tc.visits, th), "visits=%d", tc.visits)
	}
}

func TestServiceSize(t *testing.T) {
	th := calc.DefaultThresholds
	regular := domain.Service{Type: domain.ServiceRegular}
	assert.Equal(t, domain.SizeSmall, calc.ServiceSize(regular, nil, th))
	assert.Equal(t, domain.SizeSmall, calc.ServiceSize(regular, &domain.ServiceReport{KPIs: []domain.KPI{{Unit: "downloads", Value: 1e6}}}, th))
	assert.Equal(t, domain.SizeLarge, calc.ServiceSize(regular, &domain.ServiceReport{KPIs: []domain.KPI{{Unit: domain.KPIVisits, Value: 170000}}}, th))

	core := domain.Service{Type: domain.ServiceCore}
	assert.Equal(t, domain.SizeCore, calc.ServiceSize(core, &domain.ServiceReport{KPIs: []domain.KPI{{Unit: domain.KPIVisits, Value: 1}}}, th))
}

func TestCalculateMissingReferenceValue(t *testing.T) {
	in := baseInputs()
	in.Roles = in.Roles[1:]
	_, err := calc.Calculate(in)
	var missing calc.MissingReferenceValueError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "role", missing.Kind)
	assert.Equal(t, domain.RoleNationalCoordinator, missing.Key)

	in = baseInputs()
	in.ServiceValues = in.ServiceValues[:3]
	_, err = calc.Calculate(in)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, domain.ValueServiceSize, missing.Kind)
	assert.Equal(t, domain.SizeCore, missing.Key)
}

func TestCalculateTwoJRCMembersSmallEventWebsite(t *testing.T) {
	in := baseInputs()
	in.Roles[1].AnnualValue = 1000
	in.EventValues[0].AnnualValue = 500
	in.Contributions = []domain.ContributionDetail{contribution(domain.RoleJRCMember), contribution(domain.RoleJRCMember)}
	in.EventReport = domain.EventReport{SmallMeetings: 1}
	in.Outreach = []domain.Outreach{{Type: domain.OutreachNationalWebsite}}

	out, err := calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, int64(2000+500+250), out.OperationalCost)

	again, err := calc.Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}
