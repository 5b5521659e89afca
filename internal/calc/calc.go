// Package calc computes the operational cost of a country report: the
// weighted sum of priced roles, events, outreach channels and services.
// It is pure; callers fetch the inputs.
package calc

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// PricedRoles are the role types that carry an annual value in the total.
var PricedRoles = []string{domain.RoleNationalCoordinator, domain.RoleJRCMember, domain.RoleWGChair}

// EventSizes are the priced event tiers.
var EventSizes = []string{domain.EventSmall, domain.EventMedium, domain.EventLarge, domain.EventDariahCommissioned}

// OutreachTypes are the priced outreach channel types.
var OutreachTypes = []string{domain.OutreachNationalWebsite, domain.OutreachSocialMedia}

// ServiceSizes are the priced service tiers.
var ServiceSizes = []string{domain.SizeSmall, domain.SizeMedium, domain.SizeLarge, domain.SizeCore}

// MissingReferenceValueError reports a reference value the calculation
// needs but which is not configured.
type MissingReferenceValueError struct {
	Kind string
	Key  string
}

func (e MissingReferenceValueError) Error() string {
	return fmt.Sprintf("missing %s reference value %s", e.Kind, e.Key)
}

// Thresholds size non-core services by visits: below Medium is small, at or
// above Large is large.
type Thresholds struct {
	Medium int64
	Large  int64
}

// DefaultThresholds are the visit boundaries used when none are configured.
var DefaultThresholds = Thresholds{Medium: 7000, Large: 170000}

// Inputs is everything the calculation reads. Contributions, Outreach and
// Services are expected to be scoped to the report's country and year.
type Inputs struct {
	Contributions            []domain.ContributionDetail
	ContributionsOverride    *int
	PartnerInstitutions      int
	Roles                    []domain.Role
	EventReport              domain.EventReport
	EventValues              []domain.ReferenceValue
	Outreach                 []domain.Outreach
	OutreachValues           []domain.ReferenceValue
	Services                 []domain.Service
	ServiceReports           []domain.ServiceReport
	ServiceValues            []domain.ReferenceValue
	Thresholds               Thresholds
	OperationalCostThreshold *int64
}

type Count struct {
	Contributions            int `json:"contributions"`
	NationalCoordinators     int `json:"national_coordinators"`
	JRCMembers               int `json:"jrc_members"`
	WGChairs                 int `json:"wg_chairs"`
	PartnerInstitutions      int `json:"partner_institutions"`
	SmallMeetings            int `json:"small_meetings"`
	MediumMeetings           int `json:"medium_meetings"`
	LargeMeetings            int `json:"large_meetings"`
	DariahCommissionedEvents int `json:"dariah_commissioned_events"`
	NationalWebsites         int `json:"national_websites"`
	SocialMedia              int `json:"social_media"`
}

type ServicesBySize struct {
	Small  int `json:"small"`
	Medium int `json:"medium"`
	Large  int `json:"large"`
	Core   int `json:"core"`
}

// Costs is the per-category breakdown of the operational cost.
type Costs struct {
	Roles    int64 `json:"roles"`
	Events   int64 `json:"events"`
	Outreach int64 `json:"outreach"`
	Services int64 `json:"services"`
}

type Calculation struct {
	Count                    Count          `json:"count"`
	ServicesBySize           ServicesBySize `json:"services_by_size"`
	Costs                    Costs          `json:"costs"`
	OperationalCost          int64          `json:"operational_cost"`
	OperationalCostThreshold *int64         `json:"operational_cost_threshold,omitempty"`
}

// Calculate computes the operational cost of in.
func Calculate(in Inputs) (Calculation, error) {
	th := in.Thresholds
	if th.Medium <= 0 || th.Large <= 0 {
		th = DefaultThresholds
	}
	var out Calculation
	out.OperationalCostThreshold = in.OperationalCostThreshold

	roleCost, err := roleCosts(in, &out.Count)
	if err != nil {
		return Calculation{}, err
	}
	eventCost, err := eventCosts(in, &out.Count)
	if err != nil {
		return Calculation{}, err
	}
	outreachCost, err := outreachCosts(in, &out.Count)
	if err != nil {
		return Calculation{}, err
	}
	serviceCost, err := serviceCosts(in, th, &out.ServicesBySize)
	if err != nil {
		return Calculation{}, err
	}
	out.Count.PartnerInstitutions = in.PartnerInstitutions

	out.Costs = Costs{
		Roles:    roleCost.IntPart(),
		Events:   eventCost.IntPart(),
		Outreach: outreachCost.IntPart(),
		Services: serviceCost.IntPart(),
	}
	out.OperationalCost = decimal.Sum(roleCost, eventCost, outreachCost, serviceCost).IntPart()
	return out, nil
}

func line(count int, value int64) decimal.Decimal {
	return decimal.NewFromInt(value).Mul(decimal.NewFromInt(int64(count)))
}

func valueIndex(values []domain.ReferenceValue) map[string]int64 {
	idx := make(map[string]int64, len(values))
	for _, v := range values {
		idx[v.Type] = v.AnnualValue
	}
	return idx
}

func lookup(idx map[string]int64, kind, key string) (int64, error) {
	v, ok := idx[key]
	if !ok {
		return 0, MissingReferenceValueError{Kind: kind, Key: key}
	}
	return v, nil
}

func roleCosts(in Inputs, count *Count) (decimal.Decimal, error) {
	byType := map[string]int{}
	for _, c := range in.Contributions {
		byType[c.RoleType]++
	}
	count.Contributions = len(in.Contributions)
	if in.ContributionsOverride != nil {
		count.Contributions = *in.ContributionsOverride
	}
	count.NationalCoordinators = byType[domain.RoleNationalCoordinator]
	count.JRCMembers = byType[domain.RoleJRCMember]
	count.WGChairs = byType[domain.RoleWGChair]

	values := map[string]int64{}
	for _, r := range in.Roles {
		if _, seen := values[r.Type]; !seen {
			values[r.Type] = r.AnnualValue
		}
	}
	total := decimal.Zero
	for _, typ := range PricedRoles {
		v, err := lookup(values, "role", typ)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(line(byType[typ], v))
	}
	return total, nil
}

// DariahCommissionedCount is 1 when the free-text field names an event.
func DariahCommissionedCount(text string) int {
	if strings.TrimSpace(text) != "" {
		return 1
	}
	return 0
}

func eventCosts(in Inputs, count *Count) (decimal.Decimal, error) {
	ev := in.EventReport
	count.SmallMeetings = ev.SmallMeetings
	count.MediumMeetings = ev.MediumMeetings
	count.LargeMeetings = ev.LargeMeetings
	count.DariahCommissionedEvents = DariahCommissionedCount(ev.DariahCommissionedEvent)

	counts := map[string]int{
		domain.EventSmall:              ev.SmallMeetings,
		domain.EventMedium:             ev.MediumMeetings,
		domain.EventLarge:              ev.LargeMeetings,
		domain.EventDariahCommissioned: count.DariahCommissionedEvents,
	}
	idx := valueIndex(in.EventValues)
	total := decimal.Zero
	for _, size := range EventSizes {
		v, err := lookup(idx, domain.ValueEventSize, size)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(line(counts[size], v))
	}
	return total, nil
}

func outreachCosts(in Inputs, count *Count) (decimal.Decimal, error) {
	byType := map[string]int{}
	for _, o := range in.Outreach {
		byType[o.Type]++
	}
	count.NationalWebsites = byType[domain.OutreachNationalWebsite]
	count.SocialMedia = byType[domain.OutreachSocialMedia]

	idx := valueIndex(in.OutreachValues)
	total := decimal.Zero
	for _, typ := range OutreachTypes {
		v, err := lookup(idx, domain.ValueOutreachType, typ)
		if err != nil {
			return decimal.Zero, err
		}
		if byType[typ] > 0 {
			total = total.Add(decimal.NewFromInt(v))
		}
	}
	return total, nil
}

// ServiceSize classifies a service for one report period. Core services keep
// their tier; others are sized by the report's visits KPI, and a service
// without a report or visits KPI is small.
func ServiceSize(svc domain.Service, report *domain.ServiceReport, th Thresholds) string {
	if svc.Type == domain.ServiceCore {
		return domain.SizeCore
	}
	if report == nil {
		return domain.SizeSmall
	}
	visits, ok := report.KPI(domain.KPIVisits)
	if !ok {
		return domain.SizeSmall
	}
	return SizeForVisits(visits, th)
}

// SizeForVisits maps a visit count to a service tier.
func SizeForVisits(visits int64, th Thresholds) string {
	switch {
	case visits < th.Medium:
		return domain.SizeSmall
	case visits >= th.Large:
		return domain.SizeLarge
	default:
		return domain.SizeMedium
	}
}

func serviceCosts(in Inputs, th Thresholds, bySize *ServicesBySize) (decimal.Decimal, error) {
	reports := make(map[string]*domain.ServiceReport, len(in.ServiceReports))
	for i := range in.ServiceReports {
		reports[in.ServiceReports[i].ServiceID] = &in.ServiceReports[i]
	}
	counts := map[string]int{}
	for _, svc := range in.Services {
		if svc.Status != domain.ServiceLive {
			continue
		}
		counts[ServiceSize(svc, reports[svc.ID], th)]++
	}
	bySize.Small = counts[domain.SizeSmall]
	bySize.Medium = counts[domain.SizeMedium]
	bySize.Large = counts[domain.SizeLarge]
	bySize.Core = counts[domain.SizeCore]

	idx := valueIndex(in.ServiceValues)
	total := decimal.Zero
	for _, size := range ServiceSizes {
		v, err := lookup(idx, domain.ValueServiceSize, size)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(line(counts[size], v))
	}
	return total, nil
}
