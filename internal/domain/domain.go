package domain

import "strings"

const (
	CountryMember      = "member_country"
	CountryCooperating = "cooperating_partnership"
	CountryOther       = "other"
)

const (
	InstitutionPartner                = "partner_institution"
	InstitutionNationalCoordinating   = "national_coordinating_institution"
	InstitutionNationalRepresentative = "national_representative_institution"
	InstitutionCooperatingPartner     = "cooperating_partner"
	InstitutionOther                  = "other"
)

// Role types. Only national_coordinator, jrc_member and wg_chair are priced.
const (
	RoleNationalCoordinator       = "national_coordinator"
	RoleNationalCoordinatorDeputy = "national_coordinator_deputy"
	RoleNationalRepresentative    = "national_representative"
	RoleJRCMember                 = "jrc_member"
	RoleWGChair                   = "wg_chair"
	RoleSMTMember                 = "smt_member"
	RoleNCCChair                  = "ncc_chair"
	RoleDCOMember                 = "dco_member"
	RoleOther                     = "other"
)

const (
	ReportDraft = "draft"
	ReportFinal = "final"
)

const (
	CampaignOpen   = "open"
	CampaignClosed = "closed"
)

const (
	EventSmall              = "small"
	EventMedium             = "medium"
	EventLarge              = "large"
	EventDariahCommissioned = "dariah_commissioned"
)

const (
	OutreachNationalWebsite = "national_website"
	OutreachSocialMedia     = "social_media"
)

const (
	ServiceCommunity = "community"
	ServiceCore      = "core"
	ServiceInternal  = "internal"
	ServiceRegular   = "regular"
)

const (
	ServiceLive          = "live"
	ServiceNeedsReview   = "needs_review"
	ServiceInPreparation = "in_preparation"
	ServiceDiscontinued  = "discontinued"
)

const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
	SizeCore   = "core"
)

const (
	SoftwareMaintained    = "maintained"
	SoftwareNotMaintained = "not_maintained"
	SoftwareNeedsReview   = "needs_review"
)

const (
	UserAdmin               = "admin"
	UserNationalCoordinator = "national_coordinator"
	UserContributor         = "contributor"
)

// KPIVisits is the service KPI unit that drives size classification.
const KPIVisits = "visits"

// NormalizeKPIUnit trims and lowercases a submitted unit.
func NormalizeKPIUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}

// Reference value kinds, one table each.
const (
	ValueEventSize    = "event_size"
	ValueOutreachType = "outreach_type"
	ValueServiceSize  = "service_size"
)

type Country struct {
	ID             string  `json:"id,omitempty"`
	Code           string  `json:"code" validate:"required,len=2"`
	Name           string  `json:"name" validate:"required"`
	Type           string  `json:"type" enum:"member_country,cooperating_partnership,other" validate:"oneof=member_country cooperating_partnership other"`
	StartDate      *string `json:"start_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	EndDate        *string `json:"end_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	MarketplaceID  *int64  `json:"marketplace_id,omitempty"`
	Description    string  `json:"description,omitempty"`
	ConsortiumName string  `json:"consortium_name,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt      string  `json:"updated_at,omitempty" format:"date-time"`
}

type Institution struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name" validate:"required"`
	Types      []string `json:"types,omitempty" validate:"dive,oneof=partner_institution national_coordinating_institution national_representative_institution cooperating_partner other"`
	URLs       []string `json:"urls,omitempty" validate:"dive,url"`
	StartDate  *string  `json:"start_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	EndDate    *string  `json:"end_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	CountryIDs []string `json:"country_ids,omitempty"`
	CreatedAt  string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt  string   `json:"updated_at,omitempty" format:"date-time"`
}

// HasType reports whether the institution carries the given type.
func (i Institution) HasType(t string) bool {
	for _, v := range i.Types {
		if v == t {
			return true
		}
	}
	return false
}

type Person struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name" validate:"required"`
	Email          string   `json:"email,omitempty" validate:"omitempty,email"`
	ORCID          string   `json:"orcid,omitempty"`
	InstitutionIDs []string `json:"institution_ids,omitempty"`
	CreatedAt      string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt      string   `json:"updated_at,omitempty" format:"date-time"`
}

type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name" validate:"required"`
	Type        string `json:"type" validate:"oneof=national_coordinator national_coordinator_deputy national_representative jrc_member wg_chair smt_member ncc_chair dco_member other"`
	AnnualValue int64  `json:"annual_value" validate:"gte=0"`
	CreatedAt   string `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string `json:"updated_at,omitempty" format:"date-time"`
}

type WorkingGroup struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name" validate:"required"`
	Description string  `json:"description,omitempty"`
	MailingList string  `json:"mailing_list,omitempty"`
	StartDate   *string `json:"start_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	EndDate     *string `json:"end_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	CreatedAt   string  `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt   string  `json:"updated_at,omitempty" format:"date-time"`
}

type Contribution struct {
	ID             string  `json:"id,omitempty"`
	PersonID       string  `json:"person_id" validate:"required"`
	RoleID         string  `json:"role_id" validate:"required"`
	CountryID      *string `json:"country_id,omitempty"`
	WorkingGroupID *string `json:"working_group_id,omitempty"`
	StartDate      *string `json:"start_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	EndDate        *string `json:"end_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	CreatedAt      string  `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt      string  `json:"updated_at,omitempty" format:"date-time"`
}

// ContributionDetail is a contribution joined with its person, role and
// working group names.
type ContributionDetail struct {
	Contribution
	PersonName       string `json:"person_name"`
	RoleName         string `json:"role_name"`
	RoleType         string `json:"role_type"`
	WorkingGroupName string `json:"working_group_name,omitempty"`
}

type ReportCampaign struct {
	Year      int    `json:"year"`
	Status    string `json:"status" enum:"open,closed"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type Report struct {
	ID                       string            `json:"id,omitempty"`
	CountryID                string            `json:"country_id"`
	Year                     int               `json:"year"`
	Status                   string            `json:"status" enum:"draft,final"`
	Comments                 map[string]string `json:"comments,omitempty"`
	ContributionsCount       *int              `json:"contributions_count,omitempty"`
	OperationalCost          *int64            `json:"operational_cost,omitempty"`
	OperationalCostThreshold *int64            `json:"operational_cost_threshold,omitempty"`
	OperationalCostDetail    *string           `json:"operational_cost_detail,omitempty"`
	CreatedAt                string            `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt                string            `json:"updated_at,omitempty" format:"date-time"`
}

type EventReport struct {
	ReportID                string `json:"report_id,omitempty"`
	SmallMeetings           int    `json:"small_meetings"`
	MediumMeetings          int    `json:"medium_meetings"`
	LargeMeetings           int    `json:"large_meetings"`
	DariahCommissionedEvent string `json:"dariah_commissioned_event,omitempty"`
	ReusableOutcomes        string `json:"reusable_outcomes,omitempty"`
	UpdatedAt               string `json:"updated_at,omitempty" format:"date-time"`
}

// ReferenceValue is the annual monetary weight of an event size, outreach
// type or service size.
type ReferenceValue struct {
	Type        string `json:"type" validate:"required"`
	AnnualValue int64  `json:"annual_value" validate:"gte=0"`
}

type KPI struct {
	Unit  string `json:"unit" validate:"required,oneof=downloads engagement followers hits items jobs mentions page_views posts reach registered_users searches sessions unique_users views visits websites"`
	Value int64  `json:"value" validate:"gte=0"`
}

type Outreach struct {
	ID        string  `json:"id,omitempty"`
	CountryID *string `json:"country_id,omitempty"`
	Name      string  `json:"name" validate:"required"`
	URL       string  `json:"url" validate:"required,url"`
	Type      string  `json:"type" enum:"national_website,social_media" validate:"oneof=national_website social_media"`
	StartDate *string `json:"start_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   *string `json:"end_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	CreatedAt string  `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string  `json:"updated_at,omitempty" format:"date-time"`
}

type OutreachReport struct {
	ID         string `json:"id,omitempty"`
	ReportID   string `json:"report_id,omitempty"`
	OutreachID string `json:"outreach_id"`
	KPIs       []KPI  `json:"kpis"`
}

type Service struct {
	ID                string   `json:"id,omitempty"`
	Name              string   `json:"name" validate:"required"`
	Type              string   `json:"type" enum:"community,core,internal,regular" validate:"oneof=community core internal regular"`
	Status            string   `json:"status" enum:"live,needs_review,in_preparation,discontinued" validate:"oneof=live needs_review in_preparation discontinued"`
	MarketplaceID     *string  `json:"marketplace_id,omitempty"`
	MarketplaceStatus *string  `json:"marketplace_status,omitempty"`
	URL               string   `json:"url,omitempty"`
	Comment           string   `json:"comment,omitempty"`
	CountryIDs        []string `json:"country_ids,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt         string   `json:"updated_at,omitempty" format:"date-time"`
}

type ServiceReport struct {
	ID        string `json:"id,omitempty"`
	ReportID  string `json:"report_id,omitempty"`
	ServiceID string `json:"service_id"`
	KPIs      []KPI  `json:"kpis"`
}

// KPI returns the value recorded for unit.
func (r ServiceReport) KPI(unit string) (int64, bool) {
	for _, k := range r.KPIs {
		if k.Unit == unit {
			return k.Value, true
		}
	}
	return 0, false
}

type Software struct {
	ID                string   `json:"id,omitempty"`
	Name              string   `json:"name" validate:"required"`
	URL               string   `json:"url,omitempty" validate:"omitempty,url"`
	Status            string   `json:"status" enum:"maintained,not_maintained,needs_review" validate:"oneof=maintained not_maintained needs_review"`
	MarketplaceID     *string  `json:"marketplace_id,omitempty"`
	MarketplaceStatus *string  `json:"marketplace_status,omitempty"`
	Comment           string   `json:"comment,omitempty"`
	CountryIDs        []string `json:"country_ids,omitempty"`
	CreatedAt         string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt         string   `json:"updated_at,omitempty" format:"date-time"`
}

type ProjectFundingLeverage struct {
	ID            string  `json:"id,omitempty"`
	ReportID      string  `json:"report_id,omitempty"`
	Name          string  `json:"name" validate:"required"`
	Amount        *int64  `json:"amount,omitempty" validate:"omitempty,gte=0"`
	Funders       string  `json:"funders,omitempty"`
	ProjectMonths *int    `json:"project_months,omitempty" validate:"omitempty,gte=0"`
	StartDate     *string `json:"start_date,omitempty" format:"date" validate:"omitempty,datetime=2006-01-02"`
	Scope         string  `json:"scope,omitempty" enum:"regional,national,eu,international" validate:"omitempty,oneof=regional national eu international"`
	CreatedAt     string  `json:"created_at,omitempty" format:"date-time"`
}

type User struct {
	ID           string  `json:"id,omitempty"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	Role         string  `json:"role" enum:"admin,national_coordinator,contributor"`
	CountryID    *string `json:"country_id,omitempty"`
	Status       string  `json:"status" enum:"verified,unverified"`
	CreatedAt    string  `json:"created_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id,omitempty"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id,omitempty"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CountryID  string `json:"country_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}
