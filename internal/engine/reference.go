package engine

import (
	"context"
	"database/sql"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/events"
	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
)

// entity binds the repo calls of one reference data kind.
type entity[T any] struct {
	kind    string
	id      func(*T) *string
	country func(T) string
	period  func(T) (*string, *string)
	insert  func(context.Context, *sql.Tx, T) error
	update  func(context.Context, *sql.Tx, T) error
	get     func(context.Context, string) (T, error)
	remove  func(context.Context, *sql.Tx, string) error
}

// save validates v, inserts it when it has no id and updates it otherwise.
func save[T any](ctx context.Context, e Engine, ent entity[T], v T, actorID string) (T, error) {
	var zero T
	if err := forms.Validate(v); err != nil {
		return zero, err
	}
	if ent.period != nil {
		if start, end := ent.period(v); !domain.ValidPeriod(start, end) {
			return zero, forms.Invalid("end_date", "Must not be before the start date")
		}
	}
	id := ent.id(&v)
	op := "update"
	if *id == "" {
		*id = newID()
		op = "create"
	}
	country := ""
	if ent.country != nil {
		country = ent.country(v)
	}
	m := mutation{
		Type:       events.ReferenceChanged,
		CountryID:  country,
		EntityKind: ent.kind,
		EntityID:   *id,
		ActorID:    actorID,
		Payload:    events.EventPayload{"op": op},
	}
	err := e.inTx(ctx, m, func(tx *sql.Tx) error {
		if op == "create" {
			return ent.insert(ctx, tx, v)
		}
		return ent.update(ctx, tx, v)
	})
	if err != nil {
		return zero, err
	}
	return ent.get(ctx, *id)
}

func remove[T any](ctx context.Context, e Engine, ent entity[T], id, actorID string) error {
	existing, err := ent.get(ctx, id)
	if err != nil {
		return err
	}
	country := ""
	if ent.country != nil {
		country = ent.country(existing)
	}
	m := mutation{
		Type:       events.ReferenceChanged,
		CountryID:  country,
		EntityKind: ent.kind,
		EntityID:   id,
		ActorID:    actorID,
		Payload:    events.EventPayload{"op": "delete"},
	}
	return e.inTx(ctx, m, func(tx *sql.Tx) error {
		return ent.remove(ctx, tx, id)
	})
}

func (e Engine) countries() entity[domain.Country] {
	return entity[domain.Country]{
		kind:    "country",
		id:      func(c *domain.Country) *string { return &c.ID },
		country: func(c domain.Country) string { return c.ID },
		period:  func(c domain.Country) (*string, *string) { return c.StartDate, c.EndDate },
		insert:  e.Repo.InsertCountry,
		update:  e.Repo.UpdateCountry,
		get:     e.Repo.GetCountry,
		remove:  e.Repo.DeleteCountry,
	}
}

func (e Engine) SaveCountry(ctx context.Context, c domain.Country, actorID string) (domain.Country, error) {
	return save(ctx, e, e.countries(), c, actorID)
}

func (e Engine) DeleteCountry(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.countries(), id, actorID)
}

func (e Engine) institutions() entity[domain.Institution] {
	return entity[domain.Institution]{
		kind:   "institution",
		id:     func(i *domain.Institution) *string { return &i.ID },
		period: func(i domain.Institution) (*string, *string) { return i.StartDate, i.EndDate },
		insert: e.Repo.InsertInstitution,
		update: e.Repo.UpdateInstitution,
		get:    e.Repo.GetInstitution,
		remove: e.Repo.DeleteInstitution,
	}
}

func (e Engine) SaveInstitution(ctx context.Context, in domain.Institution, actorID string) (domain.Institution, error) {
	return save(ctx, e, e.institutions(), in, actorID)
}

func (e Engine) DeleteInstitution(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.institutions(), id, actorID)
}

func (e Engine) persons() entity[domain.Person] {
	return entity[domain.Person]{
		kind:   "person",
		id:     func(p *domain.Person) *string { return &p.ID },
		insert: e.Repo.InsertPerson,
		update: e.Repo.UpdatePerson,
		get:    e.Repo.GetPerson,
		remove: e.Repo.DeletePerson,
	}
}

func (e Engine) SavePerson(ctx context.Context, p domain.Person, actorID string) (domain.Person, error) {
	return save(ctx, e, e.persons(), p, actorID)
}

func (e Engine) DeletePerson(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.persons(), id, actorID)
}

func (e Engine) roles() entity[domain.Role] {
	return entity[domain.Role]{
		kind:   "role",
		id:     func(r *domain.Role) *string { return &r.ID },
		insert: e.Repo.InsertRole,
		update: e.Repo.UpdateRole,
		get:    e.Repo.GetRole,
		remove: e.Repo.DeleteRole,
	}
}

// SaveRole stores a role. Its annual value prices contributions of the
// role's type.
func (e Engine) SaveRole(ctx context.Context, r domain.Role, actorID string) (domain.Role, error) {
	return save(ctx, e, e.roles(), r, actorID)
}

func (e Engine) DeleteRole(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.roles(), id, actorID)
}

func (e Engine) workingGroups() entity[domain.WorkingGroup] {
	return entity[domain.WorkingGroup]{
		kind:   "working_group",
		id:     func(w *domain.WorkingGroup) *string { return &w.ID },
		period: func(w domain.WorkingGroup) (*string, *string) { return w.StartDate, w.EndDate },
		insert: e.Repo.InsertWorkingGroup,
		update: e.Repo.UpdateWorkingGroup,
		get:    e.Repo.GetWorkingGroup,
		remove: e.Repo.DeleteWorkingGroup,
	}
}

func (e Engine) SaveWorkingGroup(ctx context.Context, wg domain.WorkingGroup, actorID string) (domain.WorkingGroup, error) {
	return save(ctx, e, e.workingGroups(), wg, actorID)
}

func (e Engine) DeleteWorkingGroup(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.workingGroups(), id, actorID)
}

func (e Engine) contributions() entity[domain.Contribution] {
	return entity[domain.Contribution]{
		kind:    "contribution",
		id:      func(c *domain.Contribution) *string { return &c.ID },
		country: func(c domain.Contribution) string { return deref(c.CountryID) },
		period:  func(c domain.Contribution) (*string, *string) { return c.StartDate, c.EndDate },
		insert:  e.Repo.InsertContribution,
		update:  e.Repo.UpdateContribution,
		get: func(ctx context.Context, id string) (domain.Contribution, error) {
			d, err := e.Repo.GetContribution(ctx, id)
			return d.Contribution, err
		},
		remove: e.Repo.DeleteContribution,
	}
}

func (e Engine) SaveContribution(ctx context.Context, c domain.Contribution, actorID string) (domain.Contribution, error) {
	return save(ctx, e, e.contributions(), c, actorID)
}

func (e Engine) DeleteContribution(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.contributions(), id, actorID)
}

func (e Engine) outreach() entity[domain.Outreach] {
	return entity[domain.Outreach]{
		kind:    "outreach",
		id:      func(o *domain.Outreach) *string { return &o.ID },
		country: func(o domain.Outreach) string { return deref(o.CountryID) },
		period:  func(o domain.Outreach) (*string, *string) { return o.StartDate, o.EndDate },
		insert:  e.Repo.InsertOutreach,
		update:  e.Repo.UpdateOutreach,
		get:     e.Repo.GetOutreach,
		remove:  e.Repo.DeleteOutreach,
	}
}

func (e Engine) SaveOutreach(ctx context.Context, o domain.Outreach, actorID string) (domain.Outreach, error) {
	return save(ctx, e, e.outreach(), o, actorID)
}

func (e Engine) DeleteOutreach(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.outreach(), id, actorID)
}

func firstCountry(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	return ""
}

func (e Engine) services() entity[domain.Service] {
	return entity[domain.Service]{
		kind:    "service",
		id:      func(s *domain.Service) *string { return &s.ID },
		country: func(s domain.Service) string { return firstCountry(s.CountryIDs) },
		insert:  e.Repo.InsertService,
		update:  e.Repo.UpdateService,
		get:     e.Repo.GetService,
		remove:  e.Repo.DeleteService,
	}
}

func (e Engine) SaveService(ctx context.Context, s domain.Service, actorID string) (domain.Service, error) {
	return save(ctx, e, e.services(), s, actorID)
}

func (e Engine) DeleteService(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.services(), id, actorID)
}

func (e Engine) software() entity[domain.Software] {
	return entity[domain.Software]{
		kind:    "software",
		id:      func(s *domain.Software) *string { return &s.ID },
		country: func(s domain.Software) string { return firstCountry(s.CountryIDs) },
		insert:  e.Repo.InsertSoftware,
		update:  e.Repo.UpdateSoftware,
		get:     e.Repo.GetSoftware,
		remove:  e.Repo.DeleteSoftware,
	}
}

func (e Engine) SaveSoftware(ctx context.Context, s domain.Software, actorID string) (domain.Software, error) {
	return save(ctx, e, e.software(), s, actorID)
}

func (e Engine) DeleteSoftware(ctx context.Context, id, actorID string) error {
	return remove(ctx, e, e.software(), id, actorID)
}

// SetReferenceValue stores the annual value of an event size, outreach type
// or service size.
func (e Engine) SetReferenceValue(ctx context.Context, kind string, v domain.ReferenceValue, actorID string) (domain.ReferenceValue, error) {
	if err := forms.Validate(v); err != nil {
		return domain.ReferenceValue{}, err
	}
	if !validReferenceType(kind, v.Type) {
		return domain.ReferenceValue{}, forms.Invalid("type", "Unknown type for "+kind)
	}
	m := mutation{
		Type:       events.ValueChanged,
		EntityKind: kind,
		EntityID:   v.Type,
		ActorID:    actorID,
		Payload:    events.EventPayload{"annual_value": v.AnnualValue},
	}
	err := e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.UpsertReferenceValue(ctx, tx, kind, v)
	})
	if err != nil {
		return domain.ReferenceValue{}, err
	}
	return e.Repo.GetReferenceValue(ctx, kind, v.Type)
}

func validReferenceType(kind, typ string) bool {
	var allowed []string
	switch kind {
	case domain.ValueEventSize:
		allowed = []string{domain.EventSmall, domain.EventMedium, domain.EventLarge, domain.EventDariahCommissioned}
	case domain.ValueOutreachType:
		allowed = []string{domain.OutreachNationalWebsite, domain.OutreachSocialMedia}
	case domain.ValueServiceSize:
		allowed = []string{domain.SizeSmall, domain.SizeMedium, domain.SizeLarge, domain.SizeCore}
	}
	for _, a := range allowed {
		if a == typ {
			return true
		}
	}
	return false
}
