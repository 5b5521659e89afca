package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

// resource binds the get, create, update and delete routes of one kind of
// reference data. Listing differs per kind and is registered separately.
type resource[T any] struct {
	path   string
	name   string
	get    func(context.Context, string) (T, error)
	save   func(context.Context, T, string) (T, error)
	remove func(context.Context, string, string) error
	setID  func(*T, string)
	// country returns the country an item belongs to, for scope checks.
	country func(T) string
}

var writeErrors = []int{
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

func (r resource[T]) countryOf(v T) string {
	if r.country == nil {
		return ""
	}
	return r.country(v)
}

func registerResource[T any](api huma.API, e engine.Engine, r resource[T]) {
	huma.Register(api, huma.Operation{
		OperationID: "get-" + r.name,
		Method:      http.MethodGet,
		Path:        r.path + "/{id}",
		Summary:     "Get " + r.name,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body T `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermReferenceRead, ""); err != nil {
			return nil, handleError(err)
		}
		item, err := r.get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body T `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-" + r.name,
		Method:        http.MethodPost,
		Path:          r.path,
		Summary:       "Create " + r.name,
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body T `json:"body"`
	}) (*struct {
		Body T `json:"body"`
	}, error) {
		item := input.Body
		r.setID(&item, "")
		p, err := requirePermission(ctx, e, auth.PermReferenceWrite, r.countryOf(item))
		if err != nil {
			return nil, handleError(err)
		}
		saved, err := r.save(ctx, item, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body T `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-" + r.name,
		Method:      http.MethodPut,
		Path:        r.path + "/{id}",
		Summary:     "Update " + r.name,
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body T      `json:"body"`
	}) (*struct {
		Body T `json:"body"`
	}, error) {
		existing, err := r.get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := requirePermission(ctx, e, auth.PermReferenceWrite, r.countryOf(existing))
		if err != nil {
			return nil, handleError(err)
		}
		item := input.Body
		r.setID(&item, input.ID)
		saved, err := r.save(ctx, item, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body T `json:"body"`
		}{Body: saved}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + r.name,
		Method:        http.MethodDelete,
		Path:          r.path + "/{id}",
		Summary:       "Delete " + r.name,
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		existing, err := r.get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := requirePermission(ctx, e, auth.PermReferenceWrite, r.countryOf(existing))
		if err != nil {
			return nil, handleError(err)
		}
		if err := r.remove(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func single(ids []string) string {
	if len(ids) == 1 {
		return ids[0]
	}
	return ""
}

func registerReference(api huma.API, e engine.Engine) {
	registerResource(api, e, resource[domain.Country]{
		path:   "/countries",
		name:   "country",
		get:    e.Repo.GetCountry,
		save:   e.SaveCountry,
		remove: e.DeleteCountry,
		setID:  func(c *domain.Country, id string) { c.ID = id },
	})
	registerResource(api, e, resource[domain.Institution]{
		path:    "/institutions",
		name:    "institution",
		get:     e.Repo.GetInstitution,
		save:    e.SaveInstitution,
		remove:  e.DeleteInstitution,
		setID:   func(i *domain.Institution, id string) { i.ID = id },
		country: func(i domain.Institution) string { return single(i.CountryIDs) },
	})
	registerResource(api, e, resource[domain.Person]{
		path:   "/persons",
		name:   "person",
		get:    e.Repo.GetPerson,
		save:   e.SavePerson,
		remove: e.DeletePerson,
		setID:  func(p *domain.Person, id string) { p.ID = id },
	})
	registerResource(api, e, resource[domain.Role]{
		path:   "/roles",
		name:   "role",
		get:    e.Repo.GetRole,
		save:   e.SaveRole,
		remove: e.DeleteRole,
		setID:  func(r *domain.Role, id string) { r.ID = id },
	})
	registerResource(api, e, resource[domain.WorkingGroup]{
		path:   "/working-groups",
		name:   "working-group",
		get:    e.Repo.GetWorkingGroup,
		save:   e.SaveWorkingGroup,
		remove: e.DeleteWorkingGroup,
		setID:  func(w *domain.WorkingGroup, id string) { w.ID = id },
	})
	registerResource(api, e, resource[domain.Contribution]{
		path: "/contributions",
		name: "contribution",
		get: func(ctx context.Context, id string) (domain.Contribution, error) {
			d, err := e.Repo.GetContribution(ctx, id)
			return d.Contribution, err
		},
		save:    e.SaveContribution,
		remove:  e.DeleteContribution,
		setID:   func(c *domain.Contribution, id string) { c.ID = id },
		country: func(c domain.Contribution) string { return optional(c.CountryID) },
	})
	registerResource(api, e, resource[domain.Outreach]{
		path:    "/outreach",
		name:    "outreach",
		get:     e.Repo.GetOutreach,
		save:    e.SaveOutreach,
		remove:  e.DeleteOutreach,
		setID:   func(o *domain.Outreach, id string) { o.ID = id },
		country: func(o domain.Outreach) string { return optional(o.CountryID) },
	})
	registerResource(api, e, resource[domain.Service]{
		path:    "/services",
		name:    "service",
		get:     e.Repo.GetService,
		save:    e.SaveService,
		remove:  e.DeleteService,
		setID:   func(s *domain.Service, id string) { s.ID = id },
		country: func(s domain.Service) string { return single(s.CountryIDs) },
	})
	registerResource(api, e, resource[domain.Software]{
		path:    "/software",
		name:    "software",
		get:     e.Repo.GetSoftware,
		save:    e.SaveSoftware,
		remove:  e.DeleteSoftware,
		setID:   func(s *domain.Software, id string) { s.ID = id },
		country: func(s domain.Software) string { return single(s.CountryIDs) },
	})
	registerLists(api, e)
}

type listOutput[T any] struct {
	Body []T `json:"body"`
}

func listed[T any](items []T, err error) (*listOutput[T], error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &listOutput[T]{Body: nonNilSlice(items)}, nil
}

func listOperation(id, path, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      http.MethodGet,
		Path:        path,
		Summary:     summary,
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}
}

// registerLists registers the listings. Country-scoped callers only see
// rows of their own country.
func registerLists(api huma.API, e engine.Engine) {
	huma.Register(api, listOperation("list-countries", "/countries", "List countries"),
		func(ctx context.Context, _ *struct{}) (*listOutput[domain.Country], error) {
			if _, err := requirePermission(ctx, e, auth.PermReferenceRead, ""); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListCountries(ctx))
		})

	huma.Register(api, listOperation("list-institutions", "/institutions", "List institutions"),
		func(ctx context.Context, input *struct {
			CountryID string `query:"country_id"`
			Type      string `query:"type"`
			Year      int    `query:"year"`
		}) (*listOutput[domain.Institution], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReferenceRead)
			if err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListInstitutions(ctx, repo.InstitutionFilters{
				CountryID: narrow(scope, input.CountryID),
				Type:      input.Type,
				Year:      input.Year,
			}))
		})

	huma.Register(api, listOperation("list-persons", "/persons", "List persons"),
		func(ctx context.Context, input *struct {
			Query string `query:"q" doc:"Name contains"`
		}) (*listOutput[domain.Person], error) {
			if _, err := requirePermission(ctx, e, auth.PermReferenceRead, ""); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListPersons(ctx, input.Query))
		})

	huma.Register(api, listOperation("list-roles", "/roles", "List roles"),
		func(ctx context.Context, _ *struct{}) (*listOutput[domain.Role], error) {
			if _, err := requirePermission(ctx, e, auth.PermReferenceRead, ""); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListRoles(ctx))
		})

	huma.Register(api, listOperation("list-working-groups", "/working-groups", "List working groups"),
		func(ctx context.Context, _ *struct{}) (*listOutput[domain.WorkingGroup], error) {
			if _, err := requirePermission(ctx, e, auth.PermReferenceRead, ""); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListWorkingGroups(ctx))
		})

	huma.Register(api, listOperation("list-contributions", "/contributions", "List contributions"),
		func(ctx context.Context, input *struct {
			CountryID      string `query:"country_id"`
			PersonID       string `query:"person_id"`
			RoleType       string `query:"role_type"`
			WorkingGroupID string `query:"working_group_id"`
			Year           int    `query:"year"`
		}) (*listOutput[domain.ContributionDetail], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReferenceRead)
			if err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListContributions(ctx, repo.ContributionFilters{
				CountryID:      narrow(scope, input.CountryID),
				PersonID:       input.PersonID,
				RoleType:       input.RoleType,
				WorkingGroupID: input.WorkingGroupID,
				Year:           input.Year,
			}))
		})

	huma.Register(api, listOperation("list-outreach", "/outreach", "List outreach channels"),
		func(ctx context.Context, input *struct {
			CountryID string `query:"country_id"`
			Type      string `query:"type"`
			Year      int    `query:"year"`
		}) (*listOutput[domain.Outreach], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReferenceRead)
			if err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListOutreach(ctx, repo.OutreachFilters{
				CountryID: narrow(scope, input.CountryID),
				Type:      input.Type,
				Year:      input.Year,
			}))
		})

	huma.Register(api, listOperation("list-services", "/services", "List services"),
		func(ctx context.Context, input *struct {
			CountryID string `query:"country_id"`
			Status    string `query:"status"`
			Type      string `query:"type"`
		}) (*listOutput[domain.Service], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReferenceRead)
			if err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListServices(ctx, repo.ServiceFilters{
				CountryID: narrow(scope, input.CountryID),
				Status:    input.Status,
				Type:      input.Type,
			}))
		})

	huma.Register(api, listOperation("list-software", "/software", "List software"),
		func(ctx context.Context, input *struct {
			CountryID string `query:"country_id"`
		}) (*listOutput[domain.Software], error) {
			_, scope, err := requireScoped(ctx, e, auth.PermReferenceRead)
			if err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListSoftware(ctx, narrow(scope, input.CountryID)))
		})
}

func registerValues(api huma.API, e engine.Engine) {
	huma.Register(api, listOperation("list-reference-values", "/reference-values/{kind}", "List reference values of a kind"),
		func(ctx context.Context, input *struct {
			Kind string `path:"kind" enum:"event_size,outreach_type,service_size"`
		}) (*listOutput[domain.ReferenceValue], error) {
			if _, err := requirePermission(ctx, e, auth.PermReferenceRead, ""); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListReferenceValues(ctx, input.Kind))
		})

	huma.Register(api, huma.Operation{
		OperationID: "set-reference-value",
		Method:      http.MethodPut,
		Path:        "/reference-values/{kind}/{type}",
		Summary:     "Set the annual value of an event size, outreach type or service size",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Kind string                `path:"kind" enum:"event_size,outreach_type,service_size"`
		Type string                `path:"type"`
		Body ReferenceValueRequest `json:"body"`
	}) (*struct {
		Body domain.ReferenceValue `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, e, auth.PermValuesWrite, "")
		if err != nil {
			return nil, handleError(err)
		}
		v, err := e.SetReferenceValue(ctx, input.Kind, domain.ReferenceValue{Type: input.Type, AnnualValue: input.Body.AnnualValue}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReferenceValue `json:"body"`
		}{Body: v}, nil
	})
}
