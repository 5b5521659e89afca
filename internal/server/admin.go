package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
	"github.com/DARIAH-ERIC/dariah-unr/internal/export"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func registerIngest(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-marketplace",
		Method:      http.MethodPost,
		Path:        "/ingest/marketplace",
		Summary:     "Import services and software from the SSH Open Marketplace",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		CountryID string `query:"country_id" doc:"Only ingest this country"`
	}) (*listOutput[engine.IngestResult], error) {
		p, err := requirePermission(ctx, e, auth.PermIngestRun, "")
		if err != nil {
			return nil, handleError(err)
		}
		if input.CountryID == "" {
			return listed(e.IngestAllMarketplace(ctx, p.UserID))
		}
		res, err := e.IngestMarketplace(ctx, input.CountryID, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return listed([]engine.IngestResult{res}, nil)
	})
}

type exportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerExport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export-year",
		Method:      http.MethodGet,
		Path:        "/export/{year}",
		Summary:     "Download the operational cost overview of a year",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Year      int    `path:"year"`
		CountryID string `query:"country_id"`
		Format    string `query:"format" enum:"xlsx,json" default:"xlsx"`
	}) (*exportOutput, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermExportRun)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := e.ExportYear(ctx, input.Year, narrow(scope, input.CountryID))
		if err != nil {
			return nil, handleError(err)
		}
		if input.Format == "json" {
			data, err := json.Marshal(nonNilSlice(rows))
			if err != nil {
				return nil, handleError(err)
			}
			return &exportOutput{ContentType: "application/json", Body: data}, nil
		}
		var buf bytes.Buffer
		if err := export.Write(&buf, rows); err != nil {
			return nil, handleError(err)
		}
		return &exportOutput{
			ContentType:        xlsxContentType,
			ContentDisposition: fmt.Sprintf(`attachment; filename="operational-cost-%d.xlsx"`, input.Year),
			Body:               buf.Bytes(),
		}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, listOperation("list-users", "/users", "List users"),
		func(ctx context.Context, input *struct {
			CountryID string `query:"country_id"`
		}) (*listOutput[domain.User], error) {
			if _, err := requirePermission(ctx, e, auth.PermUserManage, ""); err != nil {
				return nil, handleError(err)
			}
			return listed(e.ListUsers(ctx, input.CountryID))
		})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create a user",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, e, auth.PermUserManage, "")
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUser(ctx, engine.CreateUserOptions{
			Name:      input.Body.Name,
			Email:     input.Body.Email,
			Password:  input.Body.Password,
			Role:      input.Body.Role,
			CountryID: input.Body.CountryID,
			ActorID:   p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-user",
		Method:      http.MethodPut,
		Path:        "/users/{user_id}",
		Summary:     "Change the role, country or status of a user",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string            `path:"user_id"`
		Body   UpdateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		p, err := requirePermission(ctx, e, auth.PermUserManage, "")
		if err != nil {
			return nil, handleError(err)
		}
		u, err := e.UpdateUser(ctx, engine.UpdateUserOptions{
			UserID:    input.UserID,
			Role:      input.Body.Role,
			CountryID: input.Body.CountryID,
			Status:    input.Body.Status,
			ActorID:   p.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-user",
		Method:        http.MethodDelete,
		Path:          "/users/{user_id}",
		Summary:       "Delete a user and their API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		p, err := requirePermission(ctx, e, auth.PermUserManage, "")
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteUser(ctx, input.UserID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, listOperation("list-api-keys", "/users/{user_id}/api-keys", "List API keys of a user"),
		func(ctx context.Context, input *struct {
			UserID string `path:"user_id"`
		}) (*listOutput[domain.APIKey], error) {
			if err := requireSelfOrManager(ctx, e, input.UserID); err != nil {
				return nil, handleError(err)
			}
			return listed(e.Repo.ListAPIKeys(ctx, input.UserID))
		})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{user_id}/api-keys",
		Summary:       "Issue an API key. The key is only returned once.",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string              `path:"user_id"`
		Body   CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body engine.CreatedAPIKey `json:"body"`
	}, error) {
		if err := requireSelfOrManager(ctx, e, input.UserID); err != nil {
			return nil, handleError(err)
		}
		p, _ := auth.FromContext(ctx)
		key, err := e.CreateAPIKey(ctx, input.UserID, input.Body.Name, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CreatedAPIKey `json:"body"`
		}{Body: key}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/users/{user_id}/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		KeyID  string `path:"key_id"`
	}) (*struct{}, error) {
		if err := requireSelfOrManager(ctx, e, input.UserID); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, k := range keys {
			if k.ID == input.KeyID {
				if err := e.Repo.DeleteAPIKey(ctx, k.ID); err != nil {
					return nil, handleError(err)
				}
				return &struct{}{}, nil
			}
		}
		return nil, handleError(repo.ErrNotFound)
	})
}

// requireSelfOrManager lets users manage their own keys.
func requireSelfOrManager(ctx context.Context, e engine.Engine, userID string) error {
	p, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if p.UserID == userID {
		return nil
	}
	return e.Auth.Require(p, auth.PermUserManage, "")
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CountryID  string `query:"country_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		_, scope, err := requireScoped(ctx, e, auth.PermEventsRead)
		if err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEvents(ctx, repo.EventFilters{
			CountryID:  narrow(scope, input.CountryID),
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			// The extra row only signals that another page exists.
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
