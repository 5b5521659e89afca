package server

import (
	"encoding/json"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password"`
}

type PasswordRequest struct {
	Password string `json:"password"`
}

type ReferenceValueRequest struct {
	AnnualValue int64 `json:"annual_value" minimum:"0"`
}

type CampaignRequest struct {
	Status        string `json:"status" enum:"open,closed"`
	CreateReports bool   `json:"create_reports,omitempty" doc:"Create draft reports for active member countries when opening"`
}

type CreateReportRequest struct {
	CountryID string `json:"country_id"`
	Year      int    `json:"year"`
}

type ThresholdRequest struct {
	OperationalCostThreshold int64 `json:"operational_cost_threshold"`
}

type CreateUserRequest struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Role      string  `json:"role" enum:"admin,national_coordinator,contributor"`
	CountryID *string `json:"country_id,omitempty"`
}

type UpdateUserRequest struct {
	Role      *string `json:"role,omitempty" enum:"admin,national_coordinator,contributor"`
	CountryID *string `json:"country_id,omitempty" doc:"Empty clears the country"`
	Status    *string `json:"status,omitempty" enum:"verified,unverified"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type WhoAmIResponse struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	CountryID   string   `json:"country_id,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type ConfirmResponse struct {
	Report      domain.Report    `json:"report"`
	Calculation calc.Calculation `json:"calculation"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CountryID  string         `json:"country_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CountryID:  e.CountryID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{"raw": raw}
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
