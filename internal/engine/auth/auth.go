package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/DARIAH-ERIC/dariah-unr/internal/config"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// Permissions granted through the rbac.roles config table.
const (
	PermReportRead     = "report.read"
	PermReportWrite    = "report.write"
	PermReportConfirm  = "report.confirm"
	PermReportCreate   = "report.create"
	PermReferenceRead  = "reference.read"
	PermReferenceWrite = "reference.write"
	PermValuesWrite    = "values.write"
	PermUserManage     = "user.manage"
	PermCampaignManage = "campaign.manage"
	PermIngestRun      = "ingest.run"
	PermEventsRead     = "events.read"
	PermExportRun      = "export.run"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// CountryForbiddenError indicates a country-scoped principal acting on
// another country.
type CountryForbiddenError struct {
	CountryID string
}

func (e CountryForbiddenError) Error() string {
	return fmt.Sprintf("no access to country %s", e.CountryID)
}

// ErrInvalidCredentials is returned by CheckPassword on mismatch.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID      string
	Role        string
	CountryID   string
	Permissions []string
	Source      string
}

// Has reports whether the principal carries perm.
func (p Principal) Has(perm string) bool {
	for _, v := range p.Permissions {
		if v == perm || v == "*" {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Service resolves permissions from the configured role table.
type Service struct {
	Config *config.Config
}

// PrincipalFor builds the principal of a stored user.
func (s Service) PrincipalFor(u domain.User, source string) Principal {
	p := Principal{UserID: u.ID, Role: u.Role, Source: source}
	if u.CountryID != nil {
		p.CountryID = *u.CountryID
	}
	if s.Config != nil {
		p.Permissions = s.Config.Permissions(u.Role)
	}
	return p
}

// Require checks perm and, for country-scoped roles, that countryID is the
// principal's own country. An empty countryID skips the scope check.
func (s Service) Require(p Principal, perm, countryID string) error {
	if !p.Has(perm) {
		return ForbiddenError{Permission: perm}
	}
	if countryID == "" || !s.scoped(p.Role) {
		return nil
	}
	if p.CountryID != countryID {
		return CountryForbiddenError{CountryID: countryID}
	}
	return nil
}

// VisibleCountry returns the country a listing must be restricted to, or ""
// when the principal may see every country.
func (s Service) VisibleCountry(p Principal) string {
	if s.scoped(p.Role) {
		if p.CountryID == "" {
			return "-"
		}
		return p.CountryID
	}
	return ""
}

func (s Service) scoped(role string) bool {
	if s.Config == nil {
		return role != domain.UserAdmin
	}
	return s.Config.CountryScoped(role)
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password required")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
