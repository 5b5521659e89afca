package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
	"github.com/DARIAH-ERIC/dariah-unr/internal/events"
	"github.com/DARIAH-ERIC/dariah-unr/internal/forms"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

const (
	// apiKeyPrefix marks keys issued by this service.
	apiKeyPrefix = "unr_"
	userVerified = "verified"
)

type CreateUserOptions struct {
	Name      string  `json:"name" validate:"required"`
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8"`
	Role      string  `json:"role" validate:"oneof=admin national_coordinator contributor"`
	CountryID *string `json:"country_id,omitempty"`
	ActorID   string  `json:"-"`
}

// CreateUser stores a verified user with a bcrypt password hash. Roles other
// than admin must name a country.
func (e Engine) CreateUser(ctx context.Context, opts CreateUserOptions) (domain.User, error) {
	if err := forms.Validate(opts); err != nil {
		return domain.User{}, err
	}
	if opts.Role != domain.UserAdmin && deref(opts.CountryID) == "" {
		return domain.User{}, forms.Invalid("country_id", "Required")
	}
	if opts.CountryID != nil && *opts.CountryID != "" {
		if _, err := e.Repo.GetCountry(ctx, *opts.CountryID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.User{}, forms.Invalid("country_id", "Unknown country")
			}
			return domain.User{}, err
		}
	}
	if _, err := e.Repo.GetUserByEmail(ctx, opts.Email); err == nil {
		return domain.User{}, forms.Invalid("email", "A user with this email already exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(opts.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           newID(),
		Name:         strings.TrimSpace(opts.Name),
		Email:        opts.Email,
		PasswordHash: hash,
		Role:         opts.Role,
		CountryID:    opts.CountryID,
		Status:       userVerified,
		CreatedAt:    e.nowString(),
	}
	m := mutation{
		Type:       events.UserCreated,
		CountryID:  deref(opts.CountryID),
		EntityKind: "user",
		EntityID:   u.ID,
		ActorID:    opts.ActorID,
		Payload:    events.EventPayload{"role": opts.Role},
	}
	err = e.inTx(ctx, m, func(tx *sql.Tx) error {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.Repo.AssignUserRole(ctx, tx, u.ID, u.Role, u.CountryID)
	})
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, u.ID)
}

// Login checks email and password and returns the user's principal.
// Unknown users and wrong passwords yield the same error.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, auth.Principal, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, auth.Principal{}, err
	}
	if u.PasswordHash == "" || u.Status != userVerified {
		return domain.User{}, auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return domain.User{}, auth.Principal{}, err
	}
	return u, e.Auth.PrincipalFor(u, "password"), nil
}

// ChangePassword replaces the password of a user.
func (e Engine) ChangePassword(ctx context.Context, userID, password, actorID string) error {
	if len(password) < 8 {
		return forms.Invalid("password", "Must be at least 8 characters")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	m := mutation{Type: events.UserUpdated, EntityKind: "user", EntityID: userID, ActorID: actorID, Payload: events.EventPayload{"op": "password"}}
	return e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.UpdateUserPassword(ctx, tx, userID, hash)
	})
}

type UpdateUserOptions struct {
	UserID    string  `json:"-"`
	Role      *string `json:"role,omitempty" validate:"omitempty,oneof=admin national_coordinator contributor"`
	CountryID *string `json:"country_id,omitempty"`
	Status    *string `json:"status,omitempty" validate:"omitempty,oneof=verified unverified"`
	ActorID   string  `json:"-"`
}

// UpdateUser changes the role, country or status of a user. Unset fields keep
// their value; an empty CountryID clears the country.
func (e Engine) UpdateUser(ctx context.Context, opts UpdateUserOptions) (domain.User, error) {
	if err := forms.Validate(opts); err != nil {
		return domain.User{}, err
	}
	u, err := e.Repo.GetUser(ctx, opts.UserID)
	if err != nil {
		return domain.User{}, err
	}
	role := u.Role
	if opts.Role != nil {
		role = *opts.Role
	}
	countryID := u.CountryID
	if opts.CountryID != nil {
		countryID = opts.CountryID
		if *opts.CountryID == "" {
			countryID = nil
		}
	}
	if role != domain.UserAdmin && deref(countryID) == "" {
		return domain.User{}, forms.Invalid("country_id", "Required")
	}
	if countryID != nil {
		if _, err := e.Repo.GetCountry(ctx, *countryID); errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, forms.Invalid("country_id", "Unknown country")
		} else if err != nil {
			return domain.User{}, err
		}
	}
	payload := events.EventPayload{"role": role}
	if opts.Status != nil {
		payload["status"] = *opts.Status
	}
	m := mutation{
		Type:       events.UserUpdated,
		CountryID:  deref(countryID),
		EntityKind: "user",
		EntityID:   u.ID,
		ActorID:    opts.ActorID,
		Payload:    payload,
	}
	err = e.inTx(ctx, m, func(tx *sql.Tx) error {
		if err := e.Repo.AssignUserRole(ctx, tx, u.ID, role, countryID); err != nil {
			return err
		}
		if opts.Status != nil {
			return e.Repo.SetUserStatus(ctx, tx, u.ID, *opts.Status)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, u.ID)
}

// DeleteUser removes a user and their API keys. Users cannot delete
// themselves.
func (e Engine) DeleteUser(ctx context.Context, userID, actorID string) error {
	if userID == actorID {
		return forms.ValidationError{Result: forms.Failure("You cannot delete your own account")}
	}
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	m := mutation{
		Type:       events.UserUpdated,
		CountryID:  deref(u.CountryID),
		EntityKind: "user",
		EntityID:   u.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"op": "delete"},
	}
	return e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.DeleteUser(ctx, tx, u.ID)
	})
}

// ListUsers lists all users, or the users of one country.
func (e Engine) ListUsers(ctx context.Context, countryID string) ([]domain.User, error) {
	if countryID != "" {
		return e.Repo.CountryUsers(ctx, countryID)
	}
	return e.Repo.ListUsers(ctx)
}

// CreatedAPIKey carries the plaintext key, which is never stored.
type CreatedAPIKey struct {
	domain.APIKey
	Key string `json:"key"`
}

// CreateAPIKey issues an API key for a user and stores its hash.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, actorID string) (CreatedAPIKey, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return CreatedAPIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return CreatedAPIKey{}, err
	}
	plain := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		UserID:    u.ID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.nowString(),
	}
	m := mutation{
		Type:       events.APIKeyCreated,
		CountryID:  deref(u.CountryID),
		EntityKind: "api_key",
		EntityID:   key.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"user_id": u.ID},
	}
	err = e.inTx(ctx, m, func(tx *sql.Tx) error {
		return e.Repo.InsertAPIKey(ctx, tx, key)
	})
	if err != nil {
		return CreatedAPIKey{}, err
	}
	return CreatedAPIKey{APIKey: key, Key: plain}, nil
}

// PrincipalForAPIKey resolves the user behind a plaintext API key.
func (e Engine) PrincipalForAPIKey(ctx context.Context, key string) (auth.Principal, error) {
	stored, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return auth.Principal{}, err
	}
	u, err := e.Repo.GetUser(ctx, stored.UserID)
	if err != nil {
		return auth.Principal{}, err
	}
	if u.Status != userVerified {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	return e.Auth.PrincipalFor(u, "api_key"), nil
}

// PrincipalForUser resolves a user id carried by a token.
func (e Engine) PrincipalForUser(ctx context.Context, userID, source string) (auth.Principal, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return auth.Principal{}, err
	}
	if u.Status != userVerified {
		return auth.Principal{}, auth.ErrInvalidCredentials
	}
	return e.Auth.PrincipalFor(u, source), nil
}
