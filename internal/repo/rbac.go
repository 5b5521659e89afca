package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// AssignUserRole sets the application role and country scope of a user.
// Country-scoped roles require a country.
func (r Repo) AssignUserRole(ctx context.Context, tx *sql.Tx, userID, role string, countryID *string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	switch role {
	case domain.UserAdmin, domain.UserNationalCoordinator, domain.UserContributor:
	default:
		return fmt.Errorf("invalid role %s", role)
	}
	if role != domain.UserAdmin && (countryID == nil || *countryID == "") {
		return fmt.Errorf("country required for role %s", role)
	}
	return r.execAffecting(ctx, tx, `UPDATE users SET role=?, country_id=? WHERE id=?`, role, nullableStringPtr(countryID), userID)
}

// SetUserStatus marks a user verified or unverified.
func (r Repo) SetUserStatus(ctx context.Context, tx *sql.Tx, userID, status string) error {
	if status != "verified" && status != "unverified" {
		return fmt.Errorf("invalid status %s", status)
	}
	return r.execAffecting(ctx, tx, `UPDATE users SET status=? WHERE id=?`, status, userID)
}

// CountryUsers lists the users scoped to a country.
func (r Repo) CountryUsers(ctx context.Context, countryID string) ([]domain.User, error) {
	rows, err := r.query(ctx, nil, `SELECT `+userColumns+` FROM users WHERE country_id=? ORDER BY name`, countryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
