package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

const roleColumns = `id,name,type,annual_value,created_at,updated_at`

func scanRole(row rowScanner) (domain.Role, error) {
	var role domain.Role
	err := row.Scan(&role.ID, &role.Name, &role.Type, &role.AnnualValue, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return role, ErrNotFound
	}
	return role, err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	if role.CreatedAt == "" {
		role.CreatedAt = nowString()
	}
	if role.UpdatedAt == "" {
		role.UpdatedAt = role.CreatedAt
	}
	_, err := r.exec(ctx, tx, `INSERT INTO roles(id,name,type,annual_value,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		role.ID, role.Name, role.Type, role.AnnualValue, role.CreatedAt, role.UpdatedAt)
	return wrapErr(err)
}

func (r Repo) UpdateRole(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	return wrapErr(r.execAffecting(ctx, tx, `UPDATE roles SET name=?, type=?, annual_value=?, updated_at=? WHERE id=?`,
		role.Name, role.Type, role.AnnualValue, nowString(), role.ID))
}

func (r Repo) GetRole(ctx context.Context, id string) (domain.Role, error) {
	return scanRole(r.queryRow(ctx, nil, `SELECT `+roleColumns+` FROM roles WHERE id=?`, id))
}

// GetRoleByType returns the single role of a priced type.
func (r Repo) GetRoleByType(ctx context.Context, typ string) (domain.Role, error) {
	return scanRole(r.queryRow(ctx, nil, `SELECT `+roleColumns+` FROM roles WHERE type=? ORDER BY name LIMIT 1`, typ))
}

func (r Repo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.query(ctx, nil, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, role)
	}
	return res, rows.Err()
}

func (r Repo) DeleteRole(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM roles WHERE id=?`, id)
}
