package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

const userColumns = `id,name,email,COALESCE(password_hash,''),role,country_id,status,created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var countryID sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &countryID, &u.Status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.CountryID = stringPtr(countryID)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	if u.ID == "" {
		return errors.New("id required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email required")
	}
	if u.CreatedAt == "" {
		u.CreatedAt = nowString()
	}
	_, err := r.exec(ctx, tx, `INSERT INTO users(id,name,email,password_hash,role,country_id,status,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, strings.ToLower(strings.TrimSpace(u.Email)), nullable(u.PasswordHash), u.Role, nullableStringPtr(u.CountryID), u.Status, u.CreatedAt)
	return wrapErr(err)
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, nil, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.queryRow(ctx, nil, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.query(ctx, nil, `SELECT `+userColumns+` FROM users ORDER BY name`)
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

func (r Repo) UpdateUserPassword(ctx context.Context, tx *sql.Tx, id, hash string) error {
	return r.execAffecting(ctx, tx, `UPDATE users SET password_hash=? WHERE id=?`, hash, id)
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM users WHERE id=?`, id)
}
