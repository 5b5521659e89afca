package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

func scanPerson(row rowScanner) (domain.Person, error) {
	p := domain.Person{InstitutionIDs: []string{}}
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.ORCID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertPerson(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	if p.CreatedAt == "" {
		p.CreatedAt = nowString()
	}
	if p.UpdatedAt == "" {
		p.UpdatedAt = p.CreatedAt
	}
	if _, err := r.exec(ctx, tx, `INSERT INTO persons(id,name,email,orcid,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Email), nullable(p.ORCID), p.CreatedAt, p.UpdatedAt); err != nil {
		return wrapErr(err)
	}
	return r.linkIDs(ctx, tx, "person_institutions", "person_id", "institution_id", p.ID, p.InstitutionIDs)
}

func (r Repo) UpdatePerson(ctx context.Context, tx *sql.Tx, p domain.Person) error {
	if err := r.execAffecting(ctx, tx, `UPDATE persons SET name=?, email=?, orcid=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.Email), nullable(p.ORCID), nowString(), p.ID); err != nil {
		return err
	}
	return r.linkIDs(ctx, tx, "person_institutions", "person_id", "institution_id", p.ID, p.InstitutionIDs)
}

func (r Repo) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	p, err := scanPerson(r.queryRow(ctx, nil, `SELECT id,name,COALESCE(email,''),COALESCE(orcid,''),created_at,updated_at FROM persons WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	p.InstitutionIDs, err = r.linkedIDs(ctx, nil, "person_institutions", "person_id", "institution_id", id)
	return p, err
}

// ListPersons returns persons ordered by name, optionally filtered by a
// case-insensitive name fragment.
func (r Repo) ListPersons(ctx context.Context, nameLike string) ([]domain.Person, error) {
	q := r.builder().Select("id", "name", "COALESCE(email,'')", "COALESCE(orcid,'')", "created_at", "updated_at").
		From("persons").
		OrderBy("name")
	if s := strings.TrimSpace(nameLike); s != "" {
		q = q.Where(squirrel.Like{"LOWER(name)": "%" + strings.ToLower(s) + "%"})
	}
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) DeletePerson(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM persons WHERE id=?`, id)
}
