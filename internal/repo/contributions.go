package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// ContributionFilters narrows contribution listings. Year keeps contributions
// whose interval overlaps that calendar year.
type ContributionFilters struct {
	CountryID      string
	PersonID       string
	RoleType       string
	WorkingGroupID string
	Year           int
}

func (r Repo) InsertContribution(ctx context.Context, tx *sql.Tx, c domain.Contribution) error {
	if c.CreatedAt == "" {
		c.CreatedAt = nowString()
	}
	if c.UpdatedAt == "" {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := r.exec(ctx, tx, `INSERT INTO contributions(id,person_id,role_id,country_id,working_group_id,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.PersonID, c.RoleID, nullableStringPtr(c.CountryID), nullableStringPtr(c.WorkingGroupID),
		nullableStringPtr(c.StartDate), nullableStringPtr(c.EndDate), c.CreatedAt, c.UpdatedAt)
	return wrapErr(err)
}

func (r Repo) UpdateContribution(ctx context.Context, tx *sql.Tx, c domain.Contribution) error {
	return r.execAffecting(ctx, tx, `UPDATE contributions SET person_id=?, role_id=?, country_id=?, working_group_id=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		c.PersonID, c.RoleID, nullableStringPtr(c.CountryID), nullableStringPtr(c.WorkingGroupID),
		nullableStringPtr(c.StartDate), nullableStringPtr(c.EndDate), nowString(), c.ID)
}

func (r Repo) DeleteContribution(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM contributions WHERE id=?`, id)
}

func (r Repo) GetContribution(ctx context.Context, id string) (domain.ContributionDetail, error) {
	items, err := r.listContributions(ctx, squirrel.Eq{"c.id": id})
	if err != nil {
		return domain.ContributionDetail{}, err
	}
	if len(items) == 0 {
		return domain.ContributionDetail{}, ErrNotFound
	}
	return items[0], nil
}

// ListContributions returns contributions joined with person, role and
// working group names, ordered by person name.
func (r Repo) ListContributions(ctx context.Context, f ContributionFilters) ([]domain.ContributionDetail, error) {
	where := squirrel.And{}
	if f.CountryID != "" {
		where = append(where, squirrel.Eq{"c.country_id": f.CountryID})
	}
	if f.PersonID != "" {
		where = append(where, squirrel.Eq{"c.person_id": f.PersonID})
	}
	if f.RoleType != "" {
		where = append(where, squirrel.Eq{"ro.type": f.RoleType})
	}
	if f.WorkingGroupID != "" {
		where = append(where, squirrel.Eq{"c.working_group_id": f.WorkingGroupID})
	}
	if f.Year > 0 {
		first, last := domain.YearBounds(f.Year)
		where = append(where, activeIn("c.start_date", "c.end_date", first, last))
	}
	return r.listContributions(ctx, where)
}

func (r Repo) listContributions(ctx context.Context, where squirrel.Sqlizer) ([]domain.ContributionDetail, error) {
	q := r.builder().
		Select("c.id", "c.person_id", "c.role_id", "c.country_id", "c.working_group_id", "c.start_date", "c.end_date", "c.created_at", "c.updated_at",
			"p.name", "ro.name", "ro.type", "COALESCE(wg.name,'')").
		From("contributions c").
		Join("persons p ON p.id = c.person_id").
		Join("roles ro ON ro.id = c.role_id").
		LeftJoin("working_groups wg ON wg.id = c.working_group_id").
		Where(where).
		OrderBy("p.name", "ro.name", "c.id")
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ContributionDetail{}
	for rows.Next() {
		var d domain.ContributionDetail
		var countryID, wgID, start, end sql.NullString
		if err := rows.Scan(&d.ID, &d.PersonID, &d.RoleID, &countryID, &wgID, &start, &end, &d.CreatedAt, &d.UpdatedAt,
			&d.PersonName, &d.RoleName, &d.RoleType, &d.WorkingGroupName); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		d.CountryID = stringPtr(countryID)
		d.WorkingGroupID = stringPtr(wgID)
		d.StartDate = stringPtr(start)
		d.EndDate = stringPtr(end)
		res = append(res, d)
	}
	return res, rows.Err()
}
