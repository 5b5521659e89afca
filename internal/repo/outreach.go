package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// OutreachFilters narrows outreach listings.
type OutreachFilters struct {
	CountryID string
	Type      string
	Year      int
}

func scanOutreach(row rowScanner) (domain.Outreach, error) {
	var o domain.Outreach
	var countryID, start, end sql.NullString
	err := row.Scan(&o.ID, &countryID, &o.Name, &o.URL, &o.Type, &start, &end, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	o.CountryID = stringPtr(countryID)
	o.StartDate = stringPtr(start)
	o.EndDate = stringPtr(end)
	return o, err
}

func (r Repo) InsertOutreach(ctx context.Context, tx *sql.Tx, o domain.Outreach) error {
	if o.CreatedAt == "" {
		o.CreatedAt = nowString()
	}
	if o.UpdatedAt == "" {
		o.UpdatedAt = o.CreatedAt
	}
	_, err := r.exec(ctx, tx, `INSERT INTO outreach(id,country_id,name,url,type,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, nullableStringPtr(o.CountryID), o.Name, o.URL, o.Type, nullableStringPtr(o.StartDate), nullableStringPtr(o.EndDate), o.CreatedAt, o.UpdatedAt)
	return wrapErr(err)
}

func (r Repo) UpdateOutreach(ctx context.Context, tx *sql.Tx, o domain.Outreach) error {
	return r.execAffecting(ctx, tx, `UPDATE outreach SET country_id=?, name=?, url=?, type=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		nullableStringPtr(o.CountryID), o.Name, o.URL, o.Type, nullableStringPtr(o.StartDate), nullableStringPtr(o.EndDate), nowString(), o.ID)
}

func (r Repo) GetOutreach(ctx context.Context, id string) (domain.Outreach, error) {
	return scanOutreach(r.queryRow(ctx, nil, `SELECT id,country_id,name,url,type,start_date,end_date,created_at,updated_at FROM outreach WHERE id=?`, id))
}

func (r Repo) ListOutreach(ctx context.Context, f OutreachFilters) ([]domain.Outreach, error) {
	q := r.builder().Select("id", "country_id", "name", "url", "type", "start_date", "end_date", "created_at", "updated_at").
		From("outreach").
		OrderBy("type", "name")
	if f.CountryID != "" {
		q = q.Where(squirrel.Eq{"country_id": f.CountryID})
	}
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"type": f.Type})
	}
	if f.Year > 0 {
		first, last := domain.YearBounds(f.Year)
		q = q.Where(activeIn("start_date", "end_date", first, last))
	}
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Outreach{}
	for rows.Next() {
		o, err := scanOutreach(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) DeleteOutreach(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM outreach WHERE id=?`, id)
}
