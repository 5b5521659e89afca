package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

const countryColumns = `id,code,name,type,start_date,end_date,marketplace_id,COALESCE(description,''),COALESCE(consortium_name,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCountry(row rowScanner) (domain.Country, error) {
	var c domain.Country
	var start, end sql.NullString
	var marketplaceID sql.NullInt64
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Type, &start, &end, &marketplaceID, &c.Description, &c.ConsortiumName, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	c.StartDate = stringPtr(start)
	c.EndDate = stringPtr(end)
	c.MarketplaceID = int64Ptr(marketplaceID)
	return c, err
}

func (r Repo) InsertCountry(ctx context.Context, tx *sql.Tx, c domain.Country) error {
	if c.CreatedAt == "" {
		c.CreatedAt = nowString()
	}
	if c.UpdatedAt == "" {
		c.UpdatedAt = c.CreatedAt
	}
	_, err := r.exec(ctx, tx, `INSERT INTO countries(id,code,name,type,start_date,end_date,marketplace_id,description,consortium_name,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Code, c.Name, c.Type, nullableStringPtr(c.StartDate), nullableStringPtr(c.EndDate), nullableInt64Ptr(c.MarketplaceID),
		nullable(c.Description), nullable(c.ConsortiumName), c.CreatedAt, c.UpdatedAt)
	return wrapErr(err)
}

func (r Repo) UpdateCountry(ctx context.Context, tx *sql.Tx, c domain.Country) error {
	return wrapErr(r.execAffecting(ctx, tx, `UPDATE countries SET code=?, name=?, type=?, start_date=?, end_date=?, marketplace_id=?, description=?, consortium_name=?, updated_at=? WHERE id=?`,
		c.Code, c.Name, c.Type, nullableStringPtr(c.StartDate), nullableStringPtr(c.EndDate), nullableInt64Ptr(c.MarketplaceID),
		nullable(c.Description), nullable(c.ConsortiumName), nowString(), c.ID))
}

func (r Repo) GetCountry(ctx context.Context, id string) (domain.Country, error) {
	return scanCountry(r.queryRow(ctx, nil, `SELECT `+countryColumns+` FROM countries WHERE id=?`, id))
}

func (r Repo) GetCountryByCode(ctx context.Context, code string) (domain.Country, error) {
	return scanCountry(r.queryRow(ctx, nil, `SELECT `+countryColumns+` FROM countries WHERE code=?`, code))
}

func (r Repo) ListCountries(ctx context.Context) ([]domain.Country, error) {
	rows, err := r.query(ctx, nil, `SELECT `+countryColumns+` FROM countries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Country{}
	for rows.Next() {
		c, err := scanCountry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCountry(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM countries WHERE id=?`, id)
}
