package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

const softwareColumns = `s.id,s.name,COALESCE(s.url,''),s.status,s.marketplace_id,s.marketplace_status,COALESCE(s.comment,''),s.created_at,s.updated_at`

func scanSoftware(row rowScanner) (domain.Software, error) {
	s := domain.Software{CountryIDs: []string{}}
	var marketplaceID, marketplaceStatus sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.URL, &s.Status, &marketplaceID, &marketplaceStatus, &s.Comment, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	s.MarketplaceID = stringPtr(marketplaceID)
	s.MarketplaceStatus = stringPtr(marketplaceStatus)
	return s, err
}

func (r Repo) InsertSoftware(ctx context.Context, tx *sql.Tx, s domain.Software) error {
	if s.CreatedAt == "" {
		s.CreatedAt = nowString()
	}
	if s.UpdatedAt == "" {
		s.UpdatedAt = s.CreatedAt
	}
	if _, err := r.exec(ctx, tx, `INSERT INTO software(id,name,url,status,marketplace_id,marketplace_status,comment,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, nullable(s.URL), s.Status, nullableStringPtr(s.MarketplaceID), nullableStringPtr(s.MarketplaceStatus),
		nullable(s.Comment), s.CreatedAt, s.UpdatedAt); err != nil {
		return wrapErr(err)
	}
	return r.linkIDs(ctx, tx, "software_countries", "software_id", "country_id", s.ID, s.CountryIDs)
}

func (r Repo) UpdateSoftware(ctx context.Context, tx *sql.Tx, s domain.Software) error {
	if err := r.execAffecting(ctx, tx, `UPDATE software SET name=?, url=?, status=?, marketplace_id=?, marketplace_status=?, comment=?, updated_at=? WHERE id=?`,
		s.Name, nullable(s.URL), s.Status, nullableStringPtr(s.MarketplaceID), nullableStringPtr(s.MarketplaceStatus),
		nullable(s.Comment), nowString(), s.ID); err != nil {
		return wrapErr(err)
	}
	return r.linkIDs(ctx, tx, "software_countries", "software_id", "country_id", s.ID, s.CountryIDs)
}

func (r Repo) GetSoftware(ctx context.Context, id string) (domain.Software, error) {
	return r.getSoftware(ctx, nil, squirrel.Eq{"s.id": id})
}

func (r Repo) GetSoftwareByMarketplaceID(ctx context.Context, tx *sql.Tx, marketplaceID string) (domain.Software, error) {
	return r.getSoftware(ctx, tx, squirrel.Eq{"s.marketplace_id": marketplaceID})
}

func (r Repo) getSoftware(ctx context.Context, tx *sql.Tx, where squirrel.Sqlizer) (domain.Software, error) {
	q, args, err := r.builder().Select(softwareColumns).From("software s").Where(where).ToSql()
	if err != nil {
		return domain.Software{}, err
	}
	s, err := scanSoftware(r.conn(tx).QueryRowContext(ctx, q, args...))
	if err != nil {
		return s, err
	}
	s.CountryIDs, err = r.linkedIDs(ctx, tx, "software_countries", "software_id", "country_id", s.ID)
	return s, err
}

// ListSoftware returns software, optionally limited to one country.
func (r Repo) ListSoftware(ctx context.Context, countryID string) ([]domain.Software, error) {
	q := r.builder().Select(softwareColumns).From("software s").OrderBy("s.name")
	if countryID != "" {
		q = q.Join("software_countries sc ON sc.software_id = s.id").Where(squirrel.Eq{"sc.country_id": countryID})
	}
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	res := []domain.Software{}
	for rows.Next() {
		s, err := scanSoftware(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, s)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].CountryIDs, err = r.linkedIDs(ctx, nil, "software_countries", "software_id", "country_id", res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) DeleteSoftware(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM software WHERE id=?`, id)
}
