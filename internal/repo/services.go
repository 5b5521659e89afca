package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// ServiceFilters narrows service listings.
type ServiceFilters struct {
	CountryID string
	Status    string
	Type      string
}

const serviceColumns = `s.id,s.name,s.type,s.status,s.marketplace_id,s.marketplace_status,COALESCE(s.url,''),COALESCE(s.comment,''),s.created_at,s.updated_at`

func scanService(row rowScanner) (domain.Service, error) {
	s := domain.Service{CountryIDs: []string{}}
	var marketplaceID, marketplaceStatus sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.Type, &s.Status, &marketplaceID, &marketplaceStatus, &s.URL, &s.Comment, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	s.MarketplaceID = stringPtr(marketplaceID)
	s.MarketplaceStatus = stringPtr(marketplaceStatus)
	return s, err
}

func (r Repo) InsertService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	if s.CreatedAt == "" {
		s.CreatedAt = nowString()
	}
	if s.UpdatedAt == "" {
		s.UpdatedAt = s.CreatedAt
	}
	if _, err := r.exec(ctx, tx, `INSERT INTO services(id,name,type,status,marketplace_id,marketplace_status,url,comment,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.Type, s.Status, nullableStringPtr(s.MarketplaceID), nullableStringPtr(s.MarketplaceStatus),
		nullable(s.URL), nullable(s.Comment), s.CreatedAt, s.UpdatedAt); err != nil {
		return wrapErr(err)
	}
	return r.linkIDs(ctx, tx, "service_countries", "service_id", "country_id", s.ID, s.CountryIDs)
}

func (r Repo) UpdateService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	if err := r.execAffecting(ctx, tx, `UPDATE services SET name=?, type=?, status=?, marketplace_id=?, marketplace_status=?, url=?, comment=?, updated_at=? WHERE id=?`,
		s.Name, s.Type, s.Status, nullableStringPtr(s.MarketplaceID), nullableStringPtr(s.MarketplaceStatus),
		nullable(s.URL), nullable(s.Comment), nowString(), s.ID); err != nil {
		return wrapErr(err)
	}
	return r.linkIDs(ctx, tx, "service_countries", "service_id", "country_id", s.ID, s.CountryIDs)
}

func (r Repo) GetService(ctx context.Context, id string) (domain.Service, error) {
	return r.getService(ctx, nil, squirrel.Eq{"s.id": id})
}

func (r Repo) GetServiceByMarketplaceID(ctx context.Context, tx *sql.Tx, marketplaceID string) (domain.Service, error) {
	return r.getService(ctx, tx, squirrel.Eq{"s.marketplace_id": marketplaceID})
}

func (r Repo) getService(ctx context.Context, tx *sql.Tx, where squirrel.Sqlizer) (domain.Service, error) {
	q, args, err := r.builder().Select(serviceColumns).From("services s").Where(where).ToSql()
	if err != nil {
		return domain.Service{}, err
	}
	s, err := scanService(r.conn(tx).QueryRowContext(ctx, q, args...))
	if err != nil {
		return s, err
	}
	s.CountryIDs, err = r.linkedIDs(ctx, tx, "service_countries", "service_id", "country_id", s.ID)
	return s, err
}

func (r Repo) ListServices(ctx context.Context, f ServiceFilters) ([]domain.Service, error) {
	q := r.builder().Select(serviceColumns).From("services s").OrderBy("s.name")
	if f.CountryID != "" {
		q = q.Join("service_countries sc ON sc.service_id = s.id").Where(squirrel.Eq{"sc.country_id": f.CountryID})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"s.status": f.Status})
	}
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"s.type": f.Type})
	}
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	res := []domain.Service{}
	for rows.Next() {
		s, err := scanService(rows)
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
		if res[i].CountryIDs, err = r.linkedIDs(ctx, nil, "service_countries", "service_id", "country_id", res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) DeleteService(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM services WHERE id=?`, id)
}
