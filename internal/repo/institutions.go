package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// InstitutionFilters narrows institution listings. Year keeps institutions
// active in that calendar year.
type InstitutionFilters struct {
	CountryID string
	Type      string
	Year      int
}

func scanInstitution(row rowScanner) (domain.Institution, error) {
	var in domain.Institution
	var types, urls string
	var start, end sql.NullString
	err := row.Scan(&in.ID, &in.Name, &types, &urls, &start, &end, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return in, ErrNotFound
	}
	in.Types = unmarshalStrings(types)
	in.URLs = unmarshalStrings(urls)
	in.StartDate = stringPtr(start)
	in.EndDate = stringPtr(end)
	return in, err
}

func (r Repo) InsertInstitution(ctx context.Context, tx *sql.Tx, in domain.Institution) error {
	types, err := marshalStrings(in.Types)
	if err != nil {
		return err
	}
	urls, err := marshalStrings(in.URLs)
	if err != nil {
		return err
	}
	if in.CreatedAt == "" {
		in.CreatedAt = nowString()
	}
	if in.UpdatedAt == "" {
		in.UpdatedAt = in.CreatedAt
	}
	if _, err := r.exec(ctx, tx, `INSERT INTO institutions(id,name,types_json,urls_json,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		in.ID, in.Name, types, urls, nullableStringPtr(in.StartDate), nullableStringPtr(in.EndDate), in.CreatedAt, in.UpdatedAt); err != nil {
		return wrapErr(err)
	}
	return r.linkIDs(ctx, tx, "institution_countries", "institution_id", "country_id", in.ID, in.CountryIDs)
}

func (r Repo) UpdateInstitution(ctx context.Context, tx *sql.Tx, in domain.Institution) error {
	types, err := marshalStrings(in.Types)
	if err != nil {
		return err
	}
	urls, err := marshalStrings(in.URLs)
	if err != nil {
		return err
	}
	if err := r.execAffecting(ctx, tx, `UPDATE institutions SET name=?, types_json=?, urls_json=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		in.Name, types, urls, nullableStringPtr(in.StartDate), nullableStringPtr(in.EndDate), nowString(), in.ID); err != nil {
		return err
	}
	return r.linkIDs(ctx, tx, "institution_countries", "institution_id", "country_id", in.ID, in.CountryIDs)
}

func (r Repo) GetInstitution(ctx context.Context, id string) (domain.Institution, error) {
	in, err := scanInstitution(r.queryRow(ctx, nil, `SELECT id,name,types_json,urls_json,start_date,end_date,created_at,updated_at FROM institutions WHERE id=?`, id))
	if err != nil {
		return in, err
	}
	in.CountryIDs, err = r.linkedIDs(ctx, nil, "institution_countries", "institution_id", "country_id", id)
	return in, err
}

func (r Repo) ListInstitutions(ctx context.Context, f InstitutionFilters) ([]domain.Institution, error) {
	q := r.builder().Select("i.id", "i.name", "i.types_json", "i.urls_json", "i.start_date", "i.end_date", "i.created_at", "i.updated_at").
		From("institutions i").
		OrderBy("i.name")
	if f.CountryID != "" {
		q = q.Join("institution_countries ic ON ic.institution_id = i.id").Where(squirrel.Eq{"ic.country_id": f.CountryID})
	}
	if f.Year > 0 {
		first, last := domain.YearBounds(f.Year)
		q = q.Where(activeIn("i.start_date", "i.end_date", first, last))
	}
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	var res []domain.Institution
	for rows.Next() {
		in, err := scanInstitution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		// types live in a JSON column, so the type filter runs here
		if f.Type != "" && !in.HasType(f.Type) {
			continue
		}
		res = append(res, in)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		ids, err := r.linkedIDs(ctx, nil, "institution_countries", "institution_id", "country_id", res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].CountryIDs = ids
	}
	if res == nil {
		res = []domain.Institution{}
	}
	return res, nil
}

// CountInstitutions counts institutions of a country with the given type
// active in year.
func (r Repo) CountInstitutions(ctx context.Context, countryID, typ string, year int) (int, error) {
	items, err := r.ListInstitutions(ctx, InstitutionFilters{CountryID: countryID, Type: typ, Year: year})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (r Repo) DeleteInstitution(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM institutions WHERE id=?`, id)
}
