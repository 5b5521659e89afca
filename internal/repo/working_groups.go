package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

const workingGroupColumns = `id,name,COALESCE(description,''),COALESCE(mailing_list,''),start_date,end_date,created_at,updated_at`

func scanWorkingGroup(row rowScanner) (domain.WorkingGroup, error) {
	var wg domain.WorkingGroup
	var start, end sql.NullString
	err := row.Scan(&wg.ID, &wg.Name, &wg.Description, &wg.MailingList, &start, &end, &wg.CreatedAt, &wg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wg, ErrNotFound
	}
	wg.StartDate = stringPtr(start)
	wg.EndDate = stringPtr(end)
	return wg, err
}

func (r Repo) InsertWorkingGroup(ctx context.Context, tx *sql.Tx, wg domain.WorkingGroup) error {
	if wg.CreatedAt == "" {
		wg.CreatedAt = nowString()
	}
	if wg.UpdatedAt == "" {
		wg.UpdatedAt = wg.CreatedAt
	}
	_, err := r.exec(ctx, tx, `INSERT INTO working_groups(id,name,description,mailing_list,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		wg.ID, wg.Name, nullable(wg.Description), nullable(wg.MailingList), nullableStringPtr(wg.StartDate), nullableStringPtr(wg.EndDate), wg.CreatedAt, wg.UpdatedAt)
	return wrapErr(err)
}

func (r Repo) UpdateWorkingGroup(ctx context.Context, tx *sql.Tx, wg domain.WorkingGroup) error {
	return r.execAffecting(ctx, tx, `UPDATE working_groups SET name=?, description=?, mailing_list=?, start_date=?, end_date=?, updated_at=? WHERE id=?`,
		wg.Name, nullable(wg.Description), nullable(wg.MailingList), nullableStringPtr(wg.StartDate), nullableStringPtr(wg.EndDate), nowString(), wg.ID)
}

func (r Repo) GetWorkingGroup(ctx context.Context, id string) (domain.WorkingGroup, error) {
	return scanWorkingGroup(r.queryRow(ctx, nil, `SELECT `+workingGroupColumns+` FROM working_groups WHERE id=?`, id))
}

func (r Repo) ListWorkingGroups(ctx context.Context) ([]domain.WorkingGroup, error) {
	rows, err := r.query(ctx, nil, `SELECT `+workingGroupColumns+` FROM working_groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WorkingGroup{}
	for rows.Next() {
		wg, err := scanWorkingGroup(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, wg)
	}
	return res, rows.Err()
}

func (r Repo) DeleteWorkingGroup(ctx context.Context, tx *sql.Tx, id string) error {
	return r.execAffecting(ctx, tx, `DELETE FROM working_groups WHERE id=?`, id)
}
