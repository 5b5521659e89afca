package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

var valueTables = map[string]string{
	domain.ValueEventSize:    "event_sizes",
	domain.ValueOutreachType: "outreach_type_values",
	domain.ValueServiceSize:  "service_sizes",
}

func valueTable(kind string) (string, error) {
	table, ok := valueTables[kind]
	if !ok {
		return "", fmt.Errorf("invalid reference value kind %s", kind)
	}
	return table, nil
}

// ListReferenceValues returns the annual values of one kind ordered by type.
func (r Repo) ListReferenceValues(ctx context.Context, kind string) ([]domain.ReferenceValue, error) {
	table, err := valueTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.query(ctx, nil, `SELECT type, annual_value FROM `+table+` ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ReferenceValue{}
	for rows.Next() {
		var v domain.ReferenceValue
		if err := rows.Scan(&v.Type, &v.AnnualValue); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) GetReferenceValue(ctx context.Context, kind, typ string) (domain.ReferenceValue, error) {
	table, err := valueTable(kind)
	if err != nil {
		return domain.ReferenceValue{}, err
	}
	v := domain.ReferenceValue{Type: typ}
	err = r.queryRow(ctx, nil, `SELECT annual_value FROM `+table+` WHERE type=?`, typ).Scan(&v.AnnualValue)
	if errors.Is(err, sql.ErrNoRows) {
		return v, ErrNotFound
	}
	return v, err
}

func (r Repo) UpsertReferenceValue(ctx context.Context, tx *sql.Tx, kind string, v domain.ReferenceValue) error {
	table, err := valueTable(kind)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, tx, `INSERT INTO `+table+`(type, annual_value) VALUES (?,?)
ON CONFLICT(type) DO UPDATE SET annual_value=excluded.annual_value`, v.Type, v.AnnualValue)
	return err
}
