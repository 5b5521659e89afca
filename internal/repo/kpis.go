package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// kpiTables describes a per-report KPI attachment: outreach or service.
type kpiTables struct {
	reports   string
	kpis      string
	ownerCol  string
	parentCol string
}

var (
	outreachKPITables = kpiTables{reports: "outreach_reports", kpis: "outreach_kpis", ownerCol: "outreach_id", parentCol: "outreach_report_id"}
	serviceKPITables  = kpiTables{reports: "service_reports", kpis: "service_kpis", ownerCol: "service_id", parentCol: "service_report_id"}
)

type kpiRow struct {
	id      string
	ownerID string
	kpis    []domain.KPI
}

// replaceKPIs stores kpis for (reportID, ownerID), creating the per-report
// row on first use, and returns its id.
func (r Repo) replaceKPIs(ctx context.Context, tx *sql.Tx, t kpiTables, reportID, ownerID string, kpis []domain.KPI) (string, error) {
	insert := fmt.Sprintf(`INSERT INTO %s(id,report_id,%s) VALUES (?,?,?) ON CONFLICT(report_id,%s) DO NOTHING`, t.reports, t.ownerCol, t.ownerCol)
	if _, err := r.exec(ctx, tx, insert, uuid.NewString(), reportID, ownerID); err != nil {
		return "", err
	}
	var id string
	if err := r.queryRow(ctx, tx, fmt.Sprintf(`SELECT id FROM %s WHERE report_id=? AND %s=?`, t.reports, t.ownerCol), reportID, ownerID).Scan(&id); err != nil {
		return "", err
	}
	if _, err := r.exec(ctx, tx, fmt.Sprintf(`DELETE FROM %s WHERE %s=?`, t.kpis, t.parentCol), id); err != nil {
		return "", err
	}
	seen := map[string]struct{}{}
	for _, k := range kpis {
		if _, dup := seen[k.Unit]; dup {
			return "", fmt.Errorf("duplicate kpi unit %s", k.Unit)
		}
		seen[k.Unit] = struct{}{}
		if _, err := r.exec(ctx, tx, fmt.Sprintf(`INSERT INTO %s(id,%s,unit,value) VALUES (?,?,?,?)`, t.kpis, t.parentCol),
			uuid.NewString(), id, k.Unit, k.Value); err != nil {
			return "", err
		}
	}
	return id, nil
}

// listKPIs returns the KPI rows attached to reportID keyed by owner.
func (r Repo) listKPIs(ctx context.Context, t kpiTables, reportID string) ([]kpiRow, error) {
	q := fmt.Sprintf(`SELECT rp.id, rp.%s, k.unit, k.value FROM %s rp LEFT JOIN %s k ON k.%s = rp.id WHERE rp.report_id=? ORDER BY rp.%s, k.unit`,
		t.ownerCol, t.reports, t.kpis, t.parentCol, t.ownerCol)
	rows, err := r.query(ctx, nil, q, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []kpiRow
	for rows.Next() {
		var id, owner string
		var unit sql.NullString
		var value sql.NullInt64
		if err := rows.Scan(&id, &owner, &unit, &value); err != nil {
			return nil, err
		}
		if len(res) == 0 || res[len(res)-1].id != id {
			res = append(res, kpiRow{id: id, ownerID: owner, kpis: []domain.KPI{}})
		}
		if unit.Valid {
			last := &res[len(res)-1]
			last.kpis = append(last.kpis, domain.KPI{Unit: unit.String, Value: value.Int64})
		}
	}
	return res, rows.Err()
}

func (r Repo) UpsertOutreachKPIs(ctx context.Context, tx *sql.Tx, reportID, outreachID string, kpis []domain.KPI) (string, error) {
	return r.replaceKPIs(ctx, tx, outreachKPITables, reportID, outreachID, kpis)
}

func (r Repo) ListOutreachReports(ctx context.Context, reportID string) ([]domain.OutreachReport, error) {
	rows, err := r.listKPIs(ctx, outreachKPITables, reportID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.OutreachReport, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.OutreachReport{ID: row.id, ReportID: reportID, OutreachID: row.ownerID, KPIs: row.kpis})
	}
	return res, nil
}

func (r Repo) UpsertServiceKPIs(ctx context.Context, tx *sql.Tx, reportID, serviceID string, kpis []domain.KPI) (string, error) {
	return r.replaceKPIs(ctx, tx, serviceKPITables, reportID, serviceID, kpis)
}

func (r Repo) ListServiceReports(ctx context.Context, reportID string) ([]domain.ServiceReport, error) {
	rows, err := r.listKPIs(ctx, serviceKPITables, reportID)
	if err != nil {
		return nil, err
	}
	res := make([]domain.ServiceReport, 0, len(rows))
	for _, row := range rows {
		res = append(res, domain.ServiceReport{ID: row.id, ReportID: reportID, ServiceID: row.ownerID, KPIs: row.kpis})
	}
	return res, nil
}
