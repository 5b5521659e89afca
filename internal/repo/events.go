package repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

// EventFilters narrows audit event listings. Cursor returns events with a
// smaller id (newest first paging).
type EventFilters struct {
	CountryID  string
	Type       string
	EntityKind string
	EntityID   string
	Cursor     int64
	Limit      int
}

func (r Repo) scanEvents(ctx context.Context, q squirrel.SelectBuilder) ([]domain.Event, error) {
	rows, err := r.queryBuilder(ctx, nil, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CountryID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) eventSelect() squirrel.SelectBuilder {
	return r.builder().Select("id", "ts", "type", "COALESCE(country_id,'')", "entity_kind", "COALESCE(entity_id,'')", "actor_id", "payload_json").From("events")
}

// LatestEvents returns events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := r.eventSelect().OrderBy("id DESC").Limit(uint64(f.Limit))
	if f.CountryID != "" {
		q = q.Where(squirrel.Eq{"country_id": f.CountryID})
	}
	if f.Type != "" {
		q = q.Where(squirrel.Eq{"type": f.Type})
	}
	if f.EntityKind != "" {
		q = q.Where(squirrel.Eq{"entity_kind": f.EntityKind})
	}
	if f.EntityID != "" {
		q = q.Where(squirrel.Eq{"entity_id": f.EntityID})
	}
	if f.Cursor > 0 {
		q = q.Where(squirrel.Lt{"id": f.Cursor})
	}
	return r.scanEvents(ctx, q)
}

// EventsAfter returns up to limit events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.scanEvents(ctx, r.eventSelect().Where(squirrel.Gt{"id": cursor}).OrderBy("id ASC").Limit(uint64(limit)))
}

// LatestEventID returns the newest event id or 0.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.queryRow(ctx, nil, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
