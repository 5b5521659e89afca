package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repo is the SQL access layer. Placeholder defaults to "?" (sqlite);
// PostgreSQL connections use squirrel.Dollar.
type Repo struct {
	DB          *sql.DB
	Placeholder squirrel.PlaceholderFormat
}

var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint rejects a write.
var ErrConflict = errors.New("already exists")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns tx when set, the pool otherwise.
func (r Repo) conn(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) placeholder() squirrel.PlaceholderFormat {
	if r.Placeholder == nil {
		return squirrel.Question
	}
	return r.Placeholder
}

// builder returns a squirrel statement builder for the connection dialect.
func (r Repo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(r.placeholder())
}

// rebind rewrites "?" placeholders for the connection dialect.
func (r Repo) rebind(query string) string {
	out, err := r.placeholder().ReplacePlaceholders(query)
	if err != nil {
		return query
	}
	return out
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	return r.conn(tx).ExecContext(ctx, r.rebind(query), args...)
}

func (r Repo) query(ctx context.Context, tx *sql.Tx, query string, args ...any) (*sql.Rows, error) {
	return r.conn(tx).QueryContext(ctx, r.rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...any) *sql.Row {
	return r.conn(tx).QueryRowContext(ctx, r.rebind(query), args...)
}

// execAffecting runs a statement and maps zero affected rows to ErrNotFound.
func (r Repo) execAffecting(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := r.exec(ctx, tx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) execBuilder(ctx context.Context, tx *sql.Tx, b squirrel.Sqlizer) (sql.Result, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return r.conn(tx).ExecContext(ctx, q, args...)
}

func (r Repo) queryBuilder(ctx context.Context, tx *sql.Tx, b squirrel.Sqlizer) (*sql.Rows, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return r.conn(tx).QueryContext(ctx, q, args...)
}

// activeIn restricts [start_col, end_col] to intervals overlapping year.
func activeIn(startCol, endCol string, first, last string) squirrel.Sqlizer {
	return squirrel.And{
		squirrel.Or{squirrel.Eq{startCol: nil}, squirrel.Eq{startCol: ""}, squirrel.LtOrEq{startCol: last}},
		squirrel.Or{squirrel.Eq{endCol: nil}, squirrel.Eq{endCol: ""}, squirrel.GtOrEq{endCol: first}},
	}
}

// wrapErr maps driver-specific unique violations to ErrConflict.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrConflict, err.Error())
	}
	return err
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func marshalStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// linkIDs replaces the rows of a join table owned by ownerID.
func (r Repo) linkIDs(ctx context.Context, tx *sql.Tx, table, ownerCol, otherCol, ownerID string, ids []string) error {
	if _, err := r.execBuilder(ctx, tx, r.builder().Delete(table).Where(squirrel.Eq{ownerCol: ownerID})); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		if _, err := r.execBuilder(ctx, tx, r.builder().Insert(table).Columns(ownerCol, otherCol).Values(ownerID, id)); err != nil {
			return err
		}
	}
	return nil
}

// linkedIDs returns the other side of a join table for ownerID.
func (r Repo) linkedIDs(ctx context.Context, tx *sql.Tx, table, ownerCol, otherCol, ownerID string) ([]string, error) {
	rows, err := r.queryBuilder(ctx, tx, r.builder().Select(otherCol).From(table).Where(squirrel.Eq{ownerCol: ownerID}).OrderBy(otherCol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
