package engine

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DARIAH-ERIC/dariah-unr/internal/calc"
	"github.com/DARIAH-ERIC/dariah-unr/internal/config"
	"github.com/DARIAH-ERIC/dariah-unr/internal/db"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
	"github.com/DARIAH-ERIC/dariah-unr/internal/events"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
	"github.com/DARIAH-ERIC/dariah-unr/internal/sshomp"
	"github.com/DARIAH-ERIC/dariah-unr/internal/zotero"
)

var (
	// ErrReportNotFound is returned for a missing report or one that belongs
	// to another country.
	ErrReportNotFound = errors.New("report not found")
	// ErrCampaignClosed rejects edits to reports of a closed campaign year.
	ErrCampaignClosed = errors.New("report campaign closed")
	// ErrReportFinal rejects edits to a confirmed report.
	ErrReportFinal = errors.New("report is final")
	// ErrNotConfigured is returned when an external collaborator is missing.
	ErrNotConfigured = errors.New("not configured")
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Events      events.Writer
	Config      *config.Config
	Auth        auth.Service
	Zotero      zotero.Client
	Marketplace sshomp.Client
	Now         func() time.Time
}

// New wires an engine for the configured database dialect and external APIs.
func New(conn *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	ph := db.Placeholder(cfg.Database.Driver)
	e := Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Placeholder: ph},
		Events: events.Writer{DB: conn, Placeholder: ph},
		Config: cfg,
		Auth:   auth.Service{Config: cfg},
		Now:    time.Now,
	}
	if cfg.Zotero.GroupID != "" {
		opts := []zotero.Option{
			zotero.WithAPIKey(cfg.Zotero.APIKey),
			zotero.WithMaxRetries(cfg.Zotero.MaxRetries),
		}
		if cfg.Zotero.RequestsPerSecond > 0 {
			opts = append(opts, zotero.WithRateLimit(cfg.Zotero.RequestsPerSecond))
		}
		if cfg.Zotero.TimeoutSeconds > 0 {
			opts = append(opts, zotero.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Zotero.TimeoutSeconds) * time.Second}))
		}
		e.Zotero = zotero.NewClient(cfg.Zotero.BaseURL, cfg.Zotero.GroupID, opts...)
	}
	if cfg.Marketplace.BaseURL != "" {
		opts := []sshomp.Option{sshomp.WithMaxRetries(cfg.Marketplace.MaxRetries)}
		if cfg.Marketplace.RequestsPerSecond > 0 {
			opts = append(opts, sshomp.WithRateLimit(cfg.Marketplace.RequestsPerSecond))
		}
		if cfg.Marketplace.TimeoutSeconds > 0 {
			opts = append(opts, sshomp.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Marketplace.TimeoutSeconds) * time.Second}))
		}
		e.Marketplace = sshomp.NewClient(cfg.Marketplace.BaseURL, opts...)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) thresholds() calc.Thresholds {
	if e.Config == nil {
		return calc.DefaultThresholds
	}
	return calc.Thresholds{
		Medium: e.Config.Calculation.MediumServiceVisits,
		Large:  e.Config.Calculation.LargeServiceVisits,
	}
}

// mutation describes the audit event recorded with a write.
type mutation struct {
	Type       string
	CountryID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    events.EventPayload
}

// inTx runs fn and appends the audit event in one transaction.
func (e Engine) inTx(ctx context.Context, m mutation, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, m.Type, m.CountryID, m.EntityKind, m.EntityID, m.ActorID, m.Payload); err != nil {
		return err
	}
	return tx.Commit()
}

func newID() string {
	return uuid.New().String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
