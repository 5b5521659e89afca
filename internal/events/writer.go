package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
)

// Event types appended by the engine.
const (
	ReportCreated     = "report.created"
	ReportUpdated     = "report.updated"
	ReportConfirmed   = "report.confirmed"
	ReportReopened    = "report.reopened"
	CampaignChanged   = "campaign.changed"
	ReferenceChanged  = "reference.changed"
	ValueChanged      = "value.changed"
	MarketplaceIngest = "marketplace.ingested"
	UserCreated       = "user.created"
	UserUpdated       = "user.updated"
	APIKeyCreated     = "api_key.created"
)

type Writer struct {
	DB          *sql.DB
	Now         func() time.Time
	Placeholder squirrel.PlaceholderFormat
}

type EventPayload map[string]any

// Append writes an audit event inside tx.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, countryID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if w.Placeholder == nil {
		w.Placeholder = squirrel.Question
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	query, err := w.Placeholder.ReplacePlaceholders(`INSERT INTO events(ts,type,country_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, ts, evtType, nullable(countryID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
