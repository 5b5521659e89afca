package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/events"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
	"github.com/DARIAH-ERIC/dariah-unr/internal/sshomp"
)

// IngestResult counts what a marketplace ingest changed for one country.
type IngestResult struct {
	CountryID       string `json:"country_id"`
	CountryCode     string `json:"country_code"`
	CreatedServices int    `json:"created_services"`
	UpdatedServices int    `json:"updated_services"`
	CreatedSoftware int    `json:"created_software"`
	UpdatedSoftware int    `json:"updated_software"`
	Skipped         int    `json:"skipped"`
}

// IngestMarketplace imports the services and software the country's
// marketplace actor contributes to. New entries are marked needs_review;
// known ones, matched by marketplace id, get their name, URL and marketplace
// status refreshed.
func (e Engine) IngestMarketplace(ctx context.Context, countryID, actorID string) (IngestResult, error) {
	if e.Marketplace == nil {
		return IngestResult{}, fmt.Errorf("marketplace: %w", ErrNotConfigured)
	}
	country, err := e.Repo.GetCountry(ctx, countryID)
	if err != nil {
		return IngestResult{}, err
	}
	if country.MarketplaceID == nil {
		return IngestResult{}, fmt.Errorf("country %s has no marketplace actor: %w", country.Code, ErrNotConfigured)
	}
	items, err := e.Marketplace.ActorItems(ctx, *country.MarketplaceID)
	if err != nil {
		return IngestResult{}, err
	}
	return e.storeMarketplaceItems(ctx, country, items, actorID)
}

// IngestAllMarketplace ingests every country with a marketplace actor.
// Fetches run concurrently; writes run one country at a time.
func (e Engine) IngestAllMarketplace(ctx context.Context, actorID string) ([]IngestResult, error) {
	if e.Marketplace == nil {
		return nil, fmt.Errorf("marketplace: %w", ErrNotConfigured)
	}
	all, err := e.Repo.ListCountries(ctx)
	if err != nil {
		return nil, err
	}
	var countries []domain.Country
	for _, c := range all {
		if c.MarketplaceID != nil {
			countries = append(countries, c)
		}
	}
	fetched := make([][]sshomp.Item, len(countries))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, c := range countries {
		eg.Go(func() error {
			items, err := e.Marketplace.ActorItems(egCtx, *c.MarketplaceID)
			if err != nil {
				return fmt.Errorf("marketplace actor %d (%s): %w", *c.MarketplaceID, c.Code, err)
			}
			fetched[i] = items
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	results := make([]IngestResult, 0, len(countries))
	for i, c := range countries {
		res, err := e.storeMarketplaceItems(ctx, c, fetched[i], actorID)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e Engine) storeMarketplaceItems(ctx context.Context, country domain.Country, items []sshomp.Item, actorID string) (IngestResult, error) {
	res := IngestResult{CountryID: country.ID, CountryCode: country.Code}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback()
	for _, it := range items {
		if strings.TrimSpace(it.PersistentID) == "" || strings.TrimSpace(it.Label) == "" {
			res.Skipped++
			continue
		}
		var created bool
		switch {
		case it.IsSoftware():
			created, err = e.upsertMarketplaceSoftware(ctx, tx, country.ID, it)
			if created {
				res.CreatedSoftware++
			} else {
				res.UpdatedSoftware++
			}
		case it.Category == sshomp.CategoryToolOrService:
			created, err = e.upsertMarketplaceService(ctx, tx, country.ID, it)
			if created {
				res.CreatedServices++
			} else {
				res.UpdatedServices++
			}
		default:
			res.Skipped++
		}
		if err != nil {
			return IngestResult{}, fmt.Errorf("marketplace item %s: %w", it.PersistentID, err)
		}
	}
	payload := events.EventPayload{
		"created_services": res.CreatedServices,
		"updated_services": res.UpdatedServices,
		"created_software": res.CreatedSoftware,
		"updated_software": res.UpdatedSoftware,
		"skipped":          res.Skipped,
	}
	if err := e.Events.Append(ctx, tx, events.MarketplaceIngest, country.ID, "country", country.ID, actorID, payload); err != nil {
		return IngestResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, err
	}
	zap.L().Info("marketplace ingested",
		zap.String("country", country.Code),
		zap.Int("created_services", res.CreatedServices),
		zap.Int("updated_services", res.UpdatedServices),
		zap.Int("created_software", res.CreatedSoftware),
		zap.Int("updated_software", res.UpdatedSoftware),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func withCountry(ids []string, countryID string) []string {
	for _, id := range ids {
		if id == countryID {
			return ids
		}
	}
	return append(ids, countryID)
}

func (e Engine) upsertMarketplaceService(ctx context.Context, tx *sql.Tx, countryID string, it sshomp.Item) (bool, error) {
	existing, err := e.Repo.GetServiceByMarketplaceID(ctx, tx, it.PersistentID)
	switch {
	case err == nil:
		existing.Name = it.Label
		existing.URL = it.URL()
		existing.MarketplaceStatus = optionalString(it.Status)
		existing.CountryIDs = withCountry(existing.CountryIDs, countryID)
		return false, e.Repo.UpdateService(ctx, tx, existing)
	case !errors.Is(err, repo.ErrNotFound):
		return false, err
	}
	id := it.PersistentID
	return true, e.Repo.InsertService(ctx, tx, domain.Service{
		ID:                newID(),
		Name:              it.Label,
		Type:              domain.ServiceRegular,
		Status:            domain.ServiceNeedsReview,
		MarketplaceID:     &id,
		MarketplaceStatus: optionalString(it.Status),
		URL:               it.URL(),
		CountryIDs:        []string{countryID},
	})
}

func (e Engine) upsertMarketplaceSoftware(ctx context.Context, tx *sql.Tx, countryID string, it sshomp.Item) (bool, error) {
	existing, err := e.Repo.GetSoftwareByMarketplaceID(ctx, tx, it.PersistentID)
	switch {
	case err == nil:
		existing.Name = it.Label
		existing.URL = it.URL()
		existing.MarketplaceStatus = optionalString(it.Status)
		existing.CountryIDs = withCountry(existing.CountryIDs, countryID)
		return false, e.Repo.UpdateSoftware(ctx, tx, existing)
	case !errors.Is(err, repo.ErrNotFound):
		return false, err
	}
	id := it.PersistentID
	return true, e.Repo.InsertSoftware(ctx, tx, domain.Software{
		ID:                newID(),
		Name:              it.Label,
		URL:               it.URL(),
		Status:            domain.SoftwareNeedsReview,
		MarketplaceID:     &id,
		MarketplaceStatus: optionalString(it.Status),
		CountryIDs:        []string{countryID},
	})
}
