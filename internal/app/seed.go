package app

import (
	"context"
	_ "embed"
	"errors"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine"
	"github.com/DARIAH-ERIC/dariah-unr/internal/repo"
)

//go:embed seed.yml
var defaultSeed []byte

// SeedData is the reference data a fresh installation starts with.
type SeedData struct {
	Values map[string]map[string]int64 `yaml:"values"`
	Roles  []SeedRole                  `yaml:"roles"`
}

type SeedRole struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	AnnualValue int64  `yaml:"annual_value"`
}

// DefaultSeed returns the bundled reference data.
func DefaultSeed() (SeedData, error) {
	var data SeedData
	if err := yaml.Unmarshal(defaultSeed, &data); err != nil {
		return SeedData{}, eris.Wrap(err, "seed: parse")
	}
	return data, nil
}

type SeedOptions struct {
	Data          SeedData
	AdminName     string
	AdminEmail    string
	AdminPassword string
	ActorID       string
}

type SeedResult struct {
	Values int          `json:"values"`
	Roles  int          `json:"roles"`
	Admin  *domain.User `json:"admin,omitempty"`
}

// Seed stores missing reference values and roles, and creates the admin user
// when an email is given and no user has it yet. Existing entries are kept as
// they are, so seeding twice is harmless.
func Seed(ctx context.Context, e engine.Engine, opts SeedOptions) (SeedResult, error) {
	var res SeedResult
	kinds := make([]string, 0, len(opts.Data.Values))
	for kind := range opts.Data.Values {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		types := make([]string, 0, len(opts.Data.Values[kind]))
		for typ := range opts.Data.Values[kind] {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			_, err := e.Repo.GetReferenceValue(ctx, kind, typ)
			if err == nil {
				continue
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return res, err
			}
			v := domain.ReferenceValue{Type: typ, AnnualValue: opts.Data.Values[kind][typ]}
			if _, err := e.SetReferenceValue(ctx, kind, v, opts.ActorID); err != nil {
				return res, eris.Wrapf(err, "seed %s %s", kind, typ)
			}
			res.Values++
		}
	}

	for _, r := range opts.Data.Roles {
		_, err := e.Repo.GetRoleByType(ctx, r.Type)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return res, err
		}
		role := domain.Role{Name: r.Name, Type: r.Type, AnnualValue: r.AnnualValue}
		if _, err := e.SaveRole(ctx, role, opts.ActorID); err != nil {
			return res, eris.Wrapf(err, "seed role %s", r.Type)
		}
		res.Roles++
	}

	if opts.AdminEmail != "" {
		_, err := e.Repo.GetUserByEmail(ctx, opts.AdminEmail)
		switch {
		case err == nil:
		case errors.Is(err, repo.ErrNotFound):
			name := opts.AdminName
			if name == "" {
				name = "Administrator"
			}
			u, err := e.CreateUser(ctx, engine.CreateUserOptions{
				Name:     name,
				Email:    opts.AdminEmail,
				Password: opts.AdminPassword,
				Role:     domain.UserAdmin,
				ActorID:  opts.ActorID,
			})
			if err != nil {
				return res, err
			}
			res.Admin = &u
		default:
			return res, err
		}
	}

	zap.L().Info("seed done", zap.Int("values", res.Values), zap.Int("roles", res.Roles), zap.Bool("admin", res.Admin != nil))
	return res, nil
}
