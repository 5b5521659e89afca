package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	a, err := Open(Options{Workspace: t.TempDir(), SkipLogger: true})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenMigrates(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(Options{Workspace: dir, SkipLogger: true})
	require.NoError(t, err)
	version := a.SchemaVersion
	assert.Positive(t, version)
	assert.Equal(t, dir, a.Config.Database.Workspace)
	require.NoError(t, a.Close())

	again, err := Open(Options{Workspace: dir, SkipLogger: true})
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, version, again.SchemaVersion)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unr.yml"), []byte("calculation:\n  medium_service_visits: 5000\n  large_service_visits: 100000\n"), 0o644))
	a, err := Open(Options{Workspace: dir, SkipLogger: true})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, int64(5000), a.Config.Calculation.MediumServiceVisits)
	assert.Equal(t, "sqlite", a.Config.Database.Driver)
}

func TestDefaultSeedCoversPricedTypes(t *testing.T) {
	data, err := DefaultSeed()
	require.NoError(t, err)
	assert.Len(t, data.Values[domain.ValueEventSize], 4)
	assert.Len(t, data.Values[domain.ValueOutreachType], 2)
	assert.Len(t, data.Values[domain.ValueServiceSize], 4)
	types := map[string]bool{}
	for _, r := range data.Roles {
		types[r.Type] = true
	}
	for _, typ := range []string{domain.RoleNationalCoordinator, domain.RoleJRCMember, domain.RoleWGChair} {
		assert.True(t, types[typ], typ)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	a := openTestApp(t)
	ctx := context.Background()
	data, err := DefaultSeed()
	require.NoError(t, err)
	opts := SeedOptions{
		Data:          data,
		AdminEmail:    "office@dariah.eu",
		AdminPassword: "long enough password",
		ActorID:       "test",
	}

	first, err := Seed(ctx, a.Engine, opts)
	require.NoError(t, err)
	assert.Equal(t, 10, first.Values)
	assert.Equal(t, len(data.Roles), first.Roles)
	require.NotNil(t, first.Admin)
	assert.Equal(t, domain.UserAdmin, first.Admin.Role)

	v, err := a.Engine.Repo.GetReferenceValue(ctx, domain.ValueServiceSize, domain.SizeCore)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), v.AnnualValue)

	_, err = a.Engine.SetReferenceValue(ctx, domain.ValueServiceSize, domain.ReferenceValue{Type: domain.SizeCore, AnnualValue: 20000}, "test")
	require.NoError(t, err)

	second, err := Seed(ctx, a.Engine, opts)
	require.NoError(t, err)
	assert.Zero(t, second.Values)
	assert.Zero(t, second.Roles)
	assert.Nil(t, second.Admin)

	v, err = a.Engine.Repo.GetReferenceValue(ctx, domain.ValueServiceSize, domain.SizeCore)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), v.AnnualValue)

	_, _, err = a.Engine.Login(ctx, "office@dariah.eu", "long enough password")
	assert.NoError(t, err)
}
