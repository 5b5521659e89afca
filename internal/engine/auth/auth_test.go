package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DARIAH-ERIC/dariah-unr/internal/config"
	"github.com/DARIAH-ERIC/dariah-unr/internal/domain"
	"github.com/DARIAH-ERIC/dariah-unr/internal/engine/auth"
)

func TestRequireCountryScope(t *testing.T) {
	svc := auth.Service{Config: config.Default()}
	at := "c-at"
	coordinator := svc.PrincipalFor(domain.User{ID: "u1", Role: domain.UserNationalCoordinator, CountryID: &at}, "jwt")

	require.NoError(t, svc.Require(coordinator, auth.PermReportWrite, "c-at"))

	err := svc.Require(coordinator, auth.PermReportWrite, "c-de")
	var scope auth.CountryForbiddenError
	require.True(t, errors.As(err, &scope))
	assert.Equal(t, "c-de", scope.CountryID)

	err = svc.Require(coordinator, auth.PermCampaignManage, "")
	var forbidden auth.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, auth.PermCampaignManage, forbidden.Permission)

	admin := svc.PrincipalFor(domain.User{ID: "u2", Role: domain.UserAdmin}, "api_key")
	require.NoError(t, svc.Require(admin, auth.PermReportWrite, "c-de"))
	assert.Equal(t, "", svc.VisibleCountry(admin))
	assert.Equal(t, "c-at", svc.VisibleCountry(coordinator))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := auth.FromContext(context.Background())
	assert.False(t, ok)
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "u1"})
	p, ok := auth.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	require.NoError(t, auth.CheckPassword(hash, "s3cret"))
	assert.ErrorIs(t, auth.CheckPassword(hash, "wrong"), auth.ErrInvalidCredentials)

	_, err = auth.HashPassword("  ")
	assert.Error(t, err)
}
