package core

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tattoostencil/studio/internal/auth"
	"github.com/tattoostencil/studio/internal/store"
)

func TestResolveCreatesUserOnce(t *testing.T) {
	db := newTestDB(t)
	users := NewUserService(db)
	ctx := context.Background()
	claims := &auth.Claims{Email: "ink@example.com", FirstName: "Ink", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}}

	user, err := users.Resolve(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", user.ID)
	assert.Equal(t, store.DefaultCredits, user.Credits)

	require.NoError(t, db.UpdateUserCredits(ctx, "sub-1", 3))
	claims.FirstName = "Changed"

	user, err = users.Resolve(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, 3, user.Credits)
	assert.Equal(t, "Ink", user.FirstName)
}

func TestEnsureUserRefreshesProfile(t *testing.T) {
	db := newTestDB(t)
	users := NewUserService(db)
	ctx := context.Background()
	seedUser(t, db, "sub-1", 7)

	user, err := users.EnsureUser(ctx, &auth.Claims{Email: "new@example.com", LastName: "Vega", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, "Vega", user.LastName)
	assert.Equal(t, 7, user.Credits)

	got, err := users.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
}
