package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	v := NewVerifier("secret")

	token, err := v.GenerateJWT(Claims{
		Email:            "ink@example.com",
		FirstName:        "Ink",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "ink@example.com", claims.Email)
	assert.Equal(t, "Ink", claims.FirstName)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("one").GenerateJWT(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("two").ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.GenerateJWT(Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}, -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateRequiresSubject(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.GenerateJWT(Claims{Email: "nobody@example.com"}, time.Hour)
	require.NoError(t, err)

	_, err = v.ValidateJWT(token)
	assert.Error(t, err)
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier("secret").ValidateJWT(signed)
	assert.Error(t, err)
}
