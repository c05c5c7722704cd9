package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestIdentityServiceValidateToken(t *testing.T) {
	svc := NewIdentityService(IdentityConfig{Secret: "s3cret", Issuer: "sma-identity"})
	token := signToken(t, "s3cret", &models.JWTClaims{
		Role:          models.RoleScheduler,
		InstitutionID: "inst-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-7",
			Issuer:    "sma-identity",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
	assert.Equal(t, models.RoleScheduler, claims.Role)
	assert.Equal(t, "inst-1", claims.InstitutionID)
}

func TestIdentityServiceRejectsBadTokens(t *testing.T) {
	svc := NewIdentityService(IdentityConfig{Secret: "s3cret", Issuer: "sma-identity"})
	valid := jwt.RegisteredClaims{Subject: "user-7", Issuer: "sma-identity", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	cases := map[string]string{
		"wrong secret": signToken(t, "other", &models.JWTClaims{RegisteredClaims: valid}),
		"wrong issuer": signToken(t, "s3cret", &models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-7", Issuer: "elsewhere", ExpiresAt: valid.ExpiresAt,
		}}),
		"expired": signToken(t, "s3cret", &models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-7", Issuer: "sma-identity", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}),
		"no subject": signToken(t, "s3cret", &models.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "sma-identity", ExpiresAt: valid.ExpiresAt,
		}}),
		"garbage": "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestIdentityServiceRequiresSecret(t *testing.T) {
	_, err := NewIdentityService(IdentityConfig{}).ValidateToken("anything")
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}
