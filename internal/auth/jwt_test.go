package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService("test-secret", "salesflow", nil)

	pair, err := svc.GenerateTokenPair("user-1", []string{"sales", "sales_manager"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.ValidateToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.UserID)
	require.Equal(t, "access", claims.TokenType)
	require.True(t, claims.HasRole("sales_manager"))
	require.False(t, claims.HasRole("master"))

	refreshClaims, err := svc.ValidateToken(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "refresh", refreshClaims.TokenType)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	svc := NewJWTService("secret-a", "salesflow", nil)
	other := NewJWTService("secret-b", "salesflow", nil)

	pair, err := svc.GenerateTokenPair("user-1", nil)
	require.NoError(t, err)

	_, err = other.ValidateToken(context.Background(), pair.AccessToken)
	require.Error(t, err)
}

func TestExtractTokenFromBearer(t *testing.T) {
	require.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	require.Equal(t, "abc", ExtractTokenFromBearer("abc"))
	require.Equal(t, "", ExtractTokenFromBearer(""))
}
