package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/lostfound-backend/pkg/config"
)

var testJWT = config.JWTConfig{
	Secret:            "secret",
	Issuer:            "lostfound",
	ExpirationMinutes: 30,
}

func TestMintAndParseAccessToken(t *testing.T) {
	now := time.Now().UTC()
	accountID := uuid.New()

	token, err := MintAccessToken(testJWT, now, AccessTokenPayload{AccountID: accountID, Handle: "alice", JTI: "session-1"})
	require.NoError(t, err)

	claims, err := ParseAccessToken(testJWT, token)
	require.NoError(t, err)
	assert.Equal(t, accountID, claims.AccountID)
	assert.Equal(t, "alice", claims.Handle)
	assert.Equal(t, "session-1", claims.ID)
	assert.Equal(t, accountID.String(), claims.Subject)
	assert.Equal(t, "lostfound", claims.Issuer)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenRejectsExpiredUnlessAllowed(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now().Add(-2*time.Hour), AccessTokenPayload{AccountID: uuid.New()})
	require.NoError(t, err)

	_, err = ParseAccessToken(testJWT, token)
	require.Error(t, err)

	claims, err := ParseAccessTokenAllowExpired(testJWT, token)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
}

func TestParseAccessTokenRejectsWrongSecretAndIssuer(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now(), AccessTokenPayload{AccountID: uuid.New()})
	require.NoError(t, err)

	other := testJWT
	other.Secret = "other"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)

	other = testJWT
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, token)
	assert.Error(t, err)
}

func TestMintRequiresAccount(t *testing.T) {
	_, err := MintAccessToken(testJWT, time.Now(), AccessTokenPayload{})
	assert.Error(t, err)
}
