package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signed(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		JWTClaimUserID: 42,
		JWTClaimRole:   string(models.RoleModerator),
		JWTClaimName:   "Referee",
		"exp":          time.Now().Add(time.Hour).Unix(),
	}
}

func identityEcho(t *testing.T, got *models.Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := GetIdentityFromContext(r.Context())
		require.NoError(t, err)
		*got = id
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate_BearerHeader(t *testing.T) {
	var got models.Identity
	h := Authenticate(testSecret, nil)(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, validClaims(), testSecret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.Identity{ID: 42, DisplayName: "Referee", Role: models.RoleModerator}, got)
}

func TestAuthenticate_QueryTokenForWebsocket(t *testing.T) {
	var got models.Identity
	h := Authenticate(testSecret, nil)(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/ws/chat/1?token="+signed(t, validClaims(), testSecret), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 42, got.ID)
}

func TestAuthenticate_Rejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	})
	h := Authenticate(testSecret, nil)(next)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	cases := map[string]string{
		"missing":      "",
		"wrong secret": "Bearer " + signed(t, validClaims(), "other"),
		"expired":      "Bearer " + signed(t, expired, testSecret),
		"malformed":    "Bearer not.a.jwt",
		"basic scheme": "Basic dXNlcjpwYXNz",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/chat", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestGetIdentityFromContext_Fallbacks(t *testing.T) {
	ctx := WithClaims(httptest.NewRequest(http.MethodGet, "/", nil).Context(), jwt.MapClaims{
		JWTClaimUserID: "7",
		JWTClaimRole:   "player",
	})
	id, err := GetIdentityFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "User 7", id.DisplayName)

	bad := WithClaims(ctx, jwt.MapClaims{JWTClaimUserID: 7.5, JWTClaimRole: "player"})
	_, err = GetUserIDFromContext(bad)
	assert.Error(t, err)

	badRole := WithClaims(ctx, jwt.MapClaims{JWTClaimUserID: 7, JWTClaimRole: "root"})
	_, err = GetUserRoleFromContext(badRole)
	assert.Error(t, err)
}
