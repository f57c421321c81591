package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

func testLogger() *zlog.Zerolog {
	zlog.Init()
	return &zlog.Logger
}

func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(id.UserID + "/" + id.Role))
	})
}

func TestAuthenticatorAcceptsSignedToken(t *testing.T) {
	a := NewAuthenticator("secret", "image-pipeline", testLogger())
	token, err := a.Sign(Identity{UserID: "user-1", Role: "admin"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	a.Middleware(echoIdentity(t)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1/admin", rec.Body.String())
}

func TestAuthenticatorRejects(t *testing.T) {
	a := NewAuthenticator("secret", "", testLogger())
	other := NewAuthenticator("other-secret", "", testLogger())

	expired, err := a.Sign(Identity{UserID: "u"}, -time.Minute)
	require.NoError(t, err)
	forged, err := other.Sign(Identity{UserID: "u"}, time.Minute)
	require.NoError(t, err)
	anonymous, err := a.Sign(Identity{}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"not bearer", "Basic abc"},
		{"garbage", "Bearer not-a-token"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + forged},
		{"no subject", "Bearer " + anonymous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			a.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			})).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"Unauthorized","message":"invalid or missing bearer token"}`, rec.Body.String())
		})
	}
}

func TestRecoveryReturns500(t *testing.T) {
	h := Recovery(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestLoggingPassesThrough(t *testing.T) {
	h := Logging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
