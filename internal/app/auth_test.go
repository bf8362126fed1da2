package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/MithilHassan/kbt-express/internal/shared"
)

const testToken = "operator-secret-token-1"

func testGuard(t *testing.T) *OperatorGuard {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testToken), bcrypt.MinCost)
	require.NoError(t, err)
	return NewOperatorGuard(" "+string(hash)+"\n", nil)
}

func actorEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(shared.ActorFromContext(r.Context())))
	})
}

func TestOperatorGuard(t *testing.T) {
	h := testGuard(t).Middleware(actorEcho())

	cases := []struct {
		name   string
		auth   string
		actor  string
		code   int
		body   string
		header string
	}{
		{name: "missing", code: http.StatusUnauthorized, header: `Bearer realm="kbt"`},
		{name: "wrong scheme", auth: "Basic " + testToken, code: http.StatusUnauthorized},
		{name: "wrong token", auth: "Bearer not-the-token", code: http.StatusUnauthorized, header: `Bearer realm="kbt", error="invalid_token"`},
		{name: "default actor", auth: "Bearer " + testToken, code: http.StatusOK, body: shared.DefaultActor},
		{name: "named actor", auth: "bearer  " + testToken, actor: "ops@kbt", code: http.StatusOK, body: "ops@kbt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/bookings", nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			if tc.actor != "" {
				req.Header.Set(ActorHeader, tc.actor)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
			if tc.header != "" {
				assert.Equal(t, tc.header, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestOperatorGuardWithoutHashRejectsEverything(t *testing.T) {
	h := NewOperatorGuard("", nil).Middleware(actorEcho())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHashTokenVerifies(t *testing.T) {
	hash, err := HashToken(testToken)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(testToken)))
}
