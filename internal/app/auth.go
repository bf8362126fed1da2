package app

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
	"github.com/MithilHassan/kbt-express/internal/shared"
)

// ActorHeader carries the operator name recorded in history entries.
const ActorHeader = "X-Actor"

// OperatorGuard authenticates operator routes with a bearer token compared
// against a bcrypt hash.
type OperatorGuard struct {
	hash   []byte
	logger *slog.Logger
}

// NewOperatorGuard constructs the guard for a bcrypt hash.
func NewOperatorGuard(hash string, logger *slog.Logger) *OperatorGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorGuard{hash: []byte(strings.TrimSpace(hash)), logger: logger}
}

// HashToken hashes an operator token for OPERATOR_TOKEN_HASH.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Middleware rejects requests without a valid token and stores the actor in
// the request context.
func (g *OperatorGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || len(g.hash) == 0 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kbt"`)
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(g.hash, []byte(token)); err != nil {
			g.logger.Warn("operator token rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="kbt", error="invalid_token"`)
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		actor := r.Header.Get(ActorHeader)
		if strings.TrimSpace(actor) == "" {
			actor = shared.DefaultActor
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
