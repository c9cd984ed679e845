package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/logging"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Authenticator resolves a bearer token to an active user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				WriteUnauthorized(w, "Missing or invalid token")
				return
			}

			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if domain.Kind(err) != "UNAUTHORIZED" {
					logging.Ctx(r.Context()).Error().Err(err).Msg("authentication lookup failed")
				}
				WriteUnauthorized(w, InvalidTokenMessage)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
			ctx = logging.ContextWithUserID(ctx, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts the user ID set by Auth. It returns uuid.Nil outside an
// authenticated route.
func GetUserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}

// InvalidTokenMessage is returned for tokens that fail authentication.
const InvalidTokenMessage = "Invalid or expired token"

// WriteUnauthorized writes a 401 in the API error envelope. The realtime
// gateway uses it for rejected query tokens.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
		"error":   map[string]string{"code": "UNAUTHORIZED"},
	})
}
