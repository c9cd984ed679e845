package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/pulsedm/internal/domain"
)

type staticAuth struct {
	token string
	user  *domain.User
}

func (a staticAuth) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if token != a.token {
		return nil, domain.ErrInvalidCredential
	}
	return a.user, nil
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestAuth(t *testing.T) {
	user := &domain.User{ID: uuid.New()}
	var seen uuid.UUID
	h := Auth(staticAuth{token: "good", user: user})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing header", "", http.StatusUnauthorized, "Missing or invalid token"},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, "Missing or invalid token"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, InvalidTokenMessage},
		{"valid", "Bearer good", http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusUnauthorized {
				assert.Equal(t, user.ID, seen)
				return
			}
			assert.Equal(t, uuid.Nil, seen)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.message, body.Message)
			assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
		})
	}
}
