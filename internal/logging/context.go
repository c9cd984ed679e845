package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
)

func NewRequestID() string {
	return uuid.New().String()
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithUserID tags every Ctx logger derived from ctx with the user id.
func ContextWithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// Ctx returns the global logger enriched with the request and user ids
// stored in ctx.
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if id, ok := ctx.Value(userIDKey).(uuid.UUID); ok {
		lc = lc.Str("user_id", id.String())
	}
	l := lc.Logger()
	return &l
}
