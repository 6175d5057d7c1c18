package actorctx

import (
	"context"

	"github.com/aivent/aivent/internal/http/middlewares"
)

// Actor identity travels in the context so repos and the worker can log who
// a write belongs to without threading an extra parameter everywhere.

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, middlewares.KeyUserID, userID)
}

func UserIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(middlewares.KeyUserID).(string)

	return v, ok && v != ""
}
