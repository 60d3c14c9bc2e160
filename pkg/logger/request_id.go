package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID stores id in ctx, generating a new one when id is empty
func WithRequestID(ctx context.Context, id string) (context.Context, string) {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, RequestIDKey, id), id
}
