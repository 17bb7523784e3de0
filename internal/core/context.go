package core

import "context"

type requestIDKey struct{}

// RequestIDHeader carries the request ID on inbound requests and on calls to the sources
const RequestIDHeader = "X-Request-ID"

// WithRequestID attaches the ID of the inbound request to ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID attached to ctx, or "" when there is none.
// It survives context.WithoutCancel, so shared cache fills still carry the ID of
// the request that started them.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
