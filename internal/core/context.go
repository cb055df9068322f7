package core

import "context"

type contextKey string

const (
	ctxKeyActor    contextKey = "actor"
	ctxKeyClientIP contextKey = "client_ip"
)

// SystemActor is recorded when no authenticated actor is present, for
// example when the CLI works directly against the store.
const SystemActor = "system"

// ContextWithActor records who is making changes.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// ActorFromContext returns the actor or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok && v != "" {
		return v
	}
	return SystemActor
}

// ContextWithClientIP adds the caller's address for logging.
func ContextWithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// ClientIPFromContext extracts the caller's address.
func ClientIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyClientIP).(string); ok {
		return v
	}
	return ""
}
