package domain

import (
	"context"
	"strings"
)

// SystemActor подставляется, когда вызывающая сторона не представилась.
const SystemActor = "system"

type actorKey struct{}

// WithActor кладёт в контекст идентификатор пользователя, выполняющего действие.
func WithActor(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext возвращает пользователя из контекста или SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
