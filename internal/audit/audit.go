// Package audit supplies the acting principal stamped on events and
// snapshots. The core never self-sources identity; callers inject it.
package audit

import "context"

// Identity resolves the current actor for audit stamping.
type Identity interface {
	Actor(ctx context.Context) string
}

// Static is an Identity that always returns the same actor.
type Static string

// Actor returns the fixed actor name.
func (s Static) Actor(context.Context) string { return string(s) }

// System is the identity used when no caller identity is configured.
var System Identity = Static("system")

type actorKey struct{}

// WithActor returns a context carrying the given actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Contextual resolves the actor from the context, falling back to the given
// default when the context carries none.
type Contextual struct {
	Fallback string
}

// Actor returns the context actor or the fallback.
func (c Contextual) Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return c.Fallback
}
