package shared

import "context"

// Actor identifies who performs an operation and from which branch.
// Values come from the branch/user directory and are trusted as given.
type Actor struct {
	UserID       int64
	BranchID     int64
	Name         string
	Capabilities map[string]bool
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(capability string) bool {
	return a.Capabilities[capability]
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
