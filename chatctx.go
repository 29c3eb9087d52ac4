package parrot

import "context"

// ChatRef identifies the chat a message originated from. The router binds
// it into the context before invoking the agent so tools (schedule_task in
// particular) can observe where to deliver results.
type ChatRef struct {
	Channel string
	ChatID  string
}

type chatRefKey struct{}

// WithChatRef returns a context carrying the originating chat.
func WithChatRef(ctx context.Context, ref ChatRef) context.Context {
	return context.WithValue(ctx, chatRefKey{}, ref)
}

// ChatRefFrom extracts the originating chat from ctx.
func ChatRefFrom(ctx context.Context) (ChatRef, bool) {
	ref, ok := ctx.Value(chatRefKey{}).(ChatRef)
	return ref, ok
}

type modelTierKey struct{}

// WithModelTier scopes a model-tier hint to one agent invocation. The
// scheduler sets it for tasks carrying a model_tier; because the value
// lives on the context it cannot leak past the invocation, failures
// included.
func WithModelTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, modelTierKey{}, tier)
}

// ModelTierFrom returns the tier hint for the current invocation, or "".
func ModelTierFrom(ctx context.Context) string {
	tier, _ := ctx.Value(modelTierKey{}).(string)
	return tier
}
