package custody

import "context"

type referenceKey struct{}

// WithReference tags ctx with the id of the ledger operation on whose behalf
// transfers are made, so journaled chain transfers can be matched to it.
func WithReference(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, referenceKey{}, ref)
}

func ReferenceFrom(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(referenceKey{}).(string)
	return ref, ok && ref != ""
}
