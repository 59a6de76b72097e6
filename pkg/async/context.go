package async

import "context"

type executorsContextKey struct{}

// With attaches an Executors pool to ctx so that Future and Promise
// constructors can find a place to run completion handlers without
// threading the pool through every call site.
func With(ctx context.Context, executors Executors) context.Context {
	return context.WithValue(ctx, executorsContextKey{}, executors)
}

// From returns the Executors pool attached to ctx, or nil if none was set.
func From(ctx context.Context) Executors {
	v := ctx.Value(executorsContextKey{})
	if v == nil {
		return nil
	}
	executors, _ := v.(Executors)
	return executors
}
