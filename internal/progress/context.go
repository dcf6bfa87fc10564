package progress

import "context"

type emitterKey struct{}

// ContextWithEmitter returns a copy of ctx carrying e. Components that emit on
// behalf of a run, such as fetchers shared across runs, read it back with
// EmitterFrom so their events carry the run's ID and timestamps.
func ContextWithEmitter(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, e)
}

// EmitterFrom returns the emitter carried by ctx, or fallback when there is none.
func EmitterFrom(ctx context.Context, fallback Emitter) Emitter {
	if e, ok := ctx.Value(emitterKey{}).(Emitter); ok && e != nil {
		return e
	}
	if fallback == nil {
		return Nop{}
	}
	return fallback
}
