package actorlink

import (
	"context"
	"encoding/json"
)

// Call performs a typed remote_call against actorRef: args is encoded,
// the target method's success payload is decoded into R. Kept as a
// package-level generic function rather than a Runtime method, since Go
// methods cannot carry their own type parameters (spec.md §4.7's
// `remote_call(actor_ref, target, args, returning: R) → R`).
func Call[R any](ctx context.Context, rt *Runtime, actorRef ActorId, target string, args any) (R, error) {
	var zero R
	data, err := rt.RemoteCall(ctx, actorRef, target, args)
	if err != nil {
		return zero, err
	}
	if data == nil {
		return zero, nil
	}
	var result R
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, err
	}
	return result, nil
}
