// Package mutate holds the one optimistic-update pattern every repository
// mutator follows, so the apply/attempt/compensate sequence is written once
// instead of being re-derived per operation.
package mutate

import "context"

// Optimistic applies the local mutation, attempts the remote write, and on
// failure runs the compensating action before returning the error. The
// compensation is either a local revert (when the prior state is cheaply
// invertible, e.g. a flipped flag) or a full refetch (when it is not, e.g. a
// replaced recipient list).
func Optimistic(ctx context.Context, apply func(), attempt func(context.Context) error, compensate func(context.Context)) error {
	apply()
	if err := attempt(ctx); err != nil {
		compensate(ctx)
		return err
	}
	return nil
}
