package rsm

// Container is the application state machine hosted by an Rsm. All of
// its mutations happen inside op OnApply calls, which the Rsm invokes
// in committed log order, one at a time per group. Processing must be
// deterministic given (pre-state, version, request): no wall clock, no
// thread identity, no non-replicated input.
type Container interface {
	// OpFactory enumerates the container's op space.
	OpFactory() OpFactory

	// SaveSnapshot materializes the current state as a deterministic
	// byte image. Two replicas at the same log prefix produce equal
	// images.
	SaveSnapshot() ([]byte, error)

	// LoadSnapshot replaces the in-memory state with the image.
	// Idempotent: loading the same image twice yields the same state.
	LoadSnapshot(data []byte) error
}
