// Package payload defines the opaque value a timer carries and clones on
// elapse. The type itself is intentionally featureless: callers decide what
// an event means, this package only needs to duplicate it and compare two
// instances by identity.
package payload

// Payload is cloned when a timer elapses and delivered through a queue. Two
// payloads are considered the same event iff they are the same Go value
// (pointer identity for pointer-shaped implementations), which is what lets
// a timer retract an event that is still sitting unconsumed on the output
// queue.
type Payload interface {
	// Duplicate returns an independent copy suitable for handing to a
	// consumer while the original stays owned by the timer.
	Duplicate() Payload

	// Destroy releases any resources held by the payload. It is called
	// exactly once per Duplicate, by whichever side ends up owning the
	// duplicate once it is clear nobody else needs it.
	Destroy()
}

// SameIdentity reports whether a and b are the same payload value, the
// comparison queue.Queue.DeleteEqual needs to retract a specific
// outstanding elapse event.
func SameIdentity(a, b Payload) bool {
	return a == b
}
