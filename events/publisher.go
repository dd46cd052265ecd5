// Package events defines the outbound event surface of the engine.
// Reconciliation passes publish invalidation signals here; transports live
// in subpackages.
package events

// Publisher delivers an event to downstream consumers. Implementations bind
// their destination (topic, endpoint) at construction time.
type Publisher interface {
	Publish(event any) error
}

// Noop discards all events. Used when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(event any) error { return nil }
