package invoice

import (
	"log"

	"github.com/finvue/invoice-engine/events"
)

// =============================================================================
// ENGINE - the reconciliation passes share a store and an event publisher
// =============================================================================

// Engine runs the allocation audit, batch correction, orphan correction, and
// invoice-total validation passes. All passes are synchronous and stateless
// between calls; progress bookkeeping belongs to the caller.
type Engine struct {
	store  Store
	events events.Publisher
}

// NewEngine creates an engine. A nil publisher disables event emission.
func NewEngine(store Store, publisher events.Publisher) *Engine {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Engine{store: store, events: publisher}
}

// publish emits an event without letting broker failures poison the pass.
// Invalidation is a courtesy signal: consumers re-derive from storage anyway.
func (e *Engine) publish(event any) {
	if err := e.events.Publish(event); err != nil {
		log.Printf("invoice: event publish failed: %v", err)
	}
}
