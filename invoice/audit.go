package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/finvue/invoice-engine/billing"
)

// =============================================================================
// ALLOCATION AUDIT - find purchases stored under the wrong invoice
// =============================================================================

// PreviewAllocations scans every card's allocated purchases and reports those
// whose stored invoice period disagrees with the period derived from the
// transaction date and the card's closing day. Read-only; an empty result
// means the system is fully consistent.
func (e *Engine) PreviewAllocations(ctx context.Context) ([]Mismatch, error) {
	cards, err := e.store.ListCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing cards: %w", err)
	}

	mismatches := []Mismatch{}
	for _, card := range cards {
		txs, err := e.store.ListAllocatedByCard(ctx, card.ID)
		if err != nil {
			return nil, fmt.Errorf("listing allocated transactions for card %s: %w", card.ID, err)
		}

		for _, tx := range txs {
			// Payments settle invoices; they never bill into one.
			if tx.Kind != KindPurchase || tx.InvoicePeriod == nil {
				continue
			}

			correct := billing.PeriodFor(tx.Date, card.ClosingDay)
			if correct.Equal(*tx.InvoicePeriod) {
				continue
			}

			mismatches = append(mismatches, Mismatch{
				TransactionID: tx.ID,
				Description:   tx.Description,
				Amount:        tx.Amount,
				Date:          tx.Date,
				CardID:        card.ID,
				CardName:      card.Name,
				ClosingDay:    card.ClosingDay,
				DueDay:        card.DueDay,
				Current:       *tx.InvoicePeriod,
				Corrected:     correct,
			})
		}
	}

	return mismatches, nil
}

// =============================================================================
// BATCH CORRECTION - apply the audit's findings
// =============================================================================

// AllocationsCorrected is published after a correction pass changes any
// transaction, so downstream forecast caches can invalidate themselves.
type AllocationsCorrected struct {
	Corrected   int       `json:"corrected"`
	CardIDs     []string  `json:"card_ids"`
	CorrectedAt time.Time `json:"corrected_at"`
}

// CorrectAllocations re-runs the audit and writes the corrected period onto
// every mismatched transaction. Each write is an idempotent keyed update, so
// a failure mid-way leaves already-corrected transactions done and the rest
// discoverable by a fresh preview; applying the same correction twice is a
// no-op.
func (e *Engine) CorrectAllocations(ctx context.Context) (CorrectionSummary, error) {
	mismatches, err := e.PreviewAllocations(ctx)
	if err != nil {
		return CorrectionSummary{}, err
	}

	corrected := 0
	cardSet := map[CardID]bool{}
	for _, m := range mismatches {
		if err := e.store.UpdateInvoicePeriod(ctx, m.TransactionID, m.Corrected); err != nil {
			return CorrectionSummary{
				Corrected: corrected,
				Total:     len(mismatches),
				Message:   fmt.Sprintf("corrected %d of %d before failure", corrected, len(mismatches)),
			}, fmt.Errorf("correcting transaction %s: %w", m.TransactionID, err)
		}
		corrected++
		cardSet[m.CardID] = true
	}

	if corrected > 0 {
		cardIDs := make([]string, 0, len(cardSet))
		for id := range cardSet {
			cardIDs = append(cardIDs, string(id))
		}
		e.publish(AllocationsCorrected{
			Corrected:   corrected,
			CardIDs:     cardIDs,
			CorrectedAt: time.Now().UTC(),
		})
	}

	message := "all invoice allocations are consistent"
	if corrected > 0 {
		message = fmt.Sprintf("corrected %d of %d misallocated transactions", corrected, len(mismatches))
	}

	return CorrectionSummary{
		Corrected: corrected,
		Total:     len(mismatches),
		Message:   message,
	}, nil
}
