package invoice

import (
	"context"
	"fmt"

	"github.com/finvue/invoice-engine/billing"
)

// =============================================================================
// ORPHAN CORRECTION - assign periods to transactions that never got one
// =============================================================================
// Orphans are card purchases with no invoice period at all, typically later
// installments of a multi-installment purchase or recurring charges created
// before allocation existed. Unlike the audit this is a presence check, not a
// correctness check.

// CountOrphans returns how many card purchases have no invoice period.
// Cheap; used as the progress denominator and to decide whether to correct.
func (e *Engine) CountOrphans(ctx context.Context) (int, error) {
	count, err := e.store.CountOrphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting orphans: %w", err)
	}
	return count, nil
}

// CorrectOrphans assigns invoice periods to up to batchSize orphans, oldest
// first, and reports whether more remain. Corrected transactions are no
// longer orphans and will not be re-selected, so the caller's loop is safe to
// interrupt and resume. The caller must await each batch before the next.
func (e *Engine) CorrectOrphans(ctx context.Context, batchSize int) (OrphanBatch, error) {
	if batchSize <= 0 {
		return OrphanBatch{}, ErrInvalidBatchSize
	}

	orphans, err := e.store.ListOrphans(ctx, batchSize)
	if err != nil {
		return OrphanBatch{}, fmt.Errorf("listing orphans: %w", err)
	}

	// Cards are fetched once per batch; orphan chains cluster on few cards.
	cards := map[CardID]*Card{}
	corrected := 0
	for _, tx := range orphans {
		if tx.CardID == nil {
			continue
		}
		card, ok := cards[*tx.CardID]
		if !ok {
			card, err = e.store.GetCard(ctx, *tx.CardID)
			if err != nil {
				return OrphanBatch{Corrected: corrected}, fmt.Errorf("loading card %s: %w", *tx.CardID, err)
			}
			if card == nil {
				return OrphanBatch{Corrected: corrected}, fmt.Errorf("transaction %s: %w", tx.ID, ErrCardNotFound)
			}
			cards[*tx.CardID] = card
		}

		period := billing.PeriodFor(tx.Date, card.ClosingDay)
		if err := e.store.UpdateInvoicePeriod(ctx, tx.ID, period); err != nil {
			return OrphanBatch{Corrected: corrected}, fmt.Errorf("assigning period to %s: %w", tx.ID, err)
		}
		corrected++
	}

	remaining, err := e.store.CountOrphans(ctx)
	if err != nil {
		return OrphanBatch{Corrected: corrected}, fmt.Errorf("counting remaining orphans: %w", err)
	}

	return OrphanBatch{Corrected: corrected, HasMore: remaining > 0}, nil
}
