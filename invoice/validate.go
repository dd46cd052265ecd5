package invoice

import (
	"context"
	"fmt"
)

// =============================================================================
// INVOICE TOTAL VALIDATION - heal each card's cached aggregate
// =============================================================================

// ValidateInvoiceTotals recomputes every card's authoritative open-invoice
// total from its purchase transactions in unpaid periods and overwrites the
// cached CurrentInvoice (and LimitUsed, which drifts the same way) when they
// differ. Drift here is nominal, not an error: batch correction and orphan
// correction both move transactions between invoice periods, and the cache is
// patched incrementally at posting time, so this pass restores the invariant
// cached total == sum of open invoice totals.
func (e *Engine) ValidateInvoiceTotals(ctx context.Context) (ValidationReport, error) {
	cards, err := e.store.ListCards(ctx)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("listing cards: %w", err)
	}

	report := ValidationReport{Cards: []CardValidation{}}
	for _, card := range cards {
		authoritative, err := e.store.OpenInvoiceTotal(ctx, card.ID)
		if err != nil {
			return ValidationReport{}, fmt.Errorf("summing open invoices for card %s: %w", card.ID, err)
		}

		validation := CardValidation{
			CardID:          card.ID,
			CardName:        card.Name,
			PreviousValue:   card.CurrentInvoice,
			NewValue:        authoritative,
			Difference:      authoritative.Sub(card.CurrentInvoice),
			NeedsCorrection: !authoritative.Equal(card.CurrentInvoice),
		}

		if validation.NeedsCorrection {
			if err := e.store.UpdateCardTotals(ctx, card.ID, authoritative, authoritative); err != nil {
				return ValidationReport{}, fmt.Errorf("updating totals for card %s: %w", card.ID, err)
			}
			report.TotalCorrected++
		}

		report.Cards = append(report.Cards, validation)
	}

	return report, nil
}
