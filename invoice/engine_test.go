package invoice_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvue/invoice-engine/billing"
	"github.com/finvue/invoice-engine/invoice"
	"github.com/finvue/invoice-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// capturePublisher records every published event for assertions.
type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(event any) error {
	p.events = append(p.events, event)
	return nil
}

func newTestEngine(t *testing.T) (*invoice.Engine, *sqlite.Store, *capturePublisher) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := &capturePublisher{}
	return invoice.NewEngine(store, pub), store, pub
}

func seedCard(t *testing.T, store *sqlite.Store, id string, closingDay int) invoice.Card {
	t.Helper()
	card := invoice.Card{
		ID:             invoice.CardID(id),
		Name:           "Test Card " + id,
		ClosingDay:     closingDay,
		DueDay:         10,
		CreditLimit:    decimal.New(5000, 0),
		CurrentInvoice: decimal.Zero,
		LimitUsed:      decimal.Zero,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.SaveCard(context.Background(), card))
	return card
}

func purchase(cardID invoice.CardID, id string, date time.Time, amount string, period *billing.InvoicePeriod) invoice.Transaction {
	return invoice.Transaction{
		ID:                invoice.TransactionID(id),
		Date:              date,
		Amount:            decimal.RequireFromString(amount),
		Description:       "purchase " + id,
		CardID:            &cardID,
		InvoicePeriod:     period,
		InstallmentNumber: 1,
		TotalInstallments: 1,
		Kind:              invoice.KindPurchase,
	}
}

func period(month time.Month, year int) *billing.InvoicePeriod {
	return &billing.InvoicePeriod{Month: month, Year: year}
}

// =============================================================================
// ALLOCATION AUDIT + CORRECTION
// =============================================================================

func TestPreviewAllocations_FindsMismatches(t *testing.T) {
	// GIVEN: A card closing on the 5th with one correct and one misallocated purchase
	// WHEN: Previewing allocations
	// THEN: Only the misallocated purchase is reported, with both periods

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 5)

	// Mar 3 <= closing day 5: March is correct.
	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-ok", time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC), "50.00", period(time.March, 2024))))

	// Mar 10 > closing day 5: belongs to April, stamped March.
	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-bad", time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), "75.00", period(time.March, 2024))))

	mismatches, err := engine.PreviewAllocations(ctx)
	require.NoError(t, err)

	require.Len(t, mismatches, 1)
	m := mismatches[0]
	assert.Equal(t, invoice.TransactionID("tx-bad"), m.TransactionID)
	assert.Equal(t, billing.InvoicePeriod{Month: time.March, Year: 2024}, m.Current)
	assert.Equal(t, billing.InvoicePeriod{Month: time.April, Year: 2024}, m.Corrected)
}

func TestPreviewAllocations_ReadOnly(t *testing.T) {
	// GIVEN: A misallocated purchase
	// WHEN: Previewing twice without correcting
	// THEN: Both previews report the same mismatch (nothing was written)

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 5)

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-bad", time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), "75.00", period(time.March, 2024))))

	first, err := engine.PreviewAllocations(ctx)
	require.NoError(t, err)
	second, err := engine.PreviewAllocations(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, second, 1)
}

func TestPreviewAllocations_IgnoresPaymentsAndOrphans(t *testing.T) {
	// GIVEN: An invoice payment and an orphan alongside a correct purchase
	// WHEN: Previewing allocations
	// THEN: Neither shows up as a mismatch

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 5)

	payment := purchase(card.ID, "tx-pay", time.Date(2024, time.March, 20, 0, 0, 0, 0, time.UTC), "100.00", period(time.March, 2024))
	payment.Kind = invoice.KindInvoicePayment
	require.NoError(t, store.SaveTransaction(ctx, payment))

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-orphan", time.Date(2024, time.March, 12, 0, 0, 0, 0, time.UTC), "30.00", nil)))

	mismatches, err := engine.PreviewAllocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestCorrectAllocations_Idempotent(t *testing.T) {
	// GIVEN: Two misallocated purchases
	// WHEN: Correcting, then correcting again
	// THEN: First run fixes both; second run finds nothing to fix

	engine, store, pub := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 5)

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-1", time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC), "75.00", period(time.March, 2024))))
	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-2", time.Date(2023, time.December, 28, 0, 0, 0, 0, time.UTC), "40.00", period(time.December, 2023))))

	summary, err := engine.CorrectAllocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Corrected)
	assert.Equal(t, 2, summary.Total)

	// December 28 with closing day 5 rolls into January of the next year.
	tx, err := store.GetTransaction(ctx, "tx-2")
	require.NoError(t, err)
	require.NotNil(t, tx.InvoicePeriod)
	assert.Equal(t, billing.InvoicePeriod{Month: time.January, Year: 2024}, *tx.InvoicePeriod)

	// Second run is a no-op.
	summary, err = engine.CorrectAllocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Corrected)
	assert.Equal(t, 0, summary.Total)

	preview, err := engine.PreviewAllocations(ctx)
	require.NoError(t, err)
	assert.Empty(t, preview)

	// Only the first run published a cache-invalidation event.
	require.Len(t, pub.events, 1)
	evt, ok := pub.events[0].(invoice.AllocationsCorrected)
	require.True(t, ok)
	assert.Equal(t, 2, evt.Corrected)
	assert.Contains(t, evt.CardIDs, "card-1")
}

func TestCorrectAllocations_NoEventWhenClean(t *testing.T) {
	// GIVEN: Fully consistent allocations
	// WHEN: Running the corrector
	// THEN: No downstream event is published

	engine, store, pub := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 5)

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-ok", time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC), "50.00", period(time.March, 2024))))

	summary, err := engine.CorrectAllocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Corrected)
	assert.Empty(t, pub.events)
}

// =============================================================================
// ORPHAN DETECTION + BATCHED CORRECTION
// =============================================================================

func TestCorrectOrphans_BatchLoopConverges(t *testing.T) {
	// GIVEN: 100 orphaned purchases and a batch size of 50
	// WHEN: Correcting batch by batch until has_more is false
	// THEN: Exactly two batches of 50, then none remain

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 15)

	start := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		require.NoError(t, store.SaveTransaction(ctx,
			purchase(card.ID, fmt.Sprintf("tx-%03d", i), start.AddDate(0, 0, i), "10.00", nil)))
	}

	count, err := engine.CountOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, count)

	batch, err := engine.CorrectOrphans(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, batch.Corrected)
	assert.True(t, batch.HasMore)

	batch, err = engine.CorrectOrphans(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, batch.Corrected)
	assert.False(t, batch.HasMore)

	// A further run finds nothing.
	batch, err = engine.CorrectOrphans(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Corrected)
	assert.False(t, batch.HasMore)

	count, err = engine.CountOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCorrectOrphans_AssignsPeriodFromPurchaseDate(t *testing.T) {
	// GIVEN: An orphan dated past the card's closing day
	// WHEN: Correcting orphans
	// THEN: It lands in the following month's invoice

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 15)

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-late", time.Date(2024, time.May, 20, 0, 0, 0, 0, time.UTC), "25.00", nil)))

	batch, err := engine.CorrectOrphans(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Corrected)

	tx, err := store.GetTransaction(ctx, "tx-late")
	require.NoError(t, err)
	require.NotNil(t, tx.InvoicePeriod)
	assert.Equal(t, billing.InvoicePeriod{Month: time.June, Year: 2024}, *tx.InvoicePeriod)
}

func TestCorrectOrphans_InvalidBatchSize(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CorrectOrphans(context.Background(), 0)
	assert.ErrorIs(t, err, invoice.ErrInvalidBatchSize)

	_, err = engine.CorrectOrphans(context.Background(), -5)
	assert.ErrorIs(t, err, invoice.ErrInvalidBatchSize)
}

// =============================================================================
// INVOICE TOTAL VALIDATION
// =============================================================================

func TestValidateInvoiceTotals_HealsDriftedCache(t *testing.T) {
	// GIVEN: A card whose cached total drifted from the ledger
	// WHEN: Validating invoice totals
	// THEN: The cached total is rewritten to the ledger sum, exactly

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 10)

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-1", time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC), "150.00", period(time.June, 2024))))
	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-2", time.Date(2024, time.June, 8, 0, 0, 0, 0, time.UTC), "49.99", period(time.June, 2024))))

	// Corrupt the cache.
	require.NoError(t, store.UpdateCardTotals(ctx, card.ID,
		decimal.RequireFromString("120.00"), decimal.RequireFromString("120.00")))

	report, err := engine.ValidateInvoiceTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalCorrected)

	require.Len(t, report.Cards, 1)
	v := report.Cards[0]
	assert.True(t, v.NeedsCorrection)
	assert.Equal(t, "120", v.PreviousValue.String())
	assert.Equal(t, "199.99", v.NewValue.String())

	healed, err := store.GetCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, healed.CurrentInvoice.Equal(decimal.RequireFromString("199.99")))
	assert.True(t, healed.LimitUsed.Equal(decimal.RequireFromString("199.99")))

	// A second run reports no drift.
	report, err = engine.ValidateInvoiceTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalCorrected)
}

func TestValidateInvoiceTotals_ExcludesPaidAndPayments(t *testing.T) {
	// GIVEN: An open purchase, a purchase on a paid invoice, and a payment row
	// WHEN: Validating invoice totals
	// THEN: Only the open purchase counts toward the authoritative total

	engine, store, _ := newTestEngine(t)
	ctx := context.Background()
	card := seedCard(t, store, "card-1", 10)

	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-open", time.Date(2024, time.July, 3, 0, 0, 0, 0, time.UTC), "60.00", period(time.July, 2024))))
	require.NoError(t, store.SaveTransaction(ctx,
		purchase(card.ID, "tx-paid", time.Date(2024, time.June, 3, 0, 0, 0, 0, time.UTC), "500.00", period(time.June, 2024))))

	payment := purchase(card.ID, "tx-pay", time.Date(2024, time.June, 20, 0, 0, 0, 0, time.UTC), "500.00", period(time.June, 2024))
	payment.Kind = invoice.KindInvoicePayment
	require.NoError(t, store.SaveTransaction(ctx, payment))

	require.NoError(t, store.MarkInvoicePaid(ctx, card.ID, billing.InvoicePeriod{Month: time.June, Year: 2024}))

	report, err := engine.ValidateInvoiceTotals(ctx)
	require.NoError(t, err)

	require.Len(t, report.Cards, 1)
	assert.Equal(t, "60", report.Cards[0].NewValue.String())
}
