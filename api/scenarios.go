/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates cards and transactions
	that exercise a specific reconciliation path.

AVAILABLE SCENARIOS:

	misallocated:   Purchases stamped with the wrong invoice period
	orphan-backlog: A backlog of card purchases that never got a period
	drifted-totals: Cached card totals out of sync with the ledger
	healthy:        Fully consistent data (preview and validation find nothing)

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create cards with fixed IDs
 3. Insert transactions, deliberately broken where the scenario calls for it
 4. Optionally corrupt the cached card totals

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "orphan-backlog"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: writeJSON/writeError helpers
  - invoice/engine.go: the reconciliation operations these scenarios feed
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvue/invoice-engine/billing"
	"github.com/finvue/invoice-engine/invoice"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "misallocated",
		Name:        "Misallocated Purchases",
		Description: "Purchases stamped with the wrong invoice period, ready for preview + correction",
	},
	{
		ID:          "orphan-backlog",
		Name:        "Orphan Backlog",
		Description: "100 card purchases with no invoice period, for the batched orphan corrector",
	},
	{
		ID:          "drifted-totals",
		Name:        "Drifted Card Totals",
		Description: "Cached invoice totals that no longer match the transaction ledger",
	},
	{
		ID:          "healthy",
		Name:        "Healthy Data",
		Description: "Fully consistent cards and transactions; every check comes back clean",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "misallocated":
		err = h.loadMisallocatedScenario(ctx)
	case "orphan-backlog":
		err = h.loadOrphanBacklogScenario(ctx)
	case "drifted-totals":
		err = h.loadDriftedTotalsScenario(ctx)
	case "healthy":
		err = h.loadHealthyScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMisallocatedScenario(ctx context.Context) error {
	// Card closes on the 5th: purchases after the 5th belong to next month.
	card, err := h.seedCard(ctx, "card-visa", "Visa Platinum", 5, 12, "8000")
	if err != nil {
		return err
	}

	year := time.Now().Year()

	// Correctly allocated purchase: Mar 3, closing day 5 -> March invoice.
	if err := h.seedPurchase(ctx, card, "tx-ok-1", time.Date(year, time.March, 3, 0, 0, 0, 0, time.UTC),
		"42.50", "Grocery store", billing.InvoicePeriod{Month: time.March, Year: year}); err != nil {
		return err
	}

	// Misallocated: Mar 10 is past the closing day, should be April but was
	// stamped March by a buggy importer.
	if err := h.seedPurchase(ctx, card, "tx-wrong-1", time.Date(year, time.March, 10, 0, 0, 0, 0, time.UTC),
		"120.00", "Airline tickets", billing.InvoicePeriod{Month: time.March, Year: year}); err != nil {
		return err
	}

	// Misallocated across a year boundary: Dec 28 -> January next year.
	if err := h.seedPurchase(ctx, card, "tx-wrong-2", time.Date(year-1, time.December, 28, 0, 0, 0, 0, time.UTC),
		"89.90", "Holiday dinner", billing.InvoicePeriod{Month: time.December, Year: year - 1}); err != nil {
		return err
	}

	return nil
}

func (h *Handler) loadOrphanBacklogScenario(ctx context.Context) error {
	card, err := h.seedCard(ctx, "card-master", "Mastercard Gold", 15, 22, "5000")
	if err != nil {
		return err
	}

	// 100 orphans spread over ~3 months; two batches of 50 clear them all.
	start := time.Date(time.Now().Year(), time.January, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		tx := invoice.Transaction{
			ID:                invoice.TransactionID(fmt.Sprintf("tx-orphan-%03d", i)),
			Date:              start.AddDate(0, 0, i),
			Amount:            decimal.NewFromFloat(10.00).Add(decimal.NewFromInt(int64(i))),
			Description:       fmt.Sprintf("Imported purchase %d", i+1),
			CardID:            &card.ID,
			InstallmentNumber: 1,
			TotalInstallments: 1,
			Kind:              invoice.KindPurchase,
		}
		if err := h.Store.SaveTransaction(ctx, tx); err != nil {
			return err
		}
	}

	return nil
}

func (h *Handler) loadDriftedTotalsScenario(ctx context.Context) error {
	card, err := h.seedCard(ctx, "card-amex", "Amex Green", 25, 5, "12000")
	if err != nil {
		return err
	}

	year := time.Now().Year()
	period := billing.InvoicePeriod{Month: time.June, Year: year}

	// Ledger truth: 150.00 + 49.99 of open purchases.
	if err := h.seedPurchase(ctx, card, "tx-drift-1", time.Date(year, time.June, 10, 0, 0, 0, 0, time.UTC),
		"150.00", "Electronics", period); err != nil {
		return err
	}
	if err := h.seedPurchase(ctx, card, "tx-drift-2", time.Date(year, time.June, 12, 0, 0, 0, 0, time.UTC),
		"49.99", "Streaming annual plan", period); err != nil {
		return err
	}

	// Corrupt the cache: pretend a partial refund was applied to the cached
	// total but never made it into the ledger.
	return h.Store.UpdateCardTotals(ctx, card.ID,
		decimal.RequireFromString("120.00"), decimal.RequireFromString("120.00"))
}

func (h *Handler) loadHealthyScenario(ctx context.Context) error {
	card, err := h.seedCard(ctx, "card-clean", "Everyday Card", 10, 17, "3000")
	if err != nil {
		return err
	}

	year := time.Now().Year()
	total := decimal.Zero

	purchases := []struct {
		id     string
		date   time.Time
		amount string
		desc   string
	}{
		{"tx-clean-1", time.Date(year, time.May, 4, 0, 0, 0, 0, time.UTC), "33.20", "Fuel"},
		{"tx-clean-2", time.Date(year, time.May, 18, 0, 0, 0, 0, time.UTC), "250.00", "Furniture"},
		{"tx-clean-3", time.Date(year, time.June, 9, 0, 0, 0, 0, time.UTC), "18.75", "Book order"},
	}

	for _, p := range purchases {
		amount := decimal.RequireFromString(p.amount)
		period := billing.PeriodFor(p.date, card.ClosingDay)
		if err := h.seedPurchase(ctx, card, p.id, p.date, p.amount, p.desc, period); err != nil {
			return err
		}
		total = total.Add(amount)
	}

	return h.Store.UpdateCardTotals(ctx, card.ID, total, total)
}

// =============================================================================
// SEED HELPERS
// =============================================================================

func (h *Handler) seedCard(ctx context.Context, id, name string, closingDay, dueDay int, creditLimit string) (*invoice.Card, error) {
	card := invoice.Card{
		ID:             invoice.CardID(id),
		Name:           name,
		ClosingDay:     closingDay,
		DueDay:         dueDay,
		CreditLimit:    decimal.RequireFromString(creditLimit),
		CurrentInvoice: decimal.Zero,
		LimitUsed:      decimal.Zero,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.Store.SaveCard(ctx, card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (h *Handler) seedPurchase(ctx context.Context, card *invoice.Card, id string, date time.Time, amount, desc string, period billing.InvoicePeriod) error {
	return h.Store.SaveTransaction(ctx, invoice.Transaction{
		ID:                invoice.TransactionID(id),
		Date:              date,
		Amount:            decimal.RequireFromString(amount),
		Description:       desc,
		CardID:            &card.ID,
		InvoicePeriod:     &period,
		InstallmentNumber: 1,
		TotalInstallments: 1,
		Kind:              invoice.KindPurchase,
	})
}
