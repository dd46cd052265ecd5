/*
Package invoice contains the credit-card invoice allocation and
reconciliation engine.

PURPOSE:
  Owns the domain model (cards, card transactions, invoice periods) and the
  four administrative passes that keep allocations consistent:

  - allocation audit:   find transactions stored under the wrong invoice
  - batch correction:   rewrite wrong allocations, idempotently
  - orphan correction:  assign periods to transactions that never got one
  - total validation:   heal each card's cached current-invoice aggregate

DESIGN PRINCIPLES:
  1. Derive, never invent: the passes only overwrite a transaction's invoice
     period and a card's cached totals. They never create or delete entities.
  2. Idempotence: every write is keyed by a concrete transaction or card ID
     and sets absolute values, so a retry after partial failure is safe.
  3. Precision: amounts use decimal.Decimal; the validator compares exactly.

SEE ALSO:
  - billing/cycle.go: the pure period calculator all passes share
  - store/sqlite, store/postgres: Store implementations
*/
package invoice

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finvue/invoice-engine/billing"
)

// =============================================================================
// IDENTIFIERS AND SENTINEL ERRORS
// =============================================================================

type CardID string
type TransactionID string

var (
	// ErrCardNotFound is returned when a referenced card does not exist.
	ErrCardNotFound = errors.New("card not found")

	// ErrTransactionNotFound is returned when a referenced transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidClosingDay is returned for closing days outside 1..31.
	ErrInvalidClosingDay = errors.New("closing day must be between 1 and 31")

	// ErrInvalidBatchSize is returned for non-positive orphan batch sizes.
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

// =============================================================================
// TRANSACTION KIND
// =============================================================================

// Kind distinguishes purchases, which bill into invoices, from the payment
// entries that settle invoices. Payments are excluded from allocation audits
// and from open-invoice totals.
type Kind string

const (
	KindPurchase       Kind = "purchase"
	KindInvoicePayment Kind = "invoice_payment"
)

// =============================================================================
// DOMAIN ENTITIES
// =============================================================================

// Card is a credit card with its billing configuration and cached aggregates.
// CurrentInvoice and LimitUsed are caches maintained incrementally at posting
// time; ValidateInvoiceTotals recomputes them from transaction data.
type Card struct {
	ID             CardID
	Name           string
	ClosingDay     int // day of month the billing cycle closes (1-31)
	DueDay         int
	CreditLimit    decimal.Decimal
	CurrentInvoice decimal.Decimal // cached: sum of open invoice totals
	LimitUsed      decimal.Decimal // cached: outstanding purchases
	CreatedAt      time.Time
}

// Transaction is a single ledger entry. CardID is nil for non-card
// transactions; InvoicePeriod is nil until the transaction is allocated.
type Transaction struct {
	ID                TransactionID
	Date              time.Time
	Amount            decimal.Decimal
	Description       string
	CardID            *CardID
	InvoicePeriod     *billing.InvoicePeriod
	InstallmentNumber int // 1-based index within an installment chain
	TotalInstallments int // 1 for single purchases
	Kind              Kind
	CreatedAt         time.Time
}

// IsOrphan reports whether a card purchase has no invoice period assigned.
func (t Transaction) IsOrphan() bool {
	return t.CardID != nil && t.Kind == KindPurchase && t.InvoicePeriod == nil
}

// =============================================================================
// RECONCILIATION RESULTS
// =============================================================================

// Mismatch is one allocation-audit finding: a transaction whose stored
// invoice period differs from the period its date and card dictate.
// It carries display metadata for operator review and is discarded after use.
type Mismatch struct {
	TransactionID TransactionID
	Description   string
	Amount        decimal.Decimal
	Date          time.Time
	CardID        CardID
	CardName      string
	ClosingDay    int
	DueDay        int
	Current       billing.InvoicePeriod
	Corrected     billing.InvoicePeriod
}

// CorrectionSummary reports the outcome of a batch allocation correction.
type CorrectionSummary struct {
	Corrected int
	Total     int
	Message   string
}

// OrphanBatch reports one bounded orphan-correction step. HasMore tells the
// caller whether another batch remains; the driving loop is caller-owned.
type OrphanBatch struct {
	Corrected int
	HasMore   bool
}

// CardValidation is the before/after record for one card's cached total.
type CardValidation struct {
	CardID          CardID
	CardName        string
	PreviousValue   decimal.Decimal
	NewValue        decimal.Decimal
	Difference      decimal.Decimal
	NeedsCorrection bool
}

// ValidationReport is the full output of an invoice-total validation pass.
type ValidationReport struct {
	Cards          []CardValidation
	TotalCorrected int
}

// =============================================================================
// STORE - persistence required by the engine and the API
// =============================================================================

// Store is the persistence surface the engine operates against.
// Implementations must make UpdateInvoicePeriod idempotent: writing the same
// period twice is a no-op.
type Store interface {
	// Cards
	SaveCard(ctx context.Context, card Card) error
	GetCard(ctx context.Context, id CardID) (*Card, error)
	ListCards(ctx context.Context) ([]Card, error)
	UpdateCardTotals(ctx context.Context, id CardID, currentInvoice, limitUsed decimal.Decimal) error

	// Transactions
	SaveTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListCardTransactions(ctx context.Context, cardID CardID) ([]Transaction, error)
	ListAllocatedByCard(ctx context.Context, cardID CardID) ([]Transaction, error)
	UpdateInvoicePeriod(ctx context.Context, id TransactionID, period billing.InvoicePeriod) error

	// Orphans
	CountOrphans(ctx context.Context) (int, error)
	ListOrphans(ctx context.Context, limit int) ([]Transaction, error)

	// Invoice settlement
	MarkInvoicePaid(ctx context.Context, cardID CardID, period billing.InvoicePeriod) error
	IsInvoicePaid(ctx context.Context, cardID CardID, period billing.InvoicePeriod) (bool, error)
	OpenInvoiceTotal(ctx context.Context, cardID CardID) (decimal.Decimal, error)

	// Reset clears all data (for demos and tests).
	Reset(ctx context.Context) error
}
