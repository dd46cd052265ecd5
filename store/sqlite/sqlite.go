/*
Package sqlite provides a SQLite-backed implementation of invoice.Store.

PURPOSE:
  Implements card and transaction persistence for the invoice reconciliation
  engine. In production the same patterns apply to PostgreSQL (see
  store/postgres) - only SQL dialect differences.

KEY TABLES:
  cards:          Billing configuration plus cached aggregates
  transactions:   Ledger entries; invoice_month/year NULL until allocated
  paid_invoices:  Settled (card, month, year) periods

INVARIANTS ENFORCED HERE:
  - UpdateInvoicePeriod is an absolute keyed write: re-applying the same
    period is a no-op, which is what makes batch correction retryable.
  - Orphan selection is ordered (date, id) so repeated bounded batches are
    deterministic and never re-select corrected rows.
  - Amounts are stored as decimal strings and summed in Go with
    shopspring/decimal; no floating-point aggregation in SQL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. With PostgreSQL, database-level
  concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL for better read concurrency and crash recovery.

USAGE:
  store, err := sqlite.New("./data/invoices.db")  // ":memory:" for tests
  if err != nil { log.Fatal(err) }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a versioned
  migration tool.

SEE ALSO:
  - invoice/types.go: Store interface definition
  - store/postgres: PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/finvue/invoice-engine/billing"
	"github.com/finvue/invoice-engine/invoice"
)

// Store implements invoice.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Cards (billing configuration + cached aggregates)
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		closing_day INTEGER NOT NULL CHECK (closing_day BETWEEN 1 AND 31),
		due_day INTEGER NOT NULL,
		credit_limit TEXT NOT NULL,
		current_invoice TEXT NOT NULL,
		limit_used TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Transactions (never deleted by the engine)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		card_id TEXT REFERENCES cards(id),
		invoice_month INTEGER,
		invoice_year INTEGER,
		installment_number INTEGER NOT NULL DEFAULT 1,
		total_installments INTEGER NOT NULL DEFAULT 1,
		kind TEXT NOT NULL DEFAULT 'purchase',
		created_at TEXT NOT NULL
	);

	-- Allocation queries (audit hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_card_period
		ON transactions(card_id, invoice_year, invoice_month);

	-- Orphan selection (bounded batches, oldest first)
	CREATE INDEX IF NOT EXISTS idx_transactions_orphans
		ON transactions(date, id)
		WHERE card_id IS NOT NULL AND invoice_month IS NULL AND kind = 'purchase';

	CREATE INDEX IF NOT EXISTS idx_transactions_card_date
		ON transactions(card_id, date);

	-- Settled invoice periods
	CREATE TABLE IF NOT EXISTS paid_invoices (
		card_id TEXT NOT NULL REFERENCES cards(id),
		invoice_year INTEGER NOT NULL,
		invoice_month INTEGER NOT NULL,
		paid_at TEXT NOT NULL,
		PRIMARY KEY (card_id, invoice_year, invoice_month)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CARD STORE
// =============================================================================

// SaveCard inserts or updates a card.
func (s *Store) SaveCard(ctx context.Context, card invoice.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO cards (id, name, closing_day, due_day, credit_limit, current_invoice, limit_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			closing_day = excluded.closing_day,
			due_day = excluded.due_day,
			credit_limit = excluded.credit_limit,
			current_invoice = excluded.current_invoice,
			limit_used = excluded.limit_used
	`

	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		card.ID, card.Name, card.ClosingDay, card.DueDay,
		card.CreditLimit.String(), card.CurrentInvoice.String(), card.LimitUsed.String(),
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetCard retrieves a card by ID. Returns (nil, nil) when absent.
func (s *Store) GetCard(ctx context.Context, id invoice.CardID) (*invoice.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, closing_day, due_day, credit_limit, current_invoice, limit_used, created_at FROM cards WHERE id = ?",
		id,
	)
	card, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns all cards.
func (s *Store) ListCards(ctx context.Context) ([]invoice.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, closing_day, due_day, credit_limit, current_invoice, limit_used, created_at FROM cards ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []invoice.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

// UpdateCardTotals overwrites a card's cached aggregates with absolute values.
func (s *Store) UpdateCardTotals(ctx context.Context, id invoice.CardID, currentInvoice, limitUsed decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE cards SET current_invoice = ?, limit_used = ? WHERE id = ?",
		currentInvoice.String(), limitUsed.String(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invoice.ErrCardNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*invoice.Card, error) {
	var (
		card                                   invoice.Card
		creditLimit, currentInvoice, limitUsed string
		createdAt                              string
	)

	err := row.Scan(&card.ID, &card.Name, &card.ClosingDay, &card.DueDay,
		&creditLimit, &currentInvoice, &limitUsed, &createdAt)
	if err != nil {
		return nil, err
	}

	card.CreditLimit = mustDecimal(creditLimit)
	card.CurrentInvoice = mustDecimal(currentInvoice)
	card.LimitUsed = mustDecimal(limitUsed)
	card.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &card, nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const transactionColumns = `id, date, amount, description, card_id, invoice_month, invoice_year,
	installment_number, total_installments, kind, created_at`

// SaveTransaction inserts or updates a transaction.
func (s *Store) SaveTransaction(ctx context.Context, tx invoice.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cardID *string
	if tx.CardID != nil {
		v := string(*tx.CardID)
		cardID = &v
	}

	var invoiceMonth, invoiceYear *int
	if tx.InvoicePeriod != nil {
		m := int(tx.InvoicePeriod.Month)
		y := tx.InvoicePeriod.Year
		invoiceMonth, invoiceYear = &m, &y
	}

	kind := tx.Kind
	if kind == "" {
		kind = invoice.KindPurchase
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions
		(id, date, amount, description, card_id, invoice_month, invoice_year,
		 installment_number, total_installments, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			amount = excluded.amount,
			description = excluded.description,
			invoice_month = excluded.invoice_month,
			invoice_year = excluded.invoice_year
	`

	_, err := s.db.ExecContext(ctx, query,
		tx.ID,
		tx.Date.Format(time.RFC3339),
		tx.Amount.String(),
		tx.Description,
		cardID,
		invoiceMonth,
		invoiceYear,
		tx.InstallmentNumber,
		tx.TotalInstallments,
		kind,
		createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction returns a transaction by ID. Returns (nil, nil) when absent.
func (s *Store) GetTransaction(ctx context.Context, id invoice.TransactionID) (*invoice.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// ListCardTransactions returns all transactions of a card, oldest first.
func (s *Store) ListCardTransactions(ctx context.Context, cardID invoice.CardID) ([]invoice.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE card_id = ? ORDER BY date ASC, id ASC",
		cardID)
}

// ListAllocatedByCard returns a card's purchase transactions that carry an
// invoice period (the audit's input set).
func (s *Store) ListAllocatedByCard(ctx context.Context, cardID invoice.CardID) ([]invoice.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE card_id = ? AND kind = 'purchase' AND invoice_month IS NOT NULL
		ORDER BY date ASC, id ASC
	`
	return s.queryTransactions(ctx, query, cardID)
}

// UpdateInvoicePeriod writes the invoice period of one transaction.
// Absolute values keyed by ID: re-applying the same period is a no-op.
func (s *Store) UpdateInvoicePeriod(ctx context.Context, id invoice.TransactionID, period billing.InvoicePeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET invoice_month = ?, invoice_year = ? WHERE id = ?",
		int(period.Month), period.Year, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice period: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invoice.ErrTransactionNotFound
	}
	return nil
}

// =============================================================================
// ORPHAN QUERIES
// =============================================================================

const orphanPredicate = "card_id IS NOT NULL AND kind = 'purchase' AND invoice_month IS NULL"

// CountOrphans counts card purchases with no invoice period.
func (s *Store) CountOrphans(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE "+orphanPredicate,
	).Scan(&count)
	return count, err
}

// ListOrphans returns up to limit orphans, oldest transaction date first.
func (s *Store) ListOrphans(ctx context.Context, limit int) ([]invoice.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ` + orphanPredicate + `
		ORDER BY date ASC, id ASC
		LIMIT ?
	`
	return s.queryTransactions(ctx, query, limit)
}

// =============================================================================
// INVOICE SETTLEMENT
// =============================================================================

// MarkInvoicePaid records a settled invoice period. Idempotent.
func (s *Store) MarkInvoicePaid(ctx context.Context, cardID invoice.CardID, period billing.InvoicePeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO paid_invoices (card_id, invoice_year, invoice_month, paid_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(card_id, invoice_year, invoice_month) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		cardID, period.Year, int(period.Month), time.Now().UTC().Format(time.RFC3339))
	return err
}

// IsInvoicePaid reports whether a period has been settled.
func (s *Store) IsInvoicePaid(ctx context.Context, cardID invoice.CardID, period billing.InvoicePeriod) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM paid_invoices WHERE card_id = ? AND invoice_year = ? AND invoice_month = ?",
		cardID, period.Year, int(period.Month),
	).Scan(&count)
	return count > 0, err
}

// OpenInvoiceTotal sums a card's allocated purchases in unpaid periods.
// Amounts are summed in Go to keep decimal precision exact.
func (s *Store) OpenInvoiceTotal(ctx context.Context, cardID invoice.CardID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT t.amount
		FROM transactions t
		WHERE t.card_id = ? AND t.kind = 'purchase' AND t.invoice_month IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM paid_invoices p
			WHERE p.card_id = t.card_id
			  AND p.invoice_year = t.invoice_year
			  AND p.invoice_month = t.invoice_month
		  )
	`

	rows, err := s.db.QueryContext(ctx, query, cardID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(mustDecimal(amount))
	}
	return total, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"paid_invoices", "transactions", "cards"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]invoice.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []invoice.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (invoice.Transaction, error) {
	var (
		tx                        invoice.Transaction
		date, amount, createdAt   string
		description, cardID       sql.NullString
		invoiceMonth, invoiceYear sql.NullInt64
	)

	err := rows.Scan(
		&tx.ID, &date, &amount, &description, &cardID,
		&invoiceMonth, &invoiceYear,
		&tx.InstallmentNumber, &tx.TotalInstallments, &tx.Kind, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.Date, _ = time.Parse(time.RFC3339, date)
	tx.Amount = mustDecimal(amount)
	tx.Description = description.String
	if cardID.Valid {
		id := invoice.CardID(cardID.String)
		tx.CardID = &id
	}
	if invoiceMonth.Valid && invoiceYear.Valid {
		tx.InvoicePeriod = &billing.InvoicePeriod{
			Month: time.Month(invoiceMonth.Int64),
			Year:  int(invoiceYear.Int64),
		}
	}
	tx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return tx, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
