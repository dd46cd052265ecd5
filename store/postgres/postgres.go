// Package postgres provides a PostgreSQL-backed implementation of
// invoice.Store. Semantics match store/sqlite; concurrency control is left
// to the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/finvue/invoice-engine/billing"
	"github.com/finvue/invoice-engine/invoice"
)

// Store implements invoice.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a connection with the given DSN and ensures the schema exists.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
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

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		closing_day INTEGER NOT NULL CHECK (closing_day BETWEEN 1 AND 31),
		due_day INTEGER NOT NULL,
		credit_limit NUMERIC(18,2) NOT NULL,
		current_invoice NUMERIC(18,2) NOT NULL,
		limit_used NUMERIC(18,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TIMESTAMPTZ NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		description TEXT,
		card_id TEXT REFERENCES cards(id),
		invoice_month INTEGER,
		invoice_year INTEGER,
		installment_number INTEGER NOT NULL DEFAULT 1,
		total_installments INTEGER NOT NULL DEFAULT 1,
		kind TEXT NOT NULL DEFAULT 'purchase',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_card_period
		ON transactions(card_id, invoice_year, invoice_month);
	CREATE INDEX IF NOT EXISTS idx_transactions_orphans
		ON transactions(date, id)
		WHERE card_id IS NOT NULL AND invoice_month IS NULL AND kind = 'purchase';

	CREATE TABLE IF NOT EXISTS paid_invoices (
		card_id TEXT NOT NULL REFERENCES cards(id),
		invoice_year INTEGER NOT NULL,
		invoice_month INTEGER NOT NULL,
		paid_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (card_id, invoice_year, invoice_month)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CARD STORE
// =============================================================================

func (s *Store) SaveCard(ctx context.Context, card invoice.Card) error {
	const query = `
		INSERT INTO cards (id, name, closing_day, due_day, credit_limit, current_invoice, limit_used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			closing_day = EXCLUDED.closing_day,
			due_day = EXCLUDED.due_day,
			credit_limit = EXCLUDED.credit_limit,
			current_invoice = EXCLUDED.current_invoice,
			limit_used = EXCLUDED.limit_used
	`

	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, query,
		card.ID, card.Name, card.ClosingDay, card.DueDay,
		card.CreditLimit, card.CurrentInvoice, card.LimitUsed, createdAt)
	return err
}

func (s *Store) GetCard(ctx context.Context, id invoice.CardID) (*invoice.Card, error) {
	const query = `
		SELECT id, name, closing_day, due_day, credit_limit, current_invoice, limit_used, created_at
		FROM cards WHERE id = $1
	`

	var card invoice.Card
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&card.ID, &card.Name, &card.ClosingDay, &card.DueDay,
		&card.CreditLimit, &card.CurrentInvoice, &card.LimitUsed, &card.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &card, nil
}

func (s *Store) ListCards(ctx context.Context) ([]invoice.Card, error) {
	const query = `
		SELECT id, name, closing_day, due_day, credit_limit, current_invoice, limit_used, created_at
		FROM cards ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []invoice.Card
	for rows.Next() {
		var card invoice.Card
		if err := rows.Scan(
			&card.ID, &card.Name, &card.ClosingDay, &card.DueDay,
			&card.CreditLimit, &card.CurrentInvoice, &card.LimitUsed, &card.CreatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (s *Store) UpdateCardTotals(ctx context.Context, id invoice.CardID, currentInvoice, limitUsed decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cards SET current_invoice = $1, limit_used = $2 WHERE id = $3",
		currentInvoice, limitUsed, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return invoice.ErrCardNotFound
	}
	return nil
}

// =============================================================================
// TRANSACTION STORE
// =============================================================================

const transactionColumns = `id, date, amount, description, card_id, invoice_month, invoice_year,
	installment_number, total_installments, kind, created_at`

func (s *Store) SaveTransaction(ctx context.Context, tx invoice.Transaction) error {
	const query = `
		INSERT INTO transactions
		(id, date, amount, description, card_id, invoice_month, invoice_year,
		 installment_number, total_installments, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			amount = EXCLUDED.amount,
			description = EXCLUDED.description,
			invoice_month = EXCLUDED.invoice_month,
			invoice_year = EXCLUDED.invoice_year
	`

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

	_, err := s.db.ExecContext(ctx, query,
		tx.ID, tx.Date, tx.Amount, tx.Description, cardID,
		invoiceMonth, invoiceYear,
		tx.InstallmentNumber, tx.TotalInstallments, kind, createdAt)
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id invoice.TransactionID) (*invoice.Transaction, error) {
	txs, err := s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) ListCardTransactions(ctx context.Context, cardID invoice.CardID) ([]invoice.Transaction, error) {
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE card_id = $1 ORDER BY date ASC, id ASC",
		cardID)
}

func (s *Store) ListAllocatedByCard(ctx context.Context, cardID invoice.CardID) ([]invoice.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE card_id = $1 AND kind = 'purchase' AND invoice_month IS NOT NULL
		ORDER BY date ASC, id ASC
	`
	return s.queryTransactions(ctx, query, cardID)
}

func (s *Store) UpdateInvoicePeriod(ctx context.Context, id invoice.TransactionID, period billing.InvoicePeriod) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET invoice_month = $1, invoice_year = $2 WHERE id = $3",
		int(period.Month), period.Year, id)
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

func (s *Store) CountOrphans(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE "+orphanPredicate).Scan(&count)
	return count, err
}

func (s *Store) ListOrphans(ctx context.Context, limit int) ([]invoice.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ` + orphanPredicate + `
		ORDER BY date ASC, id ASC
		LIMIT $1
	`
	return s.queryTransactions(ctx, query, limit)
}

// =============================================================================
// INVOICE SETTLEMENT
// =============================================================================

func (s *Store) MarkInvoicePaid(ctx context.Context, cardID invoice.CardID, period billing.InvoicePeriod) error {
	const query = `
		INSERT INTO paid_invoices (card_id, invoice_year, invoice_month, paid_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (card_id, invoice_year, invoice_month) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, cardID, period.Year, int(period.Month), time.Now().UTC())
	return err
}

func (s *Store) IsInvoicePaid(ctx context.Context, cardID invoice.CardID, period billing.InvoicePeriod) (bool, error) {
	const query = `
		SELECT 1 FROM paid_invoices
		WHERE card_id = $1 AND invoice_year = $2 AND invoice_month = $3
		LIMIT 1
	`

	var exists int
	err := s.db.QueryRowContext(ctx, query, cardID, period.Year, int(period.Month)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) OpenInvoiceTotal(ctx context.Context, cardID invoice.CardID) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM transactions t
		WHERE t.card_id = $1 AND t.kind = 'purchase' AND t.invoice_month IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM paid_invoices p
			WHERE p.card_id = t.card_id
			  AND p.invoice_year = t.invoice_year
			  AND p.invoice_month = t.invoice_month
		  )
	`

	// NUMERIC sums are exact in Postgres, unlike SQLite's float aggregation.
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, query, cardID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"paid_invoices", "transactions", "cards"} {
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
		var (
			tx                        invoice.Transaction
			description, cardID       sql.NullString
			invoiceMonth, invoiceYear sql.NullInt64
		)
		if err := rows.Scan(
			&tx.ID, &tx.Date, &tx.Amount, &description, &cardID,
			&invoiceMonth, &invoiceYear,
			&tx.InstallmentNumber, &tx.TotalInstallments, &tx.Kind, &tx.CreatedAt); err != nil {
			return nil, err
		}

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
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}
