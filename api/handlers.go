/*
handlers.go - HTTP API handlers for the invoice reconciliation engine

PURPOSE:
  Exposes cards, purchase entry, invoice payment, and the administrative
  reconciliation operations via REST. Handles HTTP request/response and JSON
  serialization, and delegates to the domain engine.

ENDPOINTS:
  Cards:
    GET    /api/cards                    List all cards
    POST   /api/cards                    Create card
    GET    /api/cards/{id}               Get card
    GET    /api/cards/{id}/transactions  Card transaction history
    POST   /api/cards/{id}/invoices/{year}/{month}/pay  Settle an invoice

  Transactions:
    POST   /api/transactions             Post a purchase (installment-aware)
    GET    /api/transactions/{id}        Get transaction

  Admin:
    GET    /api/admin/allocation-preview   Mismatched allocations (read-only)
    POST   /api/admin/allocation-correct   Apply corrections in bulk
    GET    /api/admin/orphan-count         Unallocated purchase count
    POST   /api/admin/orphan-correct       Fix one bounded orphan batch
    POST   /api/admin/validate-invoices    Recompute cached card totals

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 500: Internal errors
  Partial write failures are recoverable by re-running the preview/count;
  see the engine's idempotence guarantees.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finvue/invoice-engine/billing"
	"github.com/finvue/invoice-engine/invoice"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  invoice.Store
	Engine *invoice.Engine
}

// NewHandler creates a new handler with the given store and engine.
func NewHandler(store invoice.Store, engine *invoice.Engine) *Handler {
	return &Handler{Store: store, Engine: engine}
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// ListCards returns all cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Store.ListCards(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cards", err)
		return
	}

	dtos := make([]CardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCard returns a single card.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id := invoice.CardID(chi.URLParam(r, "id"))

	card, err := h.Store.GetCard(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get card", err)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "Card not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toCardDTO(*card))
}

// CreateCard creates a new card.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}
	if req.ClosingDay < 1 || req.ClosingDay > 31 {
		writeError(w, http.StatusBadRequest, "Invalid closing day", invoice.ErrInvalidClosingDay)
		return
	}

	creditLimit, err := decimal.NewFromString(req.CreditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid credit_limit", err)
		return
	}

	card := invoice.Card{
		ID:             invoice.CardID(uuid.New().String()),
		Name:           req.Name,
		ClosingDay:     req.ClosingDay,
		DueDay:         req.DueDay,
		CreditLimit:    creditLimit,
		CurrentInvoice: decimal.Zero,
		LimitUsed:      decimal.Zero,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.Store.SaveCard(r.Context(), card); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create card", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCardDTO(card))
}

// GetCardTransactions returns a card's transaction history.
func (h *Handler) GetCardTransactions(w http.ResponseWriter, r *http.Request) {
	id := invoice.CardID(chi.URLParam(r, "id"))

	card, err := h.Store.GetCard(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get card", err)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "Card not found", nil)
		return
	}

	txs, err := h.Store.ListCardTransactions(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction posts a purchase. Card purchases get their invoice
// period assigned at posting time; installment purchases expand into one
// transaction per month, each carrying the per-installment amount. The
// card's cached totals are bumped incrementally here - the validator exists
// precisely because this incremental patching can drift.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	installments := req.Installments
	if installments < 1 {
		installments = 1
	}

	ctx := r.Context()

	// Non-card transaction: a plain ledger entry, never allocated.
	if req.CardID == "" {
		tx := invoice.Transaction{
			ID:                invoice.TransactionID(uuid.New().String()),
			Date:              date,
			Amount:            amount,
			Description:       req.Description,
			InstallmentNumber: 1,
			TotalInstallments: 1,
			Kind:              invoice.KindPurchase,
		}
		if err := h.Store.SaveTransaction(ctx, tx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create transaction", err)
			return
		}
		writeJSON(w, http.StatusCreated, []TransactionDTO{toTransactionDTO(tx)})
		return
	}

	cardID := invoice.CardID(req.CardID)
	card, err := h.Store.GetCard(ctx, cardID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get card", err)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "Card not found", nil)
		return
	}

	chainID := uuid.New().String()
	created := make([]TransactionDTO, 0, installments)
	added := decimal.Zero

	for i := 0; i < installments; i++ {
		installmentDate := date.AddDate(0, i, 0)
		period := billing.PeriodFor(installmentDate, card.ClosingDay)

		tx := invoice.Transaction{
			ID:                invoice.TransactionID(chainID + "-" + strconv.Itoa(i+1)),
			Date:              installmentDate,
			Amount:            amount,
			Description:       req.Description,
			CardID:            &cardID,
			InvoicePeriod:     &period,
			InstallmentNumber: i + 1,
			TotalInstallments: installments,
			Kind:              invoice.KindPurchase,
		}

		if err := h.Store.SaveTransaction(ctx, tx); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create transaction", err)
			return
		}
		created = append(created, toTransactionDTO(tx))
		added = added.Add(amount)
	}

	newCurrent := card.CurrentInvoice.Add(added)
	newUsed := card.LimitUsed.Add(added)
	if err := h.Store.UpdateCardTotals(ctx, cardID, newCurrent, newUsed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update card totals", err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := invoice.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// INVOICE PAYMENT
// =============================================================================

// PayInvoice settles one invoice period of a card: marks the period paid,
// posts an invoice_payment transaction for the audit trail, and decrements
// the cached totals by the period's purchase sum.
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cardID := invoice.CardID(chi.URLParam(r, "id"))

	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}
	period := periodOf(month, year)

	card, err := h.Store.GetCard(ctx, cardID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get card", err)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "Card not found", nil)
		return
	}

	paid, err := h.Store.IsInvoicePaid(ctx, cardID, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check invoice status", err)
		return
	}
	if paid {
		writeError(w, http.StatusConflict, "Invoice already paid", nil)
		return
	}

	txs, err := h.Store.ListAllocatedByCard(ctx, cardID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	total := decimal.Zero
	for _, tx := range txs {
		if tx.InvoicePeriod != nil && tx.InvoicePeriod.Equal(period) {
			total = total.Add(tx.Amount)
		}
	}

	if err := h.Store.MarkInvoicePaid(ctx, cardID, period); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to mark invoice paid", err)
		return
	}

	payment := invoice.Transaction{
		ID:                invoice.TransactionID(uuid.New().String()),
		Date:              time.Now().UTC(),
		Amount:            total,
		Description:       "Invoice payment " + period.String(),
		CardID:            &cardID,
		InvoicePeriod:     &period,
		InstallmentNumber: 1,
		TotalInstallments: 1,
		Kind:              invoice.KindInvoicePayment,
	}
	if err := h.Store.SaveTransaction(ctx, payment); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record payment", err)
		return
	}

	newCurrent := card.CurrentInvoice.Sub(total)
	newUsed := card.LimitUsed.Sub(total)
	if err := h.Store.UpdateCardTotals(ctx, cardID, newCurrent, newUsed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update card totals", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "paid",
		"card_id": string(cardID),
		"period":  period.String(),
		"total":   total.String(),
	})
}

// =============================================================================
// ADMIN RECONCILIATION HANDLERS
// =============================================================================

// AllocationPreview returns the current allocation mismatches.
// An empty array means the system is fully consistent.
func (h *Handler) AllocationPreview(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.Engine.PreviewAllocations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to preview allocations", err)
		return
	}

	dtos := make([]MismatchDTO, len(mismatches))
	for i, m := range mismatches {
		dtos[i] = toMismatchDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AllocationCorrect applies all pending allocation corrections.
func (h *Handler) AllocationCorrect(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.CorrectAllocations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to correct allocations", err)
		return
	}

	writeJSON(w, http.StatusOK, CorrectionResponseDTO{
		Corrected: summary.Corrected,
		Total:     summary.Total,
		Message:   summary.Message,
	})
}

// OrphanCount returns the number of unallocated card purchases.
func (h *Handler) OrphanCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.Engine.CountOrphans(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count orphans", err)
		return
	}

	writeJSON(w, http.StatusOK, OrphanCountDTO{OrphanCount: count})
}

// OrphanCorrect fixes one bounded batch of orphans. The client loops until
// has_more is false, awaiting each response before the next request.
func (h *Handler) OrphanCorrect(w http.ResponseWriter, r *http.Request) {
	var req OrphanCorrectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	batch, err := h.Engine.CorrectOrphans(r.Context(), req.BatchSize)
	if err != nil {
		if errors.Is(err, invoice.ErrInvalidBatchSize) {
			writeError(w, http.StatusBadRequest, "Invalid batch size", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to correct orphans", err)
		return
	}

	writeJSON(w, http.StatusOK, OrphanCorrectResponseDTO{
		Corrected: batch.Corrected,
		HasMore:   batch.HasMore,
	})
}

// ValidateInvoices recomputes every card's cached current-invoice total.
func (h *Handler) ValidateInvoices(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.ValidateInvoiceTotals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to validate invoices", err)
		return
	}

	dtos := make([]CardValidationDTO, len(report.Cards))
	for i, c := range report.Cards {
		dtos[i] = CardValidationDTO{
			CardID:          string(c.CardID),
			CardName:        c.CardName,
			PreviousValue:   c.PreviousValue.String(),
			NewValue:        c.NewValue.String(),
			Difference:      c.Difference.String(),
			NeedsCorrection: c.NeedsCorrection,
		}
	}

	writeJSON(w, http.StatusOK, ValidationResponseDTO{
		Cards:          dtos,
		TotalCorrected: report.TotalCorrected,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
