/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - invoice/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/finvue/invoice-engine/billing"
	"github.com/finvue/invoice-engine/invoice"
)

// =============================================================================
// CARD TYPES
// =============================================================================

// CardDTO represents a card in API responses. Money fields are decimal
// strings to avoid float rounding on the wire.
type CardDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ClosingDay     int    `json:"closing_day"`
	DueDay         int    `json:"due_day"`
	CreditLimit    string `json:"credit_limit"`
	CurrentInvoice string `json:"current_invoice"`
	LimitUsed      string `json:"limit_used"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateCardRequest is the request to create a card.
type CreateCardRequest struct {
	Name        string `json:"name"`
	ClosingDay  int    `json:"closing_day"`
	DueDay      int    `json:"due_day"`
	CreditLimit string `json:"credit_limit"`
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID                string `json:"id"`
	Date              string `json:"date"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	CardID            string `json:"card_id,omitempty"`
	InvoiceMonth      *int   `json:"invoice_month,omitempty"`
	InvoiceYear       *int   `json:"invoice_year,omitempty"`
	InstallmentNumber int    `json:"installment_number"`
	TotalInstallments int    `json:"total_installments"`
	Kind              string `json:"kind"`
}

// CreateTransactionRequest posts a purchase. Installments > 1 expands into
// one transaction per month starting at the purchase date.
type CreateTransactionRequest struct {
	Date         string `json:"date"` // YYYY-MM-DD
	Amount       string `json:"amount"`
	Description  string `json:"description"`
	CardID       string `json:"card_id,omitempty"`
	Installments int    `json:"installments,omitempty"`
}

// =============================================================================
// RECONCILIATION TYPES
// =============================================================================

// MismatchDTO is one allocation-preview row.
type MismatchDTO struct {
	TransactionID string `json:"transaction_id"`
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	CardName      string `json:"card_name"`
	ClosingDay    int    `json:"closing_day"`
	DueDay        int    `json:"due_day"`
	CurrentMonth  int    `json:"current_month"`
	CurrentYear   int    `json:"current_year"`
	CorrectMonth  int    `json:"correct_month"`
	CorrectYear   int    `json:"correct_year"`
}

// CorrectionResponseDTO reports a batch allocation correction.
type CorrectionResponseDTO struct {
	Corrected int    `json:"corrected"`
	Total     int    `json:"total"`
	Message   string `json:"message"`
}

// OrphanCountDTO reports how many orphans remain.
type OrphanCountDTO struct {
	OrphanCount int `json:"orphan_count"`
}

// OrphanCorrectRequest sizes one orphan-correction batch.
type OrphanCorrectRequest struct {
	BatchSize int `json:"batch_size"`
}

// OrphanCorrectResponseDTO reports one orphan-correction batch.
type OrphanCorrectResponseDTO struct {
	Corrected int  `json:"corrected"`
	HasMore   bool `json:"has_more"`
}

// CardValidationDTO is one card's row in the validation report.
type CardValidationDTO struct {
	CardID          string `json:"card_id"`
	CardName        string `json:"card_name"`
	PreviousValue   string `json:"previous_value"`
	NewValue        string `json:"new_value"`
	Difference      string `json:"difference"`
	NeedsCorrection bool   `json:"needs_correction"`
}

// ValidationResponseDTO is the full validation report.
type ValidationResponseDTO struct {
	Cards          []CardValidationDTO `json:"cards"`
	TotalCorrected int                 `json:"total_corrected"`
}

// =============================================================================
// SCENARIO TYPES
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSION
// =============================================================================

func toCardDTO(c invoice.Card) CardDTO {
	return CardDTO{
		ID:             string(c.ID),
		Name:           c.Name,
		ClosingDay:     c.ClosingDay,
		DueDay:         c.DueDay,
		CreditLimit:    c.CreditLimit.String(),
		CurrentInvoice: c.CurrentInvoice.String(),
		LimitUsed:      c.LimitUsed.String(),
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(t invoice.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                string(t.ID),
		Date:              t.Date.Format("2006-01-02"),
		Amount:            t.Amount.String(),
		Description:       t.Description,
		InstallmentNumber: t.InstallmentNumber,
		TotalInstallments: t.TotalInstallments,
		Kind:              string(t.Kind),
	}
	if t.CardID != nil {
		dto.CardID = string(*t.CardID)
	}
	if t.InvoicePeriod != nil {
		m := int(t.InvoicePeriod.Month)
		y := t.InvoicePeriod.Year
		dto.InvoiceMonth = &m
		dto.InvoiceYear = &y
	}
	return dto
}

func toMismatchDTO(m invoice.Mismatch) MismatchDTO {
	return MismatchDTO{
		TransactionID: string(m.TransactionID),
		Description:   m.Description,
		Amount:        m.Amount.String(),
		Date:          m.Date.Format("2006-01-02"),
		CardName:      m.CardName,
		ClosingDay:    m.ClosingDay,
		DueDay:        m.DueDay,
		CurrentMonth:  int(m.Current.Month),
		CurrentYear:   m.Current.Year,
		CorrectMonth:  int(m.Corrected.Month),
		CorrectYear:   m.Corrected.Year,
	}
}

func periodOf(month, year int) billing.InvoicePeriod {
	return billing.InvoicePeriod{Month: time.Month(month), Year: year}
}
