/*
Package billing implements credit-card billing-cycle arithmetic.

PURPOSE:
  Maps a transaction date and a card's closing day to the invoice period
  (month + year) the transaction bills into. This is the single source of
  truth for allocation: posting, auditing, and orphan correction all call
  PeriodFor so they can never disagree with each other.

RULE:
  A purchase on or before the closing day bills into the current month.
  A purchase after the closing day rolls into the next month (next year
  when the purchase month is December).

SHORT MONTHS:
  A nominal closing day that does not exist in the purchase month (e.g.
  closing day 30 in February) clamps to the month's last day, so a purchase
  on the last day of a short month never rolls forward just because the
  configured day was missing from the calendar.

SEE ALSO:
  - invoice/audit.go: compares stored periods against PeriodFor
  - invoice/orphans.go: assigns periods to unallocated transactions
*/
package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// INVOICE PERIOD - The (month, year) bucket a card transaction bills into
// =============================================================================

// InvoicePeriod identifies one monthly invoice of a card.
type InvoicePeriod struct {
	Month time.Month
	Year  int
}

// Next returns the following calendar month's period.
func (p InvoicePeriod) Next() InvoicePeriod {
	if p.Month == time.December {
		return InvoicePeriod{Month: time.January, Year: p.Year + 1}
	}
	return InvoicePeriod{Month: p.Month + 1, Year: p.Year}
}

// Equal reports whether two periods identify the same invoice month.
func (p InvoicePeriod) Equal(other InvoicePeriod) bool {
	return p.Month == other.Month && p.Year == other.Year
}

// String formats the period as YYYY-MM.
func (p InvoicePeriod) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// =============================================================================
// CYCLE CALCULATOR
// =============================================================================

// LastDayOfMonth returns the number of days in the given month.
func LastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// PeriodFor computes the invoice period for a transaction date given the
// card's closing day. Pure and deterministic: no clock, no I/O.
func PeriodFor(date time.Time, closingDay int) InvoicePeriod {
	current := InvoicePeriod{Month: date.Month(), Year: date.Year()}

	effectiveClosing := closingDay
	if last := LastDayOfMonth(date.Year(), date.Month()); closingDay > last {
		effectiveClosing = last
	}

	if date.Day() <= effectiveClosing {
		return current
	}
	return current.Next()
}
