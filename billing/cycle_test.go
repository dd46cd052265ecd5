package billing_test

import (
	"testing"
	"time"

	"github.com/finvue/invoice-engine/billing"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// BOUNDARY RULE TESTS
// =============================================================================

func TestPeriodFor_BoundaryRule(t *testing.T) {
	tests := []struct {
		name       string
		date       time.Time
		closingDay int
		want       billing.InvoicePeriod
	}{
		{
			name:       "on closing day stays in own month",
			date:       date(2024, time.March, 3),
			closingDay: 3,
			want:       billing.InvoicePeriod{Month: time.March, Year: 2024},
		},
		{
			name:       "day after closing day rolls to next month",
			date:       date(2024, time.March, 4),
			closingDay: 3,
			want:       billing.InvoicePeriod{Month: time.April, Year: 2024},
		},
		{
			name:       "well before closing day",
			date:       date(2024, time.July, 10),
			closingDay: 25,
			want:       billing.InvoicePeriod{Month: time.July, Year: 2024},
		},
		{
			name:       "december rollover crosses the year",
			date:       date(2024, time.December, 31),
			closingDay: 25,
			want:       billing.InvoicePeriod{Month: time.January, Year: 2025},
		},
		{
			name:       "december on closing day stays in december",
			date:       date(2024, time.December, 25),
			closingDay: 25,
			want:       billing.InvoicePeriod{Month: time.December, Year: 2024},
		},
		{
			name:       "first of month with closing day 1",
			date:       date(2024, time.May, 1),
			closingDay: 1,
			want:       billing.InvoicePeriod{Month: time.May, Year: 2024},
		},
		{
			name:       "second of month with closing day 1",
			date:       date(2024, time.May, 2),
			closingDay: 1,
			want:       billing.InvoicePeriod{Month: time.June, Year: 2024},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.PeriodFor(tt.date, tt.closingDay)
			if !got.Equal(tt.want) {
				t.Errorf("PeriodFor(%s, %d) = %s, want %s",
					tt.date.Format("2006-01-02"), tt.closingDay, got, tt.want)
			}
		})
	}
}

// =============================================================================
// SHORT MONTH TESTS
// =============================================================================

func TestPeriodFor_ShortMonths(t *testing.T) {
	tests := []struct {
		name       string
		date       time.Time
		closingDay int
		want       billing.InvoicePeriod
	}{
		{
			name:       "feb 28 non-leap with closing day 30 stays in february",
			date:       date(2023, time.February, 28),
			closingDay: 30,
			want:       billing.InvoicePeriod{Month: time.February, Year: 2023},
		},
		{
			name:       "feb 28 leap year with closing day 29 stays in february",
			date:       date(2024, time.February, 28),
			closingDay: 29,
			want:       billing.InvoicePeriod{Month: time.February, Year: 2024},
		},
		{
			name:       "feb 29 leap year with closing day 31 stays in february",
			date:       date(2024, time.February, 29),
			closingDay: 31,
			want:       billing.InvoicePeriod{Month: time.February, Year: 2024},
		},
		{
			name:       "apr 30 with closing day 31 stays in april",
			date:       date(2024, time.April, 30),
			closingDay: 31,
			want:       billing.InvoicePeriod{Month: time.April, Year: 2024},
		},
		{
			name:       "clamping does not affect earlier days",
			date:       date(2023, time.February, 27),
			closingDay: 30,
			want:       billing.InvoicePeriod{Month: time.February, Year: 2023},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.PeriodFor(tt.date, tt.closingDay)
			if !got.Equal(tt.want) {
				t.Errorf("PeriodFor(%s, %d) = %s, want %s",
					tt.date.Format("2006-01-02"), tt.closingDay, got, tt.want)
			}
		})
	}
}

// =============================================================================
// DETERMINISM AND PERIOD ARITHMETIC
// =============================================================================

func TestPeriodFor_Deterministic(t *testing.T) {
	for day := 1; day <= 31; day++ {
		for closing := 1; closing <= 31; closing++ {
			d := date(2024, time.January, day)
			first := billing.PeriodFor(d, closing)
			second := billing.PeriodFor(d, closing)
			if !first.Equal(second) {
				t.Fatalf("PeriodFor not deterministic for day=%d closing=%d: %s vs %s",
					day, closing, first, second)
			}
		}
	}
}

func TestInvoicePeriod_Next(t *testing.T) {
	p := billing.InvoicePeriod{Month: time.November, Year: 2024}
	p = p.Next()
	if !p.Equal(billing.InvoicePeriod{Month: time.December, Year: 2024}) {
		t.Errorf("Next() from November = %s", p)
	}
	p = p.Next()
	if !p.Equal(billing.InvoicePeriod{Month: time.January, Year: 2025}) {
		t.Errorf("Next() from December = %s, want 2025-01", p)
	}
}

func TestInvoicePeriod_String(t *testing.T) {
	p := billing.InvoicePeriod{Month: time.March, Year: 2024}
	if p.String() != "2024-03" {
		t.Errorf("String() = %q, want %q", p.String(), "2024-03")
	}
}

func TestLastDayOfMonth(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2023, time.February, 28},
		{2024, time.February, 29},
		{2024, time.April, 30},
		{2024, time.December, 31},
	}
	for _, tt := range tests {
		if got := billing.LastDayOfMonth(tt.year, tt.month); got != tt.want {
			t.Errorf("LastDayOfMonth(%d, %s) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}
