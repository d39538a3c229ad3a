package services

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ssiegel/grocy-station/internal/models"
)

// Allot distributes amount stock units over the lots in list order (the order Grocy
// would consume them in) and writes the result to each lot's AmountAllotted.
// Lots before startIndex, and open lots when skipOpen is set, get nothing.
// It reports whether the whole amount could be allotted; an amount that is not
// finite or not positive is never valid and leaves every allotment at 0.
func Allot(entries []models.StockEntry, amount float64, skipOpen bool, startIndex int) bool {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		for i := range entries {
			entries[i].AmountAllotted = 0
		}
		return false
	}

	remaining := decimal.NewFromFloat(amount)
	for i := range entries {
		entry := &entries[i]
		if i < startIndex || (skipOpen && entry.IsOpen()) {
			entry.AmountAllotted = 0
			continue
		}
		available := lotAmount(entry.Amount)
		allotted := decimal.Min(available, remaining)
		entry.AmountAllotted = allotted.InexactFloat64()
		remaining = remaining.Sub(allotted)
	}
	return remaining.IsZero()
}

func lotAmount(amount float64) decimal.Decimal {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(amount)
}

// NeedsOpenConfirmation reports whether the current allotment would take from a lot
// that is already open, which an "open" action must not do without confirmation.
func NeedsOpenConfirmation(entries []models.StockEntry) bool {
	for _, entry := range entries {
		if entry.IsOpen() && entry.AmountAllotted != 0 {
			return true
		}
	}
	return false
}

// FirstUnopenedIndex returns the index of the first lot that is not open, or len(entries)
func FirstUnopenedIndex(entries []models.StockEntry) int {
	for i, entry := range entries {
		if !entry.IsOpen() {
			return i
		}
	}
	return len(entries)
}

// AllottedEntries returns copies of the lots that take part in the current allotment
func AllottedEntries(entries []models.StockEntry) []models.StockEntry {
	var allotted []models.StockEntry
	for _, entry := range entries {
		if entry.AmountAllotted != 0 {
			allotted = append(allotted, entry)
		}
	}
	return allotted
}

// AllottedTotal sums the allotment of all lots
func AllottedTotal(entries []models.StockEntry) float64 {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(decimal.NewFromFloat(entry.AmountAllotted))
	}
	return total.InexactFloat64()
}
