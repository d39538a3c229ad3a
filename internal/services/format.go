package services

import (
	"math"
	"strconv"

	"github.com/ssiegel/grocy-station/internal/models"
)

const neverDueDate = "2999-12-31"

// FormatDate renders a Grocy date, which uses 2999-12-31 for "never due"
func FormatDate(date string) string {
	switch date {
	case "":
		return "unknown"
	case neverDueDate:
		return "never"
	}
	return date
}

// FormatUnit renders a unit by its symbol, falling back to its name
func FormatUnit(units UnitLookup, unitID int) string {
	if units == nil {
		return ""
	}
	unit, ok := units.GetCached(unitID)
	if !ok {
		return ""
	}
	if symbol := unit.Symbol(); symbol != "" {
		return symbol
	}
	return unit.Name
}

// FormatNumber renders amount with at most 5 significant digits and no grouping,
// followed by the unit label when the unit is cached.
func FormatNumber(amount float64, units UnitLookup, unitID int) string {
	formatted := formatSignificant(amount, 5)
	if units == nil {
		return formatted
	}
	unit, ok := units.GetCached(unitID)
	if !ok {
		return formatted
	}
	return formatted + " " + unitLabel(unit, amount)
}

func unitLabel(unit models.QuantityUnit, amount float64) string {
	if symbol := unit.Symbol(); symbol != "" {
		return symbol
	}
	if unit.NamePlural != "" && math.Abs(amount-1.0) >= 1e-6 {
		return unit.NamePlural
	}
	return unit.Name
}

func formatSignificant(amount float64, digits int) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return strconv.FormatFloat(amount, 'f', -1, 64)
	}
	// round through scientific notation, then print without exponent
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(amount, 'e', digits-1, 64), 64)
	if err != nil {
		rounded = amount
	}
	if rounded == 0 {
		return "0"
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
