package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var packagingLinePattern = regexp.MustCompile(`^(\d+)(?:/(\d+))?\s+(.*)$`)

// PackagingLine is one "numerator[/denominator] name" declaration from a barcode's
// packaging_units userfield. 12 bottles per crate on a bottle barcode reads "12 Crate".
type PackagingLine struct {
	Numerator   float64
	Denominator float64
	Name        string
}

// Ratio is the size of the declared unit relative to the barcode's own amount
func (l PackagingLine) Ratio() float64 {
	return l.Numerator / l.Denominator
}

// ParsePackagingLines parses the packaging_units userfield.
// Lines that do not match, and ratios that are zero or not finite, are skipped.
func ParsePackagingLines(text string) []PackagingLine {
	var lines []PackagingLine
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSuffix(raw, "\r")
		match := packagingLinePattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		numerator, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		denominator := 1.0
		if match[2] != "" {
			if denominator, err = strconv.ParseFloat(match[2], 64); err != nil {
				continue
			}
		}
		parsed := PackagingLine{Numerator: numerator, Denominator: denominator, Name: match[3]}
		if ratio := parsed.Ratio(); math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
			continue
		}
		lines = append(lines, parsed)
	}
	return lines
}
