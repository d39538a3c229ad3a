package api

import (
	"context"
	"log"
	"strings"
	"unicode"
)

// ScanSink receives scans and feed status; *services.Station implements it.
// StartScan must claim the scan before returning so that scans supersede each
// other in arrival order.
type ScanSink interface {
	StartScan(ctx context.Context, code string)
	ShowError(message string, autoRevert bool)
	Ready()
}

// ScanFeed delivers scanner payloads to a sink until ctx is done
type ScanFeed interface {
	Run(ctx context.Context) error
	Connected() bool
	Name() string
}

const groupSeparator = "\x1d"

// NormalizeBarcode turns a raw scanner payload into the code Grocy knows the product by.
// GTINs (plain or inside GS1 data) lose their padding zeros the same way Grocy stores them,
// grcy: codes get their slashes replaced. Anything else is not a Grocy code.
func NormalizeBarcode(payload []byte) (string, bool) {
	value := strings.TrimFunc(string(payload), unicode.IsSpace)
	aim := ""
	if strings.HasPrefix(value, "]") && len(value) >= 3 {
		aim, value = value[:3], value[3:]
	}
	if value == "" {
		return "", false
	}

	if gtin, ok := extractGTIN(aim, value); ok {
		return trimGTIN(gtin), true
	}
	if strings.HasPrefix(value, "grcy:") {
		return strings.ReplaceAll(value, "/", "⁄"), true
	}
	return "", false
}

// extractGTIN finds a GTIN in a plain EAN/UPC code or in GS1 application identifier 01
func extractGTIN(aim, value string) (string, bool) {
	switch aim {
	case "]C1", "]e0", "]d2", "]Q3", "]J1":
		value = strings.TrimPrefix(value, groupSeparator)
		if len(value) >= 16 && value[:2] == "01" && isDigits(value[2:16]) {
			return value[2:16], true
		}
		return "", false
	}
	if strings.HasPrefix(value, "(01)") && len(value) >= 18 && isDigits(value[4:18]) {
		return value[4:18], true
	}
	switch len(value) {
	case 8, 12, 13, 14:
		if isDigits(value) {
			return strings.Repeat("0", 14-len(value)) + value, true
		}
	}
	return "", false
}

// trimGTIN drops six leading zeros of an EAN-8 and one of everything else
func trimGTIN(gtin string) string {
	zeros := len(gtin) - len(strings.TrimLeft(gtin, "0"))
	switch {
	case zeros >= 6:
		return gtin[6:]
	case zeros >= 1:
		return gtin[1:]
	}
	return gtin
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// dispatchScan normalizes a payload and hands it to the sink. It runs on the feed's
// delivery goroutine and returns once the sink has claimed the scan.
func dispatchScan(ctx context.Context, sink ScanSink, source string, payload []byte) {
	code, ok := NormalizeBarcode(payload)
	if !ok {
		log.Printf("⚠️ %s: ignoring non-Grocy payload %q", source, payload)
		return
	}
	sink.StartScan(ctx, code)
}
