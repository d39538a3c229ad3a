package services

import (
	"math"
	"testing"
)

func TestFormatDate(t *testing.T) {
	tests := map[string]string{
		"":           "unknown",
		"2999-12-31": "never",
		"2025-03-01": "2025-03-01",
	}
	for in, want := range tests {
		if got := FormatDate(in); got != want {
			t.Errorf("FormatDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		amount float64
		unitID int
		want   string
	}{
		{1, 2, "1 Piece"},
		{2, 2, "2 Pieces"},
		{0.5, 2, "0.5 Pieces"},
		{1.0000001, 2, "1 Piece"},
		{250, 1, "250 g"},
		{1, 1, "1 g"},
		{1.234567, 1, "1.2346 g"},
		{123456, 1, "123460 g"},
		{0.000123456, 1, "0.00012346 g"},
		{3, 99, "3"},
		{0, 2, "0 Pieces"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.amount, testUnits, tt.unitID); got != tt.want {
			t.Errorf("FormatNumber(%v, %d) = %q, want %q", tt.amount, tt.unitID, got, tt.want)
		}
	}
}

func TestFormatNumberNotFinite(t *testing.T) {
	if got := FormatNumber(math.NaN(), nil, 0); got != "NaN" {
		t.Errorf("got %q", got)
	}
}

func TestFormatUnit(t *testing.T) {
	if got := FormatUnit(testUnits, 1); got != "g" {
		t.Errorf("symbol: got %q", got)
	}
	if got := FormatUnit(testUnits, 3); got != "Pack" {
		t.Errorf("name: got %q", got)
	}
	if got := FormatUnit(testUnits, 42); got != "" {
		t.Errorf("unknown: got %q", got)
	}
}
