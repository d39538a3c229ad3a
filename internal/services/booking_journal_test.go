package services

import (
	"context"
	"errors"
	"testing"

	"github.com/ssiegel/grocy-station/internal/models"
)

func TestMemoryBookingJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryBookingJournal()

	if _, err := j.LastTransaction(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("empty journal err = %v", err)
	}

	j.Record(ctx, []models.BookingRecord{
		{TransactionID: "t1", BookingID: 1},
		{TransactionID: "t1", BookingID: 2},
	})
	j.Record(ctx, []models.BookingRecord{{TransactionID: "t2", BookingID: 3}})

	last, err := j.LastTransaction(ctx)
	if err != nil || len(last) != 1 || last[0].BookingID != 3 || last[0].ID == "" {
		t.Fatalf("last = %+v, %v", last, err)
	}

	if err := j.MarkUndone(ctx, last[0].ID); err != nil {
		t.Fatalf("MarkUndone: %v", err)
	}
	last, err = j.LastTransaction(ctx)
	if err != nil || len(last) != 2 || last[0].BookingID != 1 || last[1].BookingID != 2 {
		t.Fatalf("after undo last = %+v, %v", last, err)
	}

	// a partly undone transaction only returns what is left
	if err := j.MarkUndone(ctx, last[1].ID); err != nil {
		t.Fatalf("MarkUndone: %v", err)
	}
	last, err = j.LastTransaction(ctx)
	if err != nil || len(last) != 1 || last[0].BookingID != 1 || last[0].TransactionID != "t1" {
		t.Fatalf("partly undone last = %+v, %v", last, err)
	}

	j.MarkUndone(ctx, last[0].ID)
	if _, err := j.LastTransaction(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("err = %v, want ErrNothingToUndo", err)
	}
}
