package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ssiegel/grocy-station/internal/models"
)

// BookingJournal remembers the bookings made from the kiosk so the last action can be undone
type BookingJournal interface {
	Record(ctx context.Context, records []models.BookingRecord) error
	// LastTransaction returns the bookings of the newest transaction that are not undone
	LastTransaction(ctx context.Context) ([]models.BookingRecord, error)
	// MarkUndone flags a single record, so a partly undone transaction resumes where it failed
	MarkUndone(ctx context.Context, recordID string) error
}

// GormBookingJournal stores bookings in PostgreSQL
type GormBookingJournal struct {
	db *gorm.DB
}

func NewGormBookingJournal(db *gorm.DB) *GormBookingJournal {
	return &GormBookingJournal{db: db}
}

func (j *GormBookingJournal) Record(ctx context.Context, records []models.BookingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := j.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to record bookings: %w", err)
	}
	return nil
}

func (j *GormBookingJournal) LastTransaction(ctx context.Context) ([]models.BookingRecord, error) {
	var last models.BookingRecord
	err := j.db.WithContext(ctx).
		Where("undone = ?", false).
		Order("created_at DESC").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNothingToUndo
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last booking: %w", err)
	}

	var records []models.BookingRecord
	if err := j.db.WithContext(ctx).
		Where("transaction_id = ? AND undone = ?", last.TransactionID, false).
		Order("booking_id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", last.TransactionID, err)
	}
	return records, nil
}

func (j *GormBookingJournal) MarkUndone(ctx context.Context, recordID string) error {
	if err := j.db.WithContext(ctx).Model(&models.BookingRecord{}).
		Where("id = ?", recordID).
		Update("undone", true).Error; err != nil {
		return fmt.Errorf("failed to mark booking record %s undone: %w", recordID, err)
	}
	return nil
}

// MemoryBookingJournal keeps bookings in process memory, used when no database is configured
type MemoryBookingJournal struct {
	mu      sync.Mutex
	records []models.BookingRecord
}

func NewMemoryBookingJournal() *MemoryBookingJournal {
	return &MemoryBookingJournal{}
}

func (j *MemoryBookingJournal) Record(ctx context.Context, records []models.BookingRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		j.records = append(j.records, r)
	}
	return nil
}

func (j *MemoryBookingJournal) LastTransaction(ctx context.Context) ([]models.BookingRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.records) - 1; i >= 0; i-- {
		if j.records[i].Undone {
			continue
		}
		txID := j.records[i].TransactionID
		var tx []models.BookingRecord
		for _, r := range j.records {
			if r.TransactionID == txID && !r.Undone {
				tx = append(tx, r)
			}
		}
		return tx, nil
	}
	return nil, ErrNothingToUndo
}

func (j *MemoryBookingJournal) MarkUndone(ctx context.Context, recordID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.records {
		if j.records[i].ID == recordID {
			j.records[i].Undone = true
		}
	}
	return nil
}
