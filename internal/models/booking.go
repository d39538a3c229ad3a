package models

import (
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookingRecord is one consume/open booking made from the kiosk.
// Records sharing a TransactionID were posted by the same user action.
type BookingRecord struct {
	ID            string    `json:"id" gorm:"type:uuid;primaryKey"`
	SessionID     string    `json:"session_id" gorm:"type:uuid;index"`
	TransactionID string    `json:"transaction_id" gorm:"type:varchar(64);not null;index"`
	BookingID     int       `json:"booking_id" gorm:"not null"` // Grocy stock_log id
	ProductID     int       `json:"product_id" gorm:"not null;index"`
	StockEntryID  string    `json:"stock_entry_id" gorm:"type:varchar(64)"`
	Amount        float64   `json:"amount" gorm:"type:decimal(12,4);not null"`
	Open          bool      `json:"open" gorm:"default:false"`
	Undone        bool      `json:"undone" gorm:"default:false;index"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (BookingRecord) TableName() string {
	return "kiosk_bookings"
}

// BeforeCreate generates the UUID
func (b *BookingRecord) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// AutoMigrate creates the kiosk tables
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&BookingRecord{}); err != nil {
		log.Printf("❌ AutoMigrate for BookingRecord failed: %v", err)
		return err
	}
	log.Println("✅ kiosk_bookings table migrated successfully")
	return nil
}
