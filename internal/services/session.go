package services

import (
	"math"

	"github.com/google/uuid"

	"github.com/ssiegel/grocy-station/internal/models"
)

type StateKind string

const (
	StateInit    StateKind = "init"
	StateWaiting StateKind = "waiting"
	StateError   StateKind = "error"
	StateProduct StateKind = "product"
)

// State is one of InitState, WaitingState, ErrorState or ProductState.
// Transitions replace the state value, they never change its kind in place.
type State interface {
	Kind() StateKind
	sealed()
}

type InitState struct{}

type WaitingState struct {
	Message string
}

type ErrorState struct {
	Message    string
	AutoRevert bool
}

type ProductState struct {
	Session *Session
}

func (*InitState) Kind() StateKind    { return StateInit }
func (*WaitingState) Kind() StateKind { return StateWaiting }
func (*ErrorState) Kind() StateKind   { return StateError }
func (*ProductState) Kind() StateKind { return StateProduct }

func (*InitState) sealed()    {}
func (*WaitingState) sealed() {}
func (*ErrorState) sealed()   {}
func (*ProductState) sealed() {}

// Session is everything known about the scanned product. A new scan replaces it;
// stock and shopping list items are refreshed in place.
type Session struct {
	ID                uuid.UUID
	Barcode           models.ProductBarcode
	ProductDetails    models.ProductDetails
	ProductGroup      *models.ProductGroup
	PackagingUnits    PackagingUnits
	Stock             []models.StockEntry
	ShoppingListItems []models.ShoppingListItem

	// Quantity is counted in packaging units of UnitSize stock units each
	Quantity float64
	UnitSize float64

	ConsumeValid bool
	// lots before SelectedStockIndex are left untouched by the allotment
	SelectedStockIndex int
	SkipOpen           bool
}

// ConsumeAmount is the requested amount in stock units
func (s *Session) ConsumeAmount() float64 {
	return s.Quantity * s.UnitSize
}

// reallot recomputes the allotment from scratch; call it after every change to
// the quantity, the unit size, the cursor or the stock.
func (s *Session) reallot() {
	if s.SelectedStockIndex < 0 || s.SelectedStockIndex > len(s.Stock) {
		s.SelectedStockIndex = 0
	}
	s.ConsumeValid = Allot(s.Stock, s.ConsumeAmount(), s.SkipOpen, s.SelectedStockIndex)
}

func (s *Session) resetCursor() {
	s.SelectedStockIndex = 0
	s.SkipOpen = false
}

func (s *Session) productID() int {
	return s.ProductDetails.Product.ID
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
