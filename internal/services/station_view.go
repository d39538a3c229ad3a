package services

import (
	"strconv"

	"github.com/ssiegel/grocy-station/internal/models"
)

// StationView is a self-contained copy of the station state, ready for JSON
type StationView struct {
	Version    uint64       `json:"version"`
	State      StateKind    `json:"state"`
	Message    string       `json:"message,omitempty"`
	AutoRevert bool         `json:"auto_revert,omitempty"`
	Progress   int          `json:"progress"`
	Product    *ProductView `json:"product,omitempty"`
}

type ProductView struct {
	SessionID          string                 `json:"session_id"`
	Barcode            string                 `json:"barcode"`
	ProductID          int                    `json:"product_id"`
	Name               string                 `json:"name"`
	ProductGroup       string                 `json:"product_group,omitempty"`
	Location           string                 `json:"location,omitempty"`
	StockAmount        string                 `json:"stock_amount"`
	StockAmountOpened  string                 `json:"stock_amount_opened"`
	NextDueDate        string                 `json:"next_due_date"`
	PackagingUnits     []models.PackagingUnit `json:"packaging_units"`
	Quantity           string                 `json:"quantity"`
	UnitSize           float64                `json:"unit_size"`
	ConsumeAmount      string                 `json:"consume_amount"`
	ConsumeValid       bool                   `json:"consume_valid"`
	SelectedStockIndex int                    `json:"selected_stock_index"`
	SkipOpen           bool                   `json:"skip_open"`
	Stock              []StockEntryView       `json:"stock"`
	ShoppingListItems  []ShoppingItemView     `json:"shopping_list_items"`
	OnShoppingList     bool                   `json:"on_shopping_list"`
}

type StockEntryView struct {
	models.StockEntry
	Location         string `json:"location,omitempty"`
	BestBefore       string `json:"best_before"`
	AmountDisplay    string `json:"amount_display"`
	AllottedDisplay  string `json:"allotted_display,omitempty"`
	SelectedAsCursor bool   `json:"selected,omitempty"`
}

type ShoppingItemView struct {
	models.ShoppingListItem
	ListName      string `json:"list_name,omitempty"`
	AmountDisplay string `json:"amount_display"`
}

// Snapshot returns the current state; it never blocks on the network
func (s *Station) Snapshot() StationView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := StationView{
		Version:  s.version,
		State:    s.state.Kind(),
		Progress: s.progress,
	}
	switch st := s.state.(type) {
	case *WaitingState:
		view.Message = st.Message
	case *ErrorState:
		view.Message = st.Message
		view.AutoRevert = st.AutoRevert
	case *ProductState:
		view.Product = s.productView(st.Session)
	}
	return view
}

func (s *Station) productView(sess *Session) *ProductView {
	units := s.refs.Units
	details := sess.ProductDetails
	stockQu := details.Product.QuIDStock

	pv := &ProductView{
		SessionID:          sess.ID.String(),
		Barcode:            sess.Barcode.Barcode,
		ProductID:          details.Product.ID,
		Name:               details.Product.Name,
		StockAmount:        FormatNumber(details.StockAmount, units, stockQu),
		StockAmountOpened:  FormatNumber(details.StockAmountOpened, units, stockQu),
		NextDueDate:        FormatDate(details.NextDueDate),
		PackagingUnits:     append([]models.PackagingUnit{}, sess.PackagingUnits...),
		Quantity:           strconv.FormatFloat(sess.Quantity, 'f', -1, 64),
		UnitSize:           sess.UnitSize,
		ConsumeValid:       sess.ConsumeValid,
		SelectedStockIndex: sess.SelectedStockIndex,
		SkipOpen:           sess.SkipOpen,
		Stock:              make([]StockEntryView, 0, len(sess.Stock)),
		ShoppingListItems:  make([]ShoppingItemView, 0, len(sess.ShoppingListItems)),
	}
	if amount := sess.ConsumeAmount(); isFinite(amount) {
		pv.ConsumeAmount = FormatNumber(amount, units, stockQu)
	}
	if sess.ProductGroup != nil {
		pv.ProductGroup = sess.ProductGroup.Name
	}
	if details.Location != nil {
		pv.Location = details.Location.Name
	} else if loc, ok := s.refs.Locations.GetCached(details.Product.LocationID); ok {
		pv.Location = loc.Name
	}

	for i, entry := range sess.Stock {
		ev := StockEntryView{
			StockEntry:       entry,
			BestBefore:       FormatDate(entry.BestBeforeDate),
			AmountDisplay:    FormatNumber(entry.Amount, units, stockQu),
			SelectedAsCursor: i == sess.SelectedStockIndex,
		}
		if entry.AmountAllotted != 0 {
			ev.AllottedDisplay = FormatNumber(entry.AmountAllotted, units, stockQu)
		}
		if loc, ok := s.refs.Locations.GetCached(entry.LocationID); ok {
			ev.Location = loc.Name
		}
		pv.Stock = append(pv.Stock, ev)
	}

	for _, item := range sess.ShoppingListItems {
		iv := ShoppingItemView{
			ShoppingListItem: item,
			AmountDisplay:    FormatNumber(item.Amount, units, stockQu),
		}
		if list, ok := s.refs.ShoppingLists.GetCached(item.ShoppingListID); ok {
			iv.ListName = list.Name
		}
		if !item.IsDone() {
			pv.OnShoppingList = true
		}
		pv.ShoppingListItems = append(pv.ShoppingListItems, iv)
	}
	return pv
}
