package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ssiegel/grocy-station/internal/models"
)

type consumeCall struct {
	ProductID    int
	StockEntryID string
	Amount       float64
	Open         bool
}

type shoppingCall struct {
	ProductID int
	ListID    int
	Amount    float64
}

// fakeGrocy is an in-memory GrocyAPI. gates, when set for a code, hold GetBarcodes
// until the channel is closed.
type fakeGrocy struct {
	mu sync.Mutex

	barcodes    map[string][]models.ProductBarcode
	details     map[int]models.ProductDetails
	stock       map[int][]models.StockEntry
	conversions []models.QUConversion
	shopping    []models.ShoppingListItem
	objects     map[string]any
	changed     string

	gates      map[string]chan struct{}
	objectsErr error
	consumeErr error
	stockErr   error
	// undoErr fails the next undo of a booking once
	undoErr map[int]error

	calls         map[string]int
	consumed      []consumeCall
	added         []shoppingCall
	removed       []shoppingCall
	undone        []int
	nextBookingID int
}

func newFakeGrocy() *fakeGrocy {
	return &fakeGrocy{
		barcodes: map[string][]models.ProductBarcode{},
		details:  map[int]models.ProductDetails{},
		stock:    map[int][]models.StockEntry{},
		objects:  map[string]any{},
		gates:    map[string]chan struct{}{},
		calls:    map[string]int{},
		undoErr:  map[int]error{},
		changed:  "2025-01-01 10:00:00",
	}
}

func (f *fakeGrocy) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGrocy) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeGrocy) setStock(productID int, entries []models.StockEntry) {
	f.mu.Lock()
	f.stock[productID] = entries
	f.mu.Unlock()
}

func (f *fakeGrocy) setStockErr(err error) {
	f.mu.Lock()
	f.stockErr = err
	f.mu.Unlock()
}

func (f *fakeGrocy) setChanged(ts string) {
	f.mu.Lock()
	f.changed = ts
	f.mu.Unlock()
}

func (f *fakeGrocy) GetBarcodes(ctx context.Context, barcode string) ([]models.ProductBarcode, error) {
	f.record("GetBarcodes")
	f.mu.Lock()
	gate := f.gates[barcode]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ProductBarcode{}, f.barcodes[barcode]...), nil
}

func (f *fakeGrocy) GetObjects(ctx context.Context, entity string, out any, filters ...string) error {
	f.record("GetObjects:" + entity)
	f.mu.Lock()
	objs, ok := f.objects[entity]
	err := f.objectsErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if !ok {
		objs = []any{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeGrocy) GetProductDetails(ctx context.Context, productID int) (*models.ProductDetails, error) {
	f.record("GetProductDetails")
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.details[productID]
	if !ok {
		return nil, &BackendError{StatusCode: 400, Message: fmt.Sprintf("Product %d does not exist", productID)}
	}
	return &d, nil
}

func (f *fakeGrocy) GetStockEntries(ctx context.Context, productID int) ([]models.StockEntry, error) {
	f.record("GetStockEntries")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stockErr != nil {
		return nil, f.stockErr
	}
	return append([]models.StockEntry{}, f.stock[productID]...), nil
}

func (f *fakeGrocy) GetQUConversions(ctx context.Context, productID, toQuID int) ([]models.QUConversion, error) {
	f.record("GetQUConversions")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.QUConversion{}, f.conversions...), nil
}

func (f *fakeGrocy) GetShoppingListItems(ctx context.Context, productID, listID int) ([]models.ShoppingListItem, error) {
	f.record("GetShoppingListItems")
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []models.ShoppingListItem
	for _, item := range f.shopping {
		if item.ProductID == productID && (listID == 0 || item.ShoppingListID == listID) {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeGrocy) GetLastChangedTimestamp(ctx context.Context) (string, error) {
	f.record("GetLastChangedTimestamp")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed, nil
}

func (f *fakeGrocy) PostConsume(ctx context.Context, productID int, stockEntryID string, amount float64, open bool) ([]models.StockLogEntry, error) {
	f.record("PostConsume")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.consumed = append(f.consumed, consumeCall{productID, stockEntryID, amount, open})
	f.nextBookingID++
	return []models.StockLogEntry{{ID: f.nextBookingID, ProductID: productID, Amount: -amount, StockID: stockEntryID}}, nil
}

func (f *fakeGrocy) PostAddMissingProducts(ctx context.Context, listID int) error {
	f.record("PostAddMissingProducts")
	return nil
}

func (f *fakeGrocy) PostAddProductToShoppingList(ctx context.Context, productID, listID int, amount float64) error {
	f.record("PostAddProductToShoppingList")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, shoppingCall{productID, listID, amount})
	if listID == 0 {
		listID = 1
	}
	f.shopping = append(f.shopping, models.ShoppingListItem{ID: 100 + len(f.added), ShoppingListID: listID, ProductID: productID, Amount: 1})
	return nil
}

func (f *fakeGrocy) PostRemoveProductFromShoppingList(ctx context.Context, productID int, amount float64, listID int) error {
	f.record("PostRemoveProductFromShoppingList")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, shoppingCall{productID, listID, amount})
	kept := f.shopping[:0]
	for _, item := range f.shopping {
		if item.ProductID == productID && item.ShoppingListID == listID && item.IsDone() {
			continue
		}
		kept = append(kept, item)
	}
	f.shopping = kept
	return nil
}

func (f *fakeGrocy) PostUndoBooking(ctx context.Context, bookingID int) error {
	f.record("PostUndoBooking")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.undoErr[bookingID]; ok {
		delete(f.undoErr, bookingID)
		return err
	}
	for _, id := range f.undone {
		if id == bookingID {
			return &BackendError{StatusCode: 400, Message: "Booking has already been undone"}
		}
	}
	f.undone = append(f.undone, bookingID)
	return nil
}

// unitMap is a UnitLookup over a fixed set of units
type unitMap map[int]models.QuantityUnit

func (m unitMap) GetCached(id int) (models.QuantityUnit, bool) {
	u, ok := m[id]
	return u, ok
}

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }
