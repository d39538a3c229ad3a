package models

// Object is any Grocy entity that can be held in the reference-data cache
type Object interface {
	ObjectID() int
}

// Product is the product row embedded in the product details response
type Product struct {
	ID                 int     `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description,omitempty"`
	LocationID         int     `json:"location_id"`
	ProductGroupID     *int    `json:"product_group_id"`
	QuIDStock          int     `json:"qu_id_stock"`
	QuIDPurchase       int     `json:"qu_id_purchase"`
	QuIDConsume        int     `json:"qu_id_consume"`
	QuIDPrice          int     `json:"qu_id_price"`
	QuickConsumeAmount float64 `json:"quick_consume_amount"` // in stock units
	QuickOpenAmount    float64 `json:"quick_open_amount"`    // in stock units
	DueType            int     `json:"due_type"`             // 1 = best before, 2 = expiration
}

// ProductDetails is the response of GET /stock/products/{productId}
type ProductDetails struct {
	Product                           Product      `json:"product"`
	StockAmount                       float64      `json:"stock_amount"`
	StockAmountOpened                 float64      `json:"stock_amount_opened"`
	NextDueDate                       string       `json:"next_due_date"`
	QuConversionFactorPurchaseToStock float64      `json:"qu_conversion_factor_purchase_to_stock"`
	QuConversionFactorPriceToStock    float64      `json:"qu_conversion_factor_price_to_stock"`
	QuantityUnitStock                 QuantityUnit `json:"quantity_unit_stock"`
	DefaultQuantityUnitPurchase       QuantityUnit `json:"default_quantity_unit_purchase"`
	DefaultQuantityUnitConsume        QuantityUnit `json:"default_quantity_unit_consume"`
	QuantityUnitPrice                 QuantityUnit `json:"quantity_unit_price"`
	Location                          *Location    `json:"location,omitempty"`
}

// QuantityUnit is a row of the quantity_units entity
type QuantityUnit struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	NamePlural string            `json:"name_plural,omitempty"`
	Userfields map[string]string `json:"userfields,omitempty"`
}

func (q QuantityUnit) ObjectID() int { return q.ID }

// Symbol returns the "symbol" userfield, empty when the unit has none
func (q QuantityUnit) Symbol() string {
	return q.Userfields["symbol"]
}

// ProductBarcode is a row of product_barcodes (or product_barcodes_view for grcy:p: codes).
// QuID and Amount are optional; when both are set the barcode declares its own packaging.
type ProductBarcode struct {
	ID                 int               `json:"id"`
	ProductID          int               `json:"product_id"`
	Barcode            string            `json:"barcode"`
	QuID               *int              `json:"qu_id"`
	Amount             *float64          `json:"amount"`
	ShoppingLocationID *int              `json:"shopping_location_id,omitempty"`
	Note               string            `json:"note,omitempty"`
	Userfields         map[string]string `json:"userfields,omitempty"`
}

// PackagingUnitsText returns the free-text packaging declaration ("ratio name" per line)
func (b ProductBarcode) PackagingUnitsText() string {
	return b.Userfields["packaging_units"]
}

// QUConversion is a row of quantity_unit_conversions_resolved
type QUConversion struct {
	ID        int     `json:"id"`
	FromQuID  int     `json:"from_qu_id"`
	ToQuID    int     `json:"to_qu_id"`
	Factor    float64 `json:"factor"`
	ProductID *int    `json:"product_id,omitempty"`
}

// StockEntry is one lot of a product as returned by GET /stock/products/{productId}/entries.
// AmountAllotted is never sent by the server; it is recomputed locally on every allotment.
type StockEntry struct {
	ID             int     `json:"id"`
	ProductID      int     `json:"product_id"`
	Amount         float64 `json:"amount"`
	BestBeforeDate string  `json:"best_before_date"`
	PurchasedDate  string  `json:"purchased_date,omitempty"`
	StockID        string  `json:"stock_id"`
	Price          float64 `json:"price,omitempty"`
	Open           int     `json:"open"`
	OpenedDate     *string `json:"opened_date,omitempty"`
	LocationID     int     `json:"location_id"`
	Note           string  `json:"note,omitempty"`
	AmountAllotted float64 `json:"amount_allotted"`
}

// IsOpen reports whether the lot has already been opened
func (e StockEntry) IsOpen() bool {
	return e.Open == 1
}

// ShoppingListItem is a row of the shopping_list entity
type ShoppingListItem struct {
	ID             int     `json:"id"`
	ShoppingListID int     `json:"shopping_list_id"`
	ProductID      int     `json:"product_id"`
	Amount         float64 `json:"amount"`
	Done           int     `json:"done"`
	Note           string  `json:"note,omitempty"`
}

// IsDone treats any non-zero done flag as done
func (i ShoppingListItem) IsDone() bool {
	return i.Done != 0
}

type ShoppingList struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s ShoppingList) ObjectID() int { return s.ID }

type ProductGroup struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (g ProductGroup) ObjectID() int { return g.ID }

type Location struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsFreezer   int    `json:"is_freezer,omitempty"`
}

func (l Location) ObjectID() int { return l.ID }

// StockLogEntry is one booking created by a consume or open call
type StockLogEntry struct {
	ID              int     `json:"id"`
	ProductID       int     `json:"product_id"`
	Amount          float64 `json:"amount"`
	StockID         string  `json:"stock_id"`
	TransactionID   string  `json:"transaction_id"`
	TransactionType string  `json:"transaction_type"`
}

// PackagingUnit is a user-facing consumption granularity.
// A Box of cereal contains some Bags of cereal, so Box and Bag are both packaging units.
type PackagingUnit struct {
	Name          string  `json:"name"`
	AmountDisplay string  `json:"amount_display"`
	Amount        float64 `json:"amount"` // in stock units
}
