package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ssiegel/grocy-station/internal/models"
)

// DefaultAPITimeout bounds every single Grocy round trip
const DefaultAPITimeout = 10 * time.Second

// GrocyAPI is the part of the Grocy REST API the kiosk uses
type GrocyAPI interface {
	GetBarcodes(ctx context.Context, barcode string) ([]models.ProductBarcode, error)
	GetObjects(ctx context.Context, entity string, out any, filters ...string) error
	GetProductDetails(ctx context.Context, productID int) (*models.ProductDetails, error)
	GetStockEntries(ctx context.Context, productID int) ([]models.StockEntry, error)
	GetQUConversions(ctx context.Context, productID, toQuID int) ([]models.QUConversion, error)
	GetShoppingListItems(ctx context.Context, productID, listID int) ([]models.ShoppingListItem, error)
	GetLastChangedTimestamp(ctx context.Context) (string, error)
	PostConsume(ctx context.Context, productID int, stockEntryID string, amount float64, open bool) ([]models.StockLogEntry, error)
	PostAddMissingProducts(ctx context.Context, listID int) error
	PostAddProductToShoppingList(ctx context.Context, productID, listID int, amount float64) error
	PostRemoveProductFromShoppingList(ctx context.Context, productID int, amount float64, listID int) error
	PostUndoBooking(ctx context.Context, bookingID int) error
}

// GrocyClient talks to the Grocy REST API (base URL ending in /api)
type GrocyClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewGrocyClient creates a client; a zero timeout falls back to DefaultAPITimeout
func NewGrocyClient(baseURL, apiKey string, timeout time.Duration) *GrocyClient {
	if timeout <= 0 {
		timeout = DefaultAPITimeout
	}
	return &GrocyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
	}
}

type grocyErrorEnvelope struct {
	ErrorMessage string `json:"error_message"`
}

// do performs one request with its own timeout. A nil out discards the body.
func (gc *GrocyClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, gc.timeout)
	defer cancel()

	endpoint := gc.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request for %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if gc.apiKey != "" {
		req.Header.Set("GROCY-API-KEY", gc.apiKey)
	}

	resp, err := gc.client.Do(req)
	if err != nil {
		return gc.transportError(ctx, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gc.transportError(ctx, method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope grocyErrorEnvelope
		if json.Unmarshal(data, &envelope) == nil && envelope.ErrorMessage != "" {
			return &BackendError{StatusCode: resp.StatusCode, Message: envelope.ErrorMessage}
		}
		return fmt.Errorf("%s %s (status %d): %w", method, path, resp.StatusCode, ErrCommunication)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s %s returned no data: %w", method, path, ErrCommunication)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrCommunication, err)
	}
	return nil
}

func (gc *GrocyClient) transportError(ctx context.Context, method, path string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s %s: %w", method, path, ctx.Err())
	}
	return fmt.Errorf("%s %s: %w: %v", method, path, ErrCommunication, err)
}

func queryFilters(filters ...string) url.Values {
	if len(filters) == 0 {
		return nil
	}
	query := url.Values{}
	for _, f := range filters {
		query.Add("query[]", f)
	}
	return query
}

// GetBarcodes looks a scanned code up. grcy:p: codes only exist in product_barcodes_view,
// all others are read from product_barcodes because only that entity returns userfields.
func (gc *GrocyClient) GetBarcodes(ctx context.Context, barcode string) ([]models.ProductBarcode, error) {
	entity := "product_barcodes"
	if strings.HasPrefix(barcode, "grcy:p:") {
		entity = "product_barcodes_view"
	}
	var barcodes []models.ProductBarcode
	if err := gc.GetObjects(ctx, entity, &barcodes, "barcode="+barcode); err != nil {
		return nil, err
	}
	return barcodes, nil
}

// GetObjects lists a generic entity, filtered by "field=value" expressions
func (gc *GrocyClient) GetObjects(ctx context.Context, entity string, out any, filters ...string) error {
	return gc.do(ctx, http.MethodGet, "/objects/"+url.PathEscape(entity), queryFilters(filters...), nil, out)
}

func (gc *GrocyClient) GetProductDetails(ctx context.Context, productID int) (*models.ProductDetails, error) {
	var details models.ProductDetails
	if err := gc.do(ctx, http.MethodGet, "/stock/products/"+strconv.Itoa(productID), nil, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// GetStockEntries returns the lots of a product in the order Grocy would consume them
func (gc *GrocyClient) GetStockEntries(ctx context.Context, productID int) ([]models.StockEntry, error) {
	var entries []models.StockEntry
	if err := gc.do(ctx, http.MethodGet, "/stock/products/"+strconv.Itoa(productID)+"/entries", nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (gc *GrocyClient) GetQUConversions(ctx context.Context, productID, toQuID int) ([]models.QUConversion, error) {
	var conversions []models.QUConversion
	err := gc.GetObjects(ctx, "quantity_unit_conversions_resolved", &conversions,
		fmt.Sprintf("product_id=%d", productID),
		fmt.Sprintf("to_qu_id=%d", toQuID),
	)
	if err != nil {
		return nil, err
	}
	return conversions, nil
}

// GetShoppingListItems returns the items of a product, on one list or on all lists when listID is 0
func (gc *GrocyClient) GetShoppingListItems(ctx context.Context, productID, listID int) ([]models.ShoppingListItem, error) {
	filters := []string{fmt.Sprintf("product_id=%d", productID)}
	if listID != 0 {
		filters = append(filters, fmt.Sprintf("shopping_list_id=%d", listID))
	}
	var items []models.ShoppingListItem
	if err := gc.GetObjects(ctx, "shopping_list", &items, filters...); err != nil {
		return nil, err
	}
	return items, nil
}

func (gc *GrocyClient) GetLastChangedTimestamp(ctx context.Context) (string, error) {
	var resp struct {
		ChangedTime string `json:"changed_time"`
	}
	if err := gc.do(ctx, http.MethodGet, "/system/db-changed-time", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.ChangedTime, nil
}

// PostConsume consumes (or opens) amount stock units from exactly one stock entry
func (gc *GrocyClient) PostConsume(ctx context.Context, productID int, stockEntryID string, amount float64, open bool) ([]models.StockLogEntry, error) {
	action := "consume"
	if open {
		action = "open"
	}
	body := map[string]any{
		"amount":         amount,
		"stock_entry_id": stockEntryID,
	}
	var bookings []models.StockLogEntry
	path := "/stock/products/" + strconv.Itoa(productID) + "/" + action
	if err := gc.do(ctx, http.MethodPost, path, nil, body, &bookings); err != nil {
		return nil, err
	}
	log.Printf("✅ Grocy: %s %g of product %d from stock entry %s", action, amount, productID, stockEntryID)
	return bookings, nil
}

// PostAddMissingProducts adds all products below their minimum stock to a list (0 = default list)
func (gc *GrocyClient) PostAddMissingProducts(ctx context.Context, listID int) error {
	body := map[string]any{}
	if listID != 0 {
		body["list_id"] = listID
	}
	return gc.do(ctx, http.MethodPost, "/stock/shoppinglist/add-missing-products", nil, body, nil)
}

func (gc *GrocyClient) PostAddProductToShoppingList(ctx context.Context, productID, listID int, amount float64) error {
	body := map[string]any{"product_id": productID}
	if listID != 0 {
		body["list_id"] = listID
	}
	if amount > 0 {
		body["product_amount"] = amount
	}
	return gc.do(ctx, http.MethodPost, "/stock/shoppinglist/add-product", nil, body, nil)
}

func (gc *GrocyClient) PostRemoveProductFromShoppingList(ctx context.Context, productID int, amount float64, listID int) error {
	body := map[string]any{
		"product_id":     productID,
		"product_amount": amount,
	}
	if listID != 0 {
		body["list_id"] = listID
	}
	return gc.do(ctx, http.MethodPost, "/stock/shoppinglist/remove-product", nil, body, nil)
}

// PostUndoBooking reverts one stock booking
func (gc *GrocyClient) PostUndoBooking(ctx context.Context, bookingID int) error {
	return gc.do(ctx, http.MethodPost, "/stock/bookings/"+strconv.Itoa(bookingID)+"/undo", nil, nil, nil)
}
