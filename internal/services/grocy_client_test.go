package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGrocyClientGetBarcodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("GROCY-API-KEY"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}
		switch r.URL.Path {
		case "/api/objects/product_barcodes":
			if got := r.URL.Query()["query[]"]; len(got) != 1 || got[0] != "barcode=4006381333931" {
				t.Errorf("filters = %v", got)
			}
			io.WriteString(w, `[{"id":1,"product_id":7,"barcode":"4006381333931","qu_id":2,"amount":12,"userfields":{"packaging_units":"2 Pair"}}]`)
		case "/api/objects/product_barcodes_view":
			io.WriteString(w, `[{"id":0,"product_id":9,"barcode":"grcy:p:9"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gc := NewGrocyClient(srv.URL+"/api/", "secret", time.Second)

	barcodes, err := gc.GetBarcodes(context.Background(), "4006381333931")
	if err != nil {
		t.Fatalf("GetBarcodes: %v", err)
	}
	if len(barcodes) != 1 || barcodes[0].ProductID != 7 || *barcodes[0].Amount != 12 || *barcodes[0].QuID != 2 {
		t.Fatalf("barcodes = %+v", barcodes)
	}
	if barcodes[0].PackagingUnitsText() != "2 Pair" {
		t.Fatalf("userfield = %q", barcodes[0].PackagingUnitsText())
	}

	barcodes, err = gc.GetBarcodes(context.Background(), "grcy:p:9")
	if err != nil {
		t.Fatalf("GetBarcodes grcy: %v", err)
	}
	if len(barcodes) != 1 || barcodes[0].ProductID != 9 || barcodes[0].QuID != nil {
		t.Fatalf("barcodes = %+v", barcodes)
	}
}

func TestGrocyClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "error envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error_message":"Amount to be consumed cannot be > current stock amount"}`)
			},
			check: func(t *testing.T, err error) {
				var backendErr *BackendError
				if !errors.As(err, &backendErr) || backendErr.StatusCode != 400 {
					t.Fatalf("err = %v, want BackendError", err)
				}
				if !IsTransient(err) || ErrorMessage(err) != "Amount to be consumed cannot be > current stock amount" {
					t.Fatalf("message = %q", ErrorMessage(err))
				}
			},
		},
		{
			name: "status without message",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `<html>oops</html>`)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCommunication) || IsTransient(err) {
					t.Fatalf("err = %v, want sticky ErrCommunication", err)
				}
			},
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCommunication) {
					t.Fatalf("err = %v, want ErrCommunication", err)
				}
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrTimeout) || !IsTransient(err) {
					t.Fatalf("err = %v, want ErrTimeout", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			gc := NewGrocyClient(srv.URL, "", 50*time.Millisecond)
			_, err := gc.GetProductDetails(context.Background(), 1)
			tt.check(t, err)
		})
	}
}

func TestGrocyClientPostConsume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/stock/products/7/open" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["stock_entry_id"] != "abc" || body["amount"] != 1.5 {
			t.Errorf("body = %v", body)
		}
		io.WriteString(w, `[{"id":41,"product_id":7,"amount":-1.5,"stock_id":"abc","transaction_id":"tx","transaction_type":"product-opened"}]`)
	}))
	defer srv.Close()

	gc := NewGrocyClient(srv.URL, "", time.Second)
	bookings, err := gc.PostConsume(context.Background(), 7, "abc", 1.5, true)
	if err != nil {
		t.Fatalf("PostConsume: %v", err)
	}
	if len(bookings) != 1 || bookings[0].ID != 41 {
		t.Fatalf("bookings = %+v", bookings)
	}
}

func TestGrocyClientShoppingListFilters(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()["query[]"]
		io.WriteString(w, `[{"id":1,"shopping_list_id":2,"product_id":7,"amount":1,"done":1}]`)
	}))
	defer srv.Close()

	gc := NewGrocyClient(srv.URL, "", time.Second)
	items, err := gc.GetShoppingListItems(context.Background(), 7, 2)
	if err != nil {
		t.Fatalf("GetShoppingListItems: %v", err)
	}
	if len(got) != 2 || got[0] != "product_id=7" || got[1] != "shopping_list_id=2" {
		t.Fatalf("filters = %v", got)
	}
	if len(items) != 1 || !items[0].IsDone() {
		t.Fatalf("items = %+v", items)
	}
}
