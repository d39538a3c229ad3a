package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ssiegel/grocy-station/internal/services"
)

type fakeKiosk struct {
	mu        sync.Mutex
	view      services.StationView
	listeners []func(services.StationView)

	scanned   []string
	quantity  float64
	unitIndex int
	outcome   services.ConsumeOutcome
	opened    bool
	err       error
	dismissed bool
}

func (f *fakeKiosk) Scan(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanned = append(f.scanned, code)
	return f.err
}

func (f *fakeKiosk) StartScan(ctx context.Context, code string) { f.Scan(ctx, code) }

func (f *fakeKiosk) ShowError(message string, autoRevert bool) {}
func (f *fakeKiosk) Ready()                                   {}

func (f *fakeKiosk) Snapshot() services.StationView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeKiosk) OnChange(fn func(services.StationView)) {
	f.listeners = append(f.listeners, fn)
}

func (f *fakeKiosk) SetQuantity(quantity float64) error {
	f.quantity = quantity
	return f.err
}

func (f *fakeKiosk) SelectPackagingUnit(index int) error {
	if index > 1 {
		return fmt.Errorf("packaging unit %d: %w", index, services.ErrIndexOutOfRange)
	}
	f.unitIndex = index
	return nil
}

func (f *fakeKiosk) SelectStockEntry(index int) error { return f.err }

func (f *fakeKiosk) Consume(ctx context.Context, open bool) (services.ConsumeOutcome, error) {
	f.opened = open
	return f.outcome, f.err
}

func (f *fakeKiosk) ShoppingList(ctx context.Context) error { return f.err }
func (f *fakeKiosk) Undo(ctx context.Context) error         { return f.err }
func (f *fakeKiosk) DismissError()                          { f.dismissed = true }

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func newTestRouter(k Kiosk, redis Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewKioskController(k, NewHub(), nil, redis).SetupRoutes(r)
	return r
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestGetState(t *testing.T) {
	k := &fakeKiosk{view: services.StationView{Version: 3, State: services.StateWaiting, Message: services.StandbyMessage}}
	r := newTestRouter(k, nil)

	w := doRequest(r, http.MethodGet, "/api/v1/state", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["state"] != "waiting" || body["message"] != services.StandbyMessage || body["version"] != float64(3) {
		t.Fatalf("body = %v", body)
	}
}

func TestScanRequiresCode(t *testing.T) {
	k := &fakeKiosk{}
	r := newTestRouter(k, nil)

	for _, body := range []string{`{}`, `{"code":"   "}`, `not json`} {
		if w := doRequest(r, http.MethodPost, "/api/v1/scan", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d", body, w.Code)
		}
	}
	if len(k.scanned) != 0 {
		t.Fatalf("scanned = %v", k.scanned)
	}

	if w := doRequest(r, http.MethodPost, "/api/v1/scan", `{"code":"grcy:p:1"}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(k.scanned) != 1 || k.scanned[0] != "grcy:p:1" {
		t.Fatalf("scanned = %v", k.scanned)
	}
}

func TestScanNotFound(t *testing.T) {
	k := &fakeKiosk{err: &services.ScanError{Kind: services.ScanNotFound, Barcode: "999"}}
	r := newTestRouter(k, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/scan", `{"code":"999"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "No product with barcode 999 found" {
		t.Fatalf("body = %v", body)
	}
}

func TestSetQuantityAcceptsTextAndNumbers(t *testing.T) {
	k := &fakeKiosk{}
	r := newTestRouter(k, nil)

	doRequest(r, http.MethodPut, "/api/v1/quantity", `{"quantity":2.5}`)
	if k.quantity != 2.5 {
		t.Fatalf("quantity = %v", k.quantity)
	}
	doRequest(r, http.MethodPut, "/api/v1/quantity", `{"quantity":" 3 "}`)
	if k.quantity != 3 {
		t.Fatalf("quantity = %v", k.quantity)
	}
	w := doRequest(r, http.MethodPut, "/api/v1/quantity", `{"quantity":"abc"}`)
	if w.Code != http.StatusOK || !math.IsNaN(k.quantity) {
		t.Fatalf("status = %d, quantity = %v", w.Code, k.quantity)
	}
}

func TestSelectPackagingUnit(t *testing.T) {
	k := &fakeKiosk{}
	r := newTestRouter(k, nil)

	if w := doRequest(r, http.MethodPut, "/api/v1/packaging-unit", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing index: status = %d", w.Code)
	}
	if w := doRequest(r, http.MethodPut, "/api/v1/packaging-unit", `{"index":0}`); w.Code != http.StatusOK {
		t.Fatalf("index 0: status = %d", w.Code)
	}
	if w := doRequest(r, http.MethodPut, "/api/v1/packaging-unit", `{"index":1}`); w.Code != http.StatusOK || k.unitIndex != 1 {
		t.Fatalf("index 1: status = %d, selected = %d", w.Code, k.unitIndex)
	}
	if w := doRequest(r, http.MethodPut, "/api/v1/packaging-unit", `{"index":7}`); w.Code != http.StatusBadRequest {
		t.Fatalf("index 7: status = %d", w.Code)
	}
}

func TestConsumeOutcome(t *testing.T) {
	k := &fakeKiosk{outcome: services.ConsumeConfirmationRequired}
	r := newTestRouter(k, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/open", "")
	if w.Code != http.StatusOK || !k.opened {
		t.Fatalf("status = %d, opened = %v", w.Code, k.opened)
	}
	if body := decodeBody(t, w); body["outcome"] != "confirmation_required" {
		t.Fatalf("body = %v", body)
	}

	k.outcome, k.err = services.ConsumeBlocked, services.ErrBusy
	w = doRequest(r, http.MethodPost, "/api/v1/consume", "")
	if w.Code != http.StatusConflict || k.opened {
		t.Fatalf("status = %d, opened = %v", w.Code, k.opened)
	}
	body := decodeBody(t, w)
	if body["outcome"] != "blocked" || body["error"] != services.ErrBusy.Error() {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["state"]; !ok {
		t.Fatal("error response without state")
	}
}

func TestDismissError(t *testing.T) {
	k := &fakeKiosk{}
	r := newTestRouter(k, nil)

	if w := doRequest(r, http.MethodPost, "/api/v1/error/dismiss", ""); w.Code != http.StatusOK || !k.dismissed {
		t.Fatalf("status = %d, dismissed = %v", w.Code, k.dismissed)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("stock entry 4: %w", services.ErrIndexOutOfRange), http.StatusBadRequest},
		{services.ErrNothingToUndo, http.StatusNotFound},
		{&services.ScanError{Kind: services.ScanAmbiguous, Barcode: "x"}, http.StatusNotFound},
		{services.ErrNoProduct, http.StatusConflict},
		{services.ErrBusy, http.StatusConflict},
		{services.ErrInvalidAllotment, http.StatusConflict},
		{fmt.Errorf("get stock: %w", services.ErrTimeout), http.StatusGatewayTimeout},
		{&services.BackendError{StatusCode: 400, Message: "nope"}, http.StatusBadGateway},
		{services.ErrCommunication, http.StatusBadGateway},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name  string
		redis Pinger
		want  string
	}{
		{"disabled", nil, "disabled"},
		{"ok", stubPinger{}, "ok"},
		{"unavailable", stubPinger{err: errors.New("connection refused")}, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeKiosk{}, tt.redis)
			w := doRequest(r, http.MethodGet, "/api/v1/health", "")
			body := decodeBody(t, w)
			if w.Code != http.StatusOK || body["status"] != "ok" || body["redis"] != tt.want {
				t.Fatalf("status = %d, body = %v", w.Code, body)
			}
			if _, ok := body["feed"]; ok {
				t.Fatal("feed reported without a feed")
			}
		})
	}
}

func TestStateChangesAreBroadcast(t *testing.T) {
	k := &fakeKiosk{}
	hub := NewHub()
	NewKioskController(k, hub, nil, nil)
	if len(k.listeners) != 1 {
		t.Fatalf("listeners = %d", len(k.listeners))
	}

	notify := k.listeners[0]
	notify(services.StationView{Version: 9, State: services.StateError, Message: "MQTT not configured"})
	notify(services.StationView{Version: 11, State: services.StateWaiting, Message: services.StandbyMessage})
	notify(services.StationView{Version: 10, State: services.StateError, Message: "stale"})

	select {
	case <-hub.wake:
	default:
		t.Fatal("nothing broadcast")
	}
	var view services.StationView
	if err := json.Unmarshal(hub.takePending(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Version != 11 || view.Message != services.StandbyMessage {
		t.Fatalf("view = %+v, want the newest snapshot", view)
	}
	if msg := hub.takePending(); msg != nil {
		t.Fatalf("second pending message %s", msg)
	}
}

func TestHubKeepsNewestPendingMessage(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 300; i++ {
		hub.BroadcastMessage([]byte(fmt.Sprintf(`{"version":%d}`, i)))
	}
	if len(hub.wake) != 1 {
		t.Fatalf("wake signals = %d", len(hub.wake))
	}
	if got := string(hub.takePending()); got != `{"version":299}` {
		t.Fatalf("pending = %s", got)
	}
}
