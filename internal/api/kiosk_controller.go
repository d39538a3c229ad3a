package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ssiegel/grocy-station/internal/services"
)

// Kiosk is the station as seen by the HTTP API
type Kiosk interface {
	ScanSink
	Scan(ctx context.Context, code string) error
	Snapshot() services.StationView
	OnChange(fn func(services.StationView))
	SetQuantity(quantity float64) error
	SelectPackagingUnit(index int) error
	SelectStockEntry(index int) error
	Consume(ctx context.Context, open bool) (services.ConsumeOutcome, error)
	ShoppingList(ctx context.Context) error
	Undo(ctx context.Context) error
	DismissError()
}

// Pinger is an optional dependency checked by the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// KioskController serves the kiosk state and actions
type KioskController struct {
	station Kiosk
	hub     *Hub
	feed    ScanFeed
	redis   Pinger
}

// NewKioskController wires the controller and pushes every state change to the hub.
// feed and redis may be nil.
func NewKioskController(station Kiosk, hub *Hub, feed ScanFeed, redis Pinger) *KioskController {
	kc := &KioskController{station: station, hub: hub, feed: feed, redis: redis}
	var mu sync.Mutex
	var lastVersion uint64
	station.OnChange(func(view services.StationView) {
		mu.Lock()
		defer mu.Unlock()
		// listeners run outside the station lock and may arrive out of order
		if view.Version < lastVersion {
			return
		}
		lastVersion = view.Version
		data, err := json.Marshal(view)
		if err != nil {
			log.Printf("⚠️ Failed to encode state: %v", err)
			return
		}
		hub.BroadcastMessage(data)
	})
	return kc
}

func (kc *KioskController) SetupRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", kc.Health)
		v1.GET("/state", kc.GetState)
		v1.POST("/scan", kc.Scan)
		v1.PUT("/quantity", kc.SetQuantity)
		v1.PUT("/packaging-unit", kc.SelectPackagingUnit)
		v1.PUT("/stock-entry", kc.SelectStockEntry)
		v1.POST("/consume", kc.Consume)
		v1.POST("/open", kc.Open)
		v1.POST("/shopping-list", kc.ShoppingList)
		v1.POST("/undo", kc.Undo)
		v1.POST("/error/dismiss", kc.DismissError)
		v1.GET("/ws", kc.ServeWS)
	}
}

// Health GET /api/v1/health
func (kc *KioskController) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if kc.feed != nil {
		resp["feed"] = kc.feed.Name()
		resp["feed_connected"] = kc.feed.Connected()
	}
	switch {
	case kc.redis == nil:
		resp["redis"] = "disabled"
	default:
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := kc.redis.Ping(ctx); err != nil {
			resp["redis"] = "unavailable"
		} else {
			resp["redis"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetState GET /api/v1/state
func (kc *KioskController) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, kc.station.Snapshot())
}

type scanRequest struct {
	Code string `json:"code" binding:"required"`
}

// Scan POST /api/v1/scan, a manually entered code; it is used as is
func (kc *KioskController) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	err := kc.station.Scan(context.WithoutCancel(c.Request.Context()), req.Code)
	kc.respond(c, err)
}

type quantityRequest struct {
	// a number or the raw text of the quantity field
	Quantity any `json:"quantity"`
}

// SetQuantity PUT /api/v1/quantity
func (kc *KioskController) SetQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	kc.respond(c, kc.station.SetQuantity(parseQuantity(req.Quantity)))
}

// parseQuantity never fails: input that is not a number becomes NaN, which the
// allotment rejects
func parseQuantity(v any) float64 {
	switch q := v.(type) {
	case float64:
		return q
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(q), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

type indexRequest struct {
	Index *int `json:"index" binding:"required"`
}

// SelectPackagingUnit PUT /api/v1/packaging-unit
func (kc *KioskController) SelectPackagingUnit(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index is required"})
		return
	}
	kc.respond(c, kc.station.SelectPackagingUnit(*req.Index))
}

// SelectStockEntry PUT /api/v1/stock-entry
func (kc *KioskController) SelectStockEntry(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index is required"})
		return
	}
	kc.respond(c, kc.station.SelectStockEntry(*req.Index))
}

// Consume POST /api/v1/consume
func (kc *KioskController) Consume(c *gin.Context) {
	kc.consume(c, false)
}

// Open POST /api/v1/open
func (kc *KioskController) Open(c *gin.Context) {
	kc.consume(c, true)
}

func (kc *KioskController) consume(c *gin.Context, open bool) {
	outcome, err := kc.station.Consume(context.WithoutCancel(c.Request.Context()), open)
	if err != nil {
		kc.fail(c, err, gin.H{"outcome": outcome.String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome.String(),
		"state":   kc.station.Snapshot(),
	})
}

// ShoppingList POST /api/v1/shopping-list
func (kc *KioskController) ShoppingList(c *gin.Context) {
	kc.respond(c, kc.station.ShoppingList(context.WithoutCancel(c.Request.Context())))
}

// Undo POST /api/v1/undo
func (kc *KioskController) Undo(c *gin.Context) {
	kc.respond(c, kc.station.Undo(context.WithoutCancel(c.Request.Context())))
}

// DismissError POST /api/v1/error/dismiss
func (kc *KioskController) DismissError(c *gin.Context) {
	kc.station.DismissError()
	c.JSON(http.StatusOK, kc.station.Snapshot())
}

func (kc *KioskController) respond(c *gin.Context, err error) {
	if err != nil {
		kc.fail(c, err, gin.H{})
		return
	}
	c.JSON(http.StatusOK, kc.station.Snapshot())
}

func (kc *KioskController) fail(c *gin.Context, err error, body gin.H) {
	body["error"] = services.ErrorMessage(err)
	body["state"] = kc.station.Snapshot()
	c.JSON(statusFor(err), body)
}

func statusFor(err error) int {
	var scanErr *services.ScanError
	switch {
	case errors.Is(err, services.ErrIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNothingToUndo), errors.As(err, &scanErr):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNoProduct),
		errors.Is(err, services.ErrBusy),
		errors.Is(err, services.ErrInvalidAllotment):
		return http.StatusConflict
	case errors.Is(err, services.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
