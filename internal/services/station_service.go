package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ssiegel/grocy-station/internal/models"
)

const (
	DefaultPollInterval       = 15 * time.Second
	DefaultErrorRevertDelay   = 10 * time.Second
	DefaultProgressResetDelay = 300 * time.Millisecond

	StandbyMessage = "Please scan a barcode."
)

type ConsumeOutcome int

const (
	ConsumeBlocked ConsumeOutcome = iota
	ConsumeConfirmationRequired
	ConsumeCommitted
)

func (o ConsumeOutcome) String() string {
	switch o {
	case ConsumeConfirmationRequired:
		return "confirmation_required"
	case ConsumeCommitted:
		return "committed"
	}
	return "blocked"
}

type StationConfig struct {
	// ShoppingListID 0 means every shopping list
	ShoppingListID     int
	PollInterval       time.Duration
	ErrorRevertDelay   time.Duration
	ProgressResetDelay time.Duration
}

func (c *StationConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorRevertDelay <= 0 {
		c.ErrorRevertDelay = DefaultErrorRevertDelay
	}
	if c.ProgressResetDelay <= 0 {
		c.ProgressResetDelay = DefaultProgressResetDelay
	}
}

// Station is the kiosk state machine. All state lives behind mu; network calls run
// without the lock and their results are applied only if the session they were
// started for is still the current one.
type Station struct {
	api         GrocyAPI
	refs        *ReferenceData
	conversions *UoMConversionService
	journal     BookingJournal
	cfg         StationConfig

	mu         sync.Mutex
	state      State
	buildToken uuid.UUID // newest pending scan, uuid.Nil when none
	progress   int
	// progressGen invalidates progress updates of superseded operations
	progressGen uint64
	lastChanged string
	errorTimer  *time.Timer
	version     uint64

	listenersMu sync.RWMutex
	listeners   []func(StationView)
}

func NewStation(api GrocyAPI, refs *ReferenceData, journal BookingJournal, cfg StationConfig) *Station {
	cfg.applyDefaults()
	if journal == nil {
		journal = NewMemoryBookingJournal()
	}
	return &Station{
		api:         api,
		refs:        refs,
		conversions: NewUoMConversionService(api),
		journal:     journal,
		cfg:         cfg,
		state:       &InitState{},
	}
}

// OnChange registers a listener that receives a snapshot after every state change.
// Listeners are called outside the station lock.
func (s *Station) OnChange(fn func(StationView)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *Station) notify() {
	s.listenersMu.RLock()
	listeners := append([]func(StationView){}, s.listeners...)
	s.listenersMu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	view := s.Snapshot()
	for _, fn := range listeners {
		fn(view)
	}
}

// Ready leaves the init state once the scan feed is up
func (s *Station) Ready() {
	s.mu.Lock()
	if _, ok := s.state.(*InitState); !ok {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(&WaitingState{Message: StandbyMessage})
	s.mu.Unlock()
	s.notify()
}

// Scan handles a scanned code and waits for the product to load. Scanning the barcode
// of the product on screen again adds one packaging unit; anything else starts a new
// session and supersedes every pending one.
func (s *Station) Scan(ctx context.Context, code string) error {
	build := s.beginScan(code)
	if build == nil {
		return nil
	}
	return build(ctx)
}

// StartScan claims the station for code before returning and loads the product in the
// background. Feeds call it from a single goroutine, so the newest scan always wins.
func (s *Station) StartScan(ctx context.Context, code string) {
	if build := s.beginScan(code); build != nil {
		go build(ctx)
	}
}

// beginScan takes the build token under the lock. It returns nil when the scan was
// handled in place.
func (s *Station) beginScan(code string) func(context.Context) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}

	s.mu.Lock()
	if ps, ok := s.state.(*ProductState); ok && s.buildToken == uuid.Nil &&
		ps.Session.Barcode.Barcode == code && isFinite(ps.Session.Quantity) {
		sess := ps.Session
		sess.Quantity = math.Max(sess.Quantity, 0) + 1
		sess.resetCursor()
		sess.reallot()
		s.version++
		s.mu.Unlock()
		s.notify()
		return nil
	}

	token := uuid.New()
	s.buildToken = token
	s.setStateLocked(&WaitingState{})
	gen := s.startProgressLocked()
	s.mu.Unlock()
	s.notify()

	return func(ctx context.Context) error {
		return s.finishScan(ctx, token, gen, code)
	}
}

func (s *Station) finishScan(ctx context.Context, token uuid.UUID, gen uint64, code string) error {
	log.Printf("📡 Scan %q: loading product", code)
	sess, changed, err := s.buildSession(ctx, token, gen, code)

	s.mu.Lock()
	if s.buildToken != token {
		s.mu.Unlock()
		log.Printf("🔄 Scan %q superseded, result dropped", code)
		return nil
	}
	s.buildToken = uuid.Nil
	if err != nil {
		s.showErrorLocked(ErrorMessage(err), IsTransient(err))
		s.mu.Unlock()
		s.notify()
		log.Printf("❌ Scan %q failed: %v", code, err)
		return err
	}
	s.setStateLocked(&ProductState{Session: sess})
	if changed != "" {
		s.lastChanged = changed
	}
	s.finishProgressLocked(gen)
	s.mu.Unlock()
	s.notify()
	log.Printf("✅ Scan %q: %s", code, sess.ProductDetails.Product.Name)
	return nil
}

func (s *Station) buildSession(ctx context.Context, token uuid.UUID, gen uint64, code string) (*Session, string, error) {
	barcodes, err := s.api.GetBarcodes(ctx, code)
	if err != nil {
		return nil, "", err
	}
	switch len(barcodes) {
	case 0:
		return nil, "", &ScanError{Kind: ScanNotFound, Barcode: code}
	case 1:
	default:
		return nil, "", &ScanError{Kind: ScanAmbiguous, Barcode: code}
	}
	barcode := barcodes[0]
	s.advanceProgress(token, gen, 25)

	details, err := s.api.GetProductDetails(ctx, barcode.ProductID)
	if err != nil {
		return nil, "", err
	}
	s.advanceProgress(token, gen, 50)

	sess := &Session{
		ID:             token,
		Barcode:        barcode,
		ProductDetails: *details,
		Quantity:       1,
	}
	var changed string

	// each goroutine writes its own fields of sess
	var g errgroup.Group
	g.Go(func() error {
		s.loadUnits(ctx, details, &barcode)
		factors, err := s.conversions.Resolve(ctx, details, &barcode)
		if err != nil {
			return err
		}
		pus, err := BuildPackagingUnits(details, &barcode, factors, s.refs.Units)
		if err != nil {
			return err
		}
		sess.PackagingUnits = pus
		s.advanceProgress(token, gen, 75)
		return nil
	})
	g.Go(func() error {
		entries, err := s.api.GetStockEntries(ctx, details.Product.ID)
		if err != nil {
			return err
		}
		sess.Stock = entries
		return nil
	})
	g.Go(func() error {
		items, err := s.api.GetShoppingListItems(ctx, details.Product.ID, s.cfg.ShoppingListID)
		if err != nil {
			return err
		}
		sess.ShoppingListItems = items
		return nil
	})
	g.Go(func() error {
		if details.Product.ProductGroupID == nil {
			return nil
		}
		group, ok, err := s.refs.ProductGroups.Get(ctx, *details.Product.ProductGroupID)
		if err != nil {
			log.Printf("⚠️ Cache: product group %d: %v", *details.Product.ProductGroupID, err)
			return nil
		}
		if ok {
			sess.ProductGroup = &group
		}
		return nil
	})
	g.Go(func() error {
		// the view only reads cached locations and lists
		if _, _, err := s.refs.Locations.Get(ctx, details.Product.LocationID); err != nil {
			log.Printf("⚠️ Cache: location %d: %v", details.Product.LocationID, err)
		}
		if _, err := s.refs.ShoppingLists.List(ctx); err != nil {
			log.Printf("⚠️ Cache: shopping lists: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		ts, err := s.api.GetLastChangedTimestamp(ctx)
		if err != nil {
			log.Printf("⚠️ Grocy change timestamp unavailable: %v", err)
			return nil
		}
		changed = ts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	if base, ok := sess.PackagingUnits.Base(); ok {
		sess.UnitSize = base.Amount
	}
	sess.reallot()
	return sess, changed, nil
}

// loadUnits makes sure every unit the product displays is cached
func (s *Station) loadUnits(ctx context.Context, details *models.ProductDetails, barcode *models.ProductBarcode) {
	ids := []int{details.Product.QuIDStock, details.Product.QuIDConsume}
	if barcode != nil && barcode.QuID != nil {
		ids = append(ids, *barcode.QuID)
	}
	for _, id := range ids {
		if _, _, err := s.refs.Units.Get(ctx, id); err != nil {
			log.Printf("⚠️ Cache: quantity unit %d: %v", id, err)
			return
		}
	}
}

// SetQuantity sets the number of packaging units to take. Any value is accepted;
// the allotment is invalid unless the resulting amount is finite and positive.
func (s *Station) SetQuantity(quantity float64) error {
	return s.updateSession(func(sess *Session) error {
		sess.Quantity = quantity
		sess.resetCursor()
		return nil
	})
}

func (s *Station) SelectPackagingUnit(index int) error {
	return s.updateSession(func(sess *Session) error {
		if index < 0 || index >= len(sess.PackagingUnits) {
			return fmt.Errorf("packaging unit %d: %w", index, ErrIndexOutOfRange)
		}
		sess.UnitSize = sess.PackagingUnits[index].Amount
		sess.resetCursor()
		return nil
	})
}

// SelectStockEntry makes the allotment start at the given lot
func (s *Station) SelectStockEntry(index int) error {
	return s.updateSession(func(sess *Session) error {
		if index < 0 || index >= len(sess.Stock) {
			return fmt.Errorf("stock entry %d: %w", index, ErrIndexOutOfRange)
		}
		sess.SelectedStockIndex = index
		return nil
	})
}

func (s *Station) updateSession(fn func(sess *Session) error) error {
	s.mu.Lock()
	ps, ok := s.state.(*ProductState)
	if !ok {
		s.mu.Unlock()
		return ErrNoProduct
	}
	if err := fn(ps.Session); err != nil {
		s.mu.Unlock()
		return err
	}
	ps.Session.reallot()
	s.version++
	s.mu.Unlock()
	s.notify()
	return nil
}

// Consume takes the allotted amounts from stock, opening them instead when open is set.
// Opening from a lot that is already open needs confirmation: the first call moves the
// allotment past the open lots and returns ConsumeConfirmationRequired without booking.
func (s *Station) Consume(ctx context.Context, open bool) (ConsumeOutcome, error) {
	s.mu.Lock()
	ps, ok := s.state.(*ProductState)
	if !ok {
		s.mu.Unlock()
		return ConsumeBlocked, ErrNoProduct
	}
	if s.progress != 0 || s.buildToken != uuid.Nil {
		s.mu.Unlock()
		return ConsumeBlocked, ErrBusy
	}
	sess := ps.Session
	if !sess.ConsumeValid {
		s.mu.Unlock()
		return ConsumeBlocked, ErrInvalidAllotment
	}
	if open && NeedsOpenConfirmation(sess.Stock) {
		sess.SelectedStockIndex = FirstUnopenedIndex(sess.Stock)
		sess.SkipOpen = true
		sess.reallot()
		s.version++
		s.mu.Unlock()
		s.notify()
		return ConsumeConfirmationRequired, nil
	}
	lots := AllottedEntries(sess.Stock)
	sessionID := sess.ID
	productID := sess.productID()
	gen := s.startProgressLocked()
	s.mu.Unlock()
	s.notify()

	action := "consume"
	if open {
		action = "open"
	}
	transactionID := uuid.New().String()
	total := len(lots) + 1
	var (
		done     int32
		recordMu sync.Mutex
		records  []models.BookingRecord
	)
	// lots are posted independently; one failure must not cancel the others
	var g errgroup.Group
	for _, lot := range lots {
		lot := lot
		g.Go(func() error {
			lotProductID := lot.ProductID
			if lotProductID == 0 {
				lotProductID = productID
			}
			bookings, err := s.api.PostConsume(ctx, lotProductID, lot.StockID, lot.AmountAllotted, open)
			if err != nil {
				return fmt.Errorf("failed to %s stock entry %s: %w", action, lot.StockID, err)
			}
			recordMu.Lock()
			for _, b := range bookings {
				records = append(records, models.BookingRecord{
					ID:            uuid.New().String(),
					SessionID:     sessionID.String(),
					TransactionID: transactionID,
					BookingID:     b.ID,
					ProductID:     lotProductID,
					StockEntryID:  lot.StockID,
					Amount:        lot.AmountAllotted,
					Open:          open,
				})
			}
			recordMu.Unlock()
			n := atomic.AddInt32(&done, 1)
			s.setProgress(gen, progressPercent(int(n), total))
			return nil
		})
	}
	postErr := g.Wait()

	if len(records) > 0 {
		if err := s.journal.Record(ctx, records); err != nil {
			log.Printf("⚠️ Booking journal: %v", err)
		}
	}
	if err := s.api.PostAddMissingProducts(ctx, s.cfg.ShoppingListID); err != nil {
		log.Printf("⚠️ Failed to add missing products to shopping list: %v", err)
	}
	if err := s.refreshSession(ctx, sessionID, postErr == nil); err != nil {
		log.Printf("⚠️ Failed to refresh stock of product %d: %v", productID, err)
	}

	s.mu.Lock()
	s.finishProgressLocked(gen)
	s.mu.Unlock()
	s.notify()

	if postErr != nil {
		log.Printf("❌ %s of product %d failed: %v", action, productID, postErr)
		return ConsumeBlocked, postErr
	}
	log.Printf("✅ %s of product %d: %d lot(s)", action, productID, len(lots))
	return ConsumeCommitted, nil
}

func progressPercent(done, total int) int {
	p := int(math.Round(float64(done) / float64(total) * 100))
	if p < 1 {
		p = 1
	}
	return p
}

// ShoppingList puts the product on the configured shopping list unless an open
// (not done) item for it exists already. Done items are removed first.
func (s *Station) ShoppingList(ctx context.Context) error {
	s.mu.Lock()
	ps, ok := s.state.(*ProductState)
	if !ok {
		s.mu.Unlock()
		return ErrNoProduct
	}
	if s.progress != 0 || s.buildToken != uuid.Nil {
		s.mu.Unlock()
		return ErrBusy
	}
	sessionID := ps.Session.ID
	productID := ps.Session.productID()
	gen := s.startProgressLocked()
	s.mu.Unlock()
	s.notify()

	err := s.addToShoppingList(ctx, gen, productID)
	if err == nil {
		err = s.refreshShoppingList(ctx, sessionID, productID)
	}

	s.mu.Lock()
	s.finishProgressLocked(gen)
	s.mu.Unlock()
	s.notify()
	if err != nil {
		log.Printf("❌ Shopping list update for product %d failed: %v", productID, err)
	}
	return err
}

func (s *Station) addToShoppingList(ctx context.Context, gen uint64, productID int) error {
	items, err := s.api.GetShoppingListItems(ctx, productID, s.cfg.ShoppingListID)
	if err != nil {
		return err
	}
	s.setProgress(gen, 33)
	for _, item := range items {
		if !item.IsDone() {
			log.Printf("📋 Product %d is already on shopping list %d", productID, item.ShoppingListID)
			return nil
		}
	}
	for _, item := range items {
		if err := s.api.PostRemoveProductFromShoppingList(ctx, productID, item.Amount, item.ShoppingListID); err != nil {
			return err
		}
	}
	s.setProgress(gen, 66)
	if err := s.api.PostAddProductToShoppingList(ctx, productID, s.cfg.ShoppingListID, 0); err != nil {
		return err
	}
	log.Printf("✅ Product %d added to shopping list", productID)
	return nil
}

// Undo reverts the bookings of the last kiosk transaction that is not undone yet
func (s *Station) Undo(ctx context.Context) error {
	s.mu.Lock()
	if s.progress != 0 || s.buildToken != uuid.Nil {
		s.mu.Unlock()
		return ErrBusy
	}
	var sessionID uuid.UUID
	if ps, ok := s.state.(*ProductState); ok {
		sessionID = ps.Session.ID
	}
	gen := s.startProgressLocked()
	s.mu.Unlock()
	s.notify()

	err := s.undoLast(ctx)
	// a partly failed undo has still changed stock
	if sessionID != uuid.Nil && !errors.Is(err, ErrNothingToUndo) {
		if rerr := s.refreshSession(ctx, sessionID, false); rerr != nil {
			log.Printf("⚠️ Failed to refresh stock after undo: %v", rerr)
		}
	}

	s.mu.Lock()
	s.finishProgressLocked(gen)
	s.mu.Unlock()
	s.notify()
	return err
}

func (s *Station) undoLast(ctx context.Context) error {
	records, err := s.journal.LastTransaction(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNothingToUndo
	}
	txID := records[0].TransactionID
	for i := len(records) - 1; i >= 0; i-- {
		if err := s.api.PostUndoBooking(ctx, records[i].BookingID); err != nil {
			return fmt.Errorf("failed to undo booking %d: %w", records[i].BookingID, err)
		}
		if err := s.journal.MarkUndone(ctx, records[i].ID); err != nil {
			return err
		}
	}
	log.Printf("✅ Undid transaction %s (%d booking(s))", txID, len(records))
	return nil
}

// refreshSession reloads stock and shopping list items of a session. Results for a
// session that is no longer shown are dropped; on error nothing is replaced.
func (s *Station) refreshSession(ctx context.Context, sessionID uuid.UUID, resetCursor bool) error {
	s.mu.Lock()
	ps, ok := s.state.(*ProductState)
	if !ok || ps.Session.ID != sessionID {
		s.mu.Unlock()
		return nil
	}
	productID := ps.Session.productID()
	s.mu.Unlock()

	var (
		details *models.ProductDetails
		stock   []models.StockEntry
		items   []models.ShoppingListItem
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		details, err = s.api.GetProductDetails(ctx, productID)
		return err
	})
	g.Go(func() error {
		var err error
		stock, err = s.api.GetStockEntries(ctx, productID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.api.GetShoppingListItems(ctx, productID, s.cfg.ShoppingListID)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	ps, ok = s.state.(*ProductState)
	if !ok || ps.Session.ID != sessionID {
		s.mu.Unlock()
		return nil
	}
	sess := ps.Session
	sess.ProductDetails.StockAmount = details.StockAmount
	sess.ProductDetails.StockAmountOpened = details.StockAmountOpened
	sess.ProductDetails.NextDueDate = details.NextDueDate
	sess.Stock = stock
	sess.ShoppingListItems = items
	if resetCursor {
		sess.resetCursor()
	}
	if sess.SelectedStockIndex >= len(sess.Stock) {
		sess.SelectedStockIndex = 0
	}
	sess.reallot()
	s.version++
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Station) refreshShoppingList(ctx context.Context, sessionID uuid.UUID, productID int) error {
	items, err := s.api.GetShoppingListItems(ctx, productID, s.cfg.ShoppingListID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if ps, ok := s.state.(*ProductState); ok && ps.Session.ID == sessionID {
		ps.Session.ShoppingListItems = items
		s.version++
	}
	s.mu.Unlock()
	return nil
}

// Run polls Grocy for changes until ctx is done
func (s *Station) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollChanges(ctx)
		}
	}
}

// PollChanges refreshes the shown product when Grocy reports a new change timestamp.
// It does nothing unless a product is shown and no operation is running.
func (s *Station) PollChanges(ctx context.Context) {
	s.mu.Lock()
	ps, ok := s.state.(*ProductState)
	if !ok || s.progress != 0 || s.buildToken != uuid.Nil {
		s.mu.Unlock()
		return
	}
	sessionID := ps.Session.ID
	s.mu.Unlock()

	changed, err := s.api.GetLastChangedTimestamp(ctx)
	if err != nil {
		log.Printf("⚠️ Poll: %v", err)
		return
	}

	s.mu.Lock()
	ps, ok = s.state.(*ProductState)
	if changed == "" || changed == s.lastChanged || !ok || ps.Session.ID != sessionID || s.progress != 0 {
		s.mu.Unlock()
		return
	}
	prev := s.lastChanged
	s.lastChanged = changed
	gen := s.startProgressLocked()
	s.mu.Unlock()
	s.notify()

	log.Printf("🔄 Grocy changed at %s, refreshing product", changed)
	err = s.refreshSession(ctx, sessionID, false)
	if err != nil {
		log.Printf("⚠️ Poll refresh failed: %v", err)
	}

	s.mu.Lock()
	// retry on the next tick
	if err != nil && s.lastChanged == changed {
		s.lastChanged = prev
	}
	s.finishProgressLocked(gen)
	s.mu.Unlock()
	s.notify()
}

// ShowError switches to the error state. An auto-reverting error returns to the
// standby message after the configured delay unless another state replaced it.
func (s *Station) ShowError(message string, autoRevert bool) {
	s.mu.Lock()
	s.showErrorLocked(message, autoRevert)
	s.mu.Unlock()
	s.notify()
}

// DismissError leaves a sticky error state
func (s *Station) DismissError() {
	s.mu.Lock()
	if _, ok := s.state.(*ErrorState); !ok {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(&WaitingState{Message: StandbyMessage})
	s.mu.Unlock()
	s.notify()
}

func (s *Station) showErrorLocked(message string, autoRevert bool) {
	s.buildToken = uuid.Nil
	s.progress = 0
	s.progressGen++
	errState := &ErrorState{Message: message, AutoRevert: autoRevert}
	s.setStateLocked(errState)
	if !autoRevert {
		return
	}
	s.errorTimer = time.AfterFunc(s.cfg.ErrorRevertDelay, func() {
		s.mu.Lock()
		if cur, ok := s.state.(*ErrorState); !ok || cur != errState {
			s.mu.Unlock()
			return
		}
		s.setStateLocked(&WaitingState{Message: StandbyMessage})
		s.mu.Unlock()
		s.notify()
	})
}

func (s *Station) setStateLocked(state State) {
	if s.errorTimer != nil {
		s.errorTimer.Stop()
		s.errorTimer = nil
	}
	s.state = state
	s.version++
}

func (s *Station) startProgressLocked() uint64 {
	s.progressGen++
	s.progress = 1
	s.version++
	return s.progressGen
}

// setProgress raises the progress of operation gen; it never lowers it
func (s *Station) setProgress(gen uint64, percent int) {
	s.mu.Lock()
	if gen != s.progressGen || percent <= s.progress {
		s.mu.Unlock()
		return
	}
	if percent > 100 {
		percent = 100
	}
	s.progress = percent
	s.version++
	s.mu.Unlock()
	s.notify()
}

func (s *Station) advanceProgress(token uuid.UUID, gen uint64, percent int) {
	s.mu.Lock()
	current := s.buildToken == token
	s.mu.Unlock()
	if current {
		s.setProgress(gen, percent)
	}
}

// finishProgressLocked shows 100% and resets to idle after ProgressResetDelay
func (s *Station) finishProgressLocked(gen uint64) {
	if gen != s.progressGen {
		return
	}
	s.progress = 100
	s.version++
	time.AfterFunc(s.cfg.ProgressResetDelay, func() {
		s.mu.Lock()
		if gen != s.progressGen || s.progress != 100 {
			s.mu.Unlock()
			return
		}
		s.progress = 0
		s.version++
		s.mu.Unlock()
		s.notify()
	})
}
