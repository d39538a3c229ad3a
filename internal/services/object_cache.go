package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ssiegel/grocy-station/internal/models"
)

const (
	DefaultObjectTTL         = time.Hour
	DefaultObjectMinInterval = 5 * time.Minute

	snapshotKeyPrefix = "grocy-station:objects:"
)

// ObjectLister lists the rows of a Grocy entity
type ObjectLister interface {
	GetObjects(ctx context.Context, entity string, out any, filters ...string) error
}

// SnapshotStore keeps the last good copy of an entity outside the process
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, key string, data []byte, ttl time.Duration) error
	LoadSnapshot(ctx context.Context, key string) ([]byte, error)
}

// UnitLookup resolves quantity units without touching the network
type UnitLookup interface {
	GetCached(id int) (models.QuantityUnit, bool)
}

type ObjectCacheConfig struct {
	TTL         time.Duration
	MinInterval time.Duration
	Store       SnapshotStore // optional
}

type fetchCall struct {
	done chan struct{}
	err  error
}

// ObjectCache is a read-through cache for one rarely changing Grocy entity.
// The first access waits for a full fetch and starts a refresh every TTL; a miss
// refetches only when MinInterval has passed since the last successful fetch.
// At most one fetch per entity is in flight; concurrent callers share it.
type ObjectCache[T models.Object] struct {
	entity      string
	api         ObjectLister
	ttl         time.Duration
	minInterval time.Duration
	store       SnapshotStore
	now         func() time.Time

	mu          sync.Mutex
	started     bool
	initCall    *fetchCall
	objects     map[int]T
	lastFetch   time.Time
	inflight    *fetchCall

	stop     chan struct{}
	stopOnce sync.Once
}

func NewObjectCache[T models.Object](api ObjectLister, entity string, cfg ObjectCacheConfig) *ObjectCache[T] {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultObjectTTL
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultObjectMinInterval
	}
	return &ObjectCache[T]{
		entity:      entity,
		api:         api,
		ttl:         cfg.TTL,
		minInterval: cfg.MinInterval,
		store:       cfg.Store,
		now:         time.Now,
		objects:     make(map[int]T),
		stop:        make(chan struct{}),
	}
}

// Get returns the object with the given id, fetching the entity when needed.
// Only a failed initial fetch without a snapshot to fall back on is reported.
func (c *ObjectCache[T]) Get(ctx context.Context, id int) (T, bool, error) {
	var zero T
	if err := c.ensureInitialized(ctx); err != nil {
		return zero, false, err
	}

	c.mu.Lock()
	obj, ok := c.objects[id]
	var call *fetchCall
	if !ok && c.now().Sub(c.lastFetch) > c.minInterval {
		call = c.fetchLocked(false)
	}
	c.mu.Unlock()

	if ok {
		return obj, true, nil
	}
	if call != nil {
		if err := c.wait(ctx, call); err != nil && ctx.Err() != nil {
			return zero, false, ctx.Err()
		}
	}
	obj, ok = c.GetCached(id)
	return obj, ok, nil
}

// GetCached never fetches
func (c *ObjectCache[T]) GetCached(id int) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[id]
	return obj, ok
}

// List returns every cached object ordered by id
func (c *ObjectCache[T]) List(ctx context.Context) ([]T, error) {
	if err := c.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	list := make([]T, 0, len(c.objects))
	for _, obj := range c.objects {
		list = append(list, obj)
	}
	c.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ObjectID() < list[j].ObjectID() })
	return list, nil
}

// Close stops the periodic refresh
func (c *ObjectCache[T]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// ensureInitialized makes every caller wait for the first fetch. When it failed, the
// next caller starts another one.
func (c *ObjectCache[T]) ensureInitialized(ctx context.Context) error {
	c.mu.Lock()
	call := c.initCall
	if call == nil {
		call = c.fetchLocked(true)
		c.initCall = call
	}
	startLoop := !c.started
	c.started = true
	c.mu.Unlock()

	if startLoop {
		go c.refreshLoop()
	}

	if err := c.wait(ctx, call); err != nil {
		return fmt.Errorf("initial fetch of %s: %w", c.entity, err)
	}
	return nil
}

func (c *ObjectCache[T]) wait(ctx context.Context, call *fetchCall) error {
	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchLocked returns the in-flight fetch or starts a new one. c.mu must be held.
func (c *ObjectCache[T]) fetchLocked(initial bool) *fetchCall {
	if c.inflight != nil {
		return c.inflight
	}
	call := &fetchCall{done: make(chan struct{})}
	c.inflight = call
	go c.runFetch(call, initial)
	return call
}

func (c *ObjectCache[T]) runFetch(call *fetchCall, initial bool) {
	var objects []T
	err := c.api.GetObjects(context.Background(), c.entity, &objects)

	var warmed []T
	if err != nil && initial {
		var warmErr error
		if warmed, warmErr = c.loadSnapshot(); warmErr == nil {
			log.Printf("⚠️ Cache: initial fetch of %s failed (%v), using snapshot with %d objects", c.entity, err, len(warmed))
		}
	}

	c.mu.Lock()
	switch {
	case err == nil:
		c.replaceLocked(objects)
		c.lastFetch = c.now()
	case warmed != nil:
		c.replaceLocked(warmed)
	default:
		log.Printf("❌ Cache: failed to fetch %s: %v", c.entity, err)
		if c.initCall == call {
			c.initCall = nil
		}
	}
	c.inflight = nil
	c.mu.Unlock()

	if err == nil {
		c.saveSnapshot(objects)
	} else if warmed != nil {
		err = nil
	}
	call.err = err
	close(call.done)
}

func (c *ObjectCache[T]) replaceLocked(objects []T) {
	c.objects = make(map[int]T, len(objects))
	for _, obj := range objects {
		c.objects[obj.ObjectID()] = obj
	}
}

func (c *ObjectCache[T]) refreshLoop() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.fetchLocked(false)
			c.mu.Unlock()
		}
	}
}

func (c *ObjectCache[T]) saveSnapshot(objects []T) {
	if c.store == nil {
		return
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(objects); err != nil {
		log.Printf("⚠️ Cache: failed to encode %s snapshot: %v", c.entity, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveSnapshot(ctx, snapshotKeyPrefix+c.entity, buf.Bytes(), 2*c.ttl); err != nil {
		log.Printf("⚠️ Cache: failed to save %s snapshot: %v", c.entity, err)
	}
}

func (c *ObjectCache[T]) loadSnapshot() ([]T, error) {
	if c.store == nil {
		return nil, fmt.Errorf("no snapshot store")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := c.store.LoadSnapshot(ctx, snapshotKeyPrefix+c.entity)
	if err != nil {
		return nil, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	objects := []T{}
	if err := dec.Decode(&objects); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", c.entity, err)
	}
	return objects, nil
}

// ReferenceData groups the caches of the entities the kiosk displays
type ReferenceData struct {
	Units         *ObjectCache[models.QuantityUnit]
	Locations     *ObjectCache[models.Location]
	ShoppingLists *ObjectCache[models.ShoppingList]
	ProductGroups *ObjectCache[models.ProductGroup]
}

func NewReferenceData(api ObjectLister, cfg ObjectCacheConfig) *ReferenceData {
	return &ReferenceData{
		Units:         NewObjectCache[models.QuantityUnit](api, "quantity_units", cfg),
		Locations:     NewObjectCache[models.Location](api, "locations", cfg),
		ShoppingLists: NewObjectCache[models.ShoppingList](api, "shopping_lists", cfg),
		ProductGroups: NewObjectCache[models.ProductGroup](api, "product_groups", cfg),
	}
}

// Warm triggers the initial fetch of every entity; failures are only logged
func (r *ReferenceData) Warm(ctx context.Context) {
	if _, err := r.Units.List(ctx); err != nil {
		log.Printf("⚠️ Cache: %v", err)
	}
	if _, err := r.Locations.List(ctx); err != nil {
		log.Printf("⚠️ Cache: %v", err)
	}
	if _, err := r.ShoppingLists.List(ctx); err != nil {
		log.Printf("⚠️ Cache: %v", err)
	}
	if _, err := r.ProductGroups.List(ctx); err != nil {
		log.Printf("⚠️ Cache: %v", err)
	}
}

func (r *ReferenceData) Close() {
	r.Units.Close()
	r.Locations.Close()
	r.ShoppingLists.Close()
	r.ProductGroups.Close()
}
