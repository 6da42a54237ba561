package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultMemoryEntries = 10000
	sweepInterval        = time.Minute
)

// MemoryClient is the single-process Client. Values live in a bounded map and
// progress events fan out through an in-process hub.
type MemoryClient struct {
	mu      sync.RWMutex
	entries map[string]entry
	limit   int

	hub *hub

	done     chan struct{}
	shutdown sync.Once
}

var _ Client = (*MemoryClient)(nil)

type entry struct {
	val     []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expires)
}

// NewMemoryClient holds at most limit entries; the entry closest to expiry
// makes room for a new key.
func NewMemoryClient(limit int) *MemoryClient {
	if limit <= 0 {
		limit = defaultMemoryEntries
	}
	c := &MemoryClient{
		entries: make(map[string]entry, limit),
		limit:   limit,
		hub:     newHub(),
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, ErrCacheMiss
	}
	return e.val, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.limit {
		c.evictLocked()
	}
	c.entries[key] = entry{val: value, expires: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) DeleteByPrefix(_ context.Context, prefix string) error {
	c.removeWhere(func(k string, _ entry) bool { return strings.HasPrefix(k, prefix) })
	return nil
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (c *MemoryClient) Publish(_ context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", channel, err)
	}
	c.hub.broadcast(channel, payload)
	return nil
}

func (c *MemoryClient) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch, cancel := c.hub.join(channel)
	return ch, cancel, nil
}

// Close stops the sweeper and closes every open subscription.
func (c *MemoryClient) Close() error {
	c.shutdown.Do(func() {
		close(c.done)
		c.hub.closeAll()
	})
	return nil
}

func (c *MemoryClient) evictLocked() {
	victim, first := "", true
	var soonest time.Time
	for k, e := range c.entries {
		if first || e.expires.Before(soonest) {
			victim, soonest, first = k, e.expires, false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}

func (c *MemoryClient) removeWhere(match func(string, entry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if match(k, e) {
			delete(c.entries, k)
		}
	}
}

func (c *MemoryClient) sweepLoop() {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-t.C:
			c.removeWhere(func(_ string, e entry) bool { return e.expired(now) })
		}
	}
}

// hub fans payloads out to per-channel subscriber sets.
type hub struct {
	mu     sync.Mutex
	nextID uint64
	rooms  map[string]map[uint64]chan []byte
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[uint64]chan []byte)}
}

func (h *hub) join(channel string) (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan []byte, subscriberBuffer)
	room, ok := h.rooms[channel]
	if !ok {
		room = make(map[uint64]chan []byte)
		h.rooms[channel] = room
	}
	room[id] = ch

	var once sync.Once
	return ch, func() { once.Do(func() { h.leave(channel, id) }) }
}

func (h *hub) leave(channel string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[channel]
	if ch, ok := room[id]; ok {
		close(ch)
		delete(room, id)
	}
	if len(room) == 0 {
		delete(h.rooms, channel)
	}
}

func (h *hub) broadcast(channel string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.rooms[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, room := range h.rooms {
		for _, ch := range room {
			close(ch)
		}
		delete(h.rooms, channel)
	}
}
