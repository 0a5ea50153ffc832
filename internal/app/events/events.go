// Package events records marketplace activity in a bounded in-memory
// log and fans it out to subscribers. The log is advisory: services
// emit after state changes commit, and consumers (HTTP feed, metrics,
// tests) read recent history or subscribe for live updates.
package events

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/listing"
	"github.com/Aynn-Network/marketplace_layer/internal/app/domain/offer"
)

// Type identifies what happened.
type Type string

const (
	ItemListed    Type = "item.listed"
	ItemUpdated   Type = "item.updated"
	ItemDeleted   Type = "item.deleted"
	ItemPurchased Type = "item.purchased"
	OfferCreated  Type = "offer.created"
	OfferUpdated  Type = "offer.updated"
	OfferDeleted  Type = "offer.deleted"
	OfferAccepted Type = "offer.accepted"
)

// Event is one marketplace occurrence. Listing and Offer carry the
// post-state record when relevant; Amount is the currency that moved.
type Event struct {
	ID            string
	Type          Type
	Timestamp     time.Time
	AssetContract string
	AssetID       uint64
	Actor         string
	Counterparty  string
	Amount        *big.Int
	Listing       *listing.Listing
	Offer         *offer.Offer
}

// Handler receives events from Subscribe.
type Handler func(Event)

// Log is a fixed-capacity ring of recent events.
type Log struct {
	mu       sync.RWMutex
	buf      []Event
	next     int
	full     bool
	handlers map[int]Handler
	nextSub  int
}

// NewLog creates a log retaining the most recent capacity events.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Log{
		buf:      make([]Event, capacity),
		handlers: make(map[int]Handler),
	}
}

// Emit records the event, filling in ID and timestamp, and notifies
// subscribers synchronously.
func (l *Log) Emit(ev Event) Event {
	ev.ID = uuid.NewString()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.buf[l.next] = ev
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	handlers := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return ev
}

// Subscribe registers a handler for future events and returns an
// unsubscribe function.
func (l *Log) Subscribe(h Handler) func() {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.handlers[id] = h
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}
}

// Recent returns up to n most recent events, newest first.
func (l *Log) Recent(n int) []Event {
	return l.collect(n, func(Event) bool { return true })
}

// RecentByType returns up to n most recent events of the given type,
// newest first.
func (l *Log) RecentByType(t Type, n int) []Event {
	return l.collect(n, func(ev Event) bool { return ev.Type == t })
}

// Len returns how many events the log currently retains.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

func (l *Log) collect(n int, keep func(Event) bool) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	for i := 1; i <= size && len(out) < n; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		if keep(l.buf[idx]) {
			out = append(out, l.buf[idx])
		}
	}
	return out
}
