// Package engine owns a mapping from instrument symbol to book.Book,
// routes inbound orders to the right book under a single serialization
// primitive, assigns arrival timestamps, and fans out trade records to
// registered observers.
package engine

import (
	"sync"

	"github.com/rs/zerolog/log"

	"matchbook/internal/book"
	"matchbook/internal/domain"
)

// TradeObserver is invoked synchronously, on the caller's goroutine, for
// every trade produced by a place_* call, in emission order. Observers
// must not reentrantly call back into the Engine -- doing so deadlocks.
// This is left undefined rather than defensively detected.
type TradeObserver func(domain.Trade)

// idEntry records which symbol an order id was routed to, so Cancel needs
// only the id.
type idEntry struct {
	symbol string
	order  *domain.Order
}

// Engine is the multi-symbol matching engine. It is an owned aggregate:
// callers construct one with New and hold it explicitly, there is no
// process-wide singleton.
type Engine struct {
	mu sync.Mutex

	books     map[string]*book.Book
	idIndex   map[string][]*idEntry
	observers []TradeObserver
	clock     int64
}

// New creates an engine with a book pre-created for each of symbols.
func New(symbols ...string) *Engine {
	e := &Engine{
		books:   make(map[string]*book.Book),
		idIndex: make(map[string][]*idEntry),
	}
	for _, s := range symbols {
		e.addBookLocked(s)
	}
	return e
}

// AddBook creates a fresh book for symbol if none exists yet; idempotent.
func (e *Engine) AddBook(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.addBookLocked(symbol)
}

func (e *Engine) addBookLocked(symbol string) {
	if _, ok := e.books[symbol]; ok {
		return
	}
	e.books[symbol] = book.New(symbol)
}

// GetBook returns the book for symbol, if one exists.
func (e *Engine) GetBook(symbol string) (*book.Book, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[symbol]
	return b, ok
}

// AllBooks returns every book currently registered, keyed by symbol.
func (e *Engine) AllBooks() map[string]*book.Book {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]*book.Book, len(e.books))
	for symbol, b := range e.books {
		out[symbol] = b
	}
	return out
}

// RegisterTradeObserver appends obs to the ordered notification list.
func (e *Engine) RegisterTradeObserver(obs TradeObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, obs)
}

func (e *Engine) nextTimestamp() int64 {
	e.clock++
	return e.clock
}

// PlaceLimit constructs a Limit order, matches it against the book for
// symbol, rests any remainder, and returns the trades produced. If symbol
// has no book, it returns nil without touching any state.
func (e *Engine) PlaceLimit(symbol, id string, side domain.Side, size uint64, price domain.Price) []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[symbol]
	if !ok {
		return nil
	}

	order := &domain.Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Kind:      domain.Limit,
		Size:      size,
		Price:     price,
		Timestamp: e.nextTimestamp(),
		Status:    domain.New,
	}

	trades := b.Match(order)

	if order.Remaining() > 0 {
		b.Add(order)
		e.idIndex[id] = append(e.idIndex[id], &idEntry{symbol: symbol, order: order})
	}

	e.emit(trades)
	return trades
}

// PlaceMarket constructs a Market order, matches it against the book for
// symbol, and discards it regardless of residual (Market orders never
// rest). If symbol has no book, it returns nil without touching any
// state.
func (e *Engine) PlaceMarket(symbol, id string, side domain.Side, size uint64) []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.books[symbol]
	if !ok {
		return nil
	}

	price := domain.NoAsk
	if side == domain.Sell {
		price = domain.NoBid
	}

	order := &domain.Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Kind:      domain.Market,
		Size:      size,
		Price:     price,
		Timestamp: e.nextTimestamp(),
		Status:    domain.New,
	}

	trades := b.Match(order)
	// Market orders are never registered in the id index and never rest,
	// regardless of residual quantity.

	e.emit(trades)
	return trades
}

// Cancel looks up id in the engine's index and, if found, instructs the
// owning book to cancel the FIFO-first matching resting order. Observer
// callbacks are not invoked for cancellations.
//
// An idIndex entry goes stale when its order is later fully consumed as
// a maker in some other Match call -- the Book drops it from its own id
// index at that point, but has no way to notify the Engine. Cancel
// prunes stale entries as it walks the list and only reports failure
// once every entry for id has been tried and failed.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.idIndex[id]
	for i, entry := range entries {
		b, ok := e.books[entry.symbol]
		if ok && b.Cancel(id) {
			remaining := append([]*idEntry{}, entries[i+1:]...)
			if len(remaining) == 0 {
				delete(e.idIndex, id)
			} else {
				e.idIndex[id] = remaining
			}
			return true
		}
		// entry's book no longer holds this resting order -- stale, try
		// the next entry.
	}

	delete(e.idIndex, id)
	return false
}

// emit notifies every registered observer of every trade, in order, while
// the engine's mutex is still held, so an observer always sees a
// consistent view of engine state.
func (e *Engine) emit(trades []domain.Trade) {
	for _, trade := range trades {
		log.Debug().
			Str("buy", trade.BuyOrderID).
			Str("sell", trade.SellOrderID).
			Uint64("size", trade.Size).
			Int64("price", int64(trade.Price)).
			Msg("trade executed")
		for _, obs := range e.observers {
			obs(trade)
		}
	}
}
