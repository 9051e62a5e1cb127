// Package book implements a single-instrument limit order book: an ordered
// collection of resting Buy and Sell orders, the matching algorithm that
// crosses an incoming order against the contra side, and an id index for
// O(1) cancellation lookup.
package book

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/tidwall/btree"

	"matchbook/internal/domain"
)

var (
	// ErrMismatchedSymbol is wrapped into the panic raised by Add when the
	// caller passes an order for a different instrument than this book.
	ErrMismatchedSymbol = errors.New("book: order symbol does not match book symbol")
)

// priceLevel is one price point on one side of the book: a FIFO queue of
// resting orders, oldest first.
type priceLevel struct {
	price  domain.Price
	orders *list.List // of *restingHandle
}

// restingHandle is the single owned reference to a resting order shared
// between a priceLevel's FIFO queue and the book's id index -- there is no
// duplicated ownership, per Design Notes §9.
type restingHandle struct {
	order *domain.Order
	side  domain.Side
	level *priceLevel
	elem  *list.Element
}

type sideTree = btree.BTreeG[*priceLevel]

// Book holds all resting state for one instrument.
type Book struct {
	Symbol string

	bids *sideTree
	asks *sideTree

	ids map[string][]*restingHandle

	clock          int64
	lastUpdateTime int64
}

// New creates an empty book for symbol.
func New(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids:   btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price > b.price }),
		asks:   btree.NewBTreeG(func(a, b *priceLevel) bool { return a.price < b.price }),
		ids:    make(map[string][]*restingHandle),
	}
}

func (b *Book) treeFor(side domain.Side) *sideTree {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

func (b *Book) contraTreeFor(side domain.Side) *sideTree {
	if side == domain.Buy {
		return b.asks
	}
	return b.bids
}

func (b *Book) touch() {
	b.clock++
	b.lastUpdateTime = b.clock
}

// Add inserts a resting Limit order into the appropriate side, preserving
// price-time priority. Calling Add with a Market order, an order for a
// different symbol, or an order with zero remaining quantity is a
// programmer error and panics.
func (b *Book) Add(order *domain.Order) {
	if order.Kind != domain.Limit {
		panic(fmt.Sprintf("book: Add called with non-Limit order %q", order.ID))
	}
	if order.Symbol != b.Symbol {
		panic(fmt.Errorf("book %q: %w: order %q has symbol %q", b.Symbol, ErrMismatchedSymbol, order.ID, order.Symbol))
	}
	if order.Remaining() == 0 {
		panic(fmt.Sprintf("book: Add called with fully-filled order %q", order.ID))
	}

	tree := b.treeFor(order.Side)
	level, ok := tree.GetMut(&priceLevel{price: order.Price})
	if !ok {
		level = &priceLevel{price: order.Price, orders: list.New()}
		tree.Set(level)
	}

	handle := &restingHandle{order: order, side: order.Side, level: level}
	handle.elem = level.orders.PushBack(handle)
	b.ids[order.ID] = append(b.ids[order.ID], handle)

	b.touch()
}

// Cancel removes the FIFO-first resting order matching id, if any, and
// reports whether one was found.
func (b *Book) Cancel(id string) bool {
	handles := b.ids[id]
	if len(handles) == 0 {
		return false
	}

	h := handles[0]
	b.detach(h)
	if len(handles) == 1 {
		delete(b.ids, id)
	} else {
		b.ids[id] = append([]*restingHandle{}, handles[1:]...)
	}
	h.order.Status = domain.Cancelled

	b.touch()
	return true
}

// detach splices a resting handle out of its price level's FIFO queue,
// deleting the level if it becomes empty.
func (b *Book) detach(h *restingHandle) {
	h.level.orders.Remove(h.elem)
	if h.level.orders.Len() == 0 {
		b.treeFor(h.side).Delete(&priceLevel{price: h.level.price})
	}
}

// dropFromIndex splices handle out of the id index only; the caller is
// responsible for removing it from its price level's FIFO queue first.
func (b *Book) dropFromIndex(h *restingHandle) {
	handles := b.ids[h.order.ID]
	for i, candidate := range handles {
		if candidate == h {
			handles = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(handles) == 0 {
		delete(b.ids, h.order.ID)
	} else {
		b.ids[h.order.ID] = handles
	}
}

// crosses reports whether incoming is willing to execute against a maker
// resting at makerPrice, per §4.1's cross check.
func crosses(incoming *domain.Order, makerPrice domain.Price) bool {
	if incoming.Kind == domain.Market {
		return true
	}
	if incoming.Side == domain.Buy {
		return incoming.Price >= makerPrice
	}
	return incoming.Price <= makerPrice
}

// Match processes incoming against the contra side under strict
// price-time priority, returning the chronologically ordered trades
// produced. It never adds the residual back to the book -- the caller
// (Engine) decides whether and how to rest it.
func (b *Book) Match(incoming *domain.Order) []domain.Trade {
	if incoming.Remaining() == 0 {
		return nil
	}

	contra := b.contraTreeFor(incoming.Side)
	var trades []domain.Trade

	for incoming.Remaining() > 0 {
		level, ok := contra.MinMut()
		if !ok {
			break
		}
		if !crosses(incoming, level.price) {
			break
		}

		front := level.orders.Front()
		h := front.Value.(*restingHandle)
		maker := h.order

		fill := min(incoming.Remaining(), maker.Remaining())
		incoming.ApplyFill(fill)
		maker.ApplyFill(fill)

		trade := domain.Trade{Price: level.price, Size: fill, Timestamp: incoming.Timestamp}
		if incoming.Side == domain.Buy {
			trade.BuyOrderID, trade.SellOrderID = incoming.ID, maker.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = maker.ID, incoming.ID
		}
		trades = append(trades, trade)

		if maker.Remaining() == 0 {
			level.orders.Remove(front)
			b.dropFromIndex(h)
			if level.orders.Len() == 0 {
				contra.Delete(&priceLevel{price: level.price})
			}
		}
	}

	if len(trades) > 0 {
		b.touch()
	}
	return trades
}

// BestBid returns the best (highest) resting buy price, or NoBid if the
// buy side is empty.
func (b *Book) BestBid() domain.Price {
	level, ok := b.bids.Min()
	if !ok {
		return domain.NoBid
	}
	return level.price
}

// BestAsk returns the best (lowest) resting sell price, or NoAsk if the
// sell side is empty.
func (b *Book) BestAsk() domain.Price {
	level, ok := b.asks.Min()
	if !ok {
		return domain.NoAsk
	}
	return level.price
}

// VolumeAtPrice sums the remaining quantity of every resting order on side
// at exactly price.
func (b *Book) VolumeAtPrice(side domain.Side, price domain.Price) uint64 {
	level, ok := b.treeFor(side).Get(&priceLevel{price: price})
	if !ok {
		return 0
	}
	var total uint64
	for e := level.orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*restingHandle).order.Remaining()
	}
	return total
}

// Orders enumerates every resting order in the book, bids before asks,
// each side in price-time priority order.
func (b *Book) Orders() []*domain.Order {
	var out []*domain.Order
	collect := func(level *priceLevel) bool {
		for e := level.orders.Front(); e != nil; e = e.Next() {
			out = append(out, e.Value.(*restingHandle).order)
		}
		return true
	}
	b.bids.Scan(collect)
	b.asks.Scan(collect)
	return out
}

// LastUpdateTime returns the book's internal mutation counter, bumped on
// every successful Add, Cancel, or matching Match call.
func (b *Book) LastUpdateTime() int64 {
	return b.lastUpdateTime
}
