package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchbook/internal/domain"
)

func TestNew_PreCreatesBooks(t *testing.T) {
	e := New("AAPL", "MSFT")

	_, ok := e.GetBook("AAPL")
	assert.True(t, ok)
	_, ok = e.GetBook("MSFT")
	assert.True(t, ok)
	_, ok = e.GetBook("GOOG")
	assert.False(t, ok)
}

func TestAddBook_Idempotent(t *testing.T) {
	e := New()
	e.AddBook("AAPL")

	trades := e.PlaceLimit("AAPL", "A", domain.Buy, 100, domain.FromFloat(10))
	assert.Empty(t, trades)

	e.AddBook("AAPL")
	b, ok := e.GetBook("AAPL")
	require.True(t, ok)
	assert.Equal(t, domain.FromFloat(10), b.BestBid())
}

func TestPlaceLimit_UnknownSymbolIsNoop(t *testing.T) {
	e := New()
	trades := e.PlaceLimit("AAPL", "A", domain.Buy, 100, domain.FromFloat(10))
	assert.Nil(t, trades)

	_, ok := e.GetBook("AAPL")
	assert.False(t, ok)
}

func TestPlaceMarket_UnknownSymbolIsNoop(t *testing.T) {
	e := New()
	trades := e.PlaceMarket("AAPL", "A", domain.Buy, 100)
	assert.Nil(t, trades)
}

func TestPlaceLimit_RestsAndRegistersIndexOnlyWhenResting(t *testing.T) {
	e := New("AAPL")

	trades := e.PlaceLimit("AAPL", "SELLER", domain.Sell, 100, domain.FromFloat(10))
	assert.Empty(t, trades)

	trades = e.PlaceLimit("AAPL", "BUYER", domain.Buy, 100, domain.FromFloat(10))
	require.Len(t, trades, 1)
	assert.Equal(t, "BUYER", trades[0].BuyOrderID)
	assert.Equal(t, "SELLER", trades[0].SellOrderID)

	assert.False(t, e.Cancel("BUYER"), "fully matched order should never have rested")
	assert.False(t, e.Cancel("SELLER"), "fully matched maker should no longer be cancellable")
}

func TestPlaceMarket_NeverRests(t *testing.T) {
	e := New("AAPL")

	trades := e.PlaceMarket("AAPL", "M1", domain.Buy, 100)
	assert.Empty(t, trades)

	assert.False(t, e.Cancel("M1"), "market orders must never rest, matched or not")
}

func TestCancel_RoutesToCorrectBook(t *testing.T) {
	e := New("AAPL", "MSFT")

	e.PlaceLimit("AAPL", "X", domain.Buy, 100, domain.FromFloat(10))
	e.PlaceLimit("MSFT", "X", domain.Buy, 50, domain.FromFloat(20))

	aapl, _ := e.GetBook("AAPL")
	msft, _ := e.GetBook("MSFT")

	assert.True(t, e.Cancel("X"))
	assert.Equal(t, domain.NoBid, aapl.BestBid(), "first-registered entry for id X belongs to AAPL")
	assert.Equal(t, domain.FromFloat(20), msft.BestBid())

	assert.True(t, e.Cancel("X"))
	assert.Equal(t, domain.NoBid, msft.BestBid())

	assert.False(t, e.Cancel("X"))
}

func TestCancel_PrunesStaleEntryAfterFullFillAsMakerOnDifferentSymbol(t *testing.T) {
	e := New("AAPL", "MSFT")

	e.PlaceLimit("AAPL", "X", domain.Sell, 100, domain.FromFloat(10))
	trades := e.PlaceLimit("AAPL", "BUYER", domain.Buy, 100, domain.FromFloat(10))
	require.Len(t, trades, 1, "X must be fully consumed as maker, leaving a stale AAPL idIndex entry")

	e.PlaceLimit("MSFT", "X", domain.Sell, 50, domain.FromFloat(20))

	assert.True(t, e.Cancel("X"), "stale AAPL entry for X must be pruned so the live MSFT resting order is still cancellable")

	msft, _ := e.GetBook("MSFT")
	assert.Equal(t, domain.NoAsk, msft.BestAsk())

	assert.False(t, e.Cancel("X"), "no entries for X should remain after the successful cancel")
}

func TestObservers_InvokedSynchronouslyInOrderOfRegistration(t *testing.T) {
	e := New("AAPL")

	var mu sync.Mutex
	var calls []string

	e.RegisterTradeObserver(func(tr domain.Trade) {
		mu.Lock()
		calls = append(calls, "first:"+tr.BuyOrderID)
		mu.Unlock()
	})
	e.RegisterTradeObserver(func(tr domain.Trade) {
		mu.Lock()
		calls = append(calls, "second:"+tr.BuyOrderID)
		mu.Unlock()
	})

	e.PlaceLimit("AAPL", "S1", domain.Sell, 100, domain.FromFloat(10))
	e.PlaceLimit("AAPL", "B1", domain.Buy, 100, domain.FromFloat(10))

	require.Len(t, calls, 2)
	assert.Equal(t, "first:B1", calls[0])
	assert.Equal(t, "second:B1", calls[1])
}

func TestObservers_OneCallPerTradeInEmissionOrder(t *testing.T) {
	e := New("AAPL")

	var trades []domain.Trade
	e.RegisterTradeObserver(func(tr domain.Trade) {
		trades = append(trades, tr)
	})

	e.PlaceLimit("AAPL", "S1", domain.Sell, 50, domain.FromFloat(9))
	e.PlaceLimit("AAPL", "S2", domain.Sell, 50, domain.FromFloat(10))
	e.PlaceLimit("AAPL", "B1", domain.Buy, 100, domain.FromFloat(10))

	require.Len(t, trades, 2)
	assert.Equal(t, "S1", trades[0].SellOrderID)
	assert.Equal(t, "S2", trades[1].SellOrderID)
}

func TestAllBooks_ReturnsIndependentSnapshot(t *testing.T) {
	e := New("AAPL")
	snapshot := e.AllBooks()
	require.Len(t, snapshot, 1)

	e.AddBook("MSFT")
	assert.Len(t, snapshot, 1, "snapshot taken before AddBook must not observe it")

	snapshot2 := e.AllBooks()
	assert.Len(t, snapshot2, 2)
}

func TestTimestamps_AreMonotonicAcrossSymbols(t *testing.T) {
	e := New("AAPL", "MSFT")

	e.PlaceLimit("AAPL", "A", domain.Buy, 10, domain.FromFloat(1))
	e.PlaceLimit("MSFT", "B", domain.Buy, 10, domain.FromFloat(1))

	aapl, _ := e.GetBook("AAPL")
	msft, _ := e.GetBook("MSFT")

	aaplOrders := aapl.Orders()
	msftOrders := msft.Orders()
	require.Len(t, aaplOrders, 1)
	require.Len(t, msftOrders, 1)
	assert.Less(t, aaplOrders[0].Timestamp, msftOrders[0].Timestamp)
}
