package domain

import "math"

// Price is a fixed-point price expressed in ticks. Using a scaled integer
// instead of float64 avoids the rounding hazards of binary floating point
// when comparing or summing execution prices.
type Price int64

// PriceScale ticks make up one unit of quoted currency (e.g. 1/10000 of a
// dollar). Callers converting from a decimal price should round to the
// nearest tick before constructing an Order.
const PriceScale = 10000

// NoBid is the best-bid sentinel when no buy orders rest in a book, and is
// also the literal price written onto a Market Sell order (it always
// crosses any resting bid, since every bid price is >= 0).
const NoBid Price = 0

// NoAsk is the best-ask sentinel when no sell orders rest in a book, and is
// also the literal price written onto a Market Buy order (it always crosses
// any resting ask, since every ask price is <= NoAsk).
const NoAsk Price = math.MaxInt64

// FromFloat rounds a decimal price to the nearest tick.
func FromFloat(f float64) Price {
	return Price(math.Round(f * PriceScale))
}

// Float returns the price as a decimal value, for display purposes only.
func (p Price) Float() float64 {
	return float64(p) / PriceScale
}
