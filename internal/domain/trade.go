package domain

// Trade records a single execution between a resting maker order and a
// crossing taker order. Price is always the maker's price (§ GLOSSARY:
// "Execution price is the maker's").
type Trade struct {
	BuyOrderID  string
	SellOrderID string
	Size        uint64
	Price       Price
	Timestamp   int64
}
