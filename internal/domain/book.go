// Package domain defines the core types and interfaces shared by every layer
// of the bot: orderbook and price data, market snapshots, opportunities,
// order plans, execution records, risk state, and the store/cache contracts
// implemented by the infrastructure packages.
package domain

import (
	"fmt"
	"time"
)

// TokenSide identifies one of the two complementary outcome tokens of a
// binary market. The venue labels them UP/DOWN for interval markets; they
// behave exactly like YES/NO.
type TokenSide string

const (
	TokenSideUp   TokenSide = "up"
	TokenSideDown TokenSide = "down"
)

// Opposite returns the complementary token side.
func (s TokenSide) Opposite() TokenSide {
	if s == TokenSideUp {
		return TokenSideDown
	}
	return TokenSideUp
}

// PriceLevel is a single price+size entry in an orderbook ladder.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookSide holds the two ladders for one outcome token. Bids are sorted by
// price descending, asks ascending; ValidateLadders enforces this.
type BookSide struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// BestBid returns the highest bid price, or false if the ladder is empty.
func (b BookSide) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or false if the ladder is empty.
func (b BookSide) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// ValidateLadders checks the ladder ordering invariant: bids monotonically
// non-increasing and asks monotonically non-decreasing by price.
func (b BookSide) ValidateLadders() error {
	for i := 1; i < len(b.Bids); i++ {
		if b.Bids[i].Price > b.Bids[i-1].Price {
			return fmt.Errorf("domain: bid ladder not non-increasing at level %d (%.4f > %.4f)",
				i, b.Bids[i].Price, b.Bids[i-1].Price)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price < b.Asks[i-1].Price {
			return fmt.Errorf("domain: ask ladder not non-decreasing at level %d (%.4f < %.4f)",
				i, b.Asks[i].Price, b.Asks[i-1].Price)
		}
	}
	return nil
}

// OrderBookSnapshot is a full snapshot of both outcome tokens' ladders for
// one market. Best bid/ask are derived via BookSide, never stored.
type OrderBookSnapshot struct {
	MarketID  string
	Up        BookSide
	Down      BookSide
	Timestamp time.Time
}

// Side returns the ladders for the given token side.
func (s OrderBookSnapshot) Side(side TokenSide) BookSide {
	if side == TokenSideUp {
		return s.Up
	}
	return s.Down
}

// Validate checks the ladder ordering invariant on both sides.
func (s OrderBookSnapshot) Validate() error {
	if err := s.Up.ValidateLadders(); err != nil {
		return fmt.Errorf("up side: %w", err)
	}
	if err := s.Down.ValidateLadders(); err != nil {
		return fmt.Errorf("down side: %w", err)
	}
	return nil
}

// MidImpliedProbability returns the mid price of the UP token, which for a
// binary market is the implied probability of the UP outcome. Returns false
// when either top-of-book is missing.
func (s OrderBookSnapshot) MidImpliedProbability() (float64, bool) {
	bid, okB := s.Up.BestBid()
	ask, okA := s.Up.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid + ask) / 2, true
}
