package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one half of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// RawLevel is a level exactly as it arrived on the wire. Parsing is deferred
// to the order book so one malformed level can be dropped on its own.
type RawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// EventKind tags the payload carried by a FeedEvent.
type EventKind int

const (
	EventTick EventKind = iota
	EventBookSnapshot
	EventBookDelta
	// EventReset is emitted by a feed after it reconnects. Local book state
	// for the venue is stale from that point on.
	EventReset
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventBookSnapshot:
		return "snapshot"
	case EventBookDelta:
		return "delta"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// FeedEvent is the normalized unit delivered by any venue feed.
//
// For EventTick, Bid and Ask hold the best prices; zero means the side was
// absent in this tick. For EventBookSnapshot both Bids and Asks are set. For
// EventBookDelta, Side selects which of Bids/Asks is applied.
type FeedEvent struct {
	Kind       EventKind
	Venue      string
	Symbol     string
	Bid        float64
	Ask        float64
	Side       Side
	Bids       []RawLevel
	Asks       []RawLevel
	Seq        int64
	ReceivedAt time.Time
}

// Tick is one observed best-bid/best-ask pair for a symbol. A zero Bid or Ask
// means that side was not observed.
type Tick struct {
	Symbol string
	Bid    float64
	Ask    float64
}
