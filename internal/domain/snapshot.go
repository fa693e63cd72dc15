package domain

import "time"

// Granularity selects which persisted price series a read targets.
type Granularity string

const (
	GranularitySnapshot Granularity = "snapshot"
	GranularityMinute   Granularity = "minute"
)

// Valid reports whether g names a known series.
func (g Granularity) Valid() bool {
	return g == GranularitySnapshot || g == GranularityMinute
}

// Snapshot is the persisted result of flushing one window for one symbol.
// Nil statistics mean the side was never observed in the window.
type Snapshot struct {
	Source    string    `json:"source"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	AvgBid    *float64  `json:"avg_bid"`
	AvgAsk    *float64  `json:"avg_ask"`
	AvgSpread *float64  `json:"avg_spread"`
	MinBid    *float64  `json:"min_bid"`
	MaxBid    *float64  `json:"max_bid"`
	MinAsk    *float64  `json:"min_ask"`
	MaxAsk    *float64  `json:"max_ask"`
	TickCount int64     `json:"tick_count"`
}

// MinuteRecord is the rollup of every Snapshot of one symbol inside a 60s
// span. It shares the Snapshot row shape; Timestamp is the minute start.
type MinuteRecord Snapshot

// ExchangePrice is the price of a symbol on one exchange at a point in time.
type ExchangePrice struct {
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
}
