package aggregator

import (
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// bucket accumulates one symbol's ticks for the open window.
type bucket struct {
	bidSum, askSum, spreadSum       float64
	bidCount, askCount, spreadCount int64
	minBid, maxBid                  float64
	minAsk, maxAsk                  float64
}

func (b *bucket) add(bid, ask float64) {
	if bid > 0 {
		if b.bidCount == 0 || bid < b.minBid {
			b.minBid = bid
		}
		if b.bidCount == 0 || bid > b.maxBid {
			b.maxBid = bid
		}
		b.bidSum += bid
		b.bidCount++
	}
	if ask > 0 {
		if b.askCount == 0 || ask < b.minAsk {
			b.minAsk = ask
		}
		if b.askCount == 0 || ask > b.maxAsk {
			b.maxAsk = ask
		}
		b.askSum += ask
		b.askCount++
	}
	if bid > 0 && ask > 0 {
		b.spreadSum += ask - bid
		b.spreadCount++
	}
}

func (b *bucket) empty() bool {
	return b.bidCount == 0 && b.askCount == 0
}

func (b *bucket) snapshot(source, symbol string, ts time.Time) domain.Snapshot {
	s := domain.Snapshot{
		Source:    source,
		Symbol:    symbol,
		Timestamp: ts,
		TickCount: max(b.bidCount, b.askCount),
	}
	if b.bidCount > 0 {
		s.AvgBid = ptr(b.bidSum / float64(b.bidCount))
		s.MinBid = ptr(b.minBid)
		s.MaxBid = ptr(b.maxBid)
	}
	if b.askCount > 0 {
		s.AvgAsk = ptr(b.askSum / float64(b.askCount))
		s.MinAsk = ptr(b.minAsk)
		s.MaxAsk = ptr(b.maxAsk)
	}
	if b.spreadCount > 0 {
		s.AvgSpread = ptr(b.spreadSum / float64(b.spreadCount))
	}
	return s
}

func ptr(v float64) *float64 { return &v }
