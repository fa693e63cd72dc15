// Package orderbook reconstructs a single venue symbol's order book from a
// full snapshot followed by incremental deltas.
package orderbook

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Book is the local view of one symbol's order book on one venue. Levels are
// keyed by the canonical decimal string of their price so "100.50" and
// "100.5" address the same level.
//
// A Book is not safe for concurrent use; the venue actor owning it
// serializes all access.
type Book struct {
	symbol  string
	bids    map[string]domain.PriceLevel
	asks    map[string]domain.PriceLevel
	ready   bool
	lastSeq int64
	logger  *slog.Logger
}

// New creates an empty Book awaiting its first snapshot.
func New(symbol string, logger *slog.Logger) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	return &Book{
		symbol: symbol,
		bids:   make(map[string]domain.PriceLevel),
		asks:   make(map[string]domain.PriceLevel),
		logger: logger.With(slog.String("symbol", symbol)),
	}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// Ready reports whether a snapshot has been applied since creation or the
// last Reset.
func (b *Book) Ready() bool { return b.ready }

// LastSeq returns the sequence number carried by the last applied message.
// It is informational only.
func (b *Book) LastSeq() int64 { return b.lastSeq }

// ApplySnapshot replaces the whole book. Malformed levels are dropped and
// logged; the remaining levels are applied.
func (b *Book) ApplySnapshot(bids, asks []domain.RawLevel, seq int64) {
	b.bids = make(map[string]domain.PriceLevel, len(bids))
	b.asks = make(map[string]domain.PriceLevel, len(asks))
	for _, raw := range bids {
		b.upsert(b.bids, domain.SideBid, raw)
	}
	for _, raw := range asks {
		b.upsert(b.asks, domain.SideAsk, raw)
	}
	b.ready = true
	b.lastSeq = seq
}

// ApplyDelta applies incremental level changes to one side. A level with
// size zero is removed, any other size replaces the level. Deltas that
// arrive before the first snapshot are discarded and ApplyDelta returns
// false.
func (b *Book) ApplyDelta(side domain.Side, levels []domain.RawLevel, seq int64) bool {
	if !b.ready {
		return false
	}
	var target map[string]domain.PriceLevel
	switch side {
	case domain.SideBid:
		target = b.bids
	case domain.SideAsk:
		target = b.asks
	default:
		b.logger.Warn("dropping delta with unknown side", slog.String("side", string(side)))
		return false
	}
	for _, raw := range levels {
		b.upsert(target, side, raw)
	}
	b.lastSeq = seq
	return true
}

// Reset discards all state. Deltas are ignored until the next snapshot.
func (b *Book) Reset() {
	clear(b.bids)
	clear(b.asks)
	b.ready = false
	b.lastSeq = 0
}

// BestBid returns the highest-priced bid level.
func (b *Book) BestBid() (domain.PriceLevel, bool) {
	var best domain.PriceLevel
	found := false
	for _, lvl := range b.bids {
		if !found || lvl.Price.GreaterThan(best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}

// BestAsk returns the lowest-priced ask level.
func (b *Book) BestAsk() (domain.PriceLevel, bool) {
	var best domain.PriceLevel
	found := false
	for _, lvl := range b.asks {
		if !found || lvl.Price.LessThan(best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}

// Depth returns the number of levels held on each side.
func (b *Book) Depth() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

// upsert parses raw and writes it into side. Size zero deletes the level.
func (b *Book) upsert(levels map[string]domain.PriceLevel, side domain.Side, raw domain.RawLevel) {
	lvl, err := parseLevel(raw)
	if err != nil {
		b.logger.Warn("dropping malformed level",
			slog.String("side", string(side)),
			slog.String("price", raw.Price),
			slog.String("size", raw.Size),
			slog.String("error", err.Error()),
		)
		return
	}
	key := lvl.Price.String()
	if lvl.Size.IsZero() {
		delete(levels, key)
		return
	}
	levels[key] = lvl
}

func parseLevel(raw domain.RawLevel) (domain.PriceLevel, error) {
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("orderbook: parse price: %w", domain.ErrInvalidInput)
	}
	size, err := decimal.NewFromString(raw.Size)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("orderbook: parse size: %w", domain.ErrInvalidInput)
	}
	if !price.IsPositive() {
		return domain.PriceLevel{}, fmt.Errorf("orderbook: non-positive price: %w", domain.ErrInvalidInput)
	}
	if size.IsNegative() {
		return domain.PriceLevel{}, fmt.Errorf("orderbook: negative size: %w", domain.ErrInvalidInput)
	}
	return domain.PriceLevel{Price: price, Size: size}, nil
}
