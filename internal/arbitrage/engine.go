// Package arbitrage computes cross-exchange price differences from persisted
// window and minute prices.
package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// ScanRequest selects the exchanges and symbols compared by Scan.
type ScanRequest struct {
	Exchanges        []string
	Symbols          []string // empty means every symbol
	MinProfitPercent float64
	Granularity      domain.Granularity // defaults to snapshot
}

// HistoryRequest selects one symbol over a closed time range.
type HistoryRequest struct {
	Exchanges   []string
	Symbol      string
	From        time.Time
	To          time.Time
	Granularity domain.Granularity // defaults to minute
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Reader domain.PriceReader
	Logger *slog.Logger
	Now    func() time.Time
}

// Engine is read-only and safe for concurrent use.
type Engine struct {
	reader domain.PriceReader
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine reading through cfg.Reader.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		reader: cfg.Reader,
		logger: logger.With(slog.String("component", "arbitrage")),
		now:    now,
	}
}

// LatestPrices returns the newest valid price per symbol on one exchange.
// Rows with a non-positive bid or ask are dropped.
func (e *Engine) LatestPrices(ctx context.Context, exchange string, g domain.Granularity, symbols []string) ([]domain.ExchangePrice, error) {
	if g == "" {
		g = domain.GranularitySnapshot
	}
	if !g.Valid() {
		return nil, fmt.Errorf("arbitrage: granularity %q: %w", g, domain.ErrInvalidInput)
	}
	rows, err := e.reader.LatestPriceRows(ctx, exchange, g, symbols)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: latest prices %s: %w", exchange, err)
	}
	return e.valid(rows), nil
}

// Scan compares the latest price of every symbol across each pair of
// exchanges in both directions and returns opportunities at or above
// req.MinProfitPercent, best first.
func (e *Engine) Scan(ctx context.Context, req ScanRequest) ([]domain.Opportunity, error) {
	exchanges := dedupe(req.Exchanges)
	if len(exchanges) < 2 {
		return nil, domain.ErrInsufficientExchanges
	}

	prices := make([][]domain.ExchangePrice, len(exchanges))
	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range exchanges {
		g.Go(func() error {
			rows, err := e.LatestPrices(gctx, ex, req.Granularity, req.Symbols)
			if err != nil {
				return err
			}
			prices[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// bySymbol[symbol][i] is exchange i's price, when present.
	bySymbol := make(map[string][]*domain.ExchangePrice)
	for i, rows := range prices {
		for j := range rows {
			p := &rows[j]
			if bySymbol[p.Symbol] == nil {
				bySymbol[p.Symbol] = make([]*domain.ExchangePrice, len(exchanges))
			}
			bySymbol[p.Symbol][i] = p
		}
	}

	now := e.now()
	var out []domain.Opportunity
	for _, row := range bySymbol {
		for i := 0; i < len(row); i++ {
			if row[i] == nil {
				continue
			}
			for j := i + 1; j < len(row); j++ {
				if row[j] == nil {
					continue
				}
				newest := row[i].Timestamp
				if row[j].Timestamp.After(newest) {
					newest = row[j].Timestamp
				}
				for _, leg := range [2][2]*domain.ExchangePrice{{row[i], row[j]}, {row[j], row[i]}} {
					opp := opportunity(leg[0], leg[1])
					if opp.ProfitPercent < req.MinProfitPercent {
						continue
					}
					opp.Timestamp = newest
					opp.DataAge = now.Sub(newest)
					out = append(out, opp)
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ProfitPercent != out[j].ProfitPercent {
			return out[i].ProfitPercent > out[j].ProfitPercent
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].BuyFrom < out[j].BuyFrom
	})
	return out, nil
}

// HistoricalArbitrage replays the pairwise comparison at every timestamp
// where at least two exchanges have a row for req.Symbol. No profit
// threshold is applied. Points are returned oldest first.
func (e *Engine) HistoricalArbitrage(ctx context.Context, req HistoryRequest) ([]domain.HistoricalPoint, error) {
	if req.Symbol == "" || req.From.IsZero() || req.To.IsZero() || req.To.Before(req.From) {
		return nil, domain.ErrInvalidRange
	}
	exchanges := dedupe(req.Exchanges)
	if len(exchanges) < 2 {
		return nil, domain.ErrInsufficientExchanges
	}
	gran := req.Granularity
	if gran == "" {
		gran = domain.GranularityMinute
	}
	if !gran.Valid() {
		return nil, fmt.Errorf("arbitrage: granularity %q: %w", gran, domain.ErrInvalidInput)
	}

	series := make([][]domain.ExchangePrice, len(exchanges))
	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range exchanges {
		g.Go(func() error {
			rows, err := e.reader.RangePriceRows(gctx, ex, gran, req.Symbol, req.From, req.To)
			if err != nil {
				return fmt.Errorf("arbitrage: range prices %s: %w", ex, err)
			}
			series[i] = e.valid(rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byTime := make(map[int64][]*domain.ExchangePrice)
	var stamps []int64
	for i, rows := range series {
		for j := range rows {
			key := rows[j].Timestamp.UnixNano()
			if byTime[key] == nil {
				byTime[key] = make([]*domain.ExchangePrice, len(exchanges))
				stamps = append(stamps, key)
			}
			byTime[key][i] = &rows[j]
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	var out []domain.HistoricalPoint
	for _, key := range stamps {
		row := byTime[key]
		for i := 0; i < len(row); i++ {
			if row[i] == nil {
				continue
			}
			for j := i + 1; j < len(row); j++ {
				if row[j] == nil {
					continue
				}
				for _, leg := range [2][2]*domain.ExchangePrice{{row[i], row[j]}, {row[j], row[i]}} {
					o := opportunity(leg[0], leg[1])
					out = append(out, domain.HistoricalPoint{
						Timestamp:     leg[0].Timestamp,
						Symbol:        o.Symbol,
						BuyFrom:       o.BuyFrom,
						SellTo:        o.SellTo,
						BuyPrice:      o.BuyPrice,
						SellPrice:     o.SellPrice,
						Profit:        o.Profit,
						ProfitPercent: o.ProfitPercent,
					})
				}
			}
		}
	}
	return out, nil
}

// opportunity buys at buy's ask and sells at sell's bid.
func opportunity(buy, sell *domain.ExchangePrice) domain.Opportunity {
	profit := sell.Bid - buy.Ask
	return domain.Opportunity{
		Symbol:        buy.Symbol,
		BuyFrom:       buy.Exchange,
		SellTo:        sell.Exchange,
		BuyPrice:      buy.Ask,
		SellPrice:     sell.Bid,
		Profit:        profit,
		ProfitPercent: profit / buy.Ask * 100,
	}
}

func (e *Engine) valid(rows []domain.ExchangePrice) []domain.ExchangePrice {
	out := rows[:0]
	for _, r := range rows {
		if r.Bid <= 0 || r.Ask <= 0 {
			e.logger.Warn("dropping price row with non-positive side",
				slog.String("exchange", r.Exchange),
				slog.String("symbol", r.Symbol),
				slog.Float64("bid", r.Bid),
				slog.Float64("ask", r.Ask),
			)
			continue
		}
		out = append(out, r)
	}
	return out
}

// dedupe drops repeated exchange names, keeping first-seen order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
