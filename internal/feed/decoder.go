// Package feed turns venue market-data streams into domain.FeedEvent values
// delivered over a channel to the venue actor.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// Decoder converts one wire message into zero or more events for venue.
type Decoder func(raw []byte, venue string, receivedAt time.Time) ([]domain.FeedEvent, error)

var decoders = map[string]Decoder{
	"normalized":          DecodeNormalized,
	"binance_book_ticker": DecodeBinanceBookTicker,
}

// LookupDecoder returns the decoder registered under name.
func LookupDecoder(name string) (Decoder, error) {
	d, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("feed: unknown decoder %q (known: %v): %w", name, DecoderNames(), domain.ErrInvalidInput)
	}
	return d, nil
}

// DecoderNames lists the registered decoders.
func DecoderNames() []string {
	out := make([]string, 0, len(decoders))
	for name := range decoders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// number accepts a JSON number or a numeric string.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("feed: number %q: %w", b, domain.ErrInvalidInput)
	}
	*n = number(v)
	return nil
}

// wireLevel accepts {"price":"1","size":"2"} or ["1","2"]. Values stay as
// text so the order book parses them exactly.
type wireLevel domain.RawLevel

func (l *wireLevel) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		if len(pair) < 2 {
			return fmt.Errorf("feed: level needs price and size: %w", domain.ErrInvalidInput)
		}
		l.Price = unquote(pair[0])
		l.Size = unquote(pair[1])
		return nil
	}
	var obj struct {
		Price json.RawMessage `json:"price"`
		Size  json.RawMessage `json:"size"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	l.Price = unquote(obj.Price)
	l.Size = unquote(obj.Size)
	return nil
}

func unquote(raw json.RawMessage) string {
	return string(bytes.Trim(bytes.TrimSpace(raw), `"`))
}

func levels(in []wireLevel) []domain.RawLevel {
	out := make([]domain.RawLevel, len(in))
	for i, l := range in {
		out[i] = domain.RawLevel(l)
	}
	return out
}

// normalizedMessage is the venue-neutral wire format:
//
//	{"type":"tick","symbol":"BTCUSDT","bid":100.1,"ask":100.2}
//	{"type":"snapshot","symbol":"BTCUSDT","bids":[["100","1"]],"asks":[["101","2"]],"seq":7}
//	{"type":"delta","symbol":"BTCUSDT","side":"bid","levels":[["100","0"]],"seq":8}
type normalizedMessage struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	Bid    number      `json:"bid"`
	Ask    number      `json:"ask"`
	Side   string      `json:"side"`
	Bids   []wireLevel `json:"bids"`
	Asks   []wireLevel `json:"asks"`
	Levels []wireLevel `json:"levels"`
	Seq    int64       `json:"seq"`
}

// DecodeNormalized decodes a single object or an array of objects in the
// normalized format.
func DecodeNormalized(raw []byte, venue string, receivedAt time.Time) ([]domain.FeedEvent, error) {
	raw = bytes.TrimSpace(raw)
	var msgs []normalizedMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("feed: decode normalized batch: %w", err)
		}
	} else {
		var m normalizedMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("feed: decode normalized: %w", err)
		}
		msgs = []normalizedMessage{m}
	}

	out := make([]domain.FeedEvent, 0, len(msgs))
	for _, m := range msgs {
		if m.Symbol == "" {
			return nil, fmt.Errorf("feed: %s message without symbol: %w", m.Type, domain.ErrInvalidInput)
		}
		ev := domain.FeedEvent{Venue: venue, Symbol: m.Symbol, Seq: m.Seq, ReceivedAt: receivedAt}
		switch m.Type {
		case "tick":
			ev.Kind = domain.EventTick
			ev.Bid = float64(m.Bid)
			ev.Ask = float64(m.Ask)
		case "snapshot":
			ev.Kind = domain.EventBookSnapshot
			ev.Bids = levels(m.Bids)
			ev.Asks = levels(m.Asks)
		case "delta":
			ev.Kind = domain.EventBookDelta
			ev.Side = domain.Side(m.Side)
			switch ev.Side {
			case domain.SideBid:
				ev.Bids = levels(m.Levels)
			case domain.SideAsk:
				ev.Asks = levels(m.Levels)
			default:
				return nil, fmt.Errorf("feed: delta side %q: %w", m.Side, domain.ErrInvalidInput)
			}
		default:
			return nil, fmt.Errorf("feed: message type %q: %w", m.Type, domain.ErrInvalidInput)
		}
		out = append(out, ev)
	}
	return out, nil
}

// binanceBookTicker is the <symbol>@bookTicker payload. The quantity fields
// must be declared: encoding/json matches keys case-insensitively, so "B"
// and "A" would otherwise overwrite the prices.
type binanceBookTicker struct {
	UpdateID int64  `json:"u"`
	Symbol   string `json:"s"`
	Bid      number `json:"b"`
	BidQty   number `json:"B"`
	Ask      number `json:"a"`
	AskQty   number `json:"A"`
}

// DecodeBinanceBookTicker decodes Binance bookTicker messages, raw or
// wrapped in a combined-stream envelope.
func DecodeBinanceBookTicker(raw []byte, venue string, receivedAt time.Time) ([]domain.FeedEvent, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}

	var t binanceBookTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("feed: decode book ticker: %w", err)
	}
	if t.Symbol == "" {
		// Subscription acks such as {"result":null,"id":1}.
		return nil, nil
	}
	return []domain.FeedEvent{{
		Kind:       domain.EventTick,
		Venue:      venue,
		Symbol:     t.Symbol,
		Bid:        float64(t.Bid),
		Ask:        float64(t.Ask),
		Seq:        t.UpdateID,
		ReceivedAt: receivedAt,
	}}, nil
}
