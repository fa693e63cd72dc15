package aggregator

import (
	"time"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

// rollupMinute folds one symbol's window snapshots into a minute record.
// Averages are the unweighted mean of the snapshot averages; a window with
// one tick counts as much as a window with a thousand.
func rollupMinute(source, symbol string, minuteStart time.Time, rows []domain.Snapshot) domain.MinuteRecord {
	var (
		bid, ask, spread mean
		minBid, minAsk   extreme
		maxBid, maxAsk   extreme
		ticks            int64
	)
	for _, r := range rows {
		bid.add(r.AvgBid)
		ask.add(r.AvgAsk)
		spread.add(r.AvgSpread)
		minBid.lower(r.MinBid)
		minAsk.lower(r.MinAsk)
		maxBid.upper(r.MaxBid)
		maxAsk.upper(r.MaxAsk)
		ticks += r.TickCount
	}
	return domain.MinuteRecord{
		Source:    source,
		Symbol:    symbol,
		Timestamp: minuteStart,
		AvgBid:    bid.value(),
		AvgAsk:    ask.value(),
		AvgSpread: spread.value(),
		MinBid:    minBid.v,
		MaxBid:    maxBid.v,
		MinAsk:    minAsk.v,
		MaxAsk:    maxAsk.v,
		TickCount: ticks,
	}
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	return ptr(m.sum / float64(m.n))
}

type extreme struct {
	v *float64
}

func (e *extreme) lower(v *float64) {
	if v != nil && (e.v == nil || *v < *e.v) {
		e.v = ptr(*v)
	}
}

func (e *extreme) upper(v *float64) {
	if v != nil && (e.v == nil || *v > *e.v) {
		e.v = ptr(*v)
	}
}
