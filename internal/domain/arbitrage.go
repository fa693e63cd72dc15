package domain

import "time"

// Opportunity is a directional cross-exchange trade: buy on BuyFrom at its
// ask, sell on SellTo at its bid.
type Opportunity struct {
	Symbol        string        `json:"symbol"`
	BuyFrom       string        `json:"buy_from"`
	SellTo        string        `json:"sell_to"`
	BuyPrice      float64       `json:"buy_price"`
	SellPrice     float64       `json:"sell_price"`
	Profit        float64       `json:"profit"`
	ProfitPercent float64       `json:"profit_percent"`
	Timestamp     time.Time     `json:"timestamp"`
	DataAge       time.Duration `json:"data_age"`
}

// HistoricalPoint is one direction of one exchange pair at an aligned
// timestamp. No profit threshold is applied to these.
type HistoricalPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	BuyFrom       string    `json:"buy_from"`
	SellTo        string    `json:"sell_to"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	Profit        float64   `json:"profit"`
	ProfitPercent float64   `json:"profit_percent"`
}

// AlertEvent records one opportunity that was pushed to delivery channels.
type AlertEvent struct {
	ID            string    `json:"id"`
	Rule          string    `json:"rule"`
	Symbol        string    `json:"symbol"`
	BuyFrom       string    `json:"buy_from"`
	SellTo        string    `json:"sell_to"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	ProfitPercent float64   `json:"profit_percent"`
	Channels      []string  `json:"channels"`
	Delivered     int       `json:"delivered"`
	SentAt        time.Time `json:"sent_at"`
}
