package models

// Messages exchanged with viewer clients and raw frames received from the
// market-data providers.

const (
	MessageTypeInit   = "init"
	MessageTypeUpdate = "price_update"
)

// InitMessage is sent exactly once when a client connects. Both slices are
// always present, empty rather than omitted.
type InitMessage struct {
	Type   string         `json:"type"`
	Assets []TrackedAsset `json:"assets"`
	Prices []PriceTick    `json:"prices"`
}

// UpdateMessage carries one tick to every connected client.
type UpdateMessage struct {
	Type      string  `json:"type"`
	AssetID   int64   `json:"asset_id"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// BinanceStreamFrame is one message from the combined miniTicker stream.
type BinanceStreamFrame struct {
	Stream string            `json:"stream"`
	Data   BinanceMiniTicker `json:"data"`
}

// BinanceMiniTicker is the per-symbol payload inside a combined stream frame.
type BinanceMiniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// EquityTradeFrame is one message from the equities trade stream.
type EquityTradeFrame struct {
	Type string        `json:"type"`
	Data []EquityTrade `json:"data"`
}

// EquityTrade is a single trade inside a trade frame. Timestamp is unix
// milliseconds.
type EquityTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"`
	Volume    float64 `json:"v"`
}

// EquityQuote is one row of the bulk REST quote response used by the
// fallback poller. Timestamp is unix seconds.
type EquityQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}
