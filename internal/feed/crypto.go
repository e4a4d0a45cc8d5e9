package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"investflow/config"
	"investflow/logger"
	"investflow/models"
)

// NewCryptoFeed builds the manager for the crypto ticker stream. The symbol
// list is baked into the combined-stream URL, so changing the tracked set
// requires a full reconnect. Reconnects back off exponentially and stop
// after the configured attempt budget.
func NewCryptoFeed(cfg config.CryptoFeedConfig, onTick TickHandler) *Manager {
	log := logger.GetLogger().WithComponent("crypto_feed")

	dialer := &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}

	m := &Manager{
		source: SourceCrypto,
		backoff: ExponentialBackoff{
			Base:        cfg.ReconnectBase,
			Max:         cfg.ReconnectMax,
			MaxAttempts: cfg.MaxAttempts,
		},
		keepAlive: cfg.KeepAlive,
		onTick:    onTick,
		log:       log,
	}

	m.dial = func(symbols []string) (*websocket.Conn, error) {
		streams := make([]string, 0, len(symbols))
		for _, s := range symbols {
			streams = append(streams, strings.ToLower(s)+"@miniTicker")
		}
		u := fmt.Sprintf("%s?streams=%s", cfg.URL, strings.Join(streams, "/"))
		conn, _, err := dialer.Dial(u, nil)
		return conn, err
	}

	m.parse = func(data []byte, emit TickHandler) {
		parseCryptoFrame(log, data, emit)
	}

	return m
}

// parseCryptoFrame extracts one tick from a combined miniTicker frame.
// Malformed frames are dropped with a diagnostic, never raised.
func parseCryptoFrame(log *logger.Entry, data []byte, emit TickHandler) {
	var frame models.BinanceStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.WithError(err).Debug("dropping unparseable frame")
		return
	}

	tick := frame.Data
	if tick.Symbol == "" {
		// Control frames (subscription acks etc.) carry no symbol.
		return
	}

	price, err := strconv.ParseFloat(tick.Close, 64)
	if err != nil {
		log.WithFields(logger.Fields{"symbol": tick.Symbol, "close": tick.Close}).Debug("dropping frame with unparseable price")
		return
	}

	ts := time.Now().UTC()
	if tick.EventTime > 0 {
		ts = time.UnixMilli(tick.EventTime).UTC()
	}
	emit(tick.Symbol, price, ts)
}
