package feed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"investflow/config"
	"investflow/logger"
	"investflow/models"
)

type equitySubscribeFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// NewEquityFeed builds the manager for the equities trade stream. The
// provider requires a provisioning credential; without one the manager is
// permanently disabled and price discovery for equities happens through the
// fallback poller only. Reconnects retry forever at a fixed delay.
func NewEquityFeed(cfg config.EquityFeedConfig, onTick TickHandler) *Manager {
	log := logger.GetLogger().WithComponent("equity_feed")

	dialer := &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}

	m := &Manager{
		source:    SourceEquity,
		backoff:   FixedBackoff{Delay: cfg.ReconnectDelay},
		keepAlive: cfg.KeepAlive,
		onTick:    onTick,
		log:       log,
	}

	if cfg.Token == "" {
		m.disabled = "no provisioning credential configured"
	}

	m.dial = func([]string) (*websocket.Conn, error) {
		u := fmt.Sprintf("%s?token=%s", cfg.URL, url.QueryEscape(cfg.Token))
		conn, _, err := dialer.Dial(u, nil)
		return conn, err
	}

	m.subscribe = func(conn *websocket.Conn, symbols []string) error {
		for _, s := range symbols {
			if err := conn.WriteJSON(equitySubscribeFrame{Type: "subscribe", Symbol: s}); err != nil {
				return fmt.Errorf("subscribe %s: %w", s, err)
			}
		}
		return nil
	}

	m.parse = func(data []byte, emit TickHandler) {
		parseEquityFrame(log, data, emit)
	}

	return m
}

// parseEquityFrame extracts ticks from one trade frame. One frame may carry
// several trades; each is validated independently.
func parseEquityFrame(log *logger.Entry, data []byte, emit TickHandler) {
	var frame models.EquityTradeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.WithError(err).Debug("dropping unparseable frame")
		return
	}

	if frame.Type != "trade" {
		// ping and status frames are expected chatter
		return
	}

	for _, trade := range frame.Data {
		if trade.Symbol == "" {
			log.Debug("dropping trade without symbol")
			continue
		}
		if trade.Price <= 0 || trade.Timestamp <= 0 {
			log.WithFields(logger.Fields{"symbol": trade.Symbol, "price": trade.Price}).Debug("dropping trade with invalid fields")
			continue
		}
		emit(trade.Symbol, trade.Price, time.UnixMilli(trade.Timestamp).UTC())
	}
}
