// Package feed owns the persistent streaming connections to the external
// market-data providers. Each source runs one connection at a time behind a
// small reconnection state machine; re-subscription requires a full
// reconnect.
package feed

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"investflow/logger"
)

// Source names used in stats and logs.
const (
	SourceCrypto = "crypto"
	SourceEquity = "equity"
)

// State is the connection lifecycle of one source.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectScheduled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	}
	return "unknown"
}

// TickHandler receives every successfully parsed price observation. The
// symbol is the provider-facing feed symbol; resolution against the tracked
// set happens downstream.
type TickHandler func(feedSymbol string, price float64, ts time.Time)

// Connection is the capability both source managers implement.
type Connection interface {
	Connect(symbols []string)
	Disconnect()
	Connected() bool
	State() State
	Source() string
}

// Backoff decides how long to wait before reconnect attempt n (1-based) and
// whether to attempt at all.
type Backoff interface {
	Next(attempt int) (time.Duration, bool)
}

// ExponentialBackoff doubles the delay per attempt up to Max and gives up
// after MaxAttempts, leaving the source to the fallback poller.
type ExponentialBackoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

func (b ExponentialBackoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	d := b.Base << uint(attempt-1)
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	return d, true
}

// FixedBackoff retries forever at a constant delay.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) Next(int) (time.Duration, bool) {
	return b.Delay, true
}

const defaultKeepAlive = 20 * time.Second

// Manager runs the connection state machine for one source. The
// provider-specific pieces (dialing, subscription frames, wire parsing) are
// supplied by the crypto and equity constructors.
type Manager struct {
	source    string
	backoff   Backoff
	keepAlive time.Duration
	onTick    TickHandler
	log       *logger.Entry

	dial      func(symbols []string) (*websocket.Conn, error)
	subscribe func(conn *websocket.Conn, symbols []string) error
	parse     func(data []byte, emit TickHandler)

	// disabled marks a permanent do-not-attempt condition, e.g. a missing
	// provider credential.
	disabled string

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	symbols  []string
	attempts int
	timer    *time.Timer
	// gen invalidates callbacks from superseded connections. A dial that
	// resolves after Disconnect or a read loop outliving its transport
	// compares generations and drops out.
	gen uint64
}

func (m *Manager) Source() string {
	return m.source
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Connect starts a connection for the given provider symbols. It is a no-op
// while a connection is live or in flight, when the symbol set is empty, and
// when the source is permanently disabled.
func (m *Manager) Connect(symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled != "" {
		m.log.WithField("reason", m.disabled).Info("source disabled, not connecting")
		return
	}
	if m.state == StateConnecting || m.state == StateConnected {
		return
	}
	if len(symbols) == 0 {
		m.symbols = nil
		m.log.Debug("no symbols to track, staying disconnected")
		return
	}

	m.stopTimerLocked()
	m.symbols = append([]string(nil), symbols...)
	m.state = StateConnecting
	m.gen++
	go m.establish(m.gen, m.symbols)
}

// Disconnect closes any live transport, cancels a pending reconnect timer
// and clears the subscription bookkeeping. Safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gen++
	m.stopTimerLocked()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.symbols = nil
	m.attempts = 0
	m.state = StateDisconnected
}

func (m *Manager) establish(gen uint64, symbols []string) {
	conn, err := m.dial(symbols)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.log.WithError(err).Warn("failed to connect to feed")
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	if m.subscribe != nil {
		if err := m.subscribe(conn, symbols); err != nil {
			m.log.WithError(err).Warn("failed to subscribe to feed symbols")
			conn.Close()
			m.state = StateDisconnected
			m.scheduleReconnectLocked()
			m.mu.Unlock()
			return
		}
	}

	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.stopTimerLocked()
	m.mu.Unlock()

	m.log.WithField("symbols", len(symbols)).Info("feed connected")

	go m.pingLoop(gen, conn)
	m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.transportClosed(gen, err)
			return
		}
		m.parse(data, m.onTick)
	}
}

func (m *Manager) transportClosed(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}

	m.log.WithError(err).Warn("feed connection closed")
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the reconnect timer. At most one timer is
// pending at a time; an exhausted attempt budget leaves the source
// disconnected with the fallback poller as the only ingestion path.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil {
		return
	}

	m.attempts++
	delay, ok := m.backoff.Next(m.attempts)
	if !ok {
		m.log.WithField("attempts", m.attempts-1).Warn("reconnect budget exhausted, relying on fallback polling")
		return
	}

	m.state = StateReconnectScheduled
	m.log.WithFields(logger.Fields{
		"attempt": m.attempts,
		"delay":   delay.String(),
	}).Info("reconnect scheduled")
	m.timer = time.AfterFunc(delay, m.retry)
}

func (m *Manager) retry() {
	m.mu.Lock()
	m.timer = nil
	if m.state != StateReconnectScheduled || len(m.symbols) == 0 {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	symbols := append([]string(nil), m.symbols...)
	m.mu.Unlock()

	m.establish(gen, symbols)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) pingLoop(gen uint64, conn *websocket.Conn) {
	interval := m.keepAlive
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		stale := gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		deadline := time.Now().Add(time.Second)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			return
		}
	}
}
