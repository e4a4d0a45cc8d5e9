package feed

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"investflow/config"
	"investflow/logger"
)

func newTestManager(b Backoff, dial func([]string) (*websocket.Conn, error)) *Manager {
	return &Manager{
		source:  "test",
		backoff: b,
		log:     logger.GetLogger().WithComponent("test_feed"),
		dial:    dial,
		parse:   func([]byte, TickHandler) {},
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: 10 * time.Second, MaxAttempts: 4}

	cases := []struct {
		attempt int
		delay   time.Duration
		ok      bool
	}{
		{1, time.Second, true},
		{2, 2 * time.Second, true},
		{3, 4 * time.Second, true},
		{4, 8 * time.Second, true},
		{5, 0, false},
	}
	for _, tc := range cases {
		d, ok := b.Next(tc.attempt)
		if ok != tc.ok || d != tc.delay {
			t.Errorf("attempt %d: got (%s, %v), want (%s, %v)", tc.attempt, d, ok, tc.delay, tc.ok)
		}
	}
}

func TestExponentialBackoffCapsDelay(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: 5 * time.Second, MaxAttempts: 10}
	d, ok := b.Next(8)
	if !ok || d != 5*time.Second {
		t.Errorf("expected capped delay 5s, got %s %v", d, ok)
	}
}

func TestFixedBackoffUnbounded(t *testing.T) {
	b := FixedBackoff{Delay: 15 * time.Second}
	for _, attempt := range []int{1, 100, 100000} {
		d, ok := b.Next(attempt)
		if !ok || d != 15*time.Second {
			t.Errorf("attempt %d: got (%s, %v)", attempt, d, ok)
		}
	}
}

func TestConnectEmptySymbolsStaysDisconnected(t *testing.T) {
	var dials int32
	m := newTestManager(FixedBackoff{Delay: time.Millisecond}, func([]string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("refused")
	})

	m.Connect(nil)

	if got := m.State(); got != StateDisconnected {
		t.Errorf("expected disconnected, got %s", got)
	}
	if n := atomic.LoadInt32(&dials); n != 0 {
		t.Errorf("expected no dial attempts, got %d", n)
	}
}

func TestReconnectBudgetExhausted(t *testing.T) {
	var dials int32
	m := newTestManager(
		ExponentialBackoff{Base: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 2},
		func([]string) (*websocket.Conn, error) {
			atomic.AddInt32(&dials, 1)
			return nil, errors.New("refused")
		},
	)

	m.Connect([]string{"BTCUSDT"})

	// Initial attempt plus MaxAttempts retries.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&dials) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := atomic.LoadInt32(&dials); n != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", n)
	}

	// Budget exhausted: no further attempts even as time advances.
	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&dials); n != 3 {
		t.Errorf("expected no attempts past the budget, got %d", n)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("expected terminal disconnected, got %s", got)
	}
	m.mu.Lock()
	if m.timer != nil {
		t.Error("expected no pending reconnect timer")
	}
	m.mu.Unlock()
}

func TestDisconnectIdempotent(t *testing.T) {
	m := newTestManager(FixedBackoff{Delay: time.Hour}, func([]string) (*websocket.Conn, error) {
		return nil, errors.New("refused")
	})

	m.Disconnect()
	m.Disconnect()

	m.Connect([]string{"BTCUSDT"})
	time.Sleep(10 * time.Millisecond)

	m.Disconnect()
	m.Disconnect()

	if got := m.State(); got != StateDisconnected {
		t.Errorf("expected disconnected, got %s", got)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		t.Error("expected reconnect timer to be cleared")
	}
	if m.symbols != nil {
		t.Error("expected symbol bookkeeping to be cleared")
	}
}

func TestConnectWhileActiveIsNoop(t *testing.T) {
	var dials int32
	m := newTestManager(FixedBackoff{Delay: time.Hour}, func([]string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errors.New("refused")
	})

	m.mu.Lock()
	m.state = StateConnected
	m.mu.Unlock()

	m.Connect([]string{"BTCUSDT"})
	if n := atomic.LoadInt32(&dials); n != 0 {
		t.Errorf("expected no dial while connected, got %d", n)
	}
}

func TestEquityFeedWithoutTokenNeverConnects(t *testing.T) {
	cfg := config.EquityFeedConfig{
		URL:            "wss://example.com",
		ReconnectDelay: time.Millisecond,
	}
	m := NewEquityFeed(cfg, func(string, float64, time.Time) {})

	m.Connect([]string{"AAPL"})
	time.Sleep(10 * time.Millisecond)

	if got := m.State(); got != StateDisconnected {
		t.Errorf("expected disconnected, got %s", got)
	}
}

func TestParseCryptoFrame(t *testing.T) {
	log := logger.GetLogger().WithComponent("test")

	var (
		gotSymbol string
		gotPrice  float64
		emits     int
	)
	emit := func(symbol string, price float64, ts time.Time) {
		gotSymbol, gotPrice = symbol, price
		emits++
	}

	frame := `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","E":1736000000000,"s":"BTCUSDT","c":"45123.5"}}`
	parseCryptoFrame(log, []byte(frame), emit)
	if emits != 1 || gotSymbol != "BTCUSDT" || gotPrice != 45123.5 {
		t.Errorf("unexpected emit: %d %s %v", emits, gotSymbol, gotPrice)
	}

	// Malformed frames are dropped without raising.
	for _, bad := range []string{
		`not json`,
		`{"stream":"x","data":{"s":"BTCUSDT","c":"not-a-number"}}`,
		`{"stream":"x","data":{"c":"42"}}`,
		`{"result":null,"id":1}`,
	} {
		parseCryptoFrame(log, []byte(bad), emit)
	}
	if emits != 1 {
		t.Errorf("malformed frames must not emit, got %d emits", emits)
	}
}

func TestParseEquityFrame(t *testing.T) {
	log := logger.GetLogger().WithComponent("test")

	var ticks []string
	emit := func(symbol string, price float64, ts time.Time) {
		ticks = append(ticks, symbol)
	}

	frame := `{"type":"trade","data":[
		{"s":"AAPL","p":189.84,"t":1736000000000,"v":10},
		{"s":"","p":1,"t":1736000000000},
		{"s":"MSFT","p":-5,"t":1736000000000},
		{"s":"TSLA","p":240.1,"t":1736000000000,"v":3}
	]}`
	parseEquityFrame(log, []byte(frame), emit)

	if len(ticks) != 2 || ticks[0] != "AAPL" || ticks[1] != "TSLA" {
		t.Errorf("unexpected ticks: %v", ticks)
	}

	parseEquityFrame(log, []byte(`{"type":"ping"}`), emit)
	parseEquityFrame(log, []byte(`garbage`), emit)
	if len(ticks) != 2 {
		t.Errorf("control and malformed frames must not emit, got %v", ticks)
	}
}
