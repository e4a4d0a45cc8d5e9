// Package poller is the HTTP safety net behind the streaming feeds. It polls
// bulk REST price endpoints for the tracked symbols of any source whose
// streaming connection is down.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"investflow/config"
	"investflow/internal/registry"
	"investflow/logger"
	"investflow/models"
)

// FeedStatus is the one bit of feed state the poller consults. A connected
// feed and an active poll for the same class are never concurrently live.
type FeedStatus interface {
	Connected() bool
}

// Handler receives each resolved price exactly as a streamed tick would.
type Handler func(asset models.TrackedAsset, price float64, ts time.Time)

// Poller runs both class-specific poll routines off one fixed-interval
// timer. Poll failures are absorbed; a failed cycle simply produces no
// update.
type Poller struct {
	cfg       config.PollerConfig
	equityCfg config.EquityFeedConfig
	registry  *registry.Registry
	crypto    FeedStatus
	equity    FeedStatus
	handle    Handler
	log       *logger.Entry

	binance    *binance.Client
	httpClient *http.Client
	limiter    *rate.Limiter

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func New(cfg config.PollerConfig, equityCfg config.EquityFeedConfig, reg *registry.Registry, crypto, equity FeedStatus, handle Handler) *Poller {
	httpClient := &http.Client{Timeout: cfg.Timeout}

	client := binance.NewClient("", "")
	client.HTTPClient = httpClient

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}

	return &Poller{
		cfg:        cfg,
		equityCfg:  equityCfg,
		registry:   reg,
		crypto:     crypto,
		equity:     equity,
		handle:     handle,
		log:        logger.GetLogger().WithComponent("fallback_poller"),
		binance:    client,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Start launches the poll loop. It returns an error when already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.mu.Unlock()

	p.log.WithFields(logger.Fields{"interval": p.cfg.Interval.String()}).Info("starting fallback poller")

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop waits for the loop to exit after its context is cancelled.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("fallback poller stopped")
			return
		case <-ticker.C:
			p.pollCrypto(ctx)
			p.pollEquities(ctx)
		}
	}
}

func (p *Poller) pollCrypto(ctx context.Context) {
	if p.crypto.Connected() {
		return
	}

	assets := p.registry.ByClass(models.AssetClassCrypto)
	if len(assets) == 0 {
		return
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	prices, err := p.binance.NewListPricesService().Do(ctx)
	if err != nil {
		p.log.WithError(err).Warn("crypto price poll failed")
		return
	}

	bySymbol := make(map[string]string, len(prices))
	for _, sp := range prices {
		bySymbol[sp.Symbol] = sp.Price
	}

	now := time.Now().UTC()
	resolved := 0
	for _, a := range assets {
		raw, ok := bySymbol[a.FeedSymbol]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			p.log.WithFields(logger.Fields{"symbol": a.FeedSymbol, "price": raw}).Warn("skipping unparseable polled price")
			continue
		}
		p.handle(a, price, now)
		resolved++
	}

	p.log.WithFields(logger.Fields{"requested": len(assets), "resolved": resolved}).Debug("crypto poll cycle complete")
}

func (p *Poller) pollEquities(ctx context.Context) {
	if p.equity.Connected() {
		return
	}
	if p.equityCfg.Token == "" {
		return
	}

	assets := p.registry.ByClass(models.AssetClassUSEquity, models.AssetClassIntlEquity)
	if len(assets) == 0 {
		return
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return
	}

	symbols := make([]string, 0, len(assets))
	for _, a := range assets {
		symbols = append(symbols, a.FeedSymbol)
	}

	quotes, err := p.fetchEquityQuotes(ctx, symbols)
	if err != nil {
		p.log.WithError(err).Warn("equity price poll failed")
		return
	}

	bySymbol := make(map[string]models.EquityQuote, len(quotes))
	for _, q := range quotes {
		bySymbol[strings.ToUpper(q.Symbol)] = q
	}

	now := time.Now().UTC()
	resolved := 0
	for _, a := range assets {
		q, ok := bySymbol[a.FeedSymbol]
		if !ok || q.Price <= 0 {
			continue
		}
		ts := now
		if q.Timestamp > 0 {
			ts = time.Unix(q.Timestamp, 0).UTC()
		}
		p.handle(a, q.Price, ts)
		resolved++
	}

	p.log.WithFields(logger.Fields{"requested": len(assets), "resolved": resolved}).Debug("equity poll cycle complete")
}

// fetchEquityQuotes issues one bulk quote request for all symbols and
// demultiplexes the response per symbol.
func (p *Poller) fetchEquityQuotes(ctx context.Context, symbols []string) ([]models.EquityQuote, error) {
	reqURL := fmt.Sprintf("%s/%s?apikey=%s",
		strings.TrimRight(p.equityCfg.QuoteURL, "/"),
		strings.Join(symbols, ","),
		url.QueryEscape(p.equityCfg.Token),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	var quotes []models.EquityQuote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return quotes, nil
}
