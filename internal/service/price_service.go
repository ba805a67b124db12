package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/dealdesk/internal/config"
	"github.com/evetabi/dealdesk/internal/domain"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Exchange weight constants
// ──────────────────────────────────────────────────────────────────────────────

const (
	exchangeBinance = "binance"
	exchangeBybit   = "bybit"
	exchangeOKX     = "okx"
)

// exchangeDef describes a single price-feed source.
type exchangeDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// cachedPrice is one per-symbol cache entry.
type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceService
// ──────────────────────────────────────────────────────────────────────────────

// PriceService answers latestPrice(symbol) queries by fetching spot prices
// from multiple exchanges in parallel, computing a weighted average, and
// caching the result per symbol. The fetch wait is bounded by the configured
// timeout; on total failure the caller gets domain.ErrPriceUnavailable.
type PriceService struct {
	client *http.Client
	cfg    *config.PriceConfig

	// per-symbol in-memory cache
	mu    sync.RWMutex
	cache map[string]cachedPrice

	// per-exchange last-success timestamp (for health reporting)
	statusMu    sync.RWMutex
	lastSuccess map[string]time.Time
	exchanges   []exchangeDef
}

// NewPriceService constructs a PriceService from the given config.
func NewPriceService(cfg *config.Config) *PriceService {
	ps := &PriceService{
		client: &http.Client{Timeout: cfg.Price.FetchTimeout},
		cfg:    &cfg.Price,
		cache:  make(map[string]cachedPrice),
		lastSuccess: map[string]time.Time{
			exchangeBinance: {},
			exchangeBybit:   {},
			exchangeOKX:     {},
		},
	}

	ps.exchanges = []exchangeDef{
		{
			name:   exchangeBinance,
			weight: decimal.NewFromInt(int64(cfg.Price.BinanceWeight)),
			fetch:  ps.fetchBinance,
		},
		{
			name:   exchangeBybit,
			weight: decimal.NewFromInt(int64(cfg.Price.BybitWeight)),
			fetch:  ps.fetchBybit,
		},
		{
			name:   exchangeOKX,
			weight: decimal.NewFromInt(int64(cfg.Price.OKXWeight)),
			fetch:  ps.fetchOKX,
		},
	}

	return ps
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// Latest returns the current price for symbol as a weighted average of all
// configured exchanges. If the in-memory cache for the symbol is still fresh
// (< CacheTTL) the cached value is returned immediately.
//
// Partial failures are handled by re-normalising the weights over the
// available sources. At least one source must succeed; when every exchange
// fails, Latest returns domain.ErrPriceUnavailable wrapped with the last
// fetch errors.
func (ps *PriceService) Latest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	// ── Cache check ──────────────────────────────────────────────────────────
	ps.mu.RLock()
	if c, ok := ps.cache[symbol]; ok && time.Since(c.fetchedAt) < ps.cfg.CacheTTL {
		ps.mu.RUnlock()
		return c.price, nil
	}
	ps.mu.RUnlock()

	// ── Parallel fetch with a shared bounded timeout ─────────────────────────
	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, ps.client.Timeout)
	defer cancel()

	resultCh := make(chan result, len(ps.exchanges))
	for _, ex := range ps.exchanges {
		ex := ex // capture
		go func() {
			p, err := ex.fetch(fetchCtx, symbol)
			resultCh <- result{name: ex.name, price: p, err: err}
		}()
	}

	rawResults := make(map[string]result, len(ps.exchanges))
	for range ps.exchanges {
		r := <-resultCh
		rawResults[r.name] = r
	}

	// ── Weighted average over the sources that answered ──────────────────────
	var sumWeighted, sumWeights decimal.Decimal
	var lastErr error
	now := time.Now()
	available := 0

	for _, ex := range ps.exchanges {
		r := rawResults[ex.name]
		if r.err != nil || r.price.IsZero() {
			if r.err != nil {
				lastErr = r.err
			}
			continue
		}
		available++
		sumWeighted = sumWeighted.Add(r.price.Mul(ex.weight))
		sumWeights = sumWeights.Add(ex.weight)

		ps.statusMu.Lock()
		ps.lastSuccess[ex.name] = now
		ps.statusMu.Unlock()
	}

	if available == 0 {
		return decimal.Zero, fmt.Errorf("price_service: %s: %w (last: %v)",
			symbol, domain.ErrPriceUnavailable, lastErr)
	}

	weightedAvg := sumWeighted.Div(sumWeights)

	// ── Update cache ─────────────────────────────────────────────────────────
	ps.mu.Lock()
	ps.cache[symbol] = cachedPrice{price: weightedAvg, fetchedAt: now}
	ps.mu.Unlock()

	return weightedAvg, nil
}

// Observe lets the live stream feed ticks into the REST cache so that
// Latest() answers from the freshest source without an extra round-trip.
func (ps *PriceService) Observe(symbol string, price decimal.Decimal, at time.Time) {
	symbol = strings.ToUpper(symbol)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if c, ok := ps.cache[symbol]; ok && c.fetchedAt.After(at) {
		return
	}
	ps.cache[symbol] = cachedPrice{price: price, fetchedAt: at}
}

// Cached returns the most recently cached price for symbol and true when the
// cache is still within its TTL. Returns (Zero, false) otherwise.
func (ps *PriceService) Cached(symbol string) (decimal.Decimal, bool) {
	symbol = strings.ToUpper(symbol)
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	c, ok := ps.cache[symbol]
	if !ok || time.Since(c.fetchedAt) >= ps.cfg.CacheTTL {
		return decimal.Zero, false
	}
	return c.price, true
}

// ExchangeStatus returns a map of exchange name → whether it was reachable in
// the last 5 seconds. Used by the health endpoint.
func (ps *PriceService) ExchangeStatus() map[string]bool {
	threshold := 5 * time.Second
	ps.statusMu.RLock()
	defer ps.statusMu.RUnlock()

	status := make(map[string]bool, len(ps.lastSuccess))
	for name, t := range ps.lastSuccess {
		status[name] = !t.IsZero() && time.Since(t) < threshold
	}
	return status
}

// ──────────────────────────────────────────────────────────────────────────────
// Exchange fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchBinance fetches a spot price from the Binance REST API.
//
//	GET /api/v3/ticker/price?symbol=BTCUSDT
//	{"symbol":"BTCUSDT","price":"87350.00"}
func (ps *PriceService) fetchBinance(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := ps.cfg.BinanceURL + "/api/v3/ticker/price?symbol=" + symbol
	body, err := ps.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance: %w", err)
	}

	var resp struct {
		Price string `json:"price"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance parse: %w", err)
	}
	if resp.Price == "" {
		return decimal.Zero, fmt.Errorf("binance: empty price field")
	}
	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance decimal: %w", err)
	}
	return price, nil
}

// fetchBybit fetches a spot price from the Bybit REST API.
//
//	GET /v5/market/tickers?category=spot&symbol=BTCUSDT
//	{"result":{"list":[{"lastPrice":"87350.00",...}]}}
func (ps *PriceService) fetchBybit(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := ps.cfg.BybitURL + "/v5/market/tickers?category=spot&symbol=" + symbol
	body, err := ps.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit: %w", err)
	}

	var resp struct {
		Result struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("bybit parse: %w", err)
	}
	if len(resp.Result.List) == 0 || resp.Result.List[0].LastPrice == "" {
		return decimal.Zero, fmt.Errorf("bybit: empty result list")
	}
	price, err := decimal.NewFromString(resp.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bybit decimal: %w", err)
	}
	return price, nil
}

// fetchOKX fetches a spot price from the OKX REST API.
//
//	GET /api/v5/market/ticker?instId=BTC-USDT
//	{"data":[{"last":"87350.00",...}]}
func (ps *PriceService) fetchOKX(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := ps.cfg.OKXURL + "/api/v5/market/ticker?instId=" + okxInstID(symbol)
	body, err := ps.doGet(ctx, url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx: %w", err)
	}

	var resp struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("okx parse: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].Last == "" {
		return decimal.Zero, fmt.Errorf("okx: empty data field")
	}
	price, err := decimal.NewFromString(resp.Data[0].Last)
	if err != nil {
		return decimal.Zero, fmt.Errorf("okx decimal: %w", err)
	}
	return price, nil
}

// okxInstID converts a Binance-style symbol ("BTCUSDT") into OKX's dashed
// instrument id ("BTC-USDT"). Symbols without a known quote suffix pass
// through unchanged.
func okxInstID(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "-" + quote
		}
	}
	return symbol
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP helper
// ──────────────────────────────────────────────────────────────────────────────

// doGet performs an HTTP GET with the service's client and returns the body
// bytes, or an error for any non-200 status code.
func (ps *PriceService) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "evetabi-dealdesk/1.0")

	resp, err := ps.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
