package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/service"
	svcmetrics "SignalForge/internal/service/metrics"
	"SignalForge/pkg/cache"
	xhttp "SignalForge/pkg/http"
	applogger "SignalForge/pkg/logger"
)

// Config holds the REST bar provider settings.
type Config struct {
	Name           string
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RequestsPerSec int
	MaxRetryTime   time.Duration
	PriceDecimals  int
	CacheTTL       time.Duration
	HotCacheTTL    time.Duration
}

type wireBar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type wireResponse struct {
	Symbol string    `json:"symbol"`
	Bars   []wireBar `json:"bars"`
}

// RESTProvider fetches 1m bars over HTTP with rate limiting, retries and a response cache.
type RESTProvider struct {
	cfg     Config
	client  *xhttp.Client
	limiter *rate.Limiter
	cache   cache.Service
	l       *applogger.Logger
}

var _ service.BarProvider = (*RESTProvider)(nil)

func NewRESTProvider(cfg Config, c cache.Service, l *applogger.Logger) *RESTProvider {
	if cfg.Name == "" {
		cfg.Name = "rest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 5
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.HotCacheTTL <= 0 {
		cfg.HotCacheTTL = 5 * time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &RESTProvider{
		cfg:     cfg,
		client:  xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestsPerSec),
		cache:   c,
		l:       l,
	}
}

func (p *RESTProvider) Name() string { return p.cfg.Name }

// CacheKey is the response cache key for one fetch.
func CacheKey(symbol string, since time.Time) string {
	return cache.Key("bars", strings.ToUpper(symbol), "1m", since.UTC().Unix())
}

// TTLFor returns the cache TTL tier of symbol.
func (p *RESTProvider) TTLFor(symbol string) time.Duration {
	if IsHighVolume(symbol) {
		return p.cfg.HotCacheTTL
	}
	return p.cfg.CacheTTL
}

// FetchBars returns normalized base bars at or after since.
func (p *RESTProvider) FetchBars(ctx context.Context, symbol string, since time.Time) ([]models.Bar, error) {
	since = since.UTC().Truncate(time.Minute)
	key := CacheKey(symbol, since)
	if bars, ok := p.fromCache(ctx, key); ok {
		svcmetrics.ProviderCache.WithLabelValues("hit").Inc()
		return bars, nil
	}
	svcmetrics.ProviderCache.WithLabelValues("miss").Inc()

	start := time.Now()
	raw, err := p.fetch(ctx, symbol, since)
	svcmetrics.ProviderLatency.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		svcmetrics.ProviderErrors.WithLabelValues(p.cfg.Name).Inc()
		p.l.Error("provider fetch failed",
			applogger.String("provider", p.cfg.Name),
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)
		return nil, err
	}
	bars, rejected := Normalize(symbol, raw, p.cfg.PriceDecimals)
	p.l.Debug("provider fetch ok",
		applogger.String("provider", p.cfg.Name),
		applogger.String("symbol", symbol),
		applogger.Int("bars", len(bars)),
		applogger.Int("rejected", rejected),
		applogger.Duration("duration_ms", time.Since(start)),
	)

	if p.cache != nil && len(bars) > 0 {
		if b, err := json.Marshal(bars); err == nil {
			if err := p.cache.Set(ctx, key, string(b), p.TTLFor(symbol)); err != nil {
				p.l.Warn("provider cache set failed", applogger.String("key", key), applogger.Error(err))
			}
		}
	}
	return bars, nil
}

// Invalidate drops every cached response for symbol.
func (p *RESTProvider) Invalidate(ctx context.Context, symbol string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.DeleteByPattern(ctx, cache.Pattern(cache.Key("bars", strings.ToUpper(symbol))+":"))
}

func (p *RESTProvider) fromCache(ctx context.Context, key string) ([]models.Bar, bool) {
	if p.cache == nil {
		return nil, false
	}
	var raw string
	if err := p.cache.Get(ctx, key, &raw); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.l.Warn("provider cache get failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	var bars []models.Bar
	if err := json.Unmarshal([]byte(raw), &bars); err != nil {
		return nil, false
	}
	return bars, true
}

func (p *RESTProvider) fetch(ctx context.Context, symbol string, since time.Time) ([]models.Bar, error) {
	req := xhttp.Request{
		Method: http.MethodGet,
		URL:    strings.TrimRight(p.cfg.BaseURL, "/") + "/bars",
		Query: url.Values{
			"symbol":   {symbol},
			"interval": {"1m"},
			"from":     {strconv.FormatInt(since.Unix(), 10)},
		},
		Headers:     map[string]string{"Accept": "application/json"},
		BearerToken: p.cfg.APIKey,
	}

	var body []byte
	op := func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := p.client.Do(ctx, req)
		if err != nil {
			if !xhttp.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = p.cfg.MaxRetryTime
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("fetch bars %s: %w", symbol, err)
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("decode bars %s: %w", symbol, err)
	}
	out := make([]models.Bar, 0, len(wr.Bars))
	for _, b := range wr.Bars {
		ts := time.Unix(b.T, 0).UTC()
		if ts.Before(since) {
			continue
		}
		out = append(out, models.Bar{Symbol: symbol, Timestamp: ts, Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V})
	}
	return out, nil
}
