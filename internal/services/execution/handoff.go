package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/service"
	xhttp "SignalForge/pkg/http"
	applogger "SignalForge/pkg/logger"
)

type HTTPConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	MaxRetryTime time.Duration
	// Breaker opens after this many consecutive failed submissions.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// HTTPHandoff submits orders to the execution collaborator as JSON over HTTP. The client order
// id makes resubmission safe, so transient failures are retried.
type HTTPHandoff struct {
	cfg     HTTPConfig
	client  *xhttp.Client
	breaker *gobreaker.CircuitBreaker
	l       *applogger.Logger
	now     func() time.Time
}

var _ service.ExecutionHandoff = (*HTTPHandoff)(nil)

func NewHTTPHandoff(cfg HTTPConfig, l *applogger.Logger) *HTTPHandoff {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.MaxRetryTime <= 0 {
		cfg.MaxRetryTime = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if l == nil {
		l = applogger.Nop()
	}
	h := &HTTPHandoff{cfg: cfg, client: xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout)), l: l, now: time.Now}
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "execution",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("circuit breaker state change",
				applogger.String("breaker", name),
				applogger.String("from", from.String()),
				applogger.String("to", to.String()),
			)
		},
	})
	return h
}

func (h *HTTPHandoff) Submit(ctx context.Context, order models.ExecutionOrder) (*models.ExecutionReceipt, error) {
	if h.cfg.BaseURL == "" {
		return nil, errors.New("execution endpoint not configured")
	}
	start := time.Now()
	out, err := h.breaker.Execute(func() (interface{}, error) {
		var receipt models.ExecutionReceipt
		op := func() error {
			err := h.post(ctx, "/orders", order, &receipt)
			if err != nil && !xhttp.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 100 * time.Millisecond
		bo.MaxElapsedTime = h.cfg.MaxRetryTime
		if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
			return nil, err
		}
		return &receipt, nil
	})
	if err != nil {
		h.l.Error("execution hand-off failed",
			applogger.String("client_order_id", order.ClientOrderID),
			applogger.String("symbol", order.Symbol),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("submit order %s: %w", order.ClientOrderID, err)
	}
	receipt := out.(*models.ExecutionReceipt)
	if receipt.ClientOrderID == "" {
		receipt.ClientOrderID = order.ClientOrderID
	}
	if receipt.AcceptedAt.IsZero() {
		receipt.AcceptedAt = h.now().UTC()
	}
	h.l.Info("execution hand-off ok",
		applogger.String("client_order_id", order.ClientOrderID),
		applogger.String("symbol", order.Symbol),
		applogger.Float64("size", order.Size),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return receipt, nil
}

func (h *HTTPHandoff) post(ctx context.Context, path string, order models.ExecutionOrder, dest interface{}) error {
	err := h.client.JSON(ctx, xhttp.Request{
		Method:      http.MethodPost,
		URL:         h.cfg.BaseURL + path,
		Headers:     map[string]string{"Idempotency-Key": order.ClientOrderID},
		BearerToken: h.cfg.Token,
		Body:        order,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PaperHandoff accepts every order in memory. Resubmitting a client order id returns the first
// receipt.
type PaperHandoff struct {
	mu       sync.Mutex
	orders   map[string]models.ExecutionOrder
	receipts map[string]*models.ExecutionReceipt
	now      func() time.Time
}

var _ service.ExecutionHandoff = (*PaperHandoff)(nil)

func NewPaperHandoff(now func() time.Time) *PaperHandoff {
	if now == nil {
		now = time.Now
	}
	return &PaperHandoff{
		orders:   make(map[string]models.ExecutionOrder),
		receipts: make(map[string]*models.ExecutionReceipt),
		now:      now,
	}
}

func (p *PaperHandoff) Submit(_ context.Context, order models.ExecutionOrder) (*models.ExecutionReceipt, error) {
	if order.ClientOrderID == "" {
		return nil, errors.New("client order id required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.receipts[order.ClientOrderID]; ok {
		cp := *r
		return &cp, nil
	}
	r := &models.ExecutionReceipt{
		ClientOrderID: order.ClientOrderID,
		BrokerOrderID: "paper-" + order.ClientOrderID,
		AcceptedAt:    p.now().UTC(),
	}
	p.orders[order.ClientOrderID] = order
	p.receipts[order.ClientOrderID] = r
	cp := *r
	return &cp, nil
}

// Orders returns the accepted orders.
func (p *PaperHandoff) Orders() []models.ExecutionOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.ExecutionOrder, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o)
	}
	return out
}
