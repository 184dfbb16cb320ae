package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"SignalForge/internal/domain/models"
	"SignalForge/internal/domain/service"
	applogger "SignalForge/pkg/logger"
)

// Completer is the subset of the OpenAI client used here.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	// Breaker opens after this many consecutive failures and half-opens after BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// OpenAIEnricher writes a short analyst-style narrative for a signal.
type OpenAIEnricher struct {
	cfg     Config
	client  Completer
	breaker *gobreaker.CircuitBreaker
	l       *applogger.Logger
}

var _ service.Enricher = (*OpenAIEnricher)(nil)

// New returns an enricher backed by the OpenAI API, or a disabled one when no key is configured.
func New(cfg Config, l *applogger.Logger) service.Enricher {
	if cfg.APIKey == "" {
		return Disabled{}
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return NewWithClient(cfg, openai.NewClientWithConfig(oc), l)
}

func NewWithClient(cfg Config, client Completer, l *applogger.Logger) *OpenAIEnricher {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 160
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if l == nil {
		l = applogger.Nop()
	}
	e := &OpenAIEnricher{cfg: cfg, client: client, l: l}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "enrichment",
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
	return e
}

// State returns the breaker state.
func (e *OpenAIEnricher) State() gobreaker.State { return e.breaker.State() }

func (e *OpenAIEnricher) Enrich(ctx context.Context, rec *models.SignalRecord, cand *models.EntryCandidate) (string, error) {
	out, err := e.breaker.Execute(func() (interface{}, error) {
		resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       e.cfg.Model,
			MaxTokens:   e.cfg.MaxTokens,
			Temperature: e.cfg.Temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: Prompt(rec, cand)},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("enrichment unavailable: %w", err)
		}
		return "", fmt.Errorf("enrichment: %w", err)
	}
	return out.(string), nil
}

const systemPrompt = "You are a concise market analyst. Describe the trade setup in two sentences. " +
	"Do not give financial advice and do not invent prices."

// Prompt renders the signal facts sent to the model.
func Prompt(rec *models.SignalRecord, cand *models.EntryCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nTimeframe: %s\nSide: %s\n", rec.Symbol, rec.Timeframe, rec.SignalType)
	fmt.Fprintf(&b, "Order block: %.4f - %.4f\nBreak of structure: %.4f\nEntry: %.4f\n",
		rec.ZoneLow, rec.ZoneHigh, rec.BOSPrice, rec.EntryPrice)
	fmt.Fprintf(&b, "Confidence: %d/100\nMomentum confirmed: %t\n", rec.ConfidenceScore, cand.MomentumConfirmed)
	fmt.Fprintf(&b, "Volatility: %s\n", rec.VolatilityState)
	if !rec.TradeGateAllowed {
		fmt.Fprintf(&b, "Trading currently gated: %s\n", rec.TradeGateReason)
	}
	return b.String()
}

// Disabled is used when no enrichment backend is configured.
type Disabled struct{}

func (Disabled) Enrich(context.Context, *models.SignalRecord, *models.EntryCandidate) (string, error) {
	return "", service.ErrEnrichmentDisabled
}
