package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SignalStatus is the lifecycle state of a persisted signal.
// The zero value is not a valid status and cannot be stored.
type SignalStatus uint8

const (
	SignalWatchlist SignalStatus = iota + 1
	SignalActive
	SignalFilled
	SignalInvalidated
	SignalExpired
)

var signalStatusNames = map[SignalStatus]string{
	SignalWatchlist:   "watchlist",
	SignalActive:      "active",
	SignalFilled:      "filled",
	SignalInvalidated: "invalidated",
	SignalExpired:     "expired",
}

// signalTransitions lists the allowed next states per state. Terminal states have none.
var signalTransitions = map[SignalStatus][]SignalStatus{
	SignalWatchlist: {SignalActive, SignalInvalidated, SignalExpired},
	SignalActive:    {SignalFilled, SignalInvalidated, SignalExpired},
}

// ParseSignalStatus converts the persisted text form into a SignalStatus.
func ParseSignalStatus(s string) (SignalStatus, error) {
	for st, name := range signalStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown signal status %q", s)
}

func (s SignalStatus) String() string {
	if name, ok := signalStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SignalStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s SignalStatus) Valid() bool {
	_, ok := signalStatusNames[s]
	return ok
}

// IsTerminal reports whether no further transition is possible.
func (s SignalStatus) IsTerminal() bool {
	return s.Valid() && len(signalTransitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s SignalStatus) CanTransition(next SignalStatus) bool {
	for _, allowed := range signalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s SignalStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid signal status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *SignalStatus) UnmarshalText(b []byte) error {
	v, err := ParseSignalStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Value implements driver.Valuer.
func (s SignalStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid signal status %d", uint8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner.
func (s *SignalStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("scan signal status: unsupported type %T", src)
	}
}

// SignalType is the trade side of a signal.
type SignalType string

const (
	SignalTypeBuy     SignalType = "buy"
	SignalTypeSell    SignalType = "sell"
	SignalTypeNeutral SignalType = "neutral"
)

// VolatilityState is an informational classification. It never affects gating or direction.
type VolatilityState string

const (
	VolatilityUnknown VolatilityState = "unknown"
	VolatilityLow     VolatilityState = "low"
	VolatilityNormal  VolatilityState = "normal"
	VolatilityHigh    VolatilityState = "high"
)

// Trade gate reasons.
const (
	GateOK              = "ok"
	GateBeforeStartTime = "before_start_time"
	GateStaleData       = "stale_data"
	GateManualBlock     = "manual_block"
)

// SignalKey identifies a signal record.
type SignalKey struct {
	Symbol      string
	Timeframe   string
	SignalBarTS time.Time
}

func (k SignalKey) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Symbol, k.Timeframe, k.SignalBarTS.Unix())
}

// SignalRecord is the persisted signal row consumed by downstream readers.
type SignalRecord struct {
	ID                   int64           `json:"id" db:"id"`
	Symbol               string          `json:"symbol" db:"symbol"`
	Timeframe            string          `json:"timeframe" db:"timeframe"`
	SignalBarTS          time.Time       `json:"signal_bar_ts" db:"signal_bar_ts"`
	Status               SignalStatus    `json:"status" db:"status"`
	SignalType           SignalType      `json:"signal_type" db:"signal_type"`
	ConfidenceScore      int             `json:"confidence_score" db:"confidence_score"`
	EntryPrice           float64         `json:"entry_price" db:"entry_price"`
	ZoneHigh             float64         `json:"zone_high" db:"zone_high"`
	ZoneLow              float64         `json:"zone_low" db:"zone_low"`
	BOSPrice             float64         `json:"bos_price" db:"bos_price"`
	TradeGateAllowed     bool            `json:"trade_gate_allowed" db:"trade_gate_allowed"`
	TradeGateReason      string          `json:"trade_gate_reason" db:"trade_gate_reason"`
	BlockedUntil         *time.Time      `json:"blocked_until,omitempty" db:"blocked_until"`
	AIEnriched           bool            `json:"ai_enriched" db:"ai_enriched"`
	Narrative            string          `json:"narrative" db:"narrative"`
	DataFreshnessMinutes int             `json:"data_freshness_minutes" db:"data_freshness_minutes"`
	VolatilityState      VolatilityState `json:"volatility_state" db:"volatility_state"`
	ClientOrderID        string          `json:"client_order_id,omitempty" db:"client_order_id"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Key returns the unique key of the record.
func (r *SignalRecord) Key() SignalKey {
	return SignalKey{Symbol: r.Symbol, Timeframe: r.Timeframe, SignalBarTS: r.SignalBarTS}
}

// Direction derives the structural direction from the signal type.
func (r *SignalRecord) Direction() Direction {
	switch r.SignalType {
	case SignalTypeBuy:
		return DirectionBullish
	case SignalTypeSell:
		return DirectionBearish
	default:
		return DirectionNone
	}
}

// Executable reports whether the record may be handed to execution.
func (r *SignalRecord) Executable() bool {
	return r.Status == SignalActive && r.TradeGateAllowed && r.SignalType != SignalTypeNeutral
}

// SignalEvent is published for every persisted transition.
type SignalEvent struct {
	Type       string        `json:"type"` // created | transitioned | gated
	Signal     SignalRecord  `json:"signal"`
	PrevStatus *SignalStatus `json:"prev_status,omitempty"`
	At         time.Time     `json:"at"`
}

// SignalTransition is a record after a status change and the status it left.
type SignalTransition struct {
	Signal     SignalRecord
	PrevStatus SignalStatus
}

// SignalFilter narrows signal listings.
type SignalFilter struct {
	Symbol    string
	Timeframe string
	Status    SignalStatus
	Limit     int
}
