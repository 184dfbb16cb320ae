package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// EngineState is the risk-governor state of an engine for one trading day.
type EngineState uint8

const (
	EngineNormal EngineState = iota + 1
	EngineThrottled
	EngineHaltedProfit
	EngineHaltedLoss
	EngineHaltedTrades
)

var engineStateNames = map[EngineState]string{
	EngineNormal:       "NORMAL",
	EngineThrottled:    "THROTTLED",
	EngineHaltedProfit: "HALTED_PROFIT",
	EngineHaltedLoss:   "HALTED_LOSS",
	EngineHaltedTrades: "HALTED_TRADES",
}

func ParseEngineState(s string) (EngineState, error) {
	for st, name := range engineStateNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown engine state %q", s)
}

func (s EngineState) String() string {
	if name, ok := engineStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("EngineState(%d)", uint8(s))
}

func (s EngineState) Valid() bool {
	_, ok := engineStateNames[s]
	return ok
}

// Halted reports whether no new trade may be placed.
func (s EngineState) Halted() bool {
	return s == EngineHaltedProfit || s == EngineHaltedLoss || s == EngineHaltedTrades
}

func (s EngineState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid engine state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *EngineState) UnmarshalText(b []byte) error {
	v, err := ParseEngineState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s EngineState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid engine state %d", uint8(s))
	}
	return s.String(), nil
}

func (s *EngineState) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	default:
		return fmt.Errorf("scan engine state: unsupported type %T", src)
	}
}

// Halt reasons surfaced on EngineDailyState.
const (
	HaltReasonNone      = ""
	HaltReasonMaxTrades = "max_trades_per_day reached"
	HaltReasonMaxLoss   = "max_daily_loss reached"
	HaltReasonHardLock  = "hard_lock_pnl reached"
)

// EngineDailyState is one row per (engine, trading day).
type EngineDailyState struct {
	EngineKey      string      `json:"engine_key" db:"engine_key"`
	EngineVersion  string      `json:"engine_version" db:"engine_version"`
	TradingDay     time.Time   `json:"trading_day" db:"trading_day"`
	State          EngineState `json:"state" db:"state"`
	DailyPnL       float64     `json:"daily_pnl" db:"daily_pnl"`
	TradesCount    int         `json:"trades_count" db:"trades_count"`
	ThrottleFactor float64     `json:"throttle_factor" db:"throttle_factor"`
	HaltReason     string      `json:"halt_reason" db:"halt_reason"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
}

// NewEngineDailyState returns the lazily created row for a fresh trading day.
func NewEngineDailyState(engineKey, version string, day time.Time) *EngineDailyState {
	return &EngineDailyState{
		EngineKey:      engineKey,
		EngineVersion:  version,
		TradingDay:     day,
		State:          EngineNormal,
		ThrottleFactor: 1,
	}
}

// BrakesConfig holds the static per-engine thresholds.
type BrakesConfig struct {
	SoftLockPnL     float64 `yaml:"soft_lock_pnl" json:"soft_lock_pnl" default:"500" validate:"gt=0"`
	HardLockPnL     float64 `yaml:"hard_lock_pnl" json:"hard_lock_pnl" default:"1000" validate:"gtfield=SoftLockPnL"`
	MaxDailyLoss    float64 `yaml:"max_daily_loss" json:"max_daily_loss" default:"-500" validate:"lt=0"`
	MaxTradesPerDay int     `yaml:"max_trades_per_day" json:"max_trades_per_day" default:"10" validate:"gte=1"`
	ThrottleFactor  float64 `yaml:"throttle_factor" json:"throttle_factor" default:"0.3" validate:"gt=0,lt=1"`
}

// BrakesDecision is the governor output for one evaluation.
type BrakesDecision struct {
	State          EngineState `json:"state"`
	ThrottleFactor float64     `json:"throttle_factor"`
	HaltReason     string      `json:"halt_reason,omitempty"`
}

// TradingDayOf returns the exchange-local calendar date of t as a UTC midnight value.
func TradingDayOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
