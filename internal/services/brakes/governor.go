package brakes

import (
	"fmt"

	"SignalForge/internal/domain/models"
)

// rule is one row of the governor table. Rules are checked in order; the first match wins.
type rule struct {
	state    models.EngineState
	reason   string
	throttle func(cfg models.BrakesConfig) float64
	match    func(st models.EngineDailyState, cfg models.BrakesConfig) bool
}

func zero(models.BrakesConfig) float64 { return 0 }

var rules = []rule{
	{
		state:    models.EngineHaltedTrades,
		reason:   models.HaltReasonMaxTrades,
		throttle: zero,
		match: func(st models.EngineDailyState, cfg models.BrakesConfig) bool {
			return st.TradesCount >= cfg.MaxTradesPerDay
		},
	},
	{
		state:    models.EngineHaltedLoss,
		reason:   models.HaltReasonMaxLoss,
		throttle: zero,
		match: func(st models.EngineDailyState, cfg models.BrakesConfig) bool {
			return st.DailyPnL <= cfg.MaxDailyLoss
		},
	},
	{
		state:    models.EngineHaltedProfit,
		reason:   models.HaltReasonHardLock,
		throttle: zero,
		match: func(st models.EngineDailyState, cfg models.BrakesConfig) bool {
			return st.DailyPnL >= cfg.HardLockPnL
		},
	},
	{
		state:    models.EngineThrottled,
		throttle: func(cfg models.BrakesConfig) float64 { return cfg.ThrottleFactor },
		match: func(st models.EngineDailyState, cfg models.BrakesConfig) bool {
			return st.DailyPnL >= cfg.SoftLockPnL
		},
	},
}

// Evaluate maps the day state and thresholds to a decision. It has no side effects.
func Evaluate(st models.EngineDailyState, cfg models.BrakesConfig) models.BrakesDecision {
	for _, r := range rules {
		if r.match(st, cfg) {
			return models.BrakesDecision{State: r.state, ThrottleFactor: r.throttle(cfg), HaltReason: r.reason}
		}
	}
	return models.BrakesDecision{State: models.EngineNormal, ThrottleFactor: 1}
}

// Apply evaluates and writes the decision back onto st.
func Apply(st *models.EngineDailyState, cfg models.BrakesConfig) models.BrakesDecision {
	d := Evaluate(*st, cfg)
	st.State = d.State
	st.ThrottleFactor = d.ThrottleFactor
	st.HaltReason = d.HaltReason
	return d
}

// ValidateConfig checks the threshold ordering the rule table relies on.
func ValidateConfig(cfg models.BrakesConfig) error {
	switch {
	case cfg.MaxTradesPerDay < 1:
		return fmt.Errorf("max_trades_per_day must be >= 1")
	case cfg.MaxDailyLoss >= 0:
		return fmt.Errorf("max_daily_loss must be negative")
	case cfg.SoftLockPnL <= 0:
		return fmt.Errorf("soft_lock_pnl must be positive")
	case cfg.HardLockPnL <= cfg.SoftLockPnL:
		return fmt.Errorf("hard_lock_pnl must exceed soft_lock_pnl")
	case cfg.ThrottleFactor <= 0 || cfg.ThrottleFactor >= 1:
		return fmt.Errorf("throttle_factor must be in (0, 1)")
	}
	return nil
}
