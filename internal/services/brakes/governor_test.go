package brakes

import (
	"testing"
	"time"

	"SignalForge/internal/domain/models"

	"github.com/stretchr/testify/assert"
)

var testDay = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

var cfg = models.BrakesConfig{
	SoftLockPnL:     500,
	HardLockPnL:     1000,
	MaxDailyLoss:    -400,
	MaxTradesPerDay: 5,
	ThrottleFactor:  0.3,
}

func TestEvaluate_Table(t *testing.T) {
	tests := []struct {
		name     string
		pnl      float64
		trades   int
		state    models.EngineState
		throttle float64
		reason   string
	}{
		{"fresh day", 0, 0, models.EngineNormal, 1, ""},
		{"just under soft lock", 499.99, 1, models.EngineNormal, 1, ""},
		{"soft lock exactly", 500, 1, models.EngineThrottled, 0.3, ""},
		{"between locks", 750, 2, models.EngineThrottled, 0.3, ""},
		{"hard lock exactly", 1000, 2, models.EngineHaltedProfit, 0, models.HaltReasonHardLock},
		{"loss limit exactly", -400, 2, models.EngineHaltedLoss, 0, models.HaltReasonMaxLoss},
		{"small loss", -399.99, 2, models.EngineNormal, 1, ""},
		{"trade cap", 100, 5, models.EngineHaltedTrades, 0, models.HaltReasonMaxTrades},
		{"trade cap wins over loss", -900, 5, models.EngineHaltedTrades, 0, models.HaltReasonMaxTrades},
		{"trade cap wins over profit", 2000, 6, models.EngineHaltedTrades, 0, models.HaltReasonMaxTrades},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(models.EngineDailyState{DailyPnL: tt.pnl, TradesCount: tt.trades}, cfg)
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.throttle, d.ThrottleFactor)
			assert.Equal(t, tt.reason, d.HaltReason)
		})
	}
}

func TestEvaluate_SoftLockMinusCent(t *testing.T) {
	d := Evaluate(models.EngineDailyState{DailyPnL: cfg.SoftLockPnL - 0.01}, cfg)
	assert.Equal(t, models.EngineNormal, d.State)
}

func TestApply_WritesBack(t *testing.T) {
	st := models.NewEngineDailyState("smc", "v1", models.TradingDayOf(testDay, nil))
	st.DailyPnL = 1200

	d := Apply(st, cfg)
	assert.Equal(t, models.EngineHaltedProfit, d.State)
	assert.Equal(t, models.EngineHaltedProfit, st.State)
	assert.Equal(t, 0.0, st.ThrottleFactor)
	assert.Equal(t, models.HaltReasonHardLock, st.HaltReason)
	assert.True(t, st.State.Halted())
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(cfg))

	bad := cfg
	bad.HardLockPnL = bad.SoftLockPnL
	assert.Error(t, ValidateConfig(bad))

	bad = cfg
	bad.MaxDailyLoss = 10
	assert.Error(t, ValidateConfig(bad))

	bad = cfg
	bad.ThrottleFactor = 1
	assert.Error(t, ValidateConfig(bad))
}
