package models

import "time"

// ExecutionOrder is handed to the execution collaborator.
type ExecutionOrder struct {
	ClientOrderID string     `json:"client_order_id"`
	EngineKey     string     `json:"engine_key"`
	Symbol        string     `json:"symbol"`
	Timeframe     string     `json:"timeframe"`
	Side          SignalType `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	Confidence    int        `json:"confidence"`
	SignalBarTS   time.Time  `json:"signal_bar_ts"`
}

// ExecutionReceipt acknowledges a hand-off.
type ExecutionReceipt struct {
	ClientOrderID string    `json:"client_order_id"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// ExecutionFill reports realized P&L for a closed position.
type ExecutionFill struct {
	EngineKey     string    `json:"engine_key" db:"engine_key" validate:"required"`
	ClientOrderID string    `json:"client_order_id" db:"client_order_id" validate:"required"`
	Symbol        string    `json:"symbol" db:"symbol" validate:"required"`
	RealizedPnL   float64   `json:"realized_pnl" db:"realized_pnl"`
	ClosedAt      time.Time `json:"closed_at" db:"closed_at" validate:"required"`
}
