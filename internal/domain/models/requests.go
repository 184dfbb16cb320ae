package models

import "time"

// Requests for the HTTP surface. Bound, defaulted and validated by xhttp.ReadAndValidateRequest.

type JobTriggerRequest struct {
	Job     string   `param:"job" json:"-" validate:"required,oneof=ingest generate execute all"`
	Symbols []string `json:"symbols" validate:"max=50,dive,required,max=16"`
}

type ListSignalsRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"omitempty,max=16"`
	Timeframe string `query:"tf" json:"tf" validate:"omitempty,oneof=1m 5m 15m 1h 4h 1d"`
	Status    string `query:"status" json:"status" validate:"omitempty,oneof=watchlist active filled invalidated expired"`
	Limit     int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type BarsRequest struct {
	Symbol    string `query:"symbol" json:"symbol" validate:"required,max=16"`
	Timeframe string `query:"tf" json:"tf" default:"5m" validate:"oneof=1m 5m 15m 1h 4h 1d"`
	N         int    `query:"n" json:"n" default:"300" validate:"gte=1,lte=5000"`
}

type EngineStateRequest struct {
	Day string `query:"day" json:"day" validate:"omitempty,datetime=2006-01-02"`
}

type RunsRequest struct {
	Job   string `query:"job" json:"job" validate:"omitempty,oneof=ingest generate execute all"`
	Limit int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=200"`
}

type BlockRequest struct {
	Symbol string    `json:"symbol" validate:"required,max=16"`
	Until  time.Time `json:"until" validate:"required"`
	Reason string    `json:"reason" validate:"max=200"`
}

// ManualBlock is an operator-set window during which a symbol may not trade.
type ManualBlock struct {
	Symbol string    `json:"symbol"`
	Until  time.Time `json:"until"`
	Reason string    `json:"reason,omitempty"`
}
