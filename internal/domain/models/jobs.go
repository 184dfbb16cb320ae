package models

import "time"

// JobName identifies a pipeline stage.
type JobName string

const (
	JobIngest   JobName = "ingest"
	JobGenerate JobName = "generate"
	JobExecute  JobName = "execute"
	JobAll      JobName = "all"
)

// ParseJobName validates a job name from the trigger surface.
func ParseJobName(s string) (JobName, bool) {
	switch j := JobName(s); j {
	case JobIngest, JobGenerate, JobExecute, JobAll:
		return j, true
	default:
		return "", false
	}
}

// ReasonCode explains a per-symbol outcome.
type ReasonCode string

const (
	ReasonNoData              ReasonCode = "no_data"
	ReasonInsufficientHistory ReasonCode = "insufficient_history"
	ReasonStaleDataSkip       ReasonCode = "stale_data_skip"
	ReasonPartialCandle       ReasonCode = "partial_candle"
	ReasonInvalidSymbol       ReasonCode = "invalid_symbol"
	ReasonProviderError       ReasonCode = "provider_error"
	ReasonStoreError          ReasonCode = "store_error"
	ReasonNoCandidate         ReasonCode = "no_candidate"
	ReasonSignalActive        ReasonCode = "signal_active"
	ReasonSignalWatchlist     ReasonCode = "signal_watchlist"
	ReasonSignalTerminal      ReasonCode = "signal_terminal"
	ReasonGated               ReasonCode = "gated"
	ReasonGovernorHalt        ReasonCode = "governor_halt"
	ReasonHandoffFailed       ReasonCode = "handoff_failed"
	ReasonFilled              ReasonCode = "filled"
	ReasonPanic               ReasonCode = "panic"
	ReasonEnrichmentFallback  ReasonCode = "enrichment_fallback"
	ReasonIngested            ReasonCode = "ingested"
)

// OutcomeStatus is the coarse result of one symbol in a run.
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// SymbolOutcome is the per-symbol entry of a run log.
type SymbolOutcome struct {
	Job       JobName       `json:"job"`
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe,omitempty"`
	Status    OutcomeStatus `json:"status"`
	Reason    ReasonCode    `json:"reason"`
	Detail    string        `json:"detail,omitempty"`
}

// RunLog is the structured result of a job invocation.
type RunLog struct {
	ID         string          `json:"id" db:"id"`
	Job        JobName         `json:"job" db:"job"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt time.Time       `json:"finished_at" db:"finished_at"`
	DurationMS int64           `json:"duration_ms" db:"duration_ms"`
	Processed  int             `json:"processed" db:"processed"`
	Skipped    int             `json:"skipped" db:"skipped"`
	Failed     int             `json:"failed" db:"failed"`
	Success    bool            `json:"success" db:"success"`
	Outcomes   []SymbolOutcome `json:"outcomes" db:"-"`
}

// Add appends an outcome and updates the counters.
func (r *RunLog) Add(o SymbolOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeOK:
		r.Processed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeFailed:
		r.Failed++
	}
}

// Finish stamps the end time. A run succeeds when no symbol failed.
func (r *RunLog) Finish(now time.Time) {
	r.FinishedAt = now
	r.DurationMS = now.Sub(r.StartedAt).Milliseconds()
	r.Success = r.Failed == 0
}

// SkippedSymbols returns the symbols skipped for the given reason.
func (r *RunLog) SkippedSymbols(reason ReasonCode) map[string]struct{} {
	out := make(map[string]struct{})
	for _, o := range r.Outcomes {
		if o.Status == OutcomeSkipped && o.Reason == reason {
			out[o.Symbol] = struct{}{}
		}
	}
	return out
}
