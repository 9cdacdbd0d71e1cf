package engine

import (
	"backtester/types"
	"time"
)

// SignalRecord is one entry of the per-bar signal log.
type SignalRecord struct {
	BarIndex int          `json:"barIndex"`
	Signal   types.Signal `json:"signal"`
	Applied  bool         `json:"applied"`
	Note     string       `json:"note,omitempty"`
}

type DiagnosticKind string

const (
	DiagInsufficientCapital DiagnosticKind = "INSUFFICIENT_CAPITAL"
	DiagPositionConflict    DiagnosticKind = "POSITION_CONFLICT"
	DiagStrategyError       DiagnosticKind = "STRATEGY_ERROR"
	DiagPendingDropped      DiagnosticKind = "PENDING_DROPPED"
)

// Diagnostic records a recoverable problem that did not stop the run.
type Diagnostic struct {
	BarIndex int            `json:"barIndex"`
	Time     time.Time      `json:"time"`
	Kind     DiagnosticKind `json:"kind"`
	Message  string         `json:"message"`
}
