package chat

import "time"

// Stage names one timed part of an exchange.
type Stage string

const (
	StageWindow     Stage = "window"
	StageCompletion Stage = "completion"
	StageExchange   Stage = "exchange_total"
)

// stages lists every Stage in the order /v1/perf/latency reports them, with
// its p95 budget.
var stages = []struct {
	stage  Stage
	budget time.Duration
}{
	{StageWindow, time.Millisecond},
	{StageCompletion, 8 * time.Second},
	{StageExchange, 10 * time.Second},
}
