// Package metrics keeps in-memory counters of generation outcomes for the
// stats endpoint. Nothing here survives a restart; see package db for the
// persistent history.
package metrics

import "time"

// Sample is one finished generation as seen by the store.
type Sample struct {
	ID          string        `json:"id"`
	Operation   string        `json:"operation"`
	Succeeded   bool          `json:"succeeded"`
	FailureKind string        `json:"failure_kind,omitempty"`
	Device      string        `json:"device,omitempty"`
	Duration    time.Duration `json:"duration"`
	At          time.Time     `json:"at"`
}

// OperationStats aggregates samples of one operation.
type OperationStats struct {
	Count       int64         `json:"count"`
	Failures    int64         `json:"failures"`
	SuccessRate float64       `json:"success_rate"` // 0-100
	AvgDuration time.Duration `json:"avg_duration"`
	MaxDuration time.Duration `json:"max_duration"`
}

// Snapshot is a consistent view of the store.
type Snapshot struct {
	Total       int64                     `json:"total"`
	Succeeded   int64                     `json:"succeeded"`
	Failed      int64                     `json:"failed"`
	ByOperation map[string]OperationStats `json:"by_operation"`
	ByFailure   map[string]int64          `json:"by_failure"`
	Uptime      time.Duration             `json:"uptime"`
	Recent      []Sample                  `json:"recent"`
}
