package webhook

import "math"

// Stats summarises webhook processing over a window.
type Stats struct {
	Total           int64                `json:"total"`
	Succeeded       int64                `json:"succeeded"`
	Failed          int64                `json:"failed"`
	Processing      int64                `json:"processing"`
	SuccessRate     float64              `json:"successRate"`
	AvgProcessingMs float64              `json:"avgProcessingMs"`
	ByType          map[string]TypeStats `json:"byType"`
}

// TypeStats is the per event type breakdown of Stats.
type TypeStats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// statsAggregator accumulates Stats one event at a time.
type statsAggregator struct {
	s          Stats
	durationMs int64
	timed      int64
}

func newStatsAggregator() *statsAggregator {
	return &statsAggregator{s: Stats{ByType: make(map[string]TypeStats)}}
}

func (a *statsAggregator) add(eventType, status string, durationMs int64) {
	a.addCount(eventType, status, 1)
	if status != StatusProcessing {
		a.durationMs += durationMs
		a.timed++
	}
}

// addGroup adds a pre-aggregated (event type, status) group.
func (a *statsAggregator) addGroup(eventType, status string, count, sumDurationMs int64) {
	a.addCount(eventType, status, count)
	if status != StatusProcessing {
		a.durationMs += sumDurationMs
		a.timed += count
	}
}

func (a *statsAggregator) addCount(eventType, status string, n int64) {
	t := a.s.ByType[eventType]
	a.s.Total += n
	t.Total += n
	switch status {
	case StatusSuccess:
		a.s.Succeeded += n
		t.Succeeded += n
	case StatusFailed:
		a.s.Failed += n
		t.Failed += n
	default:
		a.s.Processing += n
	}
	a.s.ByType[eventType] = t
}

func (a *statsAggregator) result() *Stats {
	out := a.s
	// Rate is over finished events; in-flight ones have no outcome yet.
	if finished := out.Succeeded + out.Failed; finished > 0 {
		out.SuccessRate = round2(float64(out.Succeeded) / float64(finished) * 100)
	}
	if a.timed > 0 {
		out.AvgProcessingMs = round2(float64(a.durationMs) / float64(a.timed))
	}
	return &out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
