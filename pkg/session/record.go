package session

import (
	"time"
)

// ResponseTimeWindow is how many recent response times a record keeps
const ResponseTimeWindow = 10

// Record is the persisted per-session performance summary
type Record struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`

	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	// Most recent last, in milliseconds
	ResponseTimesMs []float64 `json:"response_times_ms"`
	AudioQuality    float64   `json:"audio_quality"`
	ChunkCount      int       `json:"chunk_count"`
	TurnCount       int       `json:"turn_count"`
	// Turns answered within the latency target
	SuccessCount int `json:"success_count"`
}

// ChunkOutcome is what one processed chunk contributes to the record
type ChunkOutcome struct {
	AudioQuality float64
	// Set when the chunk produced an agent response
	Responded    bool
	ResponseTime time.Duration
}

// Apply folds a chunk outcome into the record
func (r *Record) Apply(outcome ChunkOutcome, target time.Duration, now time.Time) {
	r.ChunkCount++
	r.AudioQuality = outcome.AudioQuality
	r.LastActivity = now

	if !outcome.Responded {
		return
	}

	r.TurnCount++
	if outcome.ResponseTime <= target {
		r.SuccessCount++
	}

	r.ResponseTimesMs = append(r.ResponseTimesMs, float64(outcome.ResponseTime)/float64(time.Millisecond))
	if over := len(r.ResponseTimesMs) - ResponseTimeWindow; over > 0 {
		r.ResponseTimesMs = append([]float64(nil), r.ResponseTimesMs[over:]...)
	}
}

// AverageResponseMs averages the retained response times
func (r *Record) AverageResponseMs() float64 {
	if len(r.ResponseTimesMs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.ResponseTimesMs {
		sum += v
	}
	return sum / float64(len(r.ResponseTimesMs))
}

// SuccessRate is the share of turns answered within the target
func (r *Record) SuccessRate() float64 {
	if r.TurnCount == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(r.TurnCount)
}

func (r *Record) clone() *Record {
	out := *r
	out.ResponseTimesMs = append([]float64(nil), r.ResponseTimesMs...)
	return &out
}
