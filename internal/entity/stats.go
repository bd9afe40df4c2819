package entity

import "time"

const ExpiredProcessingKey = "expired_processing"

type QueueStats struct {
	Counts            map[Status]int64 `json:"counts"`
	ExpiredProcessing int64            `json:"expired_processing"`
}

func NewQueueStats() QueueStats {
	return QueueStats{Counts: make(map[Status]int64, len(Statuses))}
}

// AsMap flattens the stats into status -> count plus "expired_processing".
// Statuses with no events are reported as zero.
func (s QueueStats) AsMap() map[string]int64 {
	m := make(map[string]int64, len(Statuses)+1)
	for _, st := range Statuses {
		m[string(st)] = s.Counts[st]
	}
	m[ExpiredProcessingKey] = s.ExpiredProcessing

	return m
}

type WorkerState string

const (
	WorkerIdle       WorkerState = "idle"
	WorkerClaiming   WorkerState = "claiming"
	WorkerProcessing WorkerState = "processing"
	WorkerCompleting WorkerState = "completing"
	WorkerFailing    WorkerState = "failing"
	WorkerStopped    WorkerState = "stopped"
)

type WorkerStats struct {
	WorkerID        string      `json:"worker_id"`
	State           WorkerState `json:"state"`
	IsRunning       bool        `json:"is_running"`
	EventsProcessed int64       `json:"events_processed"`
	EventsFailed    int64       `json:"events_failed"`
	LastEventAt     *time.Time  `json:"last_event_at,omitempty"`
}

type PoolStats struct {
	PoolSize             int           `json:"pool_size"`
	WorkersRunning       int           `json:"workers_running"`
	TotalEventsProcessed int64         `json:"total_events_processed"`
	TotalEventsFailed    int64         `json:"total_events_failed"`
	Workers              []WorkerStats `json:"workers"`
}
