package models

// JobStats aggregates job counts per status and per type
type JobStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
	ByType   map[string]int64 `json:"byType"`
}

// WorkerStats aggregates worker counts per status and per type
type WorkerStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
	ByType   map[string]int64 `json:"byType"`
}

// QueueStats is the /api/stats response body
type QueueStats struct {
	Jobs    JobStats    `json:"jobs"`
	Workers WorkerStats `json:"workers"`
}
