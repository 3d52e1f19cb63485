package models

// Pub/sub channel names shared by the coordinator and worker runtimes
const (
	ChannelJobNew      = "job:new"
	ChannelJobComplete = "worker:job-complete"
	ChannelJobFailed   = "worker:job-failed"
)

// JobNewEvent announces that a job of the given type was enqueued
type JobNewEvent struct {
	Type JobType `json:"type"`
}

// JobCompleteEvent reports successful execution of a job
type JobCompleteEvent struct {
	JobID    int64       `json:"jobId"`
	WorkerID int64       `json:"workerId"`
	Result   interface{} `json:"result,omitempty"`
}

// JobFailedEvent reports terminal failure of a job
type JobFailedEvent struct {
	JobID    int64  `json:"jobId"`
	WorkerID int64  `json:"workerId"`
	Error    string `json:"error"`
}
