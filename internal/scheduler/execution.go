package scheduler

import (
	"time"
)

// JobName identifies a job
type JobName string

// Jobs
const (
	JobRollover       JobName = "rollover"
	JobResourceSync   JobName = "resource_sync"
	JobMetricsSync    JobName = "metrics_sync"
	JobRetentionSweep JobName = "retention_sweep"
	JobWarmCache      JobName = "warm_cache"
)

// Jobs lists every job
var Jobs = []JobName{JobRollover, JobResourceSync, JobMetricsSync, JobRetentionSweep, JobWarmCache}

// ParseJob validates a job name
func ParseJob(s string) (JobName, bool) {
	for _, j := range Jobs {
		if string(j) == s {
			return j, true
		}
	}
	return "", false
}

// Status is the state of an execution
type Status string

// Execution statuses
const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Execution records one run of a job
type Execution struct {
	ID        string        `json:"id"`
	Job       JobName       `json:"job"`
	Trigger   string        `json:"trigger"`
	Status    Status        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Finished reports whether the execution reached a final status
func (e Execution) Finished() bool {
	return e.Status != StatusRunning
}

// history keeps the newest executions up to a fixed size. Callers hold the
// scheduler lock.
type history struct {
	size  int
	order []string
	byID  map[string]Execution
}

func newHistory(size int) *history {
	return &history{size: size, byID: make(map[string]Execution)}
}

func (h *history) put(e Execution) {
	if _, ok := h.byID[e.ID]; !ok {
		h.order = append(h.order, e.ID)
		if len(h.order) > h.size {
			delete(h.byID, h.order[0])
			h.order = h.order[1:]
		}
	}
	h.byID[e.ID] = e
}

func (h *history) get(id string) (Execution, bool) {
	e, ok := h.byID[id]
	return e, ok
}

// list returns executions newest first, optionally limited to one job
func (h *history) list(job JobName) []Execution {
	out := make([]Execution, 0, len(h.order))
	for i := len(h.order) - 1; i >= 0; i-- {
		e := h.byID[h.order[i]]
		if job == "" || e.Job == job {
			out = append(out, e)
		}
	}
	return out
}
