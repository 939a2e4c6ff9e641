package api

import (
	"time"

	"tilepipe/internal/queue"
	"tilepipe/internal/workflow"
)

// Request creates a layer. ID is generated when empty.
type Request struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	DataLocation string `json:"dataLocation"`
	Description  string `json:"description,omitempty"`
}

// RetryRequest resets a job. When DataLocation is set a fresh first-stage
// message carrying Name and Description is queued as well.
type RetryRequest struct {
	DataLocation string `json:"dataLocation,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Layer is the polling view of a job.
type Layer struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RetryResult reports what an operator retry changed.
type RetryResult struct {
	Layer
	PriorStatus string `json:"priorStatus"`
	Requeued    bool   `json:"requeued"`
}

// ArtifactList names the artifacts one stage has written.
type ArtifactList struct {
	Stage     string   `json:"stage"`
	Container string   `json:"container"`
	Names     []string `json:"names"`
}

// QueueStat is the depth of one stage queue.
type QueueStat struct {
	Stage    string `json:"stage"`
	Queue    string `json:"queue"`
	Visible  int    `json:"visible"`
	InFlight int    `json:"inFlight"`
	Error    string `json:"error,omitempty"`
}

// Total returns visible plus leased messages.
func (q QueueStat) Total() int {
	return queue.Stats{Visible: q.Visible, InFlight: q.InFlight}.Total()
}

// StageStatus is the wire form of one worker's counters.
type StageStatus struct {
	Stage       string           `json:"stage"`
	Queue       string           `json:"queue"`
	Final       bool             `json:"final"`
	Counts      map[string]int64 `json:"counts"`
	LastJobID   string           `json:"lastJobId,omitempty"`
	LastOutcome string           `json:"lastOutcome,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	LastCycle   string           `json:"lastCycle,omitempty"`
	Visible     int              `json:"visible"`
	InFlight    int              `json:"inFlight"`
	StatsError  string           `json:"statsError,omitempty"`
}

// PipelineStatus is the wire form of workflow.StatusSummary.
type PipelineStatus struct {
	Running bool          `json:"running"`
	Stages  []StageStatus `json:"stages"`
}

// FromStatusSummary converts pipeline diagnostics into their wire form.
func FromStatusSummary(summary workflow.StatusSummary) PipelineStatus {
	out := PipelineStatus{Running: summary.Running, Stages: make([]StageStatus, 0, len(summary.Stages))}
	for _, st := range summary.Stages {
		counts := make(map[string]int64, len(st.Counts))
		for k, v := range st.Counts {
			counts[string(k)] = v
		}
		dto := StageStatus{
			Stage:       st.Stage,
			Queue:       st.Queue,
			Final:       st.Final,
			Counts:      counts,
			LastJobID:   st.LastJobID,
			LastOutcome: string(st.LastOutcome),
			LastError:   st.LastError,
			StatsError:  st.StatsError,
		}
		if !st.LastCycle.IsZero() {
			dto.LastCycle = st.LastCycle.UTC().Format(time.RFC3339Nano)
		}
		if st.QueueStats != nil {
			dto.Visible = st.QueueStats.Visible
			dto.InFlight = st.QueueStats.InFlight
		}
		out.Stages = append(out.Stages, dto)
	}
	return out
}
