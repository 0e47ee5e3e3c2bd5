package model

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusAssigned  JobStatus = "assigned"
	JobStatusExecuting JobStatus = "executing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobError is the last failure recorded on a job, preserved verbatim for
// caller inspection.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is the unit the scheduler manages. Status transitions happen only
// through the job store's compare-and-set methods; in particular BackendID
// is set by the assignment transition and cleared on every requeue, so a
// retry is never pinned to the backend that failed it.
type Job struct {
	ID         string            `json:"id"`
	Request    GenerationRequest `json:"request"`
	Status     JobStatus         `json:"status"`
	BackendID  string            `json:"backend_id,omitempty"`
	Attempt    int               `json:"attempt"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Error      *JobError         `json:"error,omitempty"`
}

func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	return &cp
}
