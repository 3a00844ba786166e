package models

import (
	"time"
)

// JobStatus is the lifecycle state of an ingest job. Pending -> Processing ->
// {Completed | CompletedWithErrors | Failed}. Completed states never move
// again; a Failed job re-enters Processing when its message is redelivered,
// until the delivery ceiling pins it.
type JobStatus string

const (
	JobPending             JobStatus = "Pending"
	JobProcessing          JobStatus = "Processing"
	JobCompleted           JobStatus = "Completed"
	JobCompletedWithErrors JobStatus = "CompletedWithErrors"
	JobFailed              JobStatus = "Failed"
)

// Terminal reports whether the status permits no further transition.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed:
		return true
	}
	return false
}

// ItemStatus is the lifecycle state of a staged document.
type ItemStatus string

const (
	ItemPending    ItemStatus = "Pending"
	ItemProcessing ItemStatus = "Processing"
	ItemSucceeded  ItemStatus = "Succeeded"
	ItemFailed     ItemStatus = "Failed"
)

// IngestJob tracks one archive ingestion, keyed by correlation id.
type IngestJob struct {
	ID               string
	CorrelationID    string
	ClientID         string
	SourcePath       string
	Country          string
	AppName          string
	Status           JobStatus
	FailureReason    string
	TotalDocuments   int
	SuccessDocuments int
	FailedDocuments  int
	CreatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
}

// WorkItem is one document declared by the archive's metadata descriptor.
type WorkItem struct {
	ID          string
	JobID       string
	FileGUID    string
	Filepath    string
	Extension   string
	DocType     string
	Tags        map[string]string
	Status      ItemStatus
	Error       string
	LastUpdated time.Time
}

// ProductionRecord is written exactly once per successfully promoted document.
type ProductionRecord struct {
	ID        string
	JobID     string
	FileGUID  string
	Location  string
	Extension string
	Tags      map[string]string
	CreatedAt time.Time
}
