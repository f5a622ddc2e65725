package models

import "time"

type JobType string

const (
	JobTypeFull        JobType = "full"
	JobTypeIncremental JobType = "incremental"
	JobTypeCategories  JobType = "categories"
	JobTypeOffers      JobType = "offers"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeFull, JobTypeIncremental, JobTypeCategories, JobTypeOffers:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal - из терминального состояния переходов нет.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether a job in this state blocks a new trigger for its source.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// CanTransition enforces pending -> running -> {completed, failed, cancelled},
// with pending also allowed to go straight to cancelled or failed.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusPending:
		return to == JobStatusRunning || to == JobStatusCancelled || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusCancelled
	}
	return false
}

// ErrorDetails is the structured payload stored on a failed job.
type ErrorDetails struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ScrapeJob struct {
	ID              int64         `db:"id" json:"id"`
	Source          Source        `db:"source_app" json:"source_app"`
	JobType         JobType       `db:"job_type" json:"job_type"`
	Status          JobStatus     `db:"status" json:"status"`
	StartedAt       *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	ProductsScraped int           `db:"products_scraped" json:"products_scraped"`
	ProductsNew     int           `db:"products_new" json:"products_new"`
	ProductsUpdated int           `db:"products_updated" json:"products_updated"`
	ErrorsCount     int           `db:"errors_count" json:"errors_count"`
	ErrorDetails    *ErrorDetails `db:"error_details" json:"error_details,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

type JobFilter struct {
	Source Source
	Status JobStatus
	Limit  int
	Offset int
}

const DefaultJobListLimit = 50

// JobStats - агрегаты по задачам для панели мониторинга.
type JobStats struct {
	Total    int               `json:"total"`
	ByStatus map[JobStatus]int `json:"by_status"`
	BySource map[Source]int    `json:"by_source"`
}
