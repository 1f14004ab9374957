package types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobOrigin identifies what enqueued a job
type JobOrigin string

const (
	JobOriginManual    JobOrigin = "manual"
	JobOriginScheduled JobOrigin = "scheduled"
	JobOriginAdmin     JobOrigin = "admin"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

// Job is a build job document from the shared queue.
//
// Exactly one worker owns a processing job: WorkerID is non-nil iff status is
// processing, and ClaimedAt, HeartbeatAt and StartedAt are set together with
// it. A terminal status never returns to queued except through an explicit
// release.
type Job struct {
	ID          primitive.ObjectID  `bson:"_id"`
	JobID       string              `bson:"job_id"`
	UserID      *primitive.ObjectID `bson:"user_id,omitempty"`
	Username    string              `bson:"username"`
	Origin      JobOrigin           `bson:"type"`
	Status      JobStatus           `bson:"status"`
	Priority    int32               `bson:"priority"`
	Progress    JobProgress         `bson:"progress"`
	Result      *JobResult          `bson:"result,omitempty"`
	StartedAt   *time.Time          `bson:"started_at,omitempty"`
	CompletedAt *time.Time          `bson:"completed_at,omitempty"`
	CreatedAt   time.Time           `bson:"created_at"`
	WorkerID    *string             `bson:"worker_id,omitempty"`
	ClaimedAt   *time.Time          `bson:"claimed_at,omitempty"`
	HeartbeatAt *time.Time          `bson:"heartbeat_at,omitempty"`
	Read        bool                `bson:"read"`
}

// JobResult is the terminal result document written with a job's final
// status. It is a tagged union over success, failure, skipped and copied
// outcomes; use the constructors instead of filling fields by hand.
type JobResult struct {
	SourcesProcessed   int64             `bson:"sources_processed"`
	SourcesFailed      int64             `bson:"sources_failed"`
	TotalDomains       int64             `bson:"total_domains"`
	UniqueDomains      int64             `bson:"unique_domains"`
	WhitelistedRemoved int64             `bson:"whitelisted_removed"`
	OutputFiles        []OutputFile      `bson:"output_files"`
	Categories         map[string]int64  `bson:"categories,omitempty"`
	Errors             []string          `bson:"errors"`
	SkipReason         *string           `bson:"skip_reason,omitempty"`
	CopiedFrom         *string           `bson:"copied_from,omitempty"`
}

// OutputFile describes one emitted output list file
type OutputFile struct {
	Name        string `bson:"name"`
	Format      string `bson:"format"`
	SizeBytes   int64  `bson:"size_bytes"`
	DomainCount int64  `bson:"domain_count"`
}

// SuccessResult builds the result for a completed build
func SuccessResult(sourcesProcessed, sourcesFailed, totalDomains, uniqueDomains, whitelistedRemoved int64, outputFiles []OutputFile) *JobResult {
	return &JobResult{
		SourcesProcessed:   sourcesProcessed,
		SourcesFailed:      sourcesFailed,
		TotalDomains:       totalDomains,
		UniqueDomains:      uniqueDomains,
		WhitelistedRemoved: whitelistedRemoved,
		OutputFiles:        outputFiles,
		Errors:             []string{},
	}
}

// FailureResult builds the result for a failed job
func FailureResult(errors []string) *JobResult {
	return &JobResult{
		OutputFiles: []OutputFile{},
		Errors:      errors,
	}
}

// SkippedResult builds the result for a skipped job
func SkippedResult(reason string) *JobResult {
	return &JobResult{
		OutputFiles: []OutputFile{},
		Errors:      []string{},
		SkipReason:  &reason,
	}
}

// CopiedResult builds the result for a job satisfied by copying another
// tenant's output files
func CopiedResult(fromUsername string, totalDomains, uniqueDomains int64, outputFiles []OutputFile, sourcesProcessed, sourcesFailed, whitelistedRemoved int64, categories map[string]int64) *JobResult {
	return &JobResult{
		SourcesProcessed:   sourcesProcessed,
		SourcesFailed:      sourcesFailed,
		TotalDomains:       totalDomains,
		UniqueDomains:      uniqueDomains,
		WhitelistedRemoved: whitelistedRemoved,
		OutputFiles:        outputFiles,
		Categories:         categories,
		Errors:             []string{},
		CopiedFrom:         &fromUsername,
	}
}
