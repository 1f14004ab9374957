package types

import "time"

// JobStage is the coarse pipeline stage a job is in. Stages only move
// forward; a reader never observes an earlier stage after a later one.
type JobStage string

const (
	StageQueue       JobStage = "queue"
	StageDownloading JobStage = "downloading"
	StageWhitelist   JobStage = "whitelist"
	StageGeneration  JobStage = "generation"
	StageCompleted   JobStage = "completed"
)

// SourceStatus is the per-source download/processing state
type SourceStatus string

const (
	SourcePending     SourceStatus = "pending"
	SourceDownloading SourceStatus = "downloading"
	SourceProcessing  SourceStatus = "processing"
	SourceCompleted   SourceStatus = "completed"
	SourceFailed      SourceStatus = "failed"
)

// FormatStatus is the per-format generation state
type FormatStatus string

const (
	FormatPending     FormatStatus = "pending"
	FormatGenerating  FormatStatus = "generating"
	FormatCompressing FormatStatus = "compressing"
	FormatCompleted   FormatStatus = "completed"
)

// SourceProgress tracks one source through download and extraction
type SourceProgress struct {
	ID              string       `bson:"id"`
	Name            string       `bson:"name"`
	URL             string       `bson:"url"`
	Status          SourceStatus `bson:"status"`
	CacheHit        *bool        `bson:"cache_hit,omitempty"`
	BytesDownloaded int64        `bson:"bytes_downloaded"`
	BytesTotal      *int64       `bson:"bytes_total,omitempty"`
	DownloadPercent *float64     `bson:"download_percent,omitempty"`
	DownloadTimeMS  *int64       `bson:"download_time_ms,omitempty"`
	DomainCount     *int64       `bson:"domain_count,omitempty"`
	DomainChange    *int64       `bson:"domain_change,omitempty"`
	Error           *string      `bson:"error,omitempty"`
	Warnings        []string     `bson:"warnings"`
	StartedAt       *string      `bson:"started_at,omitempty"`
	CompletedAt     *string      `bson:"completed_at,omitempty"`
}

// WhitelistPatternMatch reports how many removed domains a single whitelist
// pattern accounted for
type WhitelistPatternMatch struct {
	Pattern     string   `bson:"pattern"`
	PatternType string   `bson:"pattern_type"`
	MatchCount  int64    `bson:"match_count"`
	Samples     []string `bson:"samples"`
}

// WhitelistProgress is the whitelist stage sub-progress
type WhitelistProgress struct {
	DomainsBefore int64                   `bson:"domains_before"`
	DomainsAfter  int64                   `bson:"domains_after"`
	TotalRemoved  int64                   `bson:"total_removed"`
	Processing    bool                    `bson:"processing"`
	Patterns      []WhitelistPatternMatch `bson:"patterns"`
}

// FormatProgress is per-format generation sub-progress
type FormatProgress struct {
	Format         string       `bson:"format"`
	Status         FormatStatus `bson:"status"`
	DomainsWritten int64        `bson:"domains_written"`
	TotalDomains   int64        `bson:"total_domains"`
	Percent        float64      `bson:"percent"`
	FileSize       *int64       `bson:"file_size,omitempty"`
	GzSize         *int64       `bson:"gz_size,omitempty"`
}

// GenerationProgress is the generation stage sub-progress
type GenerationProgress struct {
	CurrentFormat *string          `bson:"current_format,omitempty"`
	Formats       []FormatProgress `bson:"formats"`
}

// JobProgress is the machine-readable progress document consumed by the UI
// and API
type JobProgress struct {
	// CurrentStep duplicates Stage as a string for older readers
	CurrentStep      string              `bson:"current_step"`
	Stage            JobStage            `bson:"stage"`
	TotalSources     int64               `bson:"total_sources"`
	ProcessedSources int64               `bson:"processed_sources"`
	CurrentSource    *string             `bson:"current_source,omitempty"`
	QueuePosition    *int64              `bson:"queue_position,omitempty"`
	Sources          []SourceProgress    `bson:"sources"`
	Whitelist        *WhitelistProgress  `bson:"whitelist,omitempty"`
	Generation       *GenerationProgress `bson:"generation,omitempty"`
	StageStartedAt   *string             `bson:"stage_started_at,omitempty"`
}

// Timestamp renders the progress timestamp format shared with the UI
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

// NewQueuedProgress returns the progress shape of a job sitting in the queue
func NewQueuedProgress() JobProgress {
	return JobProgress{
		CurrentStep: "queued",
		Stage:       StageQueue,
		Sources:     []SourceProgress{},
	}
}

// NewDownloadingProgress returns progress entering the download stage
func NewDownloadingProgress(totalSources int64) JobProgress {
	now := Timestamp(time.Now())
	return JobProgress{
		CurrentStep:    "downloading",
		Stage:          StageDownloading,
		TotalSources:   totalSources,
		Sources:        []SourceProgress{},
		StageStartedAt: &now,
	}
}

// ToWhitelist advances progress to the whitelist stage
func (p *JobProgress) ToWhitelist(domainsBefore int64) {
	now := Timestamp(time.Now())
	p.CurrentStep = "whitelist"
	p.Stage = StageWhitelist
	p.Whitelist = &WhitelistProgress{
		DomainsBefore: domainsBefore,
		DomainsAfter:  domainsBefore,
		Processing:    true,
		Patterns:      []WhitelistPatternMatch{},
	}
	p.StageStartedAt = &now
}

// ToGeneration advances progress to the generation stage
func (p *JobProgress) ToGeneration(totalDomains int64) {
	now := Timestamp(time.Now())
	formats := make([]FormatProgress, 0, 3)
	for _, f := range []string{"hosts", "plain", "adblock"} {
		formats = append(formats, FormatProgress{
			Format:       f,
			Status:       FormatPending,
			TotalDomains: totalDomains,
		})
	}
	p.CurrentStep = "generation"
	p.Stage = StageGeneration
	p.Generation = &GenerationProgress{Formats: formats}
	p.StageStartedAt = &now
}

// ToCompleted marks the terminal progress state
func (p *JobProgress) ToCompleted() {
	now := Timestamp(time.Now())
	p.CurrentStep = "completed"
	p.Stage = StageCompleted
	p.StageStartedAt = &now
}
