// Package model defines the core data types shared by every component of
// the pipeline orchestration subsystem: jobs, stages, file records, and
// chunked-upload sessions.
package model

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// StageStatus is the lifecycle state of a single Stage.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageName identifies one step of the fixed pipeline. Order matters:
// the registry in internal/stageregistry walks stages in this sequence.
type StageName string

const (
	StageUpload              StageName = "upload"
	StageMetadataExtraction  StageName = "metadata_extraction"
	StagePRNU                StageName = "prnu"
	StageFFT                 StageName = "fft"
	StageClassification      StageName = "classification"
	StageCleaning            StageName = "cleaning"
	StageReportGeneration    StageName = "report_generation" // virtual, not persisted
)

// FileKind distinguishes the three artifact slots a Job can own.
type FileKind string

const (
	FileOriginal   FileKind = "original"
	FileReport     FileKind = "report"
	FileCleanVideo FileKind = "clean_video"
)

// ClassificationLabel is the closed set of classifier outcomes (spec §6.2).
type ClassificationLabel string

const (
	ClassRealCamera       ClassificationLabel = "REAL_CAMERA"
	ClassAIHEVC           ClassificationLabel = "AI_HEVC"
	ClassAIAV1            ClassificationLabel = "AI_AV1"
	ClassSpoofedMetadata  ClassificationLabel = "SPOOFED_METADATA"
	ClassHybridContent    ClassificationLabel = "HYBRID_CONTENT"
	ClassUnknown          ClassificationLabel = "UNKNOWN"
)

// Job is one submitted video's end-to-end forensic analysis.
type Job struct {
	ID              string     `db:"id" json:"id"`
	Status          JobStatus  `db:"status" json:"status"`
	OriginalFileID  string     `db:"original_file_id" json:"original_file_id"`
	ReportFileID    *string    `db:"report_file_id" json:"report_file_id,omitempty"`
	CleanVideoID    *string    `db:"clean_video_id" json:"clean_video_id,omitempty"`
	WebhookURL      *string    `db:"webhook_url" json:"webhook_url,omitempty"`
	Classification  *string    `db:"classification" json:"classification,omitempty"`
	Confidence      *float64   `db:"confidence" json:"confidence,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	VideoMetadata   *string    `db:"video_metadata" json:"video_metadata,omitempty"` // opaque JSON blob
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Stage is one execution of one pipeline step for one Job.
type Stage struct {
	JobID        string      `db:"job_id" json:"job_id"`
	Name         StageName   `db:"name" json:"name"`
	Status       StageStatus `db:"status" json:"status"`
	Progress     int         `db:"progress" json:"progress"`
	ResultBlob   *string     `db:"result_blob" json:"result,omitempty"` // JSON-encoded, stage-specific
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// Duration returns the stage's wall-clock run time, or zero if it hasn't
// completed.
func (s Stage) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// FileRecord is persisted metadata for one durable artifact.
type FileRecord struct {
	ID               string    `db:"id" json:"id"`
	JobID            *string   `db:"job_id" json:"job_id,omitempty"`
	Kind             FileKind  `db:"kind" json:"kind"`
	DeclaredFilename string    `db:"declared_filename" json:"declared_filename"`
	StoredPath       string    `db:"stored_path" json:"stored_path"`
	ByteSize         int64     `db:"byte_size" json:"byte_size"`
	MediaType        string    `db:"media_type" json:"media_type"`
	SHA256           string    `db:"sha256" json:"sha256"`
	CDNURL           *string   `db:"cdn_url" json:"cdn_url,omitempty"`
	CDNUploaded      bool      `db:"cdn_uploaded" json:"cdn_uploaded"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Upload is a transient chunked-upload assembly session.
type Upload struct {
	ID              string          `json:"upload_id"`
	Filename        string          `json:"filename"`
	TotalSize       int64           `json:"total_size"`
	MediaType       string          `json:"media_type"`
	ChunkSize       int64           `json:"chunk_size"`
	TotalChunks     int             `json:"total_chunks"`
	ChunksReceived  map[int]bool    `json:"chunks_received"`
	WebhookURL      string          `json:"webhook_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// OrderedStageNames is the canonical six-stage sequence (spec §3/§4.4).
var OrderedStageNames = []StageName{
	StageUpload,
	StageMetadataExtraction,
	StagePRNU,
	StageFFT,
	StageClassification,
	StageCleaning,
}
