// Package jobstore implements durable, transactional persistence of
// Jobs, Stages, and FileRecords (spec C3) on top of PostgreSQL.
package jobstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/model"
)

// Store is the sole coordination point for shared mutable job state
// (spec §5). CreateJobWithStages, AdmitRunning and ResetJob re-read and
// return a fresh view of the job; the single-purpose setters (UpdateStage,
// the SetJob* methods and similar) return only an error and do not re-read.
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// Open connects to Postgres with the same pool tuning the teacher's
// main.go applies to its connection (25 max open, 10 idle, 5 minute
// lifetime), generalized behind sqlx for struct scanning.
func Open(databaseURL string, log *logrus.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, apierr.Fatal("connecting to job store: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &Store{db: db, log: log}, nil
}

// NewStore wraps an already-open sqlx connection, bypassing Open's
// dial-and-tune step. Used to inject a sqlmock-backed *sqlx.DB in tests
// of packages that depend on *Store.
func NewStore(db *sqlx.DB, log *logrus.Logger) *Store {
	return &Store{db: db, log: log}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// CreateJobWithStages performs the circular-FK-breaking sequence from
// spec §4.3 and §9: insert the original FileRecord with job_id NULL,
// insert the Job referencing it, back-fill FileRecord.job_id, and
// insert the six initial Stage rows, all in one transaction.
func (s *Store) CreateJobWithStages(ctx context.Context, original model.FileRecord, webhookURL *string) (*model.Job, []model.Stage, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, apierr.Fatal("begin tx: %v", err)
	}
	defer tx.Rollback()

	fileID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (id, job_id, kind, declared_filename, stored_path, byte_size, media_type, sha256, cdn_uploaded, created_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6, $7, false, now())`,
		fileID, model.FileOriginal, original.DeclaredFilename, original.StoredPath, original.ByteSize, original.MediaType, original.SHA256,
	)
	if err != nil {
		return nil, nil, apierr.Fatal("insert original file: %v", err)
	}

	jobID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, status, original_file_id, webhook_url, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		jobID, model.JobPending, fileID, webhookURL,
	)
	if err != nil {
		return nil, nil, apierr.Fatal("insert job: %v", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE files SET job_id = $1 WHERE id = $2`, jobID, fileID); err != nil {
		return nil, nil, apierr.Fatal("backfill file job_id: %v", err)
	}

	stageRows := make([]model.StageName, len(model.OrderedStageNames))
	copy(stageRows, model.OrderedStageNames)
	for _, name := range stageRows {
		status := model.StagePending
		var completedAt any
		if name == model.StageUpload {
			status = model.StageCompleted
			completedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stages (job_id, name, status, progress, completed_at)
			VALUES ($1, $2, $3, $4, $5)`,
			jobID, name, status, progressFor(status), completedAt,
		); err != nil {
			return nil, nil, apierr.Fatal("insert stage %s: %v", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apierr.Fatal("commit job creation: %v", err)
	}

	return s.GetJob(ctx, jobID)
}

func progressFor(status model.StageStatus) int {
	if status == model.StageCompleted {
		return 100
	}
	return 0
}

// GetJob re-reads the Job row plus its stages, always returning a fresh
// consistent view.
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.Job, []model.Stage, error) {
	var job model.Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, jobID)
	if err == sql.ErrNoRows {
		return nil, nil, apierr.NotFound("job %s", jobID)
	}
	if err != nil {
		return nil, nil, apierr.Fatal("get job %s: %v", jobID, err)
	}
	stages, err := s.GetStages(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return &job, stages, nil
}

func (s *Store) GetStages(ctx context.Context, jobID string) ([]model.Stage, error) {
	var stages []model.Stage
	err := s.db.SelectContext(ctx, &stages, `SELECT * FROM stages WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, apierr.Fatal("get stages for job %s: %v", jobID, err)
	}
	ordered := make([]model.Stage, 0, len(stages))
	for _, name := range model.OrderedStageNames {
		for _, st := range stages {
			if st.Name == name {
				ordered = append(ordered, st)
				break
			}
		}
	}
	return ordered, nil
}

// ListJobs paginates over jobs ordered by created_at descending, with an
// optional status filter (spec §6.3).
func (s *Store) ListJobs(ctx context.Context, status *model.JobStatus, limit, offset int) ([]model.Job, error) {
	var jobs []model.Job
	var err error
	if status != nil {
		err = s.db.SelectContext(ctx, &jobs, `
			SELECT * FROM jobs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			*status, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &jobs, `
			SELECT * FROM jobs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, apierr.Fatal("list jobs: %v", err)
	}
	return jobs, nil
}

// ListRunningJobs supports C7's bootstrap scan for crashed-mid-flight jobs.
func (s *Store) ListRunningJobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	if err := s.db.SelectContext(ctx, &jobs, `SELECT * FROM jobs WHERE status = $1`, model.JobRunning); err != nil {
		return nil, apierr.Fatal("list running jobs: %v", err)
	}
	return jobs, nil
}

// AdmitRunning transitions a job from Pending to Running with a row lock,
// the SELECT ... FOR UPDATE strengthening spec §9 allows for defending
// against concurrent executors on the same job_id.
func (s *Store) AdmitRunning(ctx context.Context, jobID string) (*model.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apierr.Fatal("begin tx: %v", err)
	}
	defer tx.Rollback()

	var status model.JobStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("job %s", jobID)
		}
		return nil, apierr.Fatal("lock job %s: %v", jobID, err)
	}
	if status != model.JobPending {
		return nil, apierr.Conflict("job %s is not pending (status=%s)", jobID, status)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, started_at = now() WHERE id = $2`, model.JobRunning, jobID); err != nil {
		return nil, apierr.Fatal("admit job %s: %v", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apierr.Fatal("commit admit: %v", err)
	}
	job, _, err := s.GetJob(ctx, jobID)
	return job, err
}

// UpdateStage sets stage fields. It returns only an error; the updated
// row is not re-read.
func (s *Store) UpdateStage(ctx context.Context, jobID string, name model.StageName, status model.StageStatus, progress int, resultBlob, errMsg *string, started, completed *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stages SET status = $1, progress = $2, result_blob = $3, error_message = $4,
			started_at = COALESCE($5, started_at), completed_at = COALESCE($6, completed_at)
		WHERE job_id = $7 AND name = $8`,
		status, progress, resultBlob, errMsg, started, completed, jobID, name,
	)
	if err != nil {
		return apierr.Fatal("update stage %s/%s: %v", jobID, name, err)
	}
	return nil
}

// SetJobStatus sets the job's terminal fields.
func (s *Store) SetJobStatus(ctx context.Context, jobID string, status model.JobStatus, errMsg *string, completed bool) error {
	if completed {
		_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = $1, error_message = $2, completed_at = now() WHERE id = $3`, status, errMsg, jobID)
		if err != nil {
			return apierr.Fatal("set job status %s: %v", jobID, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = $1, error_message = $2 WHERE id = $3`, status, errMsg, jobID)
	if err != nil {
		return apierr.Fatal("set job status %s: %v", jobID, err)
	}
	return nil
}

// SetJobClassification records the classifier's outcome.
func (s *Store) SetJobClassification(ctx context.Context, jobID string, label string, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET classification = $1, confidence = $2 WHERE id = $3`, label, confidence, jobID)
	if err != nil {
		return apierr.Fatal("set job classification %s: %v", jobID, err)
	}
	return nil
}

// SetJobVideoMetadata persists the opaque metadata JSON blob (spec §3).
func (s *Store) SetJobVideoMetadata(ctx context.Context, jobID string, metadataJSON string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET video_metadata = $1 WHERE id = $2`, metadataJSON, jobID)
	if err != nil {
		return apierr.Fatal("set job video_metadata %s: %v", jobID, err)
	}
	return nil
}

// AttachArtifact inserts a FileRecord and points the Job's named slot at
// it, in one transaction (spec §4.9 step 2).
func (s *Store) AttachArtifact(ctx context.Context, jobID string, kind model.FileKind, file model.FileRecord) (*model.FileRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apierr.Fatal("begin tx: %v", err)
	}
	defer tx.Rollback()

	fileID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (id, job_id, kind, declared_filename, stored_path, byte_size, media_type, sha256, cdn_uploaded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now())`,
		fileID, jobID, kind, file.DeclaredFilename, file.StoredPath, file.ByteSize, file.MediaType, file.SHA256,
	)
	if err != nil {
		return nil, apierr.Fatal("insert artifact: %v", err)
	}

	var column string
	switch kind {
	case model.FileReport:
		column = "report_file_id"
	case model.FileCleanVideo:
		column = "clean_video_id"
	default:
		return nil, apierr.Fatal("unexpected artifact kind %s", kind)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET `+column+` = $1 WHERE id = $2`, fileID, jobID); err != nil {
		return nil, apierr.Fatal("attach artifact to job %s: %v", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apierr.Fatal("commit attach artifact: %v", err)
	}

	var stored model.FileRecord
	if err := s.db.GetContext(ctx, &stored, `SELECT * FROM files WHERE id = $1`, fileID); err != nil {
		return nil, apierr.Fatal("reread attached artifact %s: %v", fileID, err)
	}
	return &stored, nil
}

// UpdateFileCDN records the result of a background CDN mirror attempt
// (spec §4.9 step 3). Failure to mirror is never propagated by callers.
func (s *Store) UpdateFileCDN(ctx context.Context, fileID string, cdnURL string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET cdn_url = $1, cdn_uploaded = true WHERE id = $2`, cdnURL, fileID)
	if err != nil {
		return apierr.Fatal("update file cdn %s: %v", fileID, err)
	}
	return nil
}

// ListOrphanedFiles finds FileRecords with no owning job older than
// cutoff — rows that can linger if a creating transaction's process
// died between steps (spec §9 leaves their cleanup to operator policy).
func (s *Store) ListOrphanedFiles(ctx context.Context, cutoff time.Time) ([]model.FileRecord, error) {
	var files []model.FileRecord
	err := s.db.SelectContext(ctx, &files, `
		SELECT * FROM files WHERE job_id IS NULL AND created_at < $1`, cutoff)
	if err != nil {
		return nil, apierr.Fatal("list orphaned files: %v", err)
	}
	return files, nil
}

// DeleteFile removes a FileRecord row. The caller is responsible for
// removing the underlying blob first.
func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, fileID); err != nil {
		return apierr.Fatal("delete file %s: %v", fileID, err)
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	var file model.FileRecord
	err := s.db.GetContext(ctx, &file, `SELECT * FROM files WHERE id = $1`, fileID)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("file %s", fileID)
	}
	if err != nil {
		return nil, apierr.Fatal("get file %s: %v", fileID, err)
	}
	return &file, nil
}

// ResetJob implements C7's reset operation (spec §4.7): job back to
// Pending, every non-upload stage back to Pending with cleared timestamps.
func (s *Store) ResetJob(ctx context.Context, jobID string) (*model.Job, []model.Stage, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, apierr.Fatal("begin tx: %v", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, started_at = NULL, completed_at = NULL, error_message = NULL WHERE id = $2`,
		model.JobPending, jobID,
	); err != nil {
		return nil, nil, apierr.Fatal("reset job %s: %v", jobID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE stages SET status = $1, progress = 0, result_blob = NULL, error_message = NULL, started_at = NULL, completed_at = NULL
		WHERE job_id = $2 AND name != $3`,
		model.StagePending, jobID, model.StageUpload,
	); err != nil {
		return nil, nil, apierr.Fatal("reset stages for job %s: %v", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, apierr.Fatal("commit reset: %v", err)
	}
	return s.GetJob(ctx, jobID)
}
