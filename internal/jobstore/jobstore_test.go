package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/model"
)

var jobColumns = []string{
	"id", "status", "original_file_id", "report_file_id", "clean_video_id",
	"webhook_url", "classification", "confidence", "error_message",
	"video_metadata", "created_at", "started_at", "completed_at",
}

var stageColumns = []string{
	"job_id", "name", "status", "progress", "result_blob", "error_message", "started_at", "completed_at",
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	sqlxDB := sqlx.NewDb(db, "postgres")
	return &Store{db: sqlxDB, log: log}, mock
}

func jobRow(id string, status model.JobStatus) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumns).AddRow(
		id, status, "file-1", nil, nil, nil, nil, nil, nil, nil, time.Now().UTC(), nil, nil,
	)
}

func stageRows() *sqlmock.Rows {
	rows := sqlmock.NewRows(stageColumns)
	for _, name := range model.OrderedStageNames {
		status := model.StagePending
		if name == model.StageUpload {
			status = model.StageCompleted
		}
		rows.AddRow("job-1", name, status, 0, nil, nil, nil, nil)
	}
	return rows
}

func TestAdmitRunning_Success(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.JobPending))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE jobs SET status = $1, started_at = now() WHERE id = $2`)).
		WithArgs(model.JobRunning, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobRunning))
	mock.ExpectQuery(`SELECT \* FROM stages WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(stageRows())

	job, err := store.AdmitRunning(ctx, "job-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if job.Status != model.JobRunning {
		t.Errorf("expected job status running, got %s", job.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAdmitRunning_ConflictWhenNotPending(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`)).
		WithArgs("job-2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.JobRunning))
	mock.ExpectRollback()

	_, err := store.AdmitRunning(ctx, "job-2")
	if err == nil {
		t.Fatal("expected conflict error for a non-pending job")
	}
	if !isErr(err, apierr.ErrConflict) {
		t.Errorf("expected ErrConflict, got: %v", err)
	}
}

func TestAdmitRunning_NotFound(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`)).
		WithArgs("ghost").
		WillReturnError(sqlErrNoRows())
	mock.ExpectRollback()

	_, err := store.AdmitRunning(ctx, "ghost")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !isErr(err, apierr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestAttachArtifact_RejectsUnknownKind(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO files`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	_, err := store.AttachArtifact(ctx, "job-1", model.FileOriginal, model.FileRecord{
		DeclaredFilename: "a.mp4", StoredPath: "p", MediaType: "video/mp4", SHA256: "abc",
	})
	if err == nil {
		t.Fatal("expected an error for a non-report/clean_video artifact kind")
	}
}

func TestAttachArtifact_Success(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO files`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE jobs SET report_file_id = \$1 WHERE id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM files WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_id", "kind", "declared_filename", "stored_path", "byte_size",
			"media_type", "sha256", "cdn_url", "cdn_uploaded", "created_at",
		}).AddRow("file-2", "job-1", model.FileReport, "report.json", "p", 10, "application/json", "abc", nil, false, time.Now().UTC()))

	rec, err := store.AttachArtifact(ctx, "job-1", model.FileReport, model.FileRecord{
		DeclaredFilename: "report.json", StoredPath: "p", MediaType: "application/json", SHA256: "abc", ByteSize: 10,
	})
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if rec.Kind != model.FileReport {
		t.Errorf("expected kind report, got %s", rec.Kind)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestResetJob_ExcludesUploadStage(t *testing.T) {
	store, mock := newTestStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET status = \$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE stages SET status = \$1.*WHERE job_id = \$2 AND name != \$3`).
		WithArgs(model.StagePending, "job-1", model.StageUpload).
		WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE id = \$1`).
		WillReturnRows(jobRow("job-1", model.JobPending))
	mock.ExpectQuery(`SELECT \* FROM stages WHERE job_id = \$1`).
		WillReturnRows(stageRows())

	job, stages, err := store.ResetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	if job.Status != model.JobPending {
		t.Errorf("expected job reset to pending, got %s", job.Status)
	}
	if len(stages) != len(model.OrderedStageNames) {
		t.Errorf("expected %d stages, got %d", len(model.OrderedStageNames), len(stages))
	}
}

func isErr(err error, target error) bool {
	return errors.Is(err, target)
}

func sqlErrNoRows() error {
	return sql.ErrNoRows
}
