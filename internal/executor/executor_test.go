package executor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/jobstore"
	"forensic-pipeline/internal/model"
	"forensic-pipeline/internal/stageregistry"
	"forensic-pipeline/internal/webhook"
)

var jobColumns = []string{
	"id", "status", "original_file_id", "report_file_id", "clean_video_id",
	"webhook_url", "classification", "confidence", "error_message",
	"video_metadata", "created_at", "started_at", "completed_at",
}

var stageColumns = []string{
	"job_id", "name", "status", "progress", "result_blob", "error_message", "started_at", "completed_at",
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func noopWorker(ctx context.Context, in stageregistry.WorkerInput) (stageregistry.WorkerOutput, error) {
	return stageregistry.WorkerOutput{ResultJSON: "{}"}, nil
}

func testExecutor(t *testing.T) (*Executor, *jobstore.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := jobstore.NewStore(sqlx.NewDb(db, "postgres"), testLogger())

	registry := stageregistry.New(noopWorker, noopWorker, noopWorker, noopWorker, noopWorker)
	dispatcher := webhook.New(1, 0, testLogger())

	e := New(store, registry, nil, dispatcher, t.TempDir(), "ffmpeg", testLogger())
	return e, store, mock
}

func jobRow(id string, status model.JobStatus) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumns).AddRow(
		id, status, "file-1", nil, nil, nil, nil, nil, nil, nil, time.Now().UTC(), nil, nil,
	)
}

func stageRowsAllCompleted() *sqlmock.Rows {
	rows := sqlmock.NewRows(stageColumns)
	for _, name := range model.OrderedStageNames {
		rows.AddRow("job-1", name, model.StageCompleted, 100, "{}", nil, time.Now().UTC(), time.Now().UTC())
	}
	return rows
}

// A job already in its terminal Completed state must not touch the
// stage pipeline, the admission transition, or the file store at all.
func TestRun_CompletedJobIsANoOp(t *testing.T) {
	e, _, mock := testExecutor(t)
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobCompleted))
	mock.ExpectQuery(`SELECT \* FROM stages WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(stageRowsAllCompleted())

	e.Run(context.Background(), "job-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected extra queries beyond the initial job load: %v", err)
	}
}

// A job the executor cannot even load must return without panicking
// and without attempting any further state transition.
func TestRun_UnloadableJobReturnsWithoutPanic(t *testing.T) {
	e, _, mock := testExecutor(t)
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(apierr.NotFound("job ghost"))

	e.Run(context.Background(), "ghost")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// When the original file record can't be loaded, Run must mark the job
// Failed and emit analysis.failed rather than proceeding into the stage
// loop (spec §4.6 error path).
func TestRun_MissingOriginalFileFailsTheJob(t *testing.T) {
	e, _, mock := testExecutor(t)

	mock.ExpectQuery(`SELECT \* FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobPending))
	mock.ExpectQuery(`SELECT \* FROM stages WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(stageColumns))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1 FOR UPDATE`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(model.JobPending))
	mock.ExpectExec(`UPDATE jobs SET status = \$1, started_at = now\(\) WHERE id = \$2`).
		WithArgs(model.JobRunning, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`SELECT \* FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", model.JobRunning))
	mock.ExpectQuery(`SELECT \* FROM stages WHERE job_id = \$1`).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(stageColumns))

	mock.ExpectQuery(`SELECT \* FROM files WHERE id = \$1`).
		WithArgs("file-1").
		WillReturnError(apierr.NotFound("file file-1"))

	mock.ExpectExec(`UPDATE jobs SET status = \$1, error_message = \$2 WHERE id = \$3`).
		WithArgs(model.JobFailed, sqlmock.AnyArg(), "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	e.Run(context.Background(), "job-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFindStage_ReturnsPendingPlaceholderWhenAbsent(t *testing.T) {
	got := findStage(nil, model.StagePRNU)
	if got.Status != model.StagePending {
		t.Errorf("expected a pending placeholder for an absent stage, got status %s", got.Status)
	}
	if got.Name != model.StagePRNU {
		t.Errorf("expected placeholder name %s, got %s", model.StagePRNU, got.Name)
	}
}

func TestFindStage_ReturnsMatchingStage(t *testing.T) {
	want := model.Stage{Name: model.StageFFT, Status: model.StageCompleted}
	got := findStage([]model.Stage{{Name: model.StagePRNU}, want}, model.StageFFT)
	if got.Status != model.StageCompleted {
		t.Errorf("expected to find the completed fft stage, got %+v", got)
	}
}

func TestDerefStr_NilAndNonNil(t *testing.T) {
	if got := derefStr(nil); got != "" {
		t.Errorf("expected empty string for a nil pointer, got %q", got)
	}
	val := "webhook-url"
	if got := derefStr(&val); got != val {
		t.Errorf("expected %q, got %q", val, got)
	}
}
