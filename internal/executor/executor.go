// Package executor implements C6: the pipeline state machine that
// drives a single job through its stage sequence, generalized from the
// teacher's IngestPipeline.IngestMedia (internal/pipeline/ingest.go) to
// the forensic-analysis stage set and semantics of spec §4.6.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/artifacts"
	"forensic-pipeline/internal/jobstore"
	"forensic-pipeline/internal/metrics"
	"forensic-pipeline/internal/model"
	"forensic-pipeline/internal/report"
	"forensic-pipeline/internal/stageregistry"
	"forensic-pipeline/internal/webhook"
)

// Executor drives one job at a time through the registry's stages. A
// single Executor instance is shared by every admitted job; concurrency
// across jobs is the caller's (C7's) responsibility.
type Executor struct {
	jobs       *jobstore.Store
	registry   *stageregistry.Registry
	publisher  *artifacts.Publisher
	dispatcher *webhook.Dispatcher
	blobRoot   string
	encoderPath string
	log        *logrus.Logger
}

func New(jobs *jobstore.Store, registry *stageregistry.Registry, publisher *artifacts.Publisher, dispatcher *webhook.Dispatcher, blobRoot, encoderPath string, log *logrus.Logger) *Executor {
	return &Executor{
		jobs: jobs, registry: registry, publisher: publisher, dispatcher: dispatcher,
		blobRoot: blobRoot, encoderPath: encoderPath, log: log,
	}
}

// Run implements the algorithm of spec §4.6 verbatim: load, transition
// to Running, walk stages in registry order, insert the virtual
// report_generation stage between classification and cleaning, and
// finalize.
func (e *Executor) Run(ctx context.Context, jobID string) {
	job, stages, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		e.log.WithError(err).WithField("job_id", jobID).Error("executor: cannot load job")
		return
	}
	if job.Status == model.JobCompleted {
		return
	}

	if job.Status == model.JobPending {
		admitted, err := e.jobs.AdmitRunning(ctx, jobID)
		if err != nil {
			e.log.WithError(err).WithField("job_id", jobID).Error("executor: cannot admit job")
			return
		}
		job = admitted
		e.dispatcher.Emit(jobID, derefStr(job.WebhookURL), webhook.EventStarted, map[string]any{"job_id": jobID})
	}

	original, err := e.jobs.GetFile(ctx, job.OriginalFileID)
	if err != nil {
		e.fail(ctx, job, fmt.Sprintf("cannot load original file: %v", err))
		return
	}
	originalAbsPath := filepath.Join(e.blobRoot, original.StoredPath)

	workDir, err := os.MkdirTemp("", "job-"+jobID+"-")
	if err != nil {
		e.fail(ctx, job, fmt.Sprintf("cannot create scratch dir: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	priorResults := map[model.StageName]string{}
	var videoMetadataJSON string

	for _, def := range e.registry.Ordered() {
		stage := findStage(stages, def.Name)
		if stage.Status == model.StageCompleted {
			priorResults[def.Name] = derefStr(stage.ResultBlob)
			if def.Name == model.StageMetadataExtraction {
				videoMetadataJSON = derefStr(stage.ResultBlob)
			}
			continue
		}

		e.dispatcher.Emit(jobID, derefStr(job.WebhookURL), webhook.EventStepStarted, map[string]any{"stage": def.Name})
		now := time.Now().UTC()
		if err := e.jobs.UpdateStage(ctx, jobID, def.Name, model.StageRunning, 0, nil, nil, &now, nil); err != nil {
			e.fail(ctx, job, fmt.Sprintf("cannot start stage %s: %v", def.Name, err))
			return
		}

		in := stageregistry.WorkerInput{
			JobID: jobID, OriginalPath: originalAbsPath, VideoMetadataRaw: videoMetadataJSON,
			PriorResults: priorResults, ExternalEncoder: e.encoderPath, WorkDir: workDir,
		}
		out, workerErr := def.Worker(ctx, in)
		if workerErr != nil {
			errMsg := workerErr.Error()
			completedAt := time.Now().UTC()
			_ = e.jobs.UpdateStage(ctx, jobID, def.Name, model.StageFailed, 0, nil, &errMsg, nil, &completedAt)
			metrics.StageFailures.WithLabelValues(string(def.Name)).Inc()
			e.fail(ctx, job, fmt.Sprintf("stage %s failed: %s", def.Name, errMsg))
			return
		}

		if out.ProducedFilePath != "" && def.Produces != "" {
			if _, pubErr := e.publisher.Publish(ctx, jobID, def.Produces, out.ProducedFilePath, filepath.Base(out.ProducedFilePath), "video/mp4"); pubErr != nil {
				if !def.Optional {
					errMsg := pubErr.Error()
					completedAt := time.Now().UTC()
					_ = e.jobs.UpdateStage(ctx, jobID, def.Name, model.StageFailed, 0, nil, &errMsg, nil, &completedAt)
					metrics.StageFailures.WithLabelValues(string(def.Name)).Inc()
					e.fail(ctx, job, fmt.Sprintf("stage %s artifact publish failed: %s", def.Name, errMsg))
					return
				}
				e.log.WithError(pubErr).WithField("stage", def.Name).Warn("optional stage artifact publish failed, continuing")
			}
		}

		resultBlob := out.ResultJSON
		completedAt := time.Now().UTC()
		if err := e.jobs.UpdateStage(ctx, jobID, def.Name, model.StageCompleted, 100, &resultBlob, nil, nil, &completedAt); err != nil {
			e.fail(ctx, job, fmt.Sprintf("cannot complete stage %s: %v", def.Name, err))
			return
		}
		metrics.StageDuration.WithLabelValues(string(def.Name)).Observe(completedAt.Sub(now).Seconds())
		e.dispatcher.Emit(jobID, derefStr(job.WebhookURL), webhook.EventStepCompleted, map[string]any{"stage": def.Name, "result": json.RawMessage(resultBlob)})

		priorResults[def.Name] = resultBlob
		if def.Name == model.StageMetadataExtraction {
			videoMetadataJSON = resultBlob
			if err := e.jobs.SetJobVideoMetadata(ctx, jobID, resultBlob); err != nil {
				e.log.WithError(err).Warn("failed to persist job video_metadata")
			}
		}
		if def.Name == model.StageClassification {
			e.recordClassification(ctx, jobID, resultBlob)
			e.runReportGeneration(ctx, job, originalAbsPath, original, priorResults)
		}
	}

	completedAt := time.Now().UTC()
	if err := e.jobs.SetJobStatus(ctx, jobID, model.JobCompleted, nil, true); err != nil {
		e.log.WithError(err).WithField("job_id", jobID).Error("executor: cannot finalize job")
		return
	}
	metrics.JobsCompleted.Inc()
	e.dispatcher.Emit(jobID, derefStr(job.WebhookURL), webhook.EventCompleted, map[string]any{
		"job_id": jobID, "completed_at": completedAt,
	})
}

// runReportGeneration implements the virtual report_generation stage
// (spec §4.6 step g, §9): no persisted Stage row, paired step events,
// and non-fatal failure.
func (e *Executor) runReportGeneration(ctx context.Context, job *model.Job, originalAbsPath string, original *model.FileRecord, priorResults map[model.StageName]string) {
	e.dispatcher.Emit(job.ID, derefStr(job.WebhookURL), webhook.EventStepStarted, map[string]any{"stage": model.StageReportGeneration})
	defer e.dispatcher.Emit(job.ID, derefStr(job.WebhookURL), webhook.EventStepCompleted, map[string]any{"stage": model.StageReportGeneration})

	rep, err := report.Build(report.Input{
		DeclaredFilename:   original.DeclaredFilename,
		StoredPath:         original.StoredPath,
		VideoMetadataJSON:  priorResults[model.StageMetadataExtraction],
		PRNUJSON:           priorResults[model.StagePRNU],
		FFTJSON:            priorResults[model.StageFFT],
		ClassificationJSON: priorResults[model.StageClassification],
	})
	if err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Warn("report generation failed, continuing without report_file_id")
		return
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Warn("report marshal failed, continuing without report_file_id")
		return
	}

	tmpDir, err := os.MkdirTemp("", "report-"+job.ID+"-")
	if err != nil {
		e.log.WithError(err).Warn("report generation: cannot create scratch dir")
		return
	}
	defer os.RemoveAll(tmpDir)
	reportPath := filepath.Join(tmpDir, job.ID+"_report.json")
	if err := os.WriteFile(reportPath, data, 0o644); err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Warn("report generation: cannot write report file")
		return
	}

	if _, err := e.publisher.Publish(ctx, job.ID, model.FileReport, reportPath, job.ID+"_report.json", "application/json"); err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Warn("report generation: publish failed, continuing")
		return
	}
}

func (e *Executor) recordClassification(ctx context.Context, jobID, resultBlob string) {
	var parsed struct {
		Classification string  `json:"classification"`
		Confidence     float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(resultBlob), &parsed); err != nil {
		e.log.WithError(err).Warn("failed to parse classification result for job record")
		return
	}
	if err := e.jobs.SetJobClassification(ctx, jobID, parsed.Classification, parsed.Confidence); err != nil {
		e.log.WithError(err).Warn("failed to persist job classification")
	}
}

func (e *Executor) fail(ctx context.Context, job *model.Job, reason string) {
	wrapped := apierr.StageFailure("%s", reason).Error()
	if err := e.jobs.SetJobStatus(ctx, job.ID, model.JobFailed, &wrapped, false); err != nil {
		e.log.WithError(err).WithField("job_id", job.ID).Error("executor: cannot mark job failed")
	}
	metrics.JobsFailed.Inc()
	e.dispatcher.Emit(job.ID, derefStr(job.WebhookURL), webhook.EventFailed, map[string]any{"job_id": job.ID, "error": reason})
}

func findStage(stages []model.Stage, name model.StageName) model.Stage {
	for _, s := range stages {
		if s.Name == name {
			return s
		}
	}
	return model.Stage{Name: name, Status: model.StagePending}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
