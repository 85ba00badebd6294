// Package httpapi implements the HTTP surface of spec §6: the chunked
// upload protocol and the job query interface, generalized from the
// teacher's internal/handlers package.
package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/admission"
	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/artifacts"
	"forensic-pipeline/internal/blobstore"
	"forensic-pipeline/internal/chunkupload"
	"forensic-pipeline/internal/jobstore"
	"forensic-pipeline/internal/model"
	"forensic-pipeline/internal/progress"
	"forensic-pipeline/internal/webhook"
)

// Handlers bundles every component the HTTP layer calls into, mirroring
// the teacher's Handlers struct shape.
type Handlers struct {
	jobs       *jobstore.Store
	blobs      *blobstore.Store
	uploads    *chunkupload.Manager
	scheduler  *admission.Scheduler
	publisher  *artifacts.Publisher
	dispatcher *webhook.Dispatcher
	validate   *validator.Validate
	log        *logrus.Logger
}

func NewHandlers(jobs *jobstore.Store, blobs *blobstore.Store, uploads *chunkupload.Manager, scheduler *admission.Scheduler, publisher *artifacts.Publisher, dispatcher *webhook.Dispatcher, log *logrus.Logger) *Handlers {
	return &Handlers{
		jobs: jobs, blobs: blobs, uploads: uploads, scheduler: scheduler,
		publisher: publisher, dispatcher: dispatcher, validate: validator.New(), log: log,
	}
}

// Register wires every route named in spec §6.1 and §6.3 onto r.
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/health", h.HealthHandler)

	r.POST("/upload/init", h.UploadInit)
	r.POST("/upload/chunk/:upload_id", h.UploadChunk)
	r.POST("/upload/complete/:upload_id", h.UploadComplete)
	r.POST("/upload/analyze", h.UploadAnalyze)
	r.GET("/upload/status/:upload_id", h.UploadStatus)

	r.GET("/analysis/:id", h.AnalysisDetail)
	r.GET("/analysis", h.AnalysisList)
	r.GET("/files/:id/:kind", h.FileDownload)
	r.POST("/analysis/:id/reprocess", h.Reprocess)
}

func (h *Handlers) HealthHandler(c *gin.Context) {
	ctx, cancel := ctxWithTimeout(c)
	defer cancel()
	if err := h.jobs.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type initRequest struct {
	WebhookURL string `form:"webhook_url"`
}

// UploadInit implements POST /upload/init (spec §6.1).
func (h *Handlers) UploadInit(c *gin.Context) {
	var req initRequest
	_ = c.ShouldBind(&req)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondErr(c, apierr.Validation("missing file field: %v", err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respondErr(c, apierr.Fatal("open uploaded file: %v", err))
		return
	}
	defer f.Close()

	mediaType := fileHeader.Header.Get("Content-Type")
	upload, err := h.uploads.Init(c.Request.Context(), fileHeader.Filename, mediaType, fileHeader.Size, req.WebhookURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"upload_id": upload.ID, "chunk_size": upload.ChunkSize,
		"total_chunks": upload.TotalChunks, "upload_url": "/upload/chunk/" + upload.ID,
	})
}

// UploadChunk implements POST /upload/chunk/{upload_id} (spec §6.1).
func (h *Handlers) UploadChunk(c *gin.Context) {
	uploadID := c.Param("upload_id")
	chunkNumber, err := strconv.Atoi(c.PostForm("chunk_number"))
	if err != nil {
		respondErr(c, apierr.Validation("chunk_number must be an integer"))
		return
	}
	fileHeader, err := c.FormFile("chunk")
	if err != nil {
		respondErr(c, apierr.Validation("missing chunk field: %v", err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respondErr(c, apierr.Fatal("open chunk: %v", err))
		return
	}
	defer f.Close()

	received, total, pct, err := h.uploads.PutChunk(c.Request.Context(), uploadID, chunkNumber, f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"upload_id": uploadID, "chunks_received": received, "total_chunks": total, "progress": pct,
	})
}

// UploadComplete implements POST /upload/complete/{upload_id} (spec §6.1).
func (h *Handlers) UploadComplete(c *gin.Context) {
	uploadID := c.Param("upload_id")
	webhookURL := c.PostForm("webhook_url")

	job, err := h.completeUpload(c, uploadID, webhookURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analysis_id": job.ID, "status": "pending", "message": "upload complete, analysis queued",
	})
}

// UploadAnalyze implements POST /upload/analyze: init+chunk+complete in
// one synchronous call for single-shot submissions (spec §6.1).
func (h *Handlers) UploadAnalyze(c *gin.Context) {
	var req initRequest
	_ = c.ShouldBind(&req)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondErr(c, apierr.Validation("missing file field: %v", err))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		respondErr(c, apierr.Fatal("open uploaded file: %v", err))
		return
	}
	defer f.Close()

	mediaType := fileHeader.Header.Get("Content-Type")
	upload, err := h.uploads.Init(c.Request.Context(), fileHeader.Filename, mediaType, fileHeader.Size, req.WebhookURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	// Feed the single uploaded reader through the same chunked-assembly
	// path out-of-band chunks use, one upload.ChunkSize slice per index,
	// so files larger than one chunk round-trip through Complete's
	// all-indexes-received check instead of only ever writing index 0.
	for idx := 0; idx < upload.TotalChunks; idx++ {
		chunk := io.LimitReader(f, upload.ChunkSize)
		if _, _, _, err := h.uploads.PutChunk(c.Request.Context(), upload.ID, idx, chunk); err != nil {
			respondErr(c, err)
			return
		}
	}

	job, err := h.completeUpload(c, upload.ID, req.WebhookURL)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"analysis_id": job.ID, "status": "processing",
		"status_url": "/analysis/" + job.ID, "message": "analysis started",
	})
}

// completeUpload implements the shared tail of Complete and Analyze:
// assemble via C2, publish the original via C9's path, create the Job
// via C3, and admit it via C7 (spec §6.1 Complete).
func (h *Handlers) completeUpload(c *gin.Context, uploadID, webhookURL string) (*model.Job, error) {
	ctx := c.Request.Context()
	filename, mediaType, err := h.uploads.Meta(uploadID)
	if err != nil {
		return nil, err
	}

	finalPath, sha, size, err := h.uploads.Complete(ctx, uploadID, h.blobs.JobsStagingDir())
	if err != nil {
		return nil, err
	}

	relPath, err := h.blobs.RelativeToRoot(finalPath)
	if err != nil {
		return nil, apierr.Fatal("assembled file outside storage root: %v", err)
	}

	var webhookPtr *string
	if webhookURL != "" {
		webhookPtr = &webhookURL
	}

	job, _, err := h.jobs.CreateJobWithStages(ctx, model.FileRecord{
		DeclaredFilename: filename, StoredPath: relPath, ByteSize: size, MediaType: mediaType, SHA256: sha,
	}, webhookPtr)
	if err != nil {
		return nil, err
	}

	if h.dispatcher != nil {
		h.dispatcher.Emit(job.ID, webhookURL, webhook.EventUploadCompleted, map[string]any{
			"filename": filename, "size": size, "sha256": sha,
		})
	}

	h.scheduler.Admit(job.ID)
	return job, nil
}

// UploadStatus implements GET /upload/status/{upload_id} (spec §6.1).
func (h *Handlers) UploadStatus(c *gin.Context) {
	status, err := h.uploads.Status(c.Request.Context(), c.Param("upload_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// AnalysisDetail implements GET /analysis/{id} (spec §6.3).
func (h *Handlers) AnalysisDetail(c *gin.Context) {
	job, stages, err := h.jobs.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"job": job, "stages": stages, "progress": progress.Compute(stages),
	})
}

// AnalysisList implements GET /analysis (spec §6.3).
func (h *Handlers) AnalysisList(c *gin.Context) {
	limit, offset := paginationParams(c)
	var statusFilter *model.JobStatus
	if raw := c.Query("status"); raw != "" {
		s := model.JobStatus(raw)
		statusFilter = &s
	}
	jobs, err := h.jobs.ListJobs(c.Request.Context(), statusFilter, limit, offset)
	if err != nil {
		respondErr(c, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "limit": limit, "offset": offset})
}

// FileDownload implements GET /files/{id}/{kind}: id is the job, kind
// selects which of the job's three artifact slots to stream (spec §6.3).
func (h *Handlers) FileDownload(c *gin.Context) {
	ctx := c.Request.Context()
	job, _, err := h.jobs.GetJob(ctx, c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}

	var fileID string
	switch model.FileKind(c.Param("kind")) {
	case model.FileOriginal:
		fileID = job.OriginalFileID
	case model.FileReport:
		if job.ReportFileID == nil {
			respondErr(c, apierr.NotFound("job %s has no report file yet", job.ID))
			return
		}
		fileID = *job.ReportFileID
	case model.FileCleanVideo:
		if job.CleanVideoID == nil {
			respondErr(c, apierr.NotFound("job %s has no clean video yet", job.ID))
			return
		}
		fileID = *job.CleanVideoID
	default:
		respondErr(c, apierr.Validation("unknown file kind %q", c.Param("kind")))
		return
	}

	file, err := h.jobs.GetFile(ctx, fileID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if file.CDNURL != nil && file.CDNUploaded {
		c.Redirect(http.StatusFound, *file.CDNURL)
		return
	}
	reader, err := h.blobs.Open(file.StoredPath)
	if err != nil {
		respondErr(c, err)
		return
	}
	defer reader.Close()
	c.Header("Content-Type", file.MediaType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, reader)
}

// Reprocess implements POST /analysis/{id}/reprocess (spec §6.3, §4.7).
func (h *Handlers) Reprocess(c *gin.Context) {
	job, err := h.scheduler.Reprocess(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
