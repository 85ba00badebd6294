// Package artifacts implements C9: the single path by which a stage's
// produced file becomes a durable, job-attached FileRecord, grounded on
// the original's two-phase insert-then-mirror pattern
// (report_file.cdn_url = ...; await db.commit()).
package artifacts

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/blobstore"
	"forensic-pipeline/internal/jobstore"
	"forensic-pipeline/internal/model"
)

// Publisher ties C1 and C3 together to satisfy spec §4.9.
type Publisher struct {
	blobs *blobstore.Store
	jobs  *jobstore.Store
	log   *logrus.Logger
}

func New(blobs *blobstore.Store, jobs *jobstore.Store, log *logrus.Logger) *Publisher {
	return &Publisher{blobs: blobs, jobs: jobs, log: log}
}

// Publish ingests a worker's scratch-directory output into the blob
// store under the job's partition, attaches it to the job
// transactionally, and triggers a background best-effort CDN mirror
// (spec §4.9).
func (p *Publisher) Publish(ctx context.Context, jobID string, kind model.FileKind, localPath, declaredFilename, mediaType string) (*model.FileRecord, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	relPath := filepath.Join("jobs", jobID, string(kind)+filepath.Ext(declaredFilename))
	_, sha, size, err := p.blobs.Put(relPath, f)
	if err != nil {
		return nil, err
	}

	record := model.FileRecord{
		DeclaredFilename: declaredFilename,
		StoredPath:       relPath,
		ByteSize:         size,
		MediaType:        mediaType,
		SHA256:           sha,
	}
	stored, err := p.jobs.AttachArtifact(ctx, jobID, kind, record)
	if err != nil {
		return nil, err
	}

	go p.mirror(context.Background(), stored.ID, relPath, mediaType)

	return stored, nil
}

func (p *Publisher) mirror(ctx context.Context, fileID, relPath, mediaType string) {
	url := p.blobs.UploadRemote(ctx, relPath, relPath, mediaType)
	if url == "" {
		return
	}
	if err := p.jobs.UpdateFileCDN(ctx, fileID, url); err != nil {
		p.log.WithError(err).WithField("file_id", fileID).Warn("failed to record cdn mirror result")
	}
}
