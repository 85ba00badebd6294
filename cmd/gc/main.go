// Command gc sweeps abandoned chunked-upload sessions and orphaned
// FileRecord rows past a configurable age, the supplemented equivalent
// of the original's scripts/setup_spaces_lifecycle.py (spec §9 leaves
// GC policy to operator discretion).
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/blobstore"
	"forensic-pipeline/internal/chunkupload"
	"forensic-pipeline/internal/config"
	"forensic-pipeline/internal/jobstore"
)

func main() {
	maxAge := flag.Duration("max-age", 24*time.Hour, "age past which abandoned uploads and orphaned files are removed")
	dryRun := flag.Bool("dry-run", false, "remove nothing; orphaned file records that would be removed are logged, abandoned uploads are not listed")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg := config.LoadConfig()
	cutoff := time.Now().Add(-*maxAge)

	jobs, err := jobstore.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot open job store")
	}
	defer jobs.Close()

	blobs, err := blobstore.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot open blob store")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisHost})
	uploads, err := chunkupload.New(blobs.JobsStagingDir()+"_uploads", cfg.ChunkSize, cfg.MaxFileSize, rdb, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot open upload manager")
	}

	ctx := context.Background()

	if *dryRun {
		logger.WithField("cutoff", cutoff).Info("dry run: no files will be removed")
	} else {
		removedUploads, err := uploads.SweepAbandoned(ctx, cutoff)
		if err != nil {
			logger.WithError(err).Error("sweep abandoned uploads failed")
		} else {
			logger.WithField("count", len(removedUploads)).Info("removed abandoned upload sessions")
		}
	}

	orphans, err := jobs.ListOrphanedFiles(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Fatal("list orphaned files failed")
	}
	logger.WithField("count", len(orphans)).Info("found orphaned file records")

	if *dryRun {
		for _, f := range orphans {
			logger.WithField("file_id", f.ID).WithField("stored_path", f.StoredPath).Info("would remove orphaned file")
		}
		return
	}

	for _, f := range orphans {
		if err := blobs.Remove(f.StoredPath); err != nil {
			logger.WithError(err).WithField("file_id", f.ID).Warn("failed to remove orphaned blob, leaving file record in place")
			continue
		}
		if err := jobs.DeleteFile(ctx, f.ID); err != nil {
			logger.WithError(err).WithField("file_id", f.ID).Warn("failed to delete orphaned file record")
			continue
		}
		logger.WithField("file_id", f.ID).Info("removed orphaned file")
	}
}
