// Package blobstore implements C1: a path-addressed local filesystem
// store (callers choose the relative path; the SHA-256 computed on write
// does not determine it) with an optional best-effort mirror to an S3-compatible object
// store, adapted from the teacher's internal/storage MinIO wrapper.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/config"
)

// multipartThreshold is the object size above which the remote upload
// sets an explicit multipart part size of this value (spec §4.1). No
// progress reader is attached.
const multipartThreshold = 5 * 1024 * 1024

// Store is the local+remote blob store. Local failures are fatal to the
// caller; remote failures are always logged and swallowed.
type Store struct {
	root   string
	remote *minio.Client
	bucket string
	prefix string
	log    *logrus.Logger
}

// New builds a Store rooted at cfg.StorageRoot. The remote mirror is
// constructed only when cfg.RemoteStorageEnabled.
func New(cfg *config.Config, log *logrus.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, apierr.Fatal("create storage root %q: %v", cfg.StorageRoot, err)
	}
	s := &Store{root: cfg.StorageRoot, bucket: cfg.RemoteBucket, prefix: cfg.RemoteKeyPrefix, log: log}
	if !cfg.RemoteStorageEnabled {
		return s, nil
	}
	client, err := minio.New(cfg.RemoteEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.RemoteAccessKey, cfg.RemoteSecretKey, ""),
		Secure: cfg.RemoteUseSSL,
	})
	if err != nil {
		return nil, apierr.Fatal("create remote client: %v", err)
	}
	s.remote = client
	return s, nil
}

// EnsureBucket creates the configured remote bucket if absent. No-op
// when remote storage is disabled.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	exists, err := s.remote.BucketExists(ctx, s.bucket)
	if err != nil {
		return apierr.Transient("check bucket %q: %v", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.remote.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return apierr.Transient("create bucket %q: %v", s.bucket, err)
	}
	return nil
}

// Put writes bytes atomically (write-temp-then-rename) under path
// relative to the store root, computing SHA-256 in the same pass.
func (s *Store) Put(path string, r io.Reader) (absPath string, sha256Hex string, size int64, err error) {
	full := filepath.Join(s.root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", "", 0, apierr.Fatal("mkdir for %q: %v", full, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return "", "", 0, apierr.Fatal("create temp for %q: %v", full, err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		tmp.Close()
		return "", "", 0, apierr.Fatal("write %q: %v", full, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", "", 0, apierr.Fatal("sync %q: %v", full, err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", 0, apierr.Fatal("close %q: %v", full, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", "", 0, apierr.Fatal("rename into %q: %v", full, err)
	}
	return full, hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// Open yields a ReadCloser for the bytes at path.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	full := filepath.Join(s.root, path)
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, apierr.NotFound("blob %q", path)
	}
	if err != nil {
		return nil, apierr.Fatal("open %q: %v", full, err)
	}
	return f, nil
}

func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.root, path))
	if os.IsNotExist(err) {
		return 0, apierr.NotFound("blob %q", path)
	}
	if err != nil {
		return 0, apierr.Fatal("stat %q: %v", path, err)
	}
	return info.Size(), nil
}

func (s *Store) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(s.root, path))
	return err == nil
}

// JobsStagingDir is where assembled uploads land before a Job record
// exists to own them (spec §4.2 Complete).
func (s *Store) JobsStagingDir() string {
	return filepath.Join(s.root, "uploads_staging")
}

// RelativeToRoot converts an absolute path under the store root (as
// returned by JobsStagingDir-rooted writers) into the path form every
// other Store method expects.
func (s *Store) RelativeToRoot(absPath string) (string, error) {
	return filepath.Rel(s.root, absPath)
}

// Remove deletes the local blob at path. Used by GC when a FileRecord
// owning it is being discarded.
func (s *Store) Remove(path string) error {
	if err := os.Remove(filepath.Join(s.root, path)); err != nil && !os.IsNotExist(err) {
		return apierr.Fatal("remove %q: %v", path, err)
	}
	return nil
}

// UploadRemote best-effort mirrors a local file to the S3-compatible
// store and returns the presigned URL. A failure is logged and returns an
// empty string; there is no error result — per spec §4.1 this must never
// fail the caller.
func (s *Store) UploadRemote(ctx context.Context, localPath, remoteKey, mediaType string) string {
	if s.remote == nil {
		return ""
	}
	fullKey := remoteKey
	if s.prefix != "" {
		fullKey = filepath.Join(s.prefix, remoteKey)
	}
	opts := minio.PutObjectOptions{ContentType: mediaType}
	if info, err := os.Stat(filepath.Join(s.root, localPath)); err == nil && info.Size() > multipartThreshold {
		opts.PartSize = multipartThreshold
	}
	_, err := s.remote.FPutObject(ctx, s.bucket, fullKey, filepath.Join(s.root, localPath), opts)
	if err != nil {
		s.log.WithError(err).WithField("key", fullKey).Warn("remote mirror upload failed, leaving cdn_uploaded=false")
		return ""
	}
	url, err := s.remote.PresignedGetObject(ctx, s.bucket, fullKey, 7*24*time.Hour, nil)
	if err != nil {
		s.log.WithError(err).WithField("key", fullKey).Warn("could not presign mirrored object")
		return ""
	}
	return url.String()
}
