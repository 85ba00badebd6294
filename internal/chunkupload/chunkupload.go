// Package chunkupload implements C2: the chunked-upload assembly
// protocol. Each upload session is backed by a filesystem sidecar
// (metadata.json + chunk_NNNNN files) so it survives a process restart,
// mirrored for fast reads by a Redis hash — grounded on the original
// Python ChunkedUploadManager and on Aback231-video_chunk_processor's
// Redis idempotency checks.
package chunkupload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/apierr"
	"forensic-pipeline/internal/metrics"
	"forensic-pipeline/internal/model"
)

var allowedExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

var allowedMediaTypes = map[string]bool{
	"video/mp4": true, "video/quicktime": true, "video/x-msvideo": true,
	"video/x-matroska": true, "video/webm": true,
}

type sidecarMeta struct {
	UploadID    string `json:"upload_id"`
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"total_size"`
	MediaType   string `json:"media_type"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manager tracks in-flight upload sessions under uploadsRoot.
type Manager struct {
	uploadsRoot string
	chunkSize   int64
	maxFileSize int64
	rdb         *redis.Client
	log         *logrus.Logger
}

func New(uploadsRoot string, chunkSize, maxFileSize int64, rdb *redis.Client, log *logrus.Logger) (*Manager, error) {
	if err := os.MkdirAll(uploadsRoot, 0o755); err != nil {
		return nil, apierr.Fatal("create uploads root %q: %v", uploadsRoot, err)
	}
	return &Manager{uploadsRoot: uploadsRoot, chunkSize: chunkSize, maxFileSize: maxFileSize, rdb: rdb, log: log}, nil
}

func (m *Manager) dir(uploadID string) string {
	return filepath.Join(m.uploadsRoot, uploadID)
}

func redisKey(uploadID string) string {
	return "upload:" + uploadID + ":chunks"
}

// Init validates the declared upload and creates its sidecar (spec §4.2).
func (m *Manager) Init(ctx context.Context, filename, mediaType string, totalSize int64, webhookURL string) (*model.Upload, error) {
	ext := filepath.Ext(filename)
	if !allowedExtensions[ext] {
		return nil, apierr.Validation("unsupported file extension %q", ext)
	}
	if !allowedMediaTypes[mediaType] {
		return nil, apierr.Validation("unsupported media type %q", mediaType)
	}
	if totalSize <= 0 {
		return nil, apierr.Validation("total_size must be positive")
	}
	if totalSize > m.maxFileSize {
		return nil, apierr.Validation("total_size %d exceeds maximum %d", totalSize, m.maxFileSize)
	}

	uploadID := uuid.NewString()
	totalChunks := int((totalSize + m.chunkSize - 1) / m.chunkSize)

	if err := os.MkdirAll(m.dir(uploadID), 0o755); err != nil {
		return nil, apierr.Fatal("create upload dir: %v", err)
	}
	meta := sidecarMeta{
		UploadID: uploadID, Filename: filename, TotalSize: totalSize,
		MediaType: mediaType, ChunkSize: m.chunkSize, TotalChunks: totalChunks,
		WebhookURL: webhookURL, CreatedAt: time.Now().UTC(),
	}
	if err := m.writeSidecar(meta); err != nil {
		return nil, err
	}

	return &model.Upload{
		ID: uploadID, Filename: filename, TotalSize: totalSize, MediaType: mediaType,
		ChunkSize: m.chunkSize, TotalChunks: totalChunks, ChunksReceived: map[int]bool{},
		WebhookURL: webhookURL, CreatedAt: meta.CreatedAt,
	}, nil
}

func (m *Manager) writeSidecar(meta sidecarMeta) error {
	f, err := os.Create(filepath.Join(m.dir(meta.UploadID), "metadata.json"))
	if err != nil {
		return apierr.Fatal("write sidecar: %v", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(meta); err != nil {
		return apierr.Fatal("encode sidecar: %v", err)
	}
	return f.Sync()
}

func (m *Manager) readSidecar(uploadID string) (*sidecarMeta, error) {
	f, err := os.Open(filepath.Join(m.dir(uploadID), "metadata.json"))
	if os.IsNotExist(err) {
		return nil, apierr.NotFound("upload %s", uploadID)
	}
	if err != nil {
		return nil, apierr.Fatal("read sidecar: %v", err)
	}
	defer f.Close()
	var meta sidecarMeta
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, apierr.Fatal("decode sidecar: %v", err)
	}
	return &meta, nil
}

func chunkFilename(index int) string {
	return fmt.Sprintf("chunk_%05d", index)
}

// PutChunk writes one chunk idempotently; receiving the same index twice
// overwrites and does not double-count (spec §4.2).
func (m *Manager) PutChunk(ctx context.Context, uploadID string, index int, r io.Reader) (chunksReceived, totalChunks int, progressPct float64, err error) {
	start := time.Now()
	defer func() { metrics.ChunkUploadDuration.Observe(time.Since(start).Seconds()) }()

	meta, err := m.readSidecar(uploadID)
	if err != nil {
		return 0, 0, 0, err
	}
	if index < 0 || index >= meta.TotalChunks {
		return 0, 0, 0, apierr.Validation("chunk index %d out of range [0,%d)", index, meta.TotalChunks)
	}

	full := filepath.Join(m.dir(uploadID), chunkFilename(index))
	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, 0, 0, apierr.Fatal("create chunk file: %v", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return 0, 0, 0, apierr.Fatal("write chunk: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, 0, 0, apierr.Fatal("sync chunk: %v", err)
	}
	f.Close()
	if err := os.Rename(tmp, full); err != nil {
		return 0, 0, 0, apierr.Fatal("finalize chunk: %v", err)
	}

	if m.rdb != nil {
		if err := m.rdb.HSet(ctx, redisKey(uploadID), strconv.Itoa(index), 1).Err(); err != nil {
			m.log.WithError(err).Warn("redis chunk-bitmap mirror update failed, falling back to filesystem scan")
		}
	}

	received, err := m.receivedIndexes(ctx, uploadID, meta.TotalChunks)
	if err != nil {
		return 0, 0, 0, err
	}
	progress := float64(len(received)) / float64(meta.TotalChunks) * 100
	return len(received), meta.TotalChunks, progress, nil
}

// receivedIndexes prefers the Redis mirror; falls back to a filesystem
// scan when Redis is unavailable, so correctness never depends on Redis.
func (m *Manager) receivedIndexes(ctx context.Context, uploadID string, totalChunks int) (map[int]bool, error) {
	if m.rdb != nil {
		vals, err := m.rdb.HKeys(ctx, redisKey(uploadID)).Result()
		if err == nil {
			out := make(map[int]bool, len(vals))
			for _, v := range vals {
				if idx, convErr := strconv.Atoi(v); convErr == nil {
					out[idx] = true
				}
			}
			return out, nil
		}
		m.log.WithError(err).Warn("redis chunk-bitmap read failed, scanning filesystem")
	}
	return m.scanReceived(uploadID, totalChunks)
}

func (m *Manager) scanReceived(uploadID string, totalChunks int) (map[int]bool, error) {
	out := make(map[int]bool)
	for i := 0; i < totalChunks; i++ {
		if _, err := os.Stat(filepath.Join(m.dir(uploadID), chunkFilename(i))); err == nil {
			out[i] = true
		}
	}
	return out, nil
}

// Status returns the current sidecar state plus bitmap (spec §6.1 Status).
func (m *Manager) Status(ctx context.Context, uploadID string) (*model.Upload, error) {
	meta, err := m.readSidecar(uploadID)
	if err != nil {
		return nil, err
	}
	received, err := m.receivedIndexes(ctx, uploadID, meta.TotalChunks)
	if err != nil {
		return nil, err
	}
	return &model.Upload{
		ID: meta.UploadID, Filename: meta.Filename, TotalSize: meta.TotalSize,
		MediaType: meta.MediaType, ChunkSize: meta.ChunkSize, TotalChunks: meta.TotalChunks,
		ChunksReceived: received, WebhookURL: meta.WebhookURL, CreatedAt: meta.CreatedAt,
	}, nil
}

// Complete reassembles chunks in index order into destDir, returning the
// final path and SHA-256. Succeeds only when every index has arrived.
func (m *Manager) Complete(ctx context.Context, uploadID string, destDir string) (finalPath string, sha256Hex string, size int64, err error) {
	meta, err := m.readSidecar(uploadID)
	if err != nil {
		return "", "", 0, err
	}
	received, err := m.receivedIndexes(ctx, uploadID, meta.TotalChunks)
	if err != nil {
		return "", "", 0, err
	}
	if len(received) != meta.TotalChunks {
		return "", "", 0, apierr.Validation("upload %s incomplete: %d/%d chunks received", uploadID, len(received), meta.TotalChunks)
	}

	indexes := make([]int, 0, meta.TotalChunks)
	for i := 0; i < meta.TotalChunks; i++ {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", "", 0, apierr.Fatal("create dest dir: %v", err)
	}
	outPath := filepath.Join(destDir, uploadID+filepath.Ext(meta.Filename))
	out, err := os.Create(outPath)
	if err != nil {
		return "", "", 0, apierr.Fatal("create assembled file: %v", err)
	}
	defer out.Close()

	hasher := sha256.New()
	var total int64
	for _, idx := range indexes {
		chunk, err := os.Open(filepath.Join(m.dir(uploadID), chunkFilename(idx)))
		if err != nil {
			return "", "", 0, apierr.Fatal("open chunk %d: %v", idx, err)
		}
		n, err := io.Copy(io.MultiWriter(out, hasher), chunk)
		chunk.Close()
		if err != nil {
			return "", "", 0, apierr.Fatal("assemble chunk %d: %v", idx, err)
		}
		total += n
	}
	if err := out.Sync(); err != nil {
		return "", "", 0, apierr.Fatal("sync assembled file: %v", err)
	}

	m.cleanup(ctx, uploadID)
	return outPath, hex.EncodeToString(hasher.Sum(nil)), total, nil
}

func (m *Manager) cleanup(ctx context.Context, uploadID string) {
	if err := os.RemoveAll(m.dir(uploadID)); err != nil {
		m.log.WithError(err).WithField("upload_id", uploadID).Warn("failed to clean up upload chunk storage")
	}
	if m.rdb != nil {
		if err := m.rdb.Del(ctx, redisKey(uploadID)).Err(); err != nil {
			m.log.WithError(err).Warn("failed to clean up redis chunk-bitmap mirror")
		}
	}
}

// Meta exposes the sidecar's declared filename/media type, used by the
// HTTP layer to label the assembled original artifact.
func (m *Manager) Meta(uploadID string) (filename, mediaType string, err error) {
	meta, err := m.readSidecar(uploadID)
	if err != nil {
		return "", "", err
	}
	return meta.Filename, meta.MediaType, nil
}

// SweepAbandoned removes upload sessions whose sidecar predates the
// cutoff and were never completed (left behind by a client that never
// finished submitting chunks). Returns the removed upload IDs. Policy
// is left entirely to the caller (spec §9 "GC policy left to operators").
func (m *Manager) SweepAbandoned(ctx context.Context, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(m.uploadsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.Fatal("read uploads root: %v", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uploadID := entry.Name()
		meta, err := m.readSidecar(uploadID)
		if err != nil {
			continue
		}
		if meta.CreatedAt.Before(cutoff) {
			m.cleanup(ctx, uploadID)
			removed = append(removed, uploadID)
		}
	}
	return removed, nil
}
