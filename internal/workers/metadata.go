// Package workers implements the pluggable stage workers declared by
// the stage registry. metadata_extraction shells out to ffprobe and
// cleaning shells out to the external encoder. prnu and fft read the
// original file and derive deterministic placeholder results from its
// SHA-256 digest, and classification combines those two results; their
// signal-processing details are out of scope (spec §4.4), so they honor
// their input/output contracts rather than performing real DSP.
package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"forensic-pipeline/internal/ffprobe"
	"forensic-pipeline/internal/stageregistry"
)

// videoMetadata is the JSON shape persisted once metadata_extraction
// completes (spec §3 Job.video_metadata) and consumed by later stages.
type videoMetadata struct {
	Duration         float64 `json:"duration"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	VideoCodec       string  `json:"video_codec"`
	AudioCodec       string  `json:"audio_codec"`
	Bitrate          int64   `json:"bit_rate"`
	FrameRate        string  `json:"frame_rate"`
	Encoder          string  `json:"encoder"`
	MajorBrand       string  `json:"major_brand"`
	CompatibleBrands string  `json:"compatible_brands"`
	GopEstimate      int     `json:"gop_estimate"`
	QPPattern        string  `json:"qp_pattern"`
	Fingerprint      string  `json:"fingerprint"`
}

// MetadataExtraction probes the original file with ffprobe and derives
// the GOP-size estimate and fingerprint the report needs.
func MetadataExtraction(ctx context.Context, in stageregistry.WorkerInput) (stageregistry.WorkerOutput, error) {
	info, err := ffprobe.ProbeFileWithContext(ctx, in.OriginalPath)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("metadata extraction: %w", err)
	}

	fingerprint, err := fileFingerprint(in.OriginalPath)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("metadata extraction fingerprint: %w", err)
	}

	meta := videoMetadata{
		Duration:         info.Duration,
		Width:            info.Width,
		Height:           info.Height,
		VideoCodec:       info.VideoCodec,
		AudioCodec:       info.AudioCodec,
		Bitrate:          info.Bitrate,
		FrameRate:        info.FrameRate,
		Encoder:          info.Encoder,
		MajorBrand:       info.MajorBrand,
		CompatibleBrands: info.CompatibleBrands,
		GopEstimate:      estimateGopSize(info),
		QPPattern:        estimateQPPattern(info),
		Fingerprint:      fingerprint,
	}

	out, err := json.Marshal(meta)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("marshal video metadata: %w", err)
	}
	return stageregistry.WorkerOutput{ResultJSON: string(out)}, nil
}

// estimateGopSize derives a deterministic GOP-size estimate from the
// declared frame rate, standing in for the original's encoder-specific
// heuristic (out of scope per spec §1).
func estimateGopSize(info *ffprobe.MediaInfo) int {
	if info.FrameRate == "" {
		return 0
	}
	var fps float64
	fmt.Sscanf(info.FrameRate, "%f", &fps)
	if fps <= 0 {
		return 0
	}
	return int(math.Round(fps * 2))
}

func estimateQPPattern(info *ffprobe.MediaInfo) string {
	if info.Bitrate == 0 {
		return "unknown"
	}
	switch {
	case info.Bitrate > 8_000_000:
		return "low-qp-constant"
	case info.Bitrate > 2_000_000:
		return "variable"
	default:
		return "high-qp-constant"
	}
}

func fileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d", path, info.Size())
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}
