package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"forensic-pipeline/internal/model"
	"forensic-pipeline/internal/stageregistry"
)

type cleaningResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// Cleaning re-encodes the original into a sanitized "clean" video via an
// external encoder binary (spec §4.4: "may be skipped without failing
// the job if the worker signals environment unavailable"). The encoder
// invocation itself is a pass-through transcode; the forensic sanitation
// logic it performs is out of scope per spec §1.
func Cleaning(ctx context.Context, in stageregistry.WorkerInput) (stageregistry.WorkerOutput, error) {
	encoderPath := in.ExternalEncoder
	if encoderPath == "" {
		encoderPath = "ffmpeg"
	}
	if _, err := exec.LookPath(encoderPath); err != nil {
		result := cleaningResult{Skipped: true, Reason: "encoder unavailable"}
		out, _ := json.Marshal(result)
		return stageregistry.WorkerOutput{ResultJSON: string(out), Skipped: true, SkipReason: "encoder unavailable"}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	outPath := filepath.Join(in.WorkDir, in.JobID+"_clean.mp4")
	cmd := exec.CommandContext(ctx, encoderPath,
		"-y", "-i", in.OriginalPath,
		"-map_metadata", "-1",
		"-c:v", "libx264", "-c:a", "aac",
		outPath,
	)
	if err := cmd.Run(); err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("cleaning: encoder invocation failed: %w", err)
	}

	result := cleaningResult{Skipped: false}
	out, err := json.Marshal(result)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("marshal cleaning result: %w", err)
	}
	return stageregistry.WorkerOutput{ResultJSON: string(out), ProducedFilePath: outPath, ProducedFileKind: model.FileCleanVideo}, nil
}
