package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"forensic-pipeline/internal/stageregistry"
)

// fftResult models the temporal-spectral analysis result the report's
// fft_analysis field expects — diffusion-model signature detection and
// temporal jitter, merged per the original's fft_analysis step. Real
// spectral analysis is out of scope (spec §1); placeholder derived
// deterministically from bytes 8–15 of the original file's SHA-256
// digest (the PRNU stage's output is not read).
type fftResult struct {
	DiffusionSignatureScore float64 `json:"diffusion_signature_score"`
	TemporalJitterMs        float64 `json:"temporal_jitter_ms"`
	PeriodicArtifacts       bool    `json:"periodic_artifacts_detected"`
}

// FFT implements the fft stage worker.
func FFT(ctx context.Context, in stageregistry.WorkerInput) (stageregistry.WorkerOutput, error) {
	digest, err := digestFile(in.OriginalPath)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("fft: %w", err)
	}

	score := normalizedFloat(digest[8:12])
	jitter := normalizedFloat(digest[12:16]) * 10

	result := fftResult{
		DiffusionSignatureScore: score,
		TemporalJitterMs:        jitter,
		PeriodicArtifacts:       score > 0.6,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("marshal fft result: %w", err)
	}
	return stageregistry.WorkerOutput{ResultJSON: string(out)}, nil
}
