package workers

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"forensic-pipeline/internal/stageregistry"
)

// prnuResult models the sensor photo-response non-uniformity analysis
// result shape the report's prnu_analysis field expects. The real
// extraction (comparing frame noise residuals against a sensor
// reference pattern) is out of scope per spec §1; this produces a
// deterministic placeholder derived from the file's own bytes so the
// contract (consistent output for a re-run, per spec §4.6 resumability)
// holds without real signal processing.
type prnuResult struct {
	Correlation      float64 `json:"correlation"`
	NoiseVariance    float64 `json:"noise_variance"`
	SensorConsistent bool    `json:"sensor_consistent"`
}

// PRNU implements the prnu stage worker.
func PRNU(ctx context.Context, in stageregistry.WorkerInput) (stageregistry.WorkerOutput, error) {
	digest, err := digestFile(in.OriginalPath)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("prnu: %w", err)
	}

	correlation := normalizedFloat(digest[0:4])
	variance := normalizedFloat(digest[4:8]) * 0.05

	result := prnuResult{
		Correlation:      correlation,
		NoiseVariance:    variance,
		SensorConsistent: correlation > 0.4,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("marshal prnu result: %w", err)
	}
	return stageregistry.WorkerOutput{ResultJSON: string(out)}, nil
}

// digestFile returns the SHA-256 of the file, used as a stand-in source
// of determinism for the placeholder analyzers.
func digestFile(path string) ([32]byte, error) {
	var sum [32]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// normalizedFloat maps 4 bytes of digest into a float in [0,1).
func normalizedFloat(b []byte) float64 {
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return float64(v) / (1 << 32)
}
