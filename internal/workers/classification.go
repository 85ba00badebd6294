package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"forensic-pipeline/internal/model"
	"forensic-pipeline/internal/stageregistry"
)

// classificationResult is persisted as the classification stage's
// result_blob and feeds the report's classification/confidence/reason/
// most_likely_model/model_probabilities fields.
type classificationResult struct {
	Classification     string             `json:"classification"`
	Confidence         float64            `json:"confidence"`
	ConfidenceLevel    string             `json:"confidence_level"`
	Reason             string             `json:"reason"`
	MostLikelyModel    string             `json:"most_likely_model"`
	ModelProbabilities map[string]float64 `json:"model_probabilities"`
}

// ConfidenceLevel buckets a confidence score, grounded verbatim on the
// original's _get_confidence_level thresholds.
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return "alta"
	case confidence >= 0.6:
		return "média"
	default:
		return "baixa"
	}
}

// Classification implements the classification stage worker, combining
// the prnu and fft placeholder signals into a final label. The
// heuristic itself is out of scope per spec §1; this implements a
// deterministic decision rule over the declared contract shapes so the
// pipeline produces a label from the closed set every run.
func Classification(ctx context.Context, in stageregistry.WorkerInput) (stageregistry.WorkerOutput, error) {
	var prnu prnuResult
	if raw, ok := in.PriorResults[model.StagePRNU]; ok {
		if err := json.Unmarshal([]byte(raw), &prnu); err != nil {
			return stageregistry.WorkerOutput{}, fmt.Errorf("classification: decode prnu result: %w", err)
		}
	}
	var fft fftResult
	if raw, ok := in.PriorResults[model.StageFFT]; ok {
		if err := json.Unmarshal([]byte(raw), &fft); err != nil {
			return stageregistry.WorkerOutput{}, fmt.Errorf("classification: decode fft result: %w", err)
		}
	}

	label, confidence, reason, mostLikely, probs := decide(prnu, fft)

	result := classificationResult{
		Classification:     string(label),
		Confidence:         confidence,
		ConfidenceLevel:    ConfidenceLevel(confidence),
		Reason:             reason,
		MostLikelyModel:    mostLikely,
		ModelProbabilities: probs,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return stageregistry.WorkerOutput{}, fmt.Errorf("marshal classification result: %w", err)
	}
	return stageregistry.WorkerOutput{ResultJSON: string(out)}, nil
}

func decide(prnu prnuResult, fft fftResult) (model.ClassificationLabel, float64, string, string, map[string]float64) {
	probs := map[string]float64{
		"camera_sensor":  prnu.Correlation,
		"hevc_diffusion": fft.DiffusionSignatureScore * 0.6,
		"av1_diffusion":  fft.DiffusionSignatureScore * 0.4,
	}

	switch {
	case prnu.SensorConsistent && !fft.PeriodicArtifacts:
		return model.ClassRealCamera, prnu.Correlation, "sensor noise pattern consistent, no periodic diffusion artifacts", "none", probs
	case !prnu.SensorConsistent && fft.PeriodicArtifacts && fft.DiffusionSignatureScore > 0.8:
		return model.ClassAIHEVC, fft.DiffusionSignatureScore, "periodic diffusion artifacts with no sensor correlation, high confidence HEVC-class signature", "stable-diffusion-hevc", probs
	case !prnu.SensorConsistent && fft.PeriodicArtifacts:
		return model.ClassAIAV1, fft.DiffusionSignatureScore, "periodic diffusion artifacts with no sensor correlation", "stable-diffusion-av1", probs
	case prnu.SensorConsistent && fft.PeriodicArtifacts:
		return model.ClassHybridContent, (prnu.Correlation + fft.DiffusionSignatureScore) / 2, "sensor correlation present alongside diffusion artifacts, suggests partial re-encode", "mixed", probs
	default:
		return model.ClassUnknown, 0.5, "insufficient signal to reach a confident determination", "unknown", probs
	}
}
