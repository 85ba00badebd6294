package workers

import (
	"context"
	"encoding/json"
	"testing"

	"forensic-pipeline/internal/model"
	"forensic-pipeline/internal/stageregistry"
)

func buildInput(t *testing.T, prnu prnuResult, fft fftResult) stageregistry.WorkerInput {
	t.Helper()
	prnuJSON, err := json.Marshal(prnu)
	if err != nil {
		t.Fatalf("failed to marshal prnu fixture: %v", err)
	}
	fftJSON, err := json.Marshal(fft)
	if err != nil {
		t.Fatalf("failed to marshal fft fixture: %v", err)
	}
	return stageregistry.WorkerInput{
		PriorResults: map[model.StageName]string{
			model.StagePRNU: string(prnuJSON),
			model.StageFFT:  string(fftJSON),
		},
	}
}

func TestConfidenceLevel_Thresholds(t *testing.T) {
	tests := []struct {
		confidence float64
		want       string
	}{
		{0.95, "alta"},
		{0.8, "alta"},
		{0.79, "média"},
		{0.6, "média"},
		{0.59, "baixa"},
		{0.0, "baixa"},
	}
	for _, tt := range tests {
		if got := ConfidenceLevel(tt.confidence); got != tt.want {
			t.Errorf("ConfidenceLevel(%v) = %q, want %q", tt.confidence, got, tt.want)
		}
	}
}

func TestDecide_RealCamera(t *testing.T) {
	label, _, _, mostLikely, _ := decide(
		prnuResult{Correlation: 0.9, SensorConsistent: true},
		fftResult{PeriodicArtifacts: false, DiffusionSignatureScore: 0.1},
	)
	if label != model.ClassRealCamera {
		t.Errorf("expected REAL_CAMERA, got %s", label)
	}
	if mostLikely != "none" {
		t.Errorf("expected most_likely_model 'none' for real camera, got %q", mostLikely)
	}
}

func TestDecide_AIHEVCHighConfidence(t *testing.T) {
	label, confidence, _, _, _ := decide(
		prnuResult{Correlation: 0.1, SensorConsistent: false},
		fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 0.95},
	)
	if label != model.ClassAIHEVC {
		t.Errorf("expected AI_HEVC, got %s", label)
	}
	if confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %v", confidence)
	}
}

func TestDecide_AIAV1LowerConfidence(t *testing.T) {
	label, _, _, _, _ := decide(
		prnuResult{Correlation: 0.1, SensorConsistent: false},
		fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 0.7},
	)
	if label != model.ClassAIAV1 {
		t.Errorf("expected AI_AV1, got %s", label)
	}
}

func TestDecide_HybridContent(t *testing.T) {
	label, _, _, mostLikely, _ := decide(
		prnuResult{Correlation: 0.6, SensorConsistent: true},
		fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 0.5},
	)
	if label != model.ClassHybridContent {
		t.Errorf("expected HYBRID_CONTENT, got %s", label)
	}
	if mostLikely != "mixed" {
		t.Errorf("expected most_likely_model 'mixed', got %q", mostLikely)
	}
}

func TestDecide_Unknown(t *testing.T) {
	label, confidence, _, _, _ := decide(
		prnuResult{Correlation: 0.1, SensorConsistent: false},
		fftResult{PeriodicArtifacts: false, DiffusionSignatureScore: 0.1},
	)
	if label != model.ClassUnknown {
		t.Errorf("expected UNKNOWN, got %s", label)
	}
	if confidence != 0.5 {
		t.Errorf("expected default confidence 0.5, got %v", confidence)
	}
}

func TestClassification_ConfidenceAlwaysInRange(t *testing.T) {
	cases := []struct {
		prnu prnuResult
		fft  fftResult
	}{
		{prnuResult{Correlation: 1, SensorConsistent: true}, fftResult{}},
		{prnuResult{}, fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 1}},
		{prnuResult{Correlation: 0.5, SensorConsistent: true}, fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 0.5}},
	}
	for _, c := range cases {
		_, confidence, _, _, _ := decide(c.prnu, c.fft)
		if confidence < 0 || confidence > 1 {
			t.Errorf("confidence %v out of [0,1] range", confidence)
		}
	}
}

func TestClassification_ProducesClosedLabelSet(t *testing.T) {
	closed := map[model.ClassificationLabel]bool{
		model.ClassRealCamera: true, model.ClassAIHEVC: true, model.ClassAIAV1: true,
		model.ClassSpoofedMetadata: true, model.ClassHybridContent: true, model.ClassUnknown: true,
	}
	cases := []struct {
		prnu prnuResult
		fft  fftResult
	}{
		{prnuResult{SensorConsistent: true}, fftResult{PeriodicArtifacts: false}},
		{prnuResult{SensorConsistent: false}, fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 0.9}},
		{prnuResult{SensorConsistent: false}, fftResult{PeriodicArtifacts: true, DiffusionSignatureScore: 0.5}},
		{prnuResult{SensorConsistent: true}, fftResult{PeriodicArtifacts: true}},
		{prnuResult{SensorConsistent: false}, fftResult{PeriodicArtifacts: false}},
	}
	for _, c := range cases {
		label, _, _, _, _ := decide(c.prnu, c.fft)
		if !closed[label] {
			t.Errorf("label %s is not in the closed classification set", label)
		}
	}
}

func TestClassification_ResultIsWellFormedJSON(t *testing.T) {
	out, err := Classification(context.Background(), buildInput(t, prnuResult{Correlation: 0.9, SensorConsistent: true}, fftResult{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out.ResultJSON), &parsed); err != nil {
		t.Fatalf("result_blob is not valid JSON: %v", err)
	}
	for _, key := range []string{"classification", "confidence", "confidence_level", "reason", "most_likely_model", "model_probabilities"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("classification result missing key %q", key)
		}
	}
}
