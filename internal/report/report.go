// Package report builds the forensic report JSON (spec §6.2), grounded
// field-for-field on the original Python AnalysisProcessor._create_report.
package report

import (
	"encoding/json"
)

// Report is the exact top-level key set spec §6.2 requires implementers
// to emit. Fields use pointers/omitempty where the spec allows absence.
type Report struct {
	File                string          `json:"file"`
	FilePath            string          `json:"file_path"`
	Codec               string          `json:"codec"`
	Encoder             string          `json:"encoder,omitempty"`
	MajorBrand          string          `json:"major_brand,omitempty"`
	CompatibleBrands    string          `json:"compatible_brands,omitempty"`
	Duration            float64         `json:"duration"`
	BitRate             int64           `json:"bit_rate"`
	FrameRate           string          `json:"frame_rate"`
	Width               int             `json:"width"`
	Height              int             `json:"height"`
	GopEstimate         int             `json:"gop_estimate"`
	QPPattern           string          `json:"qp_pattern"`
	Classification       string         `json:"classification"`
	Confidence           float64        `json:"confidence"`
	ConfidenceLevel      string         `json:"confidence_level"`
	Reason               string         `json:"reason"`
	MostLikelyModel      string         `json:"most_likely_model"`
	ModelProbabilities   map[string]float64 `json:"model_probabilities"`
	PRNUAnalysis         json.RawMessage `json:"prnu_analysis"`
	FFTAnalysis          json.RawMessage `json:"fft_analysis"`
	MetadataIntegrity    json.RawMessage `json:"metadata_integrity,omitempty"`
	Timeline             []any           `json:"timeline"`
	HybridAnalysis       json.RawMessage `json:"hybrid_analysis,omitempty"`
	TimelineSummary      json.RawMessage `json:"timeline_summary,omitempty"`
	ToolSignatures       []string        `json:"tool_signatures"`
	Fingerprint          string          `json:"fingerprint"`
}

// Input bundles the stage results the executor gathers before invoking
// the virtual report_generation stage (spec §4.6 step g).
type Input struct {
	DeclaredFilename   string
	StoredPath         string
	VideoMetadataJSON  string // metadata_extraction result_blob
	PRNUJSON           string // prnu result_blob
	FFTJSON            string // fft result_blob
	ClassificationJSON string // classification result_blob
}

type videoMetadataFields struct {
	Duration         float64 `json:"duration"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	VideoCodec       string  `json:"video_codec"`
	Bitrate          int64   `json:"bit_rate"`
	FrameRate        string  `json:"frame_rate"`
	Encoder          string  `json:"encoder"`
	MajorBrand       string  `json:"major_brand"`
	CompatibleBrands string  `json:"compatible_brands"`
	GopEstimate      int     `json:"gop_estimate"`
	QPPattern        string  `json:"qp_pattern"`
	Fingerprint      string  `json:"fingerprint"`
}

type classificationFields struct {
	Classification     string             `json:"classification"`
	Confidence         float64            `json:"confidence"`
	ConfidenceLevel    string             `json:"confidence_level"`
	Reason             string             `json:"reason"`
	MostLikelyModel    string             `json:"most_likely_model"`
	ModelProbabilities map[string]float64 `json:"model_probabilities"`
}

// Build composes the single JSON report from all prior stage results
// (spec §4.6 step g / §6.2). Values not available are left as the zero
// value, which for pointers/slices/maps serializes as null/empty per
// the spec's "absent/null" instruction.
func Build(in Input) (*Report, error) {
	var meta videoMetadataFields
	if in.VideoMetadataJSON != "" {
		if err := json.Unmarshal([]byte(in.VideoMetadataJSON), &meta); err != nil {
			return nil, err
		}
	}
	var cls classificationFields
	if in.ClassificationJSON != "" {
		if err := json.Unmarshal([]byte(in.ClassificationJSON), &cls); err != nil {
			return nil, err
		}
	}

	r := &Report{
		File:               in.DeclaredFilename,
		FilePath:           in.StoredPath,
		Codec:              meta.VideoCodec,
		Encoder:            meta.Encoder,
		MajorBrand:         meta.MajorBrand,
		CompatibleBrands:   meta.CompatibleBrands,
		Duration:           meta.Duration,
		BitRate:            meta.Bitrate,
		FrameRate:          meta.FrameRate,
		Width:              meta.Width,
		Height:             meta.Height,
		GopEstimate:        meta.GopEstimate,
		QPPattern:          meta.QPPattern,
		Classification:     cls.Classification,
		Confidence:         cls.Confidence,
		ConfidenceLevel:    cls.ConfidenceLevel,
		Reason:             cls.Reason,
		MostLikelyModel:    cls.MostLikelyModel,
		ModelProbabilities: cls.ModelProbabilities,
		Fingerprint:        meta.Fingerprint,
		ToolSignatures:     toolSignatures(meta.Encoder),
		Timeline:           []any{},
	}

	if in.PRNUJSON != "" {
		r.PRNUAnalysis = json.RawMessage(in.PRNUJSON)
	}
	if in.FFTJSON != "" {
		r.FFTAnalysis = json.RawMessage(in.FFTJSON)
	}

	return r, nil
}

// toolSignatures flags encoder tags known to belong to generative
// tooling rather than camera firmware, supplementing the metadata
// integrity signal the original source derives in app/core/metadata_integrity.py.
func toolSignatures(encoder string) []string {
	var sigs []string
	knownGenerative := map[string]bool{
		"Lavf": true, "HandBrake": true, "ffmpeg": true,
	}
	for tag := range knownGenerative {
		if encoder == tag {
			sigs = append(sigs, tag)
		}
	}
	if sigs == nil {
		sigs = []string{}
	}
	return sigs
}
