// Package stageregistry declares the fixed, ordered list of pipeline
// stages and their worker bindings (spec C4). The stage set is closed —
// this is a plain slice of structs, the literal realization of the
// "closed tagged sum" design note in spec §9, not an open plugin
// interface.
package stageregistry

import (
	"context"

	"forensic-pipeline/internal/model"
)

// WorkerInput bundles what a worker needs to do its job: the path to the
// original file plus any prior stages' results it declared it consumes.
type WorkerInput struct {
	JobID            string
	OriginalPath     string
	VideoMetadataRaw string // JSON, set once metadata_extraction has run
	PriorResults     map[model.StageName]string
	ExternalEncoder  string
	WorkDir          string
}

// WorkerOutput is what a worker hands back to the executor. ResultJSON
// is persisted verbatim into the stage's result_blob. ProducedFilePath
// is non-empty when the stage yields a durable artifact (cleaning only).
type WorkerOutput struct {
	ResultJSON       string
	ProducedFilePath string
	ProducedFileKind model.FileKind
	Skipped          bool
	SkipReason       string
}

// Worker is a pure function with respect to storage: the executor owns
// all writes to the blob store and job store (spec §4.4).
type Worker func(ctx context.Context, in WorkerInput) (WorkerOutput, error)

// StageDef declares one entry of the fixed pipeline.
type StageDef struct {
	Name     model.StageName
	Worker   Worker
	Consumes []model.StageName
	Produces model.FileKind // zero value if the stage produces no file
	Optional bool           // may be skipped without failing the job
}

// Registry is the ordered, immutable list of non-upload stages the
// executor walks. `upload` itself has no worker: it is always Completed
// at job creation time.
type Registry struct {
	defs []StageDef
}

// New builds the registry from the worker implementations in
// internal/workers, keeping the binding explicit and visible at the
// call site rather than hidden behind package-level globals (spec §9,
// "global mutable state").
func New(metadataWorker, prnuWorker, fftWorker, classificationWorker, cleaningWorker Worker) *Registry {
	return &Registry{defs: []StageDef{
		{Name: model.StageMetadataExtraction, Worker: metadataWorker, Consumes: nil, Produces: ""},
		{Name: model.StagePRNU, Worker: prnuWorker, Consumes: []model.StageName{model.StageMetadataExtraction}},
		{Name: model.StageFFT, Worker: fftWorker, Consumes: []model.StageName{model.StageMetadataExtraction}},
		{Name: model.StageClassification, Worker: classificationWorker, Consumes: []model.StageName{model.StagePRNU, model.StageFFT, model.StageMetadataExtraction}},
		{Name: model.StageCleaning, Worker: cleaningWorker, Consumes: []model.StageName{model.StageClassification}, Produces: model.FileCleanVideo, Optional: true},
	}}
}

// Ordered returns the stage definitions in pipeline order.
func (r *Registry) Ordered() []StageDef {
	return r.defs
}

// Lookup finds a stage definition by name.
func (r *Registry) Lookup(name model.StageName) (StageDef, bool) {
	for _, d := range r.defs {
		if d.Name == name {
			return d, true
		}
	}
	return StageDef{}, false
}
