package stageregistry

import (
	"context"
	"errors"
	"testing"

	"forensic-pipeline/internal/model"
)

func noopWorker(name string) Worker {
	return func(ctx context.Context, in WorkerInput) (WorkerOutput, error) {
		return WorkerOutput{ResultJSON: `{"stage":"` + name + `"}`}, nil
	}
}

func TestNew_OrderedMatchesSpecSequence(t *testing.T) {
	reg := New(noopWorker("metadata"), noopWorker("prnu"), noopWorker("fft"), noopWorker("classification"), noopWorker("cleaning"))

	want := []model.StageName{
		model.StageMetadataExtraction, model.StagePRNU, model.StageFFT,
		model.StageClassification, model.StageCleaning,
	}
	got := reg.Ordered()
	if len(got) != len(want) {
		t.Fatalf("expected %d stage defs, got %d", len(want), len(got))
	}
	for i, def := range got {
		if def.Name != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], def.Name)
		}
	}
}

func TestNew_CleaningIsOptionalAndProducesCleanVideo(t *testing.T) {
	reg := New(noopWorker("metadata"), noopWorker("prnu"), noopWorker("fft"), noopWorker("classification"), noopWorker("cleaning"))
	def, ok := reg.Lookup(model.StageCleaning)
	if !ok {
		t.Fatal("expected cleaning stage to be registered")
	}
	if !def.Optional {
		t.Error("cleaning must be optional (skippable when encoder unavailable)")
	}
	if def.Produces != model.FileCleanVideo {
		t.Errorf("expected cleaning to produce clean_video, got %q", def.Produces)
	}
}

func TestNew_OtherStagesAreNotOptional(t *testing.T) {
	reg := New(noopWorker("metadata"), noopWorker("prnu"), noopWorker("fft"), noopWorker("classification"), noopWorker("cleaning"))
	for _, name := range []model.StageName{model.StageMetadataExtraction, model.StagePRNU, model.StageFFT, model.StageClassification} {
		def, ok := reg.Lookup(name)
		if !ok {
			t.Fatalf("expected %s to be registered", name)
		}
		if def.Optional {
			t.Errorf("%s should not be optional", name)
		}
		if def.Produces != "" {
			t.Errorf("%s should not declare a produced file kind, got %q", name, def.Produces)
		}
	}
}

func TestLookup_UnknownStageReturnsFalse(t *testing.T) {
	reg := New(noopWorker("metadata"), noopWorker("prnu"), noopWorker("fft"), noopWorker("classification"), noopWorker("cleaning"))
	if _, ok := reg.Lookup(model.StageUpload); ok {
		t.Error("upload has no worker binding and should not be found in the registry")
	}
}

func TestWorker_PropagatesError(t *testing.T) {
	failing := Worker(func(ctx context.Context, in WorkerInput) (WorkerOutput, error) {
		return WorkerOutput{}, errors.New("boom")
	})
	reg := New(failing, noopWorker("prnu"), noopWorker("fft"), noopWorker("classification"), noopWorker("cleaning"))
	def, _ := reg.Lookup(model.StageMetadataExtraction)
	_, err := def.Worker(context.Background(), WorkerInput{})
	if err == nil {
		t.Fatal("expected worker error to propagate")
	}
}
