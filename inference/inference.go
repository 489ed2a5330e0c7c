// Package inference defines the contracts for the ML library consumed by
// model controllers: an Engine that loads models and a Model that scores
// capture surfaces.
//
// The package does not ship a real inference runtime. It provides the
// metadata fetch shared by engine implementations and a deterministic
// StaticEngine for tests and demos.
package inference

import (
	"context"
	"errors"

	"github.com/visiona/modelbridge/capture"
	"github.com/visiona/modelbridge/wire"
)

var (
	// ErrLoadFailed is returned when a model or its metadata cannot be
	// fetched or parsed. The instance stays unloaded and may retry.
	ErrLoadFailed = errors.New("model load failed")

	// ErrInference is returned for a single failed prediction. The tick
	// is skipped; the loop continues.
	ErrInference = errors.New("inference failed")
)

// LabelScore is one class probability as produced by a Model. The slice
// returned by Predict follows the ordering of Labels.
type LabelScore struct {
	Label       string
	Probability float64
}

// Model is one loaded inference model.
type Model interface {
	// Kind reports the input modality declared by the model metadata.
	Kind() wire.Kind

	// Labels returns the class labels in the ordering established at
	// load time. Callers must not mutate the returned slice.
	Labels() []string

	// Predict scores one capture surface. The result is ordered to
	// match Labels.
	Predict(ctx context.Context, s *capture.Surface) ([]LabelScore, error)
}

// Engine loads models from their published URLs.
type Engine interface {
	// Load fetches and parses a model and its metadata document.
	// Failures are reported as (a wrapped) ErrLoadFailed.
	Load(ctx context.Context, modelURL, metadataURL string) (Model, error)
}
