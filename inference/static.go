package inference

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/visiona/modelbridge/capture"
	"github.com/visiona/modelbridge/wire"
)

// PredictFunc computes one tick's scores for a static model. scores must
// have one entry per label, in label order.
type PredictFunc func(s *capture.Surface, scores []float64)

// StaticEngine is a deterministic Engine for tests and demos. It fetches
// a real metadata document for each load but synthesizes predictions
// instead of running a model graph.
type StaticEngine struct {
	client  *http.Client
	predict PredictFunc
}

// NewStaticEngine builds a StaticEngine. A nil predict rotates a single
// winning label through the label set, which makes downstream assertions
// and demos readable.
func NewStaticEngine(client *http.Client, predict PredictFunc) *StaticEngine {
	if predict == nil {
		predict = rotateWinner
	}
	return &StaticEngine{client: client, predict: predict}
}

// Load implements Engine.
func (e *StaticEngine) Load(ctx context.Context, modelURL, metadataURL string) (Model, error) {
	meta, err := FetchMetadata(ctx, e.client, metadataURL)
	if err != nil {
		return nil, err
	}
	return &staticModel{
		kind:    meta.Kind(),
		labels:  append([]string(nil), meta.Labels...),
		predict: e.predict,
	}, nil
}

type staticModel struct {
	kind    wire.Kind
	labels  []string
	predict PredictFunc
	tick    atomic.Uint64
}

func (m *staticModel) Kind() wire.Kind  { return m.kind }
func (m *staticModel) Labels() []string { return m.labels }

func (m *staticModel) Predict(ctx context.Context, s *capture.Surface) ([]LabelScore, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	m.tick.Add(1)

	scores := make([]float64, len(m.labels))
	m.predict(s, scores)

	result := make([]LabelScore, len(m.labels))
	for i, label := range m.labels {
		result[i] = LabelScore{Label: label, Probability: scores[i]}
	}
	return result, nil
}

// rotateWinner assigns probability 1 to one label per surface, selected
// by the surface sequence number.
func rotateWinner(s *capture.Surface, scores []float64) {
	if len(scores) == 0 {
		return
	}
	var seq uint64
	if s != nil {
		seq = s.Seq
	}
	scores[seq%uint64(len(scores))] = 1
}
