package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/visiona/modelbridge/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata is the published document describing a model's label set and
// input modality.
type Metadata struct {
	ModelName string   `json:"modelName"`
	ModelType string   `json:"modelType"`
	Labels    []string `json:"labels"`
}

// Kind maps the declared model type onto a wire kind. Unknown or empty
// types default to image, the most common modality.
func (m *Metadata) Kind() wire.Kind {
	k := wire.Kind(m.ModelType)
	if k.Valid() {
		return k
	}
	return wire.KindImage
}

// FetchMetadata retrieves and parses a model metadata document, retrying
// transient failures with exponential backoff. Permanent failures (4xx,
// parse errors) abort the retry loop immediately.
func FetchMetadata(ctx context.Context, client *http.Client, url string) (*Metadata, error) {
	if client == nil {
		client = http.DefaultClient
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxElapsedTime(10*time.Second),
	), ctx)

	var meta *Metadata
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("metadata fetch: status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("metadata fetch: status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		var m Metadata
		if err := json.Unmarshal(body, &m); err != nil {
			return backoff.Permanent(fmt.Errorf("metadata parse: %w", err))
		}
		if len(m.Labels) == 0 {
			return backoff.Permanent(fmt.Errorf("metadata parse: empty label set"))
		}
		meta = &m
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	return meta, nil
}
