package wire

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json is the jsoniter instance used for all wire (de)serialization.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeError reports a malformed or unrecognized payload. The bridge
// logs these and drops the frame; they are never fatal.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wire: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// envelope carries only the discriminant, used to pick the variant.
type envelope struct {
	Type MessageType `json:"type"`
}

type predictionsJSON struct {
	Type        MessageType  `json:"type"`
	ModelType   Kind         `json:"modelType"`
	Predictions []Prediction `json:"predictions"`
}

type loadModelJSON struct {
	Type MessageType `json:"type"`
	URL  string      `json:"url"`
}

type modelIDJSON struct {
	Type    MessageType `json:"type"`
	ModelID string      `json:"modelId"`
}

// EncodeMessage serializes a Message variant into a frame payload.
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Hello, Init, Ping, Pong, StopAllModels:
		return json.Marshal(envelope{Type: m.MessageType()})
	case Predictions:
		return json.Marshal(predictionsJSON{
			Type:        TypePredictions,
			ModelType:   v.Kind,
			Predictions: v.Predictions,
		})
	case LoadModel:
		return json.Marshal(loadModelJSON{Type: TypeLoadModel, URL: v.URL})
	case StartModel:
		return json.Marshal(modelIDJSON{Type: TypeStartModel, ModelID: v.ModelID})
	case StopModel:
		return json.Marshal(modelIDJSON{Type: TypeStopModel, ModelID: v.ModelID})
	case DeleteModel:
		return json.Marshal(modelIDJSON{Type: TypeDeleteModel, ModelID: v.ModelID})
	default:
		// Unreachable for the sealed union; kept so a future variant
		// fails loudly instead of marshaling an empty envelope.
		return nil, &DecodeError{Reason: fmt.Sprintf("encode: unhandled message type %q", m.MessageType())}
	}
}

// DecodeMessage parses a frame payload into its Message variant.
// Unknown tags and malformed JSON return *DecodeError.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "decode message envelope", Err: err}
	}

	switch env.Type {
	case TypeHello:
		return Hello{}, nil
	case TypeInit:
		return Init{}, nil
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeStopAllModels:
		return StopAllModels{}, nil
	case TypePredictions:
		var p predictionsJSON
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, &DecodeError{Reason: "decode predictions", Err: err}
		}
		if !p.ModelType.Valid() {
			return nil, &DecodeError{Reason: fmt.Sprintf("decode predictions: invalid model type %q", p.ModelType)}
		}
		return Predictions{Kind: p.ModelType, Predictions: p.Predictions}, nil
	case TypeLoadModel:
		var l loadModelJSON
		if err := json.Unmarshal(data, &l); err != nil {
			return nil, &DecodeError{Reason: "decode load-model", Err: err}
		}
		return LoadModel{URL: l.URL}, nil
	case TypeStartModel:
		var s modelIDJSON
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, &DecodeError{Reason: "decode start-model", Err: err}
		}
		return StartModel{ModelID: s.ModelID}, nil
	case TypeStopModel:
		var s modelIDJSON
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, &DecodeError{Reason: "decode stop-model", Err: err}
		}
		return StopModel{ModelID: s.ModelID}, nil
	case TypeDeleteModel:
		var d modelIDJSON
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, &DecodeError{Reason: "decode delete-model", Err: err}
		}
		return DeleteModel{ModelID: d.ModelID}, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}
