package wire

import "math"

// Kind identifies the input modality of a model.
type Kind string

const (
	KindImage Kind = "image"
	KindPose  Kind = "pose"
	KindSound Kind = "sound"
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindPose, KindSound:
		return true
	}
	return false
}

// Kinds lists every model kind, in a stable order.
func Kinds() []Kind {
	return []Kind{KindImage, KindPose, KindSound}
}

// Prediction is one class score. Confidence is always in [0,1], rounded
// to three decimals before it goes on the wire.
type Prediction struct {
	Label      string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Round3 rounds a confidence value to three decimals.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// MessageType is the tag of a Message variant.
type MessageType string

const (
	TypeHello       MessageType = "hello"
	TypeInit        MessageType = "init"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypePredictions MessageType = "predictions"

	TypeLoadModel     MessageType = "load-model"
	TypeStartModel    MessageType = "start-model"
	TypeStopModel     MessageType = "stop-model"
	TypeStopAllModels MessageType = "stop-all-models"
	TypeDeleteModel   MessageType = "delete-model"
)

// Message is the sealed inner protocol union.
type Message interface {
	MessageType() MessageType
	isMessage()
}

// Command is the subset of Messages that drive model lifecycle.
type Command interface {
	Message
	isCommand()
}

// Hello opens the handshake. A peer receiving Hello replies Init.
type Hello struct{}

// Init acknowledges a Hello. Informational only.
type Init struct{}

// Ping is a liveness probe. A peer receiving Ping replies Pong.
type Ping struct{}

// Pong acknowledges a Ping. Informational only.
type Pong struct{}

// Predictions is one tick's ordered batch for a single model kind. The
// order matches the model's label ordering established at load time.
type Predictions struct {
	Kind        Kind
	Predictions []Prediction
}

// LoadModel asks the receiver to fetch, parse and register a model.
type LoadModel struct {
	URL string
}

// StartModel starts a registered model's inference loop.
type StartModel struct {
	ModelID string
}

// StopModel stops a running model.
type StopModel struct {
	ModelID string
}

// StopAllModels stops every running model.
type StopAllModels struct{}

// DeleteModel stops a model if needed and removes it from the registry.
type DeleteModel struct {
	ModelID string
}

func (Hello) MessageType() MessageType         { return TypeHello }
func (Init) MessageType() MessageType          { return TypeInit }
func (Ping) MessageType() MessageType          { return TypePing }
func (Pong) MessageType() MessageType          { return TypePong }
func (Predictions) MessageType() MessageType   { return TypePredictions }
func (LoadModel) MessageType() MessageType     { return TypeLoadModel }
func (StartModel) MessageType() MessageType    { return TypeStartModel }
func (StopModel) MessageType() MessageType     { return TypeStopModel }
func (StopAllModels) MessageType() MessageType { return TypeStopAllModels }
func (DeleteModel) MessageType() MessageType   { return TypeDeleteModel }

func (Hello) isMessage()         {}
func (Init) isMessage()          {}
func (Ping) isMessage()          {}
func (Pong) isMessage()          {}
func (Predictions) isMessage()   {}
func (LoadModel) isMessage()     {}
func (StartModel) isMessage()    {}
func (StopModel) isMessage()     {}
func (StopAllModels) isMessage() {}
func (DeleteModel) isMessage()   {}

func (LoadModel) isCommand()     {}
func (StartModel) isCommand()    {}
func (StopModel) isCommand()     {}
func (StopAllModels) isCommand() {}
func (DeleteModel) isCommand()   {}
