package wire

const (
	// FrameType is the discriminant every valid Frame carries.
	FrameType = "messagepacket"

	// DefaultChannel is the channel name this application listens on.
	// Frames on any other channel are foreign traffic and ignored.
	DefaultChannel = "teachablemachine"

	// PrimarySource is the origin slot of the designated peer. Frames
	// from any other slot are sibling chatter and dropped silently.
	PrimarySource = 0
)

// Frame is one unit of cross-context transport. The payload in Data is
// opaque at this layer; it is decoded as a Message only after the channel
// and source filters pass.
type Frame struct {
	Type          string `json:"type"`
	Channel       string `json:"channel"`
	Data          []byte `json:"data"`
	SrcFrameIndex int    `json:"srcFrameIndex"`
}

// NewFrame wraps an encoded message payload for the given channel,
// stamped with the primary source slot.
func NewFrame(channel string, data []byte) Frame {
	return Frame{
		Type:          FrameType,
		Channel:       channel,
		Data:          data,
		SrcFrameIndex: PrimarySource,
	}
}

// EncodeFrame serializes a Frame for the transport.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, &DecodeError{Reason: "encode frame", Err: err}
	}
	return data, nil
}

// DecodeFrame parses a raw transport payload into a Frame. The inner
// Data payload is left untouched.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, &DecodeError{Reason: "decode frame", Err: err}
	}
	return f, nil
}
