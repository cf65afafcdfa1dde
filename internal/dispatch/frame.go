package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame is a decoded tagged frame.
type Frame struct {
	Type    string
	Payload json.RawMessage
}

// DecodeFrame decodes a frame of the form {"<Type>": <payload>}. Anything other
// than a JSON object with exactly one key is ErrMalformedFrame.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Frame{}, fmt.Errorf("%w: not an object", ErrMalformedFrame)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(obj) != 1 {
		return Frame{}, fmt.Errorf("%w: %d top-level keys", ErrMalformedFrame, len(obj))
	}

	var f Frame
	for k, v := range obj {
		f = Frame{Type: k, Payload: v}
	}
	return f, nil
}
