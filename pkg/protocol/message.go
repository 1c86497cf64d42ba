package protocol

import (
	"bytes"
	"encoding/json"
	"time"
)

// Reserved event methods.
const (
	MethodCreate  = "__create__"
	MethodDispose = "__dispose__"
	MethodAdopt   = "__adopt__"
)

// Metadata accompanies every outbound request.
type Metadata struct {
	WallTime int64     `json:"wallTime"`
	Internal bool      `json:"internal,omitempty"`
	Location *Location `json:"location,omitempty"`
	Title    string    `json:"title,omitempty"`
}

// Location is the caller source position reported to the driver.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// Request is an outbound call.
type Request struct {
	ID       uint64          `json:"id"`
	GUID     string          `json:"guid"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params"`
	Metadata Metadata        `json:"metadata"`
}

// Response completes one Request.
type Response struct {
	ID     uint64
	Result json.RawMessage
	Error  *RemoteError
}

// Event is a notification addressed to a live object (or its parent, for
// creation).
type Event struct {
	GUID   string
	Method string
	Params json.RawMessage
}

type errorEnvelope struct {
	Error RemoteError `json:"error"`
}

type inboundFrame struct {
	ID     *uint64         `json:"id,omitempty"`
	GUID   string          `json:"guid"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *errorEnvelope  `json:"error"`
}

type createParams struct {
	Type        string          `json:"type"`
	GUID        string          `json:"guid"`
	Initializer json.RawMessage `json:"initializer"`
}

type disposeParams struct {
	Reason string `json:"reason,omitempty"`
}

type adoptParams struct {
	GUID string `json:"guid"`
}

// GUIDRef is the `{guid}` shape used whenever the driver references an object.
type GUIDRef struct {
	GUID string `json:"guid"`
}

var emptyObject = json.RawMessage("{}")

// decodeFrame classifies an inbound frame. Exactly one of the returns is non-nil
// on success: frames with an id are responses, the rest are events.
func decodeFrame(data []byte) (*Response, *Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, nil, newProtocolError("decode", "", "malformed frame", err)
	}
	if frame.ID != nil {
		resp := &Response{ID: *frame.ID, Result: frame.Result}
		if frame.Error != nil {
			remote := frame.Error.Error
			resp.Error = &remote
		}
		return resp, nil, nil
	}
	if frame.Method == "" {
		return nil, nil, newProtocolError("decode", frame.GUID, "frame has neither id nor method", nil)
	}
	return nil, &Event{GUID: frame.GUID, Method: frame.Method, Params: frame.Params}, nil
}

func encodeRequest(id uint64, guid, method string, params any, meta Metadata) ([]byte, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	if meta.WallTime == 0 {
		meta.WallTime = time.Now().UnixMilli()
	}
	return json.Marshal(Request{ID: id, GUID: guid, Method: method, Params: raw, Metadata: meta})
}

func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return emptyObject, nil
	case json.RawMessage:
		if len(bytes.TrimSpace(p)) == 0 {
			return emptyObject, nil
		}
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, newProtocolError("encode", "", "marshal params", err)
	}
	if bytes.Equal(raw, []byte("null")) {
		return emptyObject, nil
	}
	return raw, nil
}
