package wire

import "encoding/json"

// Request is the JSON body of a command sent to a paired peer.
type Request struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// NewRequest builds a Request, marshalling args into the wire's raw JSON
// args field.
func NewRequest(cmd string, args any) (Request, error) {
	if args == nil {
		return Request{Cmd: cmd}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, err
	}
	return Request{Cmd: cmd, Args: raw}, nil
}

// Response is the JSON body of a reply to a Request.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ResponseOK builds a successful Response, marshalling data into the
// response's raw JSON data field.
func ResponseOK(data any) Response {
	if data == nil {
		return Response{OK: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Data: raw}
}

// ResponseErr builds a failed Response carrying the given error message.
func ResponseErr(msg string) Response {
	return Response{OK: false, Error: msg}
}

// SplitTrailingPreimage implements the §4.8 convention: a command response
// byte string is either valid JSON on its own, or valid JSON followed by a
// 32-byte preimage the sender should use to renew its commit with the
// recipient. Disambiguation is by attempting to decode the whole payload as
// JSON first; only on failure is the last 32 bytes peeled off. The
// remainder is returned as body without being checked; decoding it is left
// to the caller.
func SplitTrailingPreimage(payload []byte) (body []byte, preimage [32]byte, hasPreimage bool) {
	if len(payload) <= 32 {
		return payload, preimage, false
	}
	if json.Valid(payload) {
		return payload, preimage, false
	}
	split := len(payload) - 32
	copy(preimage[:], payload[split:])
	return payload[:split], preimage, true
}
