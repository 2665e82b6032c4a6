package protocol

import "fmt"

// WebSocket message type constants
const (
	// Requests
	WSTypeRead   = "read"   // one-shot read, answered by readResponse
	WSTypeStop   = "stop"   // stop the current session
	WSTypeListen = "listen" // open the event subscription
	WSTypeCancel = "cancel" // close the event subscription

	// Responses and pushes
	WSTypeReadResponse = "readResponse"
	WSTypeStopResponse = "stopResponse"
	WSTypeListening    = "listening"
	WSTypeCancelled    = "cancelled"
	WSTypeEvent        = "nfcEvent"
	WSTypePlatform     = "platform"
	WSTypeError        = "error"
)

// Error codes carried in error payloads.
const (
	WSErrParse          = "PARSE_ERROR"
	WSErrInvalidPayload = "INVALID_PAYLOAD"
	WSErrInternal       = "INTERNAL_ERROR"
)

// WebSocketMessage is the generic message envelope for WebSocket communication.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is for incoming requests from WebSocket clients.
// Payload is kept loose: a listen request carries an argument list, every
// other request an object.
type WebSocketRequest struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WebSocketResponse is for responses to WebSocket requests.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ReadRequestPayload is the payload of a read request.
type ReadRequestPayload struct {
	Instruction string `json:"instruction,omitempty"`
}

// ListenArguments is the payload of a listen request: an optional argument
// list whose first element may hold an instruction.
type ListenArguments []map[string]any

// Instruction extracts the instruction from a read request payload.
// Payloads without one yield an empty string.
func Instruction(payload any) (string, error) {
	switch p := payload.(type) {
	case nil:
		return "", nil
	case map[string]any:
		return instructionField(p)
	default:
		return "", fmt.Errorf("payload must be an object, got %T", payload)
	}
}

// ListenInstruction extracts the instruction from a listen request payload.
// It accepts the argument list form [{instruction}] and, for convenience,
// a bare object. ok is false when no instruction was supplied.
func ListenInstruction(payload any) (instruction string, ok bool, err error) {
	var args map[string]any
	switch p := payload.(type) {
	case nil:
		return "", false, nil
	case []any:
		if len(p) == 0 {
			return "", false, nil
		}
		m, isMap := p[0].(map[string]any)
		if !isMap {
			return "", false, fmt.Errorf("listen argument must be an object, got %T", p[0])
		}
		args = m
	case map[string]any:
		args = p
	default:
		return "", false, fmt.Errorf("listen payload must be a list, got %T", payload)
	}

	if v, present := args["instruction"]; !present || v == nil {
		return "", false, nil
	}
	instruction, err = instructionField(args)
	return instruction, err == nil, err
}

func instructionField(m map[string]any) (string, error) {
	v, ok := m["instruction"]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("instruction must be a string, got %T", v)
	}
	return s, nil
}
