package protocol

import (
	"encoding/json"
	"fmt"
)

// Status is the kind of a ReadEvent.
type Status string

const (
	StatusRead    Status = "read"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// Wire keys of a ReadEvent. Mobile clients depend on
// these exact names.
const (
	KeyID        = "nfcId"
	KeyContent   = "nfcContent"
	KeyStatus    = "nfcStatus"
	KeyError     = "nfcError"
	KeyErrorCode = "nfcErrorCode"
)

// ReadEvent is the record delivered to a consumer for every read, error or
// stop. It always serializes as a flat string-keyed map.
type ReadEvent struct {
	ID        string
	Content   string
	Status    Status
	Error     string
	ErrorCode int
}

// ReadEventFromPayload builds the event for a successfully decoded tag.
func ReadEventFromPayload(content string) ReadEvent {
	return ReadEvent{Content: content, Status: StatusRead}
}

// ErrorEvent builds the event for a session invalidation error.
func ErrorEvent(code int, message string) ReadEvent {
	return ReadEvent{Status: StatusError, Error: message, ErrorCode: code}
}

// StoppedEvent is delivered to a pending responder when reading is stopped.
func StoppedEvent() ReadEvent {
	return ReadEvent{Status: StatusStopped}
}

// ToMap returns the wire form of the event. The error code key is present on
// read and error events and omitted on stopped events.
func (e ReadEvent) ToMap() map[string]any {
	m := map[string]any{
		KeyID:      e.ID,
		KeyContent: e.Content,
		KeyStatus:  string(e.Status),
		KeyError:   e.Error,
	}
	if e.Status != StatusStopped {
		m[KeyErrorCode] = e.ErrorCode
	}
	return m
}

// MarshalJSON encodes the event as its wire map.
func (e ReadEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalJSON decodes the wire map form.
func (e *ReadEvent) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	ev, err := ReadEventFromMap(m)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// ReadEventFromMap parses the wire map form. Numeric codes may arrive as any
// integer or float type, as produced by JSON decoders.
func ReadEventFromMap(m map[string]any) (ReadEvent, error) {
	var e ReadEvent
	status, ok := m[KeyStatus].(string)
	if !ok {
		return e, fmt.Errorf("missing %s", KeyStatus)
	}
	e.Status = Status(status)
	e.ID, _ = m[KeyID].(string)
	e.Content, _ = m[KeyContent].(string)
	e.Error, _ = m[KeyError].(string)

	switch code := m[KeyErrorCode].(type) {
	case nil:
	case int:
		e.ErrorCode = code
	case int64:
		e.ErrorCode = int(code)
	case float64:
		e.ErrorCode = int(code)
	default:
		return e, fmt.Errorf("invalid %s: %v", KeyErrorCode, code)
	}
	return e, nil
}

// Terminal reports whether the event ends a read.
func (e ReadEvent) Terminal() bool {
	return e.Status == StatusError || e.Status == StatusStopped
}

func (e ReadEvent) String() string {
	switch e.Status {
	case StatusRead:
		return fmt.Sprintf("read %q", e.Content)
	case StatusError:
		return fmt.Sprintf("error %d: %s", e.ErrorCode, e.Error)
	default:
		return string(e.Status)
	}
}
