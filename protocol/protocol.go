// Package protocol defines the messages exchanged between the NFC reader
// bridge and its clients. It has no server dependencies so client tools can
// import it on its own.
package protocol

// TagInputRequest is the request structure for the POST /api/v1/tag endpoint.
// It presents a tag to the remote reader as if it had been tapped.
type TagInputRequest struct {
	// UID is the tag's unique identifier in hex. Optional.
	UID string `json:"uid,omitempty"`

	// Records are encoded into an NDEF message. Ignored when NDEF is set.
	Records []RecordInput `json:"records,omitempty"`

	// NDEF is a raw NDEF message (base64 in JSON).
	NDEF []byte `json:"ndef,omitempty"`
}

// RecordInput describes one NDEF record of a TagInputRequest.
// Content is stored verbatim as the record payload.
type RecordInput struct {
	MimeType string `json:"mimeType,omitempty"` // default "text/plain"
	Content  string `json:"content,omitempty"`
	Payload  []byte `json:"payload,omitempty"` // raw payload, wins over Content
}

// TagInputResponse is the response structure for the POST /api/v1/tag endpoint.
type TagInputResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	UID       string `json:"uid,omitempty"`
}

// Error codes for HTTP responses
const (
	ErrCodeInvalidUID      = "INVALID_UID"
	ErrCodeInvalidNDEF     = "INVALID_NDEF"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeReaderNotRemote = "READER_NOT_REMOTE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// ReadResponse is the body returned by POST /api/v1/read.
// Event is the wire map of the ReadEvent that ended the request.
type ReadResponse struct {
	Event ReadEvent `json:"event"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version,omitempty"`
	Reader    string `json:"reader,omitempty"`
	Session   string `json:"session,omitempty"`
}
