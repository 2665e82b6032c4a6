package nfc

// SessionConfig configures one reader session.
type SessionConfig struct {
	// Instruction is the prompt shown to the user while the session is live.
	// Empty means no prompt.
	Instruction string

	// AutoStopOnFirstRead makes the capability end the session by itself
	// after the first successful read. The session then terminates with an
	// expected ErrCodeFirstTagRead error.
	AutoStopOnFirstRead bool
}

// Outcome is the result a capability reports for a session.
// It is either a TagRead or a SessionError.
type Outcome interface {
	isOutcome()
}

// TagRead reports the payload of the first record of the first NDEF message
// found on a tag.
type TagRead struct {
	UID     string
	Payload []byte
}

// SessionError reports that the session became invalid. Expected is set when
// the session ended because AutoStopOnFirstRead was honoured; that is a normal
// termination, not a failure.
type SessionError struct {
	Code     ErrorCode
	Message  string
	Expected bool
}

func (TagRead) isOutcome()      {}
func (SessionError) isOutcome() {}

// Error implements the error interface so a SessionError can travel through
// ordinary error returns as well.
func (e SessionError) Error() string {
	return e.Message
}

// Delegate receives session outcomes. Capabilities invoke it from their own
// goroutine, never from inside Begin or Invalidate.
type Delegate func(Outcome)

// Session is a live hardware engagement created by Capability.Begin.
type Session interface {
	// Invalidate ends the session. The capability may still report an
	// ErrCodeUserCanceled outcome afterwards.
	Invalidate()
}

// Capability is the reader hardware as seen by the session controller.
//
// Begin starts a session and returns immediately; tag reads and the
// terminal error are reported asynchronously through deliver.
//
// Example:
//
//	capability := libnfc.New(libnfc.Options{})
//	sess, err := capability.Begin(nfc.SessionConfig{Instruction: "Hold near tag"}, func(o nfc.Outcome) {
//	    switch o := o.(type) {
//	    case nfc.TagRead:
//	        fmt.Printf("read %d bytes\n", len(o.Payload))
//	    case nfc.SessionError:
//	        fmt.Println("session ended:", o.Message)
//	    }
//	})
type Capability interface {
	Begin(cfg SessionConfig, deliver Delegate) (Session, error)
	String() string
}
