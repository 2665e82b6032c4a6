package nfc

import (
	"fmt"
	"sync"
)

// MockCapability is a test implementation of Capability. It records every
// session it begins and lets tests push outcomes into them.
//
// Example:
//
//	capability := NewMockCapability()
//	_, _ = capability.Begin(SessionConfig{}, deliver)
//	capability.Last().Read([]byte("Hello"))
type MockCapability struct {
	// BeginError, if set, is returned by Begin and no session is created.
	BeginError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	sessions []*MockSession
	mu       sync.Mutex
}

// NewMockCapability creates a MockCapability with no sessions.
func NewMockCapability() *MockCapability {
	return &MockCapability{CallLog: make([]string, 0)}
}

// Begin records a new session.
func (m *MockCapability) Begin(cfg SessionConfig, deliver Delegate) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("Begin(%q, %t)", cfg.Instruction, cfg.AutoStopOnFirstRead))
	if m.BeginError != nil {
		return nil, m.BeginError
	}

	s := &MockSession{Config: cfg, deliver: deliver, capability: m}
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *MockCapability) String() string {
	return "mock"
}

// Sessions returns every session begun so far, oldest first.
func (m *MockCapability) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

// Last returns the most recent session, or nil.
func (m *MockCapability) Last() *MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

// Calls returns a copy of the call log.
func (m *MockCapability) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

func (m *MockCapability) log(call string) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, call)
	m.mu.Unlock()
}

// MockSession is a session created by MockCapability. Outcomes are delivered
// synchronously on the calling goroutine.
type MockSession struct {
	Config SessionConfig

	deliver     Delegate
	capability  *MockCapability
	invalidated bool
	mu          sync.Mutex
}

// Invalidate marks the session as invalidated.
func (s *MockSession) Invalidate() {
	s.mu.Lock()
	s.invalidated = true
	s.mu.Unlock()
	s.capability.log(fmt.Sprintf("Invalidate(%q)", s.Config.Instruction))
}

// Invalidated reports whether Invalidate has been called.
func (s *MockSession) Invalidated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

// Deliver pushes an outcome to the session delegate, as the hardware would.
// Outcomes are delivered even after Invalidate to mimic late callbacks.
func (s *MockSession) Deliver(o Outcome) {
	s.deliver(o)
}

// Read simulates a tag read with the given first-record payload.
func (s *MockSession) Read(payload []byte) {
	s.Deliver(TagRead{Payload: payload})
}

// Fail simulates a session invalidation error.
func (s *MockSession) Fail(code ErrorCode, message string, expected bool) {
	s.Deliver(SessionError{Code: code, Message: message, Expected: expected})
}
