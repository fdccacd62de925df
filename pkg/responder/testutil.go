package responder

import (
	"context"
	"sync"
)

// MockResponder is a scriptable Responder implementation for testing.
type MockResponder struct {
	mu        sync.Mutex
	def       Def
	replies   []*Reply
	errors    []error
	calls     []Request
	callIndex int
	initErr   error

	// GenerateFunc, when set, overrides the scripted replies entirely.
	// Useful for blocking or context-sensitive behavior.
	GenerateFunc func(ctx context.Context, req Request) (*Reply, error)
}

// NewMockResponder creates a mock with no scripted replies. Generate then
// answers every call with a canned reply.
func NewMockResponder() *MockResponder {
	return &MockResponder{
		replies: make([]*Reply, 0),
		errors:  make([]error, 0),
		calls:   make([]Request, 0),
	}
}

// SetInitError makes Initialize fail with err.
func (m *MockResponder) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// AddReply queues one scripted Generate outcome.
func (m *MockResponder) AddReply(reply *Reply, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, reply)
	m.errors = append(m.errors, err)
}

func (m *MockResponder) Initialize(ctx context.Context, def Def) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.def = def
	return m.initErr
}

func (m *MockResponder) Generate(ctx context.Context, req Request) (*Reply, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.GenerateFunc
	var reply *Reply
	var err error
	scripted := false
	if m.callIndex < len(m.replies) {
		reply = m.replies[m.callIndex]
		err = m.errors[m.callIndex]
		m.callIndex++
		scripted = true
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if scripted {
		return reply, err
	}
	return &Reply{Content: "ok", Model: "mock", FinishReason: "stop"}, nil
}

// Def returns the definition passed to Initialize.
func (m *MockResponder) Def() Def {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.def
}

// GetCalls returns all recorded Generate requests.
func (m *MockResponder) GetCalls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]Request, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many times Generate was called.
func (m *MockResponder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset resets the mock state.
func (m *MockResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = make([]*Reply, 0)
	m.errors = make([]error, 0)
	m.calls = make([]Request, 0)
	m.callIndex = 0
	m.initErr = nil
	m.GenerateFunc = nil
}
