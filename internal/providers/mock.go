package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const MockServiceName = "mock"

// RegisteredFile records one RegisterFile call on the mock.
type RegisteredFile struct {
	Handle  string
	Name    string
	Size    int
	Purpose FilePurpose
}

// MockService is a programmable Service for tests.
type MockService struct {
	// Split behavior. Each split job reports processing for PendingPolls
	// polls, then SplitStatus with SplitSegments.
	SplitSegments []SplitSegment
	SplitStatus   string
	SplitError    *string
	PendingPolls  int

	// Classification behavior. ClassifyFunc overrides the default, which
	// picks the first rule with confidence DefaultConfidence.
	ClassifyFunc      func(req *ClassifyRequest) (*ClassifyResult, error)
	DefaultConfidence float64
	ReadsDocument     bool

	// Failure injection.
	RegisterErr    error
	CreateSplitErr error

	mu         sync.Mutex
	registered []RegisteredFile
	polls      map[string]int

	registerCount atomic.Int64
	splitCount    atomic.Int64
	classifyCount atomic.Int64
}

// NewMockService creates a mock whose split jobs complete immediately.
func NewMockService() *MockService {
	return &MockService{
		SplitStatus:       SplitStatusCompleted,
		DefaultConfidence: 0.9,
		polls:             make(map[string]int),
	}
}

// Name returns the client identifier.
func (m *MockService) Name() string {
	return MockServiceName
}

// Input reports what the mock classifier reads.
func (m *MockService) Input() ClassifyInput {
	if m.ReadsDocument {
		return InputDocument
	}
	return InputRegisteredFile
}

// RegisterFile records the call and returns a sequential handle.
func (m *MockService) RegisterFile(ctx context.Context, name string, data []byte, purpose FilePurpose) (string, error) {
	n := m.registerCount.Add(1)
	if m.RegisterErr != nil {
		return "", m.RegisterErr
	}
	handle := fmt.Sprintf("file-%d", n)
	m.mu.Lock()
	m.registered = append(m.registered, RegisteredFile{Handle: handle, Name: name, Size: len(data), Purpose: purpose})
	m.mu.Unlock()
	return handle, nil
}

// CreateSplitJob returns a sequential split job id.
func (m *MockService) CreateSplitJob(ctx context.Context, fileHandle string, categories []SplitCategory) (string, error) {
	n := m.splitCount.Add(1)
	if m.CreateSplitErr != nil {
		return "", m.CreateSplitErr
	}
	if fileHandle == "" {
		return "", fmt.Errorf("mock: empty file handle")
	}
	return fmt.Sprintf("split-%d", n), nil
}

// GetSplitJob reports processing until PendingPolls is used up.
func (m *MockService) GetSplitJob(ctx context.Context, jobID string) (*SplitJob, error) {
	m.mu.Lock()
	if m.polls == nil {
		m.polls = make(map[string]int)
	}
	m.polls[jobID]++
	seen := m.polls[jobID]
	m.mu.Unlock()

	if seen <= m.PendingPolls {
		return &SplitJob{ID: jobID, Status: SplitStatusProcessing}, nil
	}
	status := m.SplitStatus
	if status == "" {
		status = SplitStatusCompleted
	}
	job := &SplitJob{ID: jobID, Status: status, ErrorMessage: m.SplitError}
	if status == SplitStatusCompleted {
		job.Segments = append([]SplitSegment(nil), m.SplitSegments...)
	}
	return job, nil
}

// Classify runs ClassifyFunc or the default first-rule answer.
func (m *MockService) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error) {
	m.classifyCount.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(req)
	}
	if len(req.Rules) == 0 {
		return nil, nil
	}
	t := req.Rules[0].Type
	return &ClassifyResult{Type: &t, Confidence: m.DefaultConfidence, Reasoning: "mock"}, nil
}

// Registered returns the files registered so far.
func (m *MockService) Registered() []RegisteredFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RegisteredFile(nil), m.registered...)
}

// RegisterCount returns how many RegisterFile calls were made.
func (m *MockService) RegisterCount() int { return int(m.registerCount.Load()) }

// SplitCount returns how many CreateSplitJob calls were made.
func (m *MockService) SplitCount() int { return int(m.splitCount.Load()) }

// ClassifyCount returns how many Classify calls were made.
func (m *MockService) ClassifyCount() int { return int(m.classifyCount.Load()) }

var _ Service = (*MockService)(nil)
