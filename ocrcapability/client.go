// Package ocrcapability defines the external OCR capability boundary
// consumed by the worker pool (C7). The OCR algorithm itself is out of
// scope; this package only declares its interface and a deterministic test
// double.
package ocrcapability

import "context"

// Result is what the OCR capability returns on success.
type Result struct {
	HTML       string
	PageCount  int
	WordCount  int
	Confidence float64
	PageImages [][]byte // optional; nil if the backend doesn't produce them
}

// FailureClass distinguishes a retryable OCR failure from a terminal one,
// per spec §6: "May fail with Transient (retry) or Permanent (fail task)".
type FailureClass int

const (
	// Permanent indicates the task should be failed outright.
	Permanent FailureClass = iota
	// Transient indicates the caller should retry per the task's retry policy.
	Transient
)

// Error wraps an OCR failure with its FailureClass.
type Error struct {
	Class FailureClass
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Client invokes the OCR capability for a single document.
type Client interface {
	OCR(ctx context.Context, content []byte, mimeType string, modes []string, fieldSelectors map[string]string) (Result, error)
}

// MockOCRClient returns a canned Result or Error for every call, recording
// the last request it received.
type MockOCRClient struct {
	Result      Result
	Err         error
	LastContent []byte
	LastMime    string
	LastModes   []string
	Calls       int
}

// NewMockOCRClient builds a MockOCRClient that returns a small, realistic
// fixture by default.
func NewMockOCRClient() *MockOCRClient {
	return &MockOCRClient{
		Result: Result{
			HTML:       "<html><body><p>mock ocr output</p></body></html>",
			PageCount:  1,
			WordCount:  3,
			Confidence: 0.98,
		},
	}
}

// OCR returns the configured fixture or error.
func (m *MockOCRClient) OCR(_ context.Context, content []byte, mimeType string, modes []string, _ map[string]string) (Result, error) {
	m.Calls++
	m.LastContent = content
	m.LastMime = mimeType
	m.LastModes = modes
	if m.Err != nil {
		return Result{}, m.Err
	}
	return m.Result, nil
}
