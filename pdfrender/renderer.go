// Package pdfrender defines the external PDF-render capability (§6)
// consumed when an edited document is published back to PDF.
package pdfrender

import "context"

// Renderer turns publish-ready HTML into PDF bytes.
type Renderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// pdfMagic is the sentinel prefix of a well-formed PDF. metadata.IsCorrupt
// flags version content that starts with the same prefix, so the mock's
// output is a realistic fixture without pulling in a real PDF library.
var pdfMagic = []byte("%PDF-")

// MockRenderer returns a fixed byte slice, or a sentinel corrupt/empty
// payload when configured to simulate a render failure.
type MockRenderer struct {
	Output      []byte
	Err         error
	LastHTML    string
	SimulateBad bool
}

// NewMockRenderer returns a MockRenderer producing a minimal, valid-looking
// PDF payload.
func NewMockRenderer() *MockRenderer {
	return &MockRenderer{Output: append(append([]byte{}, pdfMagic...), []byte("1.4 mock rendered content")...)}
}

// RenderPDF returns the configured fixture. When SimulateBad is set, it
// returns bytes missing the %PDF- magic prefix, i.e. a malformed render
// result.
func (m *MockRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	m.LastHTML = html
	if m.Err != nil {
		return nil, m.Err
	}
	if m.SimulateBad {
		return []byte("not a pdf"), nil
	}
	return m.Output, nil
}
