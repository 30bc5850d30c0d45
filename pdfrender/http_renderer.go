package pdfrender

import (
	"context"
	"fmt"

	eveHTTP "ocrforge.dev/http"
)

// HTTPRenderer invokes an external PDF-rendering service over HTTP, reusing
// the project's shared retrying request executor. The endpoint is expected
// to accept the publish-ready HTML as a raw text/html body and respond with
// the rendered PDF bytes.
type HTTPRenderer struct {
	Endpoint   string
	RetryCount int
}

// NewHTTPRenderer builds an HTTPRenderer against the given endpoint.
func NewHTTPRenderer(endpoint string) *HTTPRenderer {
	return &HTTPRenderer{Endpoint: endpoint, RetryCount: 2}
}

// RenderPDF posts html to the configured endpoint and returns its PDF body.
func (r *HTTPRenderer) RenderPDF(_ context.Context, html string) ([]byte, error) {
	req := eveHTTP.NewRequest("POST", r.Endpoint)
	req.Headers["Content-Type"] = "text/html; charset=utf-8"
	req.RawBody = []byte(html)
	req.RetryCount = r.RetryCount

	resp, err := eveHTTP.Execute(req)
	if err != nil {
		return nil, fmt.Errorf("call render service: %w", err)
	}
	return resp.Body, nil
}
