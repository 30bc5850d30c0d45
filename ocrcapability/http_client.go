package ocrcapability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	eveHTTP "ocrforge.dev/http"
)

// HTTPClient invokes an external OCR service over HTTP, built on the
// project's shared retrying request executor. The endpoint is expected to
// accept a JSON body of {content (base64), mime_type, modes,
// field_selectors} and respond with a JSON-encoded Result; anything outside
// the 2xx/4xx split is treated as Transient (worth a retry), anything 4xx as
// Permanent.
type HTTPClient struct {
	Endpoint   string
	RetryCount int
}

// NewHTTPClient builds an HTTPClient against the given endpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{Endpoint: endpoint, RetryCount: 2}
}

type ocrRequestBody struct {
	Content        string            `json:"content"`
	MimeType       string            `json:"mime_type"`
	Modes          []string          `json:"modes"`
	FieldSelectors map[string]string `json:"field_selectors,omitempty"`
}

type ocrResponseBody struct {
	HTML       string  `json:"html"`
	PageCount  int     `json:"page_count"`
	WordCount  int     `json:"word_count"`
	Confidence float64 `json:"confidence"`
}

// OCR posts the document to the configured endpoint and decodes its result.
func (c *HTTPClient) OCR(_ context.Context, content []byte, mimeType string, modes []string, fieldSelectors map[string]string) (Result, error) {
	body, err := json.Marshal(ocrRequestBody{
		Content:        base64.StdEncoding.EncodeToString(content),
		MimeType:       mimeType,
		Modes:          modes,
		FieldSelectors: fieldSelectors,
	})
	if err != nil {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("encode ocr request: %w", err)}
	}

	req := eveHTTP.NewRequest("POST", c.Endpoint)
	req.Headers["Content-Type"] = "application/json"
	req.RawBody = body
	req.RetryCount = c.RetryCount

	resp, err := eveHTTP.Execute(req)
	if err != nil {
		// Execute returns the Response alongside the error for a 4xx; a nil
		// Response means the retries were exhausted against a 5xx or a
		// transport failure, which is always worth retrying at the task level.
		if resp != nil && resp.IsClientError() {
			return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("ocr service rejected document: %s", resp.Status)}
		}
		return Result{}, &Error{Class: Transient, Err: fmt.Errorf("call ocr service: %w", err)}
	}

	var out ocrResponseBody
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("decode ocr response: %w", err)}
	}
	return Result{
		HTML:       out.HTML,
		PageCount:  out.PageCount,
		WordCount:  out.WordCount,
		Confidence: out.Confidence,
	}, nil
}
