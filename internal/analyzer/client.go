// Package analyzer talks to the external food-analysis service, which answers a
// single image upload with a stream of "data: <json>" progress lines.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"

	"github.com/kiranshivaraju/platewise/internal/config"
)

// Sentinel errors for analyzer failures. All of them happen before the
// stream begins.
var (
	ErrAnalyzerUnreachable = errors.New("analyzer unreachable")
	ErrAnalyzerStatus      = errors.New("analyzer returned non-success status")
	ErrAnalyzerTimeout     = errors.New("analyzer timeout")
	ErrNoBody              = errors.New("analyzer returned no body")
)

// Image is the file sent for analysis.
type Image struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Client starts one analysis per call.
type Client interface {
	// AnalyzeStream uploads img and returns the still-open event stream.
	// The caller must close it.
	AnalyzeStream(ctx context.Context, img Image) (io.ReadCloser, error)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a client for cfg. No overall timeout is set on the
// http.Client because the response body is a long-lived stream; callers bound
// the whole exchange with their context.
func NewHTTPClient(cfg config.AnalyzerConfig) *HTTPClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HeaderTimeout

	return &HTTPClient{
		endpoint: cfg.BaseURL + cfg.StreamPath,
		client:   &http.Client{Transport: transport},
	}
}

func (c *HTTPClient) AnalyzeStream(ctx context.Context, img Image) (io.ReadCloser, error) {
	body, contentType, err := multipartBody(img)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrAnalyzerStatus, resp.StatusCode)
	}

	if resp.Body == nil || resp.Body == http.NoBody || resp.ContentLength == 0 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}

	return resp.Body, nil
}

// multipartBody encodes img as the single "file" field of a form upload.
func multipartBody(img Image) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	ct := img.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, img.Name))
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, img.Body); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrAnalyzerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrAnalyzerTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrAnalyzerUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
