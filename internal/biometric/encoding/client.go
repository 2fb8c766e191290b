// Package encoding adapts the external feature-extraction engine to the
// EncodingClient port. The engine runs out of process; this client speaks
// its JSON-over-HTTP API and maps its failure modes onto the port contract.
package encoding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"veribio/internal/biometric/models"
	"veribio/internal/biometric/ports"
)

// HTTPClient calls the encoding engine over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient constructs a client for the engine at baseURL. The timeout
// is a transport-level upper bound; callers additionally bound each call via
// context.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type extractRequest struct {
	Image  string `json:"image"`
	Format string `json:"format"`
}

type extractResponse struct {
	Success      bool                 `json:"success"`
	Encoding     []float64            `json:"encoding,omitempty"`
	QualityScore float64              `json:"quality_score,omitempty"`
	FaceLocation *models.FaceLocation `json:"face_location,omitempty"`
	Error        string               `json:"error,omitempty"`
}

func (c *HTTPClient) Extract(ctx context.Context, image []byte, format string) (*models.ExtractionResult, error) {
	var resp extractResponse
	err := c.post(ctx, "/v1/extract", extractRequest{
		Image:  base64.StdEncoding.EncodeToString(image),
		Format: format,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success || len(resp.Encoding) == 0 {
		return nil, fmt.Errorf("%s: %w", resp.Error, ports.ErrNoBiometricFeature)
	}
	return &models.ExtractionResult{
		Encoding:     resp.Encoding,
		QualityScore: resp.QualityScore,
		FaceLocation: resp.FaceLocation,
	}, nil
}

type compareRequest struct {
	EncodingA []float64 `json:"encoding_a"`
	EncodingB []float64 `json:"encoding_b"`
}

type compareResponse struct {
	Success    bool    `json:"success"`
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
	Error      string  `json:"error,omitempty"`
}

func (c *HTTPClient) Compare(ctx context.Context, probe, reference []float64) (*models.ComparisonResult, error) {
	var resp compareResponse
	err := c.post(ctx, "/v1/compare", compareRequest{
		EncodingA: probe,
		EncodingB: reference,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("encoding engine comparison rejected: %s", resp.Error)
	}
	return &models.ComparisonResult{
		Similarity: resp.Similarity,
		Distance:   resp.Distance,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call encoding engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("encoding engine returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
