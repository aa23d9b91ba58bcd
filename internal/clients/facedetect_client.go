/**
 * Face Detection Client
 *
 * Talks to the external face-detection service (a pretrained cascade
 * classifier behind an HTTP API). The worker only consumes the rectangular
 * regions it returns; detection quality and model choice belong to the
 * service. Face detection is strictly optional: a failed or absent service
 * never fails a scan.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veridoc/idscan-worker/internal/logging"
)

// FaceDetectClient handles communication with the face-detection service
type FaceDetectClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// FaceDetectRequest represents a request to detect faces in an image
type FaceDetectRequest struct {
	Image  string `json:"image"`  // Base64 encoded image
	Format string `json:"format"` // Always "base64" from this worker
}

// FaceDetectResponse represents the response from the detection endpoint
type FaceDetectResponse struct {
	Success bool           `json:"success"`
	Data    FaceDetectData `json:"data"`
	Message string         `json:"message"`
}

// FaceDetectData contains the detected regions
type FaceDetectData struct {
	Faces          []FaceRegion `json:"faces"`
	ProcessingTime int64        `json:"processingTime"` // milliseconds
}

// FaceRegion is one detected face rectangle in image pixel coordinates
type FaceRegion struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// NewFaceDetectClient creates a new face-detection client
func NewFaceDetectClient(baseURL string) *FaceDetectClient {
	return &FaceDetectClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logging.NewLogger("FaceDetectClient"),
	}
}

// DetectFaces sends image bytes to the detection service and returns the
// detected face rectangles. Zero regions is a normal result.
func (c *FaceDetectClient) DetectFaces(ctx context.Context, imageData []byte) ([]FaceRegion, error) {
	req := &FaceDetectRequest{
		Image:  base64.StdEncoding.EncodeToString(imageData),
		Format: "base64",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal detect request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create detect request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending detect request", "bytes", len(imageData))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("face detection request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read detect response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("face detection returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var detectResp FaceDetectResponse
	if err := json.Unmarshal(respBody, &detectResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal detect response: %w", err)
	}

	if !detectResp.Success {
		return nil, fmt.Errorf("face detection failed: %s", detectResp.Message)
	}

	c.logger.Info("Face detection complete",
		"faces", len(detectResp.Data.Faces),
		"processingTimeMs", detectResp.Data.ProcessingTime)

	return detectResp.Data.Faces, nil
}

// HealthCheck verifies the face-detection service is reachable
func (c *FaceDetectClient) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("face detection service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face detection service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
