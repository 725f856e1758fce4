package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pjcompanyofficial/PJ-ECS/document"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"
)

// VerificationClient is a document verification routine that also reports
// its own health.
type VerificationClient interface {
	watermark.Routine

	// HealthCheck verifies the remote verification service is available
	HealthCheck(ctx context.Context) error
}

type verifyRequest struct {
	Image   string                     `json:"image"`
	Records []document.ReferenceRecord `json:"records"`
}

// RemoteVerificationClient delegates verification to an HTTP service that
// answers with {"status": "approved|fake|blank", "detail": "..."}.
type RemoteVerificationClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteVerificationClient(baseURL string, timeout time.Duration) *RemoteVerificationClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteVerificationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *RemoteVerificationClient) Verify(ctx context.Context, imageData string, records []document.ReferenceRecord) (document.Outcome, error) {
	url := fmt.Sprintf("%s/api/verify", c.baseURL)

	jsonData, err := json.Marshal(verifyRequest{Image: imageData, Records: records})
	if err != nil {
		return document.Outcome{}, fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return document.Outcome{}, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return document.Outcome{}, fmt.Errorf("failed to execute verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return document.Outcome{}, fmt.Errorf("verification failed with status %d: %s", resp.StatusCode, string(body))
	}

	var outcome document.Outcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return document.Outcome{}, fmt.Errorf("failed to decode verify response: %w", err)
	}

	slog.Info("Remote verification completed", "status", outcome.Status.String(), "records", len(records))
	return outcome, nil
}

func (c *RemoteVerificationClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/healthz", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	slog.Info("Verification service health check passed")
	return nil
}

// LocalVerificationClient runs the reference matcher in process.
type LocalVerificationClient struct {
	*document.ReferenceMatcher
}

func (LocalVerificationClient) HealthCheck(context.Context) error {
	return nil
}
