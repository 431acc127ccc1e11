// Package verifyapi is an HTTP client for the remote verification service:
// authenticate, prepare upload and upload.
package verifyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ServerError is a well-formed non-success answer from the service.
type ServerError struct {
	Step       string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s rejected: %s", e.Step, e.Message)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Step, e.StatusCode, e.Message)
}

// Client talks to the verification service.
type Client struct {
	baseURL    string
	partnerID  string
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client. A nil httpClient gets a 30 second timeout.
func NewClient(baseURL, partnerID, authToken string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		partnerID:  partnerID,
		authToken:  authToken,
		httpClient: httpClient,
		logger:     logger.Named("verifyapi"),
	}
}

// PartnerID returns the configured partner identifier.
func (c *Client) PartnerID() string { return c.partnerID }

// Authenticate opens a job. Partner credentials are filled in if missing.
func (c *Client) Authenticate(ctx context.Context, req AuthenticationRequest) (*AuthenticationResponse, error) {
	if req.PartnerID == "" {
		req.PartnerID = c.partnerID
	}
	if req.AuthToken == "" {
		req.AuthToken = c.authToken
	}

	var resp AuthenticationResponse
	if err := c.postJSON(ctx, "authenticate", c.baseURL+"/auth_smile", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &ServerError{Step: "authenticate", Message: "authentication not successful"}
	}
	c.logger.Debug("authenticated", zap.String("job_id", resp.PartnerParams.JobID))
	return &resp, nil
}

// PrepUpload requests an upload target for the package.
func (c *Client) PrepUpload(ctx context.Context, req PrepUploadRequest) (*PrepUploadResponse, error) {
	if req.PartnerID == "" {
		req.PartnerID = c.partnerID
	}

	var resp PrepUploadResponse
	if err := c.postJSON(ctx, "prep_upload", c.baseURL+"/upload", req, &resp); err != nil {
		return nil, err
	}
	if resp.UploadURL == "" {
		return nil, &ServerError{Step: "prep_upload", Message: "missing upload_url"}
	}
	return &resp, nil
}

// Upload sends the zip package to the target returned by PrepUpload.
func (c *Client) Upload(ctx context.Context, zip []byte, uploadURL string) (*UploadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(zip))
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/zip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return &UploadResponse{Kind: UploadAccepted, StatusCode: resp.StatusCode}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info("package uploaded", zap.Int("bytes", len(zip)))
		return &UploadResponse{Kind: UploadCompleted, StatusCode: resp.StatusCode}, nil
	default:
		return nil, &ServerError{Step: "upload", StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
}

func (c *Client) postJSON(ctx context.Context, step, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", step, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServerError{Step: step, StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", step, err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a response body, falling back
// to the raw text.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 1<<16))
	if err != nil {
		return err.Error()
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

// IsServerError reports whether err carries a ServerError.
func IsServerError(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr)
}
