package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// recordingModeMix selects the server-side composite ("mix-mode") recording
// that merges both parties into one artifact.
const recordingModeMix = "mix"

// RecordingAPIClient talks to the recording-control backend over HTTP:
//
//	POST {base}/recording/start {channel, uid, mode} -> {recordingId}
//	POST {base}/recording/stop  {recordingId, channel} -> {recordingUrl}
//
// Both calls carry the bearer credential supplied by the caller. Transient
// and permanent backend errors are surfaced verbatim; classification is the
// RecordingController's concern.
type RecordingAPIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// RecordingAPIClientOptions configures the client. Zero values select defaults.
type RecordingAPIClientOptions struct {
	// HTTPClient overrides the default client (10 second timeout).
	HTTPClient *http.Client
}

// NewRecordingAPIClient creates a client for the recording backend at baseURL,
// authenticating every request with the given bearer token.
func NewRecordingAPIClient(baseURL, token string, logger *zap.Logger, opts RecordingAPIClientOptions) *RecordingAPIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RecordingAPIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

type startRecordingRequest struct {
	Channel string `json:"channel"`
	UID     string `json:"uid"`
	Mode    string `json:"mode"`
}

type startRecordingResponse struct {
	RecordingID string `json:"recordingId"`
}

type stopRecordingRequest struct {
	RecordingID string `json:"recordingId"`
	Channel     string `json:"channel"`
}

type stopRecordingResponse struct {
	RecordingURL string `json:"recordingUrl"`
}

// StartRecording implements RecordingClient.
func (c *RecordingAPIClient) StartRecording(ctx context.Context, channel, uid string) (string, error) {
	var resp startRecordingResponse
	err := c.post(ctx, "/recording/start", startRecordingRequest{
		Channel: channel,
		UID:     uid,
		Mode:    recordingModeMix,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RecordingID == "" {
		return "", fmt.Errorf("recording backend returned empty recording id")
	}
	return resp.RecordingID, nil
}

// StopRecording implements RecordingClient.
func (c *RecordingAPIClient) StopRecording(ctx context.Context, recordingID, channel string) (string, error) {
	var resp stopRecordingResponse
	err := c.post(ctx, "/recording/stop", stopRecordingRequest{
		RecordingID: recordingID,
		Channel:     channel,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.RecordingURL == "" {
		return "", fmt.Errorf("recording backend returned empty recording url")
	}
	return resp.RecordingURL, nil
}

func (c *RecordingAPIClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recording backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("recording backend returned %d: %s", resp.StatusCode, string(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
