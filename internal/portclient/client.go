// Package portclient implements the agent's typed operations against the
// Port control-plane API: token fetch, claim/ack of pending runs, run
// status/response patches, run log appends, Kafka credential fetch, and
// the best-effort org streamer-setting patch.
package portclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	userAgent        = "port-agent"
	headerClaimUsage = "x-port-reserved-usage"
)

// Client is a thin, hand-rolled HTTP wrapper around the Port API, in the
// style of the teacher's SchemaRegistryClient: no REST SDK, just
// *http.Client plus fmt.Sprintf URL building and json.Decoder.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *log.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New constructs a Client. timeout bounds every outgoing request.
func New(baseURL, clientID, clientSecret string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(log.Writer(), "[portclient] ", log.LstdFlags)
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// ClientSecret exposes the client secret for use as the HMAC signing key,
// per the documented contract that the two are the same value.
func (c *Client) ClientSecret() string {
	return c.clientSecret
}

// accessTokenValue performs the two-step auth flow, caching the token for
// its documented lifetime. Failing to mint a token is a retriable error.
func (c *Client) accessTokenValue(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	body, err := json.Marshal(tokenRequest{ClientID: c.clientID, ClientSecret: c.clientSecret})
	if err != nil {
		return "", fmt.Errorf("portclient: encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/auth/access_token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("portclient: fetch access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("portclient: access token error (%d): %s", resp.StatusCode, data)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("portclient: decode access token response: %w", err)
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(50 * time.Minute)
	return c.accessToken, nil
}

// do performs an authenticated JSON request and decodes the response body
// into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, body, out any, extraHeaders map[string]string) error {
	token, err := c.accessTokenValue(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("portclient: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("portclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("portclient: %s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("portclient: decode response for %s %s: %w", method, path, err)
	}
	return nil
}

// ClaimPendingRuns claims up to limit pending runs for this installation.
func (c *Client) ClaimPendingRuns(ctx context.Context, installationID string, limit int) ([]Run, error) {
	var resp claimRunsResponse
	req := claimRunsRequest{InstallationID: installationID, Limit: limit, InvocationMethod: "WEBHOOK"}
	headers := map[string]string{headerClaimUsage: "true"}
	if err := c.do(ctx, http.MethodPost, "/v1/actions/runs/claim-pending", req, &resp, headers); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// AckRuns acknowledges intent to process the given run ids, returning how
// many of them this agent actually won the race for.
func (c *Client) AckRuns(ctx context.Context, runIDs []string) (int, error) {
	var resp ackRunsResponse
	if err := c.do(ctx, http.MethodPatch, "/v1/actions/runs/ack", ackRunsRequest{RunIDs: runIDs}, &resp, nil); err != nil {
		return 0, err
	}
	return resp.AckedCount, nil
}

// ReportRunStatus patches the run's status/link/summary/externalRunId.
func (c *Client) ReportRunStatus(ctx context.Context, runID string, patch StatusPatch) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/actions/runs/%s", runID), patch, nil, nil)
}

// ReportRunResponse patches the run's captured response body.
func (c *Client) ReportRunResponse(ctx context.Context, runID string, response any) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/actions/runs/%s/response", runID), response, nil, nil)
}

// AppendRunLog appends one log line to the run. It is best-effort: a
// failure is logged here and never returned to the caller.
func (c *Client) AppendRunLog(ctx context.Context, runID, message string) {
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/actions/runs/%s/logs", runID), appendLogRequest{Message: message}, nil, nil)
	if err != nil {
		c.logger.Printf("append run log for %s failed: %v", runID, err)
	}
}

// GetKafkaCredentials fetches the control-plane-issued Kafka credentials.
func (c *Client) GetKafkaCredentials(ctx context.Context) (KafkaCredentials, error) {
	var creds KafkaCredentials
	if err := c.do(ctx, http.MethodGet, "/v1/kafka-credentials", nil, &creds, nil); err != nil {
		return KafkaCredentials{}, err
	}
	return creds, nil
}

// PatchOrgStreamerSetting records which source adapter this agent is
// running, best-effort, at startup.
func (c *Client) PatchOrgStreamerSetting(ctx context.Context, name string) {
	req := patchStreamerSettingRequest{Settings: streamerSettings{PortAgentStreamerName: name}}
	if err := c.do(ctx, http.MethodPatch, "/v1/organization", req, nil, nil); err != nil {
		c.logger.Printf("patch org streamer setting failed: %v", err)
	}
}
