// Package upload implements the authenticated HTTP client to the external
// analysis service: organization lookup and scan upload. Follows the same
// bearer-style authenticated-client shape and error-wrapping conventions
// as the rest of this module's network clients, over an HTTP Authorization
// header.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fossas/broker/internal/secret"
)

// ConnectTimeout bounds the connection phase of every request made by the
// default client (preflight health check, org lookup, and scan upload).
const ConnectTimeout = 30 * time.Second

// Client is the broker's HTTP client for the analysis service.
type Client struct {
	endpoint   string
	key        secret.Value
	userAgent  string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	Endpoint  string
	Key       secret.Value
	AgentName string
	AgentVersion string
	// HTTPClient, if nil, defaults to a client with ConnectTimeout and
	// redirects disabled, matching the preflight contract.
	HTTPClient *http.Client
}

// New returns a Client.
func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.DialContext = (&net.Dialer{Timeout: ConnectTimeout}).DialContext
		client = &http.Client{
			Transport: tr,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Client{
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		key:        cfg.Key,
		userAgent:  fmt.Sprintf("%s/%s", cfg.AgentName, cfg.AgentVersion),
		httpClient: client,
	}
}

type orgResponse struct {
	OrganizationID uint64 `json:"organization_id"`
}

// OrgID performs the organization lookup.
func (c *Client) OrgID(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/api/cli/organization", nil)
	if err != nil {
		return 0, fmt.Errorf("upload: failed to build org lookup request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload: org lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("upload: org lookup returned status %d", resp.StatusCode)
	}

	var out orgResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("upload: failed to parse org lookup response: %w", err)
	}
	return out.OrganizationID, nil
}

// ScanResult is the parameters needed to build a scan upload request.
type ScanResult struct {
	ProjectName     string
	Revision        string
	Branch          string
	AnalyzerVersion string
	SourceUnits     json.RawMessage
}

type uploadResponse struct {
	UploadLocator string `json:"upload_locator"`
	UploadError   string `json:"upload_error"`
}

// UploadScan re-resolves the org id (the token may have been reassigned
// since it was last looked up) and uploads source_units as the scan body.
func (c *Client) UploadScan(ctx context.Context, scan ScanResult) (string, error) {
	orgID, err := c.OrgID(ctx)
	if err != nil {
		return "", fmt.Errorf("upload: failed to re-resolve org id: %w", err)
	}

	locator := fmt.Sprintf("custom+%d/%s$%s", orgID, scan.ProjectName, scan.Revision)

	query := url.Values{}
	query.Set("locator", locator)
	query.Set("branch", scan.Branch)
	query.Set("cliVersion", scan.AnalyzerVersion)
	query.Set("managedBuild", "true")

	reqURL := fmt.Sprintf("%s/api/builds/custom?%s", c.endpoint, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(scan.SourceUnits)))
	if err != nil {
		return "", fmt.Errorf("upload: failed to build scan upload request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: scan upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("upload: failed to read scan upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload: scan upload returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("upload: failed to parse scan upload response: %w", err)
	}
	if out.UploadError != "" {
		return "", fmt.Errorf("upload: service reported upload_error: %s", out.UploadError)
	}
	return out.UploadLocator, nil
}

// Healthcheck hits the unauthenticated /health endpoint.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("upload: failed to build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: health request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload: health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.key.ExposeString())
	req.Header.Set("User-Agent", c.userAgent)
}
