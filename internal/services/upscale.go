// Upscaler backend implementation of [Backend]
//
// Talks to the FastAPI service (backend/main.py) on port 8000 by default.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/upscaler/internal/shared"
	"golang.org/x/oauth2"
)

// statusTimeout bounds the small JSON endpoints; upscale calls are bounded by the caller's context.
const statusTimeout = 5 * time.Second

var _ Backend = (*UpscaleService)(nil)

// UpscaleService implements [Backend] over HTTP.
type UpscaleService struct {
	baseURL    string
	httpClient *http.Client
}

// NewUpscaleService creates a client for the backend at baseURL.
//
// The client must not set [http.Client.Timeout], which would cut long-running streams.
func NewUpscaleService(baseURL string, client *http.Client) *UpscaleService {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = shared.DefaultBackendURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &UpscaleService{baseURL: baseURL, httpClient: client}
}

// NewHTTPClient returns the client used for backend calls.
//
// With a token, requests carry "Authorization: Bearer <token>" via a static [oauth2.TokenSource].
func NewHTTPClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return http.DefaultClient
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
}

// BaseURL returns the normalized backend URL.
func (u *UpscaleService) BaseURL() string {
	return u.baseURL
}

// Health calls GET /health.
func (u *UpscaleService) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	var health HealthStatus
	if err := u.doJSON(ctx, http.MethodGet, "/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// LoadModel calls POST /load-model.
func (u *UpscaleService) LoadModel(ctx context.Context) (*LoadModelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	var resp LoadModelResponse
	if err := u.doJSON(ctx, http.MethodPost, "/load-model", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Info calls GET /.
func (u *UpscaleService) Info(ctx context.Context) (*ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	var info ServerInfo
	if err := u.doJSON(ctx, http.MethodGet, "/", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Upscale calls POST /upscale and waits for the finished image.
//
// A response with success=false is returned alongside an error wrapping [shared.ErrUpscaleFailed].
func (u *UpscaleService) Upscale(ctx context.Context, image Image, params UpscaleParams) (*UpscaleResponse, error) {
	resp, err := u.postForm(ctx, "/upscale", image, params, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result UpscaleResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !result.Success {
		return &result, fmt.Errorf("%w: %s", shared.ErrUpscaleFailed, result.Error)
	}

	return &result, nil
}

// Stream calls POST /upscale/stream and returns once response headers arrive.
//
// Non-2xx responses are reported as errors wrapping [shared.ErrAPIRequest]. The caller owns the
// returned stream and must Close it; cancelling ctx unblocks pending reads.
func (u *UpscaleService) Stream(ctx context.Context, image Image, params UpscaleParams) (*EventStream, error) {
	resp, err := u.postForm(ctx, "/upscale/stream", image, params, "text/event-stream")
	if err != nil {
		return nil, err
	}

	return NewEventStream(resp.Body), nil
}

func (u *UpscaleService) postForm(ctx context.Context, endpoint string, image Image, params UpscaleParams, accept string) (*http.Response, error) {
	body, contentType, err := encodeForm(image, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

func (u *UpscaleService) doJSON(ctx context.Context, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, u.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// checkStatus converts non-2xx responses into errors, surfacing FastAPI's "detail" when present.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && len(errResp.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(errResp.Detail, &detail); err != nil {
			detail = string(errResp.Detail)
		}
		return fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, detail)
	}

	return fmt.Errorf("%w: status %d", shared.ErrAPIRequest, resp.StatusCode)
}
