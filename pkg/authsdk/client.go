package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// DefaultPrefix is the versioned API mount point.
const DefaultPrefix = "/api/v1/auth"

// SDKClient is a client for the FinTab authentication service.
// It provides access to unauthenticated operations and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	Prefix     string
	HTTPClient *http.Client
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Prefix:  DefaultPrefix,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Register creates an account. The email must then be verified.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/register", "", req)
	if err != nil {
		return nil, err
	}

	var out RegisterResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates and returns a Session. ErrMFARequired means the
// request must be repeated with MFAToken set.
func (c *SDKClient) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/login", "", req)
	if err != nil {
		return nil, err
	}

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.MFARequired || out.Tokens == nil {
		return nil, ErrMFARequired
	}
	return c.NewSessionFromTokens(*out.Tokens), nil
}

// Refresh spends refreshToken for a new pair. The old token is dead afterwards.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/refresh", "", RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var out RefreshResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out.Tokens, nil
}

// VerifyEmail consumes an emailed verification token.
func (c *SDKClient) VerifyEmail(ctx context.Context, token string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/verify-email", "", VerifyEmailRequest{Token: token})
	if err != nil {
		return err
	}

	var out SuccessResponse
	return decodeJSON(resp, &out, http.StatusOK)
}

// Health calls one of the /health endpoints, which live outside the API
// prefix. path is "", "/live", "/ready" or "/detailed".
func (c *SDKClient) Health(ctx context.Context, path string) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health"+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	var out HealthResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
