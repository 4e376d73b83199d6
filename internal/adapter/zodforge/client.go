package zodforge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
)

// API encapsulates outbound HTTP calls to the ZodForge key/usage service.
// Key issuance, rotation, and quota accounting all live on the remote side;
// the dashboard only consumes them.
type API interface {
	// VerifyKey validates a raw key against the "who am I" endpoint and
	// returns its metadata plus usage. Any non-success response, transport
	// failure, or malformed payload is uniformly domain.ErrInvalidCredential.
	VerifyKey(ctx context.Context, rawKey string) (*VerifiedKey, error)
	// CreateKey mints a new key using the admin credential. The returned
	// raw key material is available exactly once.
	CreateKey(ctx context.Context, customerID, name string, tier domain.Tier) (*MintedKey, error)
	// RotateKey invalidates the key behind kid and returns its replacement,
	// authorized by the current raw key.
	RotateKey(ctx context.Context, kid, authKey string) (*RotatedKey, error)
	// DeleteKey revokes a key with the admin credential. Used only as a
	// compensating action when a provisioned key could not be linked locally.
	DeleteKey(ctx context.Context, kid string) error
	Health(ctx context.Context) (*HealthStatus, error)
}

// KeyInfo is the metadata the backend reports for an API key.
type KeyInfo struct {
	KID         string      `json:"kid"`
	CustomerID  string      `json:"customerId"`
	Name        string      `json:"name"`
	Tier        domain.Tier `json:"tier"`
	Permissions []string    `json:"permissions"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
	RateLimit   struct {
		RequestsPerMinute int64 `json:"requestsPerMinute"`
		RequestsPerDay    int64 `json:"requestsPerDay"`
	} `json:"rateLimit"`
	Quota struct {
		MonthlyLimit int64 `json:"monthlyLimit"`
	} `json:"quota"`
}

// PeriodUsage aggregates request statistics for one accounting period.
type PeriodUsage struct {
	Requests    int64   `json:"requests"`
	SuccessRate float64 `json:"successRate"`
	TotalTokens int64   `json:"totalTokens"`
	TotalCost   float64 `json:"totalCost"`
	AvgLatency  float64 `json:"avgLatency,omitempty"`
}

// Usage bundles the monthly and daily statistics attached to a key.
type Usage struct {
	Monthly *PeriodUsage `json:"monthly"`
	Daily   *PeriodUsage `json:"daily"`
}

// VerifiedKey is the successful verification result.
type VerifiedKey struct {
	Key   KeyInfo `json:"key"`
	Usage Usage   `json:"usage"`
}

// MintedKey is the one-time result of key creation.
type MintedKey struct {
	KID    string
	RawKey string
	Name   string
	Tier   domain.Tier
}

// RotatedKey is the result of a rotation. KID is empty when the backend
// rotates material in place and keeps the identifier.
type RotatedKey struct {
	KID    string
	RawKey string
}

// HealthStatus mirrors the backend health document.
type HealthStatus struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Uptime    float64 `json:"uptime"`
	Timestamp string  `json:"timestamp"`
}

// Client is the default HTTP implementation of API.
type Client struct {
	baseURL    string
	adminKey   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ API = (*Client)(nil)

// NewClient constructs the ZodForge API client. The admin key is held by
// the server process only and is never exposed to clients.
func NewClient(baseURL, adminKey string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminKey:   adminKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) VerifyKey(ctx context.Context, rawKey string) (*VerifiedKey, error) {
	if strings.TrimSpace(rawKey) == "" {
		return nil, domain.ErrInvalidCredential
	}

	var payload struct {
		Success bool    `json:"success"`
		Key     KeyInfo `json:"key"`
		Usage   Usage   `json:"usage"`
	}
	// The raw key must never appear in logs or error text; verification
	// failures collapse to a single uniform error.
	if err := c.do(ctx, http.MethodGet, "/api/v1/api-keys/me", rawKey, nil, &payload); err != nil {
		c.logger.Debug("key verification failed", zap.Error(err))
		return nil, domain.ErrInvalidCredential
	}
	if !payload.Success || payload.Key.KID == "" || !payload.Key.Tier.Valid() {
		return nil, domain.ErrInvalidCredential
	}
	return &VerifiedKey{Key: payload.Key, Usage: payload.Usage}, nil
}

func (c *Client) CreateKey(ctx context.Context, customerID, name string, tier domain.Tier) (*MintedKey, error) {
	body := map[string]any{
		"customerId": customerID,
		"name":       name,
		"tier":       string(tier),
		"metadata": map[string]any{
			"createdBy":   "github-oauth",
			"environment": "production",
		},
	}

	var payload struct {
		Success bool   `json:"success"`
		APIKey  string `json:"apiKey"`
		Payload struct {
			KID  string      `json:"kid"`
			Name string      `json:"name"`
			Tier domain.Tier `json:"tier"`
		} `json:"payload"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/api-keys", c.adminKey, body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProvision, err)
	}
	if payload.APIKey == "" || payload.Payload.KID == "" {
		return nil, fmt.Errorf("%w: incomplete key material in response", domain.ErrProvision)
	}
	return &MintedKey{
		KID:    payload.Payload.KID,
		RawKey: payload.APIKey,
		Name:   payload.Payload.Name,
		Tier:   payload.Payload.Tier,
	}, nil
}

func (c *Client) RotateKey(ctx context.Context, kid, authKey string) (*RotatedKey, error) {
	var payload struct {
		Success bool   `json:"success"`
		APIKey  string `json:"apiKey"`
		KID     string `json:"kid"`
	}
	path := "/api/v1/api-keys/" + url.PathEscape(kid) + "/rotate"
	if err := c.do(ctx, http.MethodPost, path, authKey, nil, &payload); err != nil {
		return nil, fmt.Errorf("rotate key: %w", err)
	}
	if payload.APIKey == "" {
		return nil, fmt.Errorf("rotate key: no key material in response")
	}
	return &RotatedKey{KID: payload.KID, RawKey: payload.APIKey}, nil
}

func (c *Client) DeleteKey(ctx context.Context, kid string) error {
	path := "/api/v1/api-keys/" + url.PathEscape(kid)
	if err := c.do(ctx, http.MethodDelete, path, c.adminKey, nil, nil); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var payload HealthStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", "", nil, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
	}
	return &payload, nil
}

// remoteError carries the backend-reported reason for a non-2xx response.
type remoteError struct {
	Status int
	Reason string
}

func (e *remoteError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("status=%d reason=%s", e.Status, e.Reason)
	}
	return fmt.Sprintf("status=%d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrUpstreamUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var remote struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &remote)
		return &remoteError{Status: resp.StatusCode, Reason: remote.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
