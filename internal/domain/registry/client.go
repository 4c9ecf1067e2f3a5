package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRegistryURL is the default ToolBay plugin registry.
const DefaultRegistryURL = "https://plugins.toolbay.dev"

// ClientConfig configures the HTTP client.
type ClientConfig struct {
	// RegistryURL is the base URL of the registry
	RegistryURL string
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// UserAgent is the User-Agent header value
	UserAgent string
	// AuthToken is an optional authentication token
	AuthToken string
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RegistryURL: DefaultRegistryURL,
		Timeout:     30 * time.Second,
		UserAgent:   "toolbay/1.0",
	}
}

// Client provides HTTP access to the plugin registry.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates a new registry client.
func NewClient(config ClientConfig) *Client {
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// listing is the wire shape of the registry's plugin index.
type listing struct {
	Plugins []ListEntry `json:"plugins"`
}

// FetchManifestList downloads the registry's plugin listing.
func (c *Client) FetchManifestList(ctx context.Context) ([]ListEntry, error) {
	url := c.config.RegistryURL + "/v1/plugins.json"

	data, err := c.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch plugin listing: %w", err)
	}

	var l listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse plugin listing: %w", err)
	}

	return l.Plugins, nil
}

// FetchPluginDetails downloads the full manifest for a plugin id.
// Returns a NotFoundError if the registry does not know the id.
func (c *Client) FetchPluginDetails(ctx context.Context, id PluginID) (*Manifest, error) {
	url := fmt.Sprintf("%s/v1/plugins/%s/manifest.json", c.config.RegistryURL, id)

	data, err := c.fetch(ctx, url)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to fetch manifest for %s: %w", id, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for %s: %w", id, err)
	}
	if err := ValidateManifest(&m); err != nil {
		return nil, fmt.Errorf("registry returned invalid manifest for %s: %w", id, err)
	}

	return &m, nil
}

// FetchArchive downloads the package archive for a specific plugin version.
func (c *Client) FetchArchive(ctx context.Context, id PluginID, version Version) ([]byte, error) {
	url := fmt.Sprintf("%s/v1/plugins/%s/%s.tar.gz", c.config.RegistryURL, id, version)

	data, err := c.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archive %s@%s: %w", id, version, err)
	}

	return data, nil
}

// Ping checks if the registry is reachable.
func (c *Client) Ping(ctx context.Context) error {
	url := c.config.RegistryURL + "/v1/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: request creation failed", ErrRegistryUnavailable)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed", ErrRegistryUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// fetch performs an HTTP GET request with registry error mapping.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: request creation failed", ErrRegistryUnavailable)
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed", ErrRegistryUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Continue
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrRegistryUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response", ErrRegistryUnavailable)
	}

	return data, nil
}
