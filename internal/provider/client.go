package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrArtifactNotFound is returned when the source provider no longer knows
// the artifact id.
var ErrArtifactNotFound = errors.New("provider: artifact not found")

// tokenLifetime is how long a signed server token stays valid; tokens are
// re-signed one minute before expiry.
const tokenLifetime = 30 * time.Minute

// ArtifactMeta describes one recording file as reported by the provider.
type ArtifactMeta struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	DurationSeconds int    `json:"duration_seconds"`
	ByteSize        int64  `json:"byte_size"`
	DownloadURL     string `json:"download_url"`
}

// Config holds provider API settings.
type Config struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	RequestTimeout time.Duration
}

// Client talks to the source conferencing provider's REST API using a signed
// server-to-server token. Construct one per process and inject it; there is
// no package-level client state.
type Client struct {
	cfg    Config
	http   *http.Client
	stream *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a provider API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		// http.Client.Timeout bounds the whole body read, which would cut
		// off large artifact transfers. The stream client carries no
		// deadline; callers cancel through ctx.
		stream: &http.Client{},
		logger: logger,
	}
}

// Token returns a valid signed server token, re-signing when near expiry.
func (c *Client) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, nil
	}
	exp := time.Now().Add(tokenLifetime)
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.APIKey,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cfg.APISecret))
	if err != nil {
		return "", fmt.Errorf("sign provider token: %w", err)
	}
	c.token = signed
	c.tokenExp = exp
	return signed, nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	token, err := c.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) apiURL(parts ...string) string {
	u := c.cfg.BaseURL
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

// ListRecordingArtifacts lists the recording files for a session.
func (c *Client) ListRecordingArtifacts(ctx context.Context, sessionExternalID string) ([]ArtifactMeta, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("sessions", sessionExternalID, "recordings"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // session has no recordings yet
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list recordings status: %d", resp.StatusCode)
	}
	var out struct {
		Artifacts []ArtifactMeta `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode recordings: %w", err)
	}
	return out.Artifacts, nil
}

// FetchArtifactStream opens the artifact's byte stream. The returned length is
// the provider-reported content length, or -1 when unknown. Caller closes the
// stream.
func (c *Client) FetchArtifactStream(ctx context.Context, downloadURL string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, 0, ErrArtifactNotFound
		}
		return nil, 0, fmt.Errorf("fetch artifact status: %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// ResolveArtifact reports whether the artifact id is still known to the
// provider.
func (c *Client) ResolveArtifact(ctx context.Context, artifactID string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("recordings", artifactID), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("resolve artifact: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("resolve artifact status: %d", resp.StatusCode)
	}
}

// DeleteArtifact removes the artifact from the provider's storage.
func (c *Client) DeleteArtifact(ctx context.Context, artifactID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.apiURL("recordings", artifactID), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrArtifactNotFound
	default:
		return fmt.Errorf("delete artifact status: %d", resp.StatusCode)
	}
}

// CountLiveSessions returns how many sessions the host account currently has
// running, as reported by the provider. Used by the pool reconciler.
func (c *Client) CountLiveSessions(ctx context.Context, hostEmail string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.apiURL("hosts", hostEmail, "live-sessions"), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("live sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("live sessions status: %d", resp.StatusCode)
	}
	var out struct {
		Total int `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode live sessions: %w", err)
	}
	c.logger.Debug("live sessions counted", zap.String("host", hostEmail), zap.Int("total", out.Total))
	return out.Total, nil
}
