// Package rancher is a small client for the cluster-management platform's /v3 API.
package rancher

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clusterswarm/internal/logging"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Cluster is the subset of the management cluster object the orchestrator reads
type Cluster struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	State                string `json:"state"`
	Transitioning        string `json:"transitioning"`
	TransitioningMessage string `json:"transitioningMessage"`
	Provider             string `json:"provider"`
}

// RegistrationToken carries the commands used to join nodes or import a cluster
type RegistrationToken struct {
	ID                 string `json:"id"`
	ClusterID          string `json:"clusterId"`
	NodeCommand        string `json:"nodeCommand"`
	WindowsNodeCommand string `json:"windowsNodeCommand"`
	ManifestURL        string `json:"manifestUrl"`
	InsecureCommand    string `json:"insecureCommand"`
	Command            string `json:"command"`
}

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rancher API error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to the management API
type Client struct {
	baseURL           string
	token             string
	http              *retryablehttp.Client
	tokenPollInterval time.Duration
	tokenPollAttempts int
}

// Option customizes a Client
type Option func(*Client)

// WithRetries sets the retry budget for transient failures.
func WithRetries(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = max
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithInsecureTLS disables certificate verification.
func WithInsecureTLS() Option {
	return func(c *Client) {
		if t, ok := c.http.HTTPClient.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // test environments use self-signed certs
		}
	}
}

// WithTokenPolling tunes how long registration commands are awaited.
func WithTokenPolling(interval time.Duration, attempts int) Option {
	return func(c *Client) {
		c.tokenPollInterval = interval
		c.tokenPollAttempts = attempts
	}
}

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL, token string, opts ...Option) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 4
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	httpClient.CheckRetry = checkRetry
	httpClient.Logger = zapLeveledLogger{logger: logging.Logger().Sugar()}

	c := &Client{
		baseURL:           strings.TrimSuffix(baseURL, "/"),
		token:             token,
		http:              httpClient,
		tokenPollInterval: 2 * time.Second,
		tokenPollAttempts: 30,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Setting returns the value of a management setting.
func (c *Client) Setting(ctx context.Context, name string) (string, error) {
	var s struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/v3/settings/"+name, nil, nil, &s); err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", name, err)
	}
	return s.Value, nil
}

// SetSetting updates a management setting.
func (c *Client) SetSetting(ctx context.Context, name, value string) error {
	body := map[string]string{"value": value}
	if err := c.do(ctx, http.MethodPut, "/v3/settings/"+name, nil, body, nil); err != nil {
		return fmt.Errorf("failed to update setting %s: %w", name, err)
	}
	return nil
}

// ServerVersion returns the platform version, e.g. "v2.6.3".
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	return c.Setting(ctx, "server-version")
}

// UpdateKDM points the platform at a metadata URL and triggers a refresh.
func (c *Client) UpdateKDM(ctx context.Context, kdmURL string) error {
	value, err := json.Marshal(map[string]string{
		"refresh-interval-minutes": "1440",
		"url":                      kdmURL,
	})
	if err != nil {
		return fmt.Errorf("failed to encode rke-metadata-config: %w", err)
	}
	if err := c.SetSetting(ctx, "rke-metadata-config", string(value)); err != nil {
		return err
	}
	q := url.Values{"action": {"refresh"}}
	if err := c.do(ctx, http.MethodPost, "/v3/kontainerdrivers", q, nil, nil); err != nil {
		return fmt.Errorf("failed to refresh driver metadata: %w", err)
	}
	logging.Logger().Info("driver metadata refreshed", zap.String("kdm_url", kdmURL))
	return nil
}

// CreateCluster posts a cluster spec and returns the created object.
func (c *Client) CreateCluster(ctx context.Context, spec any) (*Cluster, error) {
	var out Cluster
	if err := c.do(ctx, http.MethodPost, "/v3/clusters", nil, spec, &out); err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}
	return &out, nil
}

// GetCluster fetches a cluster by id.
func (c *Client) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	var out Cluster
	if err := c.do(ctx, http.MethodGet, "/v3/clusters/"+id, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get cluster %s: %w", id, err)
	}
	return &out, nil
}

// DeleteCluster removes a cluster. Deleting a missing cluster succeeds.
func (c *Client) DeleteCluster(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v3/clusters/"+id, nil, nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("failed to delete cluster %s: %w", id, err)
	}
	return nil
}

// GenerateKubeconfig returns a kubeconfig for the cluster.
func (c *Client) GenerateKubeconfig(ctx context.Context, id string) (string, error) {
	var out struct {
		Config string `json:"config"`
	}
	q := url.Values{"action": {"generateKubeconfig"}}
	if err := c.do(ctx, http.MethodPost, "/v3/clusters/"+id, q, nil, &out); err != nil {
		return "", fmt.Errorf("failed to generate kubeconfig for %s: %w", id, err)
	}
	return out.Config, nil
}

// RegistrationToken creates a registration token for the cluster and waits
// until the platform has filled in its commands.
func (c *Client) RegistrationToken(ctx context.Context, clusterID string) (*RegistrationToken, error) {
	body := map[string]string{
		"type":      "clusterRegistrationToken",
		"clusterId": clusterID,
	}
	var token RegistrationToken
	if err := c.do(ctx, http.MethodPost, "/v3/clusterregistrationtokens", nil, body, &token); err != nil {
		return nil, fmt.Errorf("failed to create registration token: %w", err)
	}

	for i := 0; i < c.tokenPollAttempts; i++ {
		if token.NodeCommand != "" || token.ManifestURL != "" {
			return &token, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.tokenPollInterval):
		}
		if err := c.do(ctx, http.MethodGet, "/v3/clusterregistrationtokens/"+token.ID, nil, nil, &token); err != nil {
			return nil, fmt.Errorf("failed to get registration token: %w", err)
		}
	}
	if token.NodeCommand != "" || token.ManifestURL != "" {
		return &token, nil
	}
	return nil, fmt.Errorf("timed out waiting for registration token of cluster %s", clusterID)
}

// AKSVersions lists the Kubernetes versions AKS offers in region.
func (c *Client) AKSVersions(ctx context.Context, cloudCredentialID, region string) ([]string, error) {
	q := url.Values{"cloudCredentialId": {cloudCredentialID}, "region": {region}}
	var out []string
	if err := c.do(ctx, http.MethodGet, "/meta/aksVersions", q, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to list AKS versions: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	// a POST without an action creates an object, resending it could create a
	// second one
	if method == http.MethodPost && query.Get("action") == "" {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = logging.TruncateN(string(data), 256)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

type noRetryKey struct{}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(noRetryKey{}) != nil {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// zapLeveledLogger adapts zap to retryablehttp.LeveledLogger
type zapLeveledLogger struct {
	logger *zap.SugaredLogger
}

func (l zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warnw(msg, keysAndValues...)
}
