package zendesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// MaxAttachmentBytes caps a single channelback attachment download.
const MaxAttachmentBytes = 50 * 1024 * 1024

// Client talks to the Channel Framework REST endpoints.
type Client struct {
	http         *http.Client
	fetchTimeout time.Duration
	baseURL      func(subdomain string) string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sends every request to base instead of https://<subdomain>.zendesk.com.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = func(string) string { return base }
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client whose push and validate calls are bounded by
// timeout and whose attachment downloads are bounded by fetchTimeout.
func NewClient(timeout, fetchTimeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:         &http.Client{Timeout: timeout},
		fetchTimeout: fetchTimeout,
		baseURL: func(subdomain string) string {
			return fmt.Sprintf("https://%s.zendesk.com", subdomain)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pushRequest struct {
	InstancePushID    string             `json:"instance_push_id"`
	ExternalResources []ExternalResource `json:"external_resources"`
}

type validateRequest struct {
	InstancePushID string `json:"instance_push_id"`
}

// Push delivers resources to the push endpoint of the given account.
func (c *Client) Push(ctx context.Context, subdomain, instancePushID, accessToken string, resources []ExternalResource) error {
	url := c.baseURL(subdomain) + "/api/v2/any_channel/push"
	resp, err := c.postJSON(ctx, url, accessToken, pushRequest{
		InstancePushID:    instancePushID,
		ExternalResources: resources,
	})
	if err != nil {
		return errors.Wrap(err, "push")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// ValidateToken reports whether accessToken is still accepted for instancePushID.
// Any non-2xx answer means invalid; transport failures are returned as errors.
func (c *Client) ValidateToken(ctx context.Context, subdomain, instancePushID, accessToken string) (bool, error) {
	url := c.baseURL(subdomain) + "/api/v2/any_channel/validate_token"
	resp, err := c.postJSON(ctx, url, accessToken, validateRequest{InstancePushID: instancePushID})
	if err != nil {
		return false, errors.Wrap(err, "validate token")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode/100 == 2, nil
}

// FetchAttachment downloads a channelback file, authenticating with accessToken.
func (c *Client) FetchAttachment(ctx context.Context, url, accessToken string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build attachment request")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAttachmentBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read failed")
	}
	if len(data) > MaxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %dMB size limit", MaxAttachmentBytes/1024/1024)
	}
	return data, nil
}

func (c *Client) postJSON(ctx context.Context, url, accessToken string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.http.Do(req)
}
