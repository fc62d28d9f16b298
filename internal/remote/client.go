// Package remote implements links.RemoteStore against the linkdrop HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/MarcoPoloResearchLab/linkdrop/internal/links"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var (
	// ErrInvalidClientConfig indicates a missing or malformed client setting.
	ErrInvalidClientConfig = errors.New("remote: invalid client config")
	// ErrUnauthorized is returned when the server rejects the access token.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrRateLimited is returned when the server throttles lookups.
	ErrRateLimited = errors.New("remote: rate limited")

	errMissingBaseURL     = errors.New("server url required")
	errMissingTokenSource = errors.New("token source required")
)

// TokenSource supplies the bearer token for authenticated calls. Clients without one can only authenticate and look codes up.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ClientConfig describes how to reach the API.
type ClientConfig struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the linkdrop HTTP API.
type Client struct {
	baseURL    *url.URL
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError carries the status and reason the server reported.
type APIError struct {
	StatusCode int
	Reason     string
	Code       string
	err        error
}

func (e *APIError) Error() string {
	message := fmt.Sprintf("remote: status %d", e.StatusCode)
	if e.Reason != "" {
		message += " " + e.Reason
	}
	if e.Code != "" {
		message += " (" + e.Code + ")"
	}
	return message
}

func (e *APIError) Unwrap() error {
	return e.err
}

// NewClient validates the configuration and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	rawURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	baseURL, err := url.Parse(rawURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: server url %q is not absolute", ErrInvalidClientConfig, rawURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Insert creates the link on the server. The returned link carries the server-assigned timestamps.
func (c *Client) Insert(ctx context.Context, link links.Link) (links.Link, error) {
	request := api.CreateLinkRequest{
		ID:        link.Code.String(),
		Content:   link.Content.String(),
		ExpiresAt: api.FormatTimestamp(link.ExpiresAt),
	}
	var payload api.LinkPayload
	if err := c.do(ctx, http.MethodPost, "/links", true, request, &payload); err != nil {
		return links.Link{}, err
	}
	return payload.Link()
}

// FindActive looks a code up. A missing or expired link yields nil. The server clock decides expiry.
func (c *Client) FindActive(ctx context.Context, code links.Code, _ time.Time) (*links.Link, error) {
	var payload api.LinkPayload
	err := c.do(ctx, http.MethodGet, "/links/"+url.PathEscape(code.String()), false, nil, &payload)
	if errors.Is(err, links.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	link, err := payload.Link()
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ListActiveByCreator lists the links of the token's subject.
func (c *Client) ListActiveByCreator(ctx context.Context, creator links.CreatorID, _ time.Time) ([]links.Link, error) {
	var payload api.LinkListResponse
	if err := c.do(ctx, http.MethodGet, "/links", true, nil, &payload); err != nil {
		return nil, err
	}
	result := make([]links.Link, 0, len(payload.Links))
	for _, item := range payload.Links {
		link, err := item.Link()
		if err != nil {
			return nil, err
		}
		if link.CreatorID != creator {
			c.logger.Warn("listing returned a foreign link",
				zap.String("code", link.Code.String()),
				zap.String("creator_id", creator.String()))
			continue
		}
		result = append(result, link)
	}
	return result, nil
}

// UpdateContent replaces the content of an owned link.
func (c *Client) UpdateContent(ctx context.Context, code links.Code, _ links.CreatorID, content links.Content, _ time.Time) (links.Link, error) {
	var payload api.LinkPayload
	request := api.UpdateLinkRequest{Content: content.String()}
	if err := c.do(ctx, http.MethodPatch, "/links/"+url.PathEscape(code.String()), true, request, &payload); err != nil {
		return links.Link{}, err
	}
	return payload.Link()
}

// Delete removes an owned link.
func (c *Client) Delete(ctx context.Context, code links.Code, _ links.CreatorID) error {
	return c.do(ctx, http.MethodDelete, "/links/"+url.PathEscape(code.String()), true, nil, nil)
}

// Authenticate exchanges a creator id for an access token. An empty id asks the server to mint one.
func (c *Client) Authenticate(ctx context.Context, creatorID string) (api.CreatorTokenResponse, error) {
	var payload api.CreatorTokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/creator", false, api.CreatorTokenRequest{CreatorID: creatorID}, &payload)
	return payload, err
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, authenticated bool, body interface{}) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if c.tokens == nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingTokenSource)
		}
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("remote: access token: %w", err)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request, nil
}

func (c *Client) do(ctx context.Context, method, path string, authenticated bool, body, out interface{}) error {
	request, err := c.newRequest(ctx, method, path, authenticated, body)
	if err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		apiErr := decodeError(response)
		c.logger.Debug("api request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("reason", apiErr.Reason))
		return apiErr
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(response *http.Response) *APIError {
	apiErr := &APIError{StatusCode: response.StatusCode}
	var payload api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, 64<<10)).Decode(&payload); err == nil {
		apiErr.Reason = payload.Error
		apiErr.Code = payload.Code
	}
	switch {
	case response.StatusCode == http.StatusConflict && apiErr.Reason == api.ReasonCodeTaken:
		apiErr.err = links.ErrCodeTaken
	case response.StatusCode == http.StatusConflict && apiErr.Reason == api.ReasonCapacityExceeded:
		apiErr.err = links.ErrCapacityExceeded
	case response.StatusCode == http.StatusNotFound:
		apiErr.err = links.ErrNotFound
	case response.StatusCode == http.StatusUnauthorized:
		apiErr.err = ErrUnauthorized
	case response.StatusCode == http.StatusTooManyRequests:
		apiErr.err = ErrRateLimited
	case apiErr.Reason == api.ReasonInvalidCode:
		apiErr.err = links.ErrInvalidCode
	case apiErr.Reason == api.ReasonInvalidContent:
		apiErr.err = links.ErrInvalidContent
	}
	return apiErr
}
