package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client sends bearer-authenticated requests for a user. A 401 answer gets
// one forced token check and one retry, never more.
type Client struct {
	tokens     TokenValidator
	httpClient *http.Client
	margin     time.Duration
}

// NewClient creates a Client. A nil httpClient uses a 10 second timeout.
func NewClient(tokens TokenValidator, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{tokens: tokens, httpClient: httpClient, margin: DefaultRefreshMargin}
}

// Get fetches url on behalf of user.
func (c *Client) Get(ctx context.Context, url, user string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return c.Do(req, user)
}

// Do sends req with user's token. Requests with a body must set GetBody so
// the body can be replayed on retry.
func (c *Client) Do(req *http.Request, user string) (*http.Response, error) {
	ctx := req.Context()

	token, err := c.tokens.EnsureValid(ctx, user, c.margin)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(req.Clone(ctx), token.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err = c.tokens.EnsureValid(ctx, user, 0)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("cannot retry %s %s: request body is not replayable", req.Method, req.URL)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		retry.Body = body
	}
	return c.send(retry, token.AccessToken)
}

func (c *Client) send(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.Method, req.URL, err)
	}
	return resp, nil
}

// Fetch is the one-shot form of Get that reads the whole body.
func (c *Client) Fetch(ctx context.Context, url, user string) (int, []byte, error) {
	resp, err := c.Get(ctx, url, user)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: failed to read response: %w", ErrNetwork, err)
	}
	return resp.StatusCode, body, nil
}
