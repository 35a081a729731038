// Package graph reads the signed-in user's profile from Microsoft Graph.
package graph

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sitewatch-go/internal/auth"
)

// DefaultBaseURL is the public Microsoft Graph endpoint.
const DefaultBaseURL = "https://graph.microsoft.com"

// ErrNoPhoto is returned when the account has no profile photo.
var ErrNoPhoto = errors.New("no profile photo")

// Requester sends a bearer-authenticated request for a user. *auth.Client
// satisfies it.
type Requester interface {
	Get(ctx context.Context, url, user string) (*http.Response, error)
}

var _ Requester = (*auth.Client)(nil)

// Client calls Graph on behalf of a user.
type Client struct {
	requester Requester
	baseURL   string
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(requester Requester, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{requester: requester, baseURL: strings.TrimRight(baseURL, "/")}
}

// Photo returns the user's profile photo as a data URL.
func (c *Client) Photo(ctx context.Context, user string) (string, error) {
	resp, err := c.requester.Get(ctx, c.baseURL+"/v1.0/me/photo/$value", user)
	if err != nil {
		return "", fmt.Errorf("failed to fetch profile photo: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNoPhoto
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("failed to fetch profile photo: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read profile photo: %w", err)
	}
	if len(data) == 0 {
		return "", ErrNoPhoto
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
