// Package gmail sends pre-composed RFC 5322 messages through the Gmail API
// on behalf of a user holding a delegated OAuth access token.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Client sends mail as the user who owns accessToken.
type Client interface {
	Send(ctx context.Context, accessToken string, raw []byte) (string, error)
}

// APIError is returned when the Gmail API rejects a send.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail: HTTP %d: %s", e.StatusCode, e.Message)
}

// Option configures the apiClient.
type Option func(*apiClient)

// WithEndpoint overrides the API base URL.
func WithEndpoint(u string) Option {
	return func(c *apiClient) { c.endpoint = u }
}

// WithHTTPClient sets the base transport. The per-call token is layered on
// top of hc.Transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *apiClient) { c.base = hc }
}

type apiClient struct {
	endpoint string
	base     *http.Client
}

// NewClient creates a Gmail client.
func NewClient(opts ...Option) Client {
	c := &apiClient{base: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts raw to users.messages.send for the token's user and returns
// the provider message id.
func (c *apiClient) Send(ctx context.Context, accessToken string, raw []byte) (string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	msg := &gm.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	sent, err := svc.Users.Messages.Send("me", msg).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", &APIError{StatusCode: gerr.Code, Message: gerr.Message}
		}
		return "", eris.Wrap(err, "gmail: send")
	}
	return sent.Id, nil
}

func (c *apiClient) service(ctx context.Context, accessToken string) (*gm.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	hc := &http.Client{
		Timeout:   c.base.Timeout,
		Transport: &oauth2.Transport{Source: ts, Base: c.base.Transport},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: create service")
	}
	return svc, nil
}
