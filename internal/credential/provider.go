package credential

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// Token is the result of a code exchange or refresh.
type Token struct {
	AccessToken string
	// RefreshToken is empty when the provider did not rotate it.
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// Provider is the OAuth authorization server.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Revoke(ctx context.Context, token string) error
}

// OAuthConfig configures an OAuthProvider. Empty AuthURL and TokenURL fall
// back to Google's endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	HTTPClient   *http.Client
}

// OAuthProvider implements Provider with golang.org/x/oauth2.
type OAuthProvider struct {
	cfg        *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

// NewOAuthProvider creates an OAuthProvider.
func NewOAuthProvider(c OAuthConfig) *OAuthProvider {
	endpoint := google.Endpoint
	if c.AuthURL != "" {
		endpoint.AuthURL = c.AuthURL
	}
	if c.TokenURL != "" {
		endpoint.TokenURL = c.TokenURL
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuthProvider{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       c.Scopes,
			Endpoint:     endpoint,
		},
		revokeURL:  c.RevokeURL,
		httpClient: hc,
	}
}

// AuthCodeURL returns the consent URL. Offline access with a forced consent
// prompt makes the provider issue a refresh token every time.
func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := p.cfg.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, eris.Wrap(classify(err), "credential: exchange code")
	}
	return fromOAuth(tok), nil
}

// Refresh obtains a new access token from refreshToken.
func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	src := p.cfg.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, eris.Wrap(classify(err), "credential: refresh token")
	}
	out := fromOAuth(tok)
	if out.RefreshToken == refreshToken {
		out.RefreshToken = ""
	}
	return out, nil
}

// Revoke invalidates token at the provider. Without a revoke URL it is a
// no-op.
func (p *OAuthProvider) Revoke(ctx context.Context, token string) error {
	if p.revokeURL == "" {
		return nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "credential: build revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "credential: revoke")
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return eris.Errorf("credential: revoke returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (p *OAuthProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// classify marks token-endpoint failures with a retryable status as
// transient. invalid_grant and other 4xx answers stay permanent.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return resilience.ForStatus(err, re.Response.StatusCode)
	}
	return err
}

func fromOAuth(tok *oauth2.Token) *Token {
	out := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if s, ok := tok.Extra("scope").(string); ok {
		out.Scope = s
	}
	return out
}
