// Package googlecal syncs events with Google Calendar.
package googlecal

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// OAuthConfig holds Google Calendar OAuth settings
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// DefaultScopes covers reading and writing calendar events
func DefaultScopes() []string {
	return []string{
		calendar.CalendarReadonlyScope,
		calendar.CalendarEventsScope,
	}
}

// OAuthClient wraps the oauth2 flow for Google Calendar
type OAuthClient struct {
	config *oauth2.Config
}

// NewOAuthClient creates an OAuth client
func NewOAuthClient(cfg OAuthConfig) *OAuthClient {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes()
	}
	return &OAuthClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthURL returns the URL the user visits to authorize access
func (c *OAuthClient) AuthURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens
func (c *OAuthClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return c.config.Exchange(ctx, code)
}

// TokenSource returns a refreshing token source for a stored token
func (c *OAuthClient) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	return c.config.TokenSource(ctx, token)
}

// HTTPClient returns an authorized HTTP client
func (c *OAuthClient) HTTPClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return c.config.Client(ctx, token)
}

// CalendarService builds a Calendar API service from a token
func (c *OAuthClient) CalendarService(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	client := c.config.Client(ctx, token)
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}
