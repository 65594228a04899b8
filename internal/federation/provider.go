package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Identity is the profile the external provider reports for a user
type Identity struct {
	ID       string
	Username string
	Email    string
	Verified bool
	Groups   []Group
}

// Group is one external group membership. Position is the
// provider-reported ordering used for role precedence.
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// ProviderConfig holds the external identity-provider endpoints
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	ProfileURL   string
	GroupsURL    string
	Scopes       []string
	Timeout      time.Duration
}

// Provider exchanges authorization codes and fetches profile and group
// data from the external identity provider. Every call is bounded by the
// configured timeout; a timeout is a flow failure, never a retry.
type Provider struct {
	oauth      *oauth2.Config
	profileURL string
	groupsURL  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewProvider creates a provider client from endpoint configuration
func NewProvider(cfg ProviderConfig) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		profileURL: cfg.ProfileURL,
		groupsURL:  cfg.GroupsURL,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthCodeURL returns the provider authorization URL carrying the state nonce
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for an access token
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return token, nil
}

// profilePayload is the provider's profile response shape
type profilePayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Verified bool   `json:"verified"`
}

// FetchIdentity retrieves the profile and group memberships for the token's
// user. A missing id or username in the profile is a hard failure; a failed
// groups fetch is too, since roles are derived from it.
func (p *Provider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	var profile profilePayload
	if err := p.getJSON(ctx, token, p.profileURL, &profile); err != nil {
		return nil, fmt.Errorf("profile fetch failed: %w", err)
	}
	if profile.ID == "" || profile.Username == "" {
		return nil, fmt.Errorf("provider profile missing required fields")
	}

	identity := &Identity{
		ID:       profile.ID,
		Username: profile.Username,
		Email:    profile.Email,
		Verified: profile.Verified,
	}

	if p.groupsURL != "" {
		var groups []Group
		if err := p.getJSON(ctx, token, p.groupsURL, &groups); err != nil {
			return nil, fmt.Errorf("groups fetch failed: %w", err)
		}
		identity.Groups = groups
	}

	return identity, nil
}

func (p *Provider) getJSON(ctx context.Context, token *oauth2.Token, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	token.SetAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed provider payload: %w", err)
	}
	return nil
}
