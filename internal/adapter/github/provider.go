package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
)

const defaultAPIBaseURL = "https://api.github.com"

// IdentityProvider is the contract the login flow needs from an external
// OAuth provider: build the authorization URL, then turn a callback code
// into normalized profile claims. No auth decisions are made here.
type IdentityProvider interface {
	AuthCodeURL(state, codeChallenge string) string
	Authenticate(ctx context.Context, code, codeVerifier string) (domain.OAuthProfile, error)
}

// Provider implements IdentityProvider against GitHub. GitHub is plain
// OAuth2 (no id_token), so the profile comes from the REST API.
type Provider struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	apiBaseURL  string
}

var _ IdentityProvider = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

// WithEndpoints overrides the OAuth and API endpoints. Tests point these
// at local servers.
func WithEndpoints(authURL, tokenURL, apiBaseURL string) Option {
	return func(p *Provider) {
		p.oauthConfig.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
		p.apiBaseURL = apiBaseURL
	}
}

// WithHTTPClient overrides the client used for profile fetches and the
// token exchange.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// New constructs the GitHub provider.
func New(clientID, clientSecret, redirectURL string, opts ...Option) (*Provider, error) {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil, errors.New("github oauth config missing required fields")
	}

	p := &Provider{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     oauthgithub.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiBaseURL: defaultAPIBaseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// AuthCodeURL builds the authorization URL with PKCE parameters.
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauthConfig.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Authenticate exchanges the authorization code and fetches the user's
// profile, normalizing it into domain claims.
func (p *Provider) Authenticate(ctx context.Context, code, codeVerifier string) (domain.OAuthProfile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return domain.OAuthProfile{}, fmt.Errorf("github token exchange: %w", err)
	}

	profile, err := p.fetchProfile(ctx, token)
	if err != nil {
		return domain.OAuthProfile{}, err
	}
	if profile.Email == "" {
		email, err := p.fetchPrimaryEmail(ctx, token)
		if err != nil {
			return domain.OAuthProfile{}, err
		}
		profile.Email = email
	}
	if profile.ID == "" || profile.Email == "" {
		return domain.OAuthProfile{}, errors.New("github profile missing required claims")
	}
	return profile, nil
}

func (p *Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (domain.OAuthProfile, error) {
	var raw struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := p.get(ctx, token, "/user", &raw); err != nil {
		return domain.OAuthProfile{}, fmt.Errorf("github profile: %w", err)
	}

	name := raw.Name
	if name == "" {
		name = raw.Login
	}
	return domain.OAuthProfile{
		ID:        strconv.FormatInt(raw.ID, 10),
		Email:     raw.Email,
		Name:      name,
		AvatarURL: raw.AvatarURL,
	}, nil
}

// fetchPrimaryEmail resolves the verified primary address for accounts
// whose public email is hidden.
func (p *Provider) fetchPrimaryEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.get(ctx, token, "/user/emails", &emails); err != nil {
		return "", fmt.Errorf("github emails: %w", err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", errors.New("github account has no verified email")
}

func (p *Provider) get(ctx context.Context, token *oauth2.Token, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
