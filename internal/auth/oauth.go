package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/MaxBossMan1/ddgmotdv2/internal/shared"
)

// Discord OAuth2 endpoints.
const (
	discordAuthURL     = "https://discord.com/api/oauth2/authorize"
	discordTokenURL    = "https://discord.com/api/oauth2/token"
	discordUserInfoURL = "https://discord.com/api/users/@me"
)

// OAuthConfig configures the Discord OAuth2 client.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// UserInfoURL overrides the profile endpoint, mainly for tests.
	UserInfoURL string
	// Endpoint overrides the Discord endpoints, mainly for tests.
	Endpoint *oauth2.Endpoint
}

// DiscordOAuth runs the authorization code flow against Discord.
type DiscordOAuth struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewDiscordOAuth builds the provider. It returns nil when the client is not configured.
func NewDiscordOAuth(cfg OAuthConfig) *DiscordOAuth {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil
	}
	endpoint := oauth2.Endpoint{AuthURL: discordAuthURL, TokenURL: discordTokenURL, AuthStyle: oauth2.AuthStyleInParams}
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	userInfo := cfg.UserInfoURL
	if userInfo == "" {
		userInfo = discordUserInfoURL
	}
	return &DiscordOAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identify", "email"},
		},
		userInfoURL: userInfo,
	}
}

// AuthCodeURL returns the consent page URL bound to state.
func (p *DiscordOAuth) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades the authorization code for the caller's Discord profile.
func (p *DiscordOAuth) Exchange(ctx context.Context, code string) (DiscordProfile, error) {
	if code == "" {
		return DiscordProfile{}, fmt.Errorf("%w: missing authorization code", shared.ErrValidation)
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return DiscordProfile{}, fmt.Errorf("%w: exchange token: %v", shared.ErrUpstreamUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return DiscordProfile{}, err
	}
	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return DiscordProfile{}, fmt.Errorf("%w: fetch user info: %v", shared.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return DiscordProfile{}, fmt.Errorf("%w: user info status %d: %s", shared.ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var profile DiscordProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return DiscordProfile{}, fmt.Errorf("auth: decode user info: %w", err)
	}
	if profile.ID == "" {
		return DiscordProfile{}, fmt.Errorf("%w: user info without id", shared.ErrUpstreamUnavailable)
	}
	return profile, nil
}
