package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/identity-link-service/internal/ports"
)

const (
	defaultGoogleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	defaultGitHubUserURL      = "https://api.github.com/user"
	defaultGitHubUserEmailURL = "https://api.github.com/user/emails"
)

type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Endpoint and UserInfoURL override the provider defaults.
	Endpoint    *oauth2.Endpoint
	UserInfoURL string
	EmailsURL   string
}

type OAuthExchangerConfig struct {
	CallbackBaseURL string
	HTTPClient      *http.Client
	Providers       map[string]OAuthProviderConfig
}

type oauthProvider struct {
	config      *oauth2.Config
	userInfoURL string
	emailsURL   string
}

// OAuthExchanger implements ports.OAuthExchanger for Google and GitHub.
type OAuthExchanger struct {
	httpClient *http.Client
	providers  map[string]oauthProvider
}

func NewOAuthExchanger(cfg OAuthExchangerConfig) *OAuthExchanger {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	providers := make(map[string]oauthProvider, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		name = strings.ToLower(strings.TrimSpace(name))
		if pc.ClientID == "" || pc.ClientSecret == "" {
			continue
		}
		var (
			endpoint           oauth2.Endpoint
			scopes             []string
			userInfo, emailURL string
		)
		switch name {
		case "google":
			endpoint, scopes, userInfo = google.Endpoint, []string{"openid", "email", "profile"}, defaultGoogleUserInfoURL
		case "github":
			endpoint, scopes, userInfo, emailURL = github.Endpoint, []string{"read:user", "user:email"}, defaultGitHubUserURL, defaultGitHubUserEmailURL
		default:
			continue
		}
		if pc.Endpoint != nil {
			endpoint = *pc.Endpoint
		}
		if len(pc.Scopes) > 0 {
			scopes = pc.Scopes
		}
		if pc.UserInfoURL != "" {
			userInfo = pc.UserInfoURL
		}
		if pc.EmailsURL != "" {
			emailURL = pc.EmailsURL
		}
		providers[name] = oauthProvider{
			config: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				Endpoint:     endpoint,
				RedirectURL:  strings.TrimRight(cfg.CallbackBaseURL, "/") + "/identity/v1/oauth/" + name + "/callback",
				Scopes:       scopes,
			},
			userInfoURL: userInfo,
			emailsURL:   emailURL,
		}
	}
	return &OAuthExchanger{httpClient: client, providers: providers}
}

func (e *OAuthExchanger) Providers() []string {
	out := make([]string, 0, len(e.providers))
	for name := range e.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *OAuthExchanger) AuthCodeURL(provider, state, redirectURI string) (string, error) {
	p, ok := e.providers[provider]
	if !ok {
		return "", fmt.Errorf("unknown or unconfigured provider: %s", provider)
	}
	cfg := *p.config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}
	return cfg.AuthCodeURL(state), nil
}

func (e *OAuthExchanger) Exchange(ctx context.Context, provider, code, redirectURI string) (ports.OAuthAssertion, error) {
	p, ok := e.providers[provider]
	if !ok {
		return ports.OAuthAssertion{}, fmt.Errorf("unknown or unconfigured provider: %s", provider)
	}
	cfg := *p.config
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return ports.OAuthAssertion{}, classifyOAuthError("token exchange", err)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(token))

	var assertion ports.OAuthAssertion
	switch provider {
	case "google":
		assertion, err = fetchGoogleUser(client, p.userInfoURL)
	case "github":
		assertion, err = fetchGitHubUser(client, p.userInfoURL, p.emailsURL)
	default:
		err = fmt.Errorf("unknown provider: %s", provider)
	}
	if err != nil {
		return ports.OAuthAssertion{}, classifyOAuthError("fetch user info", err)
	}
	assertion.Provider = provider
	if assertion.ProviderAccountID == "" {
		return ports.OAuthAssertion{}, errors.New("provider returned no subject")
	}
	return assertion, nil
}

func fetchGoogleUser(client *http.Client, url string) (ports.OAuthAssertion, error) {
	var data struct {
		ID            string `json:"id"`
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := getJSON(client, url, &data); err != nil {
		return ports.OAuthAssertion{}, err
	}
	return ports.OAuthAssertion{
		ProviderAccountID: data.ID,
		Email:             data.Email,
		EmailVerified:     data.VerifiedEmail,
		DisplayName:       data.Name,
		AvatarURL:         data.Picture,
	}, nil
}

func fetchGitHubUser(client *http.Client, userURL, emailsURL string) (ports.OAuthAssertion, error) {
	var data struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := getJSON(client, userURL, &data); err != nil {
		return ports.OAuthAssertion{}, err
	}
	name := data.Name
	if name == "" {
		name = data.Login
	}
	assertion := ports.OAuthAssertion{
		ProviderAccountID: fmt.Sprintf("%d", data.ID),
		DisplayName:       name,
		AvatarURL:         data.AvatarURL,
	}
	if data.ID == 0 {
		assertion.ProviderAccountID = ""
	}

	// The public profile email is not verified; only the emails API says so.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if emailsURL != "" && getJSON(client, emailsURL, &emails) == nil {
		for _, e := range emails {
			if e.Primary && e.Verified {
				assertion.Email = e.Email
				assertion.EmailVerified = true
				break
			}
		}
	}
	return assertion, nil
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s returned status %d", domain.ErrUpstreamUnavailable, url, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// classifyOAuthError separates provider outages from rejected codes.
func classifyOAuthError(step string, err error) error {
	if errors.Is(err, domain.ErrUpstreamUnavailable) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, step, err)
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamUnavailable, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}
