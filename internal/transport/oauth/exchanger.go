package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kailas-cloud/quotapool/internal/domain"
	"github.com/kailas-cloud/quotapool/internal/domain/credential"
)

// Grant types accepted by the token endpoint.
const (
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantAuthorizationCode = "authorization_code"
)

const tokenPath = "/oauth/token"

// Exchanger obtains access tokens from the authorization server.
type Exchanger struct {
	authURL string
	http    *http.Client
}

// New creates an Exchanger for the authorization server at authURL.
// A nil client uses one with the given timeout.
func New(authURL string, timeout time.Duration, client *http.Client) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Exchanger{authURL: strings.TrimRight(authURL, "/"), http: client}
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// ClientCredentials exchanges an application's client id and secret.
func (e *Exchanger) ClientCredentials(ctx context.Context, clientID, clientSecret string) (credential.Token, error) {
	return e.exchange(ctx, tokenRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		GrantType:    GrantClientCredentials,
	})
}

// Refresh exchanges a user's refresh token, authenticated as the owning application.
func (e *Exchanger) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (credential.Token, error) {
	return e.exchange(ctx, tokenRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		GrantType:    GrantRefreshToken,
		RefreshToken: refreshToken,
	})
}

// AuthorizationCode exchanges a user's authorization code.
func (e *Exchanger) AuthorizationCode(
	ctx context.Context, clientID, clientSecret, code, redirectURI string,
) (credential.Token, error) {
	return e.exchange(ctx, tokenRequest{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		GrantType:    GrantAuthorizationCode,
		Code:         code,
		RedirectURI:  redirectURI,
	})
}

func (e *Exchanger) exchange(ctx context.Context, tr tokenRequest) (credential.Token, error) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return credential.Token{}, fmt.Errorf("encode %s request: %w", tr.GrantType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.authURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return credential.Token{}, fmt.Errorf("build %s request: %w", tr.GrantType, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return credential.Token{}, fmt.Errorf("%s: %w: %w", tr.GrantType, domain.ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return credential.Token{}, fmt.Errorf("%s: read response: %w: %w", tr.GrantType, domain.ErrExchangeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credential.Token{}, fmt.Errorf("%s: %w: %w",
			tr.GrantType, domain.ErrExchangeFailed, domain.NewStatusError(resp.StatusCode, string(body)))
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return credential.Token{}, fmt.Errorf("%s: decode response: %w: %w", tr.GrantType, domain.ErrExchangeFailed, err)
	}
	if out.AccessToken == "" {
		return credential.Token{}, fmt.Errorf("%s: empty access token: %w", tr.GrantType, domain.ErrExchangeFailed)
	}

	return credential.Token{
		AccessToken:  out.AccessToken,
		TokenType:    out.TokenType,
		ExpiresIn:    out.ExpiresIn,
		RefreshToken: out.RefreshToken,
	}, nil
}
