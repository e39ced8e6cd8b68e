package credentials

import (
	"context"

	"github.com/kailas-cloud/quotapool/internal/domain/credential"
)

// Exchanger obtains tokens from the authorization server.
type Exchanger interface {
	ClientCredentials(ctx context.Context, clientID, clientSecret string) (credential.Token, error)
	Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (credential.Token, error)
	AuthorizationCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (credential.Token, error)
}

// Pool is the credential membership the manager maintains.
type Pool interface {
	Register(c *credential.Credential) error
	Replace(old, fresh *credential.Credential) error
	Credentials() []*credential.Credential
}
