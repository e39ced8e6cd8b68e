package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Token is the result of a credential exchange.
type Token struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64 // seconds
	RefreshToken string
}

// FromToken builds a Credential from an exchanged token.
// The access token is read as an unverified JWT: exp sets the expiry, and for
// user tokens aud and sub set the owner and user ids. When the token is not a
// JWT the expiry falls back to now + ExpiresIn.
func FromToken(kind Kind, tok Token, now time.Time, opts ...Option) (*Credential, error) {
	derived := make([]Option, 0, 3)
	if tok.RefreshToken != "" {
		derived = append(derived, WithRefreshToken(tok.RefreshToken))
	}

	claims, ok := parseClaims(tok.AccessToken)
	switch {
	case ok && claims.ExpiresAt != nil:
		derived = append(derived, WithExpiresAt(claims.ExpiresAt.Time))
	case tok.ExpiresIn > 0:
		derived = append(derived, WithExpiresAt(now.Add(time.Duration(tok.ExpiresIn)*time.Second)))
	}
	if ok && kind == KindUser {
		owner := ""
		if len(claims.Audience) > 0 {
			owner = claims.Audience[0]
		}
		derived = append(derived, WithUser(owner, claims.Subject))
	}

	return New(kind, tok.AccessToken, tok.TokenType, append(derived, opts...)...)
}

func parseClaims(raw string) (*jwt.RegisteredClaims, bool) {
	if raw == "" {
		return nil, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}
