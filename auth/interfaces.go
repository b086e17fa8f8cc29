package auth

import "context"

// TokenStore is the credential store the session layer reads and mutates.
// An empty string means the token is absent.
type TokenStore interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	SetTokens(ctx context.Context, accessToken, refreshToken string) error
	ClearTokens(ctx context.Context) error
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// RefresherFunc adapts a plain function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return f(ctx, refreshToken)
}
