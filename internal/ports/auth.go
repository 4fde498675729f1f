package ports

import (
	"context"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// CredentialStore persists the TokenSet. Pure data access.
type CredentialStore interface {
	// Load returns domain.ErrTokenNotFound when there is no file and
	// domain.ErrTokenCorrupt when it exists but cannot be read.
	Load(ctx context.Context) (domain.TokenSet, error)

	// Save replaces the TokenSet atomically.
	Save(ctx context.Context, tok domain.TokenSet) error

	// Delete invalidates the persisted TokenSet. Missing is not an error.
	Delete(ctx context.Context) error
}

// AuthEndpoint is the venue's OAuth surface.
type AuthEndpoint interface {
	// Refresh exchanges a refresh token for a new set. Rejections wrap domain.ErrAuthRejected.
	Refresh(ctx context.Context, refreshToken string) (domain.TokenSet, error)

	// Validate performs a cheap authenticated read with the access token.
	Validate(ctx context.Context, accessToken string) error
}

// TokenSource hands the current access token to REST and streaming adapters.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}
