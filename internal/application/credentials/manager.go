// Package credentials keeps the venue token set fresh and validated before any
// dependent process is started.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

const (
	// DefaultFreshness is the token age that forces a refresh.
	DefaultFreshness = 5 * 24 * time.Hour
	// DefaultTransientRetries is how many extra attempts a network failure gets.
	DefaultTransientRetries = 2
	// DefaultExpiryMargin refreshes an access token this long before it expires.
	DefaultExpiryMargin = 5 * time.Minute

	baseRetryWait = 500 * time.Millisecond
)

// Options configure a Manager. Zero values take the defaults; a negative
// TransientRetries disables retrying.
type Options struct {
	Freshness        time.Duration
	ExpiryMargin     time.Duration
	TransientRetries int
	BaseBackoff      time.Duration
	Now              func() time.Time
}

// Manager is the only writer of the token file.
type Manager struct {
	store     ports.CredentialStore
	endpoint  ports.AuthEndpoint
	freshness time.Duration
	margin    time.Duration
	retries   int
	backoff   time.Duration
	now       func() time.Time
}

// NewManager creates a Manager.
func NewManager(store ports.CredentialStore, endpoint ports.AuthEndpoint, opts Options) *Manager {
	m := &Manager{
		store:     store,
		endpoint:  endpoint,
		freshness: opts.Freshness,
		margin:    opts.ExpiryMargin,
		retries:   opts.TransientRetries,
		backoff:   opts.BaseBackoff,
		now:       opts.Now,
	}
	if m.freshness <= 0 {
		m.freshness = DefaultFreshness
	}
	if m.margin <= 0 {
		m.margin = DefaultExpiryMargin
	}
	switch {
	case m.retries == 0:
		m.retries = DefaultTransientRetries
	case m.retries < 0:
		m.retries = 0
	}
	if m.backoff <= 0 {
		m.backoff = baseRetryWait
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// EnsureFresh returns a token set that is unexpired and accepted by the venue.
//
// A set older than the freshness threshold, expired or about to expire is
// refreshed first.
// The result is always validated with a cheap authenticated read; a rejected
// validation gets exactly one forced refresh and a second validation. Network
// failures are retried with backoff and surface as AuthTransient once
// exhausted. Anything that needs the operator is AuthInvalid and never loops.
func (m *Manager) EnsureFresh(ctx context.Context) (domain.TokenSet, error) {
	tok, err := m.load(ctx)
	if err != nil {
		return domain.TokenSet{}, err
	}

	if m.needsRefresh(tok) {
		slog.Info("token refresh required",
			"age_hours", int(tok.Age(m.now()).Hours()),
			"expired", tok.Expired(m.now()))
		if tok, err = m.refresh(ctx, tok); err != nil {
			return domain.TokenSet{}, err
		}
	}

	err = m.validate(ctx, tok)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, domain.ErrAuthRejected) {
		return domain.TokenSet{}, err
	}

	slog.Warn("token rejected by venue, forcing one refresh", "err", err)
	if tok, err = m.refresh(ctx, tok); err != nil {
		return domain.TokenSet{}, err
	}
	err = m.validate(ctx, tok)
	switch {
	case err == nil:
		return tok, nil
	case errors.Is(err, domain.ErrAuthRejected):
		m.invalidate(ctx)
		return domain.TokenSet{}, &domain.AuthError{Kind: domain.AuthInvalid, Op: "validate", Attempts: 2, Err: err}
	default:
		return domain.TokenSet{}, err
	}
}

// ForceRefresh refreshes regardless of age and validates the result.
func (m *Manager) ForceRefresh(ctx context.Context) (domain.TokenSet, error) {
	tok, err := m.load(ctx)
	if err != nil {
		return domain.TokenSet{}, err
	}
	if tok, err = m.refresh(ctx, tok); err != nil {
		return domain.TokenSet{}, err
	}
	if err := m.validate(ctx, tok); err != nil {
		if errors.Is(err, domain.ErrAuthRejected) {
			m.invalidate(ctx)
			return domain.TokenSet{}, &domain.AuthError{Kind: domain.AuthInvalid, Op: "validate", Attempts: 1, Err: err}
		}
		return domain.TokenSet{}, err
	}
	return tok, nil
}

// Install persists a set obtained by the manual login flow.
func (m *Manager) Install(ctx context.Context, tok domain.TokenSet) error {
	if !tok.Complete() {
		return fmt.Errorf("credentials.Install: %w: incomplete token set", domain.ErrTokenCorrupt)
	}
	if err := m.store.Save(ctx, tok); err != nil {
		return fmt.Errorf("credentials.Install: %w", err)
	}
	return nil
}

func (m *Manager) needsRefresh(tok domain.TokenSet) bool {
	now := m.now()
	return tok.NeedsRefresh(now, m.freshness) || tok.Expired(now.Add(m.margin))
}

func (m *Manager) load(ctx context.Context) (domain.TokenSet, error) {
	tok, err := m.store.Load(ctx)
	switch {
	case err == nil:
		return tok, nil
	case errors.Is(err, domain.ErrTokenCorrupt):
		slog.Error("token file corrupt, deleting", "err", err)
		m.invalidate(ctx)
	}
	return domain.TokenSet{}, &domain.AuthError{Kind: domain.AuthInvalid, Op: "load", Attempts: 1, Err: err}
}

// refresh exchanges the refresh token and persists the new set atomically.
func (m *Manager) refresh(ctx context.Context, old domain.TokenSet) (domain.TokenSet, error) {
	var tok domain.TokenSet
	err := m.withRetry(ctx, "refresh", func() error {
		var err error
		tok, err = m.endpoint.Refresh(ctx, old.RefreshToken)
		return err
	})
	if err != nil {
		if domain.IsAuthInvalid(err) {
			m.invalidate(ctx)
		}
		return domain.TokenSet{}, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}
	if err := m.store.Save(ctx, tok); err != nil {
		return domain.TokenSet{}, fmt.Errorf("credentials.refresh: %w", err)
	}
	slog.Info("token refreshed", "expires_at", tok.ExpiresAt.Format(time.RFC3339))
	return tok, nil
}

// validate returns the raw rejection so EnsureFresh decides on the retry.
func (m *Manager) validate(ctx context.Context, tok domain.TokenSet) error {
	err := m.withRetry(ctx, "validate", func() error {
		return m.endpoint.Validate(ctx, tok.AccessToken)
	})
	var ae *domain.AuthError
	if errors.As(err, &ae) && ae.Kind == domain.AuthInvalid {
		return ae.Err
	}
	return err
}

// withRetry retries network failures with exponential backoff. A venue
// rejection stops at once and is classified AuthInvalid.
func (m *Manager) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	attempts := 0
	for attempt := 0; attempt <= m.retries; attempt++ {
		attempts++
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrAuthRejected) {
			return &domain.AuthError{Kind: domain.AuthInvalid, Op: op, Attempts: attempts, Err: err}
		}
		if ctx.Err() != nil || attempt == m.retries {
			break
		}
		slog.Warn("auth call failed, retrying", "op", op, "attempt", attempts, "err", err)
		wait := m.backoff << attempt
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}
	return &domain.AuthError{Kind: domain.AuthTransient, Op: op, Attempts: attempts, Err: err}
}

func (m *Manager) invalidate(ctx context.Context) {
	if err := m.store.Delete(ctx); err != nil {
		slog.Error("could not delete token file", "err", err)
	}
}

// Status is a read-only report on the persisted token set.
type Status struct {
	Present      bool      `json:"present"`
	IssuedAt     time.Time `json:"issued_at,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	AgeHours     float64   `json:"age_hours"`
	NeedsRefresh bool      `json:"needs_refresh"`
	Valid        bool      `json:"valid"`
	Error        string    `json:"error,omitempty"`
}

// Inspect loads and validates the token set without refreshing or deleting it.
func (m *Manager) Inspect(ctx context.Context) Status {
	tok, err := m.store.Load(ctx)
	if err != nil {
		return Status{Error: err.Error()}
	}
	now := m.now()
	st := Status{
		Present:      true,
		IssuedAt:     tok.IssuedAt,
		ExpiresAt:    tok.ExpiresAt,
		AgeHours:     tok.Age(now).Hours(),
		NeedsRefresh: m.needsRefresh(tok),
	}
	if err := m.endpoint.Validate(ctx, tok.AccessToken); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Valid = true
	return st
}

// Keep re-runs EnsureFresh every interval until ctx ends. Transient failures
// are logged and retried on the next tick; an AuthInvalid result is returned
// so the caller can stop everything that depends on the token.
func (m *Manager) Keep(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.EnsureFresh(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if domain.IsAuthInvalid(err) {
					return err
				}
				slog.Warn("token keepalive failed, retrying next tick", "err", err)
			}
		}
	}
}
