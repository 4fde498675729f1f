package domain

import "time"

// TokenSet is the OAuth credential set kept in the token file.
// Only the credential manager mutates it; every other process reads it.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope"`
}

// Age returns how long ago the token set was issued.
func (t TokenSet) Age(now time.Time) time.Duration {
	if t.IssuedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(t.IssuedAt)
}

// Expired reports whether the access token is no longer valid locally.
func (t TokenSet) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// NeedsRefresh is true when the set is older than threshold or already expired.
// A refresh is mandatory in both cases before any dependent process starts.
func (t TokenSet) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	return t.Age(now) > threshold || t.Expired(now)
}

// Complete reports whether both tokens are present.
func (t TokenSet) Complete() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}
