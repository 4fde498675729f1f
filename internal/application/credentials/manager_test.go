package credentials_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/daitrader/internal/application/credentials"
	"github.com/alejandrodnm/daitrader/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	tok     *domain.TokenSet
	loadErr error
	saves   int
	deletes int
}

func (s *memStore) Load(context.Context) (domain.TokenSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return domain.TokenSet{}, s.loadErr
	}
	if s.tok == nil {
		return domain.TokenSet{}, domain.ErrTokenNotFound
	}
	return *s.tok, nil
}

func (s *memStore) Save(_ context.Context, tok domain.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = &tok
	s.saves++
	return nil
}

func (s *memStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	s.loadErr = nil
	s.deletes++
	return nil
}

// fakeEndpoint replays scripted results; an empty script means success.
type fakeEndpoint struct {
	refreshErrs  []error
	validateErrs []error
	refreshes    int
	validations  int
	validated    []string
}

func (f *fakeEndpoint) Refresh(_ context.Context, refreshToken string) (domain.TokenSet, error) {
	f.refreshes++
	if len(f.refreshErrs) > 0 {
		err := f.refreshErrs[0]
		f.refreshErrs = f.refreshErrs[1:]
		if err != nil {
			return domain.TokenSet{}, err
		}
	}
	return domain.TokenSet{
		AccessToken: fmt.Sprintf("acc-%d", f.refreshes),
		IssuedAt:    now,
		ExpiresAt:   now.Add(30 * time.Minute),
	}, nil
}

func (f *fakeEndpoint) Validate(_ context.Context, accessToken string) error {
	f.validations++
	f.validated = append(f.validated, accessToken)
	if len(f.validateErrs) > 0 {
		err := f.validateErrs[0]
		f.validateErrs = f.validateErrs[1:]
		return err
	}
	return nil
}

func token(age time.Duration) *domain.TokenSet {
	issued := now.Add(-age)
	return &domain.TokenSet{
		AccessToken:  "acc-old",
		RefreshToken: "ref-old",
		IssuedAt:     issued,
		ExpiresAt:    now.Add(20 * time.Minute),
	}
}

func newManager(store *memStore, ep *fakeEndpoint) *credentials.Manager {
	return credentials.NewManager(store, ep, credentials.Options{
		Freshness:   5 * 24 * time.Hour,
		BaseBackoff: time.Millisecond,
		Now:         func() time.Time { return now },
	})
}

var errNet = errors.New("connection reset")

func rejected() error {
	return fmt.Errorf("schwab: %w: 401", domain.ErrAuthRejected)
}

func TestEnsureFresh_OldTokenIsRefreshedAndValidated(t *testing.T) {
	store := &memStore{tok: token(6 * 24 * time.Hour)}
	ep := &fakeEndpoint{}

	tok, err := newManager(store, ep).EnsureFresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, ep.refreshes)
	assert.Equal(t, []string{"acc-1"}, ep.validated)
	assert.Equal(t, "acc-1", tok.AccessToken)
	assert.Equal(t, "ref-old", tok.RefreshToken, "refresh token carried over when the venue omits it")
	assert.Equal(t, now, tok.IssuedAt)
	require.NotNil(t, store.tok)
	assert.Equal(t, "acc-1", store.tok.AccessToken)
	assert.Equal(t, 1, store.saves)
}

func TestEnsureFresh_FreshTokenOnlyValidated(t *testing.T) {
	store := &memStore{tok: token(time.Hour)}
	ep := &fakeEndpoint{}

	tok, err := newManager(store, ep).EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ep.refreshes)
	assert.Equal(t, 1, ep.validations)
	assert.Equal(t, "acc-old", tok.AccessToken)
	assert.Equal(t, 0, store.saves)
}

func TestEnsureFresh_ExpiredTokenRefreshed(t *testing.T) {
	tok := token(time.Hour)
	tok.ExpiresAt = now.Add(-time.Minute)
	store := &memStore{tok: tok}
	ep := &fakeEndpoint{}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ep.refreshes)
}

func TestEnsureFresh_MissingTokenIsInvalid(t *testing.T) {
	_, err := newManager(&memStore{}, &fakeEndpoint{}).EnsureFresh(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthInvalid(err))
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestEnsureFresh_CorruptTokenDeleted(t *testing.T) {
	store := &memStore{loadErr: fmt.Errorf("tokenfile: %w", domain.ErrTokenCorrupt)}
	ep := &fakeEndpoint{}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthInvalid(err))
	assert.Equal(t, 1, store.deletes)
	assert.Equal(t, 0, ep.refreshes)
}

func TestEnsureFresh_RejectedValidationForcesOneRefresh(t *testing.T) {
	store := &memStore{tok: token(time.Hour)}
	ep := &fakeEndpoint{validateErrs: []error{rejected(), nil}}

	tok, err := newManager(store, ep).EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ep.refreshes)
	assert.Equal(t, []string{"acc-old", "acc-1"}, ep.validated)
	assert.Equal(t, "acc-1", tok.AccessToken)
	assert.Equal(t, 0, store.deletes)
}

func TestEnsureFresh_SecondRejectionDeletesAndStops(t *testing.T) {
	store := &memStore{tok: token(time.Hour)}
	ep := &fakeEndpoint{validateErrs: []error{rejected(), rejected()}}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthInvalid(err))
	assert.ErrorIs(t, err, domain.ErrAuthRejected)
	assert.Equal(t, 1, ep.refreshes, "exactly one forced refresh")
	assert.Equal(t, 2, ep.validations)
	assert.Equal(t, 1, store.deletes)
	assert.Nil(t, store.tok)
}

func TestEnsureFresh_RefreshRejectedDeletes(t *testing.T) {
	store := &memStore{tok: token(6 * 24 * time.Hour)}
	ep := &fakeEndpoint{refreshErrs: []error{rejected()}}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthInvalid(err))
	assert.Equal(t, 1, ep.refreshes, "rejections are not retried")
	assert.Equal(t, 0, ep.validations)
	assert.Equal(t, 1, store.deletes)
}

func TestEnsureFresh_TransientRetriedThenSucceeds(t *testing.T) {
	store := &memStore{tok: token(6 * 24 * time.Hour)}
	ep := &fakeEndpoint{refreshErrs: []error{errNet, errNet, nil}}

	tok, err := newManager(store, ep).EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ep.refreshes)
	assert.Equal(t, "acc-3", tok.AccessToken)
}

func TestEnsureFresh_TransientExhausted(t *testing.T) {
	store := &memStore{tok: token(6 * 24 * time.Hour)}
	ep := &fakeEndpoint{refreshErrs: []error{errNet, errNet, errNet, errNet}}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.Error(t, err)

	var ae *domain.AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, domain.AuthTransient, ae.Kind)
	assert.Equal(t, "refresh", ae.Op)
	assert.Equal(t, 3, ae.Attempts)
	assert.ErrorIs(t, err, errNet)
	assert.Equal(t, 3, ep.refreshes)
	assert.Equal(t, 0, store.deletes, "transient failures keep the token file")
	require.NotNil(t, store.tok)
}

func TestEnsureFresh_TransientValidationNotRefreshed(t *testing.T) {
	store := &memStore{tok: token(time.Hour)}
	ep := &fakeEndpoint{validateErrs: []error{errNet, errNet, errNet}}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.Error(t, err)
	assert.False(t, domain.IsAuthInvalid(err))
	assert.Equal(t, 0, ep.refreshes)
	assert.Equal(t, 3, ep.validations)
}

func TestForceRefresh(t *testing.T) {
	store := &memStore{tok: token(time.Minute)}
	ep := &fakeEndpoint{}

	tok, err := newManager(store, ep).ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc-1", tok.AccessToken)
	assert.Equal(t, 1, ep.refreshes)
}

func TestInstall_RejectsIncomplete(t *testing.T) {
	store := &memStore{}
	m := newManager(store, &fakeEndpoint{})

	err := m.Install(context.Background(), domain.TokenSet{AccessToken: "a"})
	assert.ErrorIs(t, err, domain.ErrTokenCorrupt)

	require.NoError(t, m.Install(context.Background(), *token(0)))
	assert.Equal(t, 1, store.saves)
}

func TestInspect(t *testing.T) {
	store := &memStore{tok: token(6 * 24 * time.Hour)}
	ep := &fakeEndpoint{validateErrs: []error{rejected()}}

	st := newManager(store, ep).Inspect(context.Background())
	assert.True(t, st.Present)
	assert.True(t, st.NeedsRefresh)
	assert.False(t, st.Valid)
	assert.NotEmpty(t, st.Error)
	assert.InDelta(t, 144, st.AgeHours, 0.01)
	assert.Equal(t, 0, store.deletes)
}

func TestEnsureFresh_NearExpiryRefreshed(t *testing.T) {
	tok := token(time.Hour)
	tok.ExpiresAt = now.Add(2 * time.Minute)
	store := &memStore{tok: tok}
	ep := &fakeEndpoint{}

	_, err := newManager(store, ep).EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ep.refreshes)
}

func TestKeep_StopsOnInvalid(t *testing.T) {
	store := &memStore{tok: token(time.Hour)}
	ep := &fakeEndpoint{validateErrs: []error{rejected(), rejected()}}

	errc := make(chan error, 1)
	go func() { errc <- newManager(store, ep).Keep(context.Background(), 5*time.Millisecond) }()

	select {
	case err := <-errc:
		assert.True(t, domain.IsAuthInvalid(err))
	case <-time.After(2 * time.Second):
		t.Fatal("keeper did not stop")
	}
}

func TestKeep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newManager(&memStore{tok: token(time.Hour)}, &fakeEndpoint{}).Keep(ctx, time.Hour)
	assert.NoError(t, err)
}
