package credential

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fakeProvider struct {
	mu        sync.Mutex
	refreshes atomic.Int32
	refreshFn func(n int32, refreshToken string) (*Token, error)
	exchange  *Token
	revoked   []string
	revokeErr error
}

func (f *fakeProvider) AuthCodeURL(state string) string { return "https://consent.example/?state=" + state }

func (f *fakeProvider) Exchange(_ context.Context, code string) (*Token, error) {
	if code == "bad" {
		return nil, errors.New("invalid_grant")
	}
	return f.exchange, nil
}

func (f *fakeProvider) Refresh(_ context.Context, refreshToken string) (*Token, error) {
	n := f.refreshes.Add(1)
	return f.refreshFn(n, refreshToken)
}

func (f *fakeProvider) Revoke(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, token)
	return f.revokeErr
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cred.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestManager(st store.CredentialStore, p Provider) *Manager {
	m := NewManager(st, p,
		WithExpiryLeeway(time.Minute),
		WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	)
	m.now = func() time.Time { return testNow }
	return m
}

func seed(t *testing.T, st store.CredentialStore, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, st.UpsertCredential(context.Background(), &model.DelegatedCredential{
		OwnerID:      "owner-1",
		AccessToken:  "old-access",
		RefreshToken: "refresh-1",
		ExpiresAt:    expiresAt,
		IsActive:     true,
	}))
}

func TestEnsureValid_NoCredential(t *testing.T) {
	p := &fakeProvider{}
	v, err := newTestManager(newTestStore(t), p).EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.False(t, v.OK)
	assert.True(t, v.NeedsReauth)
	assert.Zero(t, p.refreshes.Load())
}

func TestEnsureValid_Unexpired(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(time.Hour))
	p := &fakeProvider{}

	v, err := newTestManager(st, p).EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, "old-access", v.AccessToken)
	assert.Equal(t, "refresh-1", v.RefreshToken)
	assert.Zero(t, p.refreshes.Load())
}

func TestEnsureValid_RefreshPersistsBeforeReturn(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(-time.Minute))
	p := &fakeProvider{refreshFn: func(_ int32, rt string) (*Token, error) {
		assert.Equal(t, "refresh-1", rt)
		return &Token{AccessToken: "new-access", Expiry: testNow.Add(time.Hour)}, nil
	}}

	v, err := newTestManager(st, p).EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, "new-access", v.AccessToken)
	assert.Equal(t, "refresh-1", v.RefreshToken)

	cred, err := st.GetCredential(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", cred.AccessToken)
	assert.Equal(t, "refresh-1", cred.RefreshToken)
	assert.True(t, cred.ExpiresAt.Equal(testNow.Add(time.Hour)))
	assert.True(t, cred.IsActive)
}

func TestEnsureValid_WithinLeewayRefreshes(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(30*time.Second))
	p := &fakeProvider{refreshFn: func(int32, string) (*Token, error) {
		return &Token{AccessToken: "new-access", RefreshToken: "refresh-2", Expiry: testNow.Add(time.Hour)}, nil
	}}

	v, err := newTestManager(st, p).EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", v.RefreshToken)
	assert.Equal(t, int32(1), p.refreshes.Load())

	cred, err := st.GetCredential(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", cred.RefreshToken)
}

func TestEnsureValid_RefreshFailureDeactivates(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(-time.Minute))
	p := &fakeProvider{refreshFn: func(int32, string) (*Token, error) {
		return nil, errors.New("invalid_grant")
	}}
	m := newTestManager(st, p)

	v, err := m.EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.False(t, v.OK)
	assert.True(t, v.NeedsReauth)
	assert.Equal(t, int32(1), p.refreshes.Load())

	cred, err := st.GetCredential(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.False(t, cred.IsActive)

	v, err = m.EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, v.NeedsReauth)
	assert.Equal(t, int32(1), p.refreshes.Load(), "deactivated credential is not refreshed again")
}

func TestEnsureValid_TransientRefreshRetried(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(-time.Minute))
	p := &fakeProvider{refreshFn: func(n int32, _ string) (*Token, error) {
		if n == 1 {
			return nil, resilience.NewTransientError(errors.New("503 from token endpoint"), 503)
		}
		return &Token{AccessToken: "new-access", Expiry: testNow.Add(time.Hour)}, nil
	}}

	v, err := newTestManager(st, p).EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, v.OK)
	assert.Equal(t, int32(2), p.refreshes.Load())
}

func TestEnsureValid_ConcurrentCallersRefreshOnce(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(-time.Minute))
	p := &fakeProvider{refreshFn: func(int32, string) (*Token, error) {
		time.Sleep(20 * time.Millisecond)
		return &Token{AccessToken: "new-access", Expiry: testNow.Add(time.Hour)}, nil
	}}
	m := newTestManager(st, p)

	var wg sync.WaitGroup
	results := make([]Validity, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.EnsureValid(context.Background(), "owner-1")
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), p.refreshes.Load())
	for _, v := range results {
		assert.True(t, v.OK)
		assert.Equal(t, "new-access", v.AccessToken)
	}
}

func TestEnsureValid_ZeroExpiryGetsDefaultLifetime(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(-time.Minute))
	p := &fakeProvider{refreshFn: func(int32, string) (*Token, error) {
		return &Token{AccessToken: "new-access"}, nil
	}}

	_, err := newTestManager(st, p).EnsureValid(context.Background(), "owner-1")
	require.NoError(t, err)
	cred, err := st.GetCredential(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.True(t, cred.ExpiresAt.Equal(testNow.Add(time.Hour)))
}

func TestStatus(t *testing.T) {
	st := newTestStore(t)
	m := newTestManager(st, &fakeProvider{})
	ctx := context.Background()

	s, err := m.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, Status{}, s)

	seed(t, st, testNow.Add(time.Hour))
	s, err = m.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, Status{Authorized: true}, s)

	seed(t, st, testNow.Add(-time.Hour))
	s, err = m.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, Status{Authorized: true, NeedsRefresh: true}, s)

	require.NoError(t, st.DeactivateCredential(ctx, "owner-1"))
	s, err = m.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, Status{}, s)
}

func TestComplete(t *testing.T) {
	st := newTestStore(t)
	p := &fakeProvider{exchange: &Token{AccessToken: "a1", RefreshToken: "r1", Expiry: testNow.Add(time.Hour), Scope: "gmail.send"}}
	m := newTestManager(st, p)
	ctx := context.Background()

	require.NoError(t, m.Complete(ctx, "owner-1", "code"))
	cred, err := st.GetCredential(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, cred.IsActive)
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.Equal(t, "gmail.send", cred.Scope)

	// Re-consent without a new refresh token keeps the stored one.
	p.exchange = &Token{AccessToken: "a2", Expiry: testNow.Add(time.Hour)}
	require.NoError(t, m.Complete(ctx, "owner-1", "code"))
	cred, err = st.GetCredential(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "a2", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)

	require.Error(t, m.Complete(ctx, "owner-1", "bad"))
}

func TestComplete_NoRefreshTokenRejected(t *testing.T) {
	st := newTestStore(t)
	p := &fakeProvider{exchange: &Token{AccessToken: "a1", Expiry: testNow.Add(time.Hour)}}

	err := newTestManager(st, p).Complete(context.Background(), "owner-1", "code")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrMissingRefreshToken)

	_, err = st.GetCredential(context.Background(), "owner-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevoke(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, testNow.Add(time.Hour))
	p := &fakeProvider{revokeErr: errors.New("provider unreachable")}
	m := newTestManager(st, p)
	ctx := context.Background()

	require.NoError(t, m.Revoke(ctx, "owner-1"))
	assert.Equal(t, []string{"refresh-1"}, p.revoked)
	_, err := st.GetCredential(ctx, "owner-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, m.Revoke(ctx, "owner-1"))
	assert.Len(t, p.revoked, 1)
}

func TestAuthorizeURL(t *testing.T) {
	m := newTestManager(newTestStore(t), &fakeProvider{})
	assert.Equal(t, "https://consent.example/?state=abc", m.AuthorizeURL("abc"))
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	var k keyedMutex
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Len(t, k.locks, 2)
	unlockA()
	unlockB()
	assert.Empty(t, k.locks)
}
