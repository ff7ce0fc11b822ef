// Package credential keeps each account's delegated mail credential usable:
// it verifies expiry, refreshes with the stored refresh token, and runs the
// OAuth code flow that creates the credential.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// defaultTokenLifetime applies when the provider omits an expiry.
const defaultTokenLifetime = time.Hour

// Validity is the outcome of EnsureValid.
type Validity struct {
	AccessToken  string
	RefreshToken string
	// OK means AccessToken can be used now.
	OK bool
	// NeedsReauth means the owner must authorize again before sends resume.
	NeedsReauth bool
}

// Status summarizes an owner's credential without touching the provider.
type Status struct {
	Authorized   bool `json:"authorized"`
	NeedsRefresh bool `json:"needsRefresh"`
}

// Manager is the single authority on whether an owner can send.
type Manager struct {
	store    store.CredentialStore
	provider Provider
	leeway   time.Duration
	retry    resilience.RetryConfig
	now      func() time.Time
	locks    keyedMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithExpiryLeeway treats tokens expiring within d as already expired.
func WithExpiryLeeway(d time.Duration) Option {
	return func(m *Manager) { m.leeway = d }
}

// WithRetry sets the retry policy for transient refresh failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(m *Manager) { m.retry = cfg }
}

// NewManager creates a Manager.
func NewManager(st store.CredentialStore, provider Provider, opts ...Option) *Manager {
	m := &Manager{
		store:    st,
		provider: provider,
		leeway:   time.Minute,
		retry:    resilience.DefaultRetryConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry.ShouldRetry == nil {
		m.retry.ShouldRetry = resilience.IsTransient
	}
	if m.retry.OnRetry == nil {
		m.retry.OnRetry = resilience.RetryLogger("oauth", "refresh")
	}
	return m
}

// EnsureValid returns usable tokens for ownerID, refreshing and persisting
// them first when the access token has expired. A failed refresh
// deactivates the credential. The returned error is reserved for store
// failures; provider problems surface as NeedsReauth.
func (m *Manager) EnsureValid(ctx context.Context, ownerID string) (Validity, error) {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	log := zap.L().With(zap.String("owner_id", ownerID))

	cred, err := m.store.GetCredential(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return Validity{NeedsReauth: true}, nil
	}
	if err != nil {
		return Validity{}, eris.Wrap(err, "credential: load")
	}
	if !cred.IsActive {
		return Validity{NeedsReauth: true}, nil
	}
	if !cred.ExpiredAt(m.now(), m.leeway) {
		return Validity{AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken, OK: true}, nil
	}

	tok, err := resilience.DoVal(ctx, m.retry, func(ctx context.Context) (*Token, error) {
		return m.provider.Refresh(ctx, cred.RefreshToken)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Validity{}, eris.Wrap(ctx.Err(), "credential: refresh")
		}
		log.Warn("credential: refresh failed, deactivating", zap.Error(err))
		if derr := m.store.DeactivateCredential(ctx, ownerID); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			return Validity{}, eris.Wrap(derr, "credential: deactivate")
		}
		return Validity{NeedsReauth: true}, nil
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}
	err = m.store.UpdateCredentialTokens(ctx, ownerID, tok.AccessToken, tok.RefreshToken, expiry)
	if errors.Is(err, store.ErrNotActive) || errors.Is(err, store.ErrNotFound) {
		// Revoked while the refresh was in flight.
		return Validity{NeedsReauth: true}, nil
	}
	if err != nil {
		return Validity{}, eris.Wrap(err, "credential: persist refreshed tokens")
	}

	refresh := cred.RefreshToken
	if tok.RefreshToken != "" {
		refresh = tok.RefreshToken
	}
	log.Info("credential: refreshed", zap.Time("expires_at", expiry), zap.Bool("rotated", tok.RefreshToken != ""))
	return Validity{AccessToken: tok.AccessToken, RefreshToken: refresh, OK: true}, nil
}

// Status reports whether ownerID has an active credential and whether its
// access token needs a refresh.
func (m *Manager) Status(ctx context.Context, ownerID string) (Status, error) {
	cred, err := m.store.GetCredential(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, eris.Wrap(err, "credential: status")
	}
	if !cred.IsActive {
		return Status{}, nil
	}
	return Status{Authorized: true, NeedsRefresh: cred.ExpiredAt(m.now(), m.leeway)}, nil
}

// AuthorizeURL returns the consent URL carrying state.
func (m *Manager) AuthorizeURL(state string) string {
	return m.provider.AuthCodeURL(state)
}

// Complete exchanges code and stores the resulting credential as active.
// A provider that withholds the refresh token on re-consent keeps the
// stored one.
func (m *Manager) Complete(ctx context.Context, ownerID, code string) error {
	tok, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return eris.Wrap(err, "credential: complete authorization")
	}

	unlock := m.locks.Lock(ownerID)
	defer unlock()

	refresh := tok.RefreshToken
	if refresh == "" {
		prev, err := m.store.GetCredential(ctx, ownerID)
		switch {
		case err == nil:
			refresh = prev.RefreshToken
		case !errors.Is(err, store.ErrNotFound):
			return eris.Wrap(err, "credential: load previous")
		}
	}
	if refresh == "" {
		return eris.Wrap(store.ErrMissingRefreshToken, "credential: provider returned no refresh token")
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}
	err = m.store.UpsertCredential(ctx, &model.DelegatedCredential{
		OwnerID:      ownerID,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry,
		Scope:        tok.Scope,
		IsActive:     true,
	})
	if err != nil {
		return eris.Wrap(err, "credential: store")
	}
	zap.L().Info("credential: authorized", zap.String("owner_id", ownerID))
	return nil
}

// Revoke revokes the grant at the provider on a best-effort basis and
// deletes the stored credential. Revoking an absent credential succeeds.
func (m *Manager) Revoke(ctx context.Context, ownerID string) error {
	unlock := m.locks.Lock(ownerID)
	defer unlock()

	cred, err := m.store.GetCredential(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "credential: load for revoke")
	}

	token := cred.RefreshToken
	if token == "" {
		token = cred.AccessToken
	}
	if token != "" {
		if err := m.provider.Revoke(ctx, token); err != nil {
			zap.L().Warn("credential: provider revoke failed", zap.String("owner_id", ownerID), zap.Error(err))
		}
	}
	if err := m.store.DeleteCredential(ctx, ownerID); err != nil {
		return eris.Wrap(err, "credential: delete")
	}
	return nil
}
