package dispatch

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/outreach-cli/internal/credential"
)

// --- Credential Checker Mock ---

type mockCredentialChecker struct {
	mock.Mock
}

func (m *mockCredentialChecker) EnsureValid(ctx context.Context, ownerID string) (credential.Validity, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(credential.Validity), args.Error(1)
}

// --- Mail Sender Mock ---

type mockMailSender struct {
	mock.Mock
}

func (m *mockMailSender) Send(ctx context.Context, accessToken string, raw []byte) (string, error) {
	args := m.Called(ctx, accessToken, raw)
	return args.String(0), args.Error(1)
}

// lastRaw returns the message bytes of the most recent Send call.
func (m *mockMailSender) lastRaw() []byte {
	calls := m.Calls
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1].Arguments.Get(2).([]byte)
}

// --- OAuth Provider Mock ---

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) AuthCodeURL(state string) string {
	return m.Called(state).String(0)
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*credential.Token, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credential.Token), args.Error(1)
}

func (m *mockProvider) Refresh(ctx context.Context, refreshToken string) (*credential.Token, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credential.Token), args.Error(1)
}

func (m *mockProvider) Revoke(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
