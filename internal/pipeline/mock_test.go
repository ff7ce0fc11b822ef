package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/message"
)

// --- Message Generator Mock ---

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, in message.Input) (*message.Message, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*message.Message), args.Error(1)
}

// --- Sender Mock ---

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, ownerID string, out dispatch.Outbound) dispatch.Result {
	return m.Called(ctx, ownerID, out).Get(0).(dispatch.Result)
}

func forOrganization(org string) any {
	return mock.MatchedBy(func(in message.Input) bool { return in.Organization == org })
}

func toRecipient(addr string) any {
	return mock.MatchedBy(func(out dispatch.Outbound) bool { return out.Recipient == addr })
}
