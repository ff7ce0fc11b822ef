package message

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

// mockClient implements anthropic.Client for testing.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: text}}}
}

func TestGenerate_ParsesJSON(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			req.MaxTokens == 512 &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			len(req.Messages) == 1 &&
			req.Messages[0].Role == "user"
	})).Return(textResponse("```json\n{\"subject\": \" Go role at Acme \", \"body\": \"Hi Jane,\\nI build Go services.\"}\n```"), nil)

	svc := NewService(mc, "claude-haiku-4-5-20251001", 512)
	msg, err := svc.Generate(context.Background(), Input{
		Role: "Go Developer", Organization: "Acme", RecipientName: "Jane",
		CandidateProfile: "Ten years of Go.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Go role at Acme", msg.Subject)
	assert.Equal(t, "Hi Jane,\nI build Go services.", msg.Body)
	mc.AssertExpectations(t)
}

func TestGenerate_FallbackOnPlainText(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Hello there, I'd love to chat about the role."), nil)

	msg, err := NewService(mc, "m", 0).Generate(context.Background(), Input{Role: "SRE", Organization: "Globex"})
	require.NoError(t, err)
	assert.Equal(t, "Interest in the SRE role at Globex", msg.Subject)
	assert.Equal(t, "Hello there, I'd love to chat about the role.", msg.Body)
}

func TestGenerate_MissingSubjectUsesPlaceholders(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"body": "Short note."}`), nil)

	msg, err := NewService(mc, "m", 0).Generate(context.Background(), Input{})
	require.NoError(t, err)
	assert.Equal(t, "Interest in the Position Not Specified role at Company Not Specified", msg.Subject)
}

func TestGenerate_ProviderError(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewService(mc, "m", 0).Generate(context.Background(), Input{Role: "SRE", Organization: "Globex"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message: generate")
}

func TestGenerate_EmptyText(t *testing.T) {
	mc := &mockClient{}
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("  "), nil)

	_, err := NewService(mc, "m", 0).Generate(context.Background(), Input{Role: "SRE", Organization: "Globex"})
	assert.Error(t, err)
}

func TestUserPrompt_OmitsEmptySections(t *testing.T) {
	p := userPrompt(Input{Role: "SRE", Organization: "Globex"})
	assert.Equal(t, "Role: SRE\nOrganization: Globex\n", p)

	p = userPrompt(Input{Role: "SRE", Organization: "Globex", RoleDescription: "Keep it up", CandidateProfile: "Pager veteran"})
	assert.Contains(t, p, "Role description:\nKeep it up")
	assert.Contains(t, p, "Candidate profile:\nPager veteran")
}

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("Here you go: {\"a\":1} thanks"))
	assert.Equal(t, "no json", cleanJSON("  no json "))
}
