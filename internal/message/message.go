// Package message drafts outreach emails with the generation provider.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

const systemPrompt = `You write short, specific cold outreach emails from a job seeker to a hiring contact.

Rules:
- Address the recipient by first name when one is given, otherwise use a neutral greeting.
- Reference the role and organization by name and connect them to one or two concrete
  points from the candidate profile. Never invent experience the profile does not state.
- Keep the body under 180 words, plain text, no markdown, no placeholders in brackets.
- Close by asking for a brief conversation and sign off without a name.

Respond with only a JSON object of the form {"subject": "...", "body": "..."}.`

// Input describes the lead and candidate a message is written for.
type Input struct {
	Role             string
	Organization     string
	RoleDescription  string
	CandidateProfile string
	RecipientName    string
}

// Message is a generated email.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Service generates messages. Safe for concurrent use.
type Service struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewService creates a Service.
func NewService(client anthropic.Client, model string, maxTokens int64) *Service {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Service{client: client, model: model, maxTokens: maxTokens}
}

// Generate drafts a message for in. When the provider does not return the
// requested JSON, its text becomes the body under a fallback subject.
func (s *Service) Generate(ctx context.Context, in Input) (*Message, error) {
	in = withDefaults(in)
	start := time.Now()

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: userPrompt(in)}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "message: generate")
	}
	resp.Usage.LogCost(s.model, "message_generate")

	msg := parseMessage(resp.Text(), in)
	if msg.Body == "" {
		return nil, eris.New("message: provider returned an empty message")
	}
	zap.L().Debug("message: generated",
		zap.Int("body_len", len(msg.Body)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return msg, nil
}

func withDefaults(in Input) Input {
	if strings.TrimSpace(in.Role) == "" {
		in.Role = model.PlaceholderTitle
	}
	if strings.TrimSpace(in.Organization) == "" {
		in.Organization = model.PlaceholderOrganization
	}
	return in
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\nOrganization: %s\n", in.Role, in.Organization)
	if in.RecipientName != "" {
		fmt.Fprintf(&b, "Recipient: %s\n", in.RecipientName)
	}
	if in.RoleDescription != "" {
		fmt.Fprintf(&b, "\nRole description:\n%s\n", in.RoleDescription)
	}
	if in.CandidateProfile != "" {
		fmt.Fprintf(&b, "\nCandidate profile:\n%s\n", in.CandidateProfile)
	}
	return b.String()
}

// FallbackSubject is the subject used when generation yields none.
func FallbackSubject(role, organization string) string {
	return fmt.Sprintf("Interest in the %s role at %s", role, organization)
}

func parseMessage(text string, in Input) *Message {
	var msg Message
	if err := json.Unmarshal([]byte(cleanJSON(text)), &msg); err != nil {
		msg = Message{Body: strings.TrimSpace(text)}
	}
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Subject == "" {
		msg.Subject = FallbackSubject(in.Role, in.Organization)
	}
	return &msg
}

// cleanJSON extracts a JSON object from text that may be wrapped in
// markdown code fences or prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
