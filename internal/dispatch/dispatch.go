// Package dispatch sends outreach email on an owner's behalf.
package dispatch

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/credential"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Reasons a send did not happen.
const (
	ReasonNeedsReauth      = "needs_reauth"
	ReasonProviderError    = "provider_error"
	ReasonCredentialError  = "credential_error"
	ReasonInvalidRecipient = "invalid_recipient"
	ReasonAttachmentError  = "attachment_error"
	// ReasonGenerationError is recorded by callers when no message could be
	// generated, so Send was never called.
	ReasonGenerationError = "generation_error"
)

// CredentialChecker reports whether an owner's credential can be used now.
type CredentialChecker interface {
	EnsureValid(ctx context.Context, ownerID string) (credential.Validity, error)
}

// MailSender delivers a raw RFC 5322 message and returns the provider's
// message id.
type MailSender interface {
	Send(ctx context.Context, accessToken string, raw []byte) (string, error)
}

// Outbound is one message to send.
type Outbound struct {
	Recipient string
	Subject   string
	Body      string

	// Optional context recorded on the SendRecord.
	RequestID        string
	LeadOrganization string
	LeadTitle        string
}

// Result is the outcome of Send.
type Result struct {
	Sent              bool   `json:"sent"`
	Reason            string `json:"reason,omitempty"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
}

// Dispatcher sends one message per call. It never waits between sends.
type Dispatcher struct {
	creds       CredentialChecker
	sender      MailSender
	sends       store.SendStore
	attachments store.AttachmentStore
	now         func() time.Time
}

// New creates a Dispatcher.
func New(creds CredentialChecker, sender MailSender, sends store.SendStore, attachments store.AttachmentStore) *Dispatcher {
	return &Dispatcher{creds: creds, sender: sender, sends: sends, attachments: attachments, now: time.Now}
}

// Send delivers out from ownerID's account. Undelivered messages report a
// Reason; there is no retry.
func (d *Dispatcher) Send(ctx context.Context, ownerID string, out Outbound) Result {
	log := zap.L().With(zap.String("owner_id", ownerID), zap.String("request_id", out.RequestID))

	v, err := d.creds.EnsureValid(ctx, ownerID)
	if err != nil {
		log.Error("dispatch: credential check failed", zap.Error(err))
		return Result{Reason: ReasonCredentialError}
	}
	if !v.OK {
		return Result{Reason: ReasonNeedsReauth}
	}

	to, err := mail.ParseAddress(strings.TrimSpace(out.Recipient))
	if err != nil {
		log.Warn("dispatch: invalid recipient", zap.Error(err))
		return Result{Reason: ReasonInvalidRecipient}
	}

	att, err := d.attachments.GetAttachment(ctx, ownerID)
	if err != nil {
		log.Error("dispatch: load attachment", zap.Error(err))
		return Result{Reason: ReasonAttachmentError}
	}

	raw, err := composeMessage(to, out.Subject, out.Body, att, d.now())
	if err != nil {
		log.Error("dispatch: compose message", zap.Error(err))
		return Result{Reason: ReasonProviderError}
	}

	msgID, err := d.sender.Send(ctx, v.AccessToken, raw)
	if err != nil {
		log.Warn("dispatch: provider rejected send", zap.Error(err))
		return Result{Reason: ReasonProviderError}
	}

	rec := &model.SendRecord{
		OwnerID:           ownerID,
		RequestID:         out.RequestID,
		LeadOrganization:  out.LeadOrganization,
		LeadTitle:         out.LeadTitle,
		RecipientAddress:  to.Address,
		Subject:           out.Subject,
		Body:              out.Body,
		ProviderMessageID: msgID,
	}
	if err := d.sends.AppendSend(context.WithoutCancel(ctx), rec); err != nil {
		// The message is already out; losing the record must not cause a resend.
		log.Error("dispatch: record send", zap.String("provider_message_id", msgID), zap.Error(err))
	}
	log.Info("dispatch: sent", zap.String("provider_message_id", msgID), zap.Bool("attachment", att != nil))
	return Result{Sent: true, ProviderMessageID: msgID}
}
