// Package store persists pipeline requests, delegated credentials, send
// records, and attachments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Sentinel errors. Compare with errors.Is; stores wrap them with context.
var (
	ErrNotFound = eris.New("store: not found")
	// ErrInvalidTransition means the request's current status does not allow
	// the requested status change.
	ErrInvalidTransition = eris.New("store: invalid status transition")
	// ErrNotProcessing means a stage write targeted a request that is no
	// longer processing (typically cancelled mid-run).
	ErrNotProcessing = eris.New("store: request not processing")
	// ErrNotActive means a token update targeted a deactivated credential.
	ErrNotActive = eris.New("store: credential not active")
	// ErrMissingRefreshToken rejects an active credential without a refresh token.
	ErrMissingRefreshToken = eris.New("store: active credential requires a refresh token")
)

// RequestFilter selects requests for listing.
type RequestFilter struct {
	OwnerID string              `json:"owner_id,omitempty"`
	Status  model.RequestStatus `json:"status,omitempty"`
	// OldestFirst orders by creation ascending, as the worker sweep needs.
	OldestFirst bool `json:"oldest_first,omitempty"`
	Limit       int  `json:"limit,omitempty"`
}

// RequestStore owns PipelineRequest rows. Every stage write is conditional
// on the row still being processing, so terminal rows never change.
type RequestStore interface {
	CreateRequest(ctx context.Context, ownerID, target, candidateProfile string) (*model.PipelineRequest, error)
	GetRequest(ctx context.Context, id string) (*model.PipelineRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.PipelineRequest, error)

	// TransitionStatus moves a request along the state graph. Terminal targets
	// set completed_at. errorDetail is recorded when non-empty.
	TransitionStatus(ctx context.Context, id string, to model.RequestStatus, errorDetail string) error

	SetStage(ctx context.Context, id string, stage model.Stage) error
	SaveRawLeads(ctx context.Context, id string, leads []model.RawLead) error
	SaveFilteredLeads(ctx context.Context, id string, leads []model.Lead) error
	// SaveEnrichedLeads writes the snapshot together with its derived counters.
	SaveEnrichedLeads(ctx context.Context, id string, leads []model.EnrichedLead) error
	SaveDispatchResults(ctx context.Context, id string, results []model.DispatchResult) error
}

// CredentialStore owns one DelegatedCredential per owner.
type CredentialStore interface {
	GetCredential(ctx context.Context, ownerID string) (*model.DelegatedCredential, error)
	// UpsertCredential creates or fully replaces the owner's credential.
	UpsertCredential(ctx context.Context, cred *model.DelegatedCredential) error
	// UpdateCredentialTokens renews tokens in place. An empty refreshToken
	// keeps the stored one. Fails with ErrNotActive on a deactivated row.
	UpdateCredentialTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiresAt time.Time) error
	DeactivateCredential(ctx context.Context, ownerID string) error
	DeleteCredential(ctx context.Context, ownerID string) error
}

// SendStore is the append-only send log.
type SendStore interface {
	AppendSend(ctx context.Context, rec *model.SendRecord) error
	ListSends(ctx context.Context, ownerID string, limit int) ([]model.SendRecord, error)
}

// AttachmentStore holds one attachment per owner.
type AttachmentStore interface {
	PutAttachment(ctx context.Context, att *model.Attachment) error
	// GetAttachment returns nil, nil when the owner has none.
	GetAttachment(ctx context.Context, ownerID string) (*model.Attachment, error)
}

// Store is the full persistence surface.
type Store interface {
	RequestStore
	CredentialStore
	SendStore
	AttachmentStore

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// MaxListLimit is the largest list limit honored; larger limits fall back to
// the default.
const MaxListLimit = 1000

func listLimit(n int) int {
	if n <= 0 || n > MaxListLimit {
		return defaultListLimit
	}
	return n
}
