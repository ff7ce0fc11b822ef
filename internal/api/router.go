// Package api is the HTTP surface: pipeline submission and status, manual
// contact lookup, message generation and sending, and the delegated mail
// credential's authorization flow.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/auth"
	"github.com/sells-group/outreach-cli/internal/credential"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/message"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Requests submits and reads pipeline requests for an owner.
type Requests interface {
	Submit(ctx context.Context, ownerID, target, candidateProfile string) (*model.PipelineRequest, error)
	Get(ctx context.Context, ownerID, requestID string) (*model.PipelineRequest, error)
	List(ctx context.Context, ownerID string, status model.RequestStatus, limit int) ([]model.PipelineRequest, error)
	Cancel(ctx context.Context, ownerID, requestID string) error
}

// ContactResolver resolves a profile link; nil, nil means nothing found.
type ContactResolver interface {
	ResolveLink(ctx context.Context, profileLink string) (*model.ContactInfo, error)
}

// MessageGenerator drafts one message.
type MessageGenerator interface {
	Generate(ctx context.Context, in message.Input) (*message.Message, error)
}

// MessageSender delivers one message with the owner's credential.
type MessageSender interface {
	Send(ctx context.Context, ownerID string, out dispatch.Outbound) dispatch.Result
}

// Credentials drives the delegated credential's lifecycle.
type Credentials interface {
	Status(ctx context.Context, ownerID string) (credential.Status, error)
	AuthorizeURL(state string) string
	Complete(ctx context.Context, ownerID, code string) error
	Revoke(ctx context.Context, ownerID string) error
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handlers. Every field is required except Pool.
type Deps struct {
	Requests    Requests
	Contacts    ContactResolver
	Messages    MessageGenerator
	Sender      MessageSender
	Credentials Credentials
	Sends       store.SendStore
	Attachments store.AttachmentStore
	Health      Pinger
	Tokens      *auth.JWTManager
	Pool        *pipeline.Pool

	AllowedOrigins       []string
	AllowedReturnOrigins []string
}

// NewRouter builds the API handler.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Filename"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(deps))
	r.Get("/credential/callback", handleCallback(deps))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Tokens))

		r.Post("/pipeline/submit", handleSubmit(deps))
		r.Get("/pipeline", handleListRequests(deps))
		r.Get("/pipeline/{requestId}", handleGetRequest(deps))
		r.Post("/pipeline/{requestId}/cancel", handleCancel(deps))

		r.Post("/contacts/resolve", handleResolveContact(deps))
		r.Post("/messages/generate", handleGenerateMessage(deps))
		r.Post("/messages/send", handleSendMessage(deps))

		r.Get("/credential/status", handleCredentialStatus(deps))
		r.Get("/credential/authorize", handleAuthorize(deps))
		r.Post("/credential/authorize", handleAuthorize(deps))
		r.Post("/credential/revoke", handleRevoke(deps))

		r.Put("/attachment", handlePutAttachment(deps))
		r.Get("/sends", handleListSends(deps))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok"}
		if deps.Health != nil {
			if err := deps.Health.Ping(r.Context()); err != nil {
				httpError(w, http.StatusServiceUnavailable, "api_error", "store unavailable")
				return
			}
		}
		if deps.Pool != nil {
			resp["pool"] = deps.Pool.Stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
