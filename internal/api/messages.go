package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/message"
)

type generateRequest struct {
	Role             string `json:"role"`
	Organization     string `json:"organization"`
	RoleDescription  string `json:"roleDescription"`
	CandidateProfile string `json:"candidateProfile"`
	RecipientName    string `json:"recipientName"`
}

func handleGenerateMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeJSON(w, r, maxSubmitBodySize, &req) {
			return
		}
		msg, err := deps.Messages.Generate(r.Context(), message.Input(req))
		if err != nil {
			zap.L().Warn("api: message generation failed", zap.Error(err))
			httpError(w, http.StatusBadGateway, "upstream_error", "message generation failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"subject": msg.Subject, "body": msg.Body})
	}
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type sendResponse struct {
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

func handleSendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if !decodeJSON(w, r, maxSubmitBodySize, &req) {
			return
		}
		switch {
		case strings.TrimSpace(req.Recipient) == "":
			httpError(w, http.StatusBadRequest, "invalid_request_error", "recipient is required")
			return
		case strings.TrimSpace(req.Body) == "":
			httpError(w, http.StatusBadRequest, "invalid_request_error", "body is required")
			return
		}

		res := deps.Sender.Send(r.Context(), ownerFrom(r), dispatch.Outbound{
			Recipient: strings.TrimSpace(req.Recipient),
			Subject:   req.Subject,
			Body:      req.Body,
		})
		writeJSON(w, http.StatusOK, sendResponse{Sent: res.Sent, Reason: res.Reason})
	}
}
