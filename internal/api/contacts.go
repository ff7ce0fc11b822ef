package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/pipeline"
)

const maxSmallBodySize = 64 << 10

func handleResolveContact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProfileLink string `json:"profileLink"`
		}
		if !decodeJSON(w, r, maxSmallBodySize, &req) {
			return
		}
		link := strings.TrimSpace(req.ProfileLink)
		if link == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "profileLink is required")
			return
		}

		contact, err := deps.Contacts.ResolveLink(r.Context(), link)
		if err != nil {
			zap.L().Warn("api: contact lookup failed", zap.Error(err))
			httpError(w, http.StatusBadGateway, "upstream_error", "contact lookup failed")
			return
		}
		if contact == nil {
			writeJSON(w, http.StatusOK, map[string]bool{"found": false})
			return
		}
		writeJSON(w, http.StatusOK, pipeline.NewContactView(contact))
	}
}
