package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

// Large enough for a maximal candidate profile in multi-byte UTF-8.
const maxSubmitBodySize = 256 << 10

type submitRequest struct {
	Target           string `json:"target"`
	CandidateProfile string `json:"candidateProfile"`
}

func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if !decodeJSON(w, r, maxSubmitBodySize, &req) {
			return
		}
		created, err := deps.Requests.Submit(r.Context(), ownerFrom(r), req.Target, req.CandidateProfile)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"requestId": created.ID})
	}
}

func handleGetRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		req, err := deps.Requests.Get(r.Context(), ownerFrom(r), chi.URLParam(r, "requestId"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pipeline.Project(req))
	}
}

func handleCancel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Requests.Cancel(r.Context(), ownerFrom(r), chi.URLParam(r, "requestId")); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func handleListRequests(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}
		status := model.RequestStatus(r.URL.Query().Get("status"))
		rows, err := deps.Requests.List(r.Context(), ownerFrom(r), status, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		views := make([]pipeline.StatusView, len(rows))
		for i := range rows {
			views[i] = pipeline.Project(&rows[i])
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": views})
	}
}

// parseLimit reads an optional positive ?limit. Zero means the store default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
