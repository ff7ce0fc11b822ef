package api

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/auth"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

type authorizeRequest struct {
	ReturnURL    string       `json:"returnUrl"`
	Continuation string       `json:"continuation"`
	Resume       *auth.Resume `json:"resume"`
}

func handleCredentialStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		st, err := deps.Credentials.Status(r.Context(), ownerFrom(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// handleAuthorize accepts a JSON body on POST and query parameters on GET,
// then redirects to the provider's consent page.
func handleAuthorize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerFrom(r)

		var req authorizeRequest
		if r.Method == http.MethodPost {
			if !decodeJSON(w, r, maxSubmitBodySize, &req) {
				return
			}
		} else {
			q := r.URL.Query()
			req.ReturnURL = q.Get("returnUrl")
			req.Continuation = q.Get("continuation")
			if target := q.Get("target"); target != "" {
				req.Resume = &auth.Resume{Target: target, CandidateProfile: q.Get("candidateProfile")}
			}
		}

		if !allowedReturnURL(req.ReturnURL, deps.AllowedReturnOrigins) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "returnUrl must be a relative path or an allowed origin")
			return
		}
		if req.Resume != nil {
			if err := pipeline.ValidateSubmission(owner, req.Resume.Target, req.Resume.CandidateProfile); err != nil {
				writeServiceError(w, r, err)
				return
			}
		}

		state, err := deps.Tokens.IssueState(auth.State{
			OwnerID:      owner,
			ReturnURL:    req.ReturnURL,
			Continuation: req.Continuation,
			Resume:       req.Resume,
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		http.Redirect(w, r, deps.Credentials.AuthorizeURL(state), http.StatusSeeOther)
	}
}

// handleCallback completes the consent round trip. Once the state verifies,
// every outcome is reported by redirecting to its return URL.
func handleCallback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		q := r.URL.Query()
		st, err := deps.Tokens.ParseState(q.Get("state"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid or expired state")
			return
		}
		log := zap.L().With(zap.String("owner_id", st.OwnerID))

		params := url.Values{}
		if st.Continuation != "" {
			params.Set("continuation", st.Continuation)
		}
		redirect := func() {
			http.Redirect(w, r, withQuery(st.ReturnURL, params), http.StatusSeeOther)
		}

		if providerErr := q.Get("error"); providerErr != "" {
			log.Info("api: authorization declined", zap.String("error", providerErr))
			params.Set("error", providerErr)
			redirect()
			return
		}
		code := q.Get("code")
		if code == "" {
			params.Set("error", "missing_code")
			redirect()
			return
		}
		if err := deps.Credentials.Complete(r.Context(), st.OwnerID, code); err != nil {
			log.Warn("api: authorization failed", zap.Error(err))
			params.Set("error", "authorization_failed")
			redirect()
			return
		}

		if st.Resume != nil {
			req, err := deps.Requests.Submit(r.Context(), st.OwnerID, st.Resume.Target, st.Resume.CandidateProfile)
			if err != nil {
				log.Warn("api: resume submission failed", zap.Error(err))
				params.Set("error", "resume_failed")
			} else {
				params.Set("requestId", req.ID)
			}
		}
		redirect()
	}
}

func handleRevoke(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Credentials.Revoke(r.Context(), ownerFrom(r)); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// allowedReturnURL accepts same-site relative paths and absolute http(s)
// URLs whose origin is listed.
func allowedReturnURL(raw string, origins []string) bool {
	if raw == "" || strings.ContainsAny(raw, "\\\r\n") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		return strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return false
	}
	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, o := range origins {
		if strings.ToLower(strings.TrimRight(o, "/")) == origin {
			return true
		}
	}
	return false
}

func withQuery(raw string, params url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
