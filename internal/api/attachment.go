package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

const maxAttachmentSize = 5 << 20

func handlePutAttachment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := path.Base(strings.ReplaceAll(strings.TrimSpace(r.Header.Get("X-Filename")), "\\", "/"))
		if filename == "" || filename == "." || filename == "/" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "X-Filename header is required")
			return
		}
		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if _, _, err := mime.ParseMediaType(contentType); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid Content-Type")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize)
		defer r.Body.Close()
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "attachment exceeds 5 MiB")
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "read body: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "attachment is empty")
			return
		}

		att := &model.Attachment{
			OwnerID:     ownerFrom(r),
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		}
		if err := deps.Attachments.PutAttachment(r.Context(), att); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":          true,
			"filename":    filename,
			"contentType": contentType,
			"size":        len(data),
		})
	}
}

type sendView struct {
	ID                string    `json:"id"`
	RequestID         string    `json:"requestId,omitempty"`
	LeadOrganization  string    `json:"leadOrganization"`
	LeadTitle         string    `json:"leadTitle"`
	RecipientAddress  string    `json:"recipientAddress"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"providerMessageId"`
	SentAt            time.Time `json:"sentAt"`
}

func handleListSends(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}
		records, err := deps.Sends.ListSends(r.Context(), ownerFrom(r), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		views := make([]sendView, len(records))
		for i, rec := range records {
			views[i] = sendView{
				ID:                rec.ID,
				RequestID:         rec.RequestID,
				LeadOrganization:  rec.LeadOrganization,
				LeadTitle:         rec.LeadTitle,
				RecipientAddress:  rec.RecipientAddress,
				Subject:           rec.Subject,
				Body:              rec.Body,
				ProviderMessageID: rec.ProviderMessageID,
				SentAt:            rec.SentAt,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sends": views})
	}
}
