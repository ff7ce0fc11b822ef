package dispatch

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// base64LineLen is the RFC 2045 line limit for encoded bodies.
const base64LineLen = 76

// composeMessage renders an RFC 5322 message. Without an attachment the body
// is a single text/plain part; with one it is multipart/mixed.
func composeMessage(to *mail.Address, subject, body string, att *model.Attachment, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	writeHeader(&buf, "To", to.String())
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	writeHeader(&buf, "MIME-Version", "1.0")

	if att == nil || len(att.Data) == 0 {
		writeHeader(&buf, "Content-Type", `text/plain; charset="UTF-8"`)
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}))
	buf.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`text/plain; charset="UTF-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: create text part")
	}
	if err := writeQuotedPrintable(text, body); err != nil {
		return nil, err
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := att.Filename
	if filename == "" {
		filename = "attachment"
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(contentType, map[string]string{"name": filename})},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": filename})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: create attachment part")
	}
	if err := writeBase64Lines(part, att.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "dispatch: close multipart")
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(body)); err != nil {
		return eris.Wrap(err, "dispatch: encode body")
	}
	return eris.Wrap(qp.Close(), "dispatch: encode body")
}

func writeBase64Lines(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 0 {
		n := min(base64LineLen, len(enc))
		if _, err := fmt.Fprintf(w, "%s\r\n", enc[:n]); err != nil {
			return eris.Wrap(err, "dispatch: encode attachment")
		}
		enc = enc[n:]
	}
	return nil
}
