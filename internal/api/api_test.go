package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/auth"
	"github.com/sells-group/outreach-cli/internal/credential"
	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/message"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/store"
)

type fakeContacts struct {
	contact *model.ContactInfo
	err     error
	links   []string
}

func (f *fakeContacts) ResolveLink(_ context.Context, link string) (*model.ContactInfo, error) {
	f.links = append(f.links, link)
	return f.contact, f.err
}

type fakeMessages struct {
	inputs []message.Input
	err    error
}

func (f *fakeMessages) Generate(_ context.Context, in message.Input) (*message.Message, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &message.Message{Subject: "Hi " + in.Organization, Body: "Body for " + in.Role}, nil
}

type fakeSender struct {
	owners []string
	out    []dispatch.Outbound
	result dispatch.Result
}

func (f *fakeSender) Send(_ context.Context, owner string, out dispatch.Outbound) dispatch.Result {
	f.owners = append(f.owners, owner)
	f.out = append(f.out, out)
	return f.result
}

type fakeCredentials struct {
	mu          sync.Mutex
	status      credential.Status
	completed   map[string]string // owner -> code
	completeErr error
	revoked     []string
}

func (f *fakeCredentials) Status(context.Context, string) (credential.Status, error) {
	return f.status, nil
}

func (f *fakeCredentials) AuthorizeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (f *fakeCredentials) Complete(_ context.Context, owner, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	if f.completed == nil {
		f.completed = map[string]string{}
	}
	f.completed[owner] = code
	return nil
}

func (f *fakeCredentials) Revoke(_ context.Context, owner string) error {
	f.revoked = append(f.revoked, owner)
	return nil
}

type testAPI struct {
	handler http.Handler
	store   *store.SQLiteStore
	tokens  *auth.JWTManager
	session string

	contacts *fakeContacts
	messages *fakeMessages
	sender   *fakeSender
	creds    *fakeCredentials
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	tokens, err := auth.NewJWTManager("test-secret", 10*time.Minute)
	require.NoError(t, err)
	session, err := tokens.IssueSession("owner-1", time.Hour)
	require.NoError(t, err)

	a := &testAPI{
		store:    st,
		tokens:   tokens,
		session:  session,
		contacts: &fakeContacts{},
		messages: &fakeMessages{},
		sender:   &fakeSender{result: dispatch.Result{Sent: true, ProviderMessageID: "m-1"}},
		creds:    &fakeCredentials{},
	}
	a.handler = NewRouter(Deps{
		Requests:             pipeline.NewService(st, nil),
		Contacts:             a.contacts,
		Messages:             a.messages,
		Sender:               a.sender,
		Credentials:          a.creds,
		Sends:                st,
		Attachments:          st,
		Health:               st,
		Tokens:               tokens,
		AllowedOrigins:       []string{"https://app.example.com"},
		AllowedReturnOrigins: []string{"https://app.example.com/"},
	})
	return a
}

func (a *testAPI) do(method, target, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	e, ok := decodeBody(t, rr)["error"].(map[string]any)
	require.True(t, ok, rr.Body.String())
	return e["type"].(string)
}

func TestHealth_NoAuth(t *testing.T) {
	a := newTestAPI(t)
	rr := a.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

func TestAuth_RejectsMissingAndBadTokens(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(http.MethodGet, "/credential/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "authentication_error", errorType(t, rr))

	rr = a.do(http.MethodGet, "/credential/status", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	state, err := a.tokens.IssueState(auth.State{OwnerID: "owner-1", ReturnURL: "/"})
	require.NoError(t, err)
	rr = a.do(http.MethodGet, "/credential/status", "", state)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "state tokens are not sessions")
}

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(http.MethodPost, "/pipeline/submit", `{"target":"https://jobs.example.com/q","candidateProfile":"Go"}`, a.session)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id, _ := decodeBody(t, rr)["requestId"].(string)
	require.NotEmpty(t, id)

	req, err := a.store.GetRequest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", req.OwnerID)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.Equal(t, "Go", req.CandidateProfile)
}

func TestSubmit_ValidationIs400(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(http.MethodPost, "/pipeline/submit", `{"target":""}`, a.session)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request_error", errorType(t, rr))

	rr = a.do(http.MethodPost, "/pipeline/submit", `{not json`, a.session)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rows, err := a.store.ListRequests(context.Background(), store.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetRequest_StatusViewWithNoStore(t *testing.T) {
	a := newTestAPI(t)
	req, err := a.store.CreateRequest(context.Background(), "owner-1", "https://jobs.example.com/q", "")
	require.NoError(t, err)

	rr := a.do(http.MethodGet, "/pipeline/"+req.ID, "", a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rr.Header().Get("Pragma"))
	assert.Equal(t, "0", rr.Header().Get("Expires"))

	body := decodeBody(t, rr)
	assert.Equal(t, req.ID, body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, []any{}, body["leads"])
}

func TestGetRequest_OtherOwnerIs404(t *testing.T) {
	a := newTestAPI(t)
	req, err := a.store.CreateRequest(context.Background(), "owner-2", "https://jobs.example.com/q", "")
	require.NoError(t, err)

	rr := a.do(http.MethodGet, "/pipeline/"+req.ID, "", a.session)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found_error", errorType(t, rr))
}

func TestCancel_ThenConflict(t *testing.T) {
	a := newTestAPI(t)
	req, err := a.store.CreateRequest(context.Background(), "owner-1", "https://jobs.example.com/q", "")
	require.NoError(t, err)

	rr := a.do(http.MethodPost, "/pipeline/"+req.ID+"/cancel", "", a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeBody(t, rr)["ok"])

	rr = a.do(http.MethodPost, "/pipeline/"+req.ID+"/cancel", "", a.session)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListRequests(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	_, err := a.store.CreateRequest(ctx, "owner-1", "https://jobs.example.com/a", "")
	require.NoError(t, err)
	_, err = a.store.CreateRequest(ctx, "owner-2", "https://jobs.example.com/b", "")
	require.NoError(t, err)

	rr := a.do(http.MethodGet, "/pipeline?status=pending&limit=10", "", a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody(t, rr)["requests"], 1)

	rr = a.do(http.MethodGet, "/pipeline?status=bogus", "", a.session)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = a.do(http.MethodGet, "/pipeline?limit=-1", "", a.session)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveContact(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(http.MethodPost, "/contacts/resolve", `{"profileLink":"https://www.linkedin.com/in/ann"}`, a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeBody(t, rr)["found"])

	a.contacts.contact = &model.ContactInfo{Name: "Ann", Email: "ann@example.com", IsExternalRecruiter: true}
	rr = a.do(http.MethodPost, "/contacts/resolve", `{"profileLink":"https://www.linkedin.com/in/ann"}`, a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "ann@example.com", body["email"])
	assert.Equal(t, true, body["isExternalRecruiter"])

	rr = a.do(http.MethodPost, "/contacts/resolve", `{"profileLink":" "}`, a.session)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	a.contacts.err = errors.New("actor down")
	rr = a.do(http.MethodPost, "/contacts/resolve", `{"profileLink":"https://www.linkedin.com/in/ann"}`, a.session)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestGenerateMessage(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(http.MethodPost, "/messages/generate",
		`{"role":"Engineer","organization":"Acme","roleDescription":"Build","candidateProfile":"Go"}`, a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "Hi Acme", body["subject"])
	assert.Equal(t, "Body for Engineer", body["body"])
	require.Len(t, a.messages.inputs, 1)
	assert.Equal(t, "Build", a.messages.inputs[0].RoleDescription)

	a.messages.err = errors.New("overloaded")
	rr = a.do(http.MethodPost, "/messages/generate", `{"role":"Engineer"}`, a.session)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestSendMessage(t *testing.T) {
	a := newTestAPI(t)

	rr := a.do(http.MethodPost, "/messages/send", `{"recipient":"ann@example.com","subject":"Hi","body":"Hello"}`, a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"sent": true}, decodeBody(t, rr))
	assert.Equal(t, []string{"owner-1"}, a.sender.owners)
	assert.Empty(t, a.sender.out[0].RequestID)

	a.sender.result = dispatch.Result{Reason: dispatch.ReasonNeedsReauth}
	rr = a.do(http.MethodPost, "/messages/send", `{"recipient":"ann@example.com","subject":"Hi","body":"Hello"}`, a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"sent": false, "reason": "needs_reauth"}, decodeBody(t, rr))

	rr = a.do(http.MethodPost, "/messages/send", `{"recipient":"","body":"Hello"}`, a.session)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCredentialStatus(t *testing.T) {
	a := newTestAPI(t)
	a.creds.status = credential.Status{Authorized: true, NeedsRefresh: true}

	rr := a.do(http.MethodGet, "/credential/status", "", a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"authorized": true, "needsRefresh": true}, decodeBody(t, rr))
}

func TestCredentialRevoke(t *testing.T) {
	a := newTestAPI(t)
	rr := a.do(http.MethodPost, "/credential/revoke", "", a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"owner-1"}, a.creds.revoked)
}

func TestAttachmentAndSends(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPut, "/attachment", strings.NewReader("%PDF-1.7"))
	req.Header.Set("Authorization", "Bearer "+a.session)
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("X-Filename", "../../resume.pdf")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "resume.pdf", decodeBody(t, rr)["filename"])

	att, err := a.store.GetAttachment(context.Background(), "owner-1")
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.Equal(t, []byte("%PDF-1.7"), att.Data)
	assert.Equal(t, "application/pdf", att.ContentType)

	require.NoError(t, a.store.AppendSend(context.Background(), &model.SendRecord{
		OwnerID:           "owner-1",
		RecipientAddress:  "ann@example.com",
		Subject:           "Hi",
		Body:              "Hello",
		ProviderMessageID: "m-1",
	}))
	rr = a.do(http.MethodGet, "/sends?limit=5", "", a.session)
	require.Equal(t, http.StatusOK, rr.Code)
	sends := decodeBody(t, rr)["sends"].([]any)
	require.Len(t, sends, 1)
	assert.Equal(t, "m-1", sends[0].(map[string]any)["providerMessageId"])
}

func TestAttachment_Rejects(t *testing.T) {
	a := newTestAPI(t)
	put := func(body, filename string) int {
		req := httptest.NewRequest(http.MethodPut, "/attachment", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+a.session)
		req.Header.Set("Content-Type", "application/pdf")
		if filename != "" {
			req.Header.Set("X-Filename", filename)
		}
		rr := httptest.NewRecorder()
		a.handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusBadRequest, put("data", ""))
	assert.Equal(t, http.StatusBadRequest, put("", "resume.pdf"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, put(strings.Repeat("x", maxAttachmentSize+1), "resume.pdf"))
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/pipeline/submit", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
