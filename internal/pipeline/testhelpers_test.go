package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/message"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func createRequest(t *testing.T, st store.RequestStore) *model.PipelineRequest {
	t.Helper()
	req, err := st.CreateRequest(context.Background(), "owner-1", "https://jobs.example.com/search?q=go", "Ten years of Go.")
	require.NoError(t, err)
	return req
}

func getRequest(t *testing.T, st store.RequestStore, id string) *model.PipelineRequest {
	t.Helper()
	req, err := st.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return req
}

// rawLeads returns n postings; each one carries a poster profile link.
func rawLeads(n int) []model.RawLead {
	out := make([]model.RawLead, n)
	for i := range out {
		out[i] = model.RawLead{
			"title":               fmt.Sprintf("Engineer %d", i),
			"companyName":         fmt.Sprintf("Org %d", i),
			"link":                fmt.Sprintf("https://jobs.example.com/%d", i),
			"jobPosterProfileUrl": fmt.Sprintf("https://www.linkedin.com/in/person-%d", i),
		}
	}
	return out
}

type fakeScraper struct {
	leads []model.RawLead
	err   error
	fn    func(ctx context.Context) ([]model.RawLead, error)
}

func (f *fakeScraper) ScrapeLeads(ctx context.Context, _ string) ([]model.RawLead, error) {
	if f.fn != nil {
		return f.fn(ctx)
	}
	return f.leads, f.err
}

// fakeResolver gives lead i an email unless i is in noEmail or failFor.
type fakeResolver struct {
	mu      sync.Mutex
	noEmail map[int]bool
	failFor map[int]bool
	hook    func(ctx context.Context, i int)
	calls   int
}

func (f *fakeResolver) Resolve(ctx context.Context, lead model.Lead) (*model.ContactInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	var i int
	_, _ = fmt.Sscanf(lead.ContactLink[strings.LastIndex(lead.ContactLink, "-")+1:], "%d", &i)
	if f.hook != nil {
		f.hook(ctx, i)
	}
	if f.failFor[i] {
		return nil, fmt.Errorf("lookup %d failed", i)
	}
	c := &model.ContactInfo{Name: fmt.Sprintf("Person %d", i), ProfileLink: lead.ContactLink}
	if !f.noEmail[i] {
		c.Email = fmt.Sprintf("person%d@example.com", i)
	}
	return c, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	inputs []message.Input
	failOn map[string]bool
}

func (f *fakeGenerator) Generate(_ context.Context, in message.Input) (*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.failOn[in.Organization] {
		return nil, fmt.Errorf("generation failed for %s", in.Organization)
	}
	return &message.Message{Subject: "About " + in.Role, Body: "Hello " + in.RecipientName}, nil
}

type fakeSender struct {
	mu       sync.Mutex
	outbound []dispatch.Outbound
	reasons  map[string]string // recipient -> failure reason
}

func (f *fakeSender) Send(_ context.Context, _ string, out dispatch.Outbound) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, out)
	if r, ok := f.reasons[out.Recipient]; ok {
		return dispatch.Result{Reason: r}
	}
	return dispatch.Result{Sent: true, ProviderMessageID: "msg-" + out.Recipient}
}

type harness struct {
	store     *store.SQLiteStore
	scraper   *fakeScraper
	resolver  *fakeResolver
	generator *fakeGenerator
	sender    *fakeSender
	orch      *Orchestrator
	sleeps    []time.Duration
}

func newHarness(t *testing.T, leads int) *harness {
	t.Helper()
	h := &harness{
		store:     newTestStore(t),
		scraper:   &fakeScraper{leads: rawLeads(leads)},
		resolver:  &fakeResolver{},
		generator: &fakeGenerator{},
		sender:    &fakeSender{},
	}
	h.orch = NewOrchestrator(h.store, h.scraper, h.resolver, h.generator, h.sender, Options{DispatchCap: 3, SendDelay: time.Second})
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}
