package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

var requestCols = []string{
	"id", "owner_id", "target", "candidate_profile", "status", "stage",
	"raw_leads", "filtered_leads", "enriched_leads", "dispatch_results",
	"total_found", "contactable_count", "non_contactable_count", "sent_count",
	"error_detail", "created_at", "updated_at", "completed_at",
}

func TestPostgresStore_CreateRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO pipeline_requests`).
		WithArgs(pgxmock.AnyArg(), "owner-1", "https://jobs.example.com", "profile", "pending", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	req, err := s.CreateRequest(context.Background(), "owner-1", "https://jobs.example.com", "profile")
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.RequestStatusPending, req.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	done := now.Add(time.Minute)

	mock.ExpectQuery(`(?s)SELECT id, owner_id, target.*FROM pipeline_requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows(requestCols).AddRow(
			"req-1", "owner-1", "https://jobs.example.com", "", "completed", "dispatch",
			[]byte(`[{"title":"Go Dev"}]`),
			[]byte(`[{"title":"Go Dev","organization":"Acme","location":"Remote","link":"","description":""}]`),
			[]byte(`[]`),
			[]byte(`[{"lead_index":0,"organization":"Acme","title":"Go Dev","recipient":"a@x.io","sent":true}]`),
			1, 0, 1, 1, "", now, now, &done,
		))

	req, err := s.GetRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.RequestStatusCompleted, req.Status)
	assert.Equal(t, model.StageDispatch, req.Stage)
	require.Len(t, req.RawLeads, 1)
	assert.Equal(t, "Acme", req.FilteredLeads[0].Organization)
	assert.True(t, req.HasEnriched())
	assert.Empty(t, req.EnrichedLeads)
	require.Len(t, req.DispatchResults, 1)
	assert.True(t, req.DispatchResults[0].Sent)
	require.NotNil(t, req.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRequest_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM pipeline_requests WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRequest(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionStatus(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM pipeline_requests WHERE id = \$1 FOR UPDATE`).
		WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectExec(`UPDATE pipeline_requests\s+SET status = \$1`).
		WithArgs("failed", "scrape_failed: timeout", pgxmock.AnyArg(), pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.TransitionStatus(context.Background(), "req-1", model.RequestStatusFailed, "scrape_failed: timeout")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionStatus_RejectsTerminal(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM pipeline_requests`).
		WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))
	mock.ExpectRollback()

	err := s.TransitionStatus(context.Background(), "req-1", model.RequestStatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM pipeline_requests`).
		WithArgs("req-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.TransitionStatus(context.Background(), "req-1", model.RequestStatusProcessing, "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveEnrichedLeads_WritesCounters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	leads := []model.EnrichedLead{
		model.NewEnrichedLead(model.Lead{Title: "a"}, &model.ContactInfo{Email: "a@x.io"}),
		model.NewEnrichedLead(model.Lead{Title: "b"}, nil),
		model.NewEnrichedLead(model.Lead{Title: "c"}, nil),
	}
	mock.ExpectExec(`UPDATE pipeline_requests\s+SET enriched_leads = \$1`).
		WithArgs(pgxmock.AnyArg(), 3, 1, 2, pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SaveEnrichedLeads(context.Background(), "req-1", leads))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StageWrite_NotProcessing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE pipeline_requests SET stage = \$1`).
		WithArgs("enrich", pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM pipeline_requests WHERE id = \$1`).
		WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))

	err := s.SetStage(context.Background(), "req-1", model.StageEnrich)
	assert.ErrorIs(t, err, ErrNotProcessing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveDispatchResults_CountsSent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	results := []model.DispatchResult{{Sent: true}, {Sent: false, Reason: "needs_reauth"}, {Sent: true}}
	mock.ExpectExec(`UPDATE pipeline_requests SET dispatch_results = \$1, sent_count = \$2`).
		WithArgs(pgxmock.AnyArg(), 2, pgxmock.AnyArg(), "req-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SaveDispatchResults(context.Background(), "req-1", results))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRequests_OldestPendingFirst(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND status = \$1 ORDER BY created_at ASC LIMIT \$2`).
		WithArgs("pending", 50).
		WillReturnRows(pgxmock.NewRows(requestCols))

	out, err := s.ListRequests(context.Background(), RequestFilter{Status: model.RequestStatusPending, OldestFirst: true, Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCredential(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	exp := time.Now().Add(time.Hour)

	mock.ExpectExec(`(?s)INSERT INTO delegated_credentials.*ON CONFLICT \(owner_id\) DO UPDATE`).
		WithArgs("owner-1", "at", "rt", pgxmock.AnyArg(), "scope", true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertCredential(context.Background(), &model.DelegatedCredential{
		OwnerID: "owner-1", AccessToken: "at", RefreshToken: "rt", ExpiresAt: exp, Scope: "scope", IsActive: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCredential_MissingRefresh(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.UpsertCredential(context.Background(), &model.DelegatedCredential{OwnerID: "owner-1", IsActive: true})
	assert.ErrorIs(t, err, ErrMissingRefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCredentialTokens_Inactive(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)UPDATE delegated_credentials.*WHERE owner_id = \$5 AND is_active`).
		WithArgs("at-2", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "owner-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateCredentialTokens(context.Background(), "owner-1", "at-2", "", time.Now())
	assert.ErrorIs(t, err, ErrNotActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAttachment_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT owner_id, filename, content_type, data, updated_at FROM attachments`).
		WithArgs("owner-1").
		WillReturnError(pgx.ErrNoRows)

	att, err := s.GetAttachment(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Nil(t, att)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendSend_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO send_records`).
		WithArgs(pgxmock.AnyArg(), "owner-1", "req-1", "Acme", "Go Dev", "a@x.io", "Hi", "Body", "m-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.SendRecord{OwnerID: "owner-1", RequestID: "req-1", LeadOrganization: "Acme", LeadTitle: "Go Dev",
		RecipientAddress: "a@x.io", Subject: "Hi", Body: "Body", ProviderMessageID: "m-1"}
	require.NoError(t, s.AppendSend(context.Background(), rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.SentAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
