package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer keeps conditional updates serialized without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS pipeline_requests (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	target                TEXT NOT NULL,
	candidate_profile     TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'pending',
	stage                 TEXT NOT NULL DEFAULT '',
	raw_leads             TEXT,
	filtered_leads        TEXT,
	enriched_leads        TEXT,
	dispatch_results      TEXT,
	total_found           INTEGER NOT NULL DEFAULT 0,
	contactable_count     INTEGER NOT NULL DEFAULT 0,
	non_contactable_count INTEGER NOT NULL DEFAULT 0,
	sent_count            INTEGER NOT NULL DEFAULT 0,
	error_detail          TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	completed_at          DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pipeline_requests_owner ON pipeline_requests(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_pipeline_requests_status ON pipeline_requests(status, created_at);

CREATE TABLE IF NOT EXISTS delegated_credentials (
	owner_id      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    DATETIME NOT NULL,
	scope         TEXT NOT NULL DEFAULT '',
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	CHECK (is_active = 0 OR refresh_token <> '')
);

CREATE TABLE IF NOT EXISTS send_records (
	id                  TEXT PRIMARY KEY,
	owner_id            TEXT NOT NULL,
	request_id          TEXT NOT NULL DEFAULT '',
	lead_organization   TEXT NOT NULL DEFAULT '',
	lead_title          TEXT NOT NULL DEFAULT '',
	recipient_address   TEXT NOT NULL,
	subject             TEXT NOT NULL,
	body                TEXT NOT NULL,
	provider_message_id TEXT NOT NULL,
	sent_at             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_send_records_owner ON send_records(owner_id, sent_at);

CREATE TABLE IF NOT EXISTS attachments (
	owner_id     TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data         BLOB NOT NULL,
	updated_at   DATETIME NOT NULL
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Requests ---

func (s *SQLiteStore) CreateRequest(ctx context.Context, ownerID, target, candidateProfile string) (*model.PipelineRequest, error) {
	now := time.Now().UTC()
	req := &model.PipelineRequest{
		ID:               uuid.New().String(),
		OwnerID:          ownerID,
		Target:           target,
		CandidateProfile: candidateProfile,
		Status:           model.RequestStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_requests (id, owner_id, target, candidate_profile, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, ownerID, target, candidateProfile, string(req.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert request")
	}
	return req, nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.PipelineRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM pipeline_requests WHERE id = ?`, id)
	req, err := scanSQLiteRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get request %s", id)
	}
	return req, nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.PipelineRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM pipeline_requests WHERE 1=1`
	var args []any

	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC, rowid ASC`
	} else {
		query += ` ORDER BY created_at DESC, rowid DESC`
	}
	query += ` LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var out []model.PipelineRequest
	for rows.Next() {
		req, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request")
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list requests iterate")
}

// TransitionStatus applies the move as one conditional update whose WHERE
// clause lists every status the target is reachable from.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, to model.RequestStatus, errorDetail string) error {
	sources := model.SourcesFor(to)
	if len(sources) == 0 {
		return eris.Wrapf(ErrInvalidTransition, "sqlite: request %s -> %s", id, to)
	}

	now := time.Now().UTC()
	var completedAt sql.NullTime
	if to.IsTerminal() {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}

	args := []any{string(to), errorDetail, errorDetail, completedAt, now, id}
	placeholders := make([]string, len(sources))
	for i, from := range sources {
		placeholders[i] = "?"
		args = append(args, string(from))
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_requests
		 SET status = ?, error_detail = CASE WHEN ? = '' THEN error_detail ELSE ? END,
		     completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	current, err := s.requestStatus(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrInvalidTransition, "sqlite: request %s %s -> %s", id, current, to)
}

func (s *SQLiteStore) SetStage(ctx context.Context, id string, stage model.Stage) error {
	return s.updateProcessing(ctx, id, "stage",
		`UPDATE pipeline_requests SET stage = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		string(stage))
}

func (s *SQLiteStore) SaveRawLeads(ctx context.Context, id string, leads []model.RawLead) error {
	b, err := marshalSnapshot(leads)
	if err != nil {
		return err
	}
	return s.updateProcessing(ctx, id, "raw leads",
		`UPDATE pipeline_requests SET raw_leads = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		string(b))
}

func (s *SQLiteStore) SaveFilteredLeads(ctx context.Context, id string, leads []model.Lead) error {
	b, err := marshalSnapshot(leads)
	if err != nil {
		return err
	}
	return s.updateProcessing(ctx, id, "filtered leads",
		`UPDATE pipeline_requests SET filtered_leads = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		string(b))
}

func (s *SQLiteStore) SaveEnrichedLeads(ctx context.Context, id string, leads []model.EnrichedLead) error {
	b, err := marshalSnapshot(leads)
	if err != nil {
		return err
	}
	c := model.CountLeads(leads)
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_requests
		 SET enriched_leads = ?, total_found = ?, contactable_count = ?, non_contactable_count = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		string(b), c.TotalFound, c.ContactableCount, c.NonContactableCount, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save enriched leads %s", id)
	}
	return s.checkProcessing(ctx, res, id)
}

func (s *SQLiteStore) SaveDispatchResults(ctx context.Context, id string, results []model.DispatchResult) error {
	b, err := marshalSnapshot(results)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_requests SET dispatch_results = ?, sent_count = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		string(b), countSent(results), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save dispatch results %s", id)
	}
	return s.checkProcessing(ctx, res, id)
}

func (s *SQLiteStore) updateProcessing(ctx context.Context, id, what, query string, value any) error {
	res, err := s.db.ExecContext(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save %s %s", what, id)
	}
	return s.checkProcessing(ctx, res, id)
}

func (s *SQLiteStore) checkProcessing(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	status, err := s.requestStatus(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrNotProcessing, "sqlite: request %s is %s", id, status)
}

func (s *SQLiteStore) requestStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM pipeline_requests WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "sqlite: request %s", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: check request %s", id)
	}
	return status, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRequest(row scannable) (*model.PipelineRequest, error) {
	var r model.PipelineRequest
	var status, stage string
	var raw, filtered, enriched, dispatch sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Target, &r.CandidateProfile, &status, &stage,
		&raw, &filtered, &enriched, &dispatch,
		&r.TotalFound, &r.ContactableCount, &r.NonContactableCount, &r.SentCount,
		&r.ErrorDetail, &r.CreatedAt, &r.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	r.Stage = model.Stage(stage)
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	snaps := requestSnapshots{
		raw:      nullBytes(raw),
		filtered: nullBytes(filtered),
		enriched: nullBytes(enriched),
		dispatch: nullBytes(dispatch),
	}
	if err := snaps.decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullBytes(ns sql.NullString) []byte {
	if !ns.Valid {
		return nil
	}
	return []byte(ns.String)
}

// --- Credentials ---

func (s *SQLiteStore) GetCredential(ctx context.Context, ownerID string) (*model.DelegatedCredential, error) {
	var c model.DelegatedCredential
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, access_token, refresh_token, expires_at, scope, is_active, created_at, updated_at
		 FROM delegated_credentials WHERE owner_id = ?`,
		ownerID,
	).Scan(&c.OwnerID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: credential for %s", ownerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get credential %s", ownerID)
	}
	return &c, nil
}

func (s *SQLiteStore) UpsertCredential(ctx context.Context, cred *model.DelegatedCredential) error {
	if cred.IsActive && cred.RefreshToken == "" {
		return eris.Wrapf(ErrMissingRefreshToken, "sqlite: upsert credential %s", cred.OwnerID)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delegated_credentials
		   (owner_id, access_token, refresh_token, expires_at, scope, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   access_token = excluded.access_token, refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at, scope = excluded.scope,
		   is_active = excluded.is_active, updated_at = excluded.updated_at`,
		cred.OwnerID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.UTC(), cred.Scope, cred.IsActive, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert credential %s", cred.OwnerID)
}

func (s *SQLiteStore) UpdateCredentialTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delegated_credentials
		 SET access_token = ?, refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
		     expires_at = ?, updated_at = ?
		 WHERE owner_id = ? AND is_active = 1`,
		accessToken, refreshToken, refreshToken, expiresAt.UTC(), time.Now().UTC(), ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update credential tokens %s", ownerID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotActive, "sqlite: update credential tokens %s", ownerID)
	}
	return nil
}

func (s *SQLiteStore) DeactivateCredential(ctx context.Context, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delegated_credentials SET is_active = 0, updated_at = ? WHERE owner_id = ?`,
		time.Now().UTC(), ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate credential %s", ownerID)
	}
	return checkRowsAffected(res, "credential", ownerID)
}

func (s *SQLiteStore) DeleteCredential(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM delegated_credentials WHERE owner_id = ?`, ownerID)
	return eris.Wrapf(err, "sqlite: delete credential %s", ownerID)
}

// --- Sends ---

func (s *SQLiteStore) AppendSend(ctx context.Context, rec *model.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_records (id, owner_id, request_id, lead_organization, lead_title,
		   recipient_address, subject, body, provider_message_id, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, rec.RequestID, rec.LeadOrganization, rec.LeadTitle,
		rec.RecipientAddress, rec.Subject, rec.Body, rec.ProviderMessageID, rec.SentAt,
	)
	return eris.Wrap(err, "sqlite: append send record")
}

func (s *SQLiteStore) ListSends(ctx context.Context, ownerID string, limit int) ([]model.SendRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, request_id, lead_organization, lead_title, recipient_address,
		   subject, body, provider_message_id, sent_at
		 FROM send_records WHERE owner_id = ? ORDER BY sent_at DESC, rowid DESC LIMIT ?`,
		ownerID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sends")
	}
	defer rows.Close()

	var out []model.SendRecord
	for rows.Next() {
		var r model.SendRecord
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.RequestID, &r.LeadOrganization, &r.LeadTitle,
			&r.RecipientAddress, &r.Subject, &r.Body, &r.ProviderMessageID, &r.SentAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan send record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sends iterate")
}

// --- Attachments ---

func (s *SQLiteStore) PutAttachment(ctx context.Context, att *model.Attachment) error {
	att.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (owner_id, filename, content_type, data, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   filename = excluded.filename, content_type = excluded.content_type,
		   data = excluded.data, updated_at = excluded.updated_at`,
		att.OwnerID, att.Filename, att.ContentType, att.Data, att.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: put attachment %s", att.OwnerID)
}

func (s *SQLiteStore) GetAttachment(ctx context.Context, ownerID string) (*model.Attachment, error) {
	var a model.Attachment
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, filename, content_type, data, updated_at FROM attachments WHERE owner_id = ?`,
		ownerID,
	).Scan(&a.OwnerID, &a.Filename, &a.ContentType, &a.Data, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get attachment %s", ownerID)
	}
	return &a, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
