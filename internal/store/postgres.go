package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS pipeline_requests (
	id                    TEXT PRIMARY KEY,
	owner_id              TEXT NOT NULL,
	target                TEXT NOT NULL,
	candidate_profile     TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'pending',
	stage                 TEXT NOT NULL DEFAULT '',
	raw_leads             JSONB,
	filtered_leads        JSONB,
	enriched_leads        JSONB,
	dispatch_results      JSONB,
	total_found           INTEGER NOT NULL DEFAULT 0,
	contactable_count     INTEGER NOT NULL DEFAULT 0,
	non_contactable_count INTEGER NOT NULL DEFAULT 0,
	sent_count            INTEGER NOT NULL DEFAULT 0,
	error_detail          TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pipeline_requests_owner ON pipeline_requests(owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_requests_status ON pipeline_requests(status, created_at);

CREATE TABLE IF NOT EXISTS delegated_credentials (
	owner_id      TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ NOT NULL,
	scope         TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT active_has_refresh CHECK (NOT is_active OR refresh_token <> '')
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
	sent_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_send_records_owner ON send_records(owner_id, sent_at DESC);

CREATE TABLE IF NOT EXISTS attachments (
	owner_id     TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	content_type TEXT NOT NULL,
	data         BYTEA NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Requests ---

const requestColumns = `id, owner_id, target, candidate_profile, status, stage,
	raw_leads, filtered_leads, enriched_leads, dispatch_results,
	total_found, contactable_count, non_contactable_count, sent_count,
	error_detail, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateRequest(ctx context.Context, ownerID, target, candidateProfile string) (*model.PipelineRequest, error) {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_requests (id, owner_id, target, candidate_profile, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, ownerID, target, candidateProfile, string(req.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert request")
	}
	return req, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.PipelineRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM pipeline_requests WHERE id = $1`, id)
	req, err := scanPostgresRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get request %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	return req, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.PipelineRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM pipeline_requests WHERE true`
	var args []any

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		query += fmt.Sprintf(` AND owner_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.OldestFirst {
		query += ` ORDER BY created_at ASC`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	args = append(args, listLimit(filter.Limit))
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var out []model.PipelineRequest
	for rows.Next() {
		req, err := scanPostgresRequest(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list requests iterate")
}

// TransitionStatus locks the row, validates the move against the state
// graph, and applies it in one transaction.
func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, to model.RequestStatus, errorDetail string) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx,
			`SELECT status FROM pipeline_requests WHERE id = $1 FOR UPDATE`, id,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "postgres: transition request %s", id)
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: lock request %s", id)
		}
		current := model.RequestStatus(status)
		if !model.CanTransition(current, to) {
			return eris.Wrapf(ErrInvalidTransition, "postgres: request %s %s -> %s", id, current, to)
		}

		now := time.Now().UTC()
		var completedAt *time.Time
		if to.IsTerminal() {
			completedAt = &now
		}
		_, err = tx.Exec(ctx,
			`UPDATE pipeline_requests
			 SET status = $1, error_detail = CASE WHEN $2 = '' THEN error_detail ELSE $2 END,
			     completed_at = $3, updated_at = $4
			 WHERE id = $5`,
			string(to), errorDetail, completedAt, now, id,
		)
		return eris.Wrapf(err, "postgres: update request status %s", id)
	})
}

func (s *PostgresStore) SetStage(ctx context.Context, id string, stage model.Stage) error {
	return s.updateProcessing(ctx, id, "stage",
		`UPDATE pipeline_requests SET stage = $1, updated_at = $2 WHERE id = $3 AND status = 'processing'`,
		string(stage))
}

func (s *PostgresStore) SaveRawLeads(ctx context.Context, id string, leads []model.RawLead) error {
	b, err := marshalSnapshot(leads)
	if err != nil {
		return err
	}
	return s.updateProcessing(ctx, id, "raw leads",
		`UPDATE pipeline_requests SET raw_leads = $1, updated_at = $2 WHERE id = $3 AND status = 'processing'`, b)
}

func (s *PostgresStore) SaveFilteredLeads(ctx context.Context, id string, leads []model.Lead) error {
	b, err := marshalSnapshot(leads)
	if err != nil {
		return err
	}
	return s.updateProcessing(ctx, id, "filtered leads",
		`UPDATE pipeline_requests SET filtered_leads = $1, updated_at = $2 WHERE id = $3 AND status = 'processing'`, b)
}

func (s *PostgresStore) SaveEnrichedLeads(ctx context.Context, id string, leads []model.EnrichedLead) error {
	b, err := marshalSnapshot(leads)
	if err != nil {
		return err
	}
	c := model.CountLeads(leads)
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_requests
		 SET enriched_leads = $1, total_found = $2, contactable_count = $3, non_contactable_count = $4, updated_at = $5
		 WHERE id = $6 AND status = 'processing'`,
		b, c.TotalFound, c.ContactableCount, c.NonContactableCount, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save enriched leads %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) SaveDispatchResults(ctx context.Context, id string, results []model.DispatchResult) error {
	b, err := marshalSnapshot(results)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_requests SET dispatch_results = $1, sent_count = $2, updated_at = $3
		 WHERE id = $4 AND status = 'processing'`,
		b, countSent(results), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save dispatch results %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

// updateProcessing runs a single-value stage write. query takes the value,
// the update time, and the id as $1..$3.
func (s *PostgresStore) updateProcessing(ctx context.Context, id, what, query string, value any) error {
	tag, err := s.pool.Exec(ctx, query, value, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: save %s %s", what, id)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id)
	}
	return nil
}

// explainMiss turns a zero-row conditional update into ErrNotFound or
// ErrNotProcessing.
func (s *PostgresStore) explainMiss(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM pipeline_requests WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: request %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check request %s", id)
	}
	return eris.Wrapf(ErrNotProcessing, "postgres: request %s is %s", id, status)
}

func scanPostgresRequest(row pgx.Row) (*model.PipelineRequest, error) {
	var r model.PipelineRequest
	var status, stage string
	var snaps requestSnapshots
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Target, &r.CandidateProfile, &status, &stage,
		&snaps.raw, &snaps.filtered, &snaps.enriched, &snaps.dispatch,
		&r.TotalFound, &r.ContactableCount, &r.NonContactableCount, &r.SentCount,
		&r.ErrorDetail, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = model.RequestStatus(status)
	r.Stage = model.Stage(stage)
	if err := snaps.decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- Credentials ---

func (s *PostgresStore) GetCredential(ctx context.Context, ownerID string) (*model.DelegatedCredential, error) {
	var c model.DelegatedCredential
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, access_token, refresh_token, expires_at, scope, is_active, created_at, updated_at
		 FROM delegated_credentials WHERE owner_id = $1`,
		ownerID,
	).Scan(&c.OwnerID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: credential for %s", ownerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get credential %s", ownerID)
	}
	return &c, nil
}

func (s *PostgresStore) UpsertCredential(ctx context.Context, cred *model.DelegatedCredential) error {
	if cred.IsActive && cred.RefreshToken == "" {
		return eris.Wrapf(ErrMissingRefreshToken, "postgres: upsert credential %s", cred.OwnerID)
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delegated_credentials
		   (owner_id, access_token, refresh_token, expires_at, scope, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at, scope = EXCLUDED.scope,
		   is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`,
		cred.OwnerID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.UTC(), cred.Scope, cred.IsActive, now,
	)
	return eris.Wrapf(err, "postgres: upsert credential %s", cred.OwnerID)
}

func (s *PostgresStore) UpdateCredentialTokens(ctx context.Context, ownerID, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE delegated_credentials
		 SET access_token = $1, refresh_token = CASE WHEN $2 = '' THEN refresh_token ELSE $2 END,
		     expires_at = $3, updated_at = $4
		 WHERE owner_id = $5 AND is_active`,
		accessToken, refreshToken, expiresAt.UTC(), time.Now().UTC(), ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update credential tokens %s", ownerID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotActive, "postgres: update credential tokens %s", ownerID)
	}
	return nil
}

func (s *PostgresStore) DeactivateCredential(ctx context.Context, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE delegated_credentials SET is_active = false, updated_at = $1 WHERE owner_id = $2`,
		time.Now().UTC(), ownerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate credential %s", ownerID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: deactivate credential %s", ownerID)
	}
	return nil
}

func (s *PostgresStore) DeleteCredential(ctx context.Context, ownerID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM delegated_credentials WHERE owner_id = $1`, ownerID)
	return eris.Wrapf(err, "postgres: delete credential %s", ownerID)
}

// --- Sends ---

func (s *PostgresStore) AppendSend(ctx context.Context, rec *model.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO send_records (id, owner_id, request_id, lead_organization, lead_title,
		   recipient_address, subject, body, provider_message_id, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OwnerID, rec.RequestID, rec.LeadOrganization, rec.LeadTitle,
		rec.RecipientAddress, rec.Subject, rec.Body, rec.ProviderMessageID, rec.SentAt,
	)
	return eris.Wrap(err, "postgres: append send record")
}

func (s *PostgresStore) ListSends(ctx context.Context, ownerID string, limit int) ([]model.SendRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, request_id, lead_organization, lead_title, recipient_address,
		   subject, body, provider_message_id, sent_at
		 FROM send_records WHERE owner_id = $1 ORDER BY sent_at DESC LIMIT $2`,
		ownerID, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sends")
	}
	defer rows.Close()

	var out []model.SendRecord
	for rows.Next() {
		var r model.SendRecord
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.RequestID, &r.LeadOrganization, &r.LeadTitle,
			&r.RecipientAddress, &r.Subject, &r.Body, &r.ProviderMessageID, &r.SentAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan send record")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sends iterate")
}

// --- Attachments ---

func (s *PostgresStore) PutAttachment(ctx context.Context, att *model.Attachment) error {
	att.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (owner_id, filename, content_type, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   filename = EXCLUDED.filename, content_type = EXCLUDED.content_type,
		   data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		att.OwnerID, att.Filename, att.ContentType, att.Data, att.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: put attachment %s", att.OwnerID)
}

func (s *PostgresStore) GetAttachment(ctx context.Context, ownerID string) (*model.Attachment, error) {
	var a model.Attachment
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, filename, content_type, data, updated_at FROM attachments WHERE owner_id = $1`,
		ownerID,
	).Scan(&a.OwnerID, &a.Filename, &a.ContentType, &a.Data, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get attachment %s", ownerID)
	}
	return &a, nil
}
