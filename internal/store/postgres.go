package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/db"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
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

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the batch loop.
var preparedStatements = map[string]string{
	"checkpoint_execution": `UPDATE executions SET counters = $1, usage = $2, updated_at = $3 WHERE id = $4`,
	"append_execution_log": `UPDATE executions SET log = log || $1, updated_at = $2 WHERE id = $3`,
	"insert_dedup_key":     `INSERT INTO dedup_keys (campaign_id, key, created_at) VALUES ($1, $2, $3) ON CONFLICT (campaign_id, key) DO NOTHING`,
	"has_dedup_key":        `SELECT 1 FROM dedup_keys WHERE key = $1 AND campaign_id != $2 LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	owner              TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'draft',
	criteria           JSONB NOT NULL,
	template_id        TEXT NOT NULL DEFAULT '',
	profile_id         TEXT NOT NULL DEFAULT '',
	ai_personalization BOOLEAN NOT NULL DEFAULT false,
	budget_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	dedup_scope        TEXT NOT NULL DEFAULT 'global',
	stats              JSONB NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
	type               TEXT NOT NULL DEFAULT 'manual',
	status             TEXT NOT NULL DEFAULT 'queued',
	counters           JSONB NOT NULL DEFAULT '{}',
	usage              JSONB NOT NULL DEFAULT '{}',
	emails_delivered   BIGINT NOT NULL DEFAULT 0,
	emails_opened      BIGINT NOT NULL DEFAULT 0,
	emails_clicked     BIGINT NOT NULL DEFAULT 0,
	responses_received BIGINT NOT NULL DEFAULT 0,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	error_detail       TEXT NOT NULL DEFAULT '',
	reason             TEXT NOT NULL DEFAULT '',
	log                TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
	campaign_id     TEXT NOT NULL REFERENCES campaigns(id),
	execution_id    TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT '',
	company         TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	industry        TEXT NOT NULL DEFAULT '',
	rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count    INTEGER NOT NULL DEFAULT 0,
	score           DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality         TEXT NOT NULL DEFAULT 'unqualified',
	status          TEXT NOT NULL DEFAULT 'new',
	enrichment      JSONB NOT NULL DEFAULT '{}',
	manual_fields   JSONB NOT NULL DEFAULT '{}',
	personalization TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dedup_keys (
	campaign_id TEXT NOT NULL,
	key         TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (campaign_id, key)
);

CREATE TABLE IF NOT EXISTS templates (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	subject         TEXT NOT NULL,
	body            TEXT NOT NULL,
	instructions    TEXT NOT NULL DEFAULT '',
	usage_count     BIGINT NOT NULL DEFAULT 0,
	total_sent      BIGINT NOT NULL DEFAULT 0,
	total_responses BIGINT NOT NULL DEFAULT 0,
	last_used       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS profiles (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	signature   TEXT NOT NULL DEFAULT '',
	from_name   TEXT NOT NULL DEFAULT '',
	from_email  TEXT NOT NULL DEFAULT '',
	reply_to    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_one_active
	ON executions(campaign_id) WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS idx_executions_campaign ON executions(campaign_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_leads_campaign ON leads(campaign_id);
CREATE INDEX IF NOT EXISTS idx_leads_quality ON leads(campaign_id, quality);
CREATE INDEX IF NOT EXISTS idx_dedup_keys_key ON dedup_keys(key);
`

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

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Campaigns

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.DedupScope == "" {
		c.DedupScope = model.DedupScopeGlobal
	}

	criteriaJSON, err := json.Marshal(c.Criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	statsJSON, err := json.Marshal(c.Stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, name, owner, status, criteria, template_id, profile_id,
		   ai_personalization, budget_usd, dedup_scope, stats, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID, c.Name, c.Owner, string(c.Status), criteriaJSON, c.TemplateID, c.ProfileID,
		c.AIPersonalization, c.BudgetUSD, string(c.DedupScope), statsJSON, now, now,
	)
	return eris.Wrap(err, "postgres: insert campaign")
}

func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanPgCampaign(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "campaign %s", id)
	}
	return c, err
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Owner != "" {
		query += fmt.Sprintf(` AND owner = $%d`, argIdx)
		args = append(args, filter.Owner)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanPgCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

func (s *PostgresStore) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "campaign %s", id)
	}
	return nil
}

func (s *PostgresStore) UpdateCampaignCriteria(ctx context.Context, id string, criteria model.TargetingCriteria) error {
	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET criteria = $1, updated_at = $2 WHERE id = $3 AND status IN ('draft', 'paused')`,
		criteriaJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update campaign criteria %s", id)
	}
	if tag.RowsAffected() == 0 {
		c, err := s.GetCampaign(ctx, id)
		if err != nil {
			return err
		}
		return resilience.NewValidationError(
			eris.Errorf("campaign %s: criteria locked in status %s", id, c.Status))
	}
	return nil
}

func (s *PostgresStore) AddCampaignStats(ctx context.Context, id string, delta model.CampaignStats) error {
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats delta")
	}

	// Merge the delta into the stats blob field-by-field inside the database
	// so concurrent event consumers never lose increments.
	tag, err := s.pool.Exec(ctx,
		`UPDATE campaigns SET stats = (
		   SELECT jsonb_object_agg(k, COALESCE((stats->>k)::numeric, 0) + v.value::numeric)
		   FROM jsonb_each_text($1::jsonb) AS v(k, value)
		 ), updated_at = $2 WHERE id = $3`,
		deltaJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add campaign stats %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "campaign %s", id)
	}
	return nil
}

// Executions

func (s *PostgresStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Status == "" {
		e.Status = model.ExecutionStatusQueued
	}

	countersJSON, err := json.Marshal(e.Counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	usageJSON, err := json.Marshal(e.Usage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal usage")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO executions (id, campaign_id, type, status, counters, usage, log, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.CampaignID, string(e.Type), string(e.Status),
		countersJSON, usageJSON, e.Log, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			active, aerr := s.ActiveExecution(ctx, e.CampaignID)
			if aerr != nil || active == nil {
				return &resilience.ConflictError{CampaignID: e.CampaignID}
			}
			return &resilience.ConflictError{CampaignID: e.CampaignID, ExecutionID: active.ID}
		}
		return eris.Wrap(err, "postgres: insert execution")
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	e, err := scanPgExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "execution %s", id)
	}
	return e, err
}

func (s *PostgresStore) ActiveExecution(ctx context.Context, campaignID string) (*model.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE campaign_id = $1 AND status IN ('queued', 'running') LIMIT 1`,
		campaignID)
	e, err := scanPgExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) ListExecutions(ctx context.Context, campaignID string, limit int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE campaign_id = $1 ORDER BY created_at DESC LIMIT $2`,
		campaignID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanPgExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, eris.Wrap(rows.Err(), "postgres: list executions iterate")
}

func (s *PostgresStore) StartExecution(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $1, started_at = $2, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(model.ExecutionStatusRunning), at.UTC(), time.Now().UTC(),
		id, string(model.ExecutionStatusQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start execution %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "execution %s", id)
	}
	return nil
}

func (s *PostgresStore) CheckpointExecution(ctx context.Context, id string, counters model.Counters, usage model.UsageStats) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counters")
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal usage")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET counters = $1, usage = $2, updated_at = $3 WHERE id = $4`,
		countersJSON, usageJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: checkpoint execution %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "execution %s", id)
	}
	return nil
}

func (s *PostgresStore) FinishExecution(ctx context.Context, id string, status model.ExecutionStatus, reason, errDetail string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET status = $1, reason = $2, error_detail = $3, completed_at = $4, updated_at = $5
		 WHERE id = $6 AND status IN ('queued', 'running')`,
		string(status), reason, errDetail, at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish execution %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "execution %s", id)
	}
	return nil
}

func (s *PostgresStore) AppendExecutionLog(ctx context.Context, id string, entry string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET log = log || $1, updated_at = $2 WHERE id = $3`,
		entry, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append execution log %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "execution %s", id)
	}
	return nil
}

func (s *PostgresStore) IncrementEngagement(ctx context.Context, executionID string, kind EngagementKind) error {
	col, ok := engagementColumn(kind)
	if !ok {
		return eris.Errorf("unknown engagement kind: %s", kind)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET `+col+` = `+col+` + 1, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), executionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment %s for execution %s", col, executionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "execution %s", executionID)
	}
	return nil
}

// Leads

var leadUpsertConfig = db.UpsertConfig{
	Table: "leads",
	Columns: []string{
		"id", "campaign_id", "execution_id", "name", "company", "email", "phone",
		"website", "location", "industry", "rating", "review_count", "score",
		"quality", "status", "enrichment", "manual_fields", "personalization",
		"created_at", "updated_at",
	},
	ConflictKeys: []string{"id"},
	UpdateCols: []string{
		"score", "quality", "status", "enrichment", "personalization", "updated_at",
	},
}

func (s *PostgresStore) InsertLeads(ctx context.Context, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(leads))
	for i := range leads {
		l := &leads[i]
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.UpdatedAt = now

		enrichmentJSON, err := json.Marshal(l.Enrichment)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal enrichment")
		}
		manualJSON, err := json.Marshal(l.ManualFields)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal manual fields")
		}
		rows = append(rows, []any{
			l.ID, l.CampaignID, l.ExecutionID, l.Name, l.Company, l.Email, l.Phone,
			l.Website, l.Location, l.Industry, l.Rating, l.ReviewCount, l.Score,
			string(l.Quality), string(l.Status), enrichmentJSON, manualJSON,
			string(l.Personalization), l.CreatedAt, l.UpdatedAt,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, leadUpsertConfig, rows)
	return err
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	l, err := scanPgLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CampaignID != "" {
		query += fmt.Sprintf(` AND campaign_id = $%d`, argIdx)
		args = append(args, filter.CampaignID)
		argIdx++
	}
	if filter.ExecutionID != "" {
		query += fmt.Sprintf(` AND execution_id = $%d`, argIdx)
		args = append(args, filter.ExecutionID)
		argIdx++
	}
	if filter.Quality != "" {
		query += fmt.Sprintf(` AND quality = $%d`, argIdx)
		args = append(args, string(filter.Quality))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND score >= $%d`, argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}
	query += ` ORDER BY score DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now().UTC()

	enrichmentJSON, err := json.Marshal(l.Enrichment)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}
	manualJSON, err := json.Marshal(l.ManualFields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal manual fields")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET name = $1, company = $2, email = $3, phone = $4, website = $5,
		   location = $6, industry = $7, rating = $8, review_count = $9, score = $10,
		   quality = $11, status = $12, enrichment = $13, manual_fields = $14,
		   personalization = $15, updated_at = $16
		 WHERE id = $17`,
		l.Name, l.Company, l.Email, l.Phone, l.Website,
		l.Location, l.Industry, l.Rating, l.ReviewCount, l.Score,
		string(l.Quality), string(l.Status), enrichmentJSON, manualJSON,
		string(l.Personalization), l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", l.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", l.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return nil
}

// Dedup keys

func (s *PostgresStore) InsertDedupKey(ctx context.Context, campaignID, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO dedup_keys (campaign_id, key, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (campaign_id, key) DO NOTHING`,
		campaignID, key, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert dedup key")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) HasDedupKey(ctx context.Context, key, excludeCampaignID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM dedup_keys WHERE key = $1 AND campaign_id != $2 LIMIT 1`,
		key, excludeCampaignID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "postgres: has dedup key")
	}
	return true, nil
}

// Templates and profiles

func (s *PostgresStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO templates (id, name, subject, body, instructions) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Name, t.Subject, t.Body, t.Instructions,
	)
	return eris.Wrap(err, "postgres: insert template")
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var t model.Template
	var lastUsed *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, subject, body, instructions, usage_count, total_sent, total_responses, last_used
		 FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Instructions,
		&t.UsageCount, &t.TotalSent, &t.TotalResponses, &lastUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "template %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get template")
	}
	t.LastUsed = lastUsed
	return &t, nil
}

func (s *PostgresStore) RecordTemplateUsage(ctx context.Context, id string, sent int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE templates SET usage_count = usage_count + 1, total_sent = total_sent + $1, last_used = $2
		 WHERE id = $3`,
		sent, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record template usage %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "template %s", id)
	}
	return nil
}

func (s *PostgresStore) RecordTemplateResponse(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE templates SET total_responses = total_responses + 1 WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: record template response %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "template %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateProfile(ctx context.Context, p *model.CompanyProfile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, name, description, signature, from_name, from_email, reply_to)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Description, p.Signature, p.FromName, p.FromEmail, p.ReplyTo,
	)
	return eris.Wrap(err, "postgres: insert profile")
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error) {
	var p model.CompanyProfile
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, description, signature, from_name, from_email, reply_to
		 FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Signature, &p.FromName, &p.FromEmail, &p.ReplyTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "profile %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get profile")
	}
	return &p, nil
}

// scan helpers

func scanPgCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var criteriaJSON, statsJSON []byte

	err := row.Scan(&c.ID, &c.Name, &c.Owner, &c.Status, &criteriaJSON, &c.TemplateID, &c.ProfileID,
		&c.AIPersonalization, &c.BudgetUSD, &c.DedupScope, &statsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan campaign")
	}

	if err := json.Unmarshal(criteriaJSON, &c.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}
	if err := json.Unmarshal(statsJSON, &c.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal stats")
	}
	return &c, nil
}

func scanPgExecution(row scannable) (*model.Execution, error) {
	var e model.Execution
	var countersJSON, usageJSON []byte

	err := row.Scan(&e.ID, &e.CampaignID, &e.Type, &e.Status, &countersJSON, &usageJSON,
		&e.Counters.EmailsDelivered, &e.Counters.EmailsOpened, &e.Counters.EmailsClicked,
		&e.Counters.ResponsesReceived,
		&e.StartedAt, &e.CompletedAt, &e.ErrorDetail, &e.Reason, &e.Log, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan execution")
	}

	delivered, opened := e.Counters.EmailsDelivered, e.Counters.EmailsOpened
	clicked, responses := e.Counters.EmailsClicked, e.Counters.ResponsesReceived
	if err := json.Unmarshal(countersJSON, &e.Counters); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal counters")
	}
	e.Counters.EmailsDelivered, e.Counters.EmailsOpened = delivered, opened
	e.Counters.EmailsClicked, e.Counters.ResponsesReceived = clicked, responses

	if err := json.Unmarshal(usageJSON, &e.Usage); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal usage")
	}
	return &e, nil
}

func scanPgLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var enrichmentJSON, manualJSON []byte

	err := row.Scan(&l.ID, &l.CampaignID, &l.ExecutionID, &l.Name, &l.Company, &l.Email, &l.Phone,
		&l.Website, &l.Location, &l.Industry, &l.Rating, &l.ReviewCount, &l.Score, &l.Quality,
		&l.Status, &enrichmentJSON, &manualJSON, &l.Personalization, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan lead")
	}

	if err := json.Unmarshal(enrichmentJSON, &l.Enrichment); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal enrichment")
	}
	if err := json.Unmarshal(manualJSON, &l.ManualFields); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal manual fields")
	}
	return &l, nil
}
