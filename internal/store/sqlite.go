package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/resilience"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS campaigns (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	owner              TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'draft',
	criteria           TEXT NOT NULL,
	template_id        TEXT NOT NULL DEFAULT '',
	profile_id         TEXT NOT NULL DEFAULT '',
	ai_personalization INTEGER NOT NULL DEFAULT 0,
	budget_usd         REAL NOT NULL DEFAULT 0,
	dedup_scope        TEXT NOT NULL DEFAULT 'global',
	stats              TEXT NOT NULL DEFAULT '{}',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS executions (
	id                 TEXT PRIMARY KEY,
	campaign_id        TEXT NOT NULL REFERENCES campaigns(id),
	type               TEXT NOT NULL DEFAULT 'manual',
	status             TEXT NOT NULL DEFAULT 'queued',
	counters           TEXT NOT NULL DEFAULT '{}',
	usage              TEXT NOT NULL DEFAULT '{}',
	emails_delivered   INTEGER NOT NULL DEFAULT 0,
	emails_opened      INTEGER NOT NULL DEFAULT 0,
	emails_clicked     INTEGER NOT NULL DEFAULT 0,
	responses_received INTEGER NOT NULL DEFAULT 0,
	started_at         DATETIME,
	completed_at       DATETIME,
	error_detail       TEXT NOT NULL DEFAULT '',
	reason             TEXT NOT NULL DEFAULT '',
	log                TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
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
	rating          REAL NOT NULL DEFAULT 0,
	review_count    INTEGER NOT NULL DEFAULT 0,
	score           REAL NOT NULL DEFAULT 0,
	quality         TEXT NOT NULL DEFAULT 'unqualified',
	status          TEXT NOT NULL DEFAULT 'new',
	enrichment      TEXT NOT NULL DEFAULT '{}',
	manual_fields   TEXT NOT NULL DEFAULT '{}',
	personalization TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dedup_keys (
	campaign_id TEXT NOT NULL,
	key         TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (campaign_id, key)
);

CREATE TABLE IF NOT EXISTS templates (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	subject         TEXT NOT NULL,
	body            TEXT NOT NULL,
	instructions    TEXT NOT NULL DEFAULT '',
	usage_count     INTEGER NOT NULL DEFAULT 0,
	total_sent      INTEGER NOT NULL DEFAULT 0,
	total_responses INTEGER NOT NULL DEFAULT 0,
	last_used       DATETIME
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Campaigns

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
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
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	statsJSON, err := json.Marshal(c.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, owner, status, criteria, template_id, profile_id,
		   ai_personalization, budget_usd, dedup_scope, stats, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Owner, string(c.Status), string(criteriaJSON), c.TemplateID, c.ProfileID,
		boolToInt(c.AIPersonalization), c.BudgetUSD, string(c.DedupScope), string(statsJSON), now, now,
	)
	return eris.Wrap(err, "sqlite: insert campaign")
}

const campaignColumns = `id, name, owner, status, criteria, template_id, profile_id,
	ai_personalization, budget_usd, dedup_scope, stats, created_at, updated_at`

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Owner != "" {
		query += ` AND owner = ?`
		args = append(args, filter.Owner)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

func (s *SQLiteStore) UpdateCampaignStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign status %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

func (s *SQLiteStore) UpdateCampaignCriteria(ctx context.Context, id string, criteria model.TargetingCriteria) error {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !c.Status.CriteriaEditable() {
		return resilience.NewValidationError(
			eris.Errorf("campaign %s: criteria locked in status %s", id, c.Status))
	}

	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET criteria = ?, updated_at = ? WHERE id = ?`,
		string(criteriaJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update campaign criteria %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

func (s *SQLiteStore) AddCampaignStats(ctx context.Context, id string, delta model.CampaignStats) error {
	c, err := s.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	c.Stats.Add(delta)

	statsJSON, err := json.Marshal(c.Stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET stats = ?, updated_at = ? WHERE id = ?`,
		string(statsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add campaign stats %s", id)
	}
	return checkRowsAffected(res, "campaign", id)
}

// Executions

func (s *SQLiteStore) CreateExecution(ctx context.Context, e *model.Execution) error {
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.Status == "" {
		e.Status = model.ExecutionStatusQueued
	}

	countersJSON, err := json.Marshal(e.Counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	usageJSON, err := json.Marshal(e.Usage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal usage")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, campaign_id, type, status, counters, usage, log, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, string(e.Type), string(e.Status),
		string(countersJSON), string(usageJSON), e.Log, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return s.activeConflict(ctx, e.CampaignID)
		}
		return eris.Wrap(err, "sqlite: insert execution")
	}
	return nil
}

// activeConflict resolves the unique-index violation into a ConflictError
// naming the execution that holds the campaign's slot.
func (s *SQLiteStore) activeConflict(ctx context.Context, campaignID string) error {
	active, err := s.ActiveExecution(ctx, campaignID)
	if err != nil || active == nil {
		return &resilience.ConflictError{CampaignID: campaignID}
	}
	return &resilience.ConflictError{CampaignID: campaignID, ExecutionID: active.ID}
}

const executionColumns = `id, campaign_id, type, status, counters, usage,
	emails_delivered, emails_opened, emails_clicked, responses_received,
	started_at, completed_at, error_detail, reason, log, created_at, updated_at`

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == errNoRows {
		return nil, eris.Wrapf(ErrNotFound, "execution %s", id)
	}
	return e, err
}

func (s *SQLiteStore) ActiveExecution(ctx context.Context, campaignID string) (*model.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE campaign_id = ? AND status IN ('queued', 'running') LIMIT 1`,
		campaignID)
	e, err := scanExecution(row)
	if err == errNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) ListExecutions(ctx context.Context, campaignID string, limit int) ([]model.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions
		 WHERE campaign_id = ? ORDER BY created_at DESC LIMIT ?`,
		campaignID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close()

	var execs []model.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, eris.Wrap(rows.Err(), "sqlite: list executions iterate")
}

func (s *SQLiteStore) StartExecution(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, started_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.ExecutionStatusRunning), at.UTC(), time.Now().UTC(),
		id, string(model.ExecutionStatusQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start execution %s", id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) CheckpointExecution(ctx context.Context, id string, counters model.Counters, usage model.UsageStats) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counters")
	}
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal usage")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET counters = ?, usage = ?, updated_at = ? WHERE id = ?`,
		string(countersJSON), string(usageJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: checkpoint execution %s", id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) FinishExecution(ctx context.Context, id string, status model.ExecutionStatus, reason, errDetail string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, reason = ?, error_detail = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN ('queued', 'running')`,
		string(status), reason, errDetail, at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish execution %s", id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, id string, entry string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET log = log || ?, updated_at = ? WHERE id = ?`,
		entry, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append execution log %s", id)
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *SQLiteStore) IncrementEngagement(ctx context.Context, executionID string, kind EngagementKind) error {
	col, ok := engagementColumn(kind)
	if !ok {
		return eris.Errorf("unknown engagement kind: %s", kind)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET `+col+` = `+col+` + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), executionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment %s for execution %s", col, executionID)
	}
	return checkRowsAffected(res, "execution", executionID)
}

// Leads

const leadColumns = `id, campaign_id, execution_id, name, company, email, phone, website,
	location, industry, rating, review_count, score, quality, status,
	enrichment, manual_fields, personalization, created_at, updated_at`

func (s *SQLiteStore) InsertLeads(ctx context.Context, leads []model.Lead) error {
	if len(leads) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert leads")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   score = excluded.score, quality = excluded.quality, status = excluded.status,
		   enrichment = excluded.enrichment, personalization = excluded.personalization,
		   updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert lead")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range leads {
		l := &leads[i]
		if l.CreatedAt.IsZero() {
			l.CreatedAt = now
		}
		l.UpdatedAt = now

		args, err := leadArgs(l)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert lead %s", l.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert leads")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if err == errNoRows {
		return nil, eris.Wrapf(ErrNotFound, "lead %s", id)
	}
	return l, err
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, filter.CampaignID)
	}
	if filter.ExecutionID != "" {
		query += ` AND execution_id = ?`
		args = append(args, filter.ExecutionID)
	}
	if filter.Quality != "" {
		query += ` AND quality = ?`
		args = append(args, string(filter.Quality))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.MinScore > 0 {
		query += ` AND score >= ?`
		args = append(args, filter.MinScore)
	}
	query += ` ORDER BY score DESC, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, l *model.Lead) error {
	l.UpdatedAt = time.Now().UTC()

	enrichmentJSON, err := json.Marshal(l.Enrichment)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}
	manualJSON, err := json.Marshal(l.ManualFields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal manual fields")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET name = ?, company = ?, email = ?, phone = ?, website = ?,
		   location = ?, industry = ?, rating = ?, review_count = ?, score = ?, quality = ?,
		   status = ?, enrichment = ?, manual_fields = ?, personalization = ?, updated_at = ?
		 WHERE id = ?`,
		l.Name, l.Company, l.Email, l.Phone, l.Website,
		l.Location, l.Industry, l.Rating, l.ReviewCount, l.Score, string(l.Quality),
		string(l.Status), string(enrichmentJSON), string(manualJSON), string(l.Personalization),
		l.UpdatedAt, l.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", l.ID)
	}
	return checkRowsAffected(res, "lead", l.ID)
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id string, status model.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead status %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

// Dedup keys

func (s *SQLiteStore) InsertDedupKey(ctx context.Context, campaignID, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_keys (campaign_id, key, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (campaign_id, key) DO NOTHING`,
		campaignID, key, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert dedup key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) HasDedupKey(ctx context.Context, key, excludeCampaignID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dedup_keys WHERE key = ? AND campaign_id != ? LIMIT 1`,
		key, excludeCampaignID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has dedup key")
	}
	return true, nil
}

// Templates and profiles

func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *model.Template) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, subject, body, instructions) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Subject, t.Body, t.Instructions,
	)
	return eris.Wrap(err, "sqlite: insert template")
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	var t model.Template
	var lastUsed sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, subject, body, instructions, usage_count, total_sent, total_responses, last_used
		 FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.Body, &t.Instructions,
		&t.UsageCount, &t.TotalSent, &t.TotalResponses, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "template %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get template")
	}
	if lastUsed.Valid {
		t.LastUsed = &lastUsed.Time
	}
	return &t, nil
}

func (s *SQLiteStore) RecordTemplateUsage(ctx context.Context, id string, sent int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET usage_count = usage_count + 1, total_sent = total_sent + ?, last_used = ?
		 WHERE id = ?`,
		sent, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record template usage %s", id)
	}
	return checkRowsAffected(res, "template", id)
}

func (s *SQLiteStore) RecordTemplateResponse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET total_responses = total_responses + 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record template response %s", id)
	}
	return checkRowsAffected(res, "template", id)
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, p *model.CompanyProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, description, signature, from_name, from_email, reply_to)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Signature, p.FromName, p.FromEmail, p.ReplyTo,
	)
	return eris.Wrap(err, "sqlite: insert profile")
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*model.CompanyProfile, error) {
	var p model.CompanyProfile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, signature, from_name, from_email, reply_to
		 FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Signature, &p.FromName, &p.FromEmail, &p.ReplyTo)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "profile %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get profile")
	}
	return &p, nil
}

// helpers

var errNoRows = sql.ErrNoRows

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func engagementColumn(kind EngagementKind) (string, bool) {
	switch kind {
	case EngagementDelivered:
		return "emails_delivered", true
	case EngagementOpened:
		return "emails_opened", true
	case EngagementClicked:
		return "emails_clicked", true
	case EngagementResponse:
		return "responses_received", true
	default:
		return "", false
	}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCampaign(row scannable) (*model.Campaign, error) {
	var c model.Campaign
	var criteriaJSON, statsJSON string
	var aiPersonalization int

	err := row.Scan(&c.ID, &c.Name, &c.Owner, &c.Status, &criteriaJSON, &c.TemplateID, &c.ProfileID,
		&aiPersonalization, &c.BudgetUSD, &c.DedupScope, &statsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "campaign")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan campaign")
	}

	c.AIPersonalization = aiPersonalization != 0
	if err := json.Unmarshal([]byte(criteriaJSON), &c.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	if err := json.Unmarshal([]byte(statsJSON), &c.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stats")
	}
	return &c, nil
}

func scanExecution(row scannable) (*model.Execution, error) {
	var e model.Execution
	var countersJSON, usageJSON string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&e.ID, &e.CampaignID, &e.Type, &e.Status, &countersJSON, &usageJSON,
		&e.Counters.EmailsDelivered, &e.Counters.EmailsOpened, &e.Counters.EmailsClicked,
		&e.Counters.ResponsesReceived,
		&startedAt, &completedAt, &e.ErrorDetail, &e.Reason, &e.Log, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNoRows
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan execution")
	}

	// Overlay: the engagement columns win over whatever the counters blob
	// carried at checkpoint time.
	delivered, opened := e.Counters.EmailsDelivered, e.Counters.EmailsOpened
	clicked, responses := e.Counters.EmailsClicked, e.Counters.ResponsesReceived
	if err := json.Unmarshal([]byte(countersJSON), &e.Counters); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal counters")
	}
	e.Counters.EmailsDelivered, e.Counters.EmailsOpened = delivered, opened
	e.Counters.EmailsClicked, e.Counters.ResponsesReceived = clicked, responses

	if err := json.Unmarshal([]byte(usageJSON), &e.Usage); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal usage")
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var enrichmentJSON, manualJSON string

	err := row.Scan(&l.ID, &l.CampaignID, &l.ExecutionID, &l.Name, &l.Company, &l.Email, &l.Phone,
		&l.Website, &l.Location, &l.Industry, &l.Rating, &l.ReviewCount, &l.Score, &l.Quality,
		&l.Status, &enrichmentJSON, &manualJSON, &l.Personalization, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errNoRows
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}

	if err := json.Unmarshal([]byte(enrichmentJSON), &l.Enrichment); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal enrichment")
	}
	if err := json.Unmarshal([]byte(manualJSON), &l.ManualFields); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal manual fields")
	}
	return &l, nil
}

func leadArgs(l *model.Lead) ([]any, error) {
	enrichmentJSON, err := json.Marshal(l.Enrichment)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal enrichment")
	}
	manualJSON, err := json.Marshal(l.ManualFields)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal manual fields")
	}
	return []any{
		l.ID, l.CampaignID, l.ExecutionID, l.Name, l.Company, l.Email, l.Phone,
		l.Website, l.Location, l.Industry, l.Rating, l.ReviewCount, l.Score,
		string(l.Quality), string(l.Status), string(enrichmentJSON), string(manualJSON),
		string(l.Personalization), l.CreatedAt, l.UpdatedAt,
	}, nil
}
