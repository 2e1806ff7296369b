/* Copyright (c) 2025 FlowCost Authors
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ompatildesigns-ctrl/flowcost/internal/config"
	"github.com/ompatildesigns-ctrl/flowcost/internal/domain"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func MustOpen(ctx context.Context, cfg config.Config, log zerolog.Logger) *DB {
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
	if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
	return &DB{Pool: pool, log: log}
}

func (d *DB) Close() { d.Pool.Close() }

type Repository struct {
	db  *DB
	log zerolog.Logger
}

func NewRepository(d *DB, log zerolog.Logger) *Repository { return &Repository{db: d, log: log} }

func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok)
	return ok, err
}

func (r *Repository) AdvisoryUnlock(ctx context.Context, key int64) error {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&ok)
	if !ok && err == nil { return errors.New("advisory unlock returned false") }
	return err
}

// IssueFilter narrows FindIssues/CountIssues. Zero-value fields are ignored.
type IssueFilter struct {
	StatusNotIn           []string
	Assignee              string
	UpdatedSince          *time.Time
	UpdatedBefore         *time.Time
	ResolvedSince         *time.Time
	ResolvedBefore        *time.Time
	CreatedSince          *time.Time
	CreatedOrUpdatedSince *time.Time
}

const issueCols = `id, connection_id, key, project, summary, type, priority, status,
		assignee, assignee_name, created_at_jira, updated_at_jira, resolved_at_jira`

func issueWhere(connectionID string, f IssueFilter) (string, []any) {
	conds := []string{"connection_id = $1"}
	args := []any{connectionID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.StatusNotIn) > 0 { add("NOT (lower(status) = ANY($%d))", lowerAll(f.StatusNotIn)) }
	if f.Assignee != "" { add("assignee = $%d", f.Assignee) }
	if f.UpdatedSince != nil { add("updated_at_jira >= $%d", *f.UpdatedSince) }
	if f.UpdatedBefore != nil { add("updated_at_jira < $%d", *f.UpdatedBefore) }
	if f.ResolvedSince != nil { add("resolved_at_jira >= $%d", *f.ResolvedSince) }
	if f.ResolvedBefore != nil { add("resolved_at_jira < $%d", *f.ResolvedBefore) }
	if f.CreatedSince != nil { add("created_at_jira >= $%d", *f.CreatedSince) }
	if f.CreatedOrUpdatedSince != nil {
		args = append(args, *f.CreatedOrUpdatedSince)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(created_at_jira >= $%d OR updated_at_jira >= $%d)", n, n))
	}
	return strings.Join(conds, " AND "), args
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss { out[i] = strings.ToLower(s) }
	return out
}

func (r *Repository) FindIssues(ctx context.Context, connectionID string, f IssueFilter) ([]domain.Issue, error) {
	where, args := issueWhere(connectionID, f)
	q := "SELECT " + issueCols + " FROM issues WHERE " + where + " ORDER BY key"
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.Issue
	for rows.Next() {
		var i domain.Issue
		if err := rows.Scan(&i.ID, &i.ConnectionID, &i.Key, &i.Project, &i.Summary, &i.Type, &i.Priority, &i.Status,
			&i.Assignee, &i.AssigneeName, &i.Created, &i.Updated, &i.Resolved); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *Repository) CountIssues(ctx context.Context, connectionID string, f IssueFilter) (int, error) {
	where, args := issueWhere(connectionID, f)
	var n int
	err := r.db.Pool.QueryRow(ctx, "SELECT count(*) FROM issues WHERE "+where, args...).Scan(&n)
	return n, err
}

const upsertIssueSQL = `
	INSERT INTO issues(connection_id, key, project, summary, type, priority, status,
		assignee, assignee_name, created_at_jira, updated_at_jira, resolved_at_jira)
	VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT(connection_id, key) DO UPDATE SET
		project=EXCLUDED.project,
		summary=EXCLUDED.summary,
		type=EXCLUDED.type,
		priority=EXCLUDED.priority,
		status=EXCLUDED.status,
		assignee=EXCLUDED.assignee,
		assignee_name=EXCLUDED.assignee_name,
		created_at_jira=EXCLUDED.created_at_jira,
		updated_at_jira=EXCLUDED.updated_at_jira,
		resolved_at_jira=EXCLUDED.resolved_at_jira`

func upsertIssueArgs(i domain.Issue) []any {
	return []any{i.ConnectionID, i.Key, i.Project, i.Summary, i.Type, i.Priority, i.Status,
		i.Assignee, i.AssigneeName, i.Created, i.Updated, i.Resolved}
}

func (r *Repository) BulkUpsertIssues(ctx context.Context, issues []domain.Issue) error {
	if len(issues) == 0 { return nil }
	batch := &pgx.Batch{}
	for _, i := range issues { batch.Queue(upsertIssueSQL, upsertIssueArgs(i)...) }
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range issues { if _, err := br.Exec(); err != nil { return err } }
	return nil
}

func (r *Repository) FindUsers(ctx context.Context, connectionID string, activeOnly bool) ([]domain.Person, error) {
	q := `SELECT account_id, display_name, email, active FROM users WHERE connection_id = $1`
	if activeOnly { q += ` AND active` }
	q += ` ORDER BY display_name`
	rows, err := r.db.Pool.Query(ctx, q, connectionID)
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.Person
	for rows.Next() {
		var p domain.Person
		if err := rows.Scan(&p.AccountID, &p.DisplayName, &p.Email, &p.Active); err != nil { return nil, err }
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) BulkUpsertUsers(ctx context.Context, connectionID string, users []domain.Person) error {
	if len(users) == 0 { return nil }
	batch := &pgx.Batch{}
	const q = `INSERT INTO users(connection_id, account_id, display_name, email, active)
		VALUES($1,$2,$3,$4,$5)
		ON CONFLICT(connection_id, account_id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			email=EXCLUDED.email,
			active=EXCLUDED.active`
	for _, u := range users { batch.Queue(q, connectionID, u.AccountID, u.DisplayName, u.Email, u.Active) }
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for range users { if _, err := br.Exec(); err != nil { return err } }
	return nil
}

const connCols = `id, user_id, cloud_id, site_url, scopes, enc_access_token, enc_refresh_token,
		expires_at, last_full_sync_at, last_delta_sync_at, created_at, updated_at`

func (r *Repository) scanConnection(row pgx.Row) (*domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(&c.ID, &c.UserID, &c.CloudID, &c.SiteURL, &c.Scopes, &c.EncAccessToken, &c.EncRefreshToken,
		&c.ExpiresAt, &c.LastFullSyncAt, &c.LastDeltaSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil { return nil, err }
	return &c, nil
}

func (r *Repository) CreateConnection(ctx context.Context, c domain.Connection) error {
	const q = `INSERT INTO connections(id, user_id, cloud_id, site_url, scopes, enc_access_token, enc_refresh_token, expires_at, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT(id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			cloud_id=EXCLUDED.cloud_id,
			site_url=EXCLUDED.site_url,
			scopes=EXCLUDED.scopes,
			enc_access_token=EXCLUDED.enc_access_token,
			enc_refresh_token=EXCLUDED.enc_refresh_token,
			expires_at=EXCLUDED.expires_at,
			updated_at=now()`
	_, err := r.db.Pool.Exec(ctx, q, c.ID, c.UserID, c.CloudID, c.SiteURL, c.Scopes, c.EncAccessToken, c.EncRefreshToken, c.ExpiresAt, c.CreatedAt)
	return err
}

// GetConnection returns (nil, nil) when the id is unknown.
func (r *Repository) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	c, err := r.scanConnection(r.db.Pool.QueryRow(ctx, "SELECT "+connCols+" FROM connections WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) { return nil, nil }
	if err != nil { return nil, err }
	return c, nil
}

func (r *Repository) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT "+connCols+" FROM connections ORDER BY created_at")
	if err != nil { return nil, err }
	defer rows.Close()
	var out []domain.Connection
	for rows.Next() {
		c, err := r.scanConnection(rows)
		if err != nil { return nil, err }
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateConnectionTokens persists freshly rotated tokens. An empty encRefresh
// keeps the stored refresh token (providers do not always rotate it).
func (r *Repository) UpdateConnectionTokens(ctx context.Context, id, encAccess, encRefresh string, expiresAt time.Time) error {
	const q = `UPDATE connections SET
			enc_access_token = $2,
			enc_refresh_token = COALESCE(NULLIF($3, ''), enc_refresh_token),
			expires_at = $4,
			updated_at = now()
		WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, encAccess, encRefresh, expiresAt)
	if err != nil { return err }
	if tag.RowsAffected() == 0 { return fmt.Errorf("connection %s not found", id) }
	return nil
}

// ExpireConnectionToken backdates expires_at so the next caller refreshes.
func (r *Repository) ExpireConnectionToken(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx, "UPDATE connections SET expires_at = now() - interval '1 hour' WHERE id = $1", id)
	return err
}

func (r *Repository) MarkDeltaSync(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, "UPDATE connections SET last_delta_sync_at = $2 WHERE id = $1", id, at)
	return err
}

func (r *Repository) MarkFullSync(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, "UPDATE connections SET last_full_sync_at = $2, last_delta_sync_at = $2 WHERE id = $1", id, at)
	return err
}
