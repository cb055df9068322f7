package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(ctx context.Context, cfg PoolConfig) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing pool. The schema is not applied.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies the embedded schema. It is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() { p.pool.Close() }

// ----------------------------------------------------------------------------
// Batches
// ----------------------------------------------------------------------------

const batchSelect = `
	SELECT b.id, b.name, b.created_by, b.status, b.format, b.date_from, b.date_to, b.created_at,
		COUNT(r.id), COUNT(r.id) FILTER (WHERE r.category <> '')
	FROM batches b
	LEFT JOIN records r ON r.batch_id = b.id`

func (p *Postgres) CreateBatch(ctx context.Context, b model.Batch, recs []model.Record) (model.Batch, []model.Record, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return model.Batch{}, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // No-op after commit

	if b.Status == "" {
		b.Status = model.BatchInProgress
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO batches (name, created_by, status, format, date_from, date_to)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		b.Name, b.CreatedBy, b.Status, b.Format, toPgDate(b.DateFrom), toPgDate(b.DateTo),
	).Scan(&id)
	if err != nil {
		return model.Batch{}, nil, fmt.Errorf("insert batch: %w", err)
	}

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = []any{
			id, rec.Seq, rec.Date.In(time.UTC), rec.Payee, toPgNumeric(rec.Amount),
			rec.Category, rec.Note, rec.OriginalCategory, rec.OriginalComment,
		}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"records"},
		[]string{"batch_id", "seq", "date", "payee", "amount", "category", "note", "original_category", "original_comment"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return model.Batch{}, nil, fmt.Errorf("copy records: %w", err)
	}

	stored, err := getBatch(ctx, tx, id)
	if err != nil {
		return model.Batch{}, nil, err
	}
	out, err := listRecords(ctx, tx, `WHERE batch_id = $1 ORDER BY seq, id`, id)
	if err != nil {
		return model.Batch{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Batch{}, nil, fmt.Errorf("commit: %w", err)
	}
	return stored, out, nil
}

func (p *Postgres) GetBatch(ctx context.Context, id int64) (model.Batch, error) {
	return getBatch(ctx, p.pool, id)
}

func getBatch(ctx context.Context, db DBTX, id int64) (model.Batch, error) {
	b, err := scanBatch(db.QueryRow(ctx, batchSelect+` WHERE b.id = $1 GROUP BY b.id`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Batch{}, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Batch{}, fmt.Errorf("get batch %d: %w", id, err)
	}
	return b, nil
}

func (p *Postgres) ListBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := p.pool.Query(ctx, batchSelect+` GROUP BY b.id ORDER BY b.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	batches := make([]model.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (p *Postgres) SetBatchStatus(ctx context.Context, id int64, status string) (model.Batch, error) {
	tag, err := p.pool.Exec(ctx, `UPDATE batches SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return model.Batch{}, fmt.Errorf("set batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Batch{}, fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	return p.GetBatch(ctx, id)
}

func (p *Postgres) DeleteBatch(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("batch %d: %w", id, ErrNotFound)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Records
// ----------------------------------------------------------------------------

const recordColumns = `id, batch_id, seq, date, payee, amount, category, note,
	original_category, original_comment, assigned_by, assigned_at`

func (p *Postgres) GetRecord(ctx context.Context, id int64) (model.Record, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("get record %d: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) ListRecords(ctx context.Context, batchID int64) ([]model.Record, error) {
	if _, err := p.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	return listRecords(ctx, p.pool, `WHERE batch_id = $1 ORDER BY date, seq, id`, batchID)
}

func (p *Postgres) AllRecords(ctx context.Context) ([]model.Record, error) {
	return listRecords(ctx, p.pool, `ORDER BY id`)
}

func listRecords(ctx context.Context, db DBTX, clause string, args ...any) ([]model.Record, error) {
	rows, err := db.Query(ctx, `SELECT `+recordColumns+` FROM records `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]model.Record, error) {
	defer rows.Close()

	recs := make([]model.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (p *Postgres) SetCategory(ctx context.Context, a Assignment) (model.Record, model.Progress, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return model.Record{}, model.Progress{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // No-op after commit

	var rec model.Record
	applyAssignment(&rec, a)

	var assignedBy pgtype.Text
	var assignedAt pgtype.Timestamptz
	if rec.AssignedAt != nil {
		assignedBy = pgtype.Text{String: rec.AssignedBy, Valid: true}
		assignedAt = pgtype.Timestamptz{Time: *rec.AssignedAt, Valid: true}
	}

	rec, err = scanRecord(tx.QueryRow(ctx, `
		UPDATE records
		SET category = $2, note = $3, assigned_by = $4, assigned_at = $5
		WHERE id = $1
		RETURNING `+recordColumns,
		a.RecordID, rec.Category, rec.Note, assignedBy, assignedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, model.Progress{}, fmt.Errorf("record %d: %w", a.RecordID, ErrNotFound)
	}
	if err != nil {
		return model.Record{}, model.Progress{}, fmt.Errorf("update record %d: %w", a.RecordID, err)
	}

	progress := model.Progress{BatchID: rec.BatchID}
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE category <> ''), COUNT(*)
		FROM records WHERE batch_id = $1`, rec.BatchID,
	).Scan(&progress.Done, &progress.Total)
	if err != nil {
		return model.Record{}, model.Progress{}, fmt.Errorf("count progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Record{}, model.Progress{}, fmt.Errorf("commit: %w", err)
	}
	return rec, progress, nil
}

func (p *Postgres) MigrateCategories(ctx context.Context, mapping map[string]string) ([]model.Record, int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // No-op after commit

	records := make([]model.Record, 0)
	var rules int64
	for from, to := range mapping {
		if from == "" {
			continue
		}
		rows, err := tx.Query(ctx, `UPDATE records SET category = $2 WHERE category = $1 RETURNING `+recordColumns, from, to)
		if err != nil {
			return nil, 0, fmt.Errorf("migrate records %q: %w", from, err)
		}
		moved, err := collectRecords(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("migrate records %q: %w", from, err)
		}
		records = append(records, moved...)

		tag, err := tx.Exec(ctx, `UPDATE rules SET category = $2 WHERE category = $1`, from, to)
		if err != nil {
			return nil, 0, fmt.Errorf("migrate rules %q: %w", from, err)
		}
		rules += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, int(rules), nil
}

// ----------------------------------------------------------------------------
// Categories
// ----------------------------------------------------------------------------

func (p *Postgres) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := p.pool.Query(ctx, `SELECT parent, name, full_path, usage_count FROM categories ORDER BY full_path`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	cats := make([]model.Category, 0)
	for rows.Next() {
		var c model.Category
		var usage int64
		if err := rows.Scan(&c.Parent, &c.Name, &c.FullPath, &usage); err != nil {
			return nil, err
		}
		c.Usage = uint64(usage)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (p *Postgres) UpsertCategories(ctx context.Context, cats ...model.Category) error {
	if len(cats) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range cats {
		batch.Queue(`
			INSERT INTO categories (full_path, parent, name, usage_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (full_path) DO UPDATE
			SET parent = EXCLUDED.parent, name = EXCLUDED.name, usage_count = EXCLUDED.usage_count`,
			model.JoinPath(c.Parent, c.Name), c.Parent, c.Name, int64(c.Usage))
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range cats {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert category: %w", err)
		}
	}
	return nil
}

func (p *Postgres) DeleteCategories(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM categories WHERE full_path = ANY($1)`, paths); err != nil {
		return fmt.Errorf("delete categories: %w", err)
	}
	return nil
}

// ----------------------------------------------------------------------------
// Rules
// ----------------------------------------------------------------------------

const ruleColumns = `id, pattern, match_type, category, created_by, created_at`

func (p *Postgres) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	out := make([]model.Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) GetRule(ctx context.Context, id int64) (model.Rule, error) {
	return p.ruleRow(ctx, id, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
}

func (p *Postgres) CreateRule(ctx context.Context, r model.Rule) (model.Rule, error) {
	created, err := scanRule(p.pool.QueryRow(ctx, `
		INSERT INTO rules (pattern, match_type, category, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING `+ruleColumns,
		r.Pattern, r.Mode, r.Category, r.CreatedBy,
	))
	if err != nil {
		return model.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return created, nil
}

func (p *Postgres) UpdateRule(ctx context.Context, r model.Rule) (model.Rule, error) {
	return p.ruleRow(ctx, r.ID, `
		UPDATE rules SET pattern = $2, match_type = $3, category = $4
		WHERE id = $1
		RETURNING `+ruleColumns,
		r.ID, r.Pattern, r.Mode, r.Category)
}

func (p *Postgres) DeleteRule(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) ruleRow(ctx context.Context, id int64, query string, args ...any) (model.Rule, error) {
	r, err := scanRule(p.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Rule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Rule{}, fmt.Errorf("rule %d: %w", id, err)
	}
	return r, nil
}

// ----------------------------------------------------------------------------
// Scanning and conversion
// ----------------------------------------------------------------------------

func scanBatch(row pgx.Row) (model.Batch, error) {
	var (
		b        model.Batch
		from, to pgtype.Date
	)
	err := row.Scan(&b.ID, &b.Name, &b.CreatedBy, &b.Status, &b.Format, &from, &to, &b.CreatedAt,
		&b.Total, &b.Categorized)
	if err != nil {
		return model.Batch{}, err
	}
	b.DateFrom = fromPgDate(from)
	b.DateTo = fromPgDate(to)
	return b, nil
}

func scanRecord(row pgx.Row) (model.Record, error) {
	var (
		rec        model.Record
		date       time.Time
		amount     pgtype.Numeric
		assignedBy pgtype.Text
		assignedAt pgtype.Timestamptz
	)
	err := row.Scan(&rec.ID, &rec.BatchID, &rec.Seq, &date, &rec.Payee, &amount,
		&rec.Category, &rec.Note, &rec.OriginalCategory, &rec.OriginalComment,
		&assignedBy, &assignedAt)
	if err != nil {
		return model.Record{}, err
	}

	rec.Date = civil.DateOf(date)
	rec.Amount = fromPgNumeric(amount)
	if assignedBy.Valid {
		rec.AssignedBy = assignedBy.String
	}
	if assignedAt.Valid {
		t := assignedAt.Time.UTC()
		rec.AssignedAt = &t
	}
	return rec, nil
}

func scanRule(row pgx.Row) (model.Rule, error) {
	var r model.Rule
	err := row.Scan(&r.ID, &r.Pattern, &r.Mode, &r.Category, &r.CreatedBy, &r.CreatedAt)
	return r, err
}

func toPgDate(d civil.Date) pgtype.Date {
	if !d.IsValid() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}

func fromPgDate(d pgtype.Date) civil.Date {
	if !d.Valid {
		return civil.Date{}
	}
	return civil.DateOf(d.Time)
}

func toPgNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromPgNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
