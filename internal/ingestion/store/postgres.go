package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/pkg/platform/sentinel"
	"vendorgrid/pkg/platform/tx"
	"vendorgrid/pkg/requestcontext"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema files in name order. Every statement is
// idempotent, so Migrate is safe to run on each start.
func Migrate(ctx context.Context, db *sql.DB) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// PostgresStore persists identities, provenance, audit, runs, conflict notes
// and the change outbox in PostgreSQL.
type PostgresStore struct {
	sealer
	db *sql.DB
	tx *tx.Runner
}

type PostgresOption func(*PostgresStore)

func WithPostgresCipher(c Cipher) PostgresOption {
	return func(s *PostgresStore) {
		s.cipher = c
	}
}

// WithTxTimeout bounds each commit transaction.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.tx = tx.NewRunner(s.db, d)
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, tx: tx.NewRunner(db, 0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) execer {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

const identityColumns = `id, canonical_id, name, address, street_number, street_name, street_direction,
	unit, city, region, postal_code, country_code, industry_code, industry_description,
	legal_structure, contact_email, contact_phone, website, bank_account, is_active,
	data_source, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*models.VendorIdentity, error) {
	var v models.VendorIdentity
	err := row.Scan(
		&v.ID, &v.CanonicalID, &v.Name, &v.Address, &v.StreetNumber, &v.StreetName, &v.StreetDirection,
		&v.Unit, &v.City, &v.Region, &v.PostalCode, &v.CountryCode, &v.IndustryCode, &v.IndustryDescription,
		&v.LegalStructure, &v.ContactEmail, &v.ContactPhone, &v.Website, &v.BankAccount, &v.IsActive,
		&v.DataSource, &v.Version, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func identityArgs(v *models.VendorIdentity) []any {
	return []any{
		v.ID, v.CanonicalID, v.Name, v.Address, v.StreetNumber, v.StreetName, v.StreetDirection,
		v.Unit, v.City, v.Region, v.PostalCode, v.CountryCode, v.IndustryCode, v.IndustryDescription,
		v.LegalStructure, v.ContactEmail, v.ContactPhone, v.Website, v.BankAccount, v.IsActive,
		v.DataSource, v.Version, v.CreatedAt, v.UpdatedAt,
	}
}

func (s *PostgresStore) FindByCanonicalID(ctx context.Context, canonicalID string) (*models.VendorIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM vendors WHERE canonical_id = $1`
	return s.findOne(ctx, query, canonicalID)
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.VendorIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM vendors WHERE id = $1`
	return s.findOne(ctx, query, id)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*models.VendorIdentity, error) {
	v, err := scanIdentity(s.execer(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find vendor: %w", err)
	}
	return s.openIdentity(v)
}

// Commit applies the intent in one transaction. The current row is locked
// with SELECT ... FOR UPDATE so concurrent commits for the same canonical id
// serialize. A losing concurrent Create surfaces as models.ErrIdentityConflict
// through the unique constraint.
func (s *PostgresStore) Commit(ctx context.Context, intent *models.Intent) (*models.VendorIdentity, error) {
	if intent == nil {
		return nil, fmt.Errorf("intent is required")
	}
	var out *models.VendorIdentity
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		db := s.execer(ctx)
		current, err := scanIdentity(db.QueryRowContext(ctx,
			`SELECT `+identityColumns+` FROM vendors WHERE canonical_id = $1 FOR UPDATE`,
			intent.Identity.CanonicalID))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock vendor: %w", err)
		}

		p, err := s.prepare(intent, current, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		if err := s.writeIdentity(ctx, db, intent, p.identity); err != nil {
			return err
		}
		if err := s.insertProvenance(ctx, db, p.provenance); err != nil {
			return err
		}
		if err := s.insertAudit(ctx, db, p.audit); err != nil {
			return err
		}
		if err := s.insertEvent(ctx, db, p.event); err != nil {
			return err
		}
		out = p.plain
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) writeIdentity(ctx context.Context, db execer, intent *models.Intent, v *models.VendorIdentity) error {
	if intent.Kind == models.IntentCreate {
		query := `INSERT INTO vendors (` + identityColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`
		if _, err := db.ExecContext(ctx, query, identityArgs(v)...); err != nil {
			if isUniqueViolation(err) {
				return models.ErrIdentityConflict
			}
			return fmt.Errorf("insert vendor: %w", err)
		}
		return nil
	}

	query := `UPDATE vendors SET
			name = $3, address = $4, street_number = $5, street_name = $6, street_direction = $7,
			unit = $8, city = $9, region = $10, postal_code = $11, country_code = $12,
			industry_code = $13, industry_description = $14, legal_structure = $15,
			contact_email = $16, contact_phone = $17, website = $18, bank_account = $19,
			is_active = $20, data_source = $21, version = $22, updated_at = $23
		WHERE id = $1 AND canonical_id = $2 AND version = $24`
	args := identityArgs(v)
	args = append(args[:len(args)-2], v.UpdatedAt, intent.BaseVersion)
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update vendor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update vendor: %w", err)
	}
	if n == 0 {
		return models.ErrStaleIdentity
	}
	return nil
}

func (s *PostgresStore) insertProvenance(ctx context.Context, db execer, rows []models.ProvenanceRecord) error {
	query := `INSERT INTO vendor_provenance (id, vendor_id, field, source, method, value, previous_value, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, r := range rows {
		if _, err := db.ExecContext(ctx, query,
			r.ID, r.VendorID, string(r.Field), r.Source, string(r.Method), r.Value, r.PreviousValue, r.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert provenance: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) insertAudit(ctx context.Context, db execer, rows []models.AuditEvent) error {
	query := `INSERT INTO vendor_audit (id, actor_id, action, vendor_id, field, old_value, new_value, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, e := range rows {
		if _, err := db.ExecContext(ctx, query,
			e.ID, e.ActorID, string(e.Action), e.VendorID, string(e.Field), e.OldValue, e.NewValue, e.Timestamp,
		); err != nil {
			return fmt.Errorf("insert audit event: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) insertEvent(ctx context.Context, db execer, ev *models.ChangeEvent) error {
	query := `INSERT INTO vendor_outbox (id, event_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := db.ExecContext(ctx, query, ev.ID, string(ev.EventType), ev.AggregateID, ev.Payload, ev.CreatedAt); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// AppendEvent writes a standalone outbox row, inside the caller's
// transaction when there is one.
func (s *PostgresStore) AppendEvent(ctx context.Context, ev *models.ChangeEvent) error {
	return s.insertEvent(ctx, s.execer(ctx), ev)
}

// ListProvenance returns the field history for a vendor, newest first.
func (s *PostgresStore) ListProvenance(ctx context.Context, vendorID uuid.UUID, field models.Field) ([]models.ProvenanceRecord, error) {
	query := `SELECT id, vendor_id, field, source, method, value, previous_value, recorded_at, seq
		FROM vendor_provenance
		WHERE vendor_id = $1 AND ($2 = '' OR field = $2)
		ORDER BY seq DESC`
	rows, err := s.execer(ctx).QueryContext(ctx, query, vendorID, string(field))
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var out []models.ProvenanceRecord
	for rows.Next() {
		var (
			r              models.ProvenanceRecord
			fieldName, via string
		)
		if err := rows.Scan(&r.ID, &r.VendorID, &fieldName, &r.Source, &via, &r.Value, &r.PreviousValue, &r.RecordedAt, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		r.Field = models.Field(fieldName)
		r.Method = models.Method(via)
		if r, err = s.openProvenance(r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAudit returns audit events within [from, to], oldest first. Zero bounds
// are open.
func (s *PostgresStore) ListAudit(ctx context.Context, vendorID uuid.UUID, from, to time.Time) ([]models.AuditEvent, error) {
	query := `SELECT id, actor_id, action, vendor_id, field, old_value, new_value, occurred_at
		FROM vendor_audit
		WHERE vendor_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at <= $3)
		ORDER BY occurred_at, seq`
	rows, err := s.execer(ctx).QueryContext(ctx, query, vendorID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		var (
			e                 models.AuditEvent
			action, fieldName string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.VendorID, &fieldName, &e.OldValue, &e.NewValue, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.Field = models.Field(fieldName)
		if e, err = s.openAudit(e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Search ORs case-insensitive substring matches over the provided terms.
func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) (*Page, error) {
	page, pageSize := ClampPage(q.Page, q.PageSize)

	var (
		clauses []string
		args    []any
	)
	add := func(column, term string) {
		if term == "" {
			return
		}
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
		clauses = append(clauses, fmt.Sprintf("lower(%s) LIKE $%d", column, len(args)))
	}
	add("name", q.Name)
	add("canonical_id", q.CanonicalID)
	add("address", q.Address)
	add("contact_email", q.ContactEmail)

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " OR ")
	}
	return s.pageQuery(ctx, where, " ORDER BY canonical_id", args, page, pageSize)
}

// ChangedSince lists identities updated strictly after since, oldest change
// first.
func (s *PostgresStore) ChangedSince(ctx context.Context, since time.Time, page, pageSize int) (*Page, error) {
	page, pageSize = ClampPage(page, pageSize)
	return s.pageQuery(ctx, " WHERE updated_at > $1", " ORDER BY updated_at, canonical_id", []any{since}, page, pageSize)
}

func (s *PostgresStore) pageQuery(ctx context.Context, where, order string, args []any, page, pageSize int) (*Page, error) {
	db := s.execer(ctx)
	out := &Page{Items: []*models.VendorIdentity{}}
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM vendors`+where, args...).Scan(&out.Total); err != nil {
		return nil, fmt.Errorf("count vendors: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM vendors%s%s LIMIT $%d OFFSET $%d`, identityColumns, where, order, n+1, n+2)
	rows, err := db.QueryContext(ctx, query, append(args, pageSize, Offset(page, pageSize))...)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		if v, err = s.openIdentity(v); err != nil {
			return nil, err
		}
		out.Items = append(out.Items, v)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// All returns every identity ordered by canonical id.
func (s *PostgresStore) All(ctx context.Context) ([]*models.VendorIdentity, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT `+identityColumns+` FROM vendors ORDER BY canonical_id`)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	defer rows.Close()
	var out []*models.VendorIdentity
	for rows.Next() {
		v, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		if v, err = s.openIdentity(v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	var (
		st   Stats
		last sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT count(*), max(updated_at) FROM vendors`).Scan(&st.TotalVendors, &last)
	if err != nil {
		return nil, fmt.Errorf("vendor stats: %w", err)
	}
	if last.Valid {
		st.LastUpdated = &last.Time
	}
	return &st, nil
}

func (s *PostgresStore) SaveConflicts(ctx context.Context, notes []models.ConflictNote) error {
	query := `INSERT INTO conflict_notes (id, run_id, canonical_id, field, kept_source, kept_value, rejected_source, rejected_value, noted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	db := s.execer(ctx)
	for _, n := range notes {
		if n.ID == uuid.Nil {
			n.ID = uuid.New()
		}
		runID := uuid.NullUUID{UUID: n.RunID, Valid: n.RunID != uuid.Nil}
		if _, err := db.ExecContext(ctx, query,
			n.ID, runID, n.CanonicalID, string(n.Field), n.KeptSource, n.KeptValue, n.RejectedSource, n.RejectedValue, n.NotedAt,
		); err != nil {
			return fmt.Errorf("save conflict note: %w", err)
		}
	}
	return nil
}

// ListConflicts returns the newest notes first. An empty canonicalID lists
// notes for every identity.
func (s *PostgresStore) ListConflicts(ctx context.Context, canonicalID string, limit int) ([]models.ConflictNote, error) {
	if limit <= 0 {
		limit = MaxPageSize
	}
	query := `SELECT id, run_id, canonical_id, field, kept_source, kept_value, rejected_source, rejected_value, noted_at
		FROM conflict_notes
		WHERE ($1 = '' OR canonical_id = $1)
		ORDER BY noted_at DESC, id
		LIMIT $2`
	rows, err := s.execer(ctx).QueryContext(ctx, query, canonicalID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflict notes: %w", err)
	}
	defer rows.Close()
	var out []models.ConflictNote
	for rows.Next() {
		var (
			n         models.ConflictNote
			runID     uuid.NullUUID
			fieldName string
		)
		if err := rows.Scan(&n.ID, &runID, &n.CanonicalID, &fieldName, &n.KeptSource, &n.KeptValue, &n.RejectedSource, &n.RejectedValue, &n.NotedAt); err != nil {
			return nil, fmt.Errorf("scan conflict note: %w", err)
		}
		n.RunID = runID.UUID
		n.Field = models.Field(fieldName)
		out = append(out, n)
	}
	return out, rows.Err()
}

// SaveRun upserts the run record.
func (s *PostgresStore) SaveRun(ctx context.Context, run *models.IngestionJobRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	query := `INSERT INTO ingestion_runs (id, source_id, actor, trigger, status, attempts, seen, created, updated,
			unchanged, rejected, malformed, conflicts, error_samples, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			seen = EXCLUDED.seen,
			created = EXCLUDED.created,
			updated = EXCLUDED.updated,
			unchanged = EXCLUDED.unchanged,
			rejected = EXCLUDED.rejected,
			malformed = EXCLUDED.malformed,
			conflicts = EXCLUDED.conflicts,
			error_samples = EXCLUDED.error_samples,
			finished_at = EXCLUDED.finished_at`
	samples := run.ErrorSamples
	if samples == nil {
		samples = []string{}
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		run.ID, run.SourceID, run.Actor, string(run.Trigger), string(run.Status), run.Attempts,
		run.Seen, run.Created, run.Updated, run.Unchanged, run.Rejected, run.Malformed, run.Conflicts,
		pq.Array(samples), run.StartedAt, nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *PostgresStore) ListRuns(ctx context.Context, sourceID string, limit int) ([]*models.IngestionJobRun, error) {
	if limit <= 0 {
		limit = MaxPageSize
	}
	query := `SELECT id, source_id, actor, trigger, status, attempts, seen, created, updated,
			unchanged, rejected, malformed, conflicts, error_samples, started_at, finished_at
		FROM ingestion_runs
		WHERE ($1 = '' OR source_id = $1)
		ORDER BY started_at DESC
		LIMIT $2`
	rows, err := s.execer(ctx).QueryContext(ctx, query, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*models.IngestionJobRun
	for rows.Next() {
		var (
			r               models.IngestionJobRun
			trigger, status string
			finished        sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.Actor, &trigger, &status, &r.Attempts, &r.Seen, &r.Created,
			&r.Updated, &r.Unchanged, &r.Rejected, &r.Malformed, &r.Conflicts, pq.Array(&r.ErrorSamples),
			&r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Trigger = models.Trigger(trigger)
		r.Status = models.RunStatus(status)
		r.FinishedAt = finished.Time
		out = append(out, &r)
	}
	return out, rows.Err()
}

// FetchUnpublished returns up to limit pending outbox rows, oldest first.
// Rows are locked with SKIP LOCKED when called inside a transaction so that
// several relays can share the table.
func (s *PostgresStore) FetchUnpublished(ctx context.Context, limit int) ([]*models.ChangeEvent, error) {
	query := `SELECT id, event_type, aggregate_id, payload, created_at
		FROM vendor_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, seq
		LIMIT $1`
	if _, ok := tx.From(ctx); ok {
		query += ` FOR UPDATE SKIP LOCKED`
	}
	rows, err := s.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	defer rows.Close()
	var out []*models.ChangeEvent
	for rows.Next() {
		var (
			ev        models.ChangeEvent
			eventType string
		)
		if err := rows.Scan(&ev.ID, &eventType, &ev.AggregateID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		ev.EventType = models.EventType(eventType)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `UPDATE vendor_outbox SET published_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// RunInTx exposes the store's transaction runner to callers that need to
// group several gateway calls.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.RunInTx(ctx, fn)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
