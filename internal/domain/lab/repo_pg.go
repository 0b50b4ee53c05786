package lab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labmaster/labmaster/internal/platform/db"
)

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

func (r *orderRepoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orderCols = `id, patient_id, test_type_code, status, ordered_by, notes, reported_at, version_id, created_at, updated_at`

func scanOrder(row pgx.Row) (*TestOrder, error) {
	var o TestOrder
	err := row.Scan(&o.ID, &o.PatientID, &o.TestTypeCode, &o.Status, &o.OrderedBy,
		&o.Notes, &o.ReportedAt, &o.VersionID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *TestOrder) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO test_orders (id, patient_id, test_type_code, status, ordered_by, notes, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.PatientID, o.TestTypeCode, o.Status, o.OrderedBy, o.Notes, o.VersionID)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestOrder, error) {
	return scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM test_orders WHERE id = $1`, id))
}

func (r *orderRepoPG) List(ctx context.Context, f OrderFilter, limit, offset int) ([]*TestOrder, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.PatientID != nil {
		where += fmt.Sprintf(` AND o.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	if f.Status != nil {
		where += fmt.Sprintf(` AND o.status = $%d`, idx)
		args = append(args, *f.Status)
		idx++
	}
	join := ``
	if f.ForUserID != nil {
		join = ` JOIN patients p ON p.id = o.patient_id`
		where += fmt.Sprintf(` AND p.user_id = $%d`, idx)
		args = append(args, *f.ForUserID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_orders o`+join+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	cols := `o.id, o.patient_id, o.test_type_code, o.status, o.ordered_by, o.notes, o.reported_at, o.version_id, o.created_at, o.updated_at`
	query := `SELECT ` + cols + ` FROM test_orders o` + join + where +
		fmt.Sprintf(` ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, nil
}

func (r *orderRepoPG) Update(ctx context.Context, o *TestOrder) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_orders SET status=$3, notes=$4, reported_at=$5, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		o.ID, o.VersionID, o.Status, o.Notes, o.ReportedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrStaleState
	}
	o.VersionID++
	return nil
}

// =========== Sample Repository ===========

type sampleRepoPG struct{ pool *pgxpool.Pool }

func NewSampleRepoPG(pool *pgxpool.Pool) SampleRepository {
	return &sampleRepoPG{pool: pool}
}

func (r *sampleRepoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sampleCols = `id, order_id, sample_type, custody, location, notes, collected_at, version_id, created_at, updated_at`

func scanSample(row pgx.Row) (*Sample, error) {
	var s Sample
	err := row.Scan(&s.ID, &s.OrderID, &s.SampleType, &s.Custody, &s.Location,
		&s.Notes, &s.CollectedAt, &s.VersionID, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sampleRepoPG) Create(ctx context.Context, s *Sample) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.VersionID = 1
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO samples (id, order_id, sample_type, custody, location, notes, collected_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		s.ID, s.OrderID, s.SampleType, s.Custody, s.Location, s.Notes, s.CollectedAt, s.VersionID)
	return err
}

func (r *sampleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Sample, error) {
	return scanSample(r.conn(ctx).QueryRow(ctx, `SELECT `+sampleCols+` FROM samples WHERE id = $1`, id))
}

func (r *sampleRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Sample, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sampleCols+` FROM samples WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Sample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, nil
}

func (r *sampleRepoPG) Update(ctx context.Context, s *Sample) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE samples SET custody=$3, location=$4, notes=$5, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		s.ID, s.VersionID, s.Custody, s.Location, s.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrStaleState
	}
	s.VersionID++
	return nil
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resultCols = `id, order_id, values_json, flag, entered_by, verified_by, finalized_at, version_id, created_at, updated_at`

func scanResult(row pgx.Row) (*Result, error) {
	var res Result
	var values []byte
	err := row.Scan(&res.ID, &res.OrderID, &values, &res.Flag, &res.EnteredBy,
		&res.VerifiedBy, &res.FinalizedAt, &res.VersionID, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		if err := json.Unmarshal(values, &res.Values); err != nil {
			return nil, err
		}
	}
	return &res, nil
}

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.VersionID = 1
	values, err := json.Marshal(res.Values)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO results (id, order_id, values_json, flag, entered_by, version_id)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		res.ID, res.OrderID, values, res.Flag, res.EnteredBy, res.VersionID)
	return err
}

func (r *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Result, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx, `SELECT `+resultCols+` FROM results WHERE id = $1`, id))
}

func (r *resultRepoPG) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx, `SELECT `+resultCols+` FROM results WHERE order_id = $1`, orderID))
}

func (r *resultRepoPG) Update(ctx context.Context, res *Result) error {
	values, err := json.Marshal(res.Values)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE results SET values_json=$3, flag=$4, verified_by=$5, finalized_at=$6, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		res.ID, res.VersionID, values, res.Flag, res.VerifiedBy, res.FinalizedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrStaleState
	}
	res.VersionID++
	return nil
}

// =========== Status History Repository ===========

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *historyRepoPG) Record(ctx context.Context, h *StatusChange) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO status_history (id, resource_type, resource_id, from_status, to_status, changed_by, role, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.ID, h.ResourceType, h.ResourceID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Role, h.Reason)
	return err
}

func (r *historyRepoPG) ListByResource(ctx context.Context, resourceType string, resourceID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, resource_type, resource_id, from_status, to_status, changed_by, role, reason, changed_at
		FROM status_history WHERE resource_type = $1 AND resource_id = $2 ORDER BY changed_at`,
		resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.ResourceType, &h.ResourceID, &h.FromStatus, &h.ToStatus,
			&h.ChangedBy, &h.Role, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, nil
}
