package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labmaster/labmaster/internal/platform/db"
)

type testTypeRepoPG struct{ pool *pgxpool.Pool }

func NewTestTypeRepoPG(pool *pgxpool.Pool) TestTypeRepository {
	return &testTypeRepoPG{pool: pool}
}

func (r *testTypeRepoPG) conn(ctx context.Context) db.Queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const testTypeCols = `id, name, code, description, category, parameters, sample_requirements, tat_hours, is_active, version_id, created_at, updated_at`

func scanTestType(row pgx.Row) (*TestType, error) {
	var t TestType
	var params []byte
	err := row.Scan(&t.ID, &t.Name, &t.Code, &t.Description, &t.Category,
		&params, &t.SampleRequirements, &t.TATHours, &t.IsActive,
		&t.VersionID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Parameters); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (r *testTypeRepoPG) Create(ctx context.Context, t *TestType) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.VersionID = 1
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO test_types (id, name, code, description, category, parameters, sample_requirements, tat_hours, is_active, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.Name, t.Code, t.Description, t.Category, params, t.SampleRequirements, t.TATHours, t.IsActive, t.VersionID)
	return err
}

func (r *testTypeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*TestType, error) {
	return scanTestType(r.conn(ctx).QueryRow(ctx, `SELECT `+testTypeCols+` FROM test_types WHERE id = $1`, id))
}

func (r *testTypeRepoPG) GetByCode(ctx context.Context, code string) (*TestType, error) {
	return scanTestType(r.conn(ctx).QueryRow(ctx, `SELECT `+testTypeCols+` FROM test_types WHERE code = $1`, code))
}

func (r *testTypeRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*TestType, int, error) {
	where := ``
	if activeOnly {
		where = ` WHERE is_active`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM test_types`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+testTypeCols+` FROM test_types`+where+` ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TestType
	for rows.Next() {
		t, err := scanTestType(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}

func (r *testTypeRepoPG) Update(ctx context.Context, t *TestType) error {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_types SET name=$3, description=$4, category=$5, parameters=$6,
			sample_requirements=$7, tat_hours=$8, is_active=$9, version_id=version_id+1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		t.ID, t.VersionID, t.Name, t.Description, t.Category, params, t.SampleRequirements, t.TATHours, t.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrStaleState
	}
	t.VersionID++
	return nil
}
