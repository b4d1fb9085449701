package estimate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Simplici0/quickbuild/internal/ingest"
	"github.com/Simplici0/quickbuild/internal/pricing"
)

const timeLayout = "2006-01-02 15:04:05"

// ErrNotFound is returned when an estimate does not exist.
var ErrNotFound = errors.New("estimate not found")

// Record is a stored estimate with the metadata that lives beside the pricing aggregate.
type Record struct {
	Estimate         pricing.Estimate
	BlueprintKey     string
	MaterialsKey     string
	LaborKey         string
	MaterialsMapping ingest.Mapping
	LaborMapping     ingest.Mapping
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Keys returns the non-empty artifact keys of the record.
func (r Record) Keys() []string {
	keys := make([]string, 0, 3)
	for _, k := range []string{r.BlueprintKey, r.MaterialsKey, r.LaborKey} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Summary is one row of the estimate history.
type Summary struct {
	ID         int64
	Name       string
	CreatedAt  time.Time
	Subtotal   float64
	GrandTotal float64
}

// NewEstimate is everything needed to insert an estimate with its line items.
type NewEstimate struct {
	Name               string
	BlueprintKey       string
	MaterialsKey       string
	LaborKey           string
	Areas              []pricing.Area
	MaterialsMapping   ingest.Mapping
	LaborMapping       ingest.Mapping
	DetectedBundles    []string
	ActiveBundles      []string
	ProfitPercent      pricing.Percent
	ContingencyPercent pricing.Percent
	Materials          []pricing.Material
	Labor              []pricing.Labor
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite repository for estimates and their line items.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts an estimate and its line items in one transaction. Totals
// are left at zero; callers price through the Service.
func (s *Store) Create(ctx context.Context, in NewEstimate) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.insert(ctx, tx, in, s.now())
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit estimate: %w", err)
	}
	return id, nil
}

// Duplicate copies an estimate with all of its items. Item totals are copied
// as stored. Uploaded artifacts are not shared with the copy.
func (s *Store) Duplicate(ctx context.Context, q Queryer, id int64) (int64, error) {
	rec, err := s.get(ctx, q, id)
	if err != nil {
		return 0, err
	}
	materials, labor, err := s.items(ctx, q, id)
	if err != nil {
		return 0, err
	}
	return s.insert(ctx, q, NewEstimate{
		Name:               rec.Estimate.Name + " (Copy)",
		Areas:              rec.Estimate.Areas,
		MaterialsMapping:   rec.MaterialsMapping,
		LaborMapping:       rec.LaborMapping,
		DetectedBundles:    rec.Estimate.DetectedBundles,
		ActiveBundles:      rec.Estimate.ActiveBundles,
		ProfitPercent:      rec.Estimate.ProfitPercent,
		ContingencyPercent: rec.Estimate.ContingencyPercent,
		Materials:          materials,
		Labor:              labor,
	}, s.now())
}

// Delete removes an estimate and, through the foreign keys, its items. The
// returned record carries the artifact keys the caller should clean up.
func (s *Store) Delete(ctx context.Context, q Queryer, id int64) (Record, error) {
	rec, err := s.get(ctx, q, id)
	if err != nil {
		return Record{}, err
	}
	if err := s.delete(ctx, q, id); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) insert(ctx context.Context, q Queryer, in NewEstimate, now time.Time) (int64, error) {
	areas, err := json.Marshal(nonNilAreas(in.Areas))
	if err != nil {
		return 0, fmt.Errorf("encode areas: %w", err)
	}
	materialsMapping, err := json.Marshal(in.MaterialsMapping)
	if err != nil {
		return 0, fmt.Errorf("encode materials mapping: %w", err)
	}
	laborMapping, err := json.Marshal(in.LaborMapping)
	if err != nil {
		return 0, fmt.Errorf("encode labor mapping: %w", err)
	}
	detected, err := json.Marshal(nonNilStrings(in.DetectedBundles))
	if err != nil {
		return 0, fmt.Errorf("encode detected bundles: %w", err)
	}
	active, err := json.Marshal(nonNilStrings(in.ActiveBundles))
	if err != nil {
		return 0, fmt.Errorf("encode active bundles: %w", err)
	}

	stamp := now.UTC().Format(timeLayout)
	result, err := q.ExecContext(ctx, `
		INSERT INTO estimates (
			name, blueprint_key, materials_key, labor_key,
			areas_json, materials_mapping_json, labor_mapping_json,
			detected_bundles_json, active_bundles_json,
			profit_percent, contingency_percent,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.Name, in.BlueprintKey, in.MaterialsKey, in.LaborKey,
		string(areas), string(materialsMapping), string(laborMapping),
		string(detected), string(active),
		nullPercent(in.ProfitPercent), nullPercent(in.ContingencyPercent),
		stamp, stamp,
	)
	if err != nil {
		return 0, fmt.Errorf("insert estimate: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read estimate id: %w", err)
	}

	if err := s.insertItems(ctx, q, id, in.Materials, in.Labor); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) insertItems(ctx context.Context, q Queryer, id int64, materials []pricing.Material, labor []pricing.Labor) error {
	for i, m := range materials {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO material_items (estimate_id, position, name, unit, unit_cost, quantity, total_cost, bundle, category)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, i, m.Name, m.Unit, m.UnitCost, m.Quantity, nullCost(m.TotalCost), m.Bundle, m.Category); err != nil {
			return fmt.Errorf("insert material item %d: %w", i, err)
		}
	}
	for i, l := range labor {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO labor_items (estimate_id, position, task, hours, hourly_rate, total_cost, category)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, i, l.Task, l.Hours, l.HourlyRate, nullCost(l.TotalCost), l.Category); err != nil {
			return fmt.Errorf("insert labor item %d: %w", i, err)
		}
	}
	return nil
}

// Get loads one estimate record.
func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	return s.get(ctx, s.db, id)
}

func (s *Store) get(ctx context.Context, q Queryer, id int64) (Record, error) {
	var (
		rec                                         Record
		areas, mMapping, lMapping, detected, active string
		profit, contingency                         sql.NullFloat64
		createdAt, updatedAt                        dbTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT
			id, name, blueprint_key, materials_key, labor_key,
			areas_json, materials_mapping_json, labor_mapping_json,
			detected_bundles_json, active_bundles_json,
			profit_percent, contingency_percent,
			subtotal, profit_amount, contingency_amount, grand_total,
			created_at, updated_at
		FROM estimates
		WHERE id = ?
	`, id).Scan(
		&rec.Estimate.ID, &rec.Estimate.Name, &rec.BlueprintKey, &rec.MaterialsKey, &rec.LaborKey,
		&areas, &mMapping, &lMapping,
		&detected, &active,
		&profit, &contingency,
		&rec.Estimate.Totals.Subtotal, &rec.Estimate.Totals.ProfitAmount,
		&rec.Estimate.Totals.ContingencyAmount, &rec.Estimate.Totals.GrandTotal,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query estimate %d: %w", id, err)
	}

	if err := decodeJSON(areas, &rec.Estimate.Areas); err != nil {
		return Record{}, fmt.Errorf("decode areas of estimate %d: %w", id, err)
	}
	if err := decodeJSON(mMapping, &rec.MaterialsMapping); err != nil {
		return Record{}, fmt.Errorf("decode materials mapping of estimate %d: %w", id, err)
	}
	if err := decodeJSON(lMapping, &rec.LaborMapping); err != nil {
		return Record{}, fmt.Errorf("decode labor mapping of estimate %d: %w", id, err)
	}
	if err := decodeJSON(detected, &rec.Estimate.DetectedBundles); err != nil {
		return Record{}, fmt.Errorf("decode detected bundles of estimate %d: %w", id, err)
	}
	if err := decodeJSON(active, &rec.Estimate.ActiveBundles); err != nil {
		return Record{}, fmt.Errorf("decode active bundles of estimate %d: %w", id, err)
	}
	if profit.Valid {
		rec.Estimate.ProfitPercent = pricing.PercentOf(profit.Float64)
	}
	if contingency.Valid {
		rec.Estimate.ContingencyPercent = pricing.PercentOf(contingency.Float64)
	}
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	return rec, nil
}

// Items loads the line items of an estimate in ingestion order.
func (s *Store) Items(ctx context.Context, id int64) ([]pricing.Material, []pricing.Labor, error) {
	return s.items(ctx, s.db, id)
}

func (s *Store) items(ctx context.Context, q Queryer, id int64) ([]pricing.Material, []pricing.Labor, error) {
	materials, err := s.materialItems(ctx, q, id)
	if err != nil {
		return nil, nil, err
	}
	labor, err := s.laborItems(ctx, q, id)
	if err != nil {
		return nil, nil, err
	}
	return materials, labor, nil
}

func (s *Store) materialItems(ctx context.Context, q Queryer, id int64) ([]pricing.Material, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, unit, unit_cost, quantity, total_cost, bundle, category
		FROM material_items
		WHERE estimate_id = ?
		ORDER BY position, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query material items: %w", err)
	}
	defer rows.Close()

	materials := make([]pricing.Material, 0)
	for rows.Next() {
		var m pricing.Material
		var total sql.NullFloat64
		if err := rows.Scan(&m.Name, &m.Unit, &m.UnitCost, &m.Quantity, &total, &m.Bundle, &m.Category); err != nil {
			return nil, fmt.Errorf("scan material item: %w", err)
		}
		if total.Valid {
			m.TotalCost = pricing.Cost(total.Float64)
		}
		materials = append(materials, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate material items: %w", err)
	}
	return materials, nil
}

func (s *Store) laborItems(ctx context.Context, q Queryer, id int64) ([]pricing.Labor, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT task, hours, hourly_rate, total_cost, category
		FROM labor_items
		WHERE estimate_id = ?
		ORDER BY position, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query labor items: %w", err)
	}
	defer rows.Close()

	labor := make([]pricing.Labor, 0)
	for rows.Next() {
		var l pricing.Labor
		var total sql.NullFloat64
		if err := rows.Scan(&l.Task, &l.Hours, &l.HourlyRate, &total, &l.Category); err != nil {
			return nil, fmt.Errorf("scan labor item: %w", err)
		}
		if total.Valid {
			l.TotalCost = pricing.Cost(total.Float64)
		}
		labor = append(labor, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate labor items: %w", err)
	}
	return labor, nil
}

// List returns estimates newest first, optionally filtered by name.
func (s *Store) List(ctx context.Context, query string) ([]Summary, error) {
	query = strings.TrimSpace(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, subtotal, grand_total
		FROM estimates
		WHERE (? = '' OR name LIKE ?)
		ORDER BY created_at DESC, id DESC
	`, query, "%"+query+"%")
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var item Summary
		var createdAt dbTime
		if err := rows.Scan(&item.ID, &item.Name, &createdAt, &item.Subtotal, &item.GrandTotal); err != nil {
			return nil, fmt.Errorf("scan estimate summary: %w", err)
		}
		item.CreatedAt = createdAt.Time
		summaries = append(summaries, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate estimates: %w", err)
	}
	return summaries, nil
}

// ListOlderThan returns records created before cutoff.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM estimates WHERE created_at < ? ORDER BY id
	`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query expired estimates: %w", err)
	}
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired estimate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate expired estimates: %w", err)
	}
	rows.Close()

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// SaveTotals writes the stored totals of an estimate.
func (s *Store) SaveTotals(ctx context.Context, q Queryer, id int64, t pricing.Totals, now time.Time) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE estimates
		SET
			subtotal = ?,
			profit_amount = ?,
			contingency_amount = ?,
			grand_total = ?,
			updated_at = ?
		WHERE id = ?
	`, t.Subtotal, t.ProfitAmount, t.ContingencyAmount, t.GrandTotal, now.UTC().Format(timeLayout), id); err != nil {
		return fmt.Errorf("update estimate totals: %w", err)
	}
	return nil
}

func (s *Store) SetActiveBundles(ctx context.Context, q Queryer, id int64, bundles []string) error {
	raw, err := json.Marshal(nonNilStrings(bundles))
	if err != nil {
		return fmt.Errorf("encode active bundles: %w", err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE estimates SET active_bundles_json = ? WHERE id = ?`, string(raw), id); err != nil {
		return fmt.Errorf("update active bundles: %w", err)
	}
	return nil
}

func (s *Store) SetSettings(ctx context.Context, q Queryer, id int64, profit, contingency pricing.Percent) error {
	if _, err := q.ExecContext(ctx, `
		UPDATE estimates SET profit_percent = ?, contingency_percent = ? WHERE id = ?
	`, nullPercent(profit), nullPercent(contingency), id); err != nil {
		return fmt.Errorf("update estimate settings: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, q Queryer, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM estimates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete estimate %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete estimate %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// dbTime scans the DATETIME columns whether the driver hands back text or time.Time.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02T15:04:05Z"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("parse time %q", s)
}

func decodeJSON(raw string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func nullPercent(p pricing.Percent) sql.NullFloat64 {
	v, ok := p.Value()
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func nullCost(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilAreas(v []pricing.Area) []pricing.Area {
	if v == nil {
		return []pricing.Area{}
	}
	return v
}
