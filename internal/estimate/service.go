package estimate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Simplici0/quickbuild/internal/lock"
	"github.com/Simplici0/quickbuild/internal/logger"
	"github.com/Simplici0/quickbuild/internal/pricing"
)

var (
	// ErrUnknownBundle is returned when toggling a bundle that was never detected.
	ErrUnknownBundle = errors.New("unknown bundle")
	ErrEmptyName     = errors.New("estimate name is required")
)

// Service runs every mutation that affects totals as one serialized unit:
// lock the estimate, open a transaction, mutate, reload the items, recompute,
// persist the totals and commit. A failed recomputation rolls everything back
// and leaves the prior totals in place.
type Service struct {
	db     *sql.DB
	store  *Store
	locker lock.Locker
	log    *logger.Logger
	now    func() time.Time
}

func NewService(db *sql.DB, locker lock.Locker, log *logger.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if log == nil {
		log = logger.Nop()
	}
	store := NewStore(db)
	svc := &Service{db: db, store: store, locker: locker, log: log, now: time.Now}
	store.now = func() time.Time { return svc.now() }
	return svc
}

// Store exposes the underlying repository for read paths.
func (s *Service) Store() *Store {
	return s.store
}

// CreateAndPrice inserts an estimate with its items and computes its totals
// in the same transaction.
func (s *Service) CreateAndPrice(ctx context.Context, in NewEstimate) (Record, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Record{}, ErrEmptyName
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id, err := s.store.insert(ctx, tx, in, s.now())
	if err != nil {
		return Record{}, err
	}
	rec, err := s.price(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit estimate: %w", err)
	}

	s.log.Info("estimate created",
		"estimate_id", id,
		"materials", len(in.Materials),
		"labor", len(in.Labor),
		"areas", len(in.Areas),
		"grand_total", rec.Estimate.Totals.GrandTotal,
	)
	return rec, nil
}

// ToggleBundle adds the bundle to the active set when absent and removes it
// when present, then recomputes.
func (s *Service) ToggleBundle(ctx context.Context, id int64, bundle string) (Record, error) {
	return s.mutate(ctx, id, "toggle bundle", func(tx *sql.Tx, rec *Record) error {
		active, err := toggle(rec.Estimate, bundle)
		if err != nil {
			return err
		}
		rec.Estimate.ActiveBundles = active
		return s.store.SetActiveBundles(ctx, tx, id, active)
	})
}

// UpdateSettings clamps both percentages to [0,100] before recomputing.
func (s *Service) UpdateSettings(ctx context.Context, id int64, profit, contingency float64) (Record, error) {
	return s.mutate(ctx, id, "update settings", func(tx *sql.Tx, rec *Record) error {
		rec.Estimate.ProfitPercent = pricing.PercentOf(profit).Clamp()
		rec.Estimate.ContingencyPercent = pricing.PercentOf(contingency).Clamp()
		return s.store.SetSettings(ctx, tx, id, rec.Estimate.ProfitPercent, rec.Estimate.ContingencyPercent)
	})
}

// Recalculate recomputes totals without changing any input.
func (s *Service) Recalculate(ctx context.Context, id int64) (Record, error) {
	return s.mutate(ctx, id, "recalculate", func(*sql.Tx, *Record) error { return nil })
}

// Duplicate copies an estimate and prices the copy.
func (s *Service) Duplicate(ctx context.Context, id int64) (Record, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return Record{}, fmt.Errorf("lock estimate %d: %w", id, err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	copyID, err := s.store.Duplicate(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.price(ctx, tx, copyID)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit duplicate: %w", err)
	}

	s.log.Info("estimate duplicated", "estimate_id", id, "copy_id", copyID)
	return rec, nil
}

// Breakdown loads an estimate with its items and builds the grouped report.
// Stored totals are reported as they are.
func (s *Service) Breakdown(ctx context.Context, id int64) (Record, pricing.Breakdown, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, pricing.Breakdown{}, err
	}
	materials, labor, err := s.store.Items(ctx, id)
	if err != nil {
		return Record{}, pricing.Breakdown{}, err
	}
	return rec, pricing.BuildBreakdown(rec.Estimate, materials, labor), nil
}

func (s *Service) Get(ctx context.Context, id int64) (Record, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, query string) ([]Summary, error) {
	return s.store.List(ctx, query)
}

// Delete removes an estimate and returns it so the caller can drop its artifacts.
func (s *Service) Delete(ctx context.Context, id int64) (Record, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return Record{}, fmt.Errorf("lock estimate %d: %w", id, err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.store.Delete(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit delete: %w", err)
	}

	s.log.Info("estimate deleted", "estimate_id", id)
	return rec, nil
}

// Purge deletes every estimate created more than olderThan ago. It keeps
// going past individual failures and returns the deleted records together
// with the joined errors.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) ([]Record, error) {
	cutoff := s.now().Add(-olderThan)
	expired, err := s.store.ListOlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	deleted := make([]Record, 0, len(expired))
	var errs []error
	for _, rec := range expired {
		removed, err := s.Delete(ctx, rec.Estimate.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("purge estimate %d: %w", rec.Estimate.ID, err))
			continue
		}
		deleted = append(deleted, removed)
	}
	return deleted, errors.Join(errs...)
}

func (s *Service) mutate(ctx context.Context, id int64, op string, fn func(tx *sql.Tx, rec *Record) error) (Record, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(id))
	if err != nil {
		return Record{}, fmt.Errorf("lock estimate %d: %w", id, err)
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.store.get(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := fn(tx, &rec); err != nil {
		return Record{}, err
	}
	rec, err = s.price(ctx, tx, id)
	if err != nil {
		s.log.Warn("recompute failed", "estimate_id", id, "op", op, "error", err)
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit %s: %w", op, err)
	}

	s.log.Debug("estimate recomputed", "estimate_id", id, "op", op, "grand_total", rec.Estimate.Totals.GrandTotal)
	return rec, nil
}

// price reloads the estimate inside tx, recomputes and stores its totals.
func (s *Service) price(ctx context.Context, tx *sql.Tx, id int64) (Record, error) {
	rec, err := s.store.get(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	materials, labor, err := s.store.items(ctx, tx, id)
	if err != nil {
		return Record{}, err
	}
	if err := pricing.Recompute(&rec.Estimate, materials, labor); err != nil {
		return Record{}, fmt.Errorf("recompute estimate %d: %w", id, err)
	}
	now := s.now()
	if err := s.store.SaveTotals(ctx, tx, id, rec.Estimate.Totals, now); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = now.UTC().Truncate(time.Second)
	return rec, nil
}

func toggle(est pricing.Estimate, bundle string) ([]string, error) {
	if bundle == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownBundle)
	}
	active := make([]string, 0, len(est.ActiveBundles)+1)
	found := false
	for _, b := range est.ActiveBundles {
		if b == bundle {
			found = true
			continue
		}
		active = append(active, b)
	}
	if found {
		return active, nil
	}
	for _, b := range est.DetectedBundles {
		if b == bundle {
			return append(active, bundle), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBundle, bundle)
}

func lockKey(id int64) string {
	return "estimate:" + strconv.FormatInt(id, 10)
}
