package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const monthLayout = "2006-01"

// ErrSpendCapExceeded is returned by Check once the month's spend reaches the cap.
var ErrSpendCapExceeded = errors.New("monthly OpenAI spend cap exceeded")

// SpendCapError carries the month and amounts behind ErrSpendCapExceeded.
type SpendCapError struct {
	Month string
	Spent float64
	Cap   float64
}

func (e *SpendCapError) Error() string {
	return fmt.Sprintf("monthly OpenAI spend limit of $%.2f exceeded for %s (spent $%.2f)", e.Cap, e.Month, e.Spent)
}

func (e *SpendCapError) Is(target error) bool {
	return target == ErrSpendCapExceeded
}

// Ledger tracks external API spend per calendar month.
type Ledger interface {
	Check(ctx context.Context) error
	Record(ctx context.Context, cost float64) error
}

// SQLLedger keeps the monthly spend in the api_usage table.
type SQLLedger struct {
	db  *sql.DB
	cap float64
	now func() time.Time
}

func NewSQLLedger(db *sql.DB, spendCap float64) *SQLLedger {
	return &SQLLedger{db: db, cap: spendCap, now: time.Now}
}

// WithClock replaces the clock used to pick the current month.
func (l *SQLLedger) WithClock(now func() time.Time) *SQLLedger {
	l.now = now
	return l
}

func (l *SQLLedger) month() string {
	return l.now().UTC().Format(monthLayout)
}

// Spent returns the recorded spend for a "YYYY-MM" month.
func (l *SQLLedger) Spent(ctx context.Context, month string) (float64, error) {
	var spent float64
	err := l.db.QueryRowContext(ctx, `SELECT total_spent FROM api_usage WHERE month = ?`, month).Scan(&spent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query api usage: %w", err)
	}
	return spent, nil
}

func (l *SQLLedger) Check(ctx context.Context) error {
	month := l.month()
	spent, err := l.Spent(ctx, month)
	if err != nil {
		return err
	}
	if spent >= l.cap {
		return &SpendCapError{Month: month, Spent: spent, Cap: l.cap}
	}
	return nil
}

func (l *SQLLedger) Record(ctx context.Context, cost float64) error {
	stamp := l.now().UTC().Format("2006-01-02 15:04:05")
	if _, err := l.db.ExecContext(ctx, `
		INSERT INTO api_usage (month, total_spent, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			total_spent = api_usage.total_spent + excluded.total_spent,
			updated_at = excluded.updated_at
	`, l.month(), cost, stamp, stamp); err != nil {
		return fmt.Errorf("record api usage: %w", err)
	}
	return nil
}
