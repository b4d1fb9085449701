package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/quickbuild/internal/db"
	"github.com/Simplici0/quickbuild/internal/ingest"
	"github.com/Simplici0/quickbuild/internal/migrations"
	"github.com/Simplici0/quickbuild/internal/pricing"
)

type fakeGenerator struct {
	json     string
	text     string
	err      error
	calls    int
	lastUser string
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _, user, _ string, _ map[string]any, _ []FileInput, out any) error {
	f.calls++
	f.lastUser = user
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.json), out)
}

func (f *fakeGenerator) GenerateText(_ context.Context, _, user string, _ int) (string, error) {
	f.calls++
	f.lastUser = user
	return f.text, f.err
}

func newLedger(t *testing.T, spendCap float64, now time.Time) *SQLLedger {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, migrations.Up(database))
	return NewSQLLedger(database, spendCap).WithClock(func() time.Time { return now })
}

func TestLedger_CapAndMonthlyReset(t *testing.T) {
	ctx := context.Background()
	march := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	ledger := newLedger(t, 0.025, march)

	require.NoError(t, ledger.Check(ctx))
	require.NoError(t, ledger.Record(ctx, 0.02))
	require.NoError(t, ledger.Check(ctx))
	require.NoError(t, ledger.Record(ctx, 0.01))

	err := ledger.Check(ctx)
	require.ErrorIs(t, err, ErrSpendCapExceeded)
	var capErr *SpendCapError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "2026-03", capErr.Month)

	spent, err := ledger.Spent(ctx, "2026-03")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, spent, 1e-9)

	ledger.WithClock(func() time.Time { return march.Add(2 * time.Hour) })
	require.NoError(t, ledger.Check(ctx), "a new month starts from zero")
}

func TestAnalyzeBlueprint_NormalizesAndCharges(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, 50, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	gen := &fakeGenerator{json: `{"areas":[
		{"room":" Kitchen ","category":"","area_ft2":150},
		{"room":"Deck","category":"Exterior","area_ft2":-20}
	]}`}
	a := NewAnalyzer(gen, ledger, nil)

	areas, err := a.AnalyzeBlueprint(ctx, "plan.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	require.Len(t, areas, 2)
	assert.Equal(t, pricing.Area{Room: "Kitchen", Category: "Interior", AreaFt2: 150}, areas[0])
	assert.Equal(t, 0.0, areas[1].AreaFt2)

	spent, err := ledger.Spent(ctx, "2026-05")
	require.NoError(t, err)
	assert.InDelta(t, CostBlueprint, spent, 1e-9)
}

func TestAnalyzer_SpendCapBlocksCall(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, 0.01, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, ledger.Record(ctx, 0.01))
	gen := &fakeGenerator{text: "summary"}
	a := NewAnalyzer(gen, ledger, nil)

	_, err := a.ProposalSummary(ctx, pricing.Estimate{Name: "X"})
	require.ErrorIs(t, err, ErrSpendCapExceeded)
	assert.Zero(t, gen.calls)
}

func TestAnalyzer_FailedCallIsNotCharged(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, 50, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	a := NewAnalyzer(&fakeGenerator{err: errors.New("boom")}, ledger, nil)

	_, err := a.DetectSchema(ctx, ingest.KindLabor, "task\nx\n")
	require.Error(t, err)

	spent, err := ledger.Spent(ctx, "2026-05")
	require.NoError(t, err)
	assert.Zero(t, spent)
}

func TestDetectSchema(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, 50, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	gen := &fakeGenerator{json: `{"columns":[{"column":"Item","role":"name"},{"column":"Price","role":"unit_cost"}],"detected_bundles":["Kitchen"," ","Bath","Kitchen"]}`}
	a := NewAnalyzer(gen, ledger, nil)

	s, err := a.DetectSchema(ctx, ingest.KindMaterials, "Item,Price\nSink,300\n")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Item": "name", "Price": "unit_cost"}, s.ColumnRoles)
	assert.Equal(t, []string{"Bath", "Kitchen"}, s.DetectedBundles)
	assert.Contains(t, gen.lastUser, "unit_cost")
	assert.Contains(t, gen.lastUser, "Sink,300")
}

func TestProposalSummary_Prompt(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t, 50, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	gen := &fakeGenerator{text: "  Thank you for the opportunity.  "}
	a := NewAnalyzer(gen, ledger, nil)

	est := pricing.Estimate{
		Name:          "Kitchen remodel",
		Areas:         []pricing.Area{{Room: "Kitchen", AreaFt2: 50}},
		ActiveBundles: []string{"Kitchen"},
		Totals:        pricing.Totals{Subtotal: 2000, ProfitAmount: 300, ContingencyAmount: 230, GrandTotal: 2530},
	}
	text, err := a.ProposalSummary(ctx, est)
	require.NoError(t, err)
	assert.Equal(t, "Thank you for the opportunity.", text)
	assert.Contains(t, gen.lastUser, "Grand Total: $2,530.00")
	assert.Contains(t, gen.lastUser, "Profit (15%): $300.00")
	assert.True(t, strings.Contains(gen.lastUser, "- Kitchen: 50 sq ft"))
}

func TestNormalizeAreas_NonFinite(t *testing.T) {
	areas := normalizeAreas([]pricing.Area{{Room: "A", Category: "Utility", AreaFt2: math.Inf(1)}})
	assert.Equal(t, 0.0, areas[0].AreaFt2)
	assert.Equal(t, "Utility", areas[0].Category)
}
