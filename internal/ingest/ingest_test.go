package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

const materialsCSV = "\ufeffItem,UOM,Price,Qty,Package\n" +
	"Cabinets,each,\"$1,250.00\",2,Kitchen\n" +
	"Screws,box,20,10,\n" +
	",,,,\n" +
	"Tile,sq ft,abc,100,Bath\n"

func TestReadTable_CSV(t *testing.T) {
	table, err := ReadTable("materials.CSV", strings.NewReader(materialsCSV))
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if got := strings.Join(table.Headers, "|"); got != "Item|UOM|Price|Qty|Package" {
		t.Fatalf("headers = %q", got)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("rows = %d, want 3 (blank row skipped)", len(table.Rows))
	}
	if got := table.Cell(0, "Price"); got != "$1,250.00" {
		t.Fatalf("cell = %q", got)
	}
	if got := table.Cell(1, "Package"); got != "" {
		t.Fatalf("empty cell = %q", got)
	}
	if got := table.Cell(0, "Missing"); got != "" {
		t.Fatalf("missing column = %q", got)
	}
}

func TestReadTable_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"task", "hours", "hourly_rate", "category"},
		{"Framing", 10, 45.5, "Carpentry"},
		{"Cleanup", 2, 25, ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	table, err := ReadTable("labor.xlsx", &buf)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	labor := Labor(table, Mapping{})
	if len(labor) != 2 {
		t.Fatalf("labor items = %d, want 2", len(labor))
	}
	if labor[0].Task != "Framing" || *labor[0].TotalCost != 455 {
		t.Fatalf("unexpected first labor item: %+v", labor[0])
	}
	if labor[1].Category != "" || *labor[1].TotalCost != 50 {
		t.Fatalf("unexpected second labor item: %+v", labor[1])
	}
}

func TestReadTable_RejectsUnknownFormat(t *testing.T) {
	_, err := ReadTable("notes.txt", strings.NewReader("a,b\n1,2\n"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := ReadTable("empty.csv", strings.NewReader("\n\n")); !errors.Is(err, ErrEmptyTable) {
		t.Fatalf("expected ErrEmptyTable, got %v", err)
	}
}

func TestParseMapping(t *testing.T) {
	m, err := ParseMapping(KindMaterials, map[string]string{
		"Item":    "name",
		"Price":   "UNIT_COST",
		"Qty":     "quantity",
		"Package": "bundle",
		"Notes":   "ignore",
		"Hours":   "hours",
	})
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	if m[RoleName] != "Item" || m[RoleUnitCost] != "Price" || m[RoleBundle] != "Package" {
		t.Fatalf("unexpected mapping: %v", m)
	}
	if _, ok := m[RoleHours]; ok {
		t.Fatalf("labor role must be dropped from a materials mapping")
	}
	if got := m.Column(RoleUnit); got != "unit" {
		t.Fatalf("unmapped role column = %q, want fallback %q", got, "unit")
	}

	if _, err := ParseMapping(KindLabor, map[string]string{"X": "colour"}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
	if _, err := ParseMapping(Kind("invoices"), nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestParseMapping_FirstColumnWins(t *testing.T) {
	m, err := ParseMapping(KindLabor, map[string]string{"B Task": "task", "A Task": "task"})
	if err != nil {
		t.Fatalf("ParseMapping: %v", err)
	}
	if m[RoleTask] != "A Task" {
		t.Fatalf("task column = %q, want %q", m[RoleTask], "A Task")
	}
}

func TestValidate_MissingColumn(t *testing.T) {
	headers := []string{"Item", "Price", "Qty"}

	ok := Mapping{RoleName: "Item", RoleUnitCost: "Price", RoleQuantity: "Qty"}
	if err := ok.Validate(KindMaterials, headers); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	missingRequired := Mapping{RoleName: "Item", RoleUnitCost: "Price"}
	err := missingRequired.Validate(KindMaterials, headers)
	var missing *MissingColumnError
	if !errors.As(err, &missing) || !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected MissingColumnError, got %v", err)
	}
	if missing.Role != RoleQuantity || missing.Column != "quantity" {
		t.Fatalf("unexpected missing column: %+v", missing)
	}

	wrongOptional := Mapping{RoleName: "Item", RoleUnitCost: "Price", RoleQuantity: "Qty", RoleBundle: "Package"}
	if err := wrongOptional.Validate(KindMaterials, headers); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn for mapped optional role, got %v", err)
	}
}

func TestMaterials_ComputesTotals(t *testing.T) {
	table, err := ReadTable("m.csv", strings.NewReader(materialsCSV))
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	m := Mapping{RoleName: "Item", RoleUnit: "UOM", RoleUnitCost: "Price", RoleQuantity: "Qty", RoleBundle: "Package"}

	items := Materials(table, m)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if items[0].UnitCost != 1250 || *items[0].TotalCost != 2500 || items[0].Bundle != "Kitchen" {
		t.Fatalf("unexpected cabinets: %+v", items[0])
	}
	if items[1].Bundle != "" || *items[1].TotalCost != 200 {
		t.Fatalf("unexpected screws: %+v", items[1])
	}
	if items[2].UnitCost != 0 || *items[2].TotalCost != 0 {
		t.Fatalf("invalid price should read as 0: %+v", items[2])
	}

	if got := strings.Join(Bundles(items), ","); got != "Bath,Kitchen" {
		t.Fatalf("bundles = %q", got)
	}
}

func TestParseNumber(t *testing.T) {
	cases := map[string]float64{
		"":          0,
		"12":        12,
		" 3.5 ":     3.5,
		"$1,200.50": 1200.5,
		"(40.25)":   -40.25,
		"€ 9":       9,
		"n/a":       0,
		"NaN":       0,
		"1e400":     0,
	}
	for in, want := range cases {
		if got := parseNumber(in); got != want {
			t.Fatalf("parseNumber(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSample(t *testing.T) {
	table := Table{
		Headers: []string{"a", "b"},
		Rows:    [][]string{{"1", "x,y"}, {"2", "z"}, {"3", "w"}},
	}
	got, err := Sample(table, 2)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	want := "a,b\n1,\"x,y\"\n2,z\n"
	if got != want {
		t.Fatalf("Sample = %q, want %q", got, want)
	}
}

func TestMergeBundles(t *testing.T) {
	got := MergeBundles([]string{"Kitchen", " "}, []string{"Bath", "Kitchen"}, nil)
	if strings.Join(got, ",") != "Bath,Kitchen" {
		t.Fatalf("MergeBundles = %v", got)
	}
}
