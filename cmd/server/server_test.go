package main

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Simplici0/quickbuild/internal/analysis"
	"github.com/Simplici0/quickbuild/internal/db"
	"github.com/Simplici0/quickbuild/internal/estimate"
	"github.com/Simplici0/quickbuild/internal/ingest"
	"github.com/Simplici0/quickbuild/internal/lock"
	"github.com/Simplici0/quickbuild/internal/logger"
	"github.com/Simplici0/quickbuild/internal/migrations"
	"github.com/Simplici0/quickbuild/internal/pricing"
	"github.com/Simplici0/quickbuild/internal/storage"
)

const testPassword = "correct horse"

var testNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

type fakeAnalyzer struct {
	areas   []pricing.Area
	schemas map[ingest.Kind]analysis.Schema
	err     error
	summary string
	calls   atomic.Int32
}

func (f *fakeAnalyzer) AnalyzeBlueprint(_ context.Context, _ string, _ []byte) ([]pricing.Area, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.areas, nil
}

func (f *fakeAnalyzer) DetectSchema(_ context.Context, kind ingest.Kind, _ string) (analysis.Schema, error) {
	f.calls.Add(1)
	return f.schemas[kind], nil
}

func (f *fakeAnalyzer) ProposalSummary(_ context.Context, _ pricing.Estimate) (string, error) {
	if f.summary == "" {
		return "", errors.New("summary unavailable")
	}
	return f.summary, nil
}

func kitchenAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{
		areas: []pricing.Area{{Room: "Kitchen", Category: "Interior", AreaFt2: 50}},
		schemas: map[ingest.Kind]analysis.Schema{
			ingest.KindMaterials: {
				ColumnRoles:     map[string]string{"Item": "name", "Unit": "unit", "Unit Cost": "unit_cost", "Qty": "quantity", "Bundle": "bundle"},
				DetectedBundles: []string{"Kitchen"},
			},
			ingest.KindLabor: {
				ColumnRoles: map[string]string{"task": "task", "hours": "hours", "hourly_rate": "hourly_rate", "category": "category"},
			},
		},
		summary: "A compact kitchen refresh.",
	}
}

const (
	materialsCSV = "Item,Unit,Unit Cost,Qty,Bundle\nCabinets,each,250,2,Kitchen\nScrews,box,20,10,\n"
	laborCSV     = "task,hours,hourly_rate,category\nInstall cabinets,6,50,Carpentry\n"
)

type testEnv struct {
	srv       *server
	handler   http.Handler
	uploadDir string
	disk      *storage.Disk
}

func newTestEnv(t *testing.T, az analyzer) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "server-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := migrations.Up(database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	uploadDir := filepath.Join(t.TempDir(), "uploads")
	disk, err := storage.NewDisk(uploadDir)
	if err != nil {
		t.Fatalf("open upload dir: %v", err)
	}

	auth, err := newAuthService(testPassword, "test-session-secret", false)
	if err != nil {
		t.Fatalf("newAuthService: %v", err)
	}
	auth.now = func() time.Time { return testNow }

	srv := &server{
		auth:      auth,
		db:        database,
		estimates: estimate.NewService(database, lock.NewLocal(), logger.Nop()),
		files:     disk,
		analyzer:  az,
		log:       logger.Nop(),
		validate:  newValidator(),
		maxUpload: 16 << 20,
		now:       func() time.Time { return testNow },
	}
	return &testEnv{srv: srv, handler: srv.routes(), uploadDir: uploadDir, disk: disk}
}

// do sends the request through the router with a valid session cookie.
func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: e.srv.auth.createSessionValue()})
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *testEnv) createKitchen(t *testing.T) estimate.Record {
	t.Helper()
	rec, err := e.srv.estimates.CreateAndPrice(context.Background(), estimate.NewEstimate{
		Name:            "Kitchen remodel",
		Areas:           []pricing.Area{{Room: "Kitchen", Category: "Interior", AreaFt2: 50}},
		DetectedBundles: []string{"Kitchen"},
		ActiveBundles:   []string{"Kitchen"},
		Materials: []pricing.Material{
			{Name: "Cabinets", Unit: "each", UnitCost: 250, Quantity: 2, TotalCost: pricing.Cost(500), Bundle: "Kitchen"},
			{Name: "Screws", Unit: "box", UnitCost: 20, Quantity: 10, TotalCost: pricing.Cost(200)},
		},
		Labor: []pricing.Labor{
			{Task: "Install cabinets", Hours: 6, HourlyRate: 50, TotalCost: pricing.Cost(300), Category: "Carpentry"},
		},
	})
	if err != nil {
		t.Fatalf("CreateAndPrice: %v", err)
	}
	return rec
}

type fileField struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, fields map[string]string, files map[string]fileField) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for field, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("create form file %s: %v", field, err)
		}
		if _, err := part.Write([]byte(f.content)); err != nil {
			t.Fatalf("write form file %s: %v", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/estimates", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func kitchenUploads() map[string]fileField {
	return map[string]fileField{
		"blueprint": {name: "plan.pdf", content: "%PDF-1.4 fake blueprint"},
		"materials": {name: "materials.csv", content: materialsCSV},
		"labor":     {name: "labor.csv", content: laborCSV},
	}
}
