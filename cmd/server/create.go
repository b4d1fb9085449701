package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Simplici0/quickbuild/internal/analysis"
	"github.com/Simplici0/quickbuild/internal/estimate"
	"github.com/Simplici0/quickbuild/internal/ingest"
	"github.com/Simplici0/quickbuild/internal/pricing"
	"github.com/Simplici0/quickbuild/internal/storage"
)

const sampleRows = 5

type upload struct {
	filename string
	data     []byte
}

type uploads struct {
	blueprint upload
	materials upload
	labor     upload
}

// requestError is a problem with the submitted form or files.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func readUpload(r *http.Request, field string) (upload, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return upload{}, badRequest("Please upload all three required files (%s is missing).", field)
	}
	if err != nil {
		return upload{}, badRequest("invalid %s upload", field)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fmt.Errorf("read %s upload: %w", field, err)
	}
	if len(data) == 0 {
		return upload{}, badRequest("The %s file is empty.", field)
	}
	return upload{filename: hdr.Filename, data: data}, nil
}

func readUploads(r *http.Request) (uploads, error) {
	var up uploads
	var err error
	if up.blueprint, err = readUpload(r, "blueprint"); err != nil {
		return uploads{}, err
	}
	if up.materials, err = readUpload(r, "materials"); err != nil {
		return uploads{}, err
	}
	if up.labor, err = readUpload(r, "labor"); err != nil {
		return uploads{}, err
	}

	if !strings.EqualFold(filepath.Ext(up.blueprint.filename), ".pdf") ||
		!ingest.SupportedExtension(up.materials.filename) ||
		!ingest.SupportedExtension(up.labor.filename) {
		return uploads{}, badRequest("Invalid file types. Please upload a PDF blueprint and CSV or XLSX materials and labor files.")
	}
	return up, nil
}

func (s *server) handleEstimateCreate(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		s.renderHomeError(w, r, http.StatusServiceUnavailable, "Blueprint and spreadsheet analysis is not configured (OPENAI_API_KEY is missing).")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderHomeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large. Maximum size is %dMB.", s.maxUpload>>20))
			return
		}
		s.renderHomeError(w, r, http.StatusBadRequest, "invalid upload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := createForm{Name: strings.TrimSpace(r.FormValue("estimate_name"))}
	if err := s.validate.Struct(form); err != nil {
		s.renderHomeError(w, r, http.StatusBadRequest, describeValidation(err))
		return
	}

	up, err := readUploads(r)
	if err == nil {
		var rec estimate.Record
		rec, err = s.createEstimate(r.Context(), form.Name, up)
		if err == nil {
			path := "/estimates/" + strconv.FormatInt(rec.Estimate.ID, 10)
			redirectWithMessage(w, r, path, "success", "Estimate created successfully!")
			return
		}
	}

	status, msg := createErrorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("create estimate failed", "name", form.Name, "error", err)
	} else {
		s.log.Warn("create estimate rejected", "name", form.Name, "error", err)
	}
	s.renderHomeError(w, r, status, msg)
}

func createErrorStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.msg
	case errors.Is(err, analysis.ErrSpendCapExceeded):
		return http.StatusServiceUnavailable, "The monthly analysis budget has been reached. Try again next month or raise OPENAI_SPEND_CAP."
	case errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrEmptyTable),
		errors.Is(err, ingest.ErrMissingColumn),
		errors.Is(err, ingest.ErrUnknownRole),
		errors.Is(err, pricing.ErrComputation):
		return http.StatusUnprocessableEntity, "Error creating estimate: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Analysis took too long. Please try again."
	default:
		var apiErr *analysis.HTTPError
		if errors.As(err, &apiErr) {
			return http.StatusBadGateway, "Error creating estimate: " + err.Error()
		}
		return http.StatusInternalServerError, "Error creating estimate."
	}
}

// createEstimate stores the uploads, runs the three analyses concurrently,
// ingests the spreadsheets and inserts the priced estimate. Stored files are
// removed again when any step fails.
func (s *server) createEstimate(ctx context.Context, name string, up uploads) (rec estimate.Record, err error) {
	materialsTable, err := ingest.ReadTable(up.materials.filename, bytes.NewReader(up.materials.data))
	if err != nil {
		return estimate.Record{}, fmt.Errorf("materials file: %w", err)
	}
	laborTable, err := ingest.ReadTable(up.labor.filename, bytes.NewReader(up.labor.data))
	if err != nil {
		return estimate.Record{}, fmt.Errorf("labor file: %w", err)
	}

	var keys []string
	defer func() {
		if err == nil {
			return
		}
		if cleanupErr := storage.DeleteAll(context.WithoutCancel(ctx), s.files, keys...); cleanupErr != nil {
			s.log.Warn("remove uploads after failed create", "error", cleanupErr)
		}
	}()

	stored := map[string]string{}
	for _, f := range []struct {
		kind string
		up   upload
	}{
		{"blueprints", up.blueprint},
		{"materials", up.materials},
		{"labor", up.labor},
	} {
		key := storage.NewKey(f.kind, f.up.filename)
		if err := s.files.Put(ctx, key, bytes.NewReader(f.up.data)); err != nil {
			return estimate.Record{}, fmt.Errorf("store %s upload: %w", f.kind, err)
		}
		keys = append(keys, key)
		stored[f.kind] = key
	}

	var (
		areas                        []pricing.Area
		materialsSchema, laborSchema analysis.Schema
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := s.analyzer.AnalyzeBlueprint(gctx, up.blueprint.filename, up.blueprint.data)
		if err != nil {
			return fmt.Errorf("blueprint analysis failed: %w", err)
		}
		areas = a
		return nil
	})
	g.Go(func() error {
		schema, err := s.detectSchema(gctx, ingest.KindMaterials, materialsTable)
		materialsSchema = schema
		return err
	})
	g.Go(func() error {
		schema, err := s.detectSchema(gctx, ingest.KindLabor, laborTable)
		laborSchema = schema
		return err
	})
	if err := g.Wait(); err != nil {
		return estimate.Record{}, err
	}

	materialsMapping, err := mappingFor(ingest.KindMaterials, materialsSchema, materialsTable)
	if err != nil {
		return estimate.Record{}, err
	}
	laborMapping, err := mappingFor(ingest.KindLabor, laborSchema, laborTable)
	if err != nil {
		return estimate.Record{}, err
	}

	materials := ingest.Materials(materialsTable, materialsMapping)
	labor := ingest.Labor(laborTable, laborMapping)
	bundles := ingest.MergeBundles(materialsSchema.DetectedBundles, laborSchema.DetectedBundles, ingest.Bundles(materials))

	rec, err = s.estimates.CreateAndPrice(ctx, estimate.NewEstimate{
		Name:             name,
		BlueprintKey:     stored["blueprints"],
		MaterialsKey:     stored["materials"],
		LaborKey:         stored["labor"],
		Areas:            areas,
		MaterialsMapping: materialsMapping,
		LaborMapping:     laborMapping,
		DetectedBundles:  bundles,
		ActiveBundles:    bundles,
		Materials:        materials,
		Labor:            labor,
	})
	if err != nil {
		return estimate.Record{}, err
	}
	return rec, nil
}

func (s *server) detectSchema(ctx context.Context, kind ingest.Kind, t ingest.Table) (analysis.Schema, error) {
	sample, err := ingest.Sample(t, sampleRows)
	if err != nil {
		return analysis.Schema{}, err
	}
	schema, err := s.analyzer.DetectSchema(ctx, kind, sample)
	if err != nil {
		return analysis.Schema{}, fmt.Errorf("%s schema detection failed: %w", kind, err)
	}
	return schema, nil
}

func mappingFor(kind ingest.Kind, schema analysis.Schema, t ingest.Table) (ingest.Mapping, error) {
	m, err := ingest.ParseMapping(kind, schema.ColumnRoles)
	if err != nil {
		return nil, fmt.Errorf("%s mapping: %w", kind, err)
	}
	if err := m.Validate(kind, t.Headers); err != nil {
		return nil, err
	}
	return m, nil
}
