package main

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Simplici0/quickbuild/internal/proposal"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"currency": proposal.FormatCurrency,
	"percent":  proposal.FormatPercent,
	"date": func(t time.Time) string {
		return t.Local().Format("Jan 2, 2006 15:04")
	},
	"cost": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return proposal.FormatCurrency(*v)
	},
}

type baseViewData struct {
	ErrorMessage   string
	SuccessMessage string
	Authenticated  bool
}

func messagesFrom(r *http.Request) baseViewData {
	return baseViewData{
		ErrorMessage:   r.URL.Query().Get("error"),
		SuccessMessage: r.URL.Query().Get("success"),
		Authenticated:  true,
	}
}

func (s *server) renderTemplate(w http.ResponseWriter, page string, data any) {
	s.renderStatus(w, http.StatusOK, page, data)
}

// renderStatus renders into a buffer first so a template error still yields
// a clean 500.
func (s *server) renderStatus(w http.ResponseWriter, status int, page string, data any) {
	templates, err := template.New(page).Funcs(templateFuncs).ParseFS(templateFS,
		"templates/layout.html",
		"templates/"+page,
	)
	if err != nil {
		s.log.Error("parse template", "page", page, "error", err)
		http.Error(w, "failed to parse template", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.log.Error("render template", "page", page, "error", err)
		http.Error(w, "failed to render template", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// wantsJSON reports whether the client asked for JSON rather than HTML.
func wantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// redirectWithMessage sends the browser to path with a flash message in the
// query string, e.g. "?error=..." or "?success=...".
func redirectWithMessage(w http.ResponseWriter, r *http.Request, path, kind, message string) {
	http.Redirect(w, r, path+"?"+kind+"="+url.QueryEscape(message), http.StatusSeeOther)
}
