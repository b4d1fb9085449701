package main

import (
	"net/http"
)

type loginViewData struct {
	baseViewData
}

type homeViewData struct {
	baseViewData
	MaxUploadMB     int64
	AnalysisEnabled bool
}

func (s *server) homeData(r *http.Request) homeViewData {
	return homeViewData{
		baseViewData:    messagesFrom(r),
		MaxUploadMB:     s.maxUpload >> 20,
		AnalysisEnabled: s.analyzer != nil,
	}
}

func (s *server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.renderTemplate(w, "home.html", s.homeData(r))
}

func (s *server) renderHomeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	data := s.homeData(r)
	data.ErrorMessage = message
	data.SuccessMessage = ""
	s.renderStatus(w, status, "home.html", data)
}

func (s *server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if isAuthenticated(r, s.auth) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderTemplate(w, "login.html", loginViewData{baseViewData: baseViewData{
		SuccessMessage: r.URL.Query().Get("success"),
	}})
}

func (s *server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	form := loginForm{Password: r.FormValue("password")}
	if err := s.validate.Struct(form); err != nil || !s.auth.validatePassword(form.Password) {
		s.log.Warn("login rejected", "remote_addr", r.RemoteAddr)
		s.renderStatus(w, http.StatusUnauthorized, "login.html", loginViewData{baseViewData: baseViewData{ErrorMessage: "Invalid password. Please try again."}})
		return
	}

	s.auth.setSessionCookie(w)
	http.Redirect(w, r, "/?success=Successfully+logged+in%21", http.StatusSeeOther)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.clearSessionCookie(w)
	http.Redirect(w, r, "/login?success=Successfully+logged+out%21", http.StatusSeeOther)
}
