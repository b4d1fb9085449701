package main

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type loginForm struct {
	Password string `form:"password" validate:"required"`
}

type createForm struct {
	Name string `form:"estimate_name" validate:"required,max=200"`
}

type toggleForm struct {
	Bundle string `form:"bundle_name" validate:"required,max=200"`
}

type settingsForm struct {
	Profit      string `form:"profit_percentage" validate:"required,numeric"`
	Contingency string `form:"contingency_percentage" validate:"required,numeric"`
}

// newValidator reports fields by their form names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func describeValidation(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "numeric":
			msgs = append(msgs, fe.Field()+" must be a number")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fe.Field()+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *server) parseToggleForm(r *http.Request) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	form := toggleForm{Bundle: r.FormValue("bundle_name")}
	if err := s.validate.Struct(form); err != nil {
		return "", errors.New(describeValidation(err))
	}
	return form.Bundle, nil
}

// parseSettingsForm returns the raw percentages; clamping happens in the
// estimate service.
func (s *server) parseSettingsForm(r *http.Request) (float64, float64, error) {
	if err := r.ParseForm(); err != nil {
		return 0, 0, err
	}
	form := settingsForm{
		Profit:      strings.TrimSpace(r.FormValue("profit_percentage")),
		Contingency: strings.TrimSpace(r.FormValue("contingency_percentage")),
	}
	if err := s.validate.Struct(form); err != nil {
		return 0, 0, errors.New(describeValidation(err))
	}

	profit, err := strconv.ParseFloat(form.Profit, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("profit_percentage must be a number")
	}
	contingency, err := strconv.ParseFloat(form.Contingency, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("contingency_percentage must be a number")
	}
	return profit, contingency, nil
}
