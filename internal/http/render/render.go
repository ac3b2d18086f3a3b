// Package render writes JSON responses and maps domain errors to HTTP statuses. It is
// shared by the router and every domain handler package.
package render

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/deptkpi/kpi/internal/repo"
)

// maxBodyBytes bounds request payloads; batch submissions are the largest.
const maxBodyBytes = 1 << 20

// ErrorBody is the shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes {"error": message}.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: message})
}

// NoContent answers 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind repo.Kind) int {
	switch kind {
	case repo.KindValidation, repo.KindInUse:
		return http.StatusBadRequest
	case repo.KindConflict:
		return http.StatusConflict
	case repo.KindNotFound:
		return http.StatusNotFound
	case repo.KindUnauthorized:
		return http.StatusUnauthorized
	case repo.KindForbidden:
		return http.StatusForbidden
	case repo.KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// DomainError classifies err and writes the matching response. Internal errors are logged
// under component and answered with a generic message.
func DomainError(w http.ResponseWriter, r *http.Request, component string, err error) {
	err = repo.Classify(err)
	kind := repo.KindOf(err)
	if kind == repo.KindInternal {
		log.Ctx(r.Context()).Error().
			Err(err).
			Str("component", component).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	Error(w, StatusOf(kind), repo.MessageOf(err))
}

// Decode reads a JSON body into dst. Unknown fields are ignored; an empty body is a
// validation error.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var domainErr *repo.Error
		if errors.As(err, &domainErr) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return repo.Validation("กรุณาส่งข้อมูล")
		}
		return repo.Validation("รูปแบบข้อมูลไม่ถูกต้อง")
	}
	return nil
}
