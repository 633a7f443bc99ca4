package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/erazemk/custody/internal/db"
	"github.com/erazemk/custody/internal/registry"
	"github.com/erazemk/custody/internal/transfer"
)

// Error codes used for failures that do not come from the transfer service.
const (
	codeBadRequest   = "BAD_REQUEST"
	codeUnauthorized = "UNAUTHORIZED"
	codeConflict     = "CONFLICT"
	codeInternal     = "INTERNAL_ERROR"
	codeForbidden    = string(transfer.CodeForbidden)
	codeNotFound     = string(transfer.CodeNotFound)
)

var validate = validator.New()

type errorDetail struct {
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      errorDetail          `json:"error"`
	Errors     []string             `json:"errors,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
	Violations []transfer.Violation `json:"violations,omitempty"`
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// jsonError writes the error envelope.
func jsonError(w http.ResponseWriter, status int, code, message string) {
	jsonResponse(w, status, errorResponse{Error: errorDetail{
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	}})
}

// writeError maps err onto a status code and the error envelope.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var terr *transfer.Error
	if errors.As(err, &terr) {
		status := http.StatusInternalServerError
		switch terr.Code {
		case transfer.CodeValidation:
			status = http.StatusBadRequest
		case transfer.CodeInvalidState:
			status = http.StatusConflict
		case transfer.CodeNotFound:
			status = http.StatusNotFound
		case transfer.CodeForbidden:
			status = http.StatusForbidden
		case transfer.CodeContention:
			status = http.StatusServiceUnavailable
			w.Header().Set("Retry-After", "1")
		}
		msg := terr.Message
		if msg == "" {
			msg = terr.Error()
		}
		if status == http.StatusInternalServerError {
			log.Error("transfer failed", zap.Error(err))
		}
		jsonResponse(w, status, errorResponse{
			Error:      errorDetail{Message: msg, Code: string(terr.Code), Timestamp: time.Now().UTC()},
			Errors:     terr.Errors,
			Warnings:   terr.Warnings,
			Violations: terr.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, registry.ErrTransitStatusReserved), errors.Is(err, registry.ErrAssetInTransit):
		jsonError(w, http.StatusForbidden, codeForbidden, err.Error())
	case errors.Is(err, registry.ErrUnknownStatus), errors.Is(err, registry.ErrUnsupportedKind):
		jsonError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	case errors.Is(err, registry.ErrAssetNotFound):
		jsonError(w, http.StatusNotFound, codeNotFound, err.Error())
	case db.IsUniqueViolation(err):
		jsonError(w, http.StatusConflict, codeConflict, "already exists")
	case db.IsBusy(err):
		w.Header().Set("Retry-After", "1")
		jsonError(w, http.StatusServiceUnavailable, string(transfer.CodeContention), "database is busy, retry later")
	default:
		log.Error("request failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// decodeJSON decodes a JSON request body into target and validates its
// struct tags. An empty body leaves target untouched.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// queryID parses an optional numeric query parameter; absent means 0.
func queryID(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
