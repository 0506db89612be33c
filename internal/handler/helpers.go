package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chatrelay/internal/apperr"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/validator"
)

// maxBodyBytes ограничивает тело JSON-запроса.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

// writeError отдаёт ошибку сервиса с HTTP-статусом по её виду; внутренние детали остаются в логах.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("http %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, errorResponse{Error: apperr.Public(err), Code: apperr.Code(err)})
}

// decodeJSON читает тело в v и валидирует его по тегам validate.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid body", apperr.ErrInvalid)
	}
	return validator.Check(v)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
