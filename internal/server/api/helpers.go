package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/pkg/models"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(data)
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, data)
}

func respondErrorJSON(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, models.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var transportErr *routeros.TransportError
	switch {
	case services.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidToken):
		return http.StatusForbidden
	case errors.Is(err, services.ErrDeviceNotFound), errors.Is(err, services.ErrVoucherNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrVoucherAlreadyUsed):
		return http.StatusConflict
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrRouterNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status. Internal details are
// logged, not returned.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal error"
	case http.StatusBadGateway:
		logger.Error("Router transport failed", zap.String("path", r.URL.Path), zap.Error(err))
		message = "router provisioning failed"
	}
	respondErrorJSON(w, status, message)
}

// pathParam returns the decoded route parameter. chi matches on RawPath when
// the request carries escaped separators, leaving the value escaped.
func pathParam(r *http.Request, key string) string {
	value := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

// clientIP returns the request's remote address without the port.
// middleware.RealIP has already replaced RemoteAddr from forwarding headers.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &services.ValidationError{Field: key, Message: "must be a non-negative integer"}
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, &services.ValidationError{Field: key, Message: "must be true or false"}
	}
	return &b, nil
}
