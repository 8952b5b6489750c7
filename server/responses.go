package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/cids/internal/errors"
)

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = jsonEncode(w, v)
}

func jsonEncode(w http.ResponseWriter, v any) error {
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
	return err
}

// writeJSONError writes an OAuth2 style error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

// writeError maps err onto a status code by kind. Credential failures never
// say which check failed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindAuthentication:
		log.Info().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		writeJSONError(w, "invalid_token", "the credential is not valid", http.StatusUnauthorized)
	case errors.KindReplayDetected:
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("refresh token replay")
		writeJSONError(w, "invalid_grant", "the credential is not valid", http.StatusUnauthorized)
	case errors.KindAuthorization:
		writeJSONError(w, "forbidden", err.Error(), http.StatusForbidden)
	case errors.KindPolicyViolation:
		writeJSONError(w, "access_denied", err.Error(), http.StatusForbidden)
	case errors.KindDiscoveryContract:
		switch {
		case errors.Is(err, errors.ErrDiscoveryFetch), errors.Is(err, errors.ErrDiscoveryTimeout):
			writeJSONError(w, kind.String(), err.Error(), http.StatusBadGateway)
		case errors.Is(err, errors.ErrDiscoveryDisabled):
			writeJSONError(w, kind.String(), err.Error(), http.StatusConflict)
		default:
			writeJSONError(w, kind.String(), err.Error(), http.StatusUnprocessableEntity)
		}
	case errors.KindNotFound:
		writeJSONError(w, kind.String(), err.Error(), http.StatusNotFound)
	case errors.KindValidation:
		if errors.Is(err, errors.ErrAlreadyExists) {
			writeJSONError(w, "conflict", err.Error(), http.StatusConflict)
			return
		}
		writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSONError(w, "server_error", "internal error", http.StatusInternalServerError)
	}
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "decode body: %v", err)
	}
	return nil
}
