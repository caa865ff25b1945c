package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ChatGPT-CN/chat-ai/internal/providers"
	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func codedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// statusFor maps an error to the relay's HTTP status. Caller mistakes are
// 400; every downstream failure is 500 unless forwardUpstream is set, in
// which case a provider's own 4xx/5xx status is passed through.
func statusFor(err error, forwardUpstream bool) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	var verr *providers.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	var herr *providers.ProviderHTTPError
	if forwardUpstream && errors.As(err, &herr) && herr.Status >= 400 && herr.Status <= 599 {
		return herr.Status
	}
	return http.StatusInternalServerError
}

func restHandler(logger zerolog.Logger, forwardUpstream bool, handler func(r *http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(r)
		if err != nil {
			status := statusFor(err, forwardUpstream)
			if status >= http.StatusInternalServerError {
				logger.Error().Err(err).Int("status", status).Msg("chat request failed")
			} else {
				logger.Debug().Err(err).Int("status", status).Msg("chat request rejected")
			}
			writeJSON(logger, w, status, wire.ErrorResponse{Error: err.Error()})
			return
		}
		if res == nil {
			res = struct{}{}
		}
		writeJSON(logger, w, http.StatusOK, res)
	}
}

func writeJSON(logger zerolog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("encoding response")
	}
}

// parseRequest decodes the JSON body. The size cap itself is applied by the
// RequestSize middleware mounted in Routes.
func parseRequest[T any](r *http.Request) (T, error) {
	var data T
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return data, codedErrorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return data, codedErrorf(http.StatusBadRequest, "unable to parse request body")
	}
	return data, nil
}
