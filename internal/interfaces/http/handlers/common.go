package handlers

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/turtacn/ChargeAssign/internal/application/charging"
	"github.com/turtacn/ChargeAssign/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ChargeAssign/internal/interfaces/http/middleware"
	"github.com/turtacn/ChargeAssign/pkg/errors"
	"github.com/turtacn/ChargeAssign/pkg/types/common"
)

const defaultMaxBodySize = 8 << 20

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeData wraps data in a success envelope.
func writeData[T any](w http.ResponseWriter, r *http.Request, statusCode int, data T) {
	resp := common.NewSuccessResponse(data)
	resp.RequestID = middleware.GetRequestID(r.Context())
	writeJSON(w, statusCode, resp)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code errors.ErrorCode, message, detail string) {
	resp := common.NewErrorResponse(code.String(), message, detail)
	resp.RequestID = middleware.GetRequestID(r.Context())
	writeJSON(w, statusCode, resp)
}

// writeAppError maps err onto its HTTP status. Errors without a code are
// reported as internal and logged; their message is not exposed.
func writeAppError(w http.ResponseWriter, r *http.Request, logger logging.Logger, err error) {
	e := charging.ErrorToWire(err)
	code := errors.ErrorCode(e.Code)
	status := errors.HTTPStatusForCode(code)
	if status >= http.StatusInternalServerError && code != errors.ErrCodeRepositoryUnavailable {
		logging.FromContext(r.Context(), logger).Error("request failed", logging.Err(err))
	}
	writeError(w, r, status, code, e.Message, e.Detail)
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var mbe *http.MaxBytesError
		if stderrors.As(err, &mbe) {
			writeError(w, r, http.StatusRequestEntityTooLarge, errors.CodeInvalidParam, "request body too large", "")
			return nil, false
		}
		writeError(w, r, http.StatusBadRequest, errors.CodeInvalidParam, "failed to read request body", err.Error())
		return nil, false
	}
	return body, true
}

// decodeJSON decodes the body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	body, ok := readBody(w, r, limit)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.CodeInvalidParam, "invalid JSON body", err.Error())
		return false
	}
	return true
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "application/json")
}

// wantsText reports whether the client prefers plain text over JSON.
func wantsText(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}
