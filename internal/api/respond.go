package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/muhammed-hab/ambulancetrackerbackend/internal/account"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/ambulance"
	"github.com/muhammed-hab/ambulancetrackerbackend/internal/tracking"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logErrorf("encode response failed: %v", err)
	}
}

// writeError 业务错误到 HTTP 状态码的统一映射。
func (a *API) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case err == nil:
		return
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, account.ErrPhoneNotFound),
		errors.Is(err, ambulance.ErrNotFound),
		errors.Is(err, tracking.ErrSessionNotFound),
		errors.Is(err, tracking.ErrTriggerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tracking.ErrDuplicateActiveSession),
		errors.Is(err, account.ErrUsernameTaken):
		status = http.StatusConflict
	case errors.Is(err, account.ErrIncorrectPassword):
		status = http.StatusUnauthorized
	case errors.Is(err, account.ErrNotOwner),
		errors.Is(err, account.ErrRoleNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, account.ErrAlertTooLong):
		status = http.StatusBadRequest
	default:
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			status = http.StatusBadRequest
		} else {
			a.logErrorf("internal error: %v", err)
			a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

// decodeAndValidate 解析 JSON body 并跑 validator 校验。
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.badRequest(w, "invalid json body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		a.writeError(w, err)
		return false
	}
	return true
}

func (a *API) logErrorf(format string, args ...interface{}) {
	if a.log != nil {
		a.log.Errorf(format, args...)
	}
}
