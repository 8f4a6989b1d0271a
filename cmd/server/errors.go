package server

import (
	"errors"
	"net/http"

	"github.com/ykst615/learn-zhihu-api/internal/auth"
	"github.com/ykst615/learn-zhihu-api/internal/middleware"
	"github.com/ykst615/learn-zhihu-api/internal/models"
	"github.com/ykst615/learn-zhihu-api/internal/store"
)

// statusFor maps domain errors to HTTP status codes and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, store.ErrTopicNotFound):
		return http.StatusNotFound, "topic not found"
	case errors.Is(err, store.ErrNameTaken):
		return http.StatusConflict, "user name already taken"
	case errors.Is(err, store.ErrSelfFollow):
		return http.StatusBadRequest, "users cannot follow themselves"
	case errors.Is(err, models.ErrUnknownField):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "incorrect name or password"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// respondErr writes the mapped error and logs anything that is not a client error.
func respondErr(w http.ResponseWriter, module, msg string, err error) {
	status, text := statusFor(err)
	if status >= http.StatusInternalServerError {
		logg.Error(module, msg, err)
	} else {
		logg.Debug(module, msg+": "+err.Error())
	}
	middleware.RespondError(w, status, text)
}

func respondValidation(w http.ResponseWriter, err error) {
	middleware.RespondJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
		Error:  "validation failed",
		Fields: validationFields(err),
	})
}
