package api

import (
	"errors"
	"net/http"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/proxy"
	"github.com/radar-hq/radar/internal/session"
	"github.com/radar-hq/radar/internal/task"
)

func writeInvalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}

func writeDecodeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", tooLarge.Error())
		return
	}
	writeInvalidArgument(w, err.Error())
}

// writeDomainError maps package sentinel errors to HTTP codes. Expected
// "no resource" outcomes are client-visible conditions, not 500s.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	case errors.Is(err, account.ErrNoAccountAvailable),
		errors.Is(err, proxy.ErrNoProxyAvailable):
		WriteError(w, http.StatusNotFound, "NO_CANDIDATE", err.Error())
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, proxy.ErrNotFound),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrUnknownAccount),
		errors.Is(err, task.ErrNotFound):
		WriteError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, task.ErrDuplicateTask):
		WriteError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, session.ErrSessionLimit),
		errors.Is(err, task.ErrAccountAtLimit),
		errors.Is(err, task.ErrAccountUnavailable):
		WriteError(w, http.StatusConflict, "POLICY_VIOLATION", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}
