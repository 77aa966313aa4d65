package handler

import (
	"errors"
	"net/http"

	"github.com/jsverre/stevedore/internal/api/response"
	"github.com/jsverre/stevedore/internal/engine"
	"github.com/jsverre/stevedore/internal/lifecycle"
)

// writeDomainError maps lifecycle and engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, engine.ErrNotFound):
		response.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrForbidden):
		response.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lifecycle.ErrConflict):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		response.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrRejected):
		response.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		response.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		response.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
