// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"foodrun/internal/modules/order"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type alreadyClaimedResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Courier order.Courier `json:"courier"`
}

// isValidID ensures IDs are alphanumeric and at most 32 chars (matches the ID generator).
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	var claimed *order.AlreadyClaimedError
	switch {
	case errors.As(err, &claimed):
		writeJSON(c, http.StatusConflict, alreadyClaimedResponse{
			Error:   "already_claimed",
			Message: "already accepted by someone else",
			Courier: claimed.By,
		})
	case errors.Is(err, order.ErrAlreadyClaimed):
		writeJSON(c, http.StatusConflict, errorResponse{Error: "already_claimed", Message: "already accepted by someone else"})
	case errors.Is(err, order.ErrInvalidTransition):
		writeJSON(c, http.StatusConflict, errorResponse{Error: "invalid_transition", Message: "this status change is not allowed from the current status"})
	case errors.Is(err, order.ErrUnauthorized):
		writeJSON(c, http.StatusForbidden, errorResponse{Error: "unauthorized", Message: "you are not allowed to act on this order"})
	case errors.Is(err, order.ErrPreconditionFailed):
		writeJSON(c, http.StatusPreconditionFailed, errorResponse{Error: "precondition_failed", Message: "assign a courier before marking the order ready for pickup"})
	case errors.Is(err, order.ErrConflict):
		writeJSON(c, http.StatusConflict, errorResponse{Error: "conflict", Message: "a courier has already accepted this delivery; it can no longer be cancelled"})
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found")
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "bad_request")
	case errors.Is(err, order.ErrTransientStore):
		writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "try again shortly"})
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
