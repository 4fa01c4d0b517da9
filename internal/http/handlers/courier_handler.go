// README: Courier handlers for open requests, assignments and claims.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodrun/internal/http/middleware"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

type CourierHandler struct {
	order *order.Service
}

func NewCourierHandler(svc *order.Service) *CourierHandler {
	return &CourierHandler{order: svc}
}

// OpenRequests lists claimable jobs and records the caller as a viewer.
func (h *CourierHandler) OpenRequests(c *gin.Context) {
	actor := middleware.CallerActor(c)
	list, err := h.order.ListOpenRequests(c.Request.Context(), actor.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"shop_orders": order.ShopOrderViews(list)})
}

func (h *CourierHandler) Assignments(c *gin.Context) {
	actor := middleware.CallerActor(c)
	list, err := h.order.ListAssignments(c.Request.Context(), actor.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"shop_orders": order.ShopOrderViews(list)})
}

// Claim tries to take the job for the caller. Exactly one courier wins;
// the rest get 409 with the winner.
func (h *CourierHandler) Claim(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid shop order id")
		return
	}
	so, err := h.order.Claim(c.Request.Context(), order.ClaimCommand{
		ShopOrderID: types.ID(id),
		Courier:     middleware.CallerCourier(c),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, so.View())
}
