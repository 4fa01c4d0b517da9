// README: Shop order handlers: owner listings and status transitions.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"foodrun/internal/http/middleware"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

type ShopOrderHandler struct {
	order    *order.Service
	validate *validator.Validate
}

func NewShopOrderHandler(svc *order.Service) *ShopOrderHandler {
	return &ShopOrderHandler{order: svc, validate: validator.New()}
}

// ListForShop returns the shop's orders to its owner.
func (h *ShopOrderHandler) ListForShop(c *gin.Context) {
	shopID := c.Param("id")
	if err := h.validate.Var(shopID, "required,max=64,printascii"); err != nil {
		writeError(c, http.StatusBadRequest, "invalid shop id")
		return
	}
	actor := middleware.CallerActor(c)
	list, err := h.order.ListOrdersForShop(c.Request.Context(), types.ID(shopID), actor.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"shop_orders": order.ShopOrderViews(list)})
}

type advanceReq struct {
	Status string `json:"status" validate:"required"`
}

// Advance moves a shop order to the requested status on behalf of the caller.
func (h *ShopOrderHandler) Advance(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid shop order id")
		return
	}
	var req advanceReq
	if err := c.ShouldBindJSON(&req); err != nil || h.validate.Struct(req) != nil {
		writeError(c, http.StatusBadRequest, "status is required")
		return
	}
	target := order.Status(req.Status)
	if !target.Valid() {
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "unknown status " + req.Status})
		return
	}
	so, err := h.order.AdvanceStatus(c.Request.Context(), order.AdvanceCommand{
		ShopOrderID: types.ID(id),
		Target:      target,
		Actor:       middleware.CallerActor(c),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, so.View())
}
