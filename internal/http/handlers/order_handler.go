// README: Order handlers for place/get/list on the customer side.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"foodrun/internal/http/middleware"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

type OrderHandler struct {
	order    *order.Service
	validate *validator.Validate
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc, validate: validator.New()}
}

type addressReq struct {
	Name       string  `json:"name" validate:"required,max=120"`
	Line       string  `json:"line" validate:"required,max=255"`
	City       string  `json:"city" validate:"required,max=120"`
	State      string  `json:"state" validate:"max=120"`
	PostalCode string  `json:"postal_code" validate:"max=20"`
	Mobile     string  `json:"mobile" validate:"required,max=20"`
	Lat        float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64 `json:"lng" validate:"gte=-180,lte=180"`
}

type itemReq struct {
	CatalogItemID string `json:"catalog_item_id" validate:"required,max=64"`
	Name          string `json:"name" validate:"required,max=255"`
	Quantity      int    `json:"quantity" validate:"gt=0,lte=1000"`
	Price         int64  `json:"price" validate:"gte=0,lte=100000000"`
}

type shopCartReq struct {
	ShopID      string    `json:"shop_id" validate:"required,max=64"`
	OwnerID     string    `json:"owner_id" validate:"required,max=128"`
	Items       []itemReq `json:"items" validate:"required,min=1,dive"`
	DeliveryFee int64     `json:"delivery_fee" validate:"gte=0,lte=100000000"`
	Tax         int64     `json:"tax" validate:"gte=0,lte=100000000"`
}

type placeOrderReq struct {
	Address   addressReq    `json:"address"`
	Payment   string        `json:"payment_method" validate:"required,oneof=cod online"`
	Reference string        `json:"payment_reference" validate:"required_if=Payment online"`
	Amount    int64         `json:"amount" validate:"gte=0"`
	Shops     []shopCartReq `json:"shops" validate:"required,min=1,dive"`
}

func (r placeOrderReq) command(customerID types.ID) order.PlaceCommand {
	cmd := order.PlaceCommand{
		CustomerID: customerID,
		Address: order.Address{
			Name:       r.Address.Name,
			Line:       r.Address.Line,
			City:       r.Address.City,
			State:      r.Address.State,
			PostalCode: r.Address.PostalCode,
			Mobile:     r.Address.Mobile,
			Location:   types.Point{Lat: r.Address.Lat, Lng: r.Address.Lng},
		},
		Payment: order.Payment{Method: order.PaymentMethod(r.Payment), Reference: r.Reference},
	}
	if r.Amount > 0 {
		cmd.Payment.Amount = types.NewMoney(r.Amount)
	}
	for _, s := range r.Shops {
		cart := order.ShopCart{
			ShopID:      types.ID(s.ShopID),
			OwnerID:     types.ID(s.OwnerID),
			DeliveryFee: types.NewMoney(s.DeliveryFee),
			Tax:         types.NewMoney(s.Tax),
		}
		for _, it := range s.Items {
			cart.Items = append(cart.Items, order.Item{
				CatalogItemID: types.ID(it.CatalogItemID),
				Name:          it.Name,
				Quantity:      it.Quantity,
				Price:         types.NewMoney(it.Price),
			})
		}
		cmd.Shops = append(cmd.Shops, cart)
	}
	return cmd
}

// Create places an order for the calling customer.
func (h *OrderHandler) Create(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
		return
	}
	actor := middleware.CallerActor(c)
	o, err := h.order.Place(c.Request.Context(), req.command(actor.ID))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o.View())
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.order.GetOrder(c.Request.Context(), types.ID(id), middleware.CallerActor(c))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o.View())
}

// ListMine returns the caller's orders with their aggregate status.
func (h *OrderHandler) ListMine(c *gin.Context) {
	actor := middleware.CallerActor(c)
	orders, err := h.order.ListOrdersForCustomer(c.Request.Context(), actor.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": order.OrderViews(orders)})
}
