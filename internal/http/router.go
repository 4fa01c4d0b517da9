// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"foodrun/internal/http/handlers"
	"foodrun/internal/http/middleware"
	"foodrun/internal/infra"
	"foodrun/internal/modules/notify"
	"foodrun/internal/modules/order"
)

type RouterDeps struct {
	Order    *order.Service
	Broker   *notify.Broker
	Verifier infra.TokenVerifier
	Log      *logrus.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Metrics(), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "fanout": deps.Broker.Stats()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier)
	customer := middleware.RequireRole(order.RoleCustomer)
	owner := middleware.RequireRole(order.RoleOwner)
	courier := middleware.RequireRole(order.RoleCourier)

	api := r.Group("/api", auth)

	orderHandler := handlers.NewOrderHandler(deps.Order)
	api.POST("/orders", customer, orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.GET("/customers/me/orders", customer, orderHandler.ListMine)

	shopOrderHandler := handlers.NewShopOrderHandler(deps.Order)
	api.GET("/shops/:id/orders", owner, shopOrderHandler.ListForShop)
	api.POST("/shop-orders/:id/status", shopOrderHandler.Advance)

	courierHandler := handlers.NewCourierHandler(deps.Order)
	api.GET("/couriers/open-requests", courier, courierHandler.OpenRequests)
	api.GET("/couriers/me/assignments", courier, courierHandler.Assignments)
	api.POST("/shop-orders/:id/claim", courier, courierHandler.Claim)

	wsHandler := handlers.NewWSHandler(deps.Broker, deps.Log)
	r.GET("/ws", auth, wsHandler.Serve)

	return r
}
