// README: Integration tests for order handlers, authorization and error mapping.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "foodrun/internal/http"
	"foodrun/internal/infra"
	"foodrun/internal/modules/board"
	"foodrun/internal/modules/notify"
	"foodrun/internal/modules/order"
)

const (
	customerTok = "Bearer customer:cust1"
	otherCust   = "Bearer customer:cust2"
	ownerTok    = "Bearer owner:owner1"
	courierA    = "Bearer courier:c1:Ravi"
	courierB    = "Bearer courier:c2:Asha"
)

type testApp struct {
	engine *gin.Engine
	broker *notify.Broker
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// buildTestApp wires the real router over an in-memory store with dev tokens.
func buildTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := quietLogger()

	bd := board.NewMemory()
	store := order.NewMemoryStore()
	broker := notify.NewBroker(log, notify.WithBoard(bd))
	dispatcher := notify.NewDispatcher(notify.NewRouter(bd, log, notify.WithOrders(store)), log, 64, broker)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = dispatcher.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := order.NewService(store,
		order.WithLogger(log),
		order.WithPublisher(dispatcher),
		order.WithBoard(bd),
	)
	engine := httptransport.NewRouter(httptransport.RouterDeps{
		Order:    svc,
		Broker:   broker,
		Verifier: infra.DevVerifier{},
		Log:      log,
	})
	return &testApp{engine: engine, broker: broker}
}

func doRequest(r http.Handler, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func placeBody(shops ...string) map[string]any {
	var carts []map[string]any
	for _, s := range shops {
		carts = append(carts, map[string]any{
			"shop_id":      s,
			"owner_id":     "owner1",
			"items":        []map[string]any{{"catalog_item_id": "dosa", "name": "Masala Dosa", "quantity": 2, "price": 12000}},
			"delivery_fee": 3000,
			"tax":          500,
		})
	}
	return map[string]any{
		"address": map[string]any{
			"name": "Meera", "line": "12 MG Road", "city": "Bengaluru", "mobile": "9800000000",
		},
		"payment_method": "cod",
		"shops":          carts,
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func place(t *testing.T, app *testApp, shops ...string) order.OrderView {
	t.Helper()
	w := doRequest(app.engine, http.MethodPost, "/api/orders", placeBody(shops...), customerTok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[order.OrderView](t, w)
}

func advance(app *testApp, id, status, tok string) *httptest.ResponseRecorder {
	return doRequest(app.engine, http.MethodPost, "/api/shop-orders/"+id+"/status", map[string]any{"status": status}, tok)
}

func claim(app *testApp, id, tok string) *httptest.ResponseRecorder {
	return doRequest(app.engine, http.MethodPost, "/api/shop-orders/"+id+"/claim", nil, tok)
}

func TestCreate_Unauthenticated(t *testing.T) {
	app := buildTestApp(t)
	w := doRequest(app.engine, http.MethodPost, "/api/orders", placeBody("shop1"), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreate_RequiresCustomerRole(t *testing.T) {
	app := buildTestApp(t)
	w := doRequest(app.engine, http.MethodPost, "/api/orders", placeBody("shop1"), courierA)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreate_Validation(t *testing.T) {
	app := buildTestApp(t)
	body := placeBody("shop1")
	body["shops"] = []map[string]any{}
	w := doRequest(app.engine, http.MethodPost, "/api/orders", body, customerTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = placeBody("shop1")
	body["payment_method"] = "barter"
	w = doRequest(app.engine, http.MethodPost, "/api/orders", body, customerTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = placeBody("shop1")
	body["shops"].([]map[string]any)[0]["items"] = []map[string]any{
		{"catalog_item_id": "dosa", "name": "Masala Dosa", "quantity": 4, "price": int64(1) << 62},
	}
	w = doRequest(app.engine, http.MethodPost, "/api/orders", body, customerTok)
	assert.Equal(t, http.StatusBadRequest, w.Code, "price beyond the per-item limit")
}

func TestCreateAndGet(t *testing.T) {
	app := buildTestApp(t)
	o := place(t, app, "shop1", "shop2")
	require.Len(t, o.ShopOrders, 2)
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, int64(2*12000+3000+500), o.ShopOrders[0].Total.Amount)

	w := doRequest(app.engine, http.MethodGet, "/api/orders/"+string(o.ID), nil, customerTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, o.ID, decode[order.OrderView](t, w).ID)

	w = doRequest(app.engine, http.MethodGet, "/api/orders/"+string(o.ID), nil, otherCust)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(app.engine, http.MethodGet, "/api/orders/0123456789abcdef0123456789abcdef", nil, customerTok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(app.engine, http.MethodGet, "/api/orders/not-an-id!", nil, customerTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(app.engine, http.MethodGet, "/api/customers/me/orders", nil, customerTok)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Orders []order.OrderView `json:"orders"`
	}](t, w)
	assert.Len(t, list.Orders, 1)
}

func TestDeliveryFlowAndErrorMapping(t *testing.T) {
	app := buildTestApp(t)
	o := place(t, app, "shop1")
	id := string(o.ShopOrders[0].ID)

	// Customers cannot drive the shop side.
	w := advance(app, id, "pending", customerTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Equal(t, http.StatusOK, advance(app, id, "pending", ownerTok).Code)

	// Claiming before the owner accepts the order is not possible.
	w = claim(app, id, courierA)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[map[string]any](t, w)["error"])

	require.Equal(t, http.StatusOK, advance(app, id, "preparing", ownerTok).Code)

	// Ready for pickup needs a courier.
	w = advance(app, id, "ready_for_pickup", ownerTok)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, w.Body.String(), "assign a courier")

	w = doRequest(app.engine, http.MethodGet, "/api/couriers/open-requests", nil, courierA)
	require.Equal(t, http.StatusOK, w.Code)
	open := decode[struct {
		ShopOrders []order.ShopOrderView `json:"shop_orders"`
	}](t, w)
	require.Len(t, open.ShopOrders, 1)

	w = claim(app, id, courierA)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	won := decode[order.ShopOrderView](t, w)
	assert.Equal(t, order.StatusAccepted, won.Status)
	require.NotNil(t, won.Courier)
	assert.Equal(t, "Ravi", won.Courier.Name)

	w = claim(app, id, courierB)
	require.Equal(t, http.StatusConflict, w.Code)
	lost := decode[struct {
		Error   string        `json:"error"`
		Courier order.Courier `json:"courier"`
	}](t, w)
	assert.Equal(t, "already_claimed", lost.Error)
	assert.Equal(t, "c1", string(lost.Courier.ID))

	w = advance(app, id, "cancelled", ownerTok)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "can no longer be cancelled")

	require.Equal(t, http.StatusOK, advance(app, id, "ready_for_pickup", ownerTok).Code)
	assert.Equal(t, http.StatusForbidden, advance(app, id, "out_for_delivery", courierB).Code)
	require.Equal(t, http.StatusOK, advance(app, id, "out_for_delivery", courierA).Code)
	require.Equal(t, http.StatusOK, advance(app, id, "delivered", courierA).Code)

	w = advance(app, id, "out_for_delivery", courierA)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = advance(app, id, "teleported", courierA)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(app.engine, http.MethodGet, "/api/couriers/me/assignments", nil, courierA)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[struct {
		ShopOrders []order.ShopOrderView `json:"shop_orders"`
	}](t, w)
	require.Len(t, mine.ShopOrders, 1)
	assert.Equal(t, order.StatusDelivered, mine.ShopOrders[0].Status)

	w = doRequest(app.engine, http.MethodGet, "/api/orders/"+string(o.ID), nil, customerTok)
	assert.Equal(t, order.StatusDelivered, decode[order.OrderView](t, w).Status)
}

func TestShopListing(t *testing.T) {
	app := buildTestApp(t)
	place(t, app, "shop1")

	w := doRequest(app.engine, http.MethodGet, "/api/shops/shop1/orders", nil, ownerTok)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		ShopOrders []order.ShopOrderView `json:"shop_orders"`
	}](t, w)
	assert.Len(t, list.ShopOrders, 1)

	assert.Equal(t, http.StatusForbidden, doRequest(app.engine, http.MethodGet, "/api/shops/shop1/orders", nil, "Bearer owner:intruder").Code)
	assert.Equal(t, http.StatusForbidden, doRequest(app.engine, http.MethodGet, "/api/shops/shop1/orders", nil, courierA).Code)
}

func TestHealth(t *testing.T) {
	app := buildTestApp(t)
	w := doRequest(app.engine, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fanout")
}

func TestWebSocketReceivesStatusEvents(t *testing.T) {
	app := buildTestApp(t)
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?access_token=owner:owner1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return app.broker.Stats().Subscribers == 1 }, time.Second, 5*time.Millisecond)

	o := place(t, app, "shop1")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt notify.Event
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, notify.KindStatus, evt.Kind)
	assert.Equal(t, o.ShopOrders[0].ID, evt.ShopOrderID)
	assert.Equal(t, order.StatusCreated, evt.Status)
}
