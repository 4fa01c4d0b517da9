// README: HTTP fetcher and WebSocket event source for the reconciler.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"foodrun/internal/modules/notify"
	"foodrun/internal/modules/order"
	"foodrun/internal/types"
)

// HTTPFetcher pulls the actor's full state from the REST read paths.
type HTTPFetcher struct {
	baseURL    string
	token      string
	actor      order.Actor
	shopID     types.ID
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPFetcher(baseURL, token string, actor order.Actor, shopID types.ID, logger *logrus.Logger) *HTTPFetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		actor:   actor,
		shopID:  shopID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	switch f.actor.Role {
	case order.RoleCustomer:
		var resp struct {
			Orders []order.OrderView `json:"orders"`
		}
		if err := f.get(ctx, "/api/customers/me/orders", &resp); err != nil {
			return snap, err
		}
		snap.Orders = resp.Orders

	case order.RoleOwner:
		if f.shopID == "" {
			return snap, errors.New("owner fetch needs a shop id")
		}
		var resp struct {
			ShopOrders []order.ShopOrderView `json:"shop_orders"`
		}
		if err := f.get(ctx, "/api/shops/"+string(f.shopID)+"/orders", &resp); err != nil {
			return snap, err
		}
		snap.ShopOrders = resp.ShopOrders

	case order.RoleCourier:
		var mine, open struct {
			ShopOrders []order.ShopOrderView `json:"shop_orders"`
		}
		if err := f.get(ctx, "/api/couriers/me/assignments", &mine); err != nil {
			return snap, err
		}
		if err := f.get(ctx, "/api/couriers/open-requests", &open); err != nil {
			return snap, err
		}
		snap.ShopOrders = mine.ShopOrders
		snap.Open = open.ShopOrders

	default:
		return snap, fmt.Errorf("unknown role %q", f.actor.Role)
	}

	f.logger.WithFields(logrus.Fields{
		"role":        f.actor.Role,
		"orders":      len(snap.Orders),
		"shop_orders": len(snap.ShopOrders),
		"open":        len(snap.Open),
	}).Debug("fetched snapshot")
	return snap, nil
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// WSSource dials the /ws endpoint; each connection is one Stream.
type WSSource struct {
	url    string
	token  string
	dialer *websocket.Dialer
}

func NewWSSource(url, token string) *WSSource {
	return &WSSource{
		url:   url,
		token: token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (s *WSSource) Connect(ctx context.Context) (Stream, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", s.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
}

// Next blocks until an event arrives. The server pings periodically and
// the default ping handler answers, so no read deadline is set here.
func (w *wsStream) Next(ctx context.Context) (*notify.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var evt notify.Event
	if err := w.conn.ReadJSON(&evt); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, errStreamClosed
		}
		return nil, err
	}
	return &evt, nil
}

func (w *wsStream) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
