// README: Benchmark cases; checks the dispatch flow, claim races and throughput over HTTP, DB and Redis.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	run  string
	flow flowState
}

// flowState carries ids between the sequential flow cases.
type flowState struct {
	orderID     string
	shopOrderID string
	winner      string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

// Summary tallies case outcomes.
type Summary struct {
	Pass, Fail, Skip int
}

func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case "PASS":
			s.Pass++
		case "FAIL":
			s.Fail++
		case "SKIP":
			s.Skip++
		}
	}
	return s
}

func (s Summary) Failed(strict bool) bool {
	return s.Fail > 0 || (strict && s.Skip > 0)
}

func (s Summary) String() string {
	return fmt.Sprintf("PASS=%d FAIL=%d SKIP=%d", s.Pass, s.Fail, s.Skip)
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) customer() string { return "Bearer customer:bench-cust-" + r.run }
func (r *Runner) owner() string    { return "Bearer owner:bench-owner-" + r.run }
func (r *Runner) shop() string     { return "bench-shop-" + r.run }
func (r *Runner) courierID(i int) string {
	return fmt.Sprintf("bench-c%d-%s", i, r.run)
}
func (r *Runner) courier(i int) string { return "Bearer courier:" + r.courierID(i) }

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "tables from migrations/0001_init.sql",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "API answers",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
			},
		},

		// Placement
		{
			Name:  "Order: place (valid)",
			Focus: "customer places a one-shop order",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				status, body, err := r.call(ctx, http.MethodPost, "/api/orders", r.customer(), r.placeBody())
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if status != http.StatusCreated {
					return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", status)}
				}
				var o struct {
					ID         string `json:"id"`
					ShopOrders []struct {
						ID string `json:"id"`
					} `json:"shop_orders"`
				}
				if err := json.Unmarshal(body, &o); err != nil || len(o.ShopOrders) != 1 {
					return Result{Status: "FAIL", Note: "unexpected body"}
				}
				r.flow.orderID = o.ID
				r.flow.shopOrderID = o.ShopOrders[0].ID
				return Result{Status: "PASS", Latency: time.Since(start), Note: "shop_order=" + o.ShopOrders[0].ID}
			},
		},
		{
			Name:  "Order: place (no shops -> 400)",
			Focus: "validation",
			Run: func(ctx context.Context, r *Runner) Result {
				body := r.placeBody()
				body["shops"] = []any{}
				return r.expect(ctx, http.MethodPost, "/api/orders", r.customer(), body, http.StatusBadRequest)
			},
		},
		{
			Name:  "Order: unauthenticated -> 401",
			Focus: "auth",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.expect(ctx, http.MethodPost, "/api/orders", "", r.placeBody(), http.StatusUnauthorized)
			},
		},

		// Transitions
		r.flowCase("Status: customer cannot advance -> 403", func(ctx context.Context, r *Runner) Result {
			return r.advance(ctx, r.customer(), "pending", http.StatusForbidden)
		}),
		r.flowCase("Status: owner created -> pending", func(ctx context.Context, r *Runner) Result {
			return r.advance(ctx, r.owner(), "pending", http.StatusOK)
		}),
		r.flowCase("Status: owner pending -> preparing (opens job)", func(ctx context.Context, r *Runner) Result {
			return r.advance(ctx, r.owner(), "preparing", http.StatusOK)
		}),
		r.flowCase("Status: ready before claim -> 412", func(ctx context.Context, r *Runner) Result {
			return r.advance(ctx, r.owner(), "ready_for_pickup", http.StatusPreconditionFailed)
		}),

		// Claim race
		r.flowCase("Concurrency: N couriers claim one job", func(ctx context.Context, r *Runner) Result {
			return r.claimRace(ctx)
		}),
		r.flowCase("Cancel: after claim -> 409", func(ctx context.Context, r *Runner) Result {
			return r.advance(ctx, r.owner(), "cancelled", http.StatusConflict)
		}),
		r.flowCase("Delivery: winner completes the job", func(ctx context.Context, r *Runner) Result {
			if r.flow.winner == "" {
				return Result{Status: "SKIP", Note: "no winner"}
			}
			winner := "Bearer courier:" + r.flow.winner
			steps := []struct{ tok, status string }{
				{r.owner(), "ready_for_pickup"},
				{winner, "out_for_delivery"},
				{winner, "delivered"},
			}
			start := time.Now()
			for _, s := range steps {
				if res := r.advance(ctx, s.tok, s.status, http.StatusOK); res.Status != "PASS" {
					res.Note = s.status + ": " + res.Note
					return res
				}
			}
			return Result{Status: "PASS", Latency: time.Since(start)}
		}),
		r.flowCase("Delivery: aggregate is delivered", func(ctx context.Context, r *Runner) Result {
			status, body, err := r.call(ctx, http.MethodGet, "/api/orders/"+r.flow.orderID, r.customer(), nil)
			if err != nil || status != http.StatusOK {
				return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d err=%v", status, err)}
			}
			var o struct {
				Status string `json:"status"`
			}
			_ = json.Unmarshal(body, &o)
			if o.Status != "delivered" {
				return Result{Status: "FAIL", Note: "aggregate=" + o.Status}
			}
			return Result{Status: "PASS"}
		}),
		r.flowCase("Consistency: history and version", func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: "SKIP", Note: "db not configured"}
			}
			var events, version int
			err := r.db.QueryRow(ctx, "SELECT count(*) FROM shop_order_events WHERE shop_order_id=$1", r.flow.shopOrderID).Scan(&events)
			if err == nil {
				err = r.db.QueryRow(ctx, "SELECT version FROM shop_orders WHERE id=$1", r.flow.shopOrderID).Scan(&version)
			}
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			// created plus six transitions; each transition bumps the version.
			if events != 7 || version != 6 {
				return Result{Status: "FAIL", Note: fmt.Sprintf("events=%d version=%d", events, version)}
			}
			return Result{Status: "PASS", Note: fmt.Sprintf("events=%d version=%d", events, version)}
		}),
		{
			Name:  "Concurrency: cancel vs claim",
			Focus: "never both succeed",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.cancelVsClaim(ctx)
			},
		},

		// Performance
		{
			Name:  "Perf: place order throughput",
			Focus: "orders per second",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.perfLoad(ctx, "/api/orders", r.customer(), r.placeBody())
			},
		},
	}
}

// flowCase skips when the placement case did not produce a shop order.
func (r *Runner) flowCase(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{
		Name:  name,
		Focus: "flow",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.flow.shopOrderID == "" {
				return Result{Status: "SKIP", Note: "no shop order placed"}
			}
			return run(ctx, r)
		},
	}
}

func (r *Runner) placeBody() map[string]any {
	return map[string]any{
		"address": map[string]any{
			"name": "Bench", "line": "1 Test Street", "city": "Bengaluru", "mobile": "9800000000",
		},
		"payment_method": "cod",
		"shops": []map[string]any{{
			"shop_id":      r.shop(),
			"owner_id":     "bench-owner-" + r.run,
			"items":        []map[string]any{{"catalog_item_id": "idli", "name": "Idli", "quantity": 3, "price": 4000}},
			"delivery_fee": 2500,
			"tax":          600,
		}},
	}
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	start := time.Now()
	status, _, err := r.call(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	latency := time.Since(start)
	if status != want {
		return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", status)}
}

func (r *Runner) advance(ctx context.Context, token, status string, want int) Result {
	return r.expect(ctx, http.MethodPost, "/api/shop-orders/"+r.flow.shopOrderID+"/status", token,
		map[string]any{"status": status}, want)
}

func (r *Runner) claimRace(ctx context.Context) Result {
	n := r.cfg.Concurrency
	var won, lost, other atomic.Int32
	winners := make([]string, n)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			status, body, err := r.call(gctx, http.MethodPost, "/api/shop-orders/"+r.flow.shopOrderID+"/claim", r.courier(i), nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				won.Add(1)
				winners[i] = r.courierID(i)
			case http.StatusConflict:
				var lostBody struct {
					Error string `json:"error"`
				}
				if json.Unmarshal(body, &lostBody) == nil && lostBody.Error == "already_claimed" {
					lost.Add(1)
				} else {
					other.Add(1)
				}
			default:
				other.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	latency := time.Since(start)

	note := fmt.Sprintf("won=%d lost=%d other=%d", won.Load(), lost.Load(), other.Load())
	if won.Load() != 1 || lost.Load() != int32(n-1) {
		return Result{Status: "FAIL", Latency: latency, Note: note}
	}
	for _, w := range winners {
		if w != "" {
			r.flow.winner = w
		}
	}
	return Result{Status: "PASS", Latency: latency, Note: note}
}

// cancelVsClaim places a fresh order, opens it and races a cancel against a claim.
func (r *Runner) cancelVsClaim(ctx context.Context) Result {
	status, body, err := r.call(ctx, http.MethodPost, "/api/orders", r.customer(), r.placeBody())
	if err != nil || status != http.StatusCreated {
		return Result{Status: "FAIL", Note: fmt.Sprintf("place: status=%d err=%v", status, err)}
	}
	var o struct {
		ShopOrders []struct {
			ID string `json:"id"`
		} `json:"shop_orders"`
	}
	if err := json.Unmarshal(body, &o); err != nil || len(o.ShopOrders) == 0 {
		return Result{Status: "FAIL", Note: "unexpected body"}
	}
	id := o.ShopOrders[0].ID
	for _, st := range []string{"pending", "preparing"} {
		if s, _, err := r.call(ctx, http.MethodPost, "/api/shop-orders/"+id+"/status", r.owner(), map[string]any{"status": st}); err != nil || s != http.StatusOK {
			return Result{Status: "FAIL", Note: fmt.Sprintf("%s: status=%d err=%v", st, s, err)}
		}
	}

	var cancelStatus, claimStatus int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		cancelStatus, _, err = r.call(gctx, http.MethodPost, "/api/shop-orders/"+id+"/status", r.owner(), map[string]any{"status": "cancelled"})
		return err
	})
	g.Go(func() (err error) {
		claimStatus, _, err = r.call(gctx, http.MethodPost, "/api/shop-orders/"+id+"/claim", r.courier(0), nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	note := fmt.Sprintf("cancel=%d claim=%d", cancelStatus, claimStatus)
	if (cancelStatus == http.StatusOK) == (claimStatus == http.StatusOK) {
		return Result{Status: "FAIL", Note: note}
	}
	return Result{Status: "PASS", Note: note}
}

func (r *Runner) perfLoad(ctx context.Context, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for time.Now().Before(end) && gctx.Err() == nil {
				status, _, err := r.call(gctx, http.MethodPost, path, token, payload)
				if err != nil || status >= 400 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
