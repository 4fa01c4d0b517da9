// README: Terminal client; keeps a reconciled view of one actor's orders and prints changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"foodrun/internal/infra"
	"foodrun/internal/modules/order"
	"foodrun/internal/reconcile"
	"foodrun/internal/types"
)

func main() {
	var (
		baseURL = flag.String("base-url", envOrDefault("FOODRUN_BASE_URL", "http://localhost:8080"), "API base URL")
		token   = flag.String("token", os.Getenv("FOODRUN_TOKEN"), "bearer token (dev mode: <role>:<uid>)")
		role    = flag.String("role", "", "actor role: customer, owner or courier")
		uid     = flag.String("uid", "", "actor id")
		shopID  = flag.String("shop", "", "shop id (owners only)")
		every   = flag.Duration("refetch", reconcile.DefaultRefetchInterval, "full refetch interval")
	)
	flag.Parse()

	log := infra.NewLogger(envOrDefault("FOODRUN_ENV", "development"))
	actor := order.Actor{ID: types.ID(*uid), Role: order.Role(*role)}
	if !actor.Role.Valid() || actor.ID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "usage: watch -role <customer|owner|courier> -uid <id> -token <token> [-shop <id>]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*baseURL, "/"), "http") + "/ws"
	cache := reconcile.NewCache(actor)
	r := reconcile.New(cache,
		reconcile.NewHTTPFetcher(*baseURL, *token, actor, types.ID(*shopID), log),
		reconcile.NewWSSource(wsURL, *token),
		log,
	)
	r.SetRefetchInterval(*every)
	r.OnChange = func() { render(actor, cache) }

	if err := r.Run(ctx); err != nil {
		log.WithError(err).Fatal("watch stopped")
	}
}

func render(actor order.Actor, cache *reconcile.Cache) {
	fmt.Printf("\n== %s %s @ %s ==\n", actor.Role, actor.ID, time.Now().Format(time.TimeOnly))
	if actor.Role == order.RoleCustomer {
		for _, o := range cache.Orders() {
			fmt.Printf("order %s  %s\n", o.ID, o.Status)
			for _, so := range o.ShopOrders {
				printShopOrder("  ", so)
			}
		}
		return
	}
	for _, so := range cache.ShopOrders() {
		printShopOrder("", so)
	}
	if actor.Role == order.RoleCourier {
		open := cache.OpenRequests()
		fmt.Printf("-- %d open requests --\n", len(open))
		for _, so := range open {
			printShopOrder("  ", so)
		}
	}
}

func printShopOrder(indent string, so order.ShopOrderView) {
	courier := "-"
	if so.Courier != nil {
		courier = string(so.Courier.ID)
	}
	fmt.Printf("%sshop order %s  shop=%s  %-16s courier=%s total=%d %s\n",
		indent, so.ID, so.ShopID, so.Status, courier, so.Total.Amount, so.Total.Currency)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
