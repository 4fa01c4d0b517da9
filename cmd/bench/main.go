// README: Bench entry point; runs the dispatch checks against an API started in dev auth mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"foodrun/internal/config"
)

// Config holds the bench knobs; store addresses come from the API's own config.
type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
}

func main() {
	app, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("bench reads the API config; run it against a dev-mode setup")
	}
	if app.Auth.Mode != "dev" {
		logrus.Fatal("bench needs FOODRUN_AUTH_MODE=dev to mint bearer tokens")
	}

	cfg := Config{DSN: app.DB.DSN, RedisAddr: app.Redis.Addr}
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	fs.StringVar(&cfg.BaseURL, "base-url", "http://localhost"+app.HTTP.Addr, "API base URL")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Postgres DSN")
	fs.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address")
	fs.StringVar(&cfg.MigrationPath, "migration", "migrations/0001_init.sql", "Migration SQL path")
	fs.BoolVar(&cfg.ApplyMigration, "apply-migration", false, "Apply migration SQL before the cases")
	fs.BoolVar(&cfg.Strict, "strict", false, "Treat skipped cases as failures")
	fs.DurationVar(&cfg.Timeout, "timeout", time.Minute, "Total timeout")
	fs.IntVar(&cfg.Concurrency, "concurrency", 20, "Concurrent couriers / workers")
	fs.DurationVar(&cfg.Duration, "duration", 10*time.Second, "Duration of the load case")
	_ = fs.Parse(os.Args[1:])
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	sum := Summarize(NewRunner(cfg).RunAll(ctx))
	fmt.Printf("\n%s\n", sum)
	if sum.Failed(cfg.Strict) {
		os.Exit(1)
	}
}
