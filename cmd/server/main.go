package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/gnomegg/chatd/pkg/logging"
	"github.com/gnomegg/chatd/pkg/server"
	"github.com/gnomegg/chatd/pkg/store"
)

func main() {
	// .env is optional; flags and the config file win over it.
	_ = godotenv.Load()

	cfg := server.DefaultConfig()
	if addr := os.Getenv("CHATD_REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}

	configFile := flag.String("config", "", "YAML config file (flags override it)")
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP bind address for chat clients")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for moderation state (empty = SQLite only)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.BoolVar(&cfg.SubOnly, "subonly", cfg.SubOnly, "Start with subscriber-only mode on")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	flag.Parse()

	// Configure structured logging
	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if *configFile != "" {
		loaded, err := server.LoadConfig(*configFile)
		if err != nil {
			slog.Error("load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
		// Re-apply flags so they win over the file.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "listen":
				cfg.ListenAddr = f.Value.String()
			case "db":
				cfg.DBPath = f.Value.String()
			case "redis":
				cfg.RedisAddr = f.Value.String()
			case "metrics":
				cfg.MetricsAddr = f.Value.String()
			case "subonly":
				cfg.SubOnly = f.Value.String() == "true"
			}
		})
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}

	db, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	deps := server.Dependencies{Repo: db, Directory: db}

	// With Redis configured, moderation entries live there (and expire via
	// TTL); the account directory stays in SQLite either way.
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: os.Getenv("CHATD_REDIS_PASSWORD"),
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("connect redis", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		deps.Repo = store.NewRedis(client)
		slog.Info("moderation state backed by redis", "addr", cfg.RedisAddr)
	}

	srv := server.New(cfg, deps)
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
