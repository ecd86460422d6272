// Command rebaserd serves rebase requests over a pub/sub transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wsgraph/cache"
	"wsgraph/persistence"
	"wsgraph/rebaser"
	"wsgraph/workspace"
)

// Config holds the daemon settings.
type Config struct {
	MetricsPort    int
	Transport      string // memory, redis, gossip
	Backend        string // memory, redis
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisCache     bool
	BadgerDir      string
	RequestTopic   string
	MovedTopic     string
	ListenAddrs    string
	BootstrapPeers string
	EnableDHT      bool
	IDNode         int64
	Debug          bool
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// loadConfig reads .env (if any), then flags defaulting to the environment.
func loadConfig(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	fs := flag.NewFlagSet("rebaserd", flag.ContinueOnError)
	fs.IntVar(&cfg.MetricsPort, "metrics-port", envInt("WSGRAPH_METRICS_PORT", 9464), "Prometheus metrics port (0 disables)")
	fs.StringVar(&cfg.Transport, "transport", envOr("WSGRAPH_TRANSPORT", "redis"), "Pub/sub transport: memory, redis or gossip")
	fs.StringVar(&cfg.Backend, "backend", envOr("WSGRAPH_BACKEND", persistence.BackendRedis), "Persistence backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis", envOr("WSGRAPH_REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", envOr("WSGRAPH_REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", envInt("WSGRAPH_REDIS_DB", 0), "Redis database")
	fs.BoolVar(&cfg.RedisCache, "redis-cache", envBool("WSGRAPH_REDIS_CACHE", false), "Add Redis as a shared content cache tier")
	fs.StringVar(&cfg.BadgerDir, "badger-dir", envOr("WSGRAPH_BADGER_DIR", ""), "Directory of the local badger cache tier (empty disables)")
	fs.StringVar(&cfg.RequestTopic, "request-topic", envOr("WSGRAPH_REQUEST_TOPIC", rebaser.DefaultRequestTopic), "Rebase request topic")
	fs.StringVar(&cfg.MovedTopic, "moved-topic", envOr("WSGRAPH_MOVED_TOPIC", rebaser.DefaultMovedTopic), "Change set announcement topic")
	fs.StringVar(&cfg.ListenAddrs, "listen", envOr("WSGRAPH_LISTEN", "/ip4/0.0.0.0/tcp/0"), "Comma separated libp2p listen addresses")
	fs.StringVar(&cfg.BootstrapPeers, "bootstrap", envOr("WSGRAPH_BOOTSTRAP", ""), "Comma separated bootstrap peer multiaddrs")
	fs.BoolVar(&cfg.EnableDHT, "dht", envBool("WSGRAPH_DHT", false), "Discover gossip peers through kad-dht")
	fs.Int64Var(&cfg.IDNode, "id-node", int64(envInt("WSGRAPH_ID_NODE", 1)), "Snowflake node number")
	fs.BoolVar(&cfg.Debug, "debug", envBool("WSGRAPH_DEBUG", false), "Enable debug logging")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) workspaceConfig() workspace.Config {
	wc := workspace.DefaultConfig()
	wc.IDNode = cfg.IDNode
	wc.Persistence = persistence.Config{
		Backend:       cfg.Backend,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}
	if cfg.BadgerDir != "" {
		wc.BadgerCache = true
		wc.BadgerDir = cfg.BadgerDir
	}
	if cfg.RedisCache {
		wc.RedisCacheAddr = cfg.RedisAddr
	}
	return wc
}

// openTransport returns the configured pub/sub and a func releasing it.
func openTransport(ctx context.Context, cfg Config) (rebaser.PubSub, func() error, error) {
	switch cfg.Transport {
	case "memory":
		ps := rebaser.NewMemoryPubSub()
		return ps, ps.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ps, err := rebaser.NewRedisPubSub(client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return ps, func() error { return errors.Join(ps.Close(), client.Close()) }, nil
	case "gossip":
		opts := rebaser.DefaultGossipOptions()
		opts.ListenAddrs = splitList(cfg.ListenAddrs)
		opts.BootstrapPeers = splitList(cfg.BootstrapPeers)
		opts.EnableDHT = cfg.EnableDHT
		ps, err := rebaser.NewGossipPubSub(ctx, opts)
		if err != nil {
			return nil, nil, err
		}
		return ps, ps.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func run(ctx context.Context, cfg Config, log *zap.Logger) error {
	services, err := workspace.New(ctx, cfg.workspaceConfig())
	if err != nil {
		return err
	}
	defer services.Close()

	ps, closeTransport, err := openTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	server := rebaser.NewServer(services, ps, log, &rebaser.ServerOptions{
		RequestTopic: cfg.RequestTopic,
		MovedTopic:   cfg.MovedTopic,
		SubscriberID: fmt.Sprintf("rebaserd-%d", cfg.IDNode),
	})
	if err := server.Start(ctx); err != nil {
		return err
	}

	var metrics *http.Server
	if cfg.MetricsPort > 0 {
		registry := prometheus.NewRegistry()
		registry.MustRegister(rebaser.Collectors()...)
		registry.MustRegister(cache.Collectors()...)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metrics = &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.Int("port", cfg.MetricsPort))
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metrics != nil {
		_ = metrics.Shutdown(shutdownCtx)
	}
	return server.Stop(shutdownCtx)
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	log, err := rebaser.NewLogger(cfg.Debug, level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()
	if err := logging.SetLogLevel("*", level); err != nil {
		log.Warn("failed to set library log level", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("rebaserd failed", zap.Error(err))
	}
}
