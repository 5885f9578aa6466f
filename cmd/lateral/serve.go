package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/lateral"
	"github.com/unkn0wn-root/lateral/endpoint/local"
	redisep "github.com/unkn0wn-root/lateral/endpoint/redis"
	asynchook "github.com/unkn0wn-root/lateral/hooks/async"
	zaplog "github.com/unkn0wn-root/lateral/log/zap"
	"github.com/unkn0wn-root/lateral/metrics"
	"github.com/unkn0wn-root/lateral/sloghooks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a lateral node",
	Long: `Runs a node that keeps a local copy of every configured region,
replicates writes to the region's peers and applies writes published
to the redis address given by redis.subscribe.`,
}

func init() {
	serveCmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	}
	key := "listen"
	serveCmd.Flags().String(key, ":8080", wrap("HTTP address for the region API and /stats"))
}

func serve(ctx context.Context) error {
	zl, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync() //nolint:errcheck
	log := zaplog.New(zl)

	c, err := newCodec(cfg.Codec)
	if err != nil {
		return err
	}
	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	node := local.New[string](store, c, local.Options{NodeID: cfg.NodeID, Logger: log})
	defer node.Close(context.Background()) //nolint:errcheck

	var (
		hooks lateral.Hooks
		mh    *metrics.Hooks
	)
	if cfg.MetricsAddr != "" {
		mh = metrics.New()
		ah := asynchook.New(mh, 1, 1024)
		defer ah.Close()
		hooks = ah
	} else {
		hooks = sloghooks.New(slog.Default(), sloghooks.Options{OverflowEvery: 100, DroppedEvery: 100})
	}

	opts := lateral.Options[string]{
		Dialer:  redisep.Dialer[string](c, redisep.Options{Redis: redisOptions(cfg), Publish: cfg.Redis.Publish}),
		NodeID:  node.ID(),
		Logger:  log,
		Hooks:   hooks,
		Monitor: cfg.MonitorOptions(),
	}
	if cfg.Redis.Subscribe != "" {
		o := redisOptions(cfg)
		o.Addr = cfg.Redis.Subscribe
		rdb := goredis.NewClient(o)
		defer rdb.Close()
		sub, err := redisep.Subscribe(ctx, rdb, node, log)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.Redis.Subscribe, err)
		}
		opts.Listener = sub
	}

	m, err := lateral.NewManager(opts)
	if err != nil {
		return err
	}
	for _, attrs := range cfg.Regions {
		attrs.Receive = attrs.Receive || opts.Listener != nil
		if _, err := m.Region(ctx, attrs); err != nil {
			_ = m.Close(context.Background())
			return err
		}
		zl.Info("region configured", zap.String("region", attrs.Region), zap.Strings("peers", attrs.Peers))
	}

	api := &regionAPI{m: m, node: node}
	mux := http.NewServeMux()
	api.register(mux)
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, m.Stats().String()+"\n"+node.Stats().String()+"\n")
	})

	listen, _ := serveCmd.Flags().GetString("listen")
	servers := []*http.Server{{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}}
	if mh != nil {
		mm := http.NewServeMux()
		mm.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
			mh.WritePrometheus(w, true)
		})
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: mm, ReadHeaderTimeout: 5 * time.Second})
	}
	errc := make(chan error, len(servers))
	for _, srv := range servers {
		go func() { errc <- srv.ListenAndServe() }()
	}
	zl.Info("lateral node started", zap.Uint64("node_id", node.ID()), zap.String("listen", listen))

	select {
	case <-ctx.Done():
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdown)
	}
	if cerr := m.Close(shutdown); cerr != nil {
		zl.Warn("manager close", zap.Error(cerr))
	}
	zl.Info("lateral node stopped")
	return err
}
