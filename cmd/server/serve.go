package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alochat/realtime/internal/auth"
	"github.com/alochat/realtime/internal/config"
	"github.com/alochat/realtime/internal/dispatch"
	"github.com/alochat/realtime/internal/friends"
	"github.com/alochat/realtime/internal/gateway"
	"github.com/alochat/realtime/internal/httpapi"
	"github.com/alochat/realtime/internal/logging"
	"github.com/alochat/realtime/internal/message"
	"github.com/alochat/realtime/internal/metrics"
	"github.com/alochat/realtime/internal/presence"
	"github.com/alochat/realtime/internal/registry"
	"github.com/alochat/realtime/internal/store"
	"github.com/alochat/realtime/internal/store/memory"
	"github.com/alochat/realtime/internal/store/mongostore"
	"github.com/alochat/realtime/internal/store/rediscache"
	"github.com/alochat/realtime/internal/typing"
	"github.com/alochat/realtime/internal/worker"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			zap.ReplaceGlobals(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// conversations pairs the (possibly cached) conversation store with the
// message store for the message handler.
type conversations struct {
	store.ConversationStore
	store.MessageStore
}

// typingStore pairs the (possibly cached) membership lookups with user records.
type typingStore struct {
	store.ConversationStore
	store.UserStore
}

// app is the assembled engine.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	store    store.Store
	redis    *redis.Client
	registry *registry.Registry
	pool     *worker.Pool
	gateway  *gateway.Gateway
	http     *http.Server
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == config.DriverMemory {
		log.Warn("using the in-memory store; records are lost on exit")
		return memory.New(), nil
	}
	st, err := mongostore.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// build wires every component. On error, anything already opened is closed.
func build(ctx context.Context, cfg config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.closeBackends()
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	verifier, err := auth.New(cfg.Auth)
	if err != nil {
		return nil, err
	}

	if a.store, err = openStore(ctx, cfg, log); err != nil {
		return nil, err
	}

	var convs store.ConversationStore = a.store
	var invalidator httpapi.Invalidator
	if cfg.Redis.Addr != "" {
		if a.redis, err = rediscache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			return nil, err
		}
		cache := rediscache.New(a.store, a.redis, cfg.Redis.MembershipTTL, log)
		convs, invalidator = cache, cache
	}

	a.registry = registry.New(log, m)
	a.pool = worker.New(cfg.Fanout.Workers, cfg.Fanout.Queue, log, m)
	pres := presence.New(a.store, a.registry, log)

	router := dispatch.NewRouter(log, m)
	message.New(conversations{convs, a.store}, a.registry, a.pool, log,
		message.WithFanoutTimeout(cfg.WebSocket.HandlerTimeout)).Register(router)
	typing.New(typingStore{convs, a.store}, a.registry).Register(router)

	a.gateway = gateway.New(cfg.WebSocket, cfg.RateLimit, gateway.Deps{
		Verifier: verifier,
		Registry: a.registry,
		Presence: pres,
		Router:   router,
		Metrics:  m,
		Logger:   log,
	})

	handler := httpapi.NewRouter(httpapi.Deps{
		Gateway:       a.gateway,
		Registry:      a.registry,
		Presence:      pres,
		Pusher:        friends.New(a.store, a.registry, log),
		Conversations: convs,
		Messages:      a.store,
		Invalidator:   invalidator,
		Verifier:      verifier,
		Gatherer:      promReg,
		InternalToken: cfg.Internal.Token,
		Logger:        log,
	})
	a.http = httpapi.NewServer(cfg.Server, handler)

	log.Info("engine assembled",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("membership_cache", a.redis != nil),
		zap.Strings("events", router.Events()),
		zap.Bool("internal_api", cfg.Internal.Token != ""))
	return a, nil
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpapi.Serve(a.http, log) })
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

// shutdown stops the listener, closes every session with 1001, drains the
// fan-out pool and disconnects the backends, in that order.
func (a *app) shutdown() error {
	timeout := a.cfg.Server.ShutdownTimeout
	a.log.Info("shutting down", zap.Duration("timeout", timeout))

	httpErr := httpapi.Shutdown(a.http, timeout, a.log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.gateway.Shutdown(ctx); err != nil {
		a.log.Warn("sessions did not drain", zap.Error(err))
	}
	if err := a.pool.Close(ctx); err != nil {
		a.log.Warn("fan-out pool did not drain", zap.Error(err))
	}
	a.closeBackends()

	a.log.Info("shutdown complete")
	return httpErr
}

func (a *app) closeBackends() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Warn("store close", zap.Error(err))
		}
	}
}
