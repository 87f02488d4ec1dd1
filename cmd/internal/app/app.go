// Package app wires the Ripple server runtime: config, logging, stores,
// the realtime hub, the notification queue, and HTTP routes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/notify"
	"ripple/cmd/internal/realtime"
	"ripple/cmd/internal/social"
	"ripple/cmd/internal/users"
)

// App is the Ripple server runtime. It owns the HTTP server wiring and the
// lifecycle of every backing resource.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	chatStore   chat.Store
	usersStore  users.Store
	socialStore social.Store
	cache       users.Cache

	enqueuer notify.Enqueuer
	worker   *notify.Worker

	chatAPI   *chat.Handler
	usersAPI  *users.Handler
	socialAPI *social.Handler
	ws        *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	if err := a.initStores(context.Background()); err != nil {
		return nil, err
	}
	if err := a.initCache(context.Background()); err != nil {
		a.closeResources()
		return nil, err
	}

	directory := users.NewDirectory(log, a.usersStore, a.cache)

	if err := a.initNotify(directory); err != nil {
		a.closeResources()
		return nil, err
	}
	producer := notify.NewProducer(log, a.enqueuer)

	hub := realtime.NewHub(log)
	publisher := realtime.NewMessagePublisher(log, hub)

	chatSvc := chat.NewService(log, a.chatStore, chatDirectory{dir: directory},
		chat.WithPublisher(publisher),
		chat.WithNotifier(producer),
	)

	a.chatAPI = chat.NewHandler(log, chatSvc)
	a.usersAPI = users.NewHandler(log, directory, producer)
	a.socialAPI = social.NewHandler(log, a.socialStore, directory)
	a.ws = realtime.NewWSGateway(log, hub, chatSvc, realtime.GatewayConfigFromEnv())

	return a, nil
}

// Run starts the HTTP server (and the notification worker, when enabled)
// and blocks until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.chatAPI, a.usersAPI, a.socialAPI, a.ws)

	var handler http.Handler = WithIdentity(mux)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"db_enabled", a.dbEnabled,
		"notify_worker", a.worker != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.worker != nil {
		a.worker.Shutdown()
	}
	a.closeResources()

	a.log.Info("server.stopped")
	return nil
}

// initStores decides between Postgres, embedded Bolt, and in-memory stores.
// Ownership model: app owns the pool lifecycle; Postgres-backed stores'
// Close methods are no-ops.
func (a *App) initStores(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return err
		}

		chatStore, err := chat.NewPostgresStore(pool, chat.WithSchema(a.cfg.DBSchema))
		if err != nil {
			pool.Close()
			return err
		}
		usersStore, err := users.NewPostgresStore(pool, users.WithUsersSchema(a.cfg.DBSchema))
		if err != nil {
			pool.Close()
			return err
		}
		socialStore, err := social.NewPostgresStore(pool, social.WithSocialSchema(a.cfg.DBSchema))
		if err != nil {
			pool.Close()
			return err
		}

		a.dbPool = pool
		a.dbEnabled = true
		a.chatStore = chatStore
		a.usersStore = usersStore
		a.socialStore = socialStore
		a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
		return nil
	}

	memUsers := users.NewInMemoryStore()
	if a.cfg.Env != "production" {
		// Seeded dev identities so the API is usable out of the box.
		memUsers.Seed(
			users.Profile{ID: "alice", Username: "alice", DisplayName: "Alice"},
			users.Profile{ID: "bob", Username: "bob", DisplayName: "Bob"},
		)
	}
	a.usersStore = memUsers
	a.socialStore = social.NewInMemoryStore()

	if a.cfg.BoltPath != "" {
		st, err := chat.OpenBoltStore(a.cfg.BoltPath)
		if err != nil {
			return err
		}
		a.chatStore = st
		a.log.Info("db.disabled.bolt_store", "path", a.cfg.BoltPath)
		return nil
	}

	a.chatStore = chat.NewInMemoryStore()
	a.log.Info("db.disabled.inmemory_store")
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		return nil
	}
	c, err := users.NewRedisCache(ctx, a.cfg.RedisURL)
	if err != nil {
		return err
	}
	a.cache = c
	a.log.Info("cache.enabled.redis")
	return nil
}

func (a *App) initNotify(directory *users.Directory) error {
	if a.cfg.RedisURL == "" {
		a.enqueuer = notify.NopEnqueuer{}
		a.log.Info("notify.disabled")
		return nil
	}

	enq, err := notify.NewAsynqEnqueuer(a.cfg.RedisURL)
	if err != nil {
		return err
	}
	a.enqueuer = enq

	if a.cfg.NotifyWorker {
		w, err := notify.NewWorker(a.log, a.cfg.RedisURL, notify.LogSender{Log: a.log}, directory)
		if err != nil {
			return err
		}
		a.worker = w
	}

	a.log.Info("notify.enabled", "worker", a.worker != nil)
	return nil
}

func (a *App) closeResources() {
	if a.enqueuer != nil {
		if err := a.enqueuer.Close(); err != nil {
			a.log.Warn("notify.close.fail", "err", err)
		}
	}
	if a.chatStore != nil {
		if err := a.chatStore.Close(); err != nil {
			a.log.Warn("chat.store.close.fail", "err", err)
		}
	}
	if a.socialStore != nil {
		_ = a.socialStore.Close()
	}
	if a.usersStore != nil {
		_ = a.usersStore.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// chatDirectory adapts the user directory to the narrow lookup seam the
// chat core consumes.
type chatDirectory struct {
	dir *users.Directory
}

func (d chatDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	return d.dir.Exists(ctx, userID)
}

func (d chatDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]chat.Profile, error) {
	got, err := d.dir.Profiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]chat.Profile, len(got))
	for id, p := range got {
		out[id] = chat.Profile{
			ID:          p.ID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			AvatarURL:   p.AvatarURL,
		}
	}
	return out, nil
}
