package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/auth"
	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/domain/ledger"
	"github.com/xenking/store-core/internal/domain/order"
	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
	"github.com/xenking/store-core/internal/httpapi"
	"github.com/xenking/store-core/internal/metrics"
	"github.com/xenking/store-core/internal/notify"
	"github.com/xenking/store-core/internal/storage/postgres"
	"github.com/xenking/store-core/internal/storage/rediscache"
	"github.com/xenking/store-core/pkg/health"
	"github.com/xenking/store-core/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the notification
// dispatcher, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := postgres.New(pool)

	probes := health.New(10 * time.Second)
	probes.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(db))
	probes.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	var (
		products      product.Repository = db.Products()
		settingsStore settings.Store     = db.Settings()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		products = rediscache.NewCatalog(products, rdb, cfg.Cache.ProductTTL)
		settingsStore = rediscache.NewSettings(settingsStore, rdb, cfg.Cache.SettingsTTL)
		probes.Add(health.Readiness, "redis", time.Second, health.RedisCheck(rdb))
		lg.Info("Catalog cache enabled", zap.String("redis", cfg.RedisAddr))
	}

	mtr, err := metrics.New(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	deliverer, err := newDeliverer(lg, cfg)
	if err != nil {
		return err
	}
	dispatcher := notify.NewDispatcher(deliverer, cfg.Notify.QueueSize, cfg.Notify.Timeout)

	ledgerSvc := ledger.New(db, db.Ledger(), db.Audit(), mtr)
	couponEngine := coupon.NewRepoEngine(db.Coupons())
	settingsSvc := settings.NewService(db, settingsStore, db.Audit())
	orderSvc := order.NewService(order.Deps{
		Tx:             db,
		Accounts:       db.Accounts(),
		Orders:         db.Orders(),
		Products:       products,
		Payments:       db.Payments(),
		Coupons:        couponEngine,
		Ledger:         ledgerSvc,
		Settings:       settingsSvc,
		Audit:          db.Audit(),
		Notifier:       dispatcher,
		Metrics:        mtr,
		TracerProvider: m.TracerProvider(),
	})

	api := httpapi.New(httpapi.Deps{
		Orders:   orderSvc,
		Ledger:   ledgerSvc,
		Accounts: account.NewService(db, db.Accounts(), db.Audit()),
		Coupons:  couponEngine,
		Settings: settingsSvc,
		Auth:     auth.NewAuthenticator(db.APIKeys(), []byte(cfg.APIKeyPepper)),
	})
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})

	r := chi.NewRouter()
	r.Get("/livez", probes.Livez)
	r.Get("/readyz", probes.Readyz)
	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.Middleware())
		r.Mount("/", api.Router(cfg.RequestTimeout))
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("store-core", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// The dispatcher outlives the server so events from draining requests
	// are still delivered.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(dispatchCtx) })
	g.Go(func() error { return probes.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		defer stopDispatch()

		probes.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})

	probes.SetReady(true)
	return g.Wait()
}

// newDeliverer sends notifications through the Telegram bot when a token is
// configured and only logs them otherwise.
func newDeliverer(lg *zap.Logger, cfg *Config) (notify.Deliverer, error) {
	if cfg.TelegramToken == "" {
		lg.Warn("Telegram token not set, notifications will only be logged")
		return notify.NewLog(lg), nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	lg.Info("Telegram notifications enabled", zap.String("bot", bot.Self.UserName))
	return notify.NewTelegram(bot), nil
}
