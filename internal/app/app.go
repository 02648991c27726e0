package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/heating-shop/internal/domain/auth"
	"github.com/xenking/heating-shop/internal/domain/checkout"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/domain/invoice"
	"github.com/xenking/heating-shop/internal/domain/order"
	"github.com/xenking/heating-shop/internal/domain/payment"
	"github.com/xenking/heating-shop/internal/gateway"
	"github.com/xenking/heating-shop/internal/handler"
	"github.com/xenking/heating-shop/internal/idempotency"
	"github.com/xenking/heating-shop/internal/notify"
	"github.com/xenking/heating-shop/internal/storage/postgres"
	"github.com/xenking/heating-shop/pkg/health"
	"github.com/xenking/heating-shop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	invoiceCfg, err := cfg.Invoice.config()
	if err != nil {
		return errors.Wrap(err, "invoice config")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	invoiceRepo := postgres.NewInvoiceRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	opts := []order.Option{
		order.WithUnitOfWork(postgres.NewTransactor(pool)),
		order.WithAudit(auditRepo),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		store := idempotency.NewRedisStore(rdb, cfg.Redis.TTL)
		// Only keyed order retries need redis.
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", store), health.Optional())
		opts = append(opts, order.WithIdempotency(store))
		lg.Info("Idempotency store: redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		opts = append(opts, order.WithIdempotency(idempotency.NewMemoryStore(cfg.Redis.TTL)))
		lg.Info("Idempotency store: memory")
	}

	if cfg.AMQP.URL != "" {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return errors.Wrap(err, "dial amqp")
		}
		defer func() { _ = conn.Close() }()

		ch, err := conn.Channel()
		if err != nil {
			return errors.Wrap(err, "open amqp channel")
		}
		publisher, err := notify.NewRabbitPublisher(ch, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "create publisher")
		}
		healthSvc.AddReadinessCheck("amqp", time.Second, health.ConnCheck("amqp", conn), health.Optional())
		opts = append(opts, order.WithNotifier(publisher))
		lg.Info("Notifications: rabbitmq", zap.String("exchange", cfg.AMQP.Exchange))
	} else {
		opts = append(opts, order.WithNotifier(notify.LogNotifier{}))
		lg.Info("Notifications: log")
	}

	var gw payment.Gateway = gateway.Disabled{}
	if cfg.Gateway.enabled() {
		signer, err := gateway.New(cfg.Gateway.config())
		if err != nil {
			return errors.Wrap(err, "create card gateway")
		}
		gw = signer
	} else {
		lg.Warn("Card gateway not configured, card orders will stay pending")
	}

	// Domain services.
	couponValidator := coupon.NewRepoValidator(couponRepo)
	calculator := checkout.NewCalculator(catalogRepo, couponValidator, invoiceCfg.VATRate)
	issuer := invoice.NewIssuer(invoiceCfg, invoiceRepo, invoiceRepo, orderRepo,
		invoice.WithMeterProvider(m.MeterProvider()),
	)
	orderService := order.NewService(catalogRepo, calculator, orderRepo, couponRepo, issuer, opts...)
	handoff := payment.NewHandoff(gw, orderService, issuer, payment.BankDetails{
		Account: cfg.Bank.Account,
		Holder:  cfg.Bank.Holder,
	})

	h := handler.New(handler.Deps{
		Catalog:  catalogRepo,
		Coupons:  couponValidator,
		Checkout: calculator,
		Orders:   orderService,
		Invoices: issuer,
		Payments: handoff,
		Auth:     auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	})

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Strict: cfg.RateLimit.Strict,
				StrictRoutes: []string{
					"POST /api/coupons/validate",
					"POST /api/orders",
				},
				Find: routeFinder,
				Skip: httpmiddleware.SkipPaths("/livez", "/readyz"),
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("shop-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
