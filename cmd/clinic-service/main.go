package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	prestationevents "github.com/bjyoucef/inaya-project-sub001/internal/prestation/events"
	prestationhandler "github.com/bjyoucef/inaya-project-sub001/internal/prestation/handler"
	prestationrepo "github.com/bjyoucef/inaya-project-sub001/internal/prestation/repository"
	prestationsvc "github.com/bjyoucef/inaya-project-sub001/internal/prestation/service"
	"github.com/bjyoucef/inaya-project-sub001/internal/stock/consumers"
	stockevents "github.com/bjyoucef/inaya-project-sub001/internal/stock/events"
	stockhandler "github.com/bjyoucef/inaya-project-sub001/internal/stock/handler"
	stockrepo "github.com/bjyoucef/inaya-project-sub001/internal/stock/repository"
	stocksvc "github.com/bjyoucef/inaya-project-sub001/internal/stock/service"
	"github.com/bjyoucef/inaya-project-sub001/pkg/config"
	"github.com/bjyoucef/inaya-project-sub001/pkg/database"
	"github.com/bjyoucef/inaya-project-sub001/pkg/httputil"
	"github.com/bjyoucef/inaya-project-sub001/pkg/i18n"
	"github.com/bjyoucef/inaya-project-sub001/pkg/logger"
	"github.com/bjyoucef/inaya-project-sub001/pkg/messaging"
	"github.com/bjyoucef/inaya-project-sub001/pkg/permissions"
)

const receiptQueue = "clinic-service.purchasing.deliveries"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(config.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(config.ServiceName, cfg.Server.Environment)
	log.Info().Msg("starting Clinic Service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	// The broker is optional outside production: without it events are
	// dropped and purchasing receipts are not consumed.
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		if config.IsProductionLike(cfg.Server.Environment) {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		log.Warn().Err(err).Msg("RabbitMQ unavailable, running without events")
		rmq = nil
	} else {
		defer rmq.Close()
	}

	var (
		stockPublisher      *stockevents.StockEventPublisher
		prestationPublisher *prestationevents.PrestationEventPublisher
	)
	if rmq != nil {
		if err := rmq.DeclareDeadLetterQueue(config.ServiceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}
		if stockPublisher, err = stockevents.NewStockEventPublisher(rmq, config.ServiceName, log); err != nil {
			log.Fatal().Err(err).Msg("failed to create stock event publisher")
		}
		if prestationPublisher, err = prestationevents.NewPrestationEventPublisher(rmq, config.ServiceName, log); err != nil {
			log.Fatal().Err(err).Msg("failed to create prestation event publisher")
		}
	}

	// Stock
	lotRepo := stockrepo.NewLotRepository(db)
	movementRepo := stockrepo.NewMovementRepository(db)
	catalogRepo := stockrepo.NewCatalogRepository(db)

	ledger := stocksvc.NewLedger(db, lotRepo, movementRepo, stockPublisher, log)
	allocator, err := stocksvc.NewAllocator(db, lotRepo, movementRepo, ledger, cfg.Stock, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create lot allocator")
	}
	transfers := stocksvc.NewTransferService(db, allocator, ledger, stockPublisher, log)
	reconciler := stocksvc.NewReconciler(movementRepo, stockPublisher, log)

	// Prestations
	deliveryRepo := prestationrepo.NewDeliveryRepository(db)
	pricingRepo := prestationrepo.NewPricingRepository(db)
	pricing := prestationsvc.NewPricingResolver(pricingRepo, log)
	deliveries, err := prestationsvc.NewDeliveryService(db, deliveryRepo, pricingRepo, catalogRepo,
		pricing, allocator, prestationPublisher, cfg.Pricing, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create prestation service")
	}

	stockHandler := stockhandler.NewStockHandler(ledger, transfers, reconciler, log)
	prestationHandler := prestationhandler.NewPrestationHandler(deliveries, pricing, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if rmq != nil {
		receipts, err := consumers.NewReceiptConsumer(rmq, receiptQueue, ledger, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create receipt consumer")
		}
		if err := receipts.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start receipt consumer")
		}
	}

	if cfg.Stock.ReconcileEnabled {
		stocksvc.NewReconcileScheduler(reconciler, cfg.Stock.ReconcileInterval, log).Start(ctx)
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		broker := map[string]string{"status": "disabled"}
		if rmq != nil {
			broker = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  config.ServiceName,
			"database": db.Health(r.Context()),
			"rabbitmq": broker,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.Authenticate(cfg.JWT, log))

		r.With(httputil.RequireAccess(permissions.ResourceStock)).Mount("/stock", stockHandler.Routes())
		r.With(httputil.RequireAccess(permissions.ResourcePrestations)).Mount("/prestations", prestationHandler.Routes())
		r.With(httputil.RequireAccess(permissions.ResourcePricing)).Mount("/pricing", prestationHandler.PricingRoutes())
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stops the consumer and the reconcile scheduler
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
