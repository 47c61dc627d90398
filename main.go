package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"checkin-backend/checkin"
	"checkin-backend/config"
	"checkin-backend/handlers"
	"checkin-backend/ledger"
	"checkin-backend/logger"
	"checkin-backend/middleware"
	"checkin-backend/scheduler"
	"checkin-backend/store/postgres"
	"checkin-backend/store/sqlite"
)

// Store is everything the service needs from its database.
type Store interface {
	checkin.EventStore
	checkin.PolicySource
	checkin.LocationSource
	checkin.Ledger
	handlers.CheckinReader
	handlers.BusinessStore
	handlers.BalanceReader
	Ping(ctx context.Context) error
	Close() error
}

func connectToDatabase(cfg *config.Config) (Store, error) {
	if cfg.DBDriver == "sqlite" {
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.WithFields(logrus.Fields{"path": cfg.SQLitePath}).Info("Opened sqlite database")
		return s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to the database!")
	return s, nil
}

type app struct {
	service *checkin.Service
	sweeps  *scheduler.ReconcileScheduler
	local   bool
}

// buildCheckin wires the verifier and issuer. Without an account service the
// store keeps balances and issuance is a single transaction.
func buildCheckin(cfg *config.Config, db Store) (*app, error) {
	checkinCfg := checkin.DefaultConfig()
	checkinCfg.UserPoints = cfg.UserPoints
	checkinCfg.BusinessPoints = cfg.BusinessPoints
	checkinCfg.DailyLimit = cfg.DailyLimit
	checkinCfg.DefaultRadiusMeters = cfg.DefaultRadiusMeters
	checkinCfg.Location = cfg.Timezone

	limiter := checkin.NewLimiter(db, cfg.DailyLimit, cfg.Timezone)
	verifier := checkin.NewVerifier(
		checkin.NewPolicyResolver(db, cfg.DefaultRadiusMeters),
		db,
		limiter,
		checkinCfg,
	)

	var led checkin.Ledger
	if cfg.AccountsServiceURL != "" {
		led = ledger.NewClient(cfg.AccountsServiceURL, cfg.AccountsServiceToken)
	}
	issuer, err := checkin.NewIssuer(db, led, limiter)
	if err != nil {
		return nil, err
	}

	a := &app{
		service: checkin.NewService(verifier, issuer),
		local:   led == nil,
	}
	if led != nil {
		reconciler := checkin.NewReconciler(checkin.ReconcilerConfig{
			Store:      db,
			Ledger:     led,
			StaleAfter: cfg.ReconcileStaleAfter,
			BatchSize:  cfg.ReconcileBatch,
		})
		a.sweeps = scheduler.NewReconcileScheduler(reconciler, cfg.ReconcileCron)
	}
	return a, nil
}

func setupRouter(cfg *config.Config, db Store, a *app) *gin.Engine {
	checkinHandler := handlers.NewCheckinHandler(a.service, db)
	businessHandler := handlers.NewBusinessHandler(db)
	accountHandler := handlers.NewAccountHandler(db)
	throttle := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Burst:             cfg.RateLimitBurst,
	})

	router := gin.New()
	router.Use(gin.Recovery(), gin.Logger())

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api/v1")
	{
		// Check-in routes
		checkins := api.Group("/checkins", throttle.Middleware())
		checkins.POST("", checkinHandler.CheckIn)
		checkins.POST("/verify", checkinHandler.VerifyCheckIn)
		checkins.GET("/:id", checkinHandler.GetCheckin)

		// Business routes
		api.GET("/businesses/:id/checkins", checkinHandler.GetBusinessCheckins)
		api.GET("/businesses/:id/checkins/stats", checkinHandler.GetBusinessStats)
		api.GET("/businesses/:id/qr", businessHandler.GetQRCode)
		api.PUT("/businesses/:id/location", businessHandler.UpdateLocation)
		api.PUT("/businesses/:id/policies", businessHandler.UpdatePolicy)

		// Balances live here only when no external account service is configured
		if a.local {
			api.GET("/accounts/:kind/:id/balance", accountHandler.GetBalance)
		}

		if a.sweeps != nil {
			api.POST("/reconcile", func(c *gin.Context) {
				res, err := a.sweeps.TriggerManual(c)
				if err != nil {
					logger.WithFields(logrus.Fields{"error": err}).Error("Manual reconciliation failed")
					c.JSON(http.StatusInternalServerError, gin.H{"error": "Reconciliation failed"})
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"scanned":  res.Scanned,
					"credited": res.Credited,
					"failed":   res.Failed,
				})
			})
		}
	}

	router.GET("/health", func(c *gin.Context) {
		if err := db.Ping(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "Database connection failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

func main() {
	cfg, envFile, err := config.Load()
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput); err != nil {
		logger.Fatalf("Unable to initialise logging: %v", err)
	}
	if !envFile {
		logger.Warn(".env file not found, using environment variables")
	}

	db, err := connectToDatabase(cfg)
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer db.Close()

	a, err := buildCheckin(cfg, db)
	if err != nil {
		logger.Fatalf("Unable to set up check-in service: %v", err)
	}

	if a.sweeps != nil {
		if err := a.sweeps.Start(); err != nil {
			logger.Fatalf("Unable to start reconciliation scheduler: %v", err)
		}
		defer a.sweeps.Stop()
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, db, a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "issuance": a.service.Issuer.Mode()}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}
