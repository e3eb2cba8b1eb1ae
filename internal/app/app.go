package app

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"studioflow/production-portal/production-portal-backend/internal/auth"
	"studioflow/production-portal/production-portal-backend/internal/config"
	"studioflow/production-portal/production-portal-backend/internal/escalation"
	"studioflow/production-portal/production-portal-backend/internal/notifications"
	"studioflow/production-portal/production-portal-backend/internal/notifications/websocket"
	"studioflow/production-portal/production-portal-backend/internal/payments"
	"studioflow/production-portal/production-portal-backend/internal/projects"
	"studioflow/production-portal/production-portal-backend/internal/retention"
	"studioflow/production-portal/production-portal-backend/internal/settings"
	"studioflow/production-portal/production-portal-backend/pkg/cloud"
	"studioflow/production-portal/production-portal-backend/pkg/database"
	"studioflow/production-portal/production-portal-backend/pkg/storage"
)

// App holds the wired services shared by the binaries.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *gorm.DB

	Projects      projects.Repository
	Payments      payments.Repository
	Notifications notifications.Store
	Tx            database.TxManager

	Sockets    *websocket.Manager
	Dispatcher *notifications.Dispatcher

	ProjectService *projects.Service
	PaymentService *payments.Service
	Inbox          *notifications.Inbox
	Settings       *settings.Service

	Scheduler *escalation.Scheduler
	Purger    *retention.Purger
}

// New opens the store selected by cfg and wires every service on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	var awsCfg aws.Config
	needsAWS := cfg.Storage.Driver == "s3" || cfg.Notifications.EnableEmail || cfg.Notifications.EnablePush
	if needsAWS {
		var err error
		if awsCfg, err = cloud.LoadAWSConfig(ctx, cfg.AWS); err != nil {
			return nil, err
		}
	}

	var uploader storage.Uploader
	if cfg.Storage.Driver == "s3" {
		uploader = storage.NewS3Uploader(awsCfg, cfg.AWS.Endpoint, cfg.Storage.S3Config)
	} else {
		uploader = storage.NewMemoryUploader(cfg.Storage.PublicBaseURL)
	}

	a.Sockets = websocket.NewManager(logger, cfg.Server.AllowedOrigins)
	channels := []notifications.Channel{
		notifications.NewInAppChannel(a.Notifications),
		notifications.NewWebSocketChannel(a.Sockets),
	}
	if cfg.Notifications.EnableEmail {
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})
		channels = append(channels, notifications.NewEmailChannel(client, cfg.Notifications.EmailFrom))
	}
	if cfg.Notifications.EnablePush {
		client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
			if cfg.AWS.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
			}
		})
		channels = append(channels, notifications.NewPushChannel(client))
	}
	a.Dispatcher = notifications.NewDispatcher(a.Notifications, channels, notifications.DispatcherConfig{
		QueueSize: cfg.Notifications.QueueSize,
		Workers:   cfg.Notifications.Workers,
	}, logger.Named("notifications"))

	ledger := payments.NewLedger(a.Payments, a.Projects, logger.Named("ledger"))
	a.ProjectService = projects.NewService(a.Projects, a.Tx, ledger, a.Dispatcher, uploader, logger.Named("projects"),
		projects.ServiceConfig{
			HideAfter:   cfg.Retention.HideAfter.Duration,
			DeleteAfter: cfg.Retention.DeleteAfter.Duration,
		})
	a.PaymentService = payments.NewService(a.Payments, a.Projects, a.Tx, a.Dispatcher, logger.Named("payments"), nil)
	a.Inbox = notifications.NewInbox(a.Notifications)
	a.Settings = settings.NewService(a.Notifications)

	sweeper := escalation.NewSweeper(a.Projects, a.Dispatcher, logger.Named("escalation"))
	a.Scheduler = escalation.NewScheduler(sweeper, cfg.Escalation.Interval.Duration, logger.Named("escalation"))
	a.Purger = retention.NewPurger(a.Projects, a.Payments, cfg.Retention.PurgeSchedule, logger.Named("retention"))

	return a, nil
}

func (a *App) openStore() error {
	cfg := a.Config.Database
	if cfg.Driver == "memory" {
		a.Logger.Warn("Using the in-memory store; data is lost on restart")
		a.Projects = projects.NewMemoryRepository()
		a.Payments = payments.NewMemoryRepository()
		a.Notifications = notifications.NewMemoryStore()
		a.Tx = database.NoopTxManager{}
		return nil
	}

	db, err := database.Open(database.Config{
		DSN:            cfg.GetDatabaseURL(),
		MaxConnections: cfg.MaxConnections,
		MaxIdleConns:   cfg.MaxIdleConns,
		MaxLifetime:    cfg.MaxLifetime.Duration,
		LogQueries:     cfg.LogQueries,
	})
	if err != nil {
		return err
	}
	if cfg.AutoMigrate {
		for _, migrate := range []func(*gorm.DB) error{projects.Migrate, payments.Migrate, notifications.Migrate} {
			if err := migrate(db); err != nil {
				return err
			}
		}
	}

	a.DB = db
	a.Projects = projects.NewRepository(db)
	a.Payments = payments.NewRepository(db)
	a.Notifications = notifications.NewStore(db)
	a.Tx = database.NewGormTxManager(db)
	return nil
}

// StartBackground starts the dispatcher, and the sweeps when enabled.
func (a *App) StartBackground(ctx context.Context, withSweeps bool) error {
	a.Dispatcher.Start(ctx)
	if !withSweeps {
		return nil
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		return err
	}
	if err := a.Purger.Start(ctx); err != nil {
		return err
	}
	return nil
}

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	if !a.Config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(a.Logger))

	// CORS Middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if a.DB != nil {
			if sqlDB, err := a.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status = "degraded"
			}
		}
		c.JSON(200, gin.H{
			"status":      status,
			"timestamp":   time.Now().UTC(),
			"connections": a.Sockets.ConnectionCount(),
		})
	})

	verifier := auth.NewTokenVerifier(a.Config.Auth.JWTSecret, a.Config.Auth.Issuer)
	api := router.Group("/api/v1", auth.Middleware(verifier, a.Logger))
	{
		auth.RegisterRoutes(api, auth.NewHandler())
		projects.NewHandler(a.ProjectService, a.Logger).WithMaxUpload(a.Config.Storage.MaxUploadBytes).RegisterRoutes(api)
		payments.NewHandler(a.PaymentService, a.Logger).RegisterRoutes(api)
		notifications.NewHandler(a.Inbox, a.Sockets, a.Logger).RegisterRoutes(api)
		settings.NewHandler(a.Settings, a.Logger).RegisterRoutes(api)
	}
	return router
}

// Close stops background work and releases the store.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Purger.Stop()
	a.Dispatcher.Stop()
	a.Sockets.Close()
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Logger.Warn("Failed to close database", zap.Error(err))
			}
		}
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
