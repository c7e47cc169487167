package main

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"

	"tmsmtm/audit"
	"tmsmtm/config"
	controllers "tmsmtm/controllers/mtm"
	"tmsmtm/database"
	"tmsmtm/engine"
	applog "tmsmtm/logger"
	"tmsmtm/notify"
	gormrepository "tmsmtm/repository/gorm"
	mtmRoutes "tmsmtm/routers/mtmRoutes"
	"tmsmtm/utils"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	zl, err := applog.New(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	database.ConnectDb(cfg)
	db := database.Database.Db
	sqlDB, err := db.DB()
	if err != nil {
		zl.Fatal("failed to get database instance", zap.Error(err))
	}

	store := gormrepository.New(db)

	sinks := audit.Multi{audit.LogSink{Logger: zl.Named("audit")}}
	if cfg.AuditWebhookURL != "" {
		sinks = append(sinks, audit.NewWebhookSink(cfg.AuditWebhookURL, time.Duration(cfg.AuditWebhookTimeout)*time.Second, zl))
	}
	sinks = append(sinks, &notify.Notifier{
		Repo:   store,
		Mailer: notify.NewMailer(cfg.SendGridAPIKey, cfg.EmailSender, zl),
		Logger: zl.Named("notify"),
	})

	sequencer := &engine.Sequencer{Repo: store, Audit: sinks, Logger: zl}
	tracker := &engine.Tracker{Repo: store, Sequencer: sequencer, Audit: sinks, Logger: zl}
	handler := &controllers.Handler{
		Repo:        store,
		Enrollments: &engine.EnrollmentService{Repo: store, Sequencer: sequencer, Audit: sinks, Logger: zl},
		Tracker:     tracker,
		Journal:     &engine.Journal{Repo: store, Tracker: tracker, Audit: sinks, Logger: zl},
		Logger:      zl,
	}

	scheduler, err := utils.InitializeProgressScheduler(cfg.ProgressSweepCron, &utils.ProgressSweeper{
		Repo:    store,
		Tracker: tracker,
		Logger:  zl,
	})
	if err != nil {
		zl.Fatal("invalid PROGRESS_SWEEP_CRON", zap.Error(err))
	}
	if scheduler != nil {
		defer scheduler.Stop()
	}

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
		AllowHeaders: "Content-Type,Authorization",
	}))

	// Enable the built-in logger middleware to log all requests
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status} ${latency}\n",
	}))

	mtmRoutes.SetupMTMRoutes(app, handler, sqlDB)

	zl.Info("server starting", zap.String("port", cfg.Port), zap.String("db_driver", cfg.DBDriver))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}
