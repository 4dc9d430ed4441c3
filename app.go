package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadflow/config"
	controller "leadflow/controllers"
	"leadflow/dispatch"
	"leadflow/events"
	"leadflow/extraction"
	"leadflow/lock"
	"leadflow/middleware"
	"leadflow/models"
	"leadflow/nurturing"
	"leadflow/qualification"
	"leadflow/routes"
	"leadflow/store"
	"leadflow/worker"
)

// components is the wired service graph shared by every command.
type components struct {
	cfg       config.Config
	loc       *time.Location
	store     store.Store
	redis     *redis.Client
	locker    lock.Locker
	hub       *events.Hub
	router    *dispatch.Router
	orch      *qualification.Orchestrator
	ingestor  *qualification.Ingestor
	scheduler *nurturing.Scheduler
	notifier  *nurturing.InventoryNotifier
	logger    logrus.FieldLogger
}

func buildComponents(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (*components, error) {
	c := &components{cfg: cfg, logger: logger}

	loc, err := time.LoadLocation(cfg.Nurturing.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	c.loc = loc

	if cfg.UseMemoryStore {
		logger.Warn("using in-memory store, data will not survive a restart")
		c.store = store.NewMemoryStore()
	} else {
		if err := config.ConnectDB(); err != nil {
			return nil, err
		}
		c.store = store.NewGormStore(config.DB)
	}

	if cfg.Redis.Enabled {
		c.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		c.locker = lock.NewRedisLocker(c.redis, cfg.Nurturing.PassTimeout)
		logger.Info("✅ Connected to Redis")
	} else {
		c.locker = lock.NewLocalLocker()
	}

	c.hub = events.NewHub(64)

	ex, err := extraction.NewOllamaExtractor(cfg.LLM.ServerURL, cfg.LLM.Model, cfg.LLM.Timeout, nil)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	c.orch = qualification.NewOrchestrator(c.store, ex, c.locker, qualification.Config{
		TaskCooldown: cfg.TaskCooldown,
		RetryWait:    time.Second,
		Publisher:    c.hub,
	})
	c.ingestor = qualification.NewIngestor(c.store, c.locker, c.orch, nil)

	c.router = buildRouter(cfg, logger)

	rules, err := nurturing.LoadRules(cfg.Nurturing.RulesFile)
	if err != nil {
		return nil, err
	}
	ncfg := nurturing.Config{
		Rules:       rules,
		Workers:     cfg.Nurturing.Workers,
		SendTimeout: cfg.Nurturing.SendTimeout,
		Renderer:    nurturing.NewRenderer(cfg.AgentName, cfg.CompanyName),
		Publisher:   c.hub,
	}
	c.scheduler, err = nurturing.NewScheduler(c.store, c.router, c.locker, ncfg)
	if err != nil {
		return nil, err
	}
	c.notifier = nurturing.NewInventoryNotifier(c.store, c.router, c.locker, ncfg)
	return c, nil
}

// buildRouter registers a real gateway per configured channel and a dry-run
// sender for the rest.
func buildRouter(cfg config.Config, logger logrus.FieldLogger) *dispatch.Router {
	router := dispatch.NewRouter(nil)

	if cfg.SMTP.Host != "" {
		router.Register(models.ChannelEmail, dispatch.NewEmailSender(dispatch.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromEmail: cfg.SMTP.FromEmail,
			FromName:  cfg.SMTP.FromName,
		}))
	} else {
		logger.Warn("SMTP not configured, email deliveries are logged only")
		router.Register(models.ChannelEmail, dispatch.LogSender{Channel: models.ChannelEmail})
	}

	if cfg.WhatsApp.AccountSID != "" {
		router.Register(models.ChannelWhatsApp, dispatch.NewWhatsAppSender(dispatch.WhatsAppConfig{
			AccountSID: cfg.WhatsApp.AccountSID,
			AuthToken:  cfg.WhatsApp.AuthToken,
			From:       cfg.WhatsApp.From,
			Timeout:    cfg.Nurturing.SendTimeout,
		}, nil))
	} else {
		logger.Warn("WhatsApp gateway not configured, deliveries are logged only")
		router.Register(models.ChannelWhatsApp, dispatch.LogSender{Channel: models.ChannelWhatsApp})
	}
	return router
}

func (c *components) handlers() routes.Handlers {
	h := routes.Handlers{
		Inbound:   controller.NewInboundController(c.ingestor, nil),
		Auth:      controller.NewAuthController(c.cfg.AdminKeyHash, c.cfg.JWTSecret, c.cfg.JWTTTL),
		Leads:     controller.NewLeadController(c.store, c.orch, nil),
		Tasks:     controller.NewTaskController(c.store, c.hub),
		Nurturing: controller.NewNurturingController(c.scheduler),
		Inventory: controller.NewInventoryController(c.store, c.notifier, nil),
		Dashboard: controller.NewDashboardController(c.store, c.loc),
		Events:    c.hub,

		JWTSecret:     c.cfg.JWTSecret,
		WebhookSecret: c.cfg.WebhookSecret,
		WebhookRate:   c.cfg.WebhookRate,
	}
	if c.redis != nil {
		h.LimiterStorage = middleware.NewRedisStorage(c.redis)
	}
	return h
}

func (c *components) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "leadflow",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})

	app.Use(middleware.CORS(c.cfg.AllowedOrigins))

	app.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"status":  "running",
			"version": version,
		})
	})

	routes.SetupRoutes(app, c.handlers())
	return app
}

// startWorkers launches the nurturing schedule, the daily report and, when a
// mailbox is configured, the email inbox poller.
func (c *components) startWorkers(ctx context.Context) error {
	schedule, err := worker.ParseSchedule(c.cfg.Nurturing.Times)
	if err != nil {
		return err
	}
	nw := worker.NewNurturingWorker(c.scheduler, schedule, c.loc, c.cfg.Nurturing.PassTimeout, nil)
	go nw.Start(ctx)

	reportAt, err := worker.ParseSchedule(c.cfg.ReportTime)
	if err != nil {
		return fmt.Errorf("invalid DAILY_REPORT_TIME: %w", err)
	}
	rw := worker.NewReportWorker(c.store, reportAt[0], c.loc, nil)
	go rw.Start(ctx)

	if c.cfg.IMAP.Host == "" {
		c.logger.Info("IMAP not configured, email inbox polling disabled")
		return nil
	}
	mailbox := worker.NewIMAPMailbox(worker.IMAPConfig{
		Host:       c.cfg.IMAP.Host,
		Port:       c.cfg.IMAP.Port,
		Encryption: c.cfg.IMAP.Encryption,
		Username:   c.cfg.IMAP.Username,
		Password:   c.cfg.IMAP.Password,
		Mailbox:    c.cfg.IMAP.Mailbox,
	})
	iw := worker.NewInboxWorker(mailbox, c.ingestor, c.cfg.IMAP.PollInterval, nil)
	go iw.Start(ctx)
	return nil
}

func (c *components) close() {
	if c.redis != nil {
		c.redis.Close()
	}
	if config.DB != nil {
		if sqlDB, err := config.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
