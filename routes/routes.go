package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"

	controller "leadflow/controllers"
	"leadflow/events"
	"leadflow/middleware"
	"leadflow/utils"
)

// Handlers bundles the controllers the router mounts.
type Handlers struct {
	Inbound   *controller.InboundController
	Auth      *controller.AuthController
	Leads     *controller.LeadController
	Tasks     *controller.TaskController
	Nurturing *controller.NurturingController
	Inventory *controller.InventoryController
	Dashboard *controller.DashboardController
	Events    *events.Hub

	JWTSecret      string
	WebhookSecret  string
	WebhookRate    int
	LimiterStorage fiber.Storage
}

func requestLogger() fiber.Handler {
	return logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})
}

func SetupWebhookRoutes(app *fiber.App, h Handlers) {
	hooks := app.Group("/webhooks", requestLogger(),
		middleware.WebhookRateLimiter(h.WebhookRate, h.LimiterStorage),
		middleware.WebhookSecret(h.WebhookSecret),
	)
	hooks.Post("/inbound", h.Inbound.HandleInbound)
}

func SetupAuthRoutes(app *fiber.App, h Handlers) {
	auth := app.Group("/auth", requestLogger())
	auth.Post("/token", h.Auth.IssueToken)
}

func SetupAPIRoutes(app *fiber.App, h Handlers) {
	api := app.Group("/api/v1", middleware.Protected(h.JWTSecret), requestLogger())

	leads := api.Group("/leads")
	leads.Get("/", h.Leads.GetLeads)
	leads.Get("/:id", h.Leads.GetLead)
	leads.Get("/:id/summary", h.Leads.GetSummary)
	leads.Post("/:id/qualify", h.Leads.QualifyLead)
	leads.Post("/:id/tags", h.Leads.AddTag)
	leads.Get("/:id/actions", h.Leads.GetActions)

	tasks := api.Group("/tasks")
	tasks.Get("/", h.Tasks.GetTasks)
	tasks.Patch("/:id/complete", h.Tasks.CompleteTask)

	nurturing := api.Group("/nurturing")
	nurturing.Post("/run", h.Nurturing.RunPass)
	nurturing.Get("/rules", h.Nurturing.GetRules)

	inventory := api.Group("/inventory")
	inventory.Post("/properties", h.Inventory.CreateProperty)

	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", h.Dashboard.GetDashboardStats)

	api.Get("/ws/events", controller.UpgradeEvents, websocket.New(controller.HandleEventsWS(h.Events)))
}

// SetupRoutes mounts every route group.
func SetupRoutes(app *fiber.App, h Handlers) {
	SetupWebhookRoutes(app, h)
	SetupAuthRoutes(app, h)
	SetupAPIRoutes(app, h)

	utils.Logger("routes").Info("routes initialized")
}
