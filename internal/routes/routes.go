package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/gymledger/internal/config"
	"github.com/example/gymledger/internal/handlers"
	"github.com/example/gymledger/internal/middleware"
	"github.com/example/gymledger/internal/models"
	"github.com/example/gymledger/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, settlement *services.SettlementService) {
	authHandler := handlers.NewAuthHandler(db, cfg)
	profileHandler := handlers.NewProfileHandler(db, settlement)
	paymentHandler := handlers.NewPaymentHandler(settlement, handlers.PaymentHandlerConfig{
		TransferFee:     cfg.TransferFee,
		DefaultCurrency: cfg.DefaultCurrency,
		PublicKey:       cfg.StripePublicKey,
		ProofMaxBytes:   cfg.ProofMaxBytes,
	})

	app.Static("/uploads", cfg.UploadDir)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)

	profile := api.Group("/profile", middleware.AuthMiddleware(cfg.JWTSecret))
	profile.Get("/", profileHandler.GetProfile)
	profile.Get("/payments", profileHandler.ListPayments)

	RegisterPayments(api, cfg.JWTSecret, paymentHandler)
}

// RegisterPayments mounts the settlement and ledger endpoints under router.
func RegisterPayments(router fiber.Router, jwtSecret string, h *handlers.PaymentHandler) {
	payments := router.Group("/payments", middleware.AuthMiddleware(jwtSecret))

	payments.Post("/card", h.SettleCard)
	payments.Post("/card/intent", h.CreateCardIntent)
	payments.Post("/card/verify", h.VerifyCard)
	payments.Post("/transfer", h.SettleTransfer)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleCoach)
	payments.Get("/", staff, h.ListPayments)
	payments.Get("/export", staff, h.ExportPayments)
	payments.Patch("/:id/status", staff, h.TransitionStatus)
}
