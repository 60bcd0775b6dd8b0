package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/gymledger/internal/config"
	"github.com/example/gymledger/internal/database"
	"github.com/example/gymledger/internal/routes"
	"github.com/example/gymledger/internal/services"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL)

	var payers services.PayerDirectory = services.NewUserDirectory(db)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := services.ConnectRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Printf("Redis unavailable, payer cache disabled: %v", err)
		} else {
			defer client.Close()
			payers = services.NewCachedPayerDirectory(payers, client, cfg.PayerCacheTTL)
		}
	}

	notifiers := []services.Notifier{
		services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat),
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := services.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Printf("Kafka unavailable, settlement events disabled: %v", err)
		} else {
			publisher := services.NewEventPublisher(producer, cfg.KafkaTopic)
			defer publisher.Close()
			notifiers = append(notifiers, publisher)
		}
	}

	settlement := services.NewSettlementService(
		services.NewLedgerStore(db),
		services.NewStripeGateway(cfg.StripeBaseURL, cfg.StripeSecretKey, cfg.GatewayTimeout),
		services.NewTransferIntake(services.NewLocalArtifactStorage(cfg.UploadDir, cfg.UploadPublicURL), cfg.ProofMaxBytes),
		payers,
		notifiers...,
	)

	app := fiber.New(fiber.Config{
		AppName:   "Gym Billing Backend",
		BodyLimit: int(cfg.ProofMaxBytes) + 1024*1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	routes.Register(app, db, cfg, settlement)

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
