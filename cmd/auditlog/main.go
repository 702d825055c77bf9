// Command auditlog consumes booking events and appends them to the audit
// log file.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/iliyamo/amenity-booking/internal/config"
	"github.com/iliyamo/amenity-booking/internal/queue"
	"github.com/iliyamo/amenity-booking/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: .env not loaded: %v", err)
	}
	cfg, err := config.LoadAudit()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := utils.NewLogger(cfg.IsProduction())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &queue.AuditConsumer{
		URL:      cfg.RabbitURL,
		Exchange: cfg.EventsExchange,
		Queue:    cfg.AuditQueue,
		Path:     cfg.AuditLogPath,
		Log:      logger.Named("audit"),
	}
	logger.Info("audit consumer starting", zap.String("queue", cfg.AuditQueue), zap.String("path", cfg.AuditLogPath))
	if err := c.Run(ctx); err != nil {
		logger.Fatal("audit consumer stopped", zap.Error(err))
	}
	logger.Info("audit consumer stopped")
}
